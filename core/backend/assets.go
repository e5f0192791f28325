package backend

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/appseed/core/backend/kss"
	"github.com/relabs-tech/appseed/core/logger"
)

func (b *Backend) handleAssets(router *mux.Router) {
	logger.Default().Debugln("assets")
	logger.Default().Debugln("  handle route: /apps/{appId}/assets GET,POST")
	router.HandleFunc("/apps/{appId}/assets", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.listAssets(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/apps/{appId}/assets", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.createAsset(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)

	logger.Default().Debugln("  handle route: /apps/{appId}/assets/{assetId} GET")
	router.HandleFunc("/apps/{appId}/assets/{assetId}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.getAsset(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)
}

// listAssets returns the metadata of the visible assets of an app. Demo apps show their
// ephemeral assets, other apps everything else.
func (b *Backend) listAssets(w http.ResponseWriter, r *http.Request) {
	a, ctx, err := b.appFromRequest(r)
	if err != nil {
		writeError(w, r, "4901", err)
		return
	}
	rows, err := b.db.QueryContext(ctx, `SELECT `+assetColumns+` FROM `+b.db.Table("asset")+
		` WHERE app_id = $1 AND ephemeral = $2 ORDER BY created_at, asset_id;`, a.ID, a.DemoMode)
	if err != nil {
		writeError(w, r, "4902", err)
		return
	}
	assets, err := scanAssets(rows)
	if err != nil {
		writeError(w, r, "4902", err)
		return
	}
	response := make([]map[string]interface{}, 0, len(assets))
	for _, as := range assets {
		response = append(response, as.output())
	}
	writeJSON(w, http.StatusOK, response)
}

// getAsset returns the bytes of an asset
func (b *Backend) getAsset(w http.ResponseWriter, r *http.Request) {
	a, ctx, err := b.appFromRequest(r)
	if err != nil {
		writeError(w, r, "4903", err)
		return
	}
	assetID, err := uuid.Parse(mux.Vars(r)["assetId"])
	if err != nil {
		writeError(w, r, "4904", errNotFound("Asset not found"))
		return
	}
	as, err := scanAsset(b.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM `+b.db.Table("asset")+
		` WHERE app_id = $1 AND asset_id = $2;`, a.ID, assetID))
	if err == sql.ErrNoRows {
		writeError(w, r, "4904", errNotFound("Asset not found"))
		return
	}
	if err != nil {
		writeError(w, r, "4905", err)
		return
	}
	data, err := b.kss.Get(ctx, b.bucket(a.ID), assetID.String())
	if err == kss.ErrNotFound {
		logger.FromContext(ctx).Errorf("Error 4906: blob of asset %s is missing", assetID)
		writeError(w, r, "4906", errNotFound("Asset not found"))
		return
	}
	if err != nil {
		writeError(w, r, "4907", err)
		return
	}
	w.Header().Set("Content-Type", as.Mime)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if as.Filename != nil {
		w.Header().Set("Content-Disposition", `inline; filename="`+*as.Filename+`"`)
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// createAsset stores a standalone asset from the multipart field "file". It can be
// referenced by resources through its id afterwards.
func (b *Backend) createAsset(w http.ResponseWriter, r *http.Request) {
	a, ctx, err := b.appFromRequest(r)
	if err != nil {
		writeError(w, r, "4908", err)
		return
	}
	seed := r.URL.Query().Get("seed") == "true"
	if seed {
		if err = b.requireAdmin(r); err != nil {
			writeError(w, r, "4909", err)
			return
		}
	}
	if err = r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, r, "4910", errBadRequest("invalid multipart form: %s", err.Error()))
		return
	}
	files := r.MultipartForm.File["file"]
	if len(files) != 1 {
		writeError(w, r, "4910", errBadRequest("expected exactly one file"))
		return
	}
	data, err := readPart(files[0])
	if err != nil {
		writeError(w, r, "4910", err)
		return
	}
	mimeType := files[0].Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	now := b.Now()
	as := &asset{
		ID:        uuid.New(),
		Mime:      mimeType,
		Size:      len(data),
		Seed:      seed,
		Ephemeral: a.DemoMode && !seed,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if files[0].Filename != "" {
		filename := files[0].Filename
		as.Filename = &filename
	}
	if name := r.MultipartForm.Value["name"]; len(name) > 0 {
		as.Name = &name[0]
	}

	bw := &blobWriter{b: b, appID: a.ID}
	if err = bw.put(ctx, as.ID, upload{Filename: files[0].Filename, Mime: mimeType, Data: data}); err != nil {
		writeError(w, r, "4911", err)
		return
	}
	if err = b.insertAsset(ctx, b.db, a.ID, as); err != nil {
		bw.rollback(ctx)
		writeError(w, r, "4912", err)
		return
	}
	writeJSON(w, http.StatusCreated, as.output())
}
