// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/lib/pq"

	"github.com/relabs-tech/appseed/core"
	"github.com/relabs-tech/appseed/core/logger"
	"github.com/relabs-tech/appseed/core/schema"
)

func (b *Backend) handleResources(router *mux.Router) {
	nillog := logger.Default()
	nillog.Debugln("resources")
	nillog.Debugln("  handle route: /apps/{appId}/resources DELETE")
	nillog.Debugln("  handle route: /apps/{appId}/resources/{type} GET,POST,PUT")
	nillog.Debugln("  handle route: /apps/{appId}/resources/{type}/{id} GET,PUT,PATCH,DELETE")
	nillog.Debugln("  handle route: /apps/{appId}/resources/{type}/{id}/history GET")

	router.HandleFunc("/apps/{appId}/resources", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.deleteAllResources(w, r)
	}).Methods(http.MethodOptions, http.MethodDelete)

	router.HandleFunc("/apps/{appId}/resources/{type}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.listResourcesHandler(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/apps/{appId}/resources/{type}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.createResources(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)

	router.HandleFunc("/apps/{appId}/resources/{type}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.bulkUpdateResources(w, r)
	}).Methods(http.MethodOptions, http.MethodPut)

	router.HandleFunc("/apps/{appId}/resources/{type}/{id}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.getResource(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/apps/{appId}/resources/{type}/{id}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.updateSingleResource(w, r, false)
	}).Methods(http.MethodOptions, http.MethodPut)

	router.HandleFunc("/apps/{appId}/resources/{type}/{id}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.updateSingleResource(w, r, true)
	}).Methods(http.MethodOptions, http.MethodPatch)

	router.HandleFunc("/apps/{appId}/resources/{type}/{id}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.deleteResourceHandler(w, r)
	}).Methods(http.MethodOptions, http.MethodDelete)

	router.HandleFunc("/apps/{appId}/resources/{type}/{id}/history", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.getHistory(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)
}

func typeFromRequest(r *http.Request) string {
	return mux.Vars(r)["type"]
}

func resourceIDFromRequest(r *http.Request) (int, error) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil || id <= 0 {
		return 0, errResourceNotFound
	}
	return id, nil
}

// idOf returns the resource id of an element of a bulk update
func idOf(value interface{}) (int, bool) {
	switch v := value.(type) {
	case float64:
		if v > 0 && v == math.Trunc(v) && v <= math.MaxInt32 {
			return int(v), true
		}
	case string:
		if id, err := strconv.Atoi(v); err == nil && id > 0 {
			return id, true
		}
	}
	return 0, false
}

// cloneDoc returns a deep copy of a JSON document
func cloneDoc(doc map[string]interface{}) map[string]interface{} {
	data, err := json.Marshal(doc)
	if err != nil {
		panic(fmt.Errorf("cannot copy document: %w", err))
	}
	var res map[string]interface{}
	if err = json.Unmarshal(data, &res); err != nil {
		panic(fmt.Errorf("cannot copy document: %w", err))
	}
	if res == nil {
		res = map[string]interface{}{}
	}
	return res
}

// applyDocument takes data, $expires and $clonable of a validated document into res
func applyDocument(res *resource, doc map[string]interface{}, now time.Time) error {
	data := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		switch k {
		case "id", "$expires", "$clonable":
		default:
			data[k] = v
		}
	}
	res.Data = data
	if value, ok := doc["$expires"]; ok {
		t, err := schema.ResolveExpires(value, now)
		if err != nil {
			return errBadRequest("%s", err.Error())
		}
		t = t.UTC().Truncate(time.Millisecond)
		res.ExpiresAt = &t
	} else {
		res.ExpiresAt = nil
	}
	if clonable, ok := doc["$clonable"].(bool); ok {
		res.Clonable = clonable
	}
	return nil
}

// validateDocs validates docs against the effective schema and checks given $expires values
func validateDocs(rd *ResourceDefinition, docs []map[string]interface{}, list bool, now time.Time) schema.ValidationErrors {
	var errs schema.ValidationErrors
	if list {
		errs = rd.schema.ValidateList(docs)
	} else {
		errs = rd.schema.Validate(docs[0])
	}
	for i, doc := range docs {
		path := []interface{}{"$expires"}
		if list {
			path = []interface{}{i, "$expires"}
		}
		if e := schema.CheckExpires(doc["$expires"], now, path); e != nil {
			errs = append(errs, *e)
		}
	}
	return errs
}

func writeResources(w http.ResponseWriter, status int, list bool, resources []*resource) {
	if !list {
		writeJSON(w, status, resources[0].output())
		return
	}
	response := make([]interface{}, 0, len(resources))
	for _, res := range resources {
		response = append(response, res.output())
	}
	writeJSON(w, status, response)
}

func (b *Backend) getResource(w http.ResponseWriter, r *http.Request) {
	a, _, ctx, err := b.resourceFromRequest(r, core.OperationRead)
	if err != nil {
		writeError(w, r, "4601", err)
		return
	}
	id, err := resourceIDFromRequest(r)
	if err != nil {
		writeError(w, r, "4602", err)
		return
	}
	res, err := b.selectResource(ctx, b.db, a, typeFromRequest(r), id, false)
	if err != nil {
		writeError(w, r, "4603", err)
		return
	}
	writeJSON(w, http.StatusOK, res.output())
}

func (b *Backend) listResourcesHandler(w http.ResponseWriter, r *http.Request) {
	a, _, ctx, err := b.resourceFromRequest(r, core.OperationList)
	if err != nil {
		writeError(w, r, "4604", err)
		return
	}
	resources, err := b.listResources(ctx, b.db, a, typeFromRequest(r))
	if err != nil {
		writeError(w, r, "4605", err)
		return
	}
	writeResources(w, http.StatusOK, true, resources)
}

func (b *Backend) createResources(w http.ResponseWriter, r *http.Request) {
	a, rd, ctx, err := b.resourceFromRequest(r, core.OperationCreate)
	if err != nil {
		writeError(w, r, "4606", err)
		return
	}
	seed := r.URL.Query().Get("seed") == "true"
	if seed {
		if err = b.requireAdmin(r); err != nil {
			writeError(w, r, "4607", err)
			return
		}
	}
	p, err := parsePayload(r, rd.schema)
	if err != nil {
		writeError(w, r, "4608", err)
		return
	}
	for _, doc := range p.Docs {
		delete(doc, "id")
	}
	now := b.Now()
	if errs := validateDocs(rd, p.Docs, p.IsList, now); len(errs) > 0 {
		writeError(w, r, "4609", errValidation(errs))
		return
	}
	if rd.Expires != "" {
		for _, doc := range p.Docs {
			if _, ok := doc["$expires"]; !ok {
				doc["$expires"] = rd.Expires
			}
		}
	}

	created, err := b.createResourcesTx(ctx, a, rd, typeFromRequest(r), p, seed, now)
	if err != nil {
		writeError(w, r, "4610", err)
		return
	}
	logger.FromContext(ctx).Infof("created %d %s resources", len(created), typeFromRequest(r))
	writeResources(w, http.StatusCreated, p.IsList, created)
}

// blobWriter writes the bytes of new assets and remembers them, so they can be
// removed again when the transaction fails
type blobWriter struct {
	b       *Backend
	appID   int
	written []uuid.UUID
}

func (bw *blobWriter) put(ctx context.Context, id uuid.UUID, u upload) error {
	if err := bw.b.kss.Put(ctx, bw.b.bucket(bw.appID), id.String(), u.Data, u.Mime); err != nil {
		return fmt.Errorf("cannot store asset %s: %w", id, err)
	}
	bw.written = append(bw.written, id)
	return nil
}

func (bw *blobWriter) copy(ctx context.Context, src, dst uuid.UUID) error {
	if err := bw.b.kss.Copy(ctx, bw.b.bucket(bw.appID), src.String(), dst.String()); err != nil {
		return fmt.Errorf("cannot copy asset %s: %w", src, err)
	}
	bw.written = append(bw.written, dst)
	return nil
}

func (bw *blobWriter) rollback(ctx context.Context) {
	bw.b.deleteBlobs(ctx, bw.appID, bw.written)
}

// storeNewAssets creates the uploaded assets of a plan, linked to res
func (b *Backend) storeNewAssets(ctx context.Context, q queryer, bw *blobWriter, appID int, res *resource, plan assetPlan, uploads []upload, now time.Time) error {
	for _, c := range plan.Created {
		u := uploads[c.Upload]
		if err := bw.put(ctx, c.ID, u); err != nil {
			return err
		}
		as := &asset{
			ID:           c.ID,
			ResourceType: &res.Type,
			ResourceID:   &res.ID,
			Mime:         u.Mime,
			Size:         len(u.Data),
			Clonable:     res.Clonable,
			Seed:         res.Seed,
			Ephemeral:    res.Ephemeral,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if u.Filename != "" {
			filename := u.Filename
			as.Filename = &filename
		}
		if err := b.insertAsset(ctx, q, appID, as); err != nil {
			return err
		}
	}
	return b.linkAssets(ctx, q, appID, res.Type, res.ID, plan.Referenced)
}

func (b *Backend) createResourcesTx(ctx context.Context, a *app, rd *ResourceDefinition, typ string, p *payload, seed bool, now time.Time) ([]*resource, error) {
	bw := &blobWriter{b: b, appID: a.ID}
	pointers := rd.schema.BinaryPointers()
	author := memberFromContext(ctx)
	var created []*resource

	err := b.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		known, err := b.selectAssets(ctx, tx, a.ID, referencedAssetIDs(p.Docs, pointers))
		if err != nil {
			return err
		}
		owners := make([]assetOwner, len(p.Docs))
		for i := range owners {
			owners[i] = assetOwner{Type: typ, Seed: seed, Ephemeral: a.DemoMode && !seed}
		}
		plans, errs := resolveAssets(p.Docs, p.IsList, len(p.Uploads), pointers, known, owners)
		if len(errs) > 0 {
			return errValidation(errs)
		}

		for i, doc := range p.Docs {
			res := &resource{
				Type:      typ,
				Seed:      seed,
				Ephemeral: a.DemoMode && !seed,
				AuthorID:  author,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err = applyDocument(res, doc, now); err != nil {
				return err
			}
			if a.DemoMode && seed {
				if err = b.pointToSeeds(ctx, tx, a.ID, rd, res.Data); err != nil {
					return err
				}
			}
			if res.ID, err = b.nextResourceID(ctx, tx, a.ID, typ); err != nil {
				return err
			}
			if err = b.insertResource(ctx, tx, a.ID, res); err != nil {
				return err
			}
			if err = b.storeNewAssets(ctx, tx, bw, a.ID, res, plans[i], p.Uploads, now); err != nil {
				return err
			}

			live := res
			if a.DemoMode && seed {
				if live, err = b.createEphemeralCopy(ctx, tx, bw, a.ID, rd, res, plans[i], now); err != nil {
					return err
				}
			}
			if err = b.queueNotification(ctx, tx, a.ID, typ, core.OperationCreate, live); err != nil {
				return err
			}
			created = append(created, live)
		}
		return nil
	})
	if err != nil {
		bw.rollback(ctx)
		return nil, err
	}
	b.triggerOutbox()
	return created, nil
}

// createEphemeralCopy creates the live copy of a new seed resource of a demo app. The
// assets of the seed are duplicated for the copy.
func (b *Backend) createEphemeralCopy(ctx context.Context, tx *sql.Tx, bw *blobWriter, appID int, rd *ResourceDefinition, seed *resource, plan assetPlan, now time.Time) (*resource, error) {
	seedID := seed.ID
	live := &resource{
		Type:           seed.Type,
		Data:           cloneDoc(seed.Data),
		Ephemeral:      true,
		Clonable:       seed.Clonable,
		ExpiresAt:      seed.ExpiresAt,
		AuthorID:       seed.AuthorID,
		SeedResourceID: &seedID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	var err error
	if live.ID, err = b.nextResourceID(ctx, tx, appID, seed.Type); err != nil {
		return nil, err
	}
	if err = b.pointToLiveCopies(ctx, tx, appID, rd, live.Data); err != nil {
		return nil, err
	}

	copies := map[string]string{}
	for _, src := range plan.ids() {
		id := uuid.New()
		if err = bw.copy(ctx, src, id); err != nil {
			return nil, err
		}
		copies[src.String()] = id.String()
	}
	schema.VisitBinary(live.Data, rd.schema.BinaryPointers(), func(path []interface{}, value interface{}) interface{} {
		if s, ok := value.(string); ok {
			if replacement, ok := copies[s]; ok {
				return replacement
			}
		}
		return value
	})
	if err = b.insertResource(ctx, tx, appID, live); err != nil {
		return nil, err
	}
	if err = b.duplicateAssets(ctx, tx, appID, live, copies, now); err != nil {
		return nil, err
	}
	return live, nil
}

// pointToLiveCopies rewrites the references of data from seed resources to their
// ephemeral copies
func (b *Backend) pointToLiveCopies(ctx context.Context, q queryer, appID int, rd *ResourceDefinition, data map[string]interface{}) error {
	return b.rewriteSeedReferences(ctx, q, appID, rd, data, `SELECT seed_resource_id, id FROM `+b.db.Table("resource")+`
WHERE app_id = $1 AND type = $2 AND ephemeral AND seed_resource_id = ANY($3);`)
}

// pointToSeeds rewrites the references of data from ephemeral copies to their seed
// resources. Clients of a demo app only see live ids, seed rows must hold seed ids.
func (b *Backend) pointToSeeds(ctx context.Context, q queryer, appID int, rd *ResourceDefinition, data map[string]interface{}) error {
	return b.rewriteSeedReferences(ctx, q, appID, rd, data, `SELECT id, seed_resource_id FROM `+b.db.Table("resource")+`
WHERE app_id = $1 AND type = $2 AND ephemeral AND seed_resource_id IS NOT NULL AND id = ANY($3);`)
}

// rewriteSeedReferences remaps the referenced ids of data with the (from, to) pairs
// returned by query
func (b *Backend) rewriteSeedReferences(ctx context.Context, q queryer, appID int, rd *ResourceDefinition, data map[string]interface{}, query string) error {
	table := newRemapTable()
	for field, ref := range rd.References {
		var ids []int
		values := []interface{}{data[field]}
		if list, ok := data[field].([]interface{}); ok {
			values = list
		}
		for _, value := range values {
			if id, ok := referenceID(value); ok {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			continue
		}
		rows, err := q.QueryContext(ctx, query, appID, ref.Resource, pq.Array(int64s(ids)))
		if err != nil {
			return err
		}
		err = func() error {
			defer rows.Close()
			for rows.Next() {
				var from, to int
				if err := rows.Scan(&from, &to); err != nil {
					return err
				}
				table.addSeed(ref.Resource, from, to)
			}
			return rows.Err()
		}()
		if err != nil {
			return err
		}
	}
	remapReferences(data, rd.References, table)
	return nil
}

// duplicateAssets inserts ephemeral rows for copied blobs, copies maps old to new asset id.
// The new rows belong to res.
func (b *Backend) duplicateAssets(ctx context.Context, q queryer, appID int, res *resource, copies map[string]string, now time.Time) error {
	if len(copies) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(copies))
	for src := range copies {
		ids = append(ids, uuid.MustParse(src))
	}
	originals, err := b.selectAssets(ctx, q, appID, ids)
	if err != nil {
		return err
	}
	for _, original := range originals {
		duplicate := *original
		duplicate.ID = uuid.MustParse(copies[original.ID.String()])
		duplicate.ResourceType = &res.Type
		duplicate.ResourceID = &res.ID
		duplicate.Seed = false
		duplicate.Ephemeral = true
		duplicate.CreatedAt = now
		duplicate.UpdatedAt = now
		if err = b.insertAsset(ctx, q, appID, &duplicate); err != nil {
			return err
		}
	}
	return nil
}

// mergeForUpdate builds the document an update is validated against. PATCH merges into
// the stored data, PUT replaces it. Stored $expires and $clonable are kept unless given.
func mergeForUpdate(existing *resource, doc map[string]interface{}, merge bool) map[string]interface{} {
	merged := map[string]interface{}{}
	if merge {
		merged = cloneDoc(existing.Data)
	}
	for k, v := range doc {
		merged[k] = v
	}
	if _, ok := merged["$expires"]; !ok && existing.ExpiresAt != nil {
		merged["$expires"] = formatTime(*existing.ExpiresAt)
	}
	if _, ok := merged["$clonable"]; !ok && existing.Clonable {
		merged["$clonable"] = true
	}
	return merged
}

func (b *Backend) updateSingleResource(w http.ResponseWriter, r *http.Request, merge bool) {
	a, rd, ctx, err := b.resourceFromRequest(r, core.OperationUpdate)
	if err != nil {
		writeError(w, r, "4611", err)
		return
	}
	typ := typeFromRequest(r)
	id, err := resourceIDFromRequest(r)
	if err != nil {
		writeError(w, r, "4612", err)
		return
	}
	p, err := parsePayload(r, rd.schema)
	if err != nil {
		writeError(w, r, "4613", err)
		return
	}
	if p.IsList {
		writeError(w, r, "4614", errBadRequest("expected a single resource"))
		return
	}
	doc := p.Docs[0]
	delete(doc, "id")
	now := b.Now()
	if e := schema.CheckExpires(doc["$expires"], now, []interface{}{"$expires"}); e != nil {
		writeError(w, r, "4615", errValidation(schema.ValidationErrors{*e}))
		return
	}

	bw := &blobWriter{b: b, appID: a.ID}
	var (
		updated *resource
		removed []uuid.UUID
	)
	err = b.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		existing, err := b.selectResource(ctx, tx, a, typ, id, true)
		if err != nil {
			return err
		}
		merged := mergeForUpdate(existing, doc, merge)
		if errs := rd.schema.Validate(merged); len(errs) > 0 {
			return errValidation(errs)
		}
		docs := []map[string]interface{}{merged}
		known, err := b.selectAssets(ctx, tx, a.ID, referencedAssetIDs(docs, rd.schema.BinaryPointers()))
		if err != nil {
			return err
		}
		plans, errs := resolveAssets(docs, false, len(p.Uploads), rd.schema.BinaryPointers(), known, []assetOwner{ownerOf(existing)})
		if len(errs) > 0 {
			return errValidation(errs)
		}
		updated, removed, err = b.applyUpdate(ctx, tx, bw, a, rd, existing, merged, plans[0], p.Uploads, now)
		return err
	})
	if err != nil {
		bw.rollback(ctx)
		writeError(w, r, "4616", err)
		return
	}
	b.deleteBlobs(ctx, a.ID, removed)
	b.triggerOutbox()
	writeJSON(w, http.StatusOK, updated.output())
}

// applyUpdate persists a validated and resolved update of existing. It returns the updated
// resource and the ids of assets which are no longer referenced and were deleted.
func (b *Backend) applyUpdate(ctx context.Context, tx *sql.Tx, bw *blobWriter, a *app, rd *ResourceDefinition, existing *resource, merged map[string]interface{}, plan assetPlan, uploads []upload, now time.Time) (*resource, []uuid.UUID, error) {
	editor := memberFromContext(ctx)
	if err := b.snapshotVersion(ctx, tx, a.ID, rd, existing, editor, now); err != nil {
		return nil, nil, err
	}
	updated := *existing
	if err := applyDocument(&updated, merged, now); err != nil {
		return nil, nil, err
	}
	updated.UpdatedAt = now
	if editor != nil {
		updated.EditorID = editor
	}
	if err := b.storeNewAssets(ctx, tx, bw, a.ID, &updated, plan, uploads, now); err != nil {
		return nil, nil, err
	}
	if err := b.updateResource(ctx, tx, a.ID, &updated); err != nil {
		return nil, nil, err
	}

	attached, err := b.assetsOfResource(ctx, tx, a.ID, updated.Type, updated.ID)
	if err != nil {
		return nil, nil, err
	}
	keep := map[uuid.UUID]bool{}
	for _, id := range plan.ids() {
		keep[id] = true
	}
	var dereferenced []uuid.UUID
	for _, as := range attached {
		if !keep[as.ID] {
			dereferenced = append(dereferenced, as.ID)
		}
	}
	removed, err := b.deleteAssets(ctx, tx, a.ID, dereferenced)
	if err != nil {
		return nil, nil, err
	}
	if err = b.queueNotification(ctx, tx, a.ID, updated.Type, core.OperationUpdate, &updated); err != nil {
		return nil, nil, err
	}
	return &updated, removed, nil
}

func (b *Backend) bulkUpdateResources(w http.ResponseWriter, r *http.Request) {
	a, rd, ctx, err := b.resourceFromRequest(r, core.OperationUpdate)
	if err != nil {
		writeError(w, r, "4617", err)
		return
	}
	typ := typeFromRequest(r)
	p, err := parsePayload(r, rd.schema)
	if err != nil {
		writeError(w, r, "4618", err)
		return
	}
	if !p.IsList {
		writeError(w, r, "4619", errBadRequest("expected an array of resources"))
		return
	}

	ids := make([]int, len(p.Docs))
	seen := map[int]bool{}
	var missing, duplicates []interface{}
	for i, doc := range p.Docs {
		id, ok := idOf(doc["id"])
		if !ok {
			missing = append(missing, doc)
			continue
		}
		if seen[id] {
			duplicates = append(duplicates, doc)
		}
		seen[id] = true
		ids[i] = id
	}
	if len(missing) > 0 {
		e := errBadRequest("There is a resource with a missing id")
		e.Data = missing
		writeError(w, r, "4620", e)
		return
	}
	if len(duplicates) > 0 {
		e := errBadRequest("There are resources with duplicate ids")
		e.Data = duplicates
		writeError(w, r, "4628", e)
		return
	}

	now := b.Now()
	bw := &blobWriter{b: b, appID: a.ID}
	var (
		updated []*resource
		removed []uuid.UUID
	)
	err = b.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		existing, err := b.selectResources(ctx, tx, a, typ, ids)
		if err != nil {
			return err
		}
		var notFound []interface{}
		for i, id := range ids {
			if _, ok := existing[id]; !ok {
				notFound = append(notFound, p.Docs[i])
			}
		}
		if len(notFound) > 0 {
			e := errBadRequest("One or more resources could not be found")
			e.Data = notFound
			return e
		}

		merged := make([]map[string]interface{}, len(p.Docs))
		for i, doc := range p.Docs {
			delete(doc, "id")
			merged[i] = mergeForUpdate(existing[ids[i]], doc, false)
		}
		errs := rd.schema.ValidateList(merged)
		for i, doc := range p.Docs {
			if e := schema.CheckExpires(doc["$expires"], now, []interface{}{i, "$expires"}); e != nil {
				errs = append(errs, *e)
			}
		}
		if len(errs) > 0 {
			return errValidation(errs)
		}
		pointers := rd.schema.BinaryPointers()
		known, err := b.selectAssets(ctx, tx, a.ID, referencedAssetIDs(merged, pointers))
		if err != nil {
			return err
		}
		owners := make([]assetOwner, len(merged))
		for i := range merged {
			owners[i] = ownerOf(existing[ids[i]])
		}
		plans, errs := resolveAssets(merged, true, len(p.Uploads), pointers, known, owners)
		if len(errs) > 0 {
			return errValidation(errs)
		}
		for i := range merged {
			res, gone, err := b.applyUpdate(ctx, tx, bw, a, rd, existing[ids[i]], merged[i], plans[i], p.Uploads, now)
			if err != nil {
				return err
			}
			updated = append(updated, res)
			removed = append(removed, gone...)
		}
		return nil
	})
	if err != nil {
		bw.rollback(ctx)
		writeError(w, r, "4621", err)
		return
	}
	b.deleteBlobs(ctx, a.ID, removed)
	b.triggerOutbox()
	writeResources(w, http.StatusOK, true, updated)
}

func (b *Backend) deleteResourceHandler(w http.ResponseWriter, r *http.Request) {
	a, _, ctx, err := b.resourceFromRequest(r, core.OperationDelete)
	if err != nil {
		writeError(w, r, "4622", err)
		return
	}
	typ := typeFromRequest(r)
	id, err := resourceIDFromRequest(r)
	if err != nil {
		writeError(w, r, "4623", err)
		return
	}
	var removed []uuid.UUID
	err = b.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := b.selectResource(ctx, tx, a, typ, id, true); err != nil {
			return err
		}
		removed, err = b.deleteResourceCascade(ctx, tx, a, typ, id)
		return err
	})
	if err != nil {
		writeError(w, r, "4624", err)
		return
	}
	b.deleteBlobs(ctx, a.ID, removed)
	b.triggerOutbox()
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) deleteAllResources(w http.ResponseWriter, r *http.Request) {
	if err := b.requireAdmin(r); err != nil {
		writeError(w, r, "4625", err)
		return
	}
	a, ctx, err := b.appFromRequest(r)
	if err != nil {
		writeError(w, r, "4626", err)
		return
	}
	var removed []uuid.UUID
	err = b.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		removed, err = b.deleteSeedResources(ctx, tx, a)
		return err
	})
	if err != nil {
		writeError(w, r, "4627", err)
		return
	}
	b.deleteBlobs(ctx, a.ID, removed)
	logger.FromContext(ctx).Infof("deleted seed resources of app %d, %d assets", a.ID, len(removed))
	w.WriteHeader(http.StatusNoContent)
}
