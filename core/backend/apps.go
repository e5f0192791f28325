package backend

import (
	"context"
	"database/sql"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/patrickmn/go-cache"

	"github.com/relabs-tech/appseed/core/logger"
)

// app is an app with its compiled definition
type app struct {
	ID         int
	DemoMode   bool
	Definition *AppDefinition
	CreatedAt  time.Time
	UpdatedAt  time.Time

	rawDefinition json.RawMessage
}

func (a *app) output() map[string]interface{} {
	return map[string]interface{}{
		"id":         a.ID,
		"definition": a.rawDefinition,
		"demoMode":   a.DemoMode,
		"$created":   formatTime(a.CreatedAt),
		"$updated":   formatTime(a.UpdatedAt),
	}
}

type appRequest struct {
	Definition json.RawMessage `json:"definition"`
	DemoMode   *bool           `json:"demoMode"`
}

func appCacheKey(appID int) string {
	return strconv.Itoa(appID)
}

// loadApp returns the app with its parsed definition. Apps are cached.
func (b *Backend) loadApp(ctx context.Context, appID int) (*app, error) {
	if cached, ok := b.apps.Get(appCacheKey(appID)); ok {
		return cached.(*app), nil
	}
	a := &app{ID: appID}
	var definition []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT definition, demo_mode, created_at, updated_at FROM `+b.db.Table("app")+` WHERE app_id = $1;`,
		appID,
	).Scan(&definition, &a.DemoMode, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errAppNotFound
	}
	if err != nil {
		return nil, err
	}
	a.rawDefinition = definition
	a.Definition, err = parseAppDefinition(definition)
	if err != nil {
		return nil, err
	}
	b.apps.Set(appCacheKey(appID), a, cache.DefaultExpiration)
	return a, nil
}

func (b *Backend) handleApps(router *mux.Router) {
	logger.Default().Debugln("apps")
	logger.Default().Debugln("  handle route: /apps POST")
	logger.Default().Debugln("  handle route: /apps/{appId} GET,PATCH")

	router.HandleFunc("/apps", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.createApp(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)

	router.HandleFunc("/apps/{appId}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a, _, err := b.appFromRequest(r)
		if err != nil {
			writeError(w, r, "4801", err)
			return
		}
		writeJSON(w, http.StatusOK, a.output())
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/apps/{appId}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.patchApp(w, r)
	}).Methods(http.MethodOptions, http.MethodPatch)
}

func readAppRequest(r *http.Request) (*appRequest, *AppDefinition, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, nil, errBadRequest("cannot read body: %s", err.Error())
	}
	var req appRequest
	if err = json.Unmarshal(body, &req); err != nil {
		return nil, nil, errBadRequest("invalid app: %s", err.Error())
	}
	if len(req.Definition) == 0 {
		return &req, nil, nil
	}
	def, err := parseAppDefinition(req.Definition)
	if err != nil {
		return nil, nil, errBadRequest("%s", err.Error())
	}
	return &req, def, nil
}

func (b *Backend) createApp(w http.ResponseWriter, r *http.Request) {
	if err := b.requireAdmin(r); err != nil {
		writeError(w, r, "4802", err)
		return
	}
	req, def, err := readAppRequest(r)
	if err != nil {
		writeError(w, r, "4803", err)
		return
	}
	if def == nil {
		writeError(w, r, "4803", errBadRequest("definition is missing"))
		return
	}
	now := b.Now()
	a := &app{
		DemoMode:      req.DemoMode != nil && *req.DemoMode,
		Definition:    def,
		CreatedAt:     now,
		UpdatedAt:     now,
		rawDefinition: req.Definition,
	}
	err = b.db.QueryRowContext(r.Context(),
		`INSERT INTO `+b.db.Table("app")+` (definition, demo_mode, created_at, updated_at) VALUES($1,$2,$3,$3) RETURNING app_id;`,
		[]byte(req.Definition), a.DemoMode, now,
	).Scan(&a.ID)
	if err != nil {
		writeError(w, r, "4804", err)
		return
	}
	b.apps.Set(appCacheKey(a.ID), a, cache.DefaultExpiration)
	logger.FromContext(r.Context()).Infof("created app %d (demo mode %t)", a.ID, a.DemoMode)
	writeJSON(w, http.StatusCreated, a.output())
}

// patchApp replaces the definition and/or the demo mode of an app
func (b *Backend) patchApp(w http.ResponseWriter, r *http.Request) {
	if err := b.requireAdmin(r); err != nil {
		writeError(w, r, "4805", err)
		return
	}
	a, ctx, err := b.appFromRequest(r)
	if err != nil {
		writeError(w, r, "4806", err)
		return
	}
	req, def, err := readAppRequest(r)
	if err != nil {
		writeError(w, r, "4807", err)
		return
	}
	updated := *a
	if def != nil {
		updated.Definition = def
		updated.rawDefinition = req.Definition
	}
	if req.DemoMode != nil {
		updated.DemoMode = *req.DemoMode
	}
	updated.UpdatedAt = b.Now()
	_, err = b.db.ExecContext(ctx,
		`UPDATE `+b.db.Table("app")+` SET definition = $2, demo_mode = $3, updated_at = $4 WHERE app_id = $1;`,
		a.ID, []byte(updated.rawDefinition), updated.DemoMode, updated.UpdatedAt,
	)
	if err != nil {
		writeError(w, r, "4808", err)
		return
	}
	b.apps.Delete(appCacheKey(a.ID))
	writeJSON(w, http.StatusOK, updated.output())
}
