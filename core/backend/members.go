package backend

import (
	"context"
	"database/sql"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/appseed/core/access"
	"github.com/relabs-tech/appseed/core/logger"
)

// member is an app member with its custom properties
type member struct {
	ID         uuid.UUID
	Name       string
	Role       string
	Properties map[string]interface{}
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (m *member) output() map[string]interface{} {
	return map[string]interface{}{
		"id":         m.ID,
		"name":       m.Name,
		"role":       m.Role,
		"properties": m.Properties,
		"$created":   formatTime(m.CreatedAt),
		"$updated":   formatTime(m.UpdatedAt),
	}
}

type memberRequest struct {
	Name       string                 `json:"name"`
	Role       string                 `json:"role"`
	Properties map[string]interface{} `json:"properties"`
}

func (b *Backend) handleMembers(router *mux.Router) {
	logger.Default().Debugln("members")
	logger.Default().Debugln("  handle route: /apps/{appId}/members POST")
	router.HandleFunc("/apps/{appId}/members", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.createMember(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)

	logger.Default().Debugln("  handle route: /apps/{appId}/members/{memberId} GET")
	router.HandleFunc("/apps/{appId}/members/{memberId}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.getMember(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)
}

func (b *Backend) createMember(w http.ResponseWriter, r *http.Request) {
	if err := b.requireAdmin(r); err != nil {
		writeError(w, r, "4301", err)
		return
	}
	a, ctx, err := b.appFromRequest(r)
	if err != nil {
		writeError(w, r, "4302", err)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, "4303", errBadRequest("cannot read body: %s", err.Error()))
		return
	}
	var req memberRequest
	if err = json.Unmarshal(body, &req); err != nil {
		writeError(w, r, "4303", errBadRequest("invalid member: %s", err.Error()))
		return
	}
	if req.Properties == nil {
		req.Properties = map[string]interface{}{}
	}
	if errs := a.Definition.memberSchema.Validate(req.Properties); len(errs) > 0 {
		writeError(w, r, "4304", errValidation(errs))
		return
	}
	properties, err := json.Marshal(req.Properties)
	if err != nil {
		writeError(w, r, "4305", err)
		return
	}
	now := b.Now()
	m := &member{ID: uuid.New(), Name: req.Name, Role: req.Role, Properties: req.Properties, CreatedAt: now, UpdatedAt: now}
	_, err = b.db.ExecContext(ctx, `INSERT INTO `+b.db.Table("app_member")+`
(app_member_id, app_id, name, role, properties, created_at, updated_at) VALUES($1,$2,$3,$4,$5,$6,$6);`,
		m.ID, a.ID, m.Name, m.Role, properties, now)
	if err != nil {
		writeError(w, r, "4306", err)
		return
	}
	logger.FromContext(ctx).Infof("created member %s", m.ID)
	writeJSON(w, http.StatusCreated, m.output())
}

func (b *Backend) loadMember(ctx context.Context, appID int, memberID uuid.UUID) (*member, error) {
	m := &member{ID: memberID}
	var properties []byte
	err := b.db.QueryRowContext(ctx, `SELECT name, role, properties, created_at, updated_at FROM `+
		b.db.Table("app_member")+` WHERE app_id = $1 AND app_member_id = $2;`, appID, memberID).
		Scan(&m.Name, &m.Role, &properties, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errNotFound("Member not found")
	}
	if err != nil {
		return nil, err
	}
	if err = json.Unmarshal(properties, &m.Properties); err != nil {
		return nil, err
	}
	return m, nil
}

// getMember returns a member. With authorization enabled only admins and the member
// itself may read it.
func (b *Backend) getMember(w http.ResponseWriter, r *http.Request) {
	a, ctx, err := b.appFromRequest(r)
	if err != nil {
		writeError(w, r, "4307", err)
		return
	}
	memberID, err := uuid.Parse(mux.Vars(r)["memberId"])
	if err != nil {
		writeError(w, r, "4308", errNotFound("Member not found"))
		return
	}
	if b.authorizationEnabled {
		auth := access.AuthorizationFromContext(ctx)
		if id, ok := auth.Member(); !auth.HasRole(access.RoleAdmin) && (!ok || id != memberID) {
			writeError(w, r, "4309", errForbidden())
			return
		}
	}
	m, err := b.loadMember(ctx, a.ID, memberID)
	if err != nil {
		writeError(w, r, "4310", err)
		return
	}
	writeJSON(w, http.StatusOK, m.output())
}
