package backend

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/relabs-tech/appseed/core"
	"github.com/relabs-tech/appseed/core/logger"
)

// hasHistory returns true if updates of rd are versioned
func (rd *ResourceDefinition) hasHistory() bool {
	return rd.History != nil && rd.History.Enabled
}

// snapshotVersion stores the current data of res as a new version, without data if the
// definition excludes it. Nothing happens for types without history.
func (b *Backend) snapshotVersion(ctx context.Context, q queryer, appID int, rd *ResourceDefinition, res *resource, member *uuid.UUID, now time.Time) error {
	if !rd.hasHistory() {
		return nil
	}
	var data interface{}
	if rd.History.Data {
		raw, err := json.Marshal(res.Data)
		if err != nil {
			return err
		}
		data = raw
	}
	_, err := q.ExecContext(ctx, `INSERT INTO `+b.db.Table("resource_version")+`
(resource_version_id, app_id, type, resource_id, app_member_id, data, created_at) VALUES($1,$2,$3,$4,$5,$6,$7);`,
		uuid.New(), appID, res.Type, res.ID, member, data, now)
	return err
}

// version is a stored snapshot of a resource
type version struct {
	ID          uuid.UUID
	AppMemberID *uuid.UUID
	Data        []byte
	CreatedAt   time.Time
}

func (v *version) output() map[string]interface{} {
	out := map[string]interface{}{
		"id":       v.ID.String(),
		"$created": formatTime(v.CreatedAt),
		"data":     nil,
	}
	if v.Data != nil {
		out["data"] = json.RawMessage(v.Data)
	}
	if v.AppMemberID != nil {
		out["author"] = map[string]interface{}{"id": v.AppMemberID.String()}
	}
	return out
}

// listVersions returns the versions of a resource, newest first
func (b *Backend) listVersions(ctx context.Context, q queryer, appID int, typ string, id int) ([]*version, error) {
	rows, err := q.QueryContext(ctx, `SELECT resource_version_id, app_member_id, data, created_at FROM `+b.db.Table("resource_version")+`
WHERE app_id = $1 AND type = $2 AND resource_id = $3 ORDER BY created_at DESC, resource_version_id;`, appID, typ, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var versions []*version
	for rows.Next() {
		v := &version{}
		if err = rows.Scan(&v.ID, &v.AppMemberID, &v.Data, &v.CreatedAt); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (b *Backend) getHistory(w http.ResponseWriter, r *http.Request) {
	a, rd, ctx, err := b.resourceFromRequest(r, core.OperationRead)
	if err != nil {
		writeError(w, r, "4501", err)
		return
	}
	typ := typeFromRequest(r)
	if !rd.hasHistory() {
		writeError(w, r, "4502", errBadRequest("Resource %s has no history", typ))
		return
	}
	id, err := resourceIDFromRequest(r)
	if err != nil {
		writeError(w, r, "4503", err)
		return
	}
	var versions []*version
	err = b.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := b.selectResource(ctx, tx, a, typ, id, false); err != nil {
			return err
		}
		versions, err = b.listVersions(ctx, tx, a.ID, typ, id)
		return err
	})
	if err != nil {
		writeError(w, r, "4504", err)
		return
	}
	response := make([]interface{}, 0, len(versions))
	for _, v := range versions {
		response = append(response, v.output())
	}
	logger.FromContext(ctx).Debugf("%d versions of %s/%d", len(versions), typ, id)
	writeJSON(w, http.StatusOK, response)
}
