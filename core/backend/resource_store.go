package backend

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/relabs-tech/appseed/core/logger"
)

// queryer is implemented by *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// resource is a stored resource row
type resource struct {
	Type           string
	ID             int
	Data           map[string]interface{}
	Seed           bool
	Ephemeral      bool
	Clonable       bool
	ExpiresAt      *time.Time
	AuthorID       *uuid.UUID
	EditorID       *uuid.UUID
	SeedResourceID *int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// output returns the resource as it is presented to clients
func (res *resource) output() map[string]interface{} {
	out := make(map[string]interface{}, len(res.Data)+4)
	for k, v := range res.Data {
		out[k] = v
	}
	out["id"] = res.ID
	out["$created"] = formatTime(res.CreatedAt)
	out["$updated"] = formatTime(res.UpdatedAt)
	if res.ExpiresAt != nil {
		out["$expires"] = formatTime(*res.ExpiresAt)
	}
	if res.Clonable {
		out["$clonable"] = true
	}
	if res.Seed {
		out["$seed"] = true
	}
	if res.Ephemeral {
		out["$ephemeral"] = true
	}
	if res.AuthorID != nil {
		out["$author"] = map[string]interface{}{"id": res.AuthorID.String()}
	}
	if res.EditorID != nil {
		out["$editor"] = map[string]interface{}{"id": res.EditorID.String()}
	}
	return out
}

const resourceColumns = "type, id, data, seed, ephemeral, clonable, expires_at, author_id, editor_id, seed_resource_id, created_at, updated_at"

func scanResource(row rowScanner) (*resource, error) {
	res := &resource{}
	var data []byte
	err := row.Scan(
		&res.Type,
		&res.ID,
		&data,
		&res.Seed,
		&res.Ephemeral,
		&res.Clonable,
		&res.ExpiresAt,
		&res.AuthorID,
		&res.EditorID,
		&res.SeedResourceID,
		&res.CreatedAt,
		&res.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err = json.Unmarshal(data, &res.Data); err != nil {
		return nil, fmt.Errorf("corrupt data in resource %s/%d: %w", res.Type, res.ID, err)
	}
	if res.Data == nil {
		res.Data = map[string]interface{}{}
	}
	return res, nil
}

func scanResources(rows *sql.Rows) ([]*resource, error) {
	defer rows.Close()
	var result []*resource
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, res)
	}
	return result, rows.Err()
}

// nextResourceID draws the next id of the per app and type sequence. Concurrent callers
// serialize on the sequence row until their transaction ends.
func (b *Backend) nextResourceID(ctx context.Context, q queryer, appID int, typ string) (int, error) {
	var id int
	err := q.QueryRowContext(ctx, `INSERT INTO `+b.db.Table("resource_sequence")+` AS s (app_id, type, last_id) VALUES($1,$2,1)
ON CONFLICT (app_id, type) DO UPDATE SET last_id = s.last_id + 1 RETURNING last_id;`,
		appID, typ,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("cannot allocate id for %s: %w", typ, err)
	}
	return id, nil
}

func (b *Backend) insertResource(ctx context.Context, q queryer, appID int, res *resource) error {
	data, err := json.Marshal(res.Data)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO `+b.db.Table("resource")+` (app_id, `+resourceColumns+`)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13);`,
		appID,
		res.Type,
		res.ID,
		data,
		res.Seed,
		res.Ephemeral,
		res.Clonable,
		res.ExpiresAt,
		res.AuthorID,
		res.EditorID,
		res.SeedResourceID,
		res.CreatedAt,
		res.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("cannot insert resource %s/%d: %w", res.Type, res.ID, err)
	}
	return nil
}

// visibleClause restricts a resource query to the rows clients of an app see: the live
// copies of a demo app or the non ephemeral rows of a regular app, unexpired.
const visibleClause = ` AND ephemeral = $3 AND (expires_at IS NULL OR expires_at > $4)`

// selectResource returns a visible resource or errResourceNotFound
func (b *Backend) selectResource(ctx context.Context, q queryer, a *app, typ string, id int, forUpdate bool) (*resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM ` + b.db.Table("resource") +
		` WHERE app_id = $1 AND type = $2` + visibleClause + ` AND id = $5`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	res, err := scanResource(q.QueryRowContext(ctx, query+";", a.ID, typ, a.DemoMode, b.Now(), id))
	if err == sql.ErrNoRows {
		return nil, errResourceNotFound
	}
	return res, err
}

// selectResources returns the visible resources with the given ids, locked for update
func (b *Backend) selectResources(ctx context.Context, q queryer, a *app, typ string, ids []int) (map[int]*resource, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+resourceColumns+` FROM `+b.db.Table("resource")+
		` WHERE app_id = $1 AND type = $2`+visibleClause+` AND id = ANY($5) FOR UPDATE;`,
		a.ID, typ, a.DemoMode, b.Now(), pq.Array(int64s(ids)))
	if err != nil {
		return nil, err
	}
	list, err := scanResources(rows)
	if err != nil {
		return nil, err
	}
	result := make(map[int]*resource, len(list))
	for _, res := range list {
		result[res.ID] = res
	}
	return result, nil
}

// listResources returns all visible resources of a type ordered by id
func (b *Backend) listResources(ctx context.Context, q queryer, a *app, typ string) ([]*resource, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+resourceColumns+` FROM `+b.db.Table("resource")+
		` WHERE app_id = $1 AND type = $2`+visibleClause+` ORDER BY id;`,
		a.ID, typ, a.DemoMode, b.Now())
	if err != nil {
		return nil, err
	}
	return scanResources(rows)
}

func (b *Backend) updateResource(ctx context.Context, q queryer, appID int, res *resource) error {
	data, err := json.Marshal(res.Data)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `UPDATE `+b.db.Table("resource")+`
SET data = $4, clonable = $5, expires_at = $6, editor_id = $7, updated_at = $8
WHERE app_id = $1 AND type = $2 AND id = $3;`,
		appID, res.Type, res.ID, data, res.Clonable, res.ExpiresAt, res.EditorID, res.UpdatedAt)
	if err != nil {
		return fmt.Errorf("cannot update resource %s/%d: %w", res.Type, res.ID, err)
	}
	return nil
}

// asset is a stored asset row. The bytes live in the blob store.
type asset struct {
	ID           uuid.UUID
	ResourceType *string
	ResourceID   *int
	Name         *string
	Filename     *string
	Mime         string
	Size         int
	Clonable     bool
	Seed         bool
	Ephemeral    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (as *asset) output() map[string]interface{} {
	out := map[string]interface{}{
		"id":       as.ID.String(),
		"mime":     as.Mime,
		"size":     as.Size,
		"$created": formatTime(as.CreatedAt),
		"$updated": formatTime(as.UpdatedAt),
	}
	if as.ResourceType != nil && as.ResourceID != nil {
		out["resourceType"] = *as.ResourceType
		out["resourceId"] = *as.ResourceID
	}
	if as.Name != nil {
		out["name"] = *as.Name
	}
	if as.Filename != nil {
		out["filename"] = *as.Filename
	}
	if as.Clonable {
		out["clonable"] = true
	}
	if as.Seed {
		out["$seed"] = true
	}
	if as.Ephemeral {
		out["$ephemeral"] = true
	}
	return out
}

const assetColumns = "asset_id, resource_type, resource_id, name, filename, mime, size, clonable, seed, ephemeral, created_at, updated_at"

func scanAsset(row rowScanner) (*asset, error) {
	as := &asset{}
	err := row.Scan(
		&as.ID,
		&as.ResourceType,
		&as.ResourceID,
		&as.Name,
		&as.Filename,
		&as.Mime,
		&as.Size,
		&as.Clonable,
		&as.Seed,
		&as.Ephemeral,
		&as.CreatedAt,
		&as.UpdatedAt,
	)
	return as, err
}

func scanAssets(rows *sql.Rows) ([]*asset, error) {
	defer rows.Close()
	var result []*asset
	for rows.Next() {
		as, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, as)
	}
	return result, rows.Err()
}

func (b *Backend) insertAsset(ctx context.Context, q queryer, appID int, as *asset) error {
	_, err := q.ExecContext(ctx, `INSERT INTO `+b.db.Table("asset")+` (app_id, `+assetColumns+`)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13);`,
		appID,
		as.ID,
		as.ResourceType,
		as.ResourceID,
		as.Name,
		as.Filename,
		as.Mime,
		as.Size,
		as.Clonable,
		as.Seed,
		as.Ephemeral,
		as.CreatedAt,
		as.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("cannot insert asset %s: %w", as.ID, err)
	}
	return nil
}

func int64s(ids []int) []int64 {
	res := make([]int64, len(ids))
	for i, id := range ids {
		res[i] = int64(id)
	}
	return res
}

func uuidStrings(ids []uuid.UUID) []string {
	res := make([]string, len(ids))
	for i, id := range ids {
		res[i] = id.String()
	}
	return res
}

// selectAssets returns the assets of the app among ids
func (b *Backend) selectAssets(ctx context.Context, q queryer, appID int, ids []uuid.UUID) (map[uuid.UUID]*asset, error) {
	result := map[uuid.UUID]*asset{}
	if len(ids) == 0 {
		return result, nil
	}
	rows, err := q.QueryContext(ctx, `SELECT `+assetColumns+` FROM `+b.db.Table("asset")+
		` WHERE app_id = $1 AND asset_id = ANY($2::uuid[]);`, appID, pq.Array(uuidStrings(ids)))
	if err != nil {
		return nil, err
	}
	list, err := scanAssets(rows)
	if err != nil {
		return nil, err
	}
	for _, as := range list {
		result[as.ID] = as
	}
	return result, nil
}

// assetsOfResource returns the assets linked to a resource
func (b *Backend) assetsOfResource(ctx context.Context, q queryer, appID int, typ string, id int) ([]*asset, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+assetColumns+` FROM `+b.db.Table("asset")+
		` WHERE app_id = $1 AND resource_type = $2 AND resource_id = $3 ORDER BY created_at, asset_id;`, appID, typ, id)
	if err != nil {
		return nil, err
	}
	return scanAssets(rows)
}

// linkAssets links standalone assets to a resource. Assets which already belong to a
// resource stay where they are.
func (b *Backend) linkAssets(ctx context.Context, q queryer, appID int, typ string, id int, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.ExecContext(ctx, `UPDATE `+b.db.Table("asset")+` SET resource_type = $2, resource_id = $3, updated_at = $5
WHERE app_id = $1 AND asset_id = ANY($4::uuid[]) AND resource_id IS NULL;`,
		appID, typ, id, pq.Array(uuidStrings(ids)), b.Now())
	return err
}

// deleteAssets deletes asset rows and returns the ids of the deleted rows
func (b *Backend) deleteAssets(ctx context.Context, q queryer, appID int, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := q.QueryContext(ctx, `DELETE FROM `+b.db.Table("asset")+
		` WHERE app_id = $1 AND asset_id = ANY($2::uuid[]) RETURNING asset_id;`, appID, pq.Array(uuidStrings(ids)))
	if err != nil {
		return nil, err
	}
	return scanUUIDs(rows)
}

func scanUUIDs(rows *sql.Rows) ([]uuid.UUID, error) {
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// deleteBlobs removes the bytes of deleted assets. Failures are logged only, the asset
// rows are gone already.
func (b *Backend) deleteBlobs(ctx context.Context, appID int, ids []uuid.UUID) {
	bucket := b.bucket(appID)
	for _, id := range ids {
		if err := b.kss.Delete(ctx, bucket, id.String()); err != nil {
			logger.FromContext(ctx).WithError(err).Errorf("Error 4920: cannot delete blob %s/%s", bucket, id)
		}
	}
}
