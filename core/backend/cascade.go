package backend

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/google/uuid"

	"github.com/relabs-tech/appseed/core"
	"github.com/relabs-tech/appseed/core/logger"
)

type resourceKey struct {
	Type string
	ID   int
}

// deleteResourceCascade deletes a resource with its assets, subscriptions and versions.
// Resources referencing it are deleted as well when the reference is declared with
// onDelete cascade, references declared with onDelete clear are removed. It returns
// the ids of all deleted assets.
func (b *Backend) deleteResourceCascade(ctx context.Context, tx *sql.Tx, a *app, typ string, id int) ([]uuid.UUID, error) {
	rlog := logger.FromContext(ctx)
	var removed []uuid.UUID
	queue := []resourceKey{{Type: typ, ID: id}}
	visited := map[resourceKey]bool{}

	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		if visited[key] {
			continue
		}
		visited[key] = true

		assets, err := b.queryUUIDs(ctx, tx, `DELETE FROM `+b.db.Table("asset")+
			` WHERE app_id = $1 AND resource_type = $2 AND resource_id = $3 RETURNING asset_id;`, a.ID, key.Type, key.ID)
		if err != nil {
			return nil, err
		}
		removed = append(removed, assets...)

		_, err = tx.ExecContext(ctx, `DELETE FROM `+b.db.Table("resource_subscription")+` rs USING `+b.db.Table("app_subscription")+` s
WHERE rs.app_subscription_id = s.app_subscription_id AND s.app_id = $1 AND rs.type = $2 AND rs.resource_id = $3;`,
			a.ID, key.Type, key.ID)
		if err != nil {
			return nil, err
		}

		var seed, ephemeral bool
		err = tx.QueryRowContext(ctx, `DELETE FROM `+b.db.Table("resource")+
			` WHERE app_id = $1 AND type = $2 AND id = $3 RETURNING seed, ephemeral;`, a.ID, key.Type, key.ID).Scan(&seed, &ephemeral)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		rlog.Debugf("deleted resource %s/%d", key.Type, key.ID)
		deleted := &resource{Type: key.Type, ID: key.ID, Data: map[string]interface{}{}}
		if err = b.queueNotification(ctx, tx, a.ID, key.Type, core.OperationDelete, deleted); err != nil {
			return nil, err
		}

		for referencingType, fields := range a.Definition.referencingFields(key.Type) {
			for _, field := range fields {
				switch field.OnDelete {
				case OnDeleteCascade:
					rows, err := tx.QueryContext(ctx, `SELECT id FROM `+b.db.Table("resource")+`
WHERE app_id = $1 AND type = $2 AND seed = $3 AND ephemeral = $4 AND data->>$5 = $6;`,
						a.ID, referencingType, seed, ephemeral, field.Field, strconv.Itoa(key.ID))
					if err != nil {
						return nil, err
					}
					ids, err := scanInts(rows)
					if err != nil {
						return nil, err
					}
					for _, referencing := range ids {
						queue = append(queue, resourceKey{Type: referencingType, ID: referencing})
					}
				case OnDeleteClear:
					_, err := tx.ExecContext(ctx, `UPDATE `+b.db.Table("resource")+` SET data = data - $5::text
WHERE app_id = $1 AND type = $2 AND seed = $3 AND ephemeral = $4 AND data->>$5 = $6;`,
						a.ID, referencingType, seed, ephemeral, field.Field, strconv.Itoa(key.ID))
					if err != nil {
						return nil, err
					}
				}
			}
		}
	}
	return removed, nil
}

// deleteSeedResources deletes all seed resources of an app and, for demo apps, all
// ephemeral resources, including their assets. It returns the ids of the deleted assets.
func (b *Backend) deleteSeedResources(ctx context.Context, tx *sql.Tx, a *app) ([]uuid.UUID, error) {
	removed, err := b.queryUUIDs(ctx, tx, `DELETE FROM `+b.db.Table("asset")+
		` WHERE app_id = $1 AND (seed OR ($2 AND ephemeral)) RETURNING asset_id;`, a.ID, a.DemoMode)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM `+b.db.Table("resource_subscription")+` rs
USING `+b.db.Table("app_subscription")+` s, `+b.db.Table("resource")+` r
WHERE rs.app_subscription_id = s.app_subscription_id AND s.app_id = $1
AND r.app_id = $1 AND r.type = rs.type AND r.id = rs.resource_id AND (r.seed OR ($2 AND r.ephemeral));`, a.ID, a.DemoMode)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM `+b.db.Table("resource")+
		` WHERE app_id = $1 AND (seed OR ($2 AND ephemeral));`, a.ID, a.DemoMode)
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// queryUUIDs runs a query returning a single uuid column
func (b *Backend) queryUUIDs(ctx context.Context, q queryer, query string, args ...interface{}) ([]uuid.UUID, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanUUIDs(rows)
}

func scanInts(rows *sql.Rows) ([]int, error) {
	defer rows.Close()
	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
