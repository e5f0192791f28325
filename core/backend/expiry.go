package backend

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/relabs-tech/appseed/core/logger"
)

// PurgeExpired deletes all resources whose expiry has passed, together with their
// assets and the resources which reference them with onDelete cascade. It returns the
// number of deleted expired resources.
func (b *Backend) PurgeExpired(ctx context.Context) (int, error) {
	rlog := logger.FromContext(ctx)
	now := b.Now()

	rows, err := b.db.QueryContext(ctx, `SELECT app_id, type, id FROM `+b.db.Table("resource")+
		` WHERE expires_at IS NOT NULL AND expires_at <= $1 ORDER BY app_id LIMIT 1000;`, now)
	if err != nil {
		return 0, err
	}
	expired := map[int][]resourceKey{}
	err = func() error {
		defer rows.Close()
		for rows.Next() {
			var (
				appID int
				key   resourceKey
			)
			if err := rows.Scan(&appID, &key.Type, &key.ID); err != nil {
				return err
			}
			expired[appID] = append(expired[appID], key)
		}
		return rows.Err()
	}()
	if err != nil {
		return 0, err
	}

	count := 0
	for appID, keys := range expired {
		a, err := b.loadApp(ctx, appID)
		if err != nil {
			return count, err
		}
		var removed []uuid.UUID
		err = b.db.WithTransaction(ctx, func(tx *sql.Tx) error {
			removed = nil
			for _, key := range keys {
				assets, err := b.deleteResourceCascade(ctx, tx, a, key.Type, key.ID)
				if err != nil {
					return err
				}
				removed = append(removed, assets...)
			}
			return nil
		})
		if err != nil {
			return count, err
		}
		b.deleteBlobs(ctx, appID, removed)
		count += len(keys)
	}
	if count > 0 {
		rlog.Infof("purged %d expired resources", count)
		b.triggerOutbox()
	}
	return count, nil
}
