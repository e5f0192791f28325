// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/appseed/core/logger"
	"github.com/relabs-tech/appseed/core/schema"
)

func (b *Backend) handleReseed(router *mux.Router) {
	logger.Default().Debugln("reseed")
	logger.Default().Debugln("  handle route: /apps/{appId}/reseed POST")
	router.HandleFunc("/apps/{appId}/reseed", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.reseed(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)
}

// remapTable maps ids of a reseed. seeds maps type and seed id to the id of the new
// ephemeral copy, ephemeral maps type and the id of a deleted ephemeral copy to its seed.
type remapTable struct {
	seeds     map[string]map[int]int
	ephemeral map[string]map[int]int
}

func newRemapTable() remapTable {
	return remapTable{seeds: map[string]map[int]int{}, ephemeral: map[string]map[int]int{}}
}

func (t remapTable) addSeed(typ string, seedID, newID int) {
	if t.seeds[typ] == nil {
		t.seeds[typ] = map[int]int{}
	}
	t.seeds[typ][seedID] = newID
}

func (t remapTable) addEphemeral(typ string, oldID, seedID int) {
	if t.ephemeral[typ] == nil {
		t.ephemeral[typ] = map[int]int{}
	}
	t.ephemeral[typ][oldID] = seedID
}

// resolve returns the new ephemeral id for a seed id or for the id of a previous copy
func (t remapTable) resolve(typ string, id int) (int, bool) {
	if n, ok := t.seeds[typ][id]; ok {
		return n, true
	}
	if seedID, ok := t.ephemeral[typ][id]; ok {
		n, ok := t.seeds[typ][seedID]
		return n, ok
	}
	return 0, false
}

// referenceID reads a resource id stored as number or decimal string
func referenceID(value interface{}) (int, bool) {
	switch v := value.(type) {
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
	case int:
		return v, true
	case string:
		if id, err := strconv.Atoi(v); err == nil {
			return id, true
		}
	}
	return 0, false
}

// withID returns id in the representation of like
func withID(like interface{}, id int) interface{} {
	if _, ok := like.(string); ok {
		return strconv.Itoa(id)
	}
	return id
}

// remapReferences rewrites the declared reference fields of data. Values without a
// mapping are left untouched.
func remapReferences(data map[string]interface{}, references map[string]ReferenceDefinition, t remapTable) {
	remap := func(typ string, value interface{}) interface{} {
		if id, ok := referenceID(value); ok {
			if n, ok := t.resolve(typ, id); ok {
				return withID(value, n)
			}
		}
		return value
	}
	for field, ref := range references {
		value, ok := data[field]
		if !ok || value == nil {
			continue
		}
		if list, ok := value.([]interface{}); ok {
			for i := range list {
				list[i] = remap(ref.Resource, list[i])
			}
			continue
		}
		data[field] = remap(ref.Resource, value)
	}
}

// remapMemberProperties rewrites member properties which reference resources. A single
// reference without a mapping becomes 0, an array with any unmapped reference becomes
// empty. It returns true if properties changed.
func remapMemberProperties(properties map[string]interface{}, references map[string]string, t remapTable) bool {
	changed := false
	for name, typ := range references {
		value, ok := properties[name]
		if !ok || value == nil {
			continue
		}
		if list, ok := value.([]interface{}); ok {
			remapped := make([]interface{}, 0, len(list))
			for _, item := range list {
				id, ok := referenceID(item)
				if !ok {
					remapped = nil
					break
				}
				n, ok := t.resolve(typ, id)
				if !ok {
					remapped = nil
					break
				}
				remapped = append(remapped, withID(item, n))
			}
			if remapped == nil {
				remapped = []interface{}{}
			}
			properties[name] = remapped
			changed = true
			continue
		}
		if id, ok := referenceID(value); ok {
			if n, ok := t.resolve(typ, id); ok {
				properties[name] = withID(value, n)
			} else {
				properties[name] = 0
			}
			changed = true
		}
	}
	return changed
}

func (b *Backend) reseed(w http.ResponseWriter, r *http.Request) {
	if err := b.requireAdmin(r); err != nil {
		writeError(w, r, "4701", err)
		return
	}
	appID, err := strconv.Atoi(mux.Vars(r)["appId"])
	if err != nil {
		writeError(w, r, "4702", errAppNotFound)
		return
	}
	ctx, rlog := logger.ContextWithLoggerApp(r.Context(), appID)

	bw := &blobWriter{b: b, appID: appID}
	var removed []uuid.UUID
	err = b.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		var (
			definition []byte
			demoMode   bool
		)
		err := tx.QueryRowContext(ctx, `SELECT definition, demo_mode FROM `+b.db.Table("app")+
			` WHERE app_id = $1 FOR UPDATE;`, appID).Scan(&definition, &demoMode)
		if err == sql.ErrNoRows {
			return errAppNotFound
		}
		if err != nil {
			return err
		}
		if !demoMode {
			return errBadRequest("App is not in demo mode")
		}
		def, err := parseAppDefinition(definition)
		if err != nil {
			return err
		}
		removed, err = b.reseedTx(ctx, tx, bw, appID, def, b.Now())
		return err
	})
	if err != nil {
		bw.rollback(ctx)
		writeError(w, r, "4703", err)
		return
	}
	b.deleteBlobs(ctx, appID, removed)
	rlog.Infof("reseeded app %d", appID)
	w.WriteHeader(http.StatusNoContent)
}

// reseedTx replaces the ephemeral resources and assets of a demo app with fresh copies of
// its seeds. It returns the ids of the deleted ephemeral assets.
func (b *Backend) reseedTx(ctx context.Context, tx *sql.Tx, bw *blobWriter, appID int, def *AppDefinition, now time.Time) ([]uuid.UUID, error) {
	rlog := logger.FromContext(ctx)
	table := newRemapTable()

	rows, err := tx.QueryContext(ctx, `SELECT type, id, seed_resource_id FROM `+b.db.Table("resource")+
		` WHERE app_id = $1 AND ephemeral AND seed_resource_id IS NOT NULL;`, appID)
	if err != nil {
		return nil, err
	}
	err = func() error {
		defer rows.Close()
		for rows.Next() {
			var (
				typ        string
				id, seedID int
			)
			if err := rows.Scan(&typ, &id, &seedID); err != nil {
				return err
			}
			table.addEphemeral(typ, id, seedID)
		}
		return rows.Err()
	}()
	if err != nil {
		return nil, err
	}

	removed, err := b.queryUUIDs(ctx, tx, `DELETE FROM `+b.db.Table("asset")+
		` WHERE app_id = $1 AND ephemeral RETURNING asset_id;`, appID)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM `+b.db.Table("resource_subscription")+` rs
USING `+b.db.Table("app_subscription")+` s, `+b.db.Table("resource")+` r
WHERE rs.app_subscription_id = s.app_subscription_id AND s.app_id = $1
AND r.app_id = $1 AND r.type = rs.type AND r.id = rs.resource_id AND r.ephemeral;`, appID)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM `+b.db.Table("resource")+` WHERE app_id = $1 AND ephemeral;`, appID)
	if err != nil {
		return nil, err
	}

	rows, err = tx.QueryContext(ctx, `SELECT `+resourceColumns+` FROM `+b.db.Table("resource")+
		` WHERE app_id = $1 AND seed ORDER BY type, id;`, appID)
	if err != nil {
		return nil, err
	}
	seeds, err := scanResources(rows)
	if err != nil {
		return nil, err
	}
	for _, seed := range seeds {
		newID, err := b.nextResourceID(ctx, tx, appID, seed.Type)
		if err != nil {
			return nil, err
		}
		table.addSeed(seed.Type, seed.ID, newID)
	}

	rows, err = tx.QueryContext(ctx, `SELECT `+assetColumns+` FROM `+b.db.Table("asset")+
		` WHERE app_id = $1 AND seed ORDER BY created_at, asset_id;`, appID)
	if err != nil {
		return nil, err
	}
	seedAssets, err := scanAssets(rows)
	if err != nil {
		return nil, err
	}
	assetCopies := map[string]string{}
	var newAssets []*asset
	for _, original := range seedAssets {
		duplicate := *original
		duplicate.ID = uuid.New()
		duplicate.Seed = false
		duplicate.Ephemeral = true
		duplicate.CreatedAt = now
		duplicate.UpdatedAt = now
		if original.ResourceType != nil && original.ResourceID != nil {
			if n, ok := table.resolve(*original.ResourceType, *original.ResourceID); ok {
				duplicate.ResourceID = &n
			} else {
				duplicate.ResourceType = nil
				duplicate.ResourceID = nil
			}
		}
		if err = bw.copy(ctx, original.ID, duplicate.ID); err != nil {
			return nil, err
		}
		assetCopies[original.ID.String()] = duplicate.ID.String()
		newAssets = append(newAssets, &duplicate)
	}

	for _, seed := range seeds {
		seedID := seed.ID
		newID, _ := table.resolve(seed.Type, seed.ID)
		copied := &resource{
			Type:           seed.Type,
			ID:             newID,
			Data:           cloneDoc(seed.Data),
			Ephemeral:      true,
			Clonable:       seed.Clonable,
			ExpiresAt:      seed.ExpiresAt,
			AuthorID:       seed.AuthorID,
			SeedResourceID: &seedID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if rd, ok := def.Resources[seed.Type]; ok {
			remapReferences(copied.Data, rd.References, table)
			schema.VisitBinary(copied.Data, rd.schema.BinaryPointers(), func(path []interface{}, value interface{}) interface{} {
				if s, ok := value.(string); ok {
					if replacement, ok := assetCopies[s]; ok {
						return replacement
					}
				}
				return value
			})
		}
		if err = b.insertResource(ctx, tx, appID, copied); err != nil {
			return nil, err
		}
	}
	for _, as := range newAssets {
		if err = b.insertAsset(ctx, tx, appID, as); err != nil {
			return nil, err
		}
	}

	memberReferences := def.memberReferences()
	if len(memberReferences) > 0 {
		if err = b.remapMembers(ctx, tx, appID, memberReferences, table, now); err != nil {
			return nil, err
		}
	}
	rlog.Infof("reseed: %d resources, %d assets copied, %d assets removed", len(seeds), len(newAssets), len(removed))
	return removed, nil
}

// remapMembers rewrites the reference properties of all members of an app
func (b *Backend) remapMembers(ctx context.Context, tx *sql.Tx, appID int, references map[string]string, table remapTable, now time.Time) error {
	type memberProperties struct {
		id         uuid.UUID
		properties map[string]interface{}
	}
	rows, err := tx.QueryContext(ctx, `SELECT app_member_id, properties FROM `+b.db.Table("app_member")+
		` WHERE app_id = $1 FOR UPDATE;`, appID)
	if err != nil {
		return err
	}
	var members []memberProperties
	err = func() error {
		defer rows.Close()
		for rows.Next() {
			var (
				m    memberProperties
				data []byte
			)
			if err := rows.Scan(&m.id, &data); err != nil {
				return err
			}
			if err := json.Unmarshal(data, &m.properties); err != nil {
				return err
			}
			members = append(members, m)
		}
		return rows.Err()
	}()
	if err != nil {
		return err
	}

	for _, m := range members {
		if m.properties == nil || !remapMemberProperties(m.properties, references, table) {
			continue
		}
		data, err := json.Marshal(m.properties)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE `+b.db.Table("app_member")+` SET properties = $3, updated_at = $4
WHERE app_id = $1 AND app_member_id = $2;`, appID, m.id, data, now)
		if err != nil {
			return err
		}
	}
	return nil
}
