// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"context"
	"database/sql"
	"io"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/appseed/core"
	"github.com/relabs-tech/appseed/core/logger"
)

var errSubscriptionNotFound = errNotFound("Subscription not found")

type subscriptionRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

type toggleRequest struct {
	Endpoint   string      `json:"endpoint"`
	Resource   string      `json:"resource"`
	Action     string      `json:"action"`
	ResourceID interface{} `json:"resourceId"`
	Value      *bool       `json:"value"`
}

// subscriptionRow is a row of resource_subscription. ResourceID is nil for
// subscriptions to a whole resource type.
type subscriptionRow struct {
	Type       string
	Action     string
	ResourceID *int
}

// subscriptionState builds the subscription response for the given resource types:
// per type the create, update and delete flags, plus a subscriptions map keyed by
// resource id when there are subscriptions to single resources.
func subscriptionState(types []string, rows []subscriptionRow) map[string]interface{} {
	state := map[string]map[string]interface{}{}
	for _, typ := range types {
		flags := map[string]interface{}{}
		for _, action := range core.SubscriptionActions {
			flags[string(action)] = false
		}
		state[typ] = flags
	}
	for _, row := range rows {
		flags, ok := state[row.Type]
		if !ok {
			continue
		}
		if row.ResourceID == nil {
			flags[row.Action] = true
			continue
		}
		perResource, _ := flags["subscriptions"].(map[string]map[string]bool)
		if perResource == nil {
			perResource = map[string]map[string]bool{}
			flags["subscriptions"] = perResource
		}
		id := strconv.Itoa(*row.ResourceID)
		if perResource[id] == nil {
			entry := make(map[string]bool, len(core.SubscriptionActions))
			for _, action := range core.SubscriptionActions {
				entry[string(action)] = false
			}
			perResource[id] = entry
		}
		perResource[id][row.Action] = true
	}
	result := make(map[string]interface{}, len(state))
	for typ, flags := range state {
		result[typ] = flags
	}
	return result
}

func (b *Backend) handleSubscriptions(router *mux.Router) {
	logger.Default().Debugln("subscriptions")
	logger.Default().Debugln("  handle route: /apps/{appId}/subscriptions POST,PATCH,GET")
	router.HandleFunc("/apps/{appId}/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.registerSubscription(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)
	router.HandleFunc("/apps/{appId}/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.toggleSubscription(w, r)
	}).Methods(http.MethodOptions, http.MethodPatch)
	router.HandleFunc("/apps/{appId}/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.getSubscriptions(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)
}

// registerSubscription creates or refreshes a push endpoint of an app
func (b *Backend) registerSubscription(w http.ResponseWriter, r *http.Request) {
	a, ctx, err := b.appFromRequest(r)
	if err != nil {
		writeError(w, r, "4201", err)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, "4202", errBadRequest("cannot read body: %s", err.Error()))
		return
	}
	var req subscriptionRequest
	if err = json.Unmarshal(body, &req); err != nil {
		writeError(w, r, "4202", errBadRequest("invalid subscription: %s", err.Error()))
		return
	}
	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		writeError(w, r, "4202", errBadRequest("endpoint and keys are required"))
		return
	}
	var id int
	now := b.Now()
	err = b.db.QueryRowContext(ctx, `INSERT INTO `+b.db.Table("app_subscription")+` AS s
(app_id, endpoint, p256dh, auth, app_member_id, created_at, updated_at) VALUES($1,$2,$3,$4,$5,$6,$6)
ON CONFLICT (app_id, endpoint) DO UPDATE SET p256dh = $3, auth = $4,
app_member_id = COALESCE($5, s.app_member_id), updated_at = $6
RETURNING app_subscription_id;`,
		a.ID, req.Endpoint, req.Keys.P256dh, req.Keys.Auth, memberFromContext(ctx), now).Scan(&id)
	if err != nil {
		writeError(w, r, "4203", err)
		return
	}
	logger.FromContext(ctx).Infof("registered subscription %d", id)
	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": id, "endpoint": req.Endpoint})
}

func (b *Backend) subscriptionID(ctx context.Context, q queryer, appID int, endpoint string) (int, error) {
	var id int
	err := q.QueryRowContext(ctx, `SELECT app_subscription_id FROM `+b.db.Table("app_subscription")+
		` WHERE app_id = $1 AND endpoint = $2;`, appID, endpoint).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, errSubscriptionNotFound
	}
	return id, err
}

// toggleSubscription subscribes or unsubscribes an endpoint to an action of a resource
// type or of a single resource. A missing value flips the current state.
func (b *Backend) toggleSubscription(w http.ResponseWriter, r *http.Request) {
	a, ctx, err := b.appFromRequest(r)
	if err != nil {
		writeError(w, r, "4204", err)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, "4205", errBadRequest("cannot read body: %s", err.Error()))
		return
	}
	var req toggleRequest
	if err = json.Unmarshal(body, &req); err != nil {
		writeError(w, r, "4205", errBadRequest("invalid subscription update: %s", err.Error()))
		return
	}
	if _, ok := a.Definition.Resources[req.Resource]; !ok {
		writeError(w, r, "4206", errBadRequest("App does not have resources called %s", req.Resource))
		return
	}
	action := core.Operation(req.Action)
	if !action.IsSubscriptionAction() {
		writeError(w, r, "4206", errBadRequest("Invalid action %s", req.Action))
		return
	}
	var resourceID *int
	if req.ResourceID != nil {
		id, ok := referenceID(req.ResourceID)
		if !ok {
			writeError(w, r, "4206", errBadRequest("Invalid resourceId"))
			return
		}
		resourceID = &id
	}

	err = b.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		subscription, err := b.subscriptionID(ctx, tx, a.ID, req.Endpoint)
		if err != nil {
			return err
		}
		if resourceID != nil {
			if _, err = b.selectResource(ctx, tx, a, req.Resource, *resourceID, false); err != nil {
				return err
			}
		}
		var exists bool
		err = tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM `+b.db.Table("resource_subscription")+`
WHERE app_subscription_id = $1 AND type = $2 AND action = $3 AND resource_id IS NOT DISTINCT FROM $4);`,
			subscription, req.Resource, string(action), resourceID).Scan(&exists)
		if err != nil {
			return err
		}
		subscribe := !exists
		if req.Value != nil {
			subscribe = *req.Value
		}
		switch {
		case subscribe && !exists:
			_, err = tx.ExecContext(ctx, `INSERT INTO `+b.db.Table("resource_subscription")+`
(app_subscription_id, type, action, resource_id, created_at) VALUES($1,$2,$3,$4,$5) ON CONFLICT DO NOTHING;`,
				subscription, req.Resource, string(action), resourceID, b.Now())
		case !subscribe && exists:
			_, err = tx.ExecContext(ctx, `DELETE FROM `+b.db.Table("resource_subscription")+`
WHERE app_subscription_id = $1 AND type = $2 AND action = $3 AND resource_id IS NOT DISTINCT FROM $4;`,
				subscription, req.Resource, string(action), resourceID)
		}
		return err
	})
	if err != nil {
		writeError(w, r, "4207", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getSubscriptions returns the subscription state of an endpoint
func (b *Backend) getSubscriptions(w http.ResponseWriter, r *http.Request) {
	a, ctx, err := b.appFromRequest(r)
	if err != nil {
		writeError(w, r, "4208", err)
		return
	}
	endpoint := r.URL.Query().Get("endpoint")
	if endpoint == "" {
		writeError(w, r, "4209", errBadRequest("endpoint is required"))
		return
	}
	subscription, err := b.subscriptionID(ctx, b.db, a.ID, endpoint)
	if err != nil {
		writeError(w, r, "4210", err)
		return
	}
	rows, err := b.db.QueryContext(ctx, `SELECT type, action, resource_id FROM `+b.db.Table("resource_subscription")+
		` WHERE app_subscription_id = $1;`, subscription)
	if err != nil {
		writeError(w, r, "4211", err)
		return
	}
	var list []subscriptionRow
	err = func() error {
		defer rows.Close()
		for rows.Next() {
			var row subscriptionRow
			if err := rows.Scan(&row.Type, &row.Action, &row.ResourceID); err != nil {
				return err
			}
			list = append(list, row)
		}
		return rows.Err()
	}()
	if err != nil {
		writeError(w, r, "4211", err)
		return
	}
	writeJSON(w, http.StatusOK, subscriptionState(a.Definition.resourceTypes(), list))
}
