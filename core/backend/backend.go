// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/patrickmn/go-cache"

	"github.com/relabs-tech/appseed/core"
	"github.com/relabs-tech/appseed/core/access"
	"github.com/relabs-tech/appseed/core/backend/kss"
	"github.com/relabs-tech/appseed/core/csql"
	"github.com/relabs-tech/appseed/core/logger"
	"github.com/relabs-tech/appseed/core/notify"
)

// Backend is the resource backend for apps
type Backend struct {
	db                   *csql.DB
	router               *mux.Router
	kss                  kss.Driver
	publisher            notify.Publisher
	authorizationEnabled bool
	updateSchema         bool
	now                  func() time.Time

	// apps caches *app by app id
	apps *cache.Cache

	outboxConcurrency       int
	hasJobsToProcess        bool
	hasJobsToProcessLock    sync.Mutex
	processJobsAsyncRuns    bool
	processJobsAsyncTrigger chan struct{}
}

// Builder is a builder helper for the Backend
type Builder struct {
	// DB is a postgres database. This is mandatory.
	DB *csql.DB
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// KssConfiguration selects the blob store for asset bytes. Either this or KssDriver is mandatory.
	KssConfiguration *kss.Configuration
	// KssDriver is an already created blob store. It takes precedence over KssConfiguration.
	KssDriver kss.Driver
	// Publisher receives resource notifications through the outbox. This is optional.
	Publisher notify.Publisher
	// If AuthorizationEnabled is true, the backend requires an access.Authorization in each request
	// context. Resource operations are checked against the roles of the resource definition and
	// app level operations need the admin role.
	AuthorizationEnabled bool
	// UpdateSchema creates or updates the SQL tables.
	UpdateSchema bool
	// OutboxConcurrency is the number of concurrent outbox workers. Default is 4.
	OutboxConcurrency int
	// Clock returns the current time. Default is time.Now.
	Clock func() time.Time
}

// New realizes the actual backend. It creates the sql relations (if requested) and
// adds the routes to the router
func New(bb *Builder) *Backend {
	if bb.DB == nil {
		panic("DB is missing")
	}
	if bb.Router == nil {
		panic("Router is missing")
	}

	b := &Backend{
		db:                   bb.DB,
		router:               bb.Router,
		kss:                  bb.KssDriver,
		publisher:            bb.Publisher,
		authorizationEnabled: bb.AuthorizationEnabled,
		updateSchema:         bb.UpdateSchema,
		now:                  bb.Clock,
		apps:                 cache.New(5*time.Minute, 10*time.Minute),
		outboxConcurrency:    bb.OutboxConcurrency,
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.outboxConcurrency <= 0 {
		b.outboxConcurrency = 4
	}
	if b.kss == nil {
		if bb.KssConfiguration == nil {
			panic("KSS is missing")
		}
		if err := b.configureKSS(*bb.KssConfiguration); err != nil {
			panic(err)
		}
	}

	if b.updateSchema {
		b.createTables()
	}

	b.handleCORS()
	b.handleCompression()
	logger.AddRequestID(b.router)
	access.HandleAuthorizationRoute(b.router)
	b.handleVersion(b.router)
	b.handleApps(b.router)
	b.handleMembers(b.router)
	b.handleResources(b.router)
	b.handleAssets(b.router)
	b.handleReseed(b.router)
	b.handleSubscriptions(b.router)
	b.handleOutbox()
	return b
}

// Close closes the publisher, if any
func (b *Backend) Close() error {
	if b.publisher != nil {
		return b.publisher.Close()
	}
	return nil
}

// Now returns the current time of the backend, in UTC and truncated to milliseconds
func (b *Backend) Now() time.Time {
	return b.now().UTC().Truncate(time.Millisecond)
}

func (b *Backend) createTables() {
	s := b.db.Schema
	_, err := b.db.Exec(`CREATE table IF NOT EXISTS ` + s + `.app
(app_id SERIAL PRIMARY KEY,
definition JSON NOT NULL,
demo_mode BOOLEAN NOT NULL DEFAULT false,
created_at TIMESTAMP NOT NULL,
updated_at TIMESTAMP NOT NULL
);
CREATE table IF NOT EXISTS ` + s + `.app_member
(app_member_id UUID PRIMARY KEY,
app_id INTEGER NOT NULL REFERENCES ` + s + `.app(app_id) ON DELETE CASCADE,
name VARCHAR NOT NULL DEFAULT '',
role VARCHAR NOT NULL DEFAULT '',
properties JSONB NOT NULL DEFAULT '{}'::jsonb,
created_at TIMESTAMP NOT NULL,
updated_at TIMESTAMP NOT NULL
);
CREATE table IF NOT EXISTS ` + s + `.resource_sequence
(app_id INTEGER NOT NULL REFERENCES ` + s + `.app(app_id) ON DELETE CASCADE,
type VARCHAR NOT NULL,
last_id INTEGER NOT NULL,
PRIMARY KEY(app_id, type)
);
CREATE table IF NOT EXISTS ` + s + `.resource
(app_id INTEGER NOT NULL REFERENCES ` + s + `.app(app_id) ON DELETE CASCADE,
type VARCHAR NOT NULL,
id INTEGER NOT NULL,
data JSONB NOT NULL,
seed BOOLEAN NOT NULL DEFAULT false,
ephemeral BOOLEAN NOT NULL DEFAULT false,
clonable BOOLEAN NOT NULL DEFAULT false,
expires_at TIMESTAMP,
author_id UUID,
editor_id UUID,
seed_resource_id INTEGER,
created_at TIMESTAMP NOT NULL,
updated_at TIMESTAMP NOT NULL,
PRIMARY KEY(app_id, type, id),
CHECK (NOT (seed AND ephemeral))
);
CREATE index IF NOT EXISTS resource_expires_at_index ON ` + s + `.resource(expires_at) WHERE expires_at IS NOT NULL;
CREATE table IF NOT EXISTS ` + s + `.resource_version
(resource_version_id UUID PRIMARY KEY,
app_id INTEGER NOT NULL,
type VARCHAR NOT NULL,
resource_id INTEGER NOT NULL,
app_member_id UUID,
data JSON,
created_at TIMESTAMP NOT NULL,
FOREIGN KEY (app_id, type, resource_id) REFERENCES ` + s + `.resource(app_id, type, id) ON DELETE CASCADE
);
CREATE table IF NOT EXISTS ` + s + `.asset
(asset_id UUID PRIMARY KEY,
app_id INTEGER NOT NULL REFERENCES ` + s + `.app(app_id) ON DELETE CASCADE,
resource_type VARCHAR,
resource_id INTEGER,
name VARCHAR,
filename VARCHAR,
mime VARCHAR NOT NULL,
size INTEGER NOT NULL,
clonable BOOLEAN NOT NULL DEFAULT false,
seed BOOLEAN NOT NULL DEFAULT false,
ephemeral BOOLEAN NOT NULL DEFAULT false,
created_at TIMESTAMP NOT NULL,
updated_at TIMESTAMP NOT NULL,
FOREIGN KEY (app_id, resource_type, resource_id) REFERENCES ` + s + `.resource(app_id, type, id) ON DELETE CASCADE,
CHECK (NOT (seed AND ephemeral))
);
CREATE index IF NOT EXISTS asset_resource_index ON ` + s + `.asset(app_id, resource_type, resource_id);
CREATE table IF NOT EXISTS ` + s + `.app_subscription
(app_subscription_id SERIAL PRIMARY KEY,
app_id INTEGER NOT NULL REFERENCES ` + s + `.app(app_id) ON DELETE CASCADE,
endpoint VARCHAR NOT NULL,
p256dh VARCHAR NOT NULL DEFAULT '',
auth VARCHAR NOT NULL DEFAULT '',
app_member_id UUID,
created_at TIMESTAMP NOT NULL,
updated_at TIMESTAMP NOT NULL,
UNIQUE(app_id, endpoint)
);
CREATE table IF NOT EXISTS ` + s + `.resource_subscription
(app_subscription_id INTEGER NOT NULL REFERENCES ` + s + `.app_subscription(app_subscription_id) ON DELETE CASCADE,
type VARCHAR NOT NULL,
action VARCHAR NOT NULL,
resource_id INTEGER,
created_at TIMESTAMP NOT NULL
);
CREATE UNIQUE index IF NOT EXISTS resource_subscription_type_index ON ` + s + `.resource_subscription(app_subscription_id, type, action) WHERE resource_id IS NULL;
CREATE UNIQUE index IF NOT EXISTS resource_subscription_resource_index ON ` + s + `.resource_subscription(app_subscription_id, type, action, resource_id) WHERE resource_id IS NOT NULL;
`)
	if err != nil {
		panic(err)
	}
	b.createOutboxTable()
}

// appFromRequest loads the app of the {appId} route variable
func (b *Backend) appFromRequest(r *http.Request) (*app, context.Context, error) {
	appID, err := strconv.Atoi(mux.Vars(r)["appId"])
	if err != nil {
		return nil, r.Context(), errAppNotFound
	}
	a, err := b.loadApp(r.Context(), appID)
	if err != nil {
		return nil, r.Context(), err
	}
	ctx, _ := logger.ContextWithLoggerApp(r.Context(), appID)
	return a, ctx, nil
}

// resourceFromRequest loads the app and the resource definition of the {type} route variable
func (b *Backend) resourceFromRequest(r *http.Request, operation core.Operation) (*app, *ResourceDefinition, context.Context, error) {
	a, ctx, err := b.appFromRequest(r)
	if err != nil {
		return nil, nil, ctx, err
	}
	typ := mux.Vars(r)["type"]
	rd, ok := a.Definition.Resources[typ]
	if !ok {
		return nil, nil, ctx, errUnknownType(typ)
	}
	if b.authorizationEnabled {
		auth := access.AuthorizationFromContext(ctx)
		if !auth.IsAuthorized(operation, rd.Roles) {
			return nil, nil, ctx, errForbidden()
		}
	}
	return a, rd, ctx, nil
}

func (b *Backend) requireAdmin(r *http.Request) error {
	if !b.authorizationEnabled {
		return nil
	}
	if !access.AuthorizationFromContext(r.Context()).HasRole(access.RoleAdmin) {
		return errForbidden()
	}
	return nil
}

// memberFromContext returns the authenticated app member, if any
func memberFromContext(ctx context.Context) *uuid.UUID {
	if id, ok := access.AuthorizationFromContext(ctx).Member(); ok {
		return &id
	}
	return nil
}

const timeLayout = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
