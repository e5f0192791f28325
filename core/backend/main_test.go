package backend_test

import (
	"context"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/appseed/core/backend"
	"github.com/relabs-tech/appseed/core/backend/kss"
	"github.com/relabs-tech/appseed/core/client"
	"github.com/relabs-tech/appseed/core/csql"
	"github.com/relabs-tech/appseed/core/notify"
)

// TestService is the backend the integration tests run against
type TestService struct {
	Postgres         string `env:"POSTGRES,optional" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,optional" description:"password to the Postgres DB"`

	backend      *backend.Backend
	db           *csql.DB
	client       client.Client
	clientNoAuth client.Client
	clock        *testClock
	published    *recordingPublisher
}

var testService TestService

// testClock returns the real time unless a time is set
type testClock struct {
	mutex sync.Mutex
	now   *time.Time
}

func (c *testClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.now != nil {
		return *c.now
	}
	return time.Now()
}

func (c *testClock) Set(t time.Time) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.now = &t
}

func (c *testClock) Reset() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.now = nil
}

type recordingPublisher struct {
	mutex    sync.Mutex
	messages []notify.Message
}

func (p *recordingPublisher) Publish(ctx context.Context, m notify.Message) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.messages = append(p.messages, m)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) ofApp(appID int) []notify.Message {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	var res []notify.Message
	for _, m := range p.messages {
		if m.AppID == appID {
			res = append(res, m)
		}
	}
	return res
}

func TestMain(m *testing.M) {
	if err := envdecode.Decode(&testService); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		panic(err)
	}
	if testService.Postgres == "" {
		// without a database only the unit tests run
		os.Exit(m.Run())
	}

	db := csql.OpenWithSchema(testService.Postgres, testService.PostgresPassword, "_appseed_unit_test_")
	db.ClearSchema()

	dir, err := os.MkdirTemp("", "appseed-kss")
	if err != nil {
		panic(err)
	}

	router := mux.NewRouter()
	testService.db = db
	testService.clock = &testClock{}
	testService.published = &recordingPublisher{}
	testService.backend = backend.New(&backend.Builder{
		DB:                   db,
		Router:               router,
		AuthorizationEnabled: true,
		UpdateSchema:         true,
		Publisher:            testService.published,
		Clock:                testService.clock.Now,
		KssConfiguration: &kss.Configuration{
			DriverType:         kss.DriverTypeLocal,
			LocalConfiguration: &kss.LocalConfiguration{BasePath: dir},
		},
	})
	testService.client = client.NewWithRouter(router).WithAdminAuthorization()
	testService.clientNoAuth = client.NewWithRouter(router)

	code := m.Run()
	db.Close()
	os.RemoveAll(dir)
	os.Exit(code)
}

func requireService(t *testing.T) {
	t.Helper()
	if testService.backend == nil {
		t.Skip("POSTGRES is not set")
	}
}

// createApp creates an app and returns its id
func createApp(t *testing.T, definition string, demoMode bool) int {
	t.Helper()
	requireService(t)
	var result struct {
		ID int `json:"id"`
	}
	_, err := testService.client.RawPost("/apps", map[string]interface{}{
		"definition": json.RawMessage(definition),
		"demoMode":   demoMode,
	}, &result)
	require.NoError(t, err)
	require.NotZero(t, result.ID)
	return result.ID
}

// request sends body as JSON and returns the status and the decoded response body
func request(t *testing.T, c client.Client, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	res, err := c.RawRequest(method, path, body)
	require.NoError(t, err)
	var decoded map[string]interface{}
	if len(res.Body) > 0 && res.Body[0] == '{' {
		require.NoError(t, res.Decode(&decoded))
	}
	return res.StatusCode, decoded
}

func resourcePath(appID int, typ string, id ...int) string {
	p := "/apps/" + strconv.Itoa(appID) + "/resources/" + typ
	for _, i := range id {
		p += "/" + strconv.Itoa(i)
	}
	return p
}
