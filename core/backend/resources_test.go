package backend_test

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/appseed/core"
	"github.com/relabs-tech/appseed/core/access"
	"github.com/relabs-tech/appseed/core/client"
)

const personDefinition = `{
	"resources": {
		"person": {
			"schema": {
				"type": "object",
				"required": ["foo"],
				"additionalProperties": false,
				"properties": {
					"foo": {"type": "string"},
					"age": {"type": "integer"},
					"picture": {"type": "string", "format": "binary"}
				}
			},
			"history": true,
			"roles": {"create": ["$public"], "read": ["$public"], "list": ["$public"], "update": ["editor"]}
		}
	}
}`

func keys(m map[string]interface{}) []string {
	var res []string
	for k := range m {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}

func TestCreateResource(t *testing.T) {
	appID := createApp(t, personDefinition, false)

	status, created := request(t, testService.client, http.MethodPost, resourcePath(appID, "person"), map[string]interface{}{"foo": "bar"})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, []string{"$created", "$updated", "foo", "id"}, keys(created))
	assert.Equal(t, float64(1), created["id"])
	assert.Equal(t, "bar", created["foo"])
	assert.Equal(t, created["$created"], created["$updated"])

	status, read := request(t, testService.client, http.MethodGet, resourcePath(appID, "person", 1), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, created, read)
}

func TestCreateResourceMissingRequired(t *testing.T) {
	appID := createApp(t, personDefinition, false)

	status, body := request(t, testService.client, http.MethodPost, resourcePath(appID, "person"), map[string]interface{}{})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "JSON schema validation failed", body["message"])
	assert.Equal(t, "Bad Request", body["error"])
	errs := body["errors"].([]interface{})
	require.NotEmpty(t, errs)
	first := errs[0].(map[string]interface{})
	assert.Equal(t, "required", first["name"])
	assert.Equal(t, []interface{}{}, first["path"])
	for _, key := range []string{"argument", "instance", "message", "name", "path", "property", "schema", "stack"} {
		assert.Contains(t, first, key)
	}
}

func TestCreateResourceWithPassedExpiry(t *testing.T) {
	appID := createApp(t, personDefinition, false)
	testService.clock.Set(time.Date(1970, 1, 1, 0, 10, 0, 0, time.UTC))
	defer testService.clock.Reset()

	status, body := request(t, testService.client, http.MethodPost, resourcePath(appID, "person"), map[string]interface{}{
		"foo":      "bar",
		"$expires": "1970-01-01T00:05:00.000Z",
	})
	require.Equal(t, http.StatusBadRequest, status)
	errs := body["errors"].([]interface{})
	require.Len(t, errs, 1)
	assert.Equal(t, "has already passed", errs[0].(map[string]interface{})["message"])
	assert.Equal(t, []interface{}{"$expires"}, errs[0].(map[string]interface{})["path"])
}

func TestExpiredResourcesDisappear(t *testing.T) {
	appID := createApp(t, personDefinition, false)
	start := time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC)
	testService.clock.Set(start)
	defer testService.clock.Reset()

	status, created := request(t, testService.client, http.MethodPost, resourcePath(appID, "person"), map[string]interface{}{
		"foo":      "bar",
		"$expires": "1d",
	})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "2021-03-02T12:00:00.000Z", created["$expires"])

	testService.clock.Set(start.Add(25 * time.Hour))
	status, _ = request(t, testService.client, http.MethodGet, resourcePath(appID, "person", 1), nil)
	assert.Equal(t, http.StatusNotFound, status)

	purged, err := testService.backend.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, purged, 1)

	var count int
	require.NoError(t, testService.db.QueryRow(`SELECT COUNT(*) FROM `+testService.db.Table("resource")+
		` WHERE app_id = $1;`, appID).Scan(&count))
	assert.Zero(t, count)
}

func TestIdsAreNeverReused(t *testing.T) {
	appID := createApp(t, personDefinition, false)
	people := testService.client.App(appID).Resources("person")

	var created map[string]interface{}
	_, err := people.Create(map[string]interface{}{"foo": "a"}, &created)
	require.NoError(t, err)
	_, err = people.Create(map[string]interface{}{"foo": "b"}, &created)
	require.NoError(t, err)
	require.Equal(t, float64(2), created["id"])

	_, err = people.Delete(2)
	require.NoError(t, err)
	_, err = people.Create(map[string]interface{}{"foo": "c"}, &created)
	require.NoError(t, err)
	assert.Equal(t, float64(3), created["id"])

	var list []map[string]interface{}
	_, err = people.List(&list)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, float64(1), list[0]["id"])
	assert.Equal(t, float64(3), list[1]["id"])
}

func TestCreateList(t *testing.T) {
	appID := createApp(t, personDefinition, false)

	res, err := testService.client.RawRequest(http.MethodPost, resourcePath(appID, "person"), []map[string]interface{}{
		{"foo": "a"}, {"foo": "b", "age": 3},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	var list []map[string]interface{}
	require.NoError(t, res.Decode(&list))
	require.Len(t, list, 2)
	assert.Equal(t, float64(2), list[1]["id"])

	// one invalid element rejects the whole list
	status, body := request(t, testService.client, http.MethodPost, resourcePath(appID, "person"), []map[string]interface{}{
		{"foo": "c"}, {"age": 4},
	})
	require.Equal(t, http.StatusBadRequest, status)
	errs := body["errors"].([]interface{})
	assert.Equal(t, []interface{}{float64(1)}, errs[0].(map[string]interface{})["path"])

	var all []map[string]interface{}
	_, err = testService.client.App(appID).Resources("person").List(&all)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCreateCSV(t *testing.T) {
	appID := createApp(t, personDefinition, false)

	res, err := testService.client.Do(http.MethodPost, resourcePath(appID, "person"),
		map[string]string{"Content-Type": "text/csv"}, strings.NewReader("foo,age\nalice,31\nbob,40\n"))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(res.Body))
	var list []map[string]interface{}
	require.NoError(t, res.Decode(&list))
	require.Len(t, list, 2)
	assert.Equal(t, float64(31), list[0]["age"])
}

func TestUpdateAndHistory(t *testing.T) {
	appID := createApp(t, personDefinition, false)
	people := testService.client.App(appID).Resources("person")
	start := time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC)
	testService.clock.Set(start)
	defer testService.clock.Reset()

	_, err := people.Create(map[string]interface{}{"foo": "v1", "age": 1}, nil)
	require.NoError(t, err)

	testService.clock.Set(start.Add(time.Minute))
	var patched map[string]interface{}
	_, err = people.Patch(1, map[string]interface{}{"foo": "v2"}, &patched)
	require.NoError(t, err)
	assert.Equal(t, "v2", patched["foo"])
	assert.Equal(t, float64(1), patched["age"])
	assert.Equal(t, "2021-03-01T12:01:00.000Z", patched["$updated"])
	assert.Equal(t, "2021-03-01T12:00:00.000Z", patched["$created"])

	testService.clock.Set(start.Add(2 * time.Minute))
	var replaced map[string]interface{}
	_, err = people.Update(1, map[string]interface{}{"foo": "v3"}, &replaced)
	require.NoError(t, err)
	assert.NotContains(t, replaced, "age")

	var versions []map[string]interface{}
	_, err = people.History(1, &versions)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, map[string]interface{}{"foo": "v2", "age": float64(1)}, versions[0]["data"])
	assert.Equal(t, map[string]interface{}{"foo": "v1", "age": float64(1)}, versions[1]["data"])

	status, body := request(t, testService.client, http.MethodPatch, resourcePath(appID, "person", 1), map[string]interface{}{"foo": 12})
	require.Equal(t, http.StatusBadRequest, status)
	assert.NotEmpty(t, body["errors"])

	status, _ = request(t, testService.client, http.MethodPatch, resourcePath(appID, "person", 99), map[string]interface{}{"foo": "x"})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestUpdateDereferencesAssets(t *testing.T) {
	appID := createApp(t, personDefinition, false)
	app := testService.client.App(appID)
	people := app.Resources("person")

	var first, second map[string]interface{}
	_, err := people.CreateWithAssets(map[string]interface{}{"foo": "a", "picture": "0"},
		[]client.File{{Filename: "a.png", ContentType: "image/png", Data: []byte("a")}}, &first)
	require.NoError(t, err)
	kept := first["picture"].(string)
	_, err = people.CreateWithAssets(map[string]interface{}{"foo": "b", "picture": "0"},
		[]client.File{{Filename: "b.png", ContentType: "image/png", Data: []byte("b")}}, &second)
	require.NoError(t, err)
	replaced := second["picture"].(string)

	var standalone map[string]interface{}
	_, err = testService.client.PostMultipart(app.Path()+"/assets", nil,
		[]client.File{{Field: "file", Filename: "c.png", ContentType: "image/png", Data: []byte("c")}}, &standalone)
	require.NoError(t, err)
	replacement := standalone["id"].(string)

	// still referenced
	_, err = people.Update(1, map[string]interface{}{"foo": "a2", "picture": kept}, nil)
	require.NoError(t, err)
	status, _ := request(t, testService.client, http.MethodGet, app.Path()+"/assets/"+kept, nil)
	assert.Equal(t, http.StatusOK, status)

	// replaced by another asset
	_, err = people.Update(2, map[string]interface{}{"foo": "b2", "picture": replacement}, nil)
	require.NoError(t, err)
	status, _ = request(t, testService.client, http.MethodGet, app.Path()+"/assets/"+replaced, nil)
	assert.Equal(t, http.StatusNotFound, status)
	var assets []map[string]interface{}
	_, err = testService.client.RawGet(app.Path()+"/assets", &assets)
	require.NoError(t, err)
	owners := map[string]interface{}{}
	for _, as := range assets {
		owners[as["id"].(string)] = as["resourceId"]
	}
	assert.Equal(t, map[string]interface{}{kept: float64(1), replacement: float64(2)}, owners)

	// dropped
	_, err = people.Update(1, map[string]interface{}{"foo": "a3"}, nil)
	require.NoError(t, err)
	status, _ = request(t, testService.client, http.MethodGet, app.Path()+"/assets/"+kept, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = request(t, testService.client, http.MethodGet, app.Path()+"/assets/"+replacement, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestHistoryWithoutData(t *testing.T) {
	appID := createApp(t, `{
		"resources": {
			"note": {
				"schema": {"type": "object", "properties": {"text": {"type": "string"}}},
				"history": {"data": false}
			}
		}
	}`, false)
	notes := testService.client.App(appID).Resources("note")
	_, err := notes.Create(map[string]interface{}{"text": "secret"}, nil)
	require.NoError(t, err)
	_, err = notes.Update(1, map[string]interface{}{"text": "public"}, nil)
	require.NoError(t, err)

	var versions []map[string]interface{}
	_, err = notes.History(1, &versions)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.NotContains(t, versions[0], "data")

	var data []byte
	require.NoError(t, testService.db.QueryRow(`SELECT data FROM `+testService.db.Table("resource_version")+
		` WHERE app_id = $1;`, appID).Scan(&data))
	assert.Nil(t, data)
}

func TestBulkUpdate(t *testing.T) {
	appID := createApp(t, personDefinition, false)
	people := testService.client.App(appID).Resources("person")
	for _, foo := range []string{"a", "b"} {
		_, err := people.Create(map[string]interface{}{"foo": foo}, nil)
		require.NoError(t, err)
	}

	var updated []map[string]interface{}
	_, err := testService.client.RawPut(people.Path(), []map[string]interface{}{
		{"id": 1, "foo": "A"}, {"id": 2, "foo": "B"},
	}, &updated)
	require.NoError(t, err)
	require.Len(t, updated, 2)
	assert.Equal(t, "A", updated[0]["foo"])

	status, body := request(t, testService.client, http.MethodPut, people.Path(), []map[string]interface{}{
		{"id": 1, "foo": "x"}, {"id": 7, "foo": "y"},
	})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "One or more resources could not be found", body["message"])

	status, body = request(t, testService.client, http.MethodPut, people.Path(), []map[string]interface{}{{"foo": "x"}})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "There is a resource with a missing id", body["message"])

	status, body = request(t, testService.client, http.MethodPut, people.Path(), []map[string]interface{}{
		{"id": 1, "foo": "x"}, {"id": 2, "foo": "y"}, {"id": 1, "foo": "z"},
	})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "There are resources with duplicate ids", body["message"])
	require.Len(t, body["data"], 1)

	var versions []map[string]interface{}
	_, err = people.History(1, &versions)
	require.NoError(t, err)
	assert.Len(t, versions, 1)

	var one map[string]interface{}
	_, err = people.Read(1, &one)
	require.NoError(t, err)
	assert.Equal(t, "A", one["foo"])
}

func TestAuthorization(t *testing.T) {
	appID := createApp(t, personDefinition, false)
	anonymous := testService.clientNoAuth

	status, _ := request(t, anonymous, http.MethodPost, resourcePath(appID, "person"), map[string]interface{}{"foo": "bar"})
	require.Equal(t, http.StatusCreated, status)

	status, body := request(t, anonymous, http.MethodPatch, resourcePath(appID, "person", 1), map[string]interface{}{"foo": "baz"})
	require.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "User does not have sufficient permissions.", body["message"])

	status, _ = request(t, anonymous, http.MethodDelete, resourcePath(appID, "person", 1), nil)
	assert.Equal(t, http.StatusForbidden, status)

	editor := testService.clientNoAuth.WithAuthorization(&access.Authorization{Roles: []string{"editor"}})
	status, _ = request(t, editor, http.MethodPatch, resourcePath(appID, "person", 1), map[string]interface{}{"foo": "baz"})
	assert.Equal(t, http.StatusOK, status)

	status, _ = request(t, anonymous, http.MethodPost, resourcePath(appID, "person")+"?seed=true", map[string]interface{}{"foo": "bar"})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = request(t, anonymous, http.MethodPost, "/apps", map[string]interface{}{"definition": map[string]interface{}{}})
	assert.Equal(t, http.StatusForbidden, status)
}

func TestUnknownAppAndType(t *testing.T) {
	appID := createApp(t, personDefinition, false)

	status, body := request(t, testService.client, http.MethodGet, resourcePath(appID, "nope"), nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "App does not have resources called nope", body["message"])

	status, body = request(t, testService.client, http.MethodGet, resourcePath(appID+1000, "person"), nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "App not found", body["message"])
}

func TestNotificationsArePublished(t *testing.T) {
	appID := createApp(t, personDefinition, false)
	people := testService.client.App(appID).Resources("person")

	_, err := people.Create(map[string]interface{}{"foo": "bar"}, nil)
	require.NoError(t, err)
	_, err = people.Patch(1, map[string]interface{}{"foo": "baz"}, nil)
	require.NoError(t, err)
	_, err = people.Delete(1)
	require.NoError(t, err)

	testService.backend.ProcessOutboxSync(0)

	messages := testService.published.ofApp(appID)
	require.Len(t, messages, 3)
	var actions []core.Operation
	for _, m := range messages {
		assert.Equal(t, "person", m.Type)
		assert.Equal(t, 1, m.ResourceID)
		actions = append(actions, m.Action)
	}
	assert.ElementsMatch(t, []core.Operation{core.OperationCreate, core.OperationUpdate, core.OperationDelete}, actions)

	health, err := testService.backend.Health(context.Background())
	require.NoError(t, err)
	assert.Zero(t, health.Outbox.Pending)
}

func TestVersion(t *testing.T) {
	requireService(t)
	var version struct {
		Version string `json:"version"`
	}
	_, err := testService.client.RawGet("/version", &version)
	require.NoError(t, err)
	assert.Equal(t, "unset", version.Version)
}
