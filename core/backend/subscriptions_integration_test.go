package backend_test

import (
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const subscriptionDefinition = `{
	"resources": {
		"person": {"schema": {"type": "object", "properties": {"foo": {"type": "string"}}}}
	}
}`

func registerEndpoint(t *testing.T, appID int, endpoint string) {
	t.Helper()
	_, err := testService.client.RawPost("/apps/"+strconv.Itoa(appID)+"/subscriptions", map[string]interface{}{
		"endpoint": endpoint,
		"keys":     map[string]string{"p256dh": "key", "auth": "secret"},
	}, nil)
	require.NoError(t, err)
}

func subscriptionState(t *testing.T, appID int, endpoint string) map[string]interface{} {
	t.Helper()
	var state map[string]interface{}
	_, err := testService.client.RawGet("/apps/"+strconv.Itoa(appID)+"/subscriptions?endpoint="+endpoint, &state)
	require.NoError(t, err)
	return state
}

func TestSubscriptionToggle(t *testing.T) {
	appID := createApp(t, subscriptionDefinition, false)
	path := "/apps/" + strconv.Itoa(appID) + "/subscriptions"
	endpoint := "https://push.example.com/1"
	registerEndpoint(t, appID, endpoint)

	_, err := testService.client.RawPatch(path, map[string]interface{}{
		"endpoint": endpoint, "resource": "person", "action": "create", "value": true,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"person": map[string]interface{}{"create": true, "delete": false, "update": false},
	}, subscriptionState(t, appID, endpoint))

	// without value the state flips
	_, err = testService.client.RawPatch(path, map[string]interface{}{
		"endpoint": endpoint, "resource": "person", "action": "create",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, false, subscriptionState(t, appID, endpoint)["person"].(map[string]interface{})["create"])

	// setting twice is idempotent
	for i := 0; i < 2; i++ {
		_, err = testService.client.RawPatch(path, map[string]interface{}{
			"endpoint": endpoint, "resource": "person", "action": "delete", "value": true,
		}, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, true, subscriptionState(t, appID, endpoint)["person"].(map[string]interface{})["delete"])
}

func TestResourceSubscriptions(t *testing.T) {
	appID := createApp(t, subscriptionDefinition, false)
	path := "/apps/" + strconv.Itoa(appID) + "/subscriptions"
	endpoint := "https://push.example.com/2"
	registerEndpoint(t, appID, endpoint)
	people := testService.client.App(appID).Resources("person")
	_, err := people.Create(map[string]interface{}{"foo": "bar"}, nil)
	require.NoError(t, err)

	_, err = testService.client.RawPatch(path, map[string]interface{}{
		"endpoint": endpoint, "resource": "person", "action": "update", "resourceId": 1, "value": true,
	}, nil)
	require.NoError(t, err)

	person := subscriptionState(t, appID, endpoint)["person"].(map[string]interface{})
	assert.Equal(t, false, person["update"])
	assert.Equal(t, map[string]interface{}{
		"1": map[string]interface{}{"create": false, "update": true, "delete": false},
	}, person["subscriptions"])

	_, err = people.Delete(1)
	require.NoError(t, err)
	person = subscriptionState(t, appID, endpoint)["person"].(map[string]interface{})
	assert.NotContains(t, person, "subscriptions")

	status, body := request(t, testService.client, http.MethodPatch, path, map[string]interface{}{
		"endpoint": endpoint, "resource": "person", "action": "update", "resourceId": 1, "value": true,
	})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Resource not found", body["message"])
}

func TestSubscriptionErrors(t *testing.T) {
	appID := createApp(t, subscriptionDefinition, false)
	path := "/apps/" + strconv.Itoa(appID) + "/subscriptions"
	endpoint := "https://push.example.com/3"
	registerEndpoint(t, appID, endpoint)

	status, body := request(t, testService.client, http.MethodPatch, path, map[string]interface{}{
		"endpoint": "https://unknown.example.com", "resource": "person", "action": "create",
	})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Subscription not found", body["message"])

	status, _ = request(t, testService.client, http.MethodPatch, path, map[string]interface{}{
		"endpoint": endpoint, "resource": "unicorn", "action": "create",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = request(t, testService.client, http.MethodPatch, path, map[string]interface{}{
		"endpoint": endpoint, "resource": "person", "action": "read",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = request(t, testService.client, http.MethodGet, path+"?endpoint=https://unknown.example.com", nil)
	assert.Equal(t, http.StatusNotFound, status)
}
