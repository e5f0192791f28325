package backend

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionStateTypeLevel(t *testing.T) {
	state := subscriptionState([]string{"person", "pet"}, []subscriptionRow{
		{Type: "person", Action: "create"},
		{Type: "removed", Action: "create"},
	})
	data, err := json.Marshal(state)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"person": {"create": true, "update": false, "delete": false},
		"pet": {"create": false, "update": false, "delete": false}
	}`, string(data))
}

func TestSubscriptionStateResourceLevel(t *testing.T) {
	id := 4
	state := subscriptionState([]string{"person"}, []subscriptionRow{
		{Type: "person", Action: "update", ResourceID: &id},
		{Type: "person", Action: "delete"},
	})
	data, err := json.Marshal(state)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"person": {
			"create": false, "update": false, "delete": true,
			"subscriptions": {"4": {"create": false, "update": true, "delete": false}}
		}
	}`, string(data))
}
