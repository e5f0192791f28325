package core

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
)

func TestOperationUnmarshal(t *testing.T) {
	var ops []Operation
	err := json.Unmarshal([]byte(`["create","update","delete","list","read"]`), &ops)
	assert.NoError(t, err)
	assert.Equal(t, []Operation{OperationCreate, OperationUpdate, OperationDelete, OperationList, OperationRead}, ops)

	var op Operation
	assert.Error(t, json.Unmarshal([]byte(`"explode"`), &op))
}

func TestIsSubscriptionAction(t *testing.T) {
	assert.True(t, OperationCreate.IsSubscriptionAction())
	assert.True(t, OperationUpdate.IsSubscriptionAction())
	assert.True(t, OperationDelete.IsSubscriptionAction())
	assert.False(t, OperationList.IsSubscriptionAction())
	assert.False(t, Operation("patch").IsSubscriptionAction())
}
