package backend

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testAppDefinition = `{
	"resources": {
		"person": {
			"schema": {
				"type": "object",
				"required": ["foo"],
				"additionalProperties": false,
				"properties": {
					"foo": {"type": "string"},
					"age": {"type": "integer"},
					"picture": {"type": "string", "format": "binary"},
					"gallery": {"type": "array", "items": {"type": "string", "format": "binary"}}
				}
			},
			"history": true
		},
		"pet": {
			"schema": {"type": "object", "properties": {"name": {"type": "string"}, "owner": {}, "friends": {}}},
			"references": {
				"owner": {"resource": "person", "onDelete": "cascade"},
				"friends": {"resource": "person"}
			},
			"history": {"data": false}
		},
		"note": {
			"schema": {"type": "object", "properties": {"about": {}}},
			"references": {"about": {"resource": "person", "onDelete": "clear"}},
			"expires": "1d"
		}
	},
	"members": {
		"properties": {
			"favourite": {"schema": {"type": "integer"}, "reference": {"resource": "pet"}},
			"pets": {"schema": {"type": "array"}, "reference": {"resource": "pet"}},
			"nickname": {"schema": {"type": "string"}}
		}
	}
}`

func testDefinition(t *testing.T) *AppDefinition {
	def, err := parseAppDefinition([]byte(testAppDefinition))
	require.NoError(t, err)
	return def
}
