package backend

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryConfiguration(t *testing.T) {
	cases := map[string]HistoryConfiguration{
		`true`:            {Enabled: true, Data: true},
		`false`:           {Enabled: false, Data: false},
		`{}`:              {Enabled: true, Data: true},
		`{"data": true}`:  {Enabled: true, Data: true},
		`{"data": false}`: {Enabled: true, Data: false},
	}
	for in, want := range cases {
		var h HistoryConfiguration
		require.NoError(t, json.Unmarshal([]byte(in), &h), in)
		assert.Equal(t, want, h, in)
	}

	var h HistoryConfiguration
	assert.Error(t, json.Unmarshal([]byte(`"yes"`), &h))

	data, err := json.Marshal(HistoryConfiguration{Enabled: true, Data: false})
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":false}`, string(data))
}

func TestDefinitionHelpers(t *testing.T) {
	def := testDefinition(t)

	assert.Equal(t, []string{"note", "person", "pet"}, def.resourceTypes())
	assert.Equal(t, map[string]string{"favourite": "pet", "pets": "pet"}, def.memberReferences())

	fields := def.referencingFields("person")
	assert.ElementsMatch(t, []ReferenceField{
		{Field: "owner", OnDelete: OnDeleteCascade},
		{Field: "friends", OnDelete: ""},
	}, fields["pet"])
	assert.Equal(t, []ReferenceField{{Field: "about", OnDelete: OnDeleteClear}}, fields["note"])
	assert.Empty(t, def.referencingFields("note"))

	assert.True(t, def.Resources["person"].hasHistory())
	assert.True(t, def.Resources["pet"].hasHistory())
	assert.False(t, def.Resources["note"].hasHistory())
}

func TestMemberSchema(t *testing.T) {
	def := testDefinition(t)
	assert.Empty(t, def.memberSchema.Validate(map[string]interface{}{"favourite": float64(3), "nickname": "x"}))
	errs := def.memberSchema.Validate(map[string]interface{}{"unknown": true})
	require.Len(t, errs, 1)
	assert.Equal(t, "additionalProperties", errs[0].Name)

	open, err := parseAppDefinition([]byte(`{"resources": {}}`))
	require.NoError(t, err)
	assert.Empty(t, open.memberSchema.Validate(map[string]interface{}{"anything": "goes"}))
}

func TestInvalidDefinitions(t *testing.T) {
	invalid := map[string]string{
		"unknown reference":   `{"resources": {"a": {"schema": {}, "references": {"b": {"resource": "nope"}}}}}`,
		"invalid onDelete":    `{"resources": {"a": {"schema": {}, "references": {"b": {"resource": "a", "onDelete": "explode"}}}}}`,
		"invalid expires":     `{"resources": {"a": {"schema": {}, "expires": "soon"}}}`,
		"invalid role":        `{"resources": {"a": {"schema": {}, "roles": {"fly": ["admin"]}}}}`,
		"invalid schema":      `{"resources": {"a": {"schema": {"type": 12}}}}`,
		"empty resource":      `{"resources": {"a": null}}`,
		"member to unknown":   `{"resources": {}, "members": {"properties": {"x": {"reference": {"resource": "nope"}}}}}`,
		"not a definition":    `[]`,
		"history not boolean": `{"resources": {"a": {"schema": {}, "history": "yes"}}}`,
	}
	for name, definition := range invalid {
		_, err := parseAppDefinition([]byte(definition))
		assert.Error(t, err, name)
	}
}
