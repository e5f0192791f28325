package backend

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/appseed/core/schema"
)

func TestIdOf(t *testing.T) {
	id, ok := idOf(float64(3))
	assert.True(t, ok)
	assert.Equal(t, 3, id)

	id, ok = idOf("12")
	assert.True(t, ok)
	assert.Equal(t, 12, id)

	for _, v := range []interface{}{nil, float64(0), float64(-1), 1.5, "abc", true} {
		_, ok = idOf(v)
		assert.False(t, ok, v)
	}
}

func TestApplyDocument(t *testing.T) {
	now := time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC)
	res := &resource{}
	err := applyDocument(res, map[string]interface{}{"id": float64(3), "foo": "bar", "$expires": "1d", "$clonable": true}, now)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"foo": "bar"}, res.Data)
	require.NotNil(t, res.ExpiresAt)
	assert.Equal(t, now.Add(24*time.Hour), *res.ExpiresAt)
	assert.True(t, res.Clonable)

	err = applyDocument(res, map[string]interface{}{"foo": "baz"}, now)
	require.NoError(t, err)
	assert.Nil(t, res.ExpiresAt)
	assert.True(t, res.Clonable)
}

func TestMergeForUpdate(t *testing.T) {
	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	existing := &resource{Data: map[string]interface{}{"foo": "bar", "age": float64(3)}, ExpiresAt: &expires, Clonable: true}

	merged := mergeForUpdate(existing, map[string]interface{}{"age": float64(4)}, true)
	assert.Equal(t, map[string]interface{}{
		"foo":       "bar",
		"age":       float64(4),
		"$expires":  "2030-01-01T00:00:00.000Z",
		"$clonable": true,
	}, merged)

	replaced := mergeForUpdate(existing, map[string]interface{}{"foo": "new", "$expires": "1d"}, false)
	assert.Equal(t, map[string]interface{}{"foo": "new", "$expires": "1d", "$clonable": true}, replaced)

	// the stored data is not modified
	assert.Equal(t, float64(3), existing.Data["age"])
}

func TestValidateDocsRejectsPassedExpiry(t *testing.T) {
	rd := testDefinition(t).Resources["person"]
	now := time.Date(1970, 1, 1, 0, 10, 0, 0, time.UTC)

	errs := validateDocs(rd, []map[string]interface{}{{"foo": "bar", "$expires": "1970-01-01T00:05:00.000Z"}}, false, now)
	require.Len(t, errs, 1)
	assert.Equal(t, "has already passed", errs[0].Message)
	assert.Equal(t, []interface{}{"$expires"}, errs[0].Path)

	errs = validateDocs(rd, []map[string]interface{}{{"foo": "a"}, {"foo": "b", "$expires": "1970-01-01T00:05:00.000Z"}}, true, now)
	require.Len(t, errs, 1)
	assert.Equal(t, []interface{}{1, "$expires"}, errs[0].Path)
}

func TestResourceOutput(t *testing.T) {
	created := time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC)
	res := &resource{Type: "person", ID: 1, Data: map[string]interface{}{"foo": "bar"}, CreatedAt: created, UpdatedAt: created}
	data, err := json.Marshal(res.output())
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"foo":"bar","$created":"2021-03-01T12:00:00.000Z","$updated":"2021-03-01T12:00:00.000Z"}`, string(data))
}

func TestWriteError(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	rec := httptest.NewRecorder()
	writeError(rec, r, "9999", errValidation(schema.ValidationErrors{
		schema.NewValidationError(nil, "required", `requires property "foo"`, "foo", map[string]interface{}{}),
	}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Bad Request", body["error"])
	assert.Equal(t, "JSON schema validation failed", body["message"])
	assert.Equal(t, float64(400), body["statusCode"])
	errs := body["errors"].([]interface{})
	require.Len(t, errs, 1)
	assert.Equal(t, []interface{}{}, errs[0].(map[string]interface{})["path"])

	rec = httptest.NewRecorder()
	writeError(rec, r, "9999", assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Error 9999", body["message"])
	assert.NotContains(t, body, "errors")
}
