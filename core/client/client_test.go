package client

import (
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/appseed/core/access"
)

func TestPaths(t *testing.T) {
	c := NewWithRouter(nil)
	people := c.App(7).Resources("person")
	assert.Equal(t, "/apps/7", c.App(7).Path())
	assert.Equal(t, "/apps/7/resources/person", people.Path())
}

func TestWithHeaderDoesNotLeak(t *testing.T) {
	base := NewWithRouter(nil)
	withHeader := base.WithHeader("X-Test", "1")
	assert.Empty(t, base.defaultHeaders)
	assert.Equal(t, "1", withHeader.defaultHeaders["X-Test"])
}

func TestRouterRoundTrip(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/apps/1/resources/person", func(w http.ResponseWriter, r *http.Request) {
		auth := access.AuthorizationFromContext(r.Context())
		if !auth.HasRole(access.RoleAdmin) || r.URL.Query().Get("seed") != "true" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":1,"foo":"bar"}`))
	}).Methods(http.MethodPost)

	var result map[string]interface{}
	status, err := NewWithRouter(router).App(1).Resources("person").AsSeed().Create(map[string]string{"foo": "bar"}, &result)
	assert.Error(t, err)
	assert.Equal(t, http.StatusForbidden, status)

	status, err = NewWithRouter(router).WithAdminAuthorization().App(1).Resources("person").AsSeed().Create(map[string]string{"foo": "bar"}, &result)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "bar", result["foo"])
}

func TestMultipartBody(t *testing.T) {
	body, contentType, err := MultipartBody(map[string]string{"resource": `{"foo":"bar"}`}, []File{
		{Field: "assets", Filename: "a.png", ContentType: "image/png", Data: []byte{1, 2, 3}},
	})
	require.NoError(t, err)

	mediaType, params, err := mime.ParseMediaType(contentType)
	require.NoError(t, err)
	assert.Equal(t, "multipart/form-data", mediaType)

	form, err := multipart.NewReader(strings.NewReader(string(body)), params["boundary"]).ReadForm(1 << 20)
	require.NoError(t, err)
	assert.Equal(t, []string{`{"foo":"bar"}`}, form.Value["resource"])
	require.Len(t, form.File["assets"], 1)
	assert.Equal(t, "a.png", form.File["assets"][0].Filename)
	assert.Equal(t, "image/png", form.File["assets"][0].Header.Get("Content-Type"))
}

func TestCreateCSVAndApp(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/apps", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["demoMode"])
		assert.Equal(t, map[string]interface{}{"resources": map[string]interface{}{}}, body["definition"])
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":3}`))
	}).Methods(http.MethodPost)
	router.HandleFunc("/apps/3/resources/person", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/csv", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`[{"id":1,"foo":"bar"}]`))
	}).Methods(http.MethodPost)

	c := NewWithRouter(router)
	var app map[string]interface{}
	_, err := c.CreateApp([]byte(`{"resources":{}}`), true, &app)
	require.NoError(t, err)
	assert.Equal(t, float64(3), app["id"])

	var created []map[string]interface{}
	_, err = c.App(3).Resources("person").CreateCSV([]byte("foo\nbar\n"), &created)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "bar", created[0]["foo"])
}
