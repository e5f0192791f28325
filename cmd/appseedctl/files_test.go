package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/appseed/core/client"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestToJSON(t *testing.T) {
	data, err := toJSON([]byte("name: rex\ntags:\n  - dog\n  - brown\nage: 3\n"), formatYAML)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"rex","tags":["dog","brown"],"age":3}`, string(data))

	data, err = toJSON([]byte(" [{\"foo\":\"bar\"}]\n"), formatJSON)
	require.NoError(t, err)
	assert.Equal(t, `[{"foo":"bar"}]`, string(data))

	_, err = toJSON([]byte("{"), formatJSON)
	assert.Error(t, err)
}

func TestFormatOf(t *testing.T) {
	f, err := formatOf("seeds/People.YML")
	require.NoError(t, err)
	assert.Equal(t, formatYAML, f)
	f, err = formatOf("people.csv")
	require.NoError(t, err)
	assert.Equal(t, formatCSV, f)
	_, err = formatOf("people.xml")
	assert.Error(t, err)
}

func TestReadDefinition(t *testing.T) {
	_, err := readDefinition(writeFile(t, "app.csv", "a,b\n"))
	assert.Error(t, err)

	data, err := readDefinition(writeFile(t, "app.yaml", "resources:\n  person:\n    schema:\n      type: object\n"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"resources":{"person":{"schema":{"type":"object"}}}}`, string(data))
}

func TestPublish(t *testing.T) {
	var contentTypes, bodies []string
	var seeds []string
	router := mux.NewRouter()
	router.HandleFunc("/apps/1/resources/person", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		contentTypes = append(contentTypes, r.Header.Get("Content-Type"))
		bodies = append(bodies, string(body))
		seeds = append(seeds, r.URL.Query().Get("seed"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusCreated)
		if body[0] == '{' {
			w.Write([]byte(`{"id":1}`))
			return
		}
		w.Write([]byte(`[{"id":1},{"id":2}]`))
	}).Methods(http.MethodPost)
	server := httptest.NewServer(router)
	defer server.Close()

	people := client.NewWithURL(server.URL).WithToken("secret").App(1).Resources("person")

	n, err := publish(people.AsSeed(), writeFile(t, "people.yaml", "- foo: a\n- foo: b\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = publish(people, writeFile(t, "person.json", `{"foo":"c"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = publish(people, writeFile(t, "people.csv", "foo\nd\ne\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, []string{"application/json", "application/json", "text/csv"}, contentTypes)
	assert.Equal(t, []string{"true", "", ""}, seeds)
	assert.JSONEq(t, `[{"foo":"a"},{"foo":"b"}]`, bodies[0])
	assert.Equal(t, "foo\nd\ne\n", bodies[2])
}
