// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package client provides easy and fast in-process access to the appseed REST api

Instead of marshalling HTTP, the client talks directly to the mux router. The client
is the tool of choice for unit tests. Created with NewWithURL, the same client talks
to a remote service over HTTP.
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/appseed/core/access"
)

// Client provides easy access to the REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	token      string
	auth       *access.Authorization
	ctx        context.Context

	defaultHeaders map[string]string
}

// NewWithRouter creates a client to make pseudo-REST requests to the backend,
// through the mux router
//
// WithAuthorization() adds an authorization to the request context.
// WithContext() specifies a different base context all together.
func NewWithRouter(router *mux.Router) Client {
	return Client{
		router:         router,
		defaultHeaders: map[string]string{},
	}
}

// NewWithURL creates a client to make REST requests to the backend
//
// WithToken adds an authorization token to the request header.
func NewWithURL(url string) Client {
	return Client{
		url:            strings.TrimSuffix(url, "/"),
		httpClient:     &http.Client{Timeout: 20 * time.Second},
		defaultHeaders: map[string]string{},
	}
}

// WithHeader returns a new client with a default header added
func (c Client) WithHeader(key string, value string) Client {
	headers := make(map[string]string, len(c.defaultHeaders)+1)
	for k, v := range c.defaultHeaders {
		headers[k] = v
	}
	headers[key] = value
	c.defaultHeaders = headers
	return c
}

// WithToken returns a new client which sends token as bearer token
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// WithAdminAuthorization returns a new client with admin authorizations
// (this works only directly against the mux router, for a normal client
//
//	use WithToken())
func (c Client) WithAdminAuthorization() Client {
	return c.WithRole(access.RoleAdmin)
}

// WithRole returns a new client with role authorization
// (this works only directly against the mux router, for a normal client
//
//	use WithToken())
func (c Client) WithRole(role string) Client {
	c.auth = &access.Authorization{
		Roles: []string{role},
	}
	return c
}

// WithAuthorization returns a new client with specific authorizations
// (this works only directly against the mux router, for a normal client
//
//	use WithToken())
func (c Client) WithAuthorization(auth *access.Authorization) Client {
	c.auth = auth
	return c
}

// WithContext returns a new client with specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// Context returns the request context of the client
func (c Client) Context() context.Context {
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if c.auth != nil {
		ctx = access.ContextWithAuthorization(ctx, c.auth)
	}
	return ctx
}

// Response is a complete response of the backend
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into result. A *[]byte result receives the raw body.
func (r *Response) Decode(result interface{}) error {
	if result == nil || len(r.Body) == 0 {
		return nil
	}
	if raw, ok := result.(*[]byte); ok {
		*raw = r.Body
		return nil
	}
	return json.Unmarshal(r.Body, result)
}

// Do sends a request with a raw body
func (c Client) Do(method, path string, header map[string]string, body io.Reader) (*Response, error) {
	r, err := http.NewRequestWithContext(c.Context(), method, c.url+path, body)
	if err != nil {
		return nil, err
	}
	for key, value := range c.defaultHeaders {
		r.Header.Set(key, value)
	}
	for key, value := range header {
		r.Header.Set(key, value)
	}

	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		res := rec.Result()
		return &Response{StatusCode: res.StatusCode, Header: res.Header, Body: rec.Body.Bytes()}, nil
	}

	if c.token != "" {
		r.Header.Set("Authorization", "Bearer "+c.token)
	}
	res, err := c.httpClient.Do(r)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: res.StatusCode, Header: res.Header, Body: data}, nil
}

// RawRequest sends body as JSON. A []byte body is sent as is.
func (c Client) RawRequest(method, path string, body interface{}) (*Response, error) {
	if body == nil {
		return c.Do(method, path, nil, nil)
	}
	data, ok := body.([]byte)
	if !ok {
		var err error
		if data, err = json.Marshal(body); err != nil {
			return nil, err
		}
	}
	return c.Do(method, path, map[string]string{"Content-Type": "application/json"}, bytes.NewReader(data))
}

func expect(res *Response, result interface{}, expected ...int) (int, error) {
	for _, status := range expected {
		if res.StatusCode == status {
			return res.StatusCode, res.Decode(result)
		}
	}
	return res.StatusCode, fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
		res.StatusCode, expected[0], strings.TrimSpace(string(res.Body)))
}

// RawGet gets the resource from path. Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// result can be a map, a struct, a slice or a raw *[]byte. result can be nil.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	res, err := c.RawRequest(http.MethodGet, path, nil)
	if err != nil {
		return http.StatusInternalServerError, err
	}
	return expect(res, result, http.StatusOK)
}

// RawPost posts body to path. Expects http.StatusCreated, otherwise it will flag an error.
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, error) {
	res, err := c.RawRequest(http.MethodPost, path, body)
	if err != nil {
		return http.StatusInternalServerError, err
	}
	return expect(res, result, http.StatusCreated, http.StatusNoContent)
}

// RawPut puts body to path. Expects http.StatusOK or http.StatusNoContent.
func (c Client) RawPut(path string, body interface{}, result interface{}) (int, error) {
	res, err := c.RawRequest(http.MethodPut, path, body)
	if err != nil {
		return http.StatusInternalServerError, err
	}
	return expect(res, result, http.StatusOK, http.StatusNoContent)
}

// RawPatch patches path with body. Expects http.StatusOK or http.StatusNoContent.
func (c Client) RawPatch(path string, body interface{}, result interface{}) (int, error) {
	res, err := c.RawRequest(http.MethodPatch, path, body)
	if err != nil {
		return http.StatusInternalServerError, err
	}
	return expect(res, result, http.StatusOK, http.StatusNoContent)
}

// RawDelete deletes path. Expects http.StatusNoContent.
func (c Client) RawDelete(path string) (int, error) {
	res, err := c.RawRequest(http.MethodDelete, path, nil)
	if err != nil {
		return http.StatusInternalServerError, err
	}
	return expect(res, nil, http.StatusNoContent, http.StatusOK)
}

// File is a file part of a multipart request
type File struct {
	Field       string
	Filename    string
	ContentType string
	Data        []byte
}

// MultipartBody encodes fields and files as multipart/form-data. It returns the body and
// its content type.
func MultipartBody(fields map[string]string, files []File) ([]byte, string, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	for key, value := range fields {
		if err := w.WriteField(key, value); err != nil {
			return nil, "", err
		}
	}
	for _, f := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, f.Field, f.Filename))
		contentType := f.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", contentType)
		part, err := w.CreatePart(header)
		if err != nil {
			return nil, "", err
		}
		if _, err = part.Write(f.Data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return b.Bytes(), w.FormDataContentType(), nil
}

// PostMultipart posts a multipart form to path. Expects http.StatusCreated.
func (c Client) PostMultipart(path string, fields map[string]string, files []File, result interface{}) (int, error) {
	body, contentType, err := MultipartBody(fields, files)
	if err != nil {
		return 0, err
	}
	res, err := c.Do(http.MethodPost, path, map[string]string{"Content-Type": contentType}, bytes.NewReader(body))
	if err != nil {
		return http.StatusInternalServerError, err
	}
	return expect(res, result, http.StatusCreated)
}

// App is the client of a single app
type App struct {
	client Client
	id     int
}

// CreateApp creates an app from a JSON definition
func (c Client) CreateApp(definition []byte, demoMode bool, result interface{}) (int, error) {
	return c.RawPost("/apps", map[string]interface{}{
		"definition": json.RawMessage(definition),
		"demoMode":   demoMode,
	}, result)
}

// App returns the client of app id
func (c Client) App(id int) App {
	return App{client: c, id: id}
}

// Path returns the path of the app
func (a App) Path() string {
	return "/apps/" + strconv.Itoa(a.id)
}

// Reseed replaces the ephemeral resources of a demo app with fresh copies of its seeds
func (a App) Reseed() (int, error) {
	return a.client.RawPost(a.Path()+"/reseed", nil, nil)
}

// Resources returns the client of resource type typ
func (a App) Resources(typ string) Resources {
	return Resources{app: a, typ: typ}
}

// Resources is the client of a resource type of an app
type Resources struct {
	app  App
	typ  string
	seed bool
}

// AsSeed returns a resources client which creates seed resources
func (r Resources) AsSeed() Resources {
	r.seed = true
	return r
}

// Path returns the collection path
func (r Resources) Path() string {
	return r.app.Path() + "/resources/" + r.typ
}

// Create creates one resource from an object or many from an array
func (r Resources) Create(body interface{}, result interface{}) (int, error) {
	path := r.Path()
	if r.seed {
		path += "?seed=true"
	}
	return r.app.client.RawPost(path, body, result)
}

// CreateCSV creates resources from CSV data with a header row
func (r Resources) CreateCSV(data []byte, result interface{}) (int, error) {
	path := r.Path()
	if r.seed {
		path += "?seed=true"
	}
	res, err := r.app.client.Do(http.MethodPost, path, map[string]string{"Content-Type": "text/csv"}, bytes.NewReader(data))
	if err != nil {
		return http.StatusInternalServerError, err
	}
	return expect(res, result, http.StatusCreated)
}

// CreateWithAssets creates resources with uploaded assets. Binary properties of the
// resource reference uploads by their index as string.
func (r Resources) CreateWithAssets(body interface{}, assets []File, result interface{}) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	files := make([]File, len(assets))
	for i, f := range assets {
		f.Field = "assets"
		files[i] = f
	}
	path := r.Path()
	if r.seed {
		path += "?seed=true"
	}
	return r.app.client.PostMultipart(path, map[string]string{"resource": string(data)}, files, result)
}

// List lists all visible resources
func (r Resources) List(result interface{}) (int, error) {
	return r.app.client.RawGet(r.Path(), result)
}

// Read reads resource id
func (r Resources) Read(id int, result interface{}) (int, error) {
	return r.app.client.RawGet(r.Path()+"/"+strconv.Itoa(id), result)
}

// Update replaces resource id
func (r Resources) Update(id int, body interface{}, result interface{}) (int, error) {
	return r.app.client.RawPut(r.Path()+"/"+strconv.Itoa(id), body, result)
}

// Patch merges body into resource id
func (r Resources) Patch(id int, body interface{}, result interface{}) (int, error) {
	return r.app.client.RawPatch(r.Path()+"/"+strconv.Itoa(id), body, result)
}

// Delete deletes resource id
func (r Resources) Delete(id int) (int, error) {
	return r.app.client.RawDelete(r.Path() + "/" + strconv.Itoa(id))
}

// History lists the versions of resource id, newest first
func (r Resources) History(id int, result interface{}) (int, error) {
	return r.app.client.RawGet(r.Path()+"/"+strconv.Itoa(id)+"/history", result)
}
