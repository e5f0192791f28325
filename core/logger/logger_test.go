package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeRoundTrip(t *testing.T) {
	ctx, _ := ContextWithLogger(context.Background())
	ctx, _ = ContextWithLoggerIdentity(ctx, "member-1")
	ctx, _ = ContextWithLoggerApp(ctx, 42)

	data := SerializeLoggerContext(ctx)

	restored := ContextWithLoggerFromData(context.Background(), data)
	assert.Equal(t, RequestIDFromContext(ctx), RequestIDFromContext(restored))
	values := loggerValues(restored)
	assert.Equal(t, "member-1", values.Identity)
	assert.Equal(t, 42, values.AppID)
}

func TestContextWithLoggerFromInvalidData(t *testing.T) {
	ctx := ContextWithLoggerFromData(context.Background(), []byte("not json"))
	assert.NotEmpty(t, RequestIDFromContext(ctx))
}

func TestSerializeWithoutLogger(t *testing.T) {
	assert.Equal(t, []byte("{}"), SerializeLoggerContext(context.Background()))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestAddRequestID(t *testing.T) {
	router := mux.NewRouter()
	AddRequestID(router)
	var seen string
	router.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-Id", "abc")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, "abc", seen)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-Id"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, seen)
	assert.NotEqual(t, "abc", seen)
}
