package backend

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/appseed/core/logger"
	"github.com/relabs-tech/appseed/core/schema"
)

// HTTPError is the JSON body of every error response
type HTTPError struct {
	StatusCode int                     `json:"statusCode"`
	ErrorText  string                  `json:"error"`
	Message    string                  `json:"message"`
	Data       interface{}             `json:"data,omitempty"`
	Errors     schema.ValidationErrors `json:"errors,omitempty"`
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d %s", e.StatusCode, e.Message)
}

func newHTTPError(status int, message string) *HTTPError {
	return &HTTPError{StatusCode: status, ErrorText: http.StatusText(status), Message: message}
}

func errBadRequest(format string, a ...interface{}) *HTTPError {
	return newHTTPError(http.StatusBadRequest, fmt.Sprintf(format, a...))
}

func errNotFound(message string) *HTTPError {
	return newHTTPError(http.StatusNotFound, message)
}

func errForbidden() *HTTPError {
	return newHTTPError(http.StatusForbidden, "User does not have sufficient permissions.")
}

func errValidation(errs schema.ValidationErrors) *HTTPError {
	e := newHTTPError(http.StatusBadRequest, "JSON schema validation failed")
	e.Errors = errs
	return e
}

func errUnknownType(typ string) *HTTPError {
	return errNotFound("App does not have resources called " + typ)
}

var (
	errAppNotFound      = errNotFound("App not found")
	errResourceNotFound = errNotFound("Resource not found")
)

// writeError writes err as JSON body. Errors which are not an *HTTPError are logged with
// the passed error code and reported as internal server error.
func writeError(w http.ResponseWriter, r *http.Request, code string, err error) {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error " + code)
		httpErr = newHTTPError(http.StatusInternalServerError, "Error "+code)
	}
	writeJSON(w, httpErr.StatusCode, httpErr)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	jsonData, _ := json.Marshal(body)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(jsonData)
}
