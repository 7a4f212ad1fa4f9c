package clients

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// NetworkError is a transport-level failure: the service was unreachable or the
// connection broke before a full response arrived.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: network error: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ServiceError is a non-2xx response from the service.
type ServiceError struct {
	Method     string
	URL        string
	StatusCode int
	// Detail is the "detail" field of a JSON error body, when present.
	Detail string
	Body   string
}

func (e *ServiceError) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = truncate(e.Body, 256)
	}
	return fmt.Sprintf("%s %s: API returned status code: %d, response: %s", e.Method, e.URL, e.StatusCode, msg)
}

func newServiceError(method, url string, status int, body []byte) *ServiceError {
	se := &ServiceError{
		Method:     method,
		URL:        url,
		StatusCode: status,
		Body:       string(body),
	}

	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Detail) > 0 {
		var s string
		if json.Unmarshal(payload.Detail, &s) == nil {
			se.Detail = s
		} else {
			se.Detail = string(payload.Detail)
		}
	}
	return se
}

// IsNotFound reports whether err is a 404 from the service.
func IsNotFound(err error) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// IsNetworkError reports whether err is a transport failure.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
