package jenkins

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrEndpointNotReady is wrapped by EndpointError.
	ErrEndpointNotReady = errors.New("managed master endpoint not ready")

	// ErrInvalidURL is returned when a target URL is not an absolute
	// http(s) URL and cannot be resolved against the base URL.
	ErrInvalidURL = errors.New("invalid URL")

	// ErrNoQueueLocation is returned by BuildJob when the server accepted
	// the build but did not point at a queue item.
	ErrNoQueueLocation = errors.New("no queue item in Location header")
)

// APIError represents a non-2xx response from Jenkins.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.StatusCode, truncate(e.Body, 200))
}

// EndpointError reports a managed master that has no endpoint yet,
// typically because it is still provisioning.
type EndpointError struct {
	MasterURL string
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("managed master %s reports an empty endpoint (still initializing?)", e.MasterURL)
}

func (e *EndpointError) Unwrap() error {
	return ErrEndpointNotReady
}

// IsNotFound reports whether err is a 404 from Jenkins.
func IsNotFound(err error) bool {
	return statusOf(err) == http.StatusNotFound
}

// IsForbidden reports whether err is a 403 from Jenkins. A POST with a
// missing or mismatched crumb fails this way.
func IsForbidden(err error) bool {
	return statusOf(err) == http.StatusForbidden
}

// IsConflict reports whether err is a 400 or 409 from Jenkins, which is how
// createItem and createCredentials reject duplicates. createItem also answers
// 400 for unsafe names and bad payloads, so look the item up first when the
// difference matters.
func IsConflict(err error) bool {
	s := statusOf(err)
	return s == http.StatusConflict || s == http.StatusBadRequest
}

func statusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
