package remote

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
)

var (
	// ErrRecordNotFound is returned when the backend has no record for a task id.
	ErrRecordNotFound = errors.New("task record not found")
	// ErrNoRecordID is returned when the backend answers without a record id.
	ErrNoRecordID = errors.New("task record has no id")
)

// HTTPError is a non-2xx backend response.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP error (%d %s): %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("HTTP error: %d %s", e.StatusCode, e.Status)
}

// Temporary reports whether retrying the request may succeed.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode >= http.StatusInternalServerError ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests
}

// parseHTTPError reads a non-2xx response into an *HTTPError, lifting the
// message out of {"error": ...} or {"message": ...} bodies.
func parseHTTPError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Message:    fmt.Sprintf("failed to read error response body: %v", err),
		}
	}

	httpErr := &HTTPError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(body),
		Message:    string(body),
	}

	var jsonErr struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &jsonErr) == nil {
		switch {
		case jsonErr.Error != "":
			httpErr.Message = jsonErr.Error
		case jsonErr.Message != "":
			httpErr.Message = jsonErr.Message
		}
	}
	return httpErr
}

// isPermanent reports whether err is a backend answer that retrying will not change.
func isPermanent(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return !httpErr.Temporary()
	}
	return errors.Is(err, ErrRecordNotFound)
}
