package carrier

import (
	"errors"
	"fmt"
)

// ErrBaseURLRequired is returned by NewClient when no carrier endpoint is configured.
var ErrBaseURLRequired = errors.New("carrier base URL must be provided")

// APIError describes a failed carrier call. StatusCode is zero when no
// response was received.
type APIError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("carrier %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("carrier %s: status %d: %v", e.Op, e.StatusCode, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// HTTPStatus reports the response status, or zero for transport failures.
func (e *APIError) HTTPStatus() int { return e.StatusCode }
