package auth

import "fmt"

// Error is returned when the authentication endpoint answers with a
// non-success status.
type Error struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("authentication failed: %d, %s", e.StatusCode, e.Body)
}
