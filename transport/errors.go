package transport

import "fmt"

// Error is returned when a request could not be delivered within the
// allowed attempts. It describes the last failed attempt.
type Error struct {
	// StatusCode is the last HTTP status, or zero for a connection failure.
	StatusCode int
	// Body holds the (truncated) body of the last failed response.
	Body     []byte
	Attempts int
	// Err is the last connection error, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("request failed after %d attempt(s): %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("request failed after %d attempt(s) (status %d): %s",
		e.Attempts, e.StatusCode, e.Body)
}

func (e *Error) Unwrap() error {
	return e.Err
}
