package ssh

import "fmt"

// TransportError classifies SSH transport failures so callers can decide
// whether a retry is worthwhile.
type TransportError struct {
	// Op is the operation that failed (connect, exec, upload, download).
	Op string

	// Err is the underlying error.
	Err error

	// IsTemporary marks failures that may succeed on retry.
	IsTemporary bool

	// IsAuthError marks authentication failures; never temporary.
	IsAuthError bool
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("ssh %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports whether the failure may clear on retry.
func (e *TransportError) Temporary() bool {
	return e.IsTemporary && !e.IsAuthError
}
