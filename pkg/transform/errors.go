package transform

import "fmt"

// Kind classifies output mapping failures.
type Kind string

const (
	// KindPathNotFound indicates a source path segment did not exist in the
	// plugin result.
	KindPathNotFound Kind = "path_not_found"

	// KindTypeMismatch indicates a transform received a value of a shape it
	// cannot operate on.
	KindTypeMismatch Kind = "type_mismatch"

	// KindConversionError indicates an `as:` conversion could not represent
	// the value in the requested type.
	KindConversionError Kind = "conversion_error"

	// KindParseError indicates a transform directive or JSON payload could
	// not be parsed.
	KindParseError Kind = "parse_error"
)

// Error is a classified output mapping error. Mapping errors are
// deterministic and fail the sub-step without retry.
type Error struct {
	// Kind is the failure classification.
	Kind Kind

	// Transform is the directive that failed, if the failure is tied to one.
	Transform string

	// Message is the human-readable error message.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Transform != "" {
		return fmt.Sprintf("output mapping %s in %q: %s", e.Kind, e.Transform, msg)
	}
	return fmt.Sprintf("output mapping %s: %s", e.Kind, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, transform, message string, err error) *Error {
	return &Error{Kind: kind, Transform: transform, Message: message, Err: err}
}
