package template

import "fmt"

// Kind classifies template resolution failures.
type Kind string

const (
	// KindUndefinedVariable indicates an expression referenced a variable
	// that is not present in the resolution context.
	KindUndefinedVariable Kind = "undefined_variable"

	// KindSyntax indicates an expression block could not be parsed.
	KindSyntax Kind = "syntax"

	// KindFilter indicates a filter function failed at evaluation time.
	KindFilter Kind = "filter"
)

// Error is a classified template resolution error.
// Template errors are deterministic: the engine never retries them.
type Error struct {
	// Kind is the failure classification.
	Kind Kind

	// Expr is the expression block that failed, if known.
	Expr string

	// Message is the human-readable error message.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Expr != "" {
		return fmt.Sprintf("template %s error in %q: %s", e.Kind, e.Expr, e.message())
	}
	return fmt.Sprintf("template %s error: %s", e.Kind, e.message())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) message() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown"
}

func newError(kind Kind, expr, message string, err error) *Error {
	return &Error{Kind: kind, Expr: expr, Message: message, Err: err}
}
