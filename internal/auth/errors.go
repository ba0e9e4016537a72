package auth

import "fmt"

// Kind classifies an admission failure.
type Kind string

const (
	KindMissing     Kind = "missing"
	KindInvalid     Kind = "invalid"
	KindExpired     Kind = "expired"
	KindUnknownUser Kind = "unknown_user"
)

// Error is returned by Gate.Admit. It is terminal for the connection attempt.
type Error struct {
	Kind Kind
	Err  error
}

var (
	ErrMissing     = &Error{Kind: KindMissing}
	ErrInvalid     = &Error{Kind: KindInvalid}
	ErrExpired     = &Error{Kind: KindExpired}
	ErrUnknownUser = &Error{Kind: KindUnknownUser}
)

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("auth %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrExpired) works
// on wrapped failures.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
