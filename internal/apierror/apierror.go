// Package apierror carries the single error taxonomy shared by every
// core component. Errors are classified by Kind; handlers map kinds to
// HTTP statuses with Status.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error surfaced to callers.
type Kind int

const (
	// Other is a storage, IO or remote failure.
	Other Kind = iota
	// TooExpensive means the customer balance cannot cover a transaction.
	TooExpensive
	// MustBeUnique means a duplicate on a unique logical key.
	MustBeUnique
	// OutOfScope means a token requested permissions it does not hold.
	OutOfScope
	// NotAllowed is an authentication, authorization, captcha or policy failure.
	NotAllowed
	// ValueError means a field failed validation.
	ValueError
	// NotFound means the entity is absent or hidden.
	NotFound
	// TooLong means a length cap was exceeded.
	TooLong
)

var kindMessages = map[Kind]string{
	Other:        "An unspecified error has occurred",
	TooExpensive: "You cannot afford to do this",
	MustBeUnique: "One or more of the given values must be unique",
	OutOfScope:   "The requested permissions are out of scope for this token",
	NotAllowed:   "You are not allowed to do this",
	ValueError:   "One or more of the given values is invalid",
	NotFound:     "Nothing with this path exists",
	TooLong:      "Given data is too long",
}

// Error is an error with a Kind. Two Errors match under errors.Is when
// their kinds are equal, so New(NotFound) can be tested against any
// wrapped NotFound.
type Error struct {
	kind Kind
	msg  string
	err  error
}

// New returns an error of the given kind with its default message.
func New(kind Kind) error {
	return &Error{kind: kind, msg: kindMessages[kind]}
}

// Newf returns an error of the given kind with a custom message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind wrapping cause.
func Wrap(kind Kind, cause error) error {
	return &Error{kind: kind, msg: kindMessages[kind], err: cause}
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.kind == e.kind
}

// Message returns the caller-facing message without the wrapped cause.
func (e *Error) Message() string { return e.msg }

// KindOf returns the kind of err, or Other for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return Other
}

// Status maps an error to its HTTP status per the taxonomy: 401 for
// NotAllowed, 404 for NotFound, 500 otherwise.
func Status(err error) int {
	switch KindOf(err) {
	case NotAllowed:
		return http.StatusUnauthorized
	case NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
