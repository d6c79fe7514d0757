// Package apperr classifies domain failures into the small set of kinds
// callers branch on.
package apperr

import "errors"

// Kind is the failure category.
type Kind string

const (
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindBadRequest Kind = "bad_request"
	KindForbidden  Kind = "forbidden"
	KindInternal   Kind = "internal"
)

// Error is a classified sentinel. Domain packages declare their own
// instances with New and compare them with errors.Is.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

// Is matches the bare kind sentinels below against any Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

var (
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrConflict   = &Error{Kind: KindConflict}
	ErrBadRequest = &Error{Kind: KindBadRequest}
	ErrForbidden  = &Error{Kind: KindForbidden}
)

// New builds a classified sentinel.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// KindOf returns the kind of the first classified error in err's chain.
// Unclassified errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
