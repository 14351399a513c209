package platform

import (
	"errors"
	"fmt"
)

// Error kinds. A platform error matches at most one of these with errors.Is;
// errors matching none are unexpected.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrTransient        = errors.New("transient platform failure")
	ErrNotFound         = errors.New("not found")
)

// Error is a classified platform failure.
type Error struct {
	Op   string // e.g. "create thread"
	Kind error  // one of the Err* kinds, or nil when unexpected
	Err  error
}

func (e *Error) Error() string {
	if e.Kind == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is this error's kind.
func (e *Error) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

// Wrap builds a classified error. Nil err yields nil.
func Wrap(op string, kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// IsPermission reports a permission-denied failure.
func IsPermission(err error) bool { return errors.Is(err, ErrPermissionDenied) }

// IsTransient reports a retryable failure (rate limit, 5xx, network).
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// IsNotFound reports a missing message, thread or channel.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
