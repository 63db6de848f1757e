package operation

import (
	"errors"
	"fmt"
)

// ErrInternal marks invariant violations inside this package: mismatched
// merge keys, merging fields with different underlying positions, a
// fragment spread appearing where only expanded selections may occur.
// These indicate a construction bug in the caller, not a malformed query,
// and are not recoverable at runtime.
var ErrInternal = errors.New("internal")

func internalErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInternal}, args...)...)
}

// IsInternal reports whether err signals an invariant violation.
func IsInternal(err error) bool {
	return errors.Is(err, ErrInternal)
}

// RebaseError reports a selection that could not be re-expressed on the
// target schema/type. Under IgnoreError handling these are swallowed and
// the selection is dropped; under ThrowError they surface to the caller.
type RebaseError struct {
	Message string
}

func (e *RebaseError) Error() string { return e.Message }

func rebaseErrorf(format string, args ...any) error {
	return &RebaseError{Message: fmt.Sprintf(format, args...)}
}

// IsRebaseError reports whether err is an expected-absence rebase failure
// as opposed to an internal error.
func IsRebaseError(err error) bool {
	var re *RebaseError
	return errors.As(err, &re)
}
