package matching

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyMatched is returned when either side of a pair is no longer
	// eligible for the requested transition. It is the expected outcome of
	// two operators racing on overlapping pairs.
	ErrAlreadyMatched = errors.New("matching: report already matched")
	// ErrNotEligible is an alias of ErrAlreadyMatched.
	ErrNotEligible = ErrAlreadyMatched
	// ErrLinkageFailure marks a transient infrastructure fault. Nothing was
	// committed and the same call may be retried.
	ErrLinkageFailure = errors.New("matching: linkage failure")
	// ErrPreconditionFailed is returned when a search is asked for a report
	// without category or location.
	ErrPreconditionFailed = errors.New("matching: precondition failed")
)

// LinkageError wraps the infrastructure error behind a failed confirmation
// or resolution.
type LinkageError struct {
	Op  string
	Err error
}

func (e *LinkageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrLinkageFailure.Error(), e.Op, e.Err)
}

func (e *LinkageError) Unwrap() error { return e.Err }

func (e *LinkageError) Is(target error) bool { return target == ErrLinkageFailure }

func linkageError(op string, err error) error {
	return &LinkageError{Op: op, Err: err}
}
