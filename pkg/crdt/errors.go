package crdt

import (
	"errors"
	"fmt"
)

var ErrMalformedDelta = errors.New("malformed delta")
var ErrDeltaTypeMismatch = errors.New("delta type mismatch")
var ErrConflictingItem = errors.New("conflicting item for known id")
var ErrRangeOutOfBounds = errors.New("edit range out of bounds")
var ErrCorruptState = errors.New("corrupt full state")

// MergeRejectedError: дельта отклонена до слияния, состояние реплики не изменено.
type MergeRejectedError struct {
	Reason string
	Err    error
}

func (e *MergeRejectedError) Error() string {
	return fmt.Sprintf("merge rejected: %s: %v", e.Reason, e.Err)
}

func (e *MergeRejectedError) Unwrap() error {
	return e.Err
}

func reject(err error, format string, args ...any) error {
	return &MergeRejectedError{Reason: fmt.Sprintf(format, args...), Err: err}
}
