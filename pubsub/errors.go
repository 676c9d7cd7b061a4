package pubsub

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyTerminated is returned by Publish, Finish and Fail once the
	// kit has finished or failed. The kit is left unchanged.
	ErrAlreadyTerminated = errors.New("publish kit already terminated")

	// ErrCommitFailed wraps a store failure. The in-memory state is not
	// advanced, so it still matches the durable state.
	ErrCommitFailed = errors.New("publish kit commit failed")

	// ErrInvalidArgument is returned for a lastSeen beyond the current
	// sequence and for a nil failure reason.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnknownKit is returned when reviving a ref with no stored record
	ErrUnknownKit = errors.New("unknown publish kit")

	// ErrFailed matches every *FailedError via errors.Is
	ErrFailed = errors.New("publish kit failed")
)

// FailedError is how a failed kit terminates for its subscribers
type FailedError struct {
	Reason      string
	UpdateCount uint64
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("publish kit failed at update %d: %s", e.UpdateCount, e.Reason)
}

// Is makes errors.Is(err, ErrFailed) true
func (e *FailedError) Is(target error) bool {
	return target == ErrFailed
}
