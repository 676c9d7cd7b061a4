package pubsub

import (
	"fmt"

	"github.com/maxpert/pubkit/encoding"
)

// Status of a kit. Once it leaves StatusActive it never returns.
type Status uint8

const (
	StatusActive   Status = 0
	StatusFinished Status = 1
	StatusFailed   Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusFinished:
		return "finished"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Terminal reports whether s is Finished or Failed
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// State is the durable record of a kit. It is the only thing persisted;
// everything else is derived from it after a restart.
type State[T any] struct {
	// Sequence is the position of the latest update, 0 before the first.
	Sequence uint64 `msgpack:"seq"`
	Status   Status `msgpack:"status"`
	// Value is the latest payload, or the final value once Finished.
	Value T `msgpack:"value"`
	// Reason is the failure reason once Failed.
	Reason string `msgpack:"reason,omitempty"`
}

// Update is one delivery to a subscriber
type Update[T any] struct {
	Value T
	// UpdateCount is the sequence this update was taken at; pass it back as
	// lastSeen to wait for the next one.
	UpdateCount uint64
	// Done is set on the terminal update of a finished kit
	Done bool
}

// update renders the state as seen by a subscriber
func (s State[T]) update() (Update[T], error) {
	switch s.Status {
	case StatusFailed:
		return Update[T]{UpdateCount: s.Sequence}, &FailedError{Reason: s.Reason, UpdateCount: s.Sequence}
	case StatusFinished:
		return Update[T]{Value: s.Value, UpdateCount: s.Sequence, Done: true}, nil
	default:
		return Update[T]{Value: s.Value, UpdateCount: s.Sequence}, nil
	}
}

// validate rejects records that no sequence of kit operations can produce
func (s State[T]) validate() error {
	switch s.Status {
	case StatusActive:
	case StatusFinished, StatusFailed:
		if s.Sequence == 0 {
			return fmt.Errorf("%w: terminal status %s at sequence 0", encoding.ErrCorruptRecord, s.Status)
		}
	default:
		return fmt.Errorf("%w: unknown status %d", encoding.ErrCorruptRecord, uint8(s.Status))
	}
	return nil
}

// MarshalState frames a state for the store
func MarshalState[T any](codec *encoding.Codec, s State[T]) ([]byte, error) {
	return codec.Encode(&s)
}

// UnmarshalState decodes and validates a stored state
func UnmarshalState[T any](codec *encoding.Codec, data []byte) (State[T], error) {
	var s State[T]
	if err := codec.Decode(data, &s); err != nil {
		return State[T]{}, err
	}
	if err := s.validate(); err != nil {
		return State[T]{}, err
	}
	return s, nil
}
