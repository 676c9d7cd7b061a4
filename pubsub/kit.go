package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/maxpert/pubkit/baggage"
	"github.com/maxpert/pubkit/encoding"
	"github.com/maxpert/pubkit/notify"
	"github.com/maxpert/pubkit/telemetry"
	"github.com/rs/zerolog/log"
)

// Publisher is the producer facet
type Publisher[T any] interface {
	// Publish makes value the latest update
	Publish(ctx context.Context, value T) error
	// Finish terminates the kit successfully with a final value
	Finish(ctx context.Context, value T) error
	// Fail terminates the kit with a failure reason
	Fail(ctx context.Context, reason error) error
}

// Subscriber is the consumer facet. It is shareable; position is kept by
// the caller (or by a Cursor), never by the kit.
type Subscriber[T any] interface {
	// GetUpdateSince returns the latest update once its sequence is beyond
	// lastSeen, suspending until then. Terminal updates never suspend.
	GetUpdateSince(ctx context.Context, lastSeen uint64) (Update[T], error)
}

// Kit owns one durable State. All access to the state is serialized by mu;
// producer calls hold it across the commit so calls are applied in order.
// Commits are conditional on the record the kit last saw, so a kit that
// fell behind another writer reloads instead of overwriting newer state.
type Kit[T any] struct {
	id    string
	kind  string
	key   []byte
	store baggage.Store
	codec *encoding.Codec

	mu      sync.Mutex
	state   State[T]
	raw     []byte // committed record behind state
	waiters *notify.WaitList
}

func newKit[T any](kind, id string, store baggage.Store, codec *encoding.Codec, state State[T], raw []byte) *Kit[T] {
	return &Kit[T]{
		id:      id,
		kind:    kind,
		key:     kitKey(kind, id),
		store:   store,
		codec:   codec,
		state:   state,
		raw:     raw,
		waiters: notify.NewWaitList(),
	}
}

// ID is the kit's identifier within its kind
func (k *Kit[T]) ID() string { return k.id }

// Ref is what a durable reference to this kit stores; Maker.Revive accepts it
func (k *Kit[T]) Ref() string { return k.id }

// Kind returns the durable kind name this kit belongs to
func (k *Kit[T]) Kind() string { return k.kind }

// Publisher returns the producer facet
func (k *Kit[T]) Publisher() Publisher[T] { return publisherFacet[T]{kit: k} }

// Subscriber returns the consumer facet
func (k *Kit[T]) Subscriber() Subscriber[T] { return subscriberFacet[T]{kit: k} }

// Cursor returns a new independent cursor starting at lastSeen 0
func (k *Kit[T]) Cursor() *Cursor[T] { return NewCursor(k.Subscriber()) }

// Snapshot returns a copy of the committed state
func (k *Kit[T]) Snapshot() State[T] {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

// Waiters returns the number of suspended subscribers
func (k *Kit[T]) Waiters() int {
	return k.waiters.Len()
}

func (k *Kit[T]) publish(ctx context.Context, value T) error {
	return k.transition(ctx, "publish", func(s *State[T]) {
		s.Value = value
	})
}

func (k *Kit[T]) finish(ctx context.Context, value T) error {
	return k.transition(ctx, "finish", func(s *State[T]) {
		s.Status = StatusFinished
		s.Value = value
	})
}

func (k *Kit[T]) fail(ctx context.Context, reason error) error {
	if reason == nil {
		return fmt.Errorf("fail: %w: nil reason", ErrInvalidArgument)
	}
	return k.transition(ctx, "fail", func(s *State[T]) {
		var zero T
		s.Status = StatusFailed
		s.Value = zero
		s.Reason = reason.Error()
	})
}

// transition applies mutate to a copy of the state, commits the copy and
// only then installs it and wakes waiters. A failed commit leaves the kit
// exactly as it was. A commit that finds the record moved on reloads it and
// re-applies mutate to what was loaded.
func (k *Kit[T]) transition(ctx context.Context, op string, mutate func(*State[T])) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	for attempt := 0; ; attempt++ {
		if k.state.Status.Terminal() {
			telemetry.KitOperationsTotal.With(op, "terminated").Inc()
			return fmt.Errorf("%s: %w (%s at update %d)", op, ErrAlreadyTerminated, k.state.Status, k.state.Sequence)
		}
		if err := ctx.Err(); err != nil {
			telemetry.KitOperationsTotal.With(op, "cancelled").Inc()
			return fmt.Errorf("%s: %w", op, err)
		}

		next := k.state
		mutate(&next)
		next.Sequence++

		raw, err := MarshalState(k.codec, next)
		if err != nil {
			telemetry.KitOperationsTotal.With(op, "commit_failed").Inc()
			return fmt.Errorf("%s: %w: %w", op, ErrCommitFailed, err)
		}

		start := time.Now()
		err = k.store.CommitIf(ctx, k.key, k.raw, raw)
		if errors.Is(err, baggage.ErrConflict) && attempt < maxConflictRetries {
			telemetry.KitOperationsTotal.With(op, "conflict").Inc()
			if err := k.reload(ctx); err != nil {
				return fmt.Errorf("%s: %w: %w", op, ErrCommitFailed, err)
			}
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				telemetry.KitOperationsTotal.With(op, "cancelled").Inc()
				return fmt.Errorf("%s: %w", op, err)
			}
			telemetry.KitOperationsTotal.With(op, "commit_failed").Inc()
			log.Warn().
				Err(err).
				Str("kind", k.kind).
				Str("kit", k.id).
				Str("op", op).
				Uint64("seq", next.Sequence).
				Msg("Kit commit failed, state not advanced")
			return fmt.Errorf("%s: %w: %w", op, ErrCommitFailed, err)
		}
		telemetry.KitCommitSeconds.Observe(time.Since(start).Seconds())
		telemetry.KitOperationsTotal.With(op, "ok").Inc()

		woken := k.install(next, raw)
		if next.Status.Terminal() {
			telemetry.KitTerminalTotal.With(next.Status.String()).Inc()
			log.Info().
				Str("kind", k.kind).
				Str("kit", k.id).
				Str("status", next.Status.String()).
				Uint64("seq", next.Sequence).
				Msg("Publish kit terminated")
		}

		log.Debug().
			Str("kit", k.id).
			Str("op", op).
			Uint64("seq", next.Sequence).
			Int("woken", woken).
			Msg("Kit state committed")

		return nil
	}
}

// reload replaces the state with the committed record. Must be called with
// mu held.
func (k *Kit[T]) reload(ctx context.Context) error {
	raw, err := k.store.Load(ctx, k.key)
	if err != nil {
		return err
	}
	state, err := UnmarshalState[T](k.codec, raw)
	if err != nil {
		return err
	}

	log.Info().
		Str("kind", k.kind).
		Str("kit", k.id).
		Uint64("seen", k.state.Sequence).
		Uint64("seq", state.Sequence).
		Str("status", state.Status.String()).
		Msg("Kit reloaded after a concurrent commit")

	k.install(state, raw)
	return nil
}

// install makes a committed state current and wakes the waiters it
// satisfies. Must be called with mu held.
func (k *Kit[T]) install(state State[T], raw []byte) int {
	k.state = state
	k.raw = raw

	woken := k.waiters.NotifyUpTo(state.Sequence)
	if state.Status.Terminal() {
		woken += k.waiters.NotifyAll()
	}
	return woken
}

func (k *Kit[T]) getUpdateSince(ctx context.Context, lastSeen uint64) (Update[T], error) {
	for {
		k.mu.Lock()
		s := k.state

		if lastSeen > s.Sequence {
			k.mu.Unlock()
			return Update[T]{}, fmt.Errorf("%w: lastSeen %d is ahead of update %d", ErrInvalidArgument, lastSeen, s.Sequence)
		}
		if s.Sequence > lastSeen || s.Status.Terminal() {
			k.mu.Unlock()
			return s.update()
		}

		// Registered under mu, so a transition cannot slip in between the
		// check above and the registration.
		ch, cancel := k.waiters.Register(lastSeen + 1)
		k.mu.Unlock()

		start := time.Now()
		if err := notify.Await(ctx, ch, cancel); err != nil {
			telemetry.KitWaitSeconds.With("cancelled").Observe(time.Since(start).Seconds())
			return Update[T]{}, err
		}
		telemetry.KitWaitSeconds.With("resolved").Observe(time.Since(start).Seconds())
	}
}

type publisherFacet[T any] struct {
	kit *Kit[T]
}

func (p publisherFacet[T]) Publish(ctx context.Context, value T) error {
	return p.kit.publish(ctx, value)
}

func (p publisherFacet[T]) Finish(ctx context.Context, value T) error {
	return p.kit.finish(ctx, value)
}

func (p publisherFacet[T]) Fail(ctx context.Context, reason error) error {
	return p.kit.fail(ctx, reason)
}

type subscriberFacet[T any] struct {
	kit *Kit[T]
}

func (s subscriberFacet[T]) GetUpdateSince(ctx context.Context, lastSeen uint64) (Update[T], error) {
	return s.kit.getUpdateSince(ctx, lastSeen)
}
