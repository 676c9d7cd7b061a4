package pubsub

import (
	"context"
	"errors"
	"iter"

	"github.com/jizhuozhi/go-future"
)

// Cursor walks a subscriber from a last-seen position. It is owned by one
// consumer and is not safe for concurrent use; take one cursor per consumer.
type Cursor[T any] struct {
	sub      Subscriber[T]
	lastSeen uint64
	done     bool
}

// NewCursor starts a cursor at position 0
func NewCursor[T any](sub Subscriber[T]) *Cursor[T] {
	return &Cursor[T]{sub: sub}
}

// NewCursorAt resumes a cursor from a previously observed position
func NewCursorAt[T any](sub Subscriber[T], lastSeen uint64) *Cursor[T] {
	return &Cursor[T]{sub: sub, lastSeen: lastSeen}
}

// Next returns the first update past LastSeen and advances to it. Once the
// kit has terminated every call returns the same terminal result.
func (c *Cursor[T]) Next(ctx context.Context) (Update[T], error) {
	u, err := c.sub.GetUpdateSince(ctx, c.lastSeen)
	if err != nil {
		var failed *FailedError
		if errors.As(err, &failed) {
			c.lastSeen = failed.UpdateCount
			c.done = true
		}
		return u, err
	}
	c.lastSeen = u.UpdateCount
	if u.Done {
		c.done = true
	}
	return u, nil
}

// LastSeen is the position of the last delivered update
func (c *Cursor[T]) LastSeen() uint64 {
	return c.lastSeen
}

// Done reports whether the cursor has delivered the terminal update
func (c *Cursor[T]) Done() bool {
	return c.done
}

// Updates yields every update a fresh cursor observes, ending after the
// terminal one. A failed kit ends with its *FailedError; a cancelled
// context ends with ctx.Err().
func Updates[T any](ctx context.Context, sub Subscriber[T]) iter.Seq2[Update[T], error] {
	return func(yield func(Update[T], error) bool) {
		c := NewCursor(sub)
		for {
			u, err := c.Next(ctx)
			if !yield(u, err) || err != nil || u.Done {
				return
			}
		}
	}
}

// Observer receives the updates of a kit in order
type Observer[T any] interface {
	UpdateState(value T)
	Finish(value T)
	Fail(reason string)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs[T any] struct {
	OnUpdate func(T)
	OnFinish func(T)
	OnFail   func(string)
}

func (o ObserverFuncs[T]) UpdateState(value T) {
	if o.OnUpdate != nil {
		o.OnUpdate(value)
	}
}

func (o ObserverFuncs[T]) Finish(value T) {
	if o.OnFinish != nil {
		o.OnFinish(value)
	}
}

func (o ObserverFuncs[T]) Fail(reason string) {
	if o.OnFail != nil {
		o.OnFail(reason)
	}
}

// Observe feeds obs until the kit terminates. It returns nil after Finish or
// Fail has been delivered and a non-nil error only when observation itself
// stopped early (cancellation, invalid position).
func Observe[T any](ctx context.Context, sub Subscriber[T], obs Observer[T]) error {
	for u, err := range Updates(ctx, sub) {
		if err != nil {
			var failed *FailedError
			if errors.As(err, &failed) {
				obs.Fail(failed.Reason)
				return nil
			}
			return err
		}
		if u.Done {
			obs.Finish(u.Value)
			return nil
		}
		obs.UpdateState(u.Value)
	}
	return nil
}

// GetUpdateSinceAsync runs GetUpdateSince in the background and resolves
// the returned future with its result
func GetUpdateSinceAsync[T any](ctx context.Context, sub Subscriber[T], lastSeen uint64) *future.Future[Update[T]] {
	p := future.NewPromise[Update[T]]()
	go func() {
		p.Set(sub.GetUpdateSince(ctx, lastSeen))
	}()
	return p.Future()
}
