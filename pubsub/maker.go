package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/maxpert/pubkit/baggage"
	"github.com/maxpert/pubkit/encoding"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

const (
	defaultCounterCacheSize = 128

	// maxConflictRetries bounds how often a commit that lost to another
	// writer is retried against the reloaded record
	maxConflictRetries = 3
)

// Option configures a Maker
type Option func(*makerOptions)

type makerOptions struct {
	codec   *encoding.Codec
	counter *baggage.Counter
}

// WithCodec sets the record codec used for kit state
func WithCodec(codec *encoding.Codec) Option {
	return func(o *makerOptions) {
		o.codec = codec
	}
}

// WithCounter sets the id counter. By default the counter set attached to
// the store is used.
func WithCounter(counter *baggage.Counter) Option {
	return func(o *makerOptions) {
		o.counter = counter
	}
}

// Maker is a durable kind of publish kit. It makes new kits and revives
// stored ones, keeping at most one live Kit per id for its store.
type Maker[T any] struct {
	kind    string
	store   baggage.Store
	codec   *encoding.Codec
	counter *baggage.Counter
	live    *xsync.MapOf[string, *Kit[T]]
}

// Prepare declares the durable kind. Calling it again with the same name
// after a restart gives access to the kits made before. Within one open
// store a kind is declared once: later calls return the same Maker and
// ignore their options. Redeclaring a kind with another value type panics.
func Prepare[T any](store baggage.Store, kind string, opts ...Option) *Maker[T] {
	o := &makerOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.codec == nil {
		o.codec = encoding.NewCodec(encoding.DefaultCompressThreshold)
	}
	if o.counter == nil {
		o.counter = baggage.SharedCounter(store, defaultCounterCacheSize)
	}

	m, err := baggage.Shared(store, "pubsub/kind/"+kind, func() *Maker[T] {
		return &Maker[T]{
			kind:    kind,
			store:   store,
			codec:   o.codec,
			counter: o.counter,
			live:    xsync.NewMapOf[string, *Kit[T]](),
		}
	})
	if err != nil {
		panic(fmt.Sprintf("pubsub: kind %q already prepared with another value type: %v", kind, err))
	}
	return m
}

// Name returns the kind name
func (m *Maker[T]) Name() string {
	return m.kind
}

func kitPrefix(kind string) []byte {
	return []byte("/kind/" + kind + "/kit/")
}

func kitKey(kind, id string) []byte {
	return append(kitPrefix(kind), id...)
}

// Make allocates a new kit and commits its initial state. An id that turns
// out to be taken by another writer is skipped.
func (m *Maker[T]) Make(ctx context.Context) (*Kit[T], error) {
	name := "kind/" + m.kind
	initial := State[T]{Status: StatusActive}
	raw, err := MarshalState(m.codec, initial)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		n, err := m.counter.Inc(ctx, name, 1)
		if err != nil {
			return nil, fmt.Errorf("allocate %s id: %w", m.kind, err)
		}
		id := strconv.FormatInt(n, 10)

		err = m.store.CommitIf(ctx, kitKey(m.kind, id), nil, raw)
		if errors.Is(err, baggage.ErrConflict) && attempt < maxConflictRetries {
			log.Warn().Str("kind", m.kind).Str("kit", id).Msg("Kit id already taken, reloading counter")
			m.counter.Invalidate(name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("make %s/%s: %w: %w", m.kind, id, ErrCommitFailed, err)
		}

		kit := newKit(m.kind, id, m.store, m.codec, initial, raw)
		m.live.Store(id, kit)

		log.Debug().Str("kind", m.kind).Str("kit", id).Msg("Publish kit made")
		return kit, nil
	}
}

// Revive returns the live kit for ref, loading it from the store if this
// process has not seen it yet
func (m *Maker[T]) Revive(ctx context.Context, ref string) (*Kit[T], error) {
	if kit, ok := m.live.Load(ref); ok {
		return kit, nil
	}

	var loadErr error
	kit, _ := m.live.Compute(ref, func(old *Kit[T], loaded bool) (*Kit[T], bool) {
		if loaded {
			return old, false
		}

		raw, err := m.store.Load(ctx, kitKey(m.kind, ref))
		if err != nil {
			if errors.Is(err, baggage.ErrNotFound) {
				err = fmt.Errorf("%w: %s/%s", ErrUnknownKit, m.kind, ref)
			}
			loadErr = err
			return nil, true
		}

		state, err := UnmarshalState[T](m.codec, raw)
		if err != nil {
			loadErr = fmt.Errorf("revive %s/%s: %w", m.kind, ref, err)
			return nil, true
		}

		log.Debug().
			Str("kind", m.kind).
			Str("kit", ref).
			Uint64("seq", state.Sequence).
			Str("status", state.Status.String()).
			Msg("Publish kit revived")
		return newKit(m.kind, ref, m.store, m.codec, state, raw), false
	})
	if loadErr != nil {
		return nil, loadErr
	}
	return kit, nil
}

// Refs lists the ids of every stored kit of this kind
func (m *Maker[T]) Refs(ctx context.Context) ([]string, error) {
	prefix := kitPrefix(m.kind)
	keys, err := m.store.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	refs := make([]string, 0, len(keys))
	for _, k := range keys {
		refs = append(refs, k[len(prefix):])
	}
	return refs, nil
}

// LiveKits returns the number of kits resident in memory
func (m *Maker[T]) LiveKits() int {
	return m.live.Size()
}

// Waiters returns the number of suspended subscribers across live kits
func (m *Maker[T]) Waiters() int {
	total := 0
	m.live.Range(func(_ string, kit *Kit[T]) bool {
		total += kit.Waiters()
		return true
	})
	return total
}
