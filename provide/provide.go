// Package provide makes durable singletons: the first Provide for a key
// constructs the object and records a reference to it, every later Provide
// (in this process or after a restart) revives the recorded reference.
package provide

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/maxpert/pubkit/baggage"
	"github.com/maxpert/pubkit/encoding"
	"github.com/maxpert/pubkit/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

const keyPrefix = "/provide/"

// ErrKindMismatch is returned when a key was provisioned with another kind
var ErrKindMismatch = errors.New("provisioned kind mismatch")

// Referenced objects can be recorded and later revived by reference
type Referenced interface {
	Ref() string
}

// Kind constructs and revives objects of one durable kind
type Kind[V Referenced] interface {
	Name() string
	Make(ctx context.Context) (V, error)
	Revive(ctx context.Context, ref string) (V, error)
}

// Entry is what a provisioned key records
type Entry struct {
	Kind string `msgpack:"kind"`
	Ref  string `msgpack:"ref"`
}

type provided struct {
	kind  string
	value any
}

// Provider records provisioned singletons in a store. There is one
// Provider per open store; NewProvider returns it.
type Provider struct {
	store baggage.Store
	codec *encoding.Codec
	cache *xsync.MapOf[string, provided]
	locks *xsync.MapOf[string, *sync.Mutex]
}

// NewProvider returns the provider attached to store, creating it with
// codec on first use
func NewProvider(store baggage.Store, codec *encoding.Codec) *Provider {
	if codec == nil {
		codec = encoding.NewCodec(encoding.DefaultCompressThreshold)
	}
	p, err := baggage.Shared(store, "provide/provider", func() *Provider {
		return &Provider{
			store: store,
			codec: codec,
			cache: xsync.NewMapOf[string, provided](),
			locks: xsync.NewMapOf[string, *sync.Mutex](),
		}
	})
	if err != nil {
		// Nothing else attaches under this name
		panic(err)
	}
	return p
}

func entryKey(key string) []byte {
	return []byte(keyPrefix + key)
}

// Provide returns the singleton for key, calling kind.Make only if the key
// has never been provisioned. Concurrent calls for one key are serialized so
// only one of them can construct; a writer sharing the store that records
// the key first wins, and its object is revived instead.
func Provide[V Referenced](ctx context.Context, p *Provider, key string, kind Kind[V]) (V, error) {
	var zero V

	if v, ok, err := cached[V](p, key, kind.Name()); ok || err != nil {
		if err == nil {
			telemetry.ProvideTotal.With("cached").Inc()
		}
		return v, err
	}

	mu, _ := p.locks.LoadOrCompute(key, func() *sync.Mutex { return &sync.Mutex{} })
	mu.Lock()
	defer mu.Unlock()
	// Later callers hit the cache or lose the conditional record below
	defer p.locks.Delete(key)

	if v, ok, err := cached[V](p, key, kind.Name()); ok || err != nil {
		if err == nil {
			telemetry.ProvideTotal.With("cached").Inc()
		}
		return v, err
	}

	entry, err := p.Lookup(ctx, key)
	switch {
	case err == nil:
		return revive(ctx, p, key, entry, kind)

	case errors.Is(err, baggage.ErrNotFound):
		v, err := kind.Make(ctx)
		if err != nil {
			telemetry.ProvideTotal.With("error").Inc()
			return zero, fmt.Errorf("make %q: %w", key, err)
		}

		entry := Entry{Kind: kind.Name(), Ref: v.Ref()}
		raw, err := p.codec.Encode(&entry)
		if err == nil {
			err = p.store.CommitIf(ctx, entryKey(key), nil, raw)
		}
		if errors.Is(err, baggage.ErrConflict) {
			log.Warn().
				Str("key", key).
				Str("kind", entry.Kind).
				Str("ref", entry.Ref).
				Msg("Key recorded by another writer, reviving theirs")
			recorded, err := p.Lookup(ctx, key)
			if err != nil {
				telemetry.ProvideTotal.With("error").Inc()
				return zero, err
			}
			return revive(ctx, p, key, recorded, kind)
		}
		if err != nil {
			telemetry.ProvideTotal.With("error").Inc()
			log.Warn().
				Err(err).
				Str("key", key).
				Str("kind", entry.Kind).
				Str("ref", entry.Ref).
				Msg("Provisioned object made but not recorded")
			return zero, fmt.Errorf("record %q: %w", key, err)
		}

		p.cache.Store(key, provided{kind: entry.Kind, value: v})
		telemetry.ProvideTotal.With("constructed").Inc()
		log.Info().Str("key", key).Str("kind", entry.Kind).Str("ref", entry.Ref).Msg("Provisioned new singleton")
		return v, nil

	default:
		telemetry.ProvideTotal.With("error").Inc()
		return zero, err
	}
}

// revive must be called with the key's lock held
func revive[V Referenced](ctx context.Context, p *Provider, key string, entry Entry, kind Kind[V]) (V, error) {
	var zero V
	if entry.Kind != kind.Name() {
		telemetry.ProvideTotal.With("error").Inc()
		return zero, fmt.Errorf("%w: %q holds %s, not %s", ErrKindMismatch, key, entry.Kind, kind.Name())
	}
	v, err := kind.Revive(ctx, entry.Ref)
	if err != nil {
		telemetry.ProvideTotal.With("error").Inc()
		return zero, fmt.Errorf("revive %q: %w", key, err)
	}
	p.cache.Store(key, provided{kind: entry.Kind, value: v})
	telemetry.ProvideTotal.With("revived").Inc()
	return v, nil
}

func cached[V Referenced](p *Provider, key, kind string) (V, bool, error) {
	var zero V
	c, ok := p.cache.Load(key)
	if !ok {
		return zero, false, nil
	}
	v, typed := c.value.(V)
	if c.kind != kind || !typed {
		return zero, false, fmt.Errorf("%w: %q holds %s, not %s", ErrKindMismatch, key, c.kind, kind)
	}
	return v, true, nil
}

// Lookup returns the recorded entry for key, or baggage.ErrNotFound
func (p *Provider) Lookup(ctx context.Context, key string) (Entry, error) {
	raw, err := p.store.Load(ctx, entryKey(key))
	if err != nil {
		return Entry{}, err
	}
	var entry Entry
	if err := p.codec.Decode(raw, &entry); err != nil {
		return Entry{}, fmt.Errorf("provisioned entry %q: %w", key, err)
	}
	return entry, nil
}

// Keys lists every provisioned key in order
func (p *Provider) Keys(ctx context.Context) ([]string, error) {
	keys, err := p.store.Keys(ctx, []byte(keyPrefix))
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		keys[i] = k[len(keyPrefix):]
	}
	return keys, nil
}
