package baggage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/maxpert/pubkit/encoding"
)

const (
	counterPrefix = "/counter/"

	// counterConflictRetries bounds how often Inc reloads after another
	// writer moved the counter underneath the cache
	counterConflictRetries = 8
)

// counterEntry is a cached counter with the record it was committed as
type counterEntry struct {
	value int64
	raw   []byte // nil when never written
}

// Counter provides write-through cached int64 counters over any Store.
// Counters are loaded on first access and cached; every write is committed
// with CommitIf against the cached record, so a stale cache reloads instead
// of moving the counter backwards, and a failed commit leaves the old value.
type Counter struct {
	store Store

	mu    sync.Mutex // serializes load-modify-commit
	cache *lru.Cache[string, counterEntry]
}

// NewCounter creates a counter set with an LRU cache of maxCached entries
func NewCounter(store Store, maxCached int) *Counter {
	if maxCached <= 0 {
		maxCached = 1000
	}
	cache, err := lru.New[string, counterEntry](maxCached)
	if err != nil {
		// Only returned for a non-positive size
		panic(err)
	}
	return &Counter{
		store: store,
		cache: cache,
	}
}

// SharedCounter returns the counter set attached to store, so every caller
// over one store draws from the same cache
func SharedCounter(store Store, maxCached int) *Counter {
	c, err := Shared(store, "baggage/counter", func() *Counter {
		return NewCounter(store, maxCached)
	})
	if err != nil {
		// Nothing else attaches under this name
		panic(err)
	}
	return c
}

func counterKey(name string) []byte {
	return []byte(counterPrefix + name)
}

// getOrLoad must be called with mu held
func (c *Counter) getOrLoad(ctx context.Context, name string) (counterEntry, error) {
	if e, ok := c.cache.Get(name); ok {
		return e, nil
	}

	raw, err := c.store.Load(ctx, counterKey(name))
	if errors.Is(err, ErrNotFound) {
		e := counterEntry{}
		c.cache.Add(name, e)
		return e, nil
	}
	if err != nil {
		return counterEntry{}, err
	}

	var v int64
	if err := encoding.DecodeRecord(raw, &v); err != nil {
		return counterEntry{}, fmt.Errorf("counter %s: %w", name, err)
	}
	e := counterEntry{value: v, raw: raw}
	c.cache.Add(name, e)
	return e, nil
}

// persist must be called with mu held
func (c *Counter) persist(ctx context.Context, name string, prev counterEntry, v int64) error {
	raw, err := encoding.EncodeRecord(v)
	if err != nil {
		return err
	}
	if err := c.store.CommitIf(ctx, counterKey(name), prev.raw, raw); err != nil {
		if errors.Is(err, ErrConflict) {
			c.cache.Remove(name)
		}
		return err
	}
	c.cache.Add(name, counterEntry{value: v, raw: raw})
	return nil
}

// Load returns the current value of a counter (0 if never written)
func (c *Counter) Load(ctx context.Context, name string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, err := c.getOrLoad(ctx, name)
	return e.value, err
}

// Inc adds delta and returns the new value. On error the counter is unchanged.
func (c *Counter) Inc(ctx context.Context, name string, delta int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for attempt := 0; ; attempt++ {
		cur, err := c.getOrLoad(ctx, name)
		if err != nil {
			return 0, err
		}
		next := cur.value + delta
		err = c.persist(ctx, name, cur, next)
		if errors.Is(err, ErrConflict) && attempt < counterConflictRetries {
			continue
		}
		if err != nil {
			return cur.value, err
		}
		return next, nil
	}
}

// Invalidate drops a counter from the cache, forcing a reload on next access
func (c *Counter) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Remove(name)
}
