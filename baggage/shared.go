package baggage

import (
	"errors"
	"fmt"
	"sync"
)

// ErrSharedType is returned by Shared when name already holds another type
var ErrSharedType = errors.New("baggage: shared value has a different type")

// Values attached to an open store, keyed by the Store value itself.
// Close drops them.
var (
	sharedMu sync.Mutex
	shared   = make(map[Store]map[string]any)
)

// Shared returns the value attached to store under name, calling init on
// first use. Everyone holding the same Store sees the same instance until
// the store is closed. init must not call Shared.
func Shared[V any](store Store, name string, init func() V) (V, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	vals, ok := shared[store]
	if !ok {
		vals = make(map[string]any)
		shared[store] = vals
	}

	if v, ok := vals[name]; ok {
		typed, ok := v.(V)
		if !ok {
			var zero V
			return zero, fmt.Errorf("%w: %s holds %T", ErrSharedType, name, v)
		}
		return typed, nil
	}

	v := init()
	vals[name] = v
	return v, nil
}

func release(store Store) {
	sharedMu.Lock()
	delete(shared, store)
	sharedMu.Unlock()
}
