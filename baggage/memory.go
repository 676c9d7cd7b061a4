package baggage

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// MemoryStore keeps committed values in a concurrent map.
// Values are copied on the way in and out so callers can't alias stored bytes.
type MemoryStore struct {
	data   *xsync.MapOf[string, []byte]
	closed atomic.Bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: xsync.NewMapOf[string, []byte](),
	}
}

func (s *MemoryStore) Load(ctx context.Context, key []byte) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	val, ok := s.data.Load(string(key))
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), val...), nil
}

func (s *MemoryStore) Commit(ctx context.Context, key, value []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.data.Store(string(key), append([]byte(nil), value...))
	return nil
}

func (s *MemoryStore) CommitIf(ctx context.Context, key, expected, value []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	conflict := false
	s.data.Compute(string(key), func(old []byte, loaded bool) ([]byte, bool) {
		if loaded != (expected != nil) || !bytes.Equal(old, expected) {
			conflict = true
			return old, !loaded
		}
		return append([]byte(nil), value...), false
	})
	if conflict {
		return ErrConflict
	}
	return nil
}

func (s *MemoryStore) Keys(ctx context.Context, prefix []byte) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	p := string(prefix)
	var keys []string
	s.data.Range(func(key string, _ []byte) bool {
		if strings.HasPrefix(key, p) {
			keys = append(keys, key)
		}
		return true
	})
	sort.Strings(keys)
	return keys, ctx.Err()
}

// Len returns the number of committed keys
func (s *MemoryStore) Len() int {
	return s.data.Size()
}

func (s *MemoryStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	release(s)
	return nil
}
