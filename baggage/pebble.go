package baggage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog/log"
)

// Pebble configuration constants. Kit records are tiny and written one at a
// time, so the memtable is kept small.
const (
	memTableSize                = 4 << 20 // 4MB
	memTableStopWritesThreshold = 4
	l0CompactionThreshold       = 2
	l0StopWritesThreshold       = 12
)

// PebbleStore is a Store backed by a Pebble database
type PebbleStore struct {
	db        *pebble.DB
	path      string
	writeOpts *pebble.WriteOptions
	closed    atomic.Bool

	// mu orders writes so CommitIf can read and set without interleaving
	mu sync.Mutex
}

// OpenPebble creates or opens a Pebble store at path.
// With sync set every Commit is fsynced before it returns.
func OpenPebble(path string, sync bool) (*PebbleStore, error) {
	opts := &pebble.Options{
		MemTableSize:                memTableSize,
		MemTableStopWritesThreshold: memTableStopWritesThreshold,
		L0CompactionThreshold:       l0CompactionThreshold,
		L0StopWritesThreshold:       l0StopWritesThreshold,
		DisableWAL:                  false,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble store at %s: %w", path, err)
	}

	writeOpts := pebble.NoSync
	if sync {
		writeOpts = pebble.Sync
	}

	log.Debug().Str("path", path).Bool("sync", sync).Msg("Opened pebble baggage store")

	return &PebbleStore{
		db:        db,
		path:      path,
		writeOpts: writeOpts,
	}, nil
}

// Load returns the committed value for key
func (s *PebbleStore) Load(ctx context.Context, key []byte) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	// The slice is only valid until closer.Close()
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

// Commit writes the value for key
func (s *PebbleStore) Commit(ctx context.Context, key, value []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Set(key, value, s.writeOpts); err != nil {
		return fmt.Errorf("failed to commit %s: %w", key, err)
	}
	return nil
}

// CommitIf writes value for key when the committed value still equals expected
func (s *PebbleStore) CommitIf(ctx context.Context, key, expected, value []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, closer, err := s.db.Get(key)
	switch {
	case errors.Is(err, pebble.ErrNotFound):
		if expected != nil {
			return ErrConflict
		}
	case err != nil:
		return err
	default:
		same := expected != nil && bytes.Equal(cur, expected)
		closer.Close()
		if !same {
			return ErrConflict
		}
	}

	if err := s.db.Set(key, value, s.writeOpts); err != nil {
		return fmt.Errorf("failed to commit %s: %w", key, err)
	}
	return nil
}

// Keys lists keys under prefix
func (s *PebbleStore) Keys(ctx context.Context, prefix []byte) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var keys []string
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		keys = append(keys, string(iter.Key()))
	}

	if err := iter.Error(); err != nil {
		return nil, err
	}
	return keys, nil
}

// Close closes the Pebble database
func (s *PebbleStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	release(s)
	return s.db.Close()
}
