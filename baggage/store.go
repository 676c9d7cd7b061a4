package baggage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/maxpert/pubkit/cfg"
	"github.com/maxpert/pubkit/telemetry"
)

var (
	// ErrNotFound is returned by Load when the key has never been committed
	ErrNotFound = errors.New("baggage: key not found")

	// ErrClosed is returned by every operation after Close
	ErrClosed = errors.New("baggage: store is closed")

	// ErrConflict is returned by CommitIf when the committed value moved on
	ErrConflict = errors.New("baggage: committed value changed")
)

// Store is the durable store adapter contract.
type Store interface {
	// Load returns the committed value for key, or ErrNotFound.
	Load(ctx context.Context, key []byte) ([]byte, error)

	// Commit atomically replaces the value for key. A nil error means the
	// value survives a process restart (subject to the store's sync setting).
	Commit(ctx context.Context, key, value []byte) error

	// CommitIf replaces the value for key only while the committed value
	// equals expected; a nil expected means the key must be absent.
	// Otherwise it returns ErrConflict and nothing is written.
	CommitIf(ctx context.Context, key, expected, value []byte) error

	// Keys lists committed keys with the given prefix in ascending order.
	Keys(ctx context.Context, prefix []byte) ([]string, error)

	// Close releases the store. Further calls return ErrClosed.
	Close() error
}

// Open creates the store selected by the configuration
func Open(conf cfg.StoreConfiguration, dataDir string) (Store, error) {
	var (
		store Store
		err   error
	)

	if conf.Backend != cfg.StoreMemory {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	switch conf.Backend {
	case cfg.StorePebble:
		store, err = OpenPebble(filepath.Join(dataDir, "baggage"), conf.Sync)
	case cfg.StoreSQLite:
		store, err = OpenSQLite(filepath.Join(dataDir, "baggage.db"), conf.Sync)
	case cfg.StoreMemory:
		store = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown store backend %q", conf.Backend)
	}
	if err != nil {
		return nil, err
	}

	return Instrument(store, string(conf.Backend)), nil
}

// instrumented counts loads and commits per backend
type instrumented struct {
	Store
	backend string
}

// Instrument wraps a store so its loads and commits are reported to telemetry
func Instrument(store Store, backend string) Store {
	return &instrumented{Store: store, backend: backend}
}

func (s *instrumented) Load(ctx context.Context, key []byte) ([]byte, error) {
	val, err := s.Store.Load(ctx, key)
	switch {
	case err == nil:
		telemetry.StoreLoadTotal.With(s.backend, "hit").Inc()
	case errors.Is(err, ErrNotFound):
		telemetry.StoreLoadTotal.With(s.backend, "miss").Inc()
	default:
		telemetry.StoreLoadTotal.With(s.backend, "error").Inc()
	}
	return val, err
}

func (s *instrumented) Commit(ctx context.Context, key, value []byte) error {
	err := s.Store.Commit(ctx, key, value)
	if err != nil {
		telemetry.StoreCommitTotal.With(s.backend, "error").Inc()
	} else {
		telemetry.StoreCommitTotal.With(s.backend, "ok").Inc()
	}
	return err
}

func (s *instrumented) CommitIf(ctx context.Context, key, expected, value []byte) error {
	err := s.Store.CommitIf(ctx, key, expected, value)
	switch {
	case err == nil:
		telemetry.StoreCommitTotal.With(s.backend, "ok").Inc()
	case errors.Is(err, ErrConflict):
		telemetry.StoreCommitTotal.With(s.backend, "conflict").Inc()
	default:
		telemetry.StoreCommitTotal.With(s.backend, "error").Inc()
	}
	return err
}

func (s *instrumented) Close() error {
	release(s)
	return s.Store.Close()
}

// prefixUpperBound returns the upper bound for a prefix scan
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // Prefix is all 0xff
}
