package baggage

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

const sqliteTable = "baggage"

const sqliteSchema = `CREATE TABLE IF NOT EXISTS baggage (
	"key"   TEXT PRIMARY KEY,
	"value" BLOB NOT NULL
) WITHOUT ROWID`

// SQLiteStore is a Store backed by a single SQLite table
type SQLiteStore struct {
	db      *sql.DB
	path    string
	dialect goqu.DialectWrapper
	closed  atomic.Bool
}

// OpenSQLite creates or opens a SQLite store at path.
// With sync set the database runs synchronous=FULL so a commit is on disk
// when it returns; otherwise NORMAL, which is still crash-consistent in WAL.
// Transactions take the write lock up front so CommitIf holds across
// processes sharing the file.
func OpenSQLite(path string, sync bool) (*SQLiteStore, error) {
	synchronous := "NORMAL"
	if sync {
		synchronous = "FULL"
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=%s&_busy_timeout=5000&_txlock=immediate", path, synchronous)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store at %s: %w", path, err)
	}

	// Single writer; commits are serialized by the kit anyway
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create baggage table: %w", err)
	}

	log.Debug().Str("path", path).Str("synchronous", synchronous).Msg("Opened sqlite baggage store")

	return &SQLiteStore{
		db:      db,
		path:    path,
		dialect: goqu.Dialect("sqlite3"),
	}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, key []byte) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	query, args, err := s.dialect.From(sqliteTable).
		Select("value").
		Where(goqu.C("key").Eq(string(key))).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build load query: %w", err)
	}

	var val []byte
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (s *SQLiteStore) Commit(ctx context.Context, key, value []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}

	query, args, err := s.dialect.Insert(sqliteTable).
		Rows(goqu.Record{"key": string(key), "value": value}).
		OnConflict(goqu.DoUpdate("key", goqu.Record{"value": goqu.I("excluded.value")})).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build commit query: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin commit: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to commit %s: %w", key, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) CommitIf(ctx context.Context, key, expected, value []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}

	load, largs, err := s.dialect.From(sqliteTable).
		Select("value").
		Where(goqu.C("key").Eq(string(key))).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build load query: %w", err)
	}
	upsert, uargs, err := s.dialect.Insert(sqliteTable).
		Rows(goqu.Record{"key": string(key), "value": value}).
		OnConflict(goqu.DoUpdate("key", goqu.Record{"value": goqu.I("excluded.value")})).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build commit query: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin commit: %w", err)
	}
	defer tx.Rollback()

	var cur []byte
	err = tx.QueryRowContext(ctx, load, largs...).Scan(&cur)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if expected != nil {
			return ErrConflict
		}
	case err != nil:
		return err
	case expected == nil || !bytes.Equal(cur, expected):
		return ErrConflict
	}

	if _, err := tx.ExecContext(ctx, upsert, uargs...); err != nil {
		return fmt.Errorf("failed to commit %s: %w", key, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Keys(ctx context.Context, prefix []byte) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	ds := s.dialect.From(sqliteTable).
		Select("key").
		Where(goqu.C("key").Gte(string(prefix))).
		Order(goqu.C("key").Asc())
	if upper := prefixUpperBound(prefix); upper != nil {
		ds = ds.Where(goqu.C("key").Lt(string(upper)))
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build keys query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	release(s)
	return s.db.Close()
}
