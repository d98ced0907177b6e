package cache

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

// SQLiteStore keeps every entry as a row of a single table.
type SQLiteStore struct {
	db *sql.DB
}

// crawler workers read and write concurrently, writers wait on the lock
// instead of failing with SQLITE_BUSY
const sqlitePragmas = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_pragma=synchronous(normal)"

// OpenSQLite opens (creating if needed) the database file at `path`.
func OpenSQLite(ctx context.Context, path string) (SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+sqlitePragmas)
	if err != nil {
		return SQLiteStore{}, err
	}
	store, err := NewSQLiteStore(ctx, db)
	if err != nil {
		db.Close()
		return SQLiteStore{}, err
	}
	return store, nil
}

func NewSQLiteStore(ctx context.Context, db *sql.DB) (SQLiteStore, error) {
	_, err := db.ExecContext(ctx, Schema)
	if err != nil {
		return SQLiteStore{}, fmt.Errorf("create cache schema: %w", err)
	}
	return SQLiteStore{db: db}, nil
}

func (s SQLiteStore) Close() error {
	return s.db.Close()
}

func (s SQLiteStore) Get(ctx context.Context, key string) (value []byte, err error) {
	ctx, span := tracer.Start(ctx, "SQLiteStore.Get")
	defer span.End()
	defer func() { recordError(span, err) }()

	span.SetAttributes(attribute.String("key", key))

	err = s.db.QueryRowContext(ctx, "select value from cache_entry where key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s SQLiteStore) Has(ctx context.Context, key string) (bool, error) {
	ctx, span := tracer.Start(ctx, "SQLiteStore.Has")
	defer span.End()

	var count int
	err := s.db.QueryRowContext(ctx, "select count(*) from cache_entry where key = ?", key).Scan(&count)
	if err != nil {
		recordError(span, err)
		return false, err
	}
	return count > 0, nil
}

// Put runs in a single statement, so an entry is either fully there or absent.
func (s SQLiteStore) Put(ctx context.Context, key string, value []byte) (err error) {
	ctx, span := tracer.Start(ctx, "SQLiteStore.Put")
	defer span.End()
	defer func() { recordError(span, err) }()

	span.SetAttributes(
		attribute.String("key", key),
		attribute.Int("size", len(value)),
	)

	_, err = s.db.ExecContext(
		ctx,
		"insert or ignore into cache_entry(key, value) values (?, ?)",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("write cache entry %s: %w", key, err)
	}
	return nil
}
