package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"dashscrape/internal/cache"
	"dashscrape/internal/components/chrono"
	"dashscrape/internal/components/telemetry"
	"dashscrape/internal/fetch"
)

// NewFetcher returns a fetcher that makes a single attempt per request. Its
// clock is fake, so a test that raises the retries does not wait.
func NewFetcher(t testing.TB, retries int) fetch.Fetcher {
	t.Helper()
	tel := telemetry.SlogAPI{}
	client := fetch.NewHttpClient(fetch.HttpOptions{Timeout: 5 * time.Second}, tel, nil)
	return fetch.NewFetcher(
		client,
		fetch.Options{Retries: retries, MinWait: time.Second},
		chrono.NewFakeImpl(time.Unix(0, 0)),
		tel,
	)
}

// NewSQLiteStore opens a cache store in a database file that lives as long
// as the test.
func NewSQLiteStore(t testing.TB) cache.SQLiteStore {
	t.Helper()
	store, err := cache.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewFileStore is NewSQLiteStore for the one-file-per-entry store.
func NewFileStore(t testing.TB, prefix, ext string) cache.FileStore {
	t.Helper()
	store, err := cache.NewFileStore(filepath.Join(t.TempDir(), "cache"), prefix, ext)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

// ReadOnlyStore is an empty cache.Store whose writes fail with Err.
type ReadOnlyStore struct {
	Err error
}

func (ReadOnlyStore) Get(context.Context, string) ([]byte, error) {
	return nil, cache.ErrNotFound
}

func (ReadOnlyStore) Has(context.Context, string) (bool, error) {
	return false, nil
}

func (s ReadOnlyStore) Put(context.Context, string, []byte) error {
	return s.Err
}
