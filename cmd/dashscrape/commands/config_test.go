package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dashscrape/internal/cache"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dashscrape.json5")
	require.NoError(t, os.WriteFile(path, []byte(`{
		bcn: {queries: {init: '{"init":1}'}},
		charts: {rate: 0.5},
		cache: {driver: "sqlite"},
	}`), 0644))

	configPath = path
	defer func() { configPath = "" }()

	cfg, err := loadConfig()
	require.NoError(t, err)
	require.Equal(t, `{"init":1}`, cfg.Bcn.Queries.Init)
	require.Equal(t, 4705, cfg.Bcn.RestartCode)
	require.Equal(t, 0.5, cfg.Charts.Rate)
	require.Equal(t, "https://dadescovid.cat/", cfg.Charts.BaseUrl)
	require.Equal(t, cacheDriverSqlite, cfg.Cache.Driver)

	opts := cfg.fetchOptions()
	require.Equal(t, 20, opts.Retries)
	require.Equal(t, 10*time.Second, opts.MinWait)

	socket := cfg.socketOptions()
	require.Equal(t, 1, socket.SoftReconnects)
	require.Equal(t, cfg.Bcn.BaseUrl, socket.BaseUrl)
}

func TestDirArgs(t *testing.T) {
	c, d := dirArgs(nil)
	require.Equal(t, "cache", c)
	require.Equal(t, "dest", d)

	c, d = dirArgs([]string{"a", "b"})
	require.Equal(t, "a", c)
	require.Equal(t, "b", d)
}

func TestOpenStores(t *testing.T) {
	ctx := context.Background()

	s, err := openStores(ctx, CacheConfig{Driver: cacheDriverSqlite}, t.TempDir())
	require.NoError(t, err)
	store, err := s.open("page", "html")
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "k", []byte("v")))
	value, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), value)
	other, err := s.open("bcn", "json")
	require.NoError(t, err)
	_, err = other.Get(ctx, "k")
	require.ErrorIs(t, err, cache.ErrNotFound)
	require.NoError(t, s.Close())

	s, err = openStores(ctx, CacheConfig{Driver: cacheDriverFiles}, t.TempDir())
	require.NoError(t, err)
	store, err = s.open("page", "html")
	require.NoError(t, err)
	require.IsType(t, cache.FileStore{}, store)

	_, err = openStores(ctx, CacheConfig{Driver: "redis"}, t.TempDir())
	require.Error(t, err)

	disableCache = true
	defer func() { disableCache = false }()
	s, err = openStores(ctx, CacheConfig{Driver: cacheDriverFiles}, t.TempDir())
	require.NoError(t, err)
	store, err = s.open("page", "html")
	require.NoError(t, err)
	require.Equal(t, cache.Disabled{}, store)
}
