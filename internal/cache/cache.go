// Package cache stores raw responses keyed by a hash of what produced them.
// Entries are created once and never rewritten.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("dashscrape/internal/cache")

var ErrNotFound = errors.New("cache: entry not found")

// Key returns the deterministic hash a query is stored under.
func Key(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:8])
}

// URLKey is Key for page urls, the `id_html` parameter changes between
// otherwise identical links and is ignored.
func URLKey(rawUrl string) string {
	parsed, err := url.Parse(rawUrl)
	if err != nil {
		return Key(rawUrl)
	}
	query := parsed.Query()
	if !query.Has("id_html") {
		return Key(rawUrl)
	}
	query.Del("id_html")
	parsed.RawQuery = query.Encode()
	return Key(parsed.String())
}

// Store is append-only key-value storage for raw responses.
type Store interface {
	// Get returns ErrNotFound when there is no entry for key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put creates the entry for key, an existing entry is left untouched.
	Put(ctx context.Context, key string, value []byte) error
	Has(ctx context.Context, key string) (bool, error)
}

// Disabled never has an entry and drops every write.
type Disabled struct{}

func (Disabled) Get(context.Context, string) ([]byte, error) {
	return nil, ErrNotFound
}

func (Disabled) Put(context.Context, string, []byte) error {
	return nil
}

func (Disabled) Has(context.Context, string) (bool, error) {
	return false, nil
}

func recordError(span trace.Span, err error) {
	if err == nil || errors.Is(err, ErrNotFound) {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Prefixed namespaces the keys of a store shared by several kinds of entries.
type Prefixed struct {
	Store  Store
	Prefix string
}

func (p Prefixed) key(key string) string {
	return p.Prefix + "-" + key
}

func (p Prefixed) Get(ctx context.Context, key string) ([]byte, error) {
	return p.Store.Get(ctx, p.key(key))
}

func (p Prefixed) Put(ctx context.Context, key string, value []byte) error {
	return p.Store.Put(ctx, p.key(key), value)
}

func (p Prefixed) Has(ctx context.Context, key string) (bool, error) {
	return p.Store.Has(ctx, p.key(key))
}
