package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/moby/sys/atomicwriter"
	"go.opentelemetry.io/otel/attribute"
)

// FileStore keeps one file per entry, named `<prefix>-<key>.<ext>`.
type FileStore struct {
	dir    string
	prefix string
	ext    string
}

func NewFileStore(dir, prefix, ext string) (FileStore, error) {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return FileStore{}, fmt.Errorf("create cache dir: %w", err)
	}
	return FileStore{dir: dir, prefix: prefix, ext: ext}, nil
}

// Path returns the file an entry is stored in.
func (s FileStore) Path(key string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s-%s.%s", s.prefix, key, s.ext))
}

func (s FileStore) Get(ctx context.Context, key string) (value []byte, err error) {
	_, span := tracer.Start(ctx, "FileStore.Get")
	defer span.End()
	defer func() { recordError(span, err) }()

	span.SetAttributes(attribute.String("key", key))

	value, err = os.ReadFile(s.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("size", len(value)))
	return value, nil
}

func (s FileStore) Has(ctx context.Context, key string) (bool, error) {
	_, span := tracer.Start(ctx, "FileStore.Has")
	defer span.End()

	_, err := os.Stat(s.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		recordError(span, err)
		return false, err
	}
	return true, nil
}

// Put writes to a temporary file and renames it into place, so a crash
// mid-write never leaves a partial entry behind.
func (s FileStore) Put(ctx context.Context, key string, value []byte) (err error) {
	ctx, span := tracer.Start(ctx, "FileStore.Put")
	defer span.End()
	defer func() { recordError(span, err) }()

	span.SetAttributes(
		attribute.String("key", key),
		attribute.Int("size", len(value)),
	)

	exists, err := s.Has(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		span.AddEvent("entry exists")
		return nil
	}

	err = atomicwriter.WriteFile(s.Path(key), value, 0644)
	if err != nil {
		return fmt.Errorf("write cache entry %s: %w", key, err)
	}
	return nil
}
