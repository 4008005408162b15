package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

type Pebble struct {
	db *pebble.DB
}

// OpenPebble opens a pebble database at path; an empty path uses an in-memory filesystem.
func OpenPebble(path string) (*Pebble, error) {
	opts := &pebble.Options{}
	if path == "" {
		opts.FS = vfs.NewMem()
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &Pebble{db: db}, nil
}

func (p *Pebble) Get(_ context.Context, key string) (string, error) {
	value, closer, err := p.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get kv %s: %w", key, err)
	}
	out := string(value)
	if err := closer.Close(); err != nil {
		return "", fmt.Errorf("release kv %s: %w", key, err)
	}
	return out, nil
}

func (p *Pebble) Set(_ context.Context, key, value string) error {
	if err := p.db.Set([]byte(key), []byte(value), pebble.Sync); err != nil {
		return fmt.Errorf("set kv %s: %w", key, err)
	}
	return nil
}

func (p *Pebble) Close() error {
	return p.db.Close()
}
