// Package kvstore provides the durable key-value store that holds session
// snapshots. Every backend stores opaque string values under string keys.
package kvstore

import (
	"context"
	"errors"
	"fmt"

	"mindfulchat/internal/config"
	"mindfulchat/internal/redis"
	"mindfulchat/internal/storage"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("kv: key not found")

// Store is the durable key-value store consumed by the session manager.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// Open builds the backend selected by cfg.KV.Driver. rdb is only required by
// the redis driver.
func Open(cfg *config.Config, rdb *redis.Client) (Store, error) {
	switch cfg.KV.Driver {
	case "memory":
		return NewMemory(), nil
	case "sql":
		db, err := storage.Open(cfg.KV.Database, cfg)
		if err != nil {
			return nil, err
		}
		if err := storage.Migrate(db, cfg.KV.Database); err != nil {
			db.Close()
			return nil, err
		}
		return NewSQL(db, cfg.KV.Database), nil
	case "redis":
		if rdb == nil {
			return nil, errors.New("kv: redis driver requires a redis client")
		}
		return NewRedis(rdb, "mindfulchat:kv:"), nil
	case "badger":
		return OpenBadger(cfg.KV.Path)
	case "pebble":
		return OpenPebble(cfg.KV.Path)
	default:
		return nil, fmt.Errorf("kv: unsupported driver %q", cfg.KV.Driver)
	}
}
