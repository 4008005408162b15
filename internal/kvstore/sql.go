package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mindfulchat/internal/storage"
)

// SQL stores values in the kv_store table created by storage.Migrate.
type SQL struct {
	db     *sql.DB
	upsert string
}

func NewSQL(db *sql.DB, driver string) *SQL {
	return &SQL{db: db, upsert: storage.UpsertStatement(driver)}
}

func (s *SQL) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT v FROM kv_store WHERE k = ?`, key).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get kv %s: %w", key, err)
	}
	return v, nil
}

func (s *SQL) Set(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, s.upsert, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("set kv %s: %w", key, err)
	}
	return nil
}

func (s *SQL) Close() error {
	return s.db.Close()
}
