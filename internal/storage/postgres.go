package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

const (
	selectStateSQL = `SELECT value FROM tracker_state WHERE key = $1`
	upsertStateSQL = `INSERT INTO tracker_state (key, value, updated_at) VALUES ($1, $2, NOW())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`
	deleteStateSQL       = `DELETE FROM tracker_state WHERE key = ANY($1)`
	deleteStatePrefixSQL = `DELETE FROM tracker_state WHERE key LIKE $1 ESCAPE '\'`
)

// PostgresAdapter stores state in the tracker_state table.
type PostgresAdapter struct {
	db *sql.DB
}

// NewPostgresAdapter wraps an open database. The schema comes from migrations/.
func NewPostgresAdapter(db *sql.DB) *PostgresAdapter {
	return &PostgresAdapter{db: db}
}

func (p *PostgresAdapter) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := p.db.QueryRowContext(ctx, selectStateSQL, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("select state %s: %w", key, err)
	}
	return value, nil
}

func (p *PostgresAdapter) Set(ctx context.Context, key, value string) error {
	if _, err := p.db.ExecContext(ctx, upsertStateSQL, key, value); err != nil {
		return fmt.Errorf("upsert state %s: %w", key, err)
	}
	return nil
}

func (p *PostgresAdapter) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := p.db.ExecContext(ctx, deleteStateSQL, pq.Array(keys)); err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}

func (p *PostgresAdapter) DeletePrefix(ctx context.Context, prefix string) error {
	if _, err := p.db.ExecContext(ctx, deleteStatePrefixSQL, likePrefix(prefix)); err != nil {
		return fmt.Errorf("delete state prefix %s: %w", prefix, err)
	}
	return nil
}

func (p *PostgresAdapter) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresAdapter) Close() error {
	return p.db.Close()
}

// likePrefix escapes LIKE wildcards in prefix and appends %.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
