package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jonesrussell/north-cloud/serp-tracker/internal/config"
)

// dbPingTimeout bounds the connection check at startup.
const dbPingTimeout = 5 * time.Second

// Open builds the adapter selected by cfg.Driver.
func Open(cfg config.StorageConfig) (Adapter, error) {
	switch cfg.Driver {
	case config.DriverMemory, "":
		return NewMemoryAdapter(), nil
	case config.DriverBadger:
		return OpenBadger(cfg.Badger.Path, cfg.Badger.InMemory)
	case config.DriverRedis:
		client, err := NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		return NewRedisAdapter(client), nil
	case config.DriverPostgres:
		db, err := openPostgres(cfg.Postgres.DSN())
		if err != nil {
			return nil, err
		}
		return NewPostgresAdapter(db), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func openPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbPingTimeout)
	defer cancel()

	if pingErr := db.PingContext(ctx); pingErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", pingErr)
	}
	return db, nil
}
