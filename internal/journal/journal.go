// Package journal persists bus lifecycle events to PostgreSQL. Journaling
// is optional; a nil *Journal is a valid recorder that drops everything.
package journal

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openfieldbus/ecatcore/internal/config"
)

// Event types recorded by the registry.
const (
	EventBusRegistered  = "bus_registered"
	EventBusActivated   = "bus_activated"
	EventBusDeactivated = "bus_deactivated"
	EventDeviceFault    = "device_fault"
	EventTeardown       = "teardown"
	EventForcedShutdown = "forced_shutdown"
)

const schema = `
CREATE TABLE IF NOT EXISTS bus_events (
	id         UUID PRIMARY KEY,
	bus        TEXT NOT NULL,
	event      TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

type Journal struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg config.JournalConfig) (*Journal, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure bus_events table: %w", err)
	}

	return &Journal{pool: pool}, nil
}

// Record writes one event. A nil Journal discards it.
func (j *Journal) Record(ctx context.Context, busName, event, detail string) error {
	if j == nil {
		return nil
	}
	_, err := j.pool.Exec(ctx,
		`INSERT INTO bus_events (id, bus, event, detail) VALUES ($1, $2, $3, $4)`,
		uuid.New(), busName, event, detail)
	if err != nil {
		return fmt.Errorf("failed to record %s for %s: %w", event, busName, err)
	}
	return nil
}

func (j *Journal) Close() {
	if j != nil {
		j.pool.Close()
	}
}
