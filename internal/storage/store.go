// Package storage persists vessel snapshots and their position history.
//
// Every backend applies an update the same way: read the current snapshot
// inside a transaction, fold the update in with vessel.Merge, write the
// snapshot back and append a history row when the update carries a
// position. The read-merge-write for one MMSI is never interleaved with
// another write for the same MMSI.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ais_ingest/internal/lookup"
	"ais_ingest/internal/vessel"
)

// ErrNotFound is returned by writes addressed to an MMSI that has no snapshot.
var ErrNotFound = errors.New("vessel not found")

// Limits applied when callers pass none.
const (
	DefaultRouteLimit  = 1000
	DefaultEnrichLimit = 100
)

// UpsertResult describes the outcome of one Upsert.
type UpsertResult struct {
	Vessel   vessel.Vessel
	Position *vessel.Position // Set when a history row was appended.
	Created  bool
}

// Store is the vessel state store.
type Store interface {
	// Upsert creates or merges the snapshot for u.MMSI and appends a
	// position row when u carries both coordinates.
	Upsert(ctx context.Context, u vessel.Update) (UpsertResult, error)

	// GetVessel returns the snapshot for mmsi, or nil if none exists.
	GetVessel(ctx context.Context, mmsi int64) (*vessel.Vessel, error)

	// ListRecentlyUpdated returns snapshots updated at or after since,
	// most recent first.
	ListRecentlyUpdated(ctx context.Context, since time.Time) ([]vessel.Vessel, error)

	// ListRoute returns up to limit of the most recent positions of mmsi
	// recorded at or after since, oldest first.
	ListRoute(ctx context.Context, mmsi int64, since time.Time, limit int) ([]vessel.Position, error)

	// ListNeedingEnrichment returns up to limit snapshots whose type is
	// still Other or whose flag is still Unknown.
	ListNeedingEnrichment(ctx context.Context, limit int) ([]vessel.Vessel, error)

	// ApplyClassification fills placeholder type and flag values. It
	// reports whether anything changed.
	ApplyClassification(ctx context.Context, mmsi int64, vesselType lookup.VesselType, flag string) (bool, error)

	Close() error
}

// Backend names a primary store implementation.
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// Config holds the primary backend selection and the optional mirrors.
type Config struct {
	Backend    Backend
	SQLitePath string
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig // Mirror enabled when Host is set.
	Redis      RedisConfig      // Mirror enabled when Addr is set.
}

// DefaultConfig returns a configuration with default local development settings.
func DefaultConfig() Config {
	return Config{
		Backend:    BackendSQLite,
		SQLitePath: "ais.db",
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "ais",
			User:     "ais",
			Password: "ais",
		},
		ClickHouse: ClickHouseConfig{
			Port:          9000,
			Database:      "ais",
			User:          "default",
			BatchSize:     500,
			FlushInterval: 5 * time.Second,
		},
		Redis: RedisConfig{
			TTL: 24 * time.Hour,
		},
	}
}

// Open opens the primary store and any configured mirrors. A mirror that
// cannot be reached is logged and left out; the primary store is required.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		primary Store
		err     error
	)
	switch cfg.Backend {
	case BackendSQLite, "":
		primary, err = OpenSQLite(cfg.SQLitePath)
	case BackendPostgres:
		var pg *PostgresStore
		pg, err = OpenPostgres(ctx, cfg.Postgres)
		if err == nil {
			if err = pg.CreateSchema(ctx); err != nil {
				pg.Close()
			}
		}
		primary = pg
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Backend, err)
	}

	var mirrors []Mirror
	if cfg.ClickHouse.Host != "" {
		ch, err := OpenClickHouse(ctx, cfg.ClickHouse)
		if err == nil {
			err = ch.CreateSchema(ctx)
		}
		if err != nil {
			logger.Warn("position history mirror disabled", "backend", "clickhouse", "error", err)
		} else {
			mirrors = append(mirrors, NewPositionHistory(ch, cfg.ClickHouse.BatchSize, cfg.ClickHouse.FlushInterval, logger))
		}
	}
	if cfg.Redis.Addr != "" {
		cache, err := OpenRedis(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("latest position cache disabled", "backend", "redis", "error", err)
		} else {
			mirrors = append(mirrors, cache)
		}
	}

	if len(mirrors) == 0 {
		return primary, nil
	}
	return WithMirrors(primary, logger, mirrors...), nil
}
