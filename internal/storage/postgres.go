package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ais_ingest/internal/lookup"
	"ais_ingest/internal/vessel"
)

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	MaxConns int32
}

// PostgresStore is the production store. Concurrent writers for one MMSI
// are serialized by a row lock taken with SELECT ... FOR UPDATE.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// OpenPostgres opens a connection pool to PostgreSQL.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolCfg.MaxConns = 10
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	// Test the connection.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close closes the PostgreSQL connection pool.
func (d *PostgresStore) Close() error {
	d.pool.Close()
	return nil
}

// CreateSchema creates the PostgreSQL tables.
func (d *PostgresStore) CreateSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS vessels (
		mmsi                 BIGINT PRIMARY KEY,
		name                 TEXT NOT NULL,
		imo_number           TEXT NOT NULL,
		call_sign            TEXT,
		vessel_type          TEXT NOT NULL DEFAULT 'Other',
		flag                 TEXT NOT NULL DEFAULT 'Unknown',
		latitude             DOUBLE PRECISION,
		longitude            DOUBLE PRECISION,
		speed                DOUBLE PRECISION,
		course               DOUBLE PRECISION,
		heading              INTEGER,
		nav_status           INTEGER,
		status               TEXT NOT NULL DEFAULT 'active',
		last_position_update TIMESTAMPTZ,
		data_source          TEXT,
		msg_count            INTEGER NOT NULL DEFAULT 0,
		created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_vessels_updated ON vessels(updated_at);
	CREATE INDEX IF NOT EXISTS idx_vessels_enrichment ON vessels(vessel_type, flag);

	CREATE TABLE IF NOT EXISTS vessel_positions (
		id          BIGSERIAL PRIMARY KEY,
		mmsi        BIGINT NOT NULL REFERENCES vessels(mmsi),
		latitude    DOUBLE PRECISION NOT NULL,
		longitude   DOUBLE PRECISION NOT NULL,
		speed       DOUBLE PRECISION,
		course      DOUBLE PRECISION,
		heading     INTEGER,
		timestamp   TIMESTAMPTZ NOT NULL,
		data_source TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_positions_mmsi_ts ON vessel_positions(mmsi, timestamp);
	`

	_, err := d.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

const pgVesselColumns = `mmsi, name, imo_number, call_sign, vessel_type, flag,
	latitude, longitude, speed, course, heading, nav_status, status,
	last_position_update, data_source, msg_count, created_at, updated_at`

func scanPGVessel(row pgx.Row) (*vessel.Vessel, error) {
	var (
		v                    vessel.Vessel
		vtype                string
		callSign, dataSource *string
	)
	err := row.Scan(&v.MMSI, &v.Name, &v.IMONumber, &callSign, &vtype, &v.Flag,
		&v.Latitude, &v.Longitude, &v.Speed, &v.Course, &v.Heading, &v.NavStatusCode, &v.Status,
		&v.LastPositionUpdate, &dataSource, &v.MsgCount, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	v.VesselType = lookup.ParseVesselType(vtype)
	if callSign != nil {
		v.CallSign = *callSign
	}
	if dataSource != nil {
		v.DataSource = *dataSource
	}
	return &v, nil
}

// GetVessel retrieves a vessel by MMSI.
func (d *PostgresStore) GetVessel(ctx context.Context, mmsi int64) (*vessel.Vessel, error) {
	v, err := scanPGVessel(d.pool.QueryRow(ctx, `SELECT `+pgVesselColumns+` FROM vessels WHERE mmsi = $1`, mmsi))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get vessel %d: %w", mmsi, err)
	}
	return v, nil
}

// Upsert applies u as one transaction. The placeholder insert makes sure a
// row exists to lock, so a concurrent first sighting of the same MMSI waits
// on the lock instead of racing the insert.
func (d *PostgresStore) Upsert(ctx context.Context, u vessel.Update) (UpsertResult, error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return UpsertResult{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := d.now()
	tag, err := tx.Exec(ctx, `
		INSERT INTO vessels (mmsi, name, imo_number, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (mmsi) DO NOTHING
	`, u.MMSI, vessel.PlaceholderName(u.MMSI), vessel.PlaceholderIMO(u.MMSI), now)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("insert placeholder: %w", err)
	}
	created := tag.RowsAffected() == 1

	cur, err := scanPGVessel(tx.QueryRow(ctx, `SELECT `+pgVesselColumns+` FROM vessels WHERE mmsi = $1 FOR UPDATE`, u.MMSI))
	if err != nil {
		return UpsertResult{}, fmt.Errorf("lock vessel %d: %w", u.MMSI, err)
	}

	res := UpsertResult{Created: created}
	if created {
		res.Vessel = vessel.New(u, now)
	} else {
		res.Vessel = *cur
		vessel.Merge(&res.Vessel, u, now)
	}

	v := &res.Vessel
	_, err = tx.Exec(ctx, `
		UPDATE vessels SET
			name = $2,
			imo_number = $3,
			call_sign = $4,
			vessel_type = $5,
			flag = $6,
			latitude = $7,
			longitude = $8,
			speed = $9,
			course = $10,
			heading = $11,
			nav_status = $12,
			status = $13,
			last_position_update = $14,
			data_source = $15,
			msg_count = $16,
			updated_at = $17
		WHERE mmsi = $1
	`, v.MMSI, v.Name, v.IMONumber, nullString(v.CallSign), string(v.VesselType), v.Flag,
		v.Latitude, v.Longitude, v.Speed, v.Course, v.Heading, v.NavStatusCode, v.Status,
		v.LastPositionUpdate, nullString(v.DataSource), v.MsgCount, v.UpdatedAt)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("write vessel %d: %w", v.MMSI, err)
	}

	if p, ok := u.PositionRecord(now); ok {
		err := tx.QueryRow(ctx, `
			INSERT INTO vessel_positions (mmsi, latitude, longitude, speed, course, heading, timestamp, data_source)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id
		`, p.MMSI, p.Latitude, p.Longitude, p.Speed, p.Course, p.Heading, p.Timestamp, nullString(p.DataSource)).Scan(&p.ID)
		if err != nil {
			return UpsertResult{}, fmt.Errorf("insert position: %w", err)
		}
		res.Position = &p
	}

	if err := tx.Commit(ctx); err != nil {
		return UpsertResult{}, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

// ListRecentlyUpdated returns snapshots updated at or after since.
func (d *PostgresStore) ListRecentlyUpdated(ctx context.Context, since time.Time) ([]vessel.Vessel, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT `+pgVesselColumns+` FROM vessels
		WHERE updated_at >= $1
		ORDER BY updated_at DESC, mmsi
	`, since)
	if err != nil {
		return nil, fmt.Errorf("list recent: %w", err)
	}
	defer rows.Close()
	return collectPGVessels(rows)
}

// ListNeedingEnrichment returns snapshots with a placeholder type or flag.
func (d *PostgresStore) ListNeedingEnrichment(ctx context.Context, limit int) ([]vessel.Vessel, error) {
	if limit <= 0 {
		limit = DefaultEnrichLimit
	}
	rows, err := d.pool.Query(ctx, `
		SELECT `+pgVesselColumns+` FROM vessels
		WHERE vessel_type = $1 OR flag = $2
		ORDER BY mmsi
		LIMIT $3
	`, string(lookup.Other), lookup.UnknownFlag, limit)
	if err != nil {
		return nil, fmt.Errorf("list needing enrichment: %w", err)
	}
	defer rows.Close()
	return collectPGVessels(rows)
}

func collectPGVessels(rows pgx.Rows) ([]vessel.Vessel, error) {
	var out []vessel.Vessel
	for rows.Next() {
		v, err := scanPGVessel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// ListRoute returns the most recent positions of mmsi, oldest first.
func (d *PostgresStore) ListRoute(ctx context.Context, mmsi int64, since time.Time, limit int) ([]vessel.Position, error) {
	if limit <= 0 {
		limit = DefaultRouteLimit
	}
	rows, err := d.pool.Query(ctx, `
		SELECT id, mmsi, latitude, longitude, speed, course, heading, timestamp, data_source
		FROM vessel_positions
		WHERE mmsi = $1 AND timestamp >= $2
		ORDER BY timestamp DESC, id DESC
		LIMIT $3
	`, mmsi, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list route: %w", err)
	}
	defer rows.Close()

	var out []vessel.Position
	for rows.Next() {
		var (
			p          vessel.Position
			dataSource *string
		)
		if err := rows.Scan(&p.ID, &p.MMSI, &p.Latitude, &p.Longitude, &p.Speed, &p.Course, &p.Heading, &p.Timestamp, &dataSource); err != nil {
			return nil, err
		}
		if dataSource != nil {
			p.DataSource = *dataSource
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reversePositions(out)
	return out, nil
}

// ApplyClassification fills placeholder type and flag values for mmsi.
func (d *PostgresStore) ApplyClassification(ctx context.Context, mmsi int64, vesselType lookup.VesselType, flag string) (bool, error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var curType, curFlag string
	err = tx.QueryRow(ctx, `SELECT vessel_type, flag FROM vessels WHERE mmsi = $1 FOR UPDATE`, mmsi).Scan(&curType, &curFlag)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("%w: %d", ErrNotFound, mmsi)
	}
	if err != nil {
		return false, fmt.Errorf("lock vessel %d: %w", mmsi, err)
	}

	newType := vessel.MergeType(lookup.ParseVesselType(curType), vesselType)
	newFlag := vessel.MergeFlag(curFlag, flag)
	if string(newType) == curType && newFlag == curFlag {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE vessels SET vessel_type = $2, flag = $3, updated_at = $4 WHERE mmsi = $1
	`, mmsi, string(newType), newFlag, d.now())
	if err != nil {
		return false, fmt.Errorf("update classification: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}
