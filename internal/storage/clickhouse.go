package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"ais_ingest/internal/vessel"
)

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	Host          string
	Port          int
	Database      string
	User          string
	Password      string
	BatchSize     int
	FlushInterval time.Duration
}

// ClickHouseDB wraps a ClickHouse connection used for position analytics.
type ClickHouseDB struct {
	conn driver.Conn
}

// OpenClickHouse opens a connection to ClickHouse.
func OpenClickHouse(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	// Test the connection.
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Close closes the ClickHouse connection.
func (d *ClickHouseDB) Close() error {
	return d.conn.Close()
}

// CreateSchema creates the ClickHouse tables.
func (d *ClickHouseDB) CreateSchema(ctx context.Context) error {
	err := d.conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS vessel_positions (
		mmsi         UInt32,
		latitude     Float64,
		longitude    Float64,
		speed        Nullable(Float64),
		course       Nullable(Float64),
		heading      Nullable(Int16),
		timestamp    DateTime64(3),
		data_source  LowCardinality(String),
		vessel_type  LowCardinality(String),
		flag         LowCardinality(String),
		recorded_at  DateTime64(3) DEFAULT now64(3)
	)
	ENGINE = MergeTree()
	PARTITION BY toYYYYMM(timestamp)
	ORDER BY (mmsi, timestamp)
	SETTINGS index_granularity = 8192`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// HistoryRow is one position as stored in ClickHouse, tagged with the
// vessel classification at the time it was recorded.
type HistoryRow struct {
	vessel.Position
	VesselType string
	Flag       string
}

// InsertBatch stores multiple rows in ClickHouse efficiently.
func (d *ClickHouseDB) InsertBatch(ctx context.Context, rows []HistoryRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := d.conn.PrepareBatch(ctx, `
		INSERT INTO vessel_positions (mmsi, latitude, longitude, speed, course, heading, timestamp, data_source, vessel_type, flag)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range rows {
		var heading *int16
		if r.Heading != nil {
			h := int16(*r.Heading)
			heading = &h
		}
		err := batch.Append(uint32(r.MMSI), r.Latitude, r.Longitude, r.Speed, r.Course, heading,
			r.Timestamp, r.DataSource, r.VesselType, r.Flag)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// Route returns up to limit positions of mmsi recorded at or after since,
// oldest first.
func (d *ClickHouseDB) Route(ctx context.Context, mmsi int64, since time.Time, limit int) ([]HistoryRow, error) {
	if limit <= 0 {
		limit = DefaultRouteLimit
	}
	rows, err := d.conn.Query(ctx, `
		SELECT mmsi, latitude, longitude, speed, course, heading, timestamp, data_source, vessel_type, flag
		FROM vessel_positions
		WHERE mmsi = ? AND timestamp >= ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, uint32(mmsi), since, limit)
	if err != nil {
		return nil, fmt.Errorf("query route: %w", err)
	}
	defer rows.Close()

	var out []HistoryRow
	for rows.Next() {
		var (
			r       HistoryRow
			m       uint32
			heading *int16
		)
		if err := rows.Scan(&m, &r.Latitude, &r.Longitude, &r.Speed, &r.Course, &heading,
			&r.Timestamp, &r.DataSource, &r.VesselType, &r.Flag); err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		r.MMSI = int64(m)
		if heading != nil {
			h := int(*heading)
			r.Heading = &h
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// HistoryRoute opens ClickHouse, reads the route of mmsi and closes the
// connection. It serves readers that only need history, such as export.
func HistoryRoute(ctx context.Context, cfg ClickHouseConfig, mmsi int64, since time.Time, limit int) ([]vessel.Position, error) {
	db, err := OpenClickHouse(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.Route(ctx, mmsi, since, limit)
	if err != nil {
		return nil, err
	}
	out := make([]vessel.Position, len(rows))
	for i, r := range rows {
		out[i] = r.Position
	}
	return out, nil
}

// PositionHistory mirrors appended positions into ClickHouse in batches.
// A batch is sent when it reaches the configured size, on every flush
// interval, and on Close.
type PositionHistory struct {
	db        *ClickHouseDB
	batchSize int
	logger    *slog.Logger

	mu  sync.Mutex
	buf []HistoryRow

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewPositionHistory starts the periodic flusher.
func NewPositionHistory(db *ClickHouseDB, batchSize int, flushEvery time.Duration, logger *slog.Logger) *PositionHistory {
	if batchSize <= 0 {
		batchSize = 500
	}
	if flushEvery <= 0 {
		flushEvery = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &PositionHistory{
		db:        db,
		batchSize: batchSize,
		logger:    logger,
		stop:      make(chan struct{}),
	}
	h.wg.Add(1)
	go h.run(flushEvery)
	return h
}

func (h *PositionHistory) Name() string { return "clickhouse" }

// Mirror buffers the appended position, if any.
func (h *PositionHistory) Mirror(ctx context.Context, res UpsertResult) error {
	if res.Position == nil {
		return nil
	}

	h.mu.Lock()
	h.buf = append(h.buf, HistoryRow{
		Position:   *res.Position,
		VesselType: string(res.Vessel.VesselType),
		Flag:       res.Vessel.Flag,
	})
	full := len(h.buf) >= h.batchSize
	h.mu.Unlock()

	if full {
		return h.Flush(ctx)
	}
	return nil
}

// Flush sends everything buffered so far. Rows of a failed batch are dropped.
func (h *PositionHistory) Flush(ctx context.Context) error {
	h.mu.Lock()
	rows := h.buf
	h.buf = nil
	h.mu.Unlock()

	if err := h.db.InsertBatch(ctx, rows); err != nil {
		return fmt.Errorf("flush %d positions: %w", len(rows), err)
	}
	return nil
}

func (h *PositionHistory) run(every time.Duration) {
	defer h.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), every)
			if err := h.Flush(ctx); err != nil {
				h.logger.Warn("position history flush failed", "error", err)
			}
			cancel()
		}
	}
}

// Close stops the flusher, sends the final batch and closes the connection.
func (h *PositionHistory) Close() error {
	close(h.stop)
	h.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	flushErr := h.Flush(ctx)
	if err := h.db.Close(); err != nil && flushErr == nil {
		return err
	}
	return flushErr
}
