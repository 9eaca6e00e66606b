package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"ais_ingest/internal/lookup"
	"ais_ingest/internal/vessel"
)

// sqliteTime is fixed width so stored timestamps sort lexically.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore is the embedded store used for development, small
// deployments and tests. Writes are serialized; a write waiting for its turn
// gives up when its context ends.
type SQLiteStore struct {
	db    *sql.DB
	write chan struct{}
	now   func() time.Time
}

// OpenSQLite opens or creates a SQLite database at the given path. The path
// ":memory:" gives a private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if path == ":memory:" {
		// Each connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if err := createSQLiteSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{
		db:    db,
		write: make(chan struct{}, 1),
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// lock takes the write slot or gives up when ctx is done.
func (s *SQLiteStore) lock(ctx context.Context) error {
	select {
	case s.write <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteStore) unlock() { <-s.write }

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func createSQLiteSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS vessels (
		mmsi                 INTEGER PRIMARY KEY,
		name                 TEXT NOT NULL,
		imo_number           TEXT NOT NULL,
		call_sign            TEXT,
		vessel_type          TEXT NOT NULL DEFAULT 'Other',
		flag                 TEXT NOT NULL DEFAULT 'Unknown',
		latitude             REAL,
		longitude            REAL,
		speed                REAL,
		course               REAL,
		heading              INTEGER,
		nav_status           INTEGER,
		status               TEXT NOT NULL DEFAULT 'active',
		last_position_update TEXT,
		data_source          TEXT,
		msg_count            INTEGER NOT NULL DEFAULT 0,
		created_at           TEXT NOT NULL,
		updated_at           TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_vessels_updated ON vessels(updated_at);
	CREATE INDEX IF NOT EXISTS idx_vessels_enrichment ON vessels(vessel_type, flag);

	CREATE TABLE IF NOT EXISTS vessel_positions (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		mmsi        INTEGER NOT NULL REFERENCES vessels(mmsi),
		latitude    REAL NOT NULL,
		longitude   REAL NOT NULL,
		speed       REAL,
		course      REAL,
		heading     INTEGER,
		timestamp   TEXT NOT NULL,
		data_source TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_positions_mmsi_ts ON vessel_positions(mmsi, timestamp);
	`
	_, err := db.Exec(schema)
	return err
}

const sqliteVesselColumns = `mmsi, name, imo_number, call_sign, vessel_type, flag,
	latitude, longitude, speed, course, heading, nav_status, status,
	last_position_update, data_source, msg_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteVessel(row rowScanner) (*vessel.Vessel, error) {
	var (
		v                             vessel.Vessel
		vtype                         string
		callSign, lastPos, dataSource sql.NullString
		lat, lon, speed, course       sql.NullFloat64
		heading, navStatus            sql.NullInt64
		createdAt, updatedAt          string
	)
	err := row.Scan(&v.MMSI, &v.Name, &v.IMONumber, &callSign, &vtype, &v.Flag,
		&lat, &lon, &speed, &course, &heading, &navStatus, &v.Status,
		&lastPos, &dataSource, &v.MsgCount, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	v.VesselType = lookup.ParseVesselType(vtype)
	v.CallSign = callSign.String
	v.DataSource = dataSource.String
	v.Latitude = nullFloat(lat)
	v.Longitude = nullFloat(lon)
	v.Speed = nullFloat(speed)
	v.Course = nullFloat(course)
	v.Heading = nullInt(heading)
	v.NavStatusCode = nullInt(navStatus)
	if lastPos.Valid {
		t := parseSQLiteTime(lastPos.String)
		v.LastPositionUpdate = &t
	}
	v.CreatedAt = parseSQLiteTime(createdAt)
	v.UpdatedAt = parseSQLiteTime(updatedAt)
	return &v, nil
}

// GetVessel returns the snapshot for mmsi, or nil if none exists.
func (s *SQLiteStore) GetVessel(ctx context.Context, mmsi int64) (*vessel.Vessel, error) {
	return s.getVessel(ctx, s.db, mmsi)
}

type sqliteQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) getVessel(ctx context.Context, q sqliteQuerier, mmsi int64) (*vessel.Vessel, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sqliteVesselColumns+` FROM vessels WHERE mmsi = ?`, mmsi)
	v, err := scanSQLiteVessel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get vessel %d: %w", mmsi, err)
	}
	return v, nil
}

// Upsert applies u as one transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, u vessel.Update) (UpsertResult, error) {
	if err := s.lock(ctx); err != nil {
		return UpsertResult{}, fmt.Errorf("wait for write slot: %w", err)
	}
	defer s.unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := s.getVessel(ctx, tx, u.MMSI)
	if err != nil {
		return UpsertResult{}, err
	}

	now := s.now()
	var res UpsertResult
	if cur == nil {
		res.Vessel = vessel.New(u, now)
		res.Created = true
	} else {
		res.Vessel = *cur
		vessel.Merge(&res.Vessel, u, now)
	}

	if err := writeSQLiteVessel(ctx, tx, &res.Vessel); err != nil {
		return UpsertResult{}, err
	}

	if p, ok := u.PositionRecord(now); ok {
		r, err := tx.ExecContext(ctx, `
			INSERT INTO vessel_positions (mmsi, latitude, longitude, speed, course, heading, timestamp, data_source)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, p.MMSI, p.Latitude, p.Longitude, p.Speed, p.Course, p.Heading, formatSQLiteTime(p.Timestamp), p.DataSource)
		if err != nil {
			return UpsertResult{}, fmt.Errorf("insert position: %w", err)
		}
		p.ID, _ = r.LastInsertId()
		res.Position = &p
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

func writeSQLiteVessel(ctx context.Context, tx *sql.Tx, v *vessel.Vessel) error {
	var lastPos *string
	if v.LastPositionUpdate != nil {
		s := formatSQLiteTime(*v.LastPositionUpdate)
		lastPos = &s
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO vessels (`+sqliteVesselColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (mmsi) DO UPDATE SET
			name = excluded.name,
			imo_number = excluded.imo_number,
			call_sign = excluded.call_sign,
			vessel_type = excluded.vessel_type,
			flag = excluded.flag,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			speed = excluded.speed,
			course = excluded.course,
			heading = excluded.heading,
			nav_status = excluded.nav_status,
			status = excluded.status,
			last_position_update = excluded.last_position_update,
			data_source = excluded.data_source,
			msg_count = excluded.msg_count,
			updated_at = excluded.updated_at
	`, v.MMSI, v.Name, v.IMONumber, nullString(v.CallSign), string(v.VesselType), v.Flag,
		v.Latitude, v.Longitude, v.Speed, v.Course, v.Heading, v.NavStatusCode, v.Status,
		lastPos, nullString(v.DataSource), v.MsgCount,
		formatSQLiteTime(v.CreatedAt), formatSQLiteTime(v.UpdatedAt))
	if err != nil {
		return fmt.Errorf("write vessel %d: %w", v.MMSI, err)
	}
	return nil
}

// ListRecentlyUpdated returns snapshots updated at or after since.
func (s *SQLiteStore) ListRecentlyUpdated(ctx context.Context, since time.Time) ([]vessel.Vessel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteVesselColumns+` FROM vessels
		WHERE updated_at >= ?
		ORDER BY updated_at DESC, mmsi
	`, formatSQLiteTime(since))
	if err != nil {
		return nil, fmt.Errorf("list recent: %w", err)
	}
	defer rows.Close()
	return collectSQLiteVessels(rows)
}

// ListNeedingEnrichment returns snapshots with a placeholder type or flag.
func (s *SQLiteStore) ListNeedingEnrichment(ctx context.Context, limit int) ([]vessel.Vessel, error) {
	if limit <= 0 {
		limit = DefaultEnrichLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteVesselColumns+` FROM vessels
		WHERE vessel_type = ? OR flag = ?
		ORDER BY mmsi
		LIMIT ?
	`, string(lookup.Other), lookup.UnknownFlag, limit)
	if err != nil {
		return nil, fmt.Errorf("list needing enrichment: %w", err)
	}
	defer rows.Close()
	return collectSQLiteVessels(rows)
}

func collectSQLiteVessels(rows *sql.Rows) ([]vessel.Vessel, error) {
	var out []vessel.Vessel
	for rows.Next() {
		v, err := scanSQLiteVessel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// ListRoute returns the most recent positions of mmsi, oldest first.
func (s *SQLiteStore) ListRoute(ctx context.Context, mmsi int64, since time.Time, limit int) ([]vessel.Position, error) {
	if limit <= 0 {
		limit = DefaultRouteLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mmsi, latitude, longitude, speed, course, heading, timestamp, data_source
		FROM vessel_positions
		WHERE mmsi = ? AND timestamp >= ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, mmsi, formatSQLiteTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("list route: %w", err)
	}
	defer rows.Close()

	var out []vessel.Position
	for rows.Next() {
		var (
			p             vessel.Position
			speed, course sql.NullFloat64
			heading       sql.NullInt64
			ts            string
			dataSource    sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.MMSI, &p.Latitude, &p.Longitude, &speed, &course, &heading, &ts, &dataSource); err != nil {
			return nil, err
		}
		p.Speed = nullFloat(speed)
		p.Course = nullFloat(course)
		p.Heading = nullInt(heading)
		p.Timestamp = parseSQLiteTime(ts)
		p.DataSource = dataSource.String
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reversePositions(out)
	return out, nil
}

// ApplyClassification fills placeholder type and flag values for mmsi.
func (s *SQLiteStore) ApplyClassification(ctx context.Context, mmsi int64, vesselType lookup.VesselType, flag string) (bool, error) {
	if err := s.lock(ctx); err != nil {
		return false, fmt.Errorf("wait for write slot: %w", err)
	}
	defer s.unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := s.getVessel(ctx, tx, mmsi)
	if err != nil {
		return false, err
	}
	if cur == nil {
		return false, fmt.Errorf("%w: %d", ErrNotFound, mmsi)
	}

	newType := vessel.MergeType(cur.VesselType, vesselType)
	newFlag := vessel.MergeFlag(cur.Flag, flag)
	if newType == cur.VesselType && newFlag == cur.Flag {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE vessels SET vessel_type = ?, flag = ?, updated_at = ? WHERE mmsi = ?
	`, string(newType), newFlag, formatSQLiteTime(s.now()), mmsi)
	if err != nil {
		return false, fmt.Errorf("update classification: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

func parseSQLiteTime(s string) time.Time {
	if t, err := time.Parse(sqliteTime, s); err == nil {
		return t
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t.UTC()
}

func nullFloat(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func nullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func reversePositions(p []vessel.Position) {
	for i, j := 0, len(p)-1; i < j; i, j = i+1, j-1 {
		p[i], p[j] = p[j], p[i]
	}
}
