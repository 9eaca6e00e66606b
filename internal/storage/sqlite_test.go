package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ais_ingest/internal/lookup"
	"ais_ingest/internal/vessel"
)

func newMemoryStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return newMemoryStore(t) })
}

func TestSQLiteUsesIngestionTimeWithoutEventTime(t *testing.T) {
	s := newMemoryStore(t)
	fixed := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	ctx := context.Background()
	res, err := s.Upsert(ctx, positionUpdate(366000001, 1, 2, time.Time{}))
	require.NoError(t, err)
	require.NotNil(t, res.Position)
	assert.True(t, res.Position.Timestamp.Equal(fixed))

	v, err := s.GetVessel(ctx, 366000001)
	require.NoError(t, err)
	assert.True(t, v.CreatedAt.Equal(fixed))
	assert.True(t, v.UpdatedAt.Equal(fixed))
	assert.True(t, v.LastPositionUpdate.Equal(fixed))

	recent, err := s.ListRecentlyUpdated(ctx, fixed.Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, recent)
	recent, err = s.ListRecentlyUpdated(ctx, fixed)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestSQLiteFilePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ais.db")
	ctx := context.Background()

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	name := "SEA STAR"
	_, err = s.Upsert(ctx, vessel.Update{MMSI: 563000001, Name: &name})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.GetVessel(ctx, 563000001)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "SEA STAR", v.Name)
	assert.Equal(t, lookup.UnknownFlag, v.Flag, "the store does not classify")
}

func TestSQLiteTimeRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.FixedZone("SGT", 8*3600))
	got := parseSQLiteTime(formatSQLiteTime(ts))
	assert.True(t, got.Equal(ts))
	assert.Equal(t, time.UTC, got.Location())

	// Fixed width keeps lexical order equal to time order.
	a := formatSQLiteTime(time.Date(2024, 1, 1, 0, 0, 0, 500_000_000, time.UTC))
	b := formatSQLiteTime(time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC))
	assert.Less(t, a, b)
}

func TestSQLiteWriteGivesUpWhileWaitingForSlot(t *testing.T) {
	s := newMemoryStore(t)

	// Occupy the write slot as a stuck writer would.
	s.write <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := s.Upsert(ctx, positionUpdate(366000001, 1, 2, time.Time{}))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)

	_, err = s.ApplyClassification(ctx, 366000001, lookup.Cargo, "US")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	s.unlock()
	res, err := s.Upsert(context.Background(), positionUpdate(366000001, 1, 2, time.Time{}))
	require.NoError(t, err)
	assert.True(t, res.Created)
}

func TestSQLiteUnknownStoredTypeReadsAsOther(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, positionUpdate(366000002, 1, 2, time.Time{}))
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, `UPDATE vessels SET vessel_type = 'Hovercraft' WHERE mmsi = ?`, 366000002)
	require.NoError(t, err)

	v, err := s.GetVessel(ctx, 366000002)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, lookup.Other, v.VesselType)
}
