package vessel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ais_ingest/internal/lookup"
)

func f64(v float64) *float64 { return &v }
func intp(v int) *int        { return &v }
func str(v string) *string   { return &v }

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestNew_Defaults(t *testing.T) {
	v := New(Update{MMSI: 366123456, Latitude: f64(1.30), Longitude: f64(103.80), DataSource: "aisstream"}, now)

	assert.Equal(t, "Vessel-366123456", v.Name)
	assert.Equal(t, "IMO366123456", v.IMONumber)
	assert.Equal(t, lookup.Other, v.VesselType)
	assert.Equal(t, lookup.UnknownFlag, v.Flag)
	assert.Equal(t, lookup.StatusActive, v.Status)
	assert.Equal(t, "aisstream", v.DataSource)
	assert.Equal(t, 1, v.MsgCount)
	require.NotNil(t, v.LastPositionUpdate)
	assert.Equal(t, now, *v.LastPositionUpdate)
	assert.True(t, v.HasPosition())
}

func TestMerge_NonNilOverwrites(t *testing.T) {
	v := New(Update{MMSI: 1, Name: str("OLD"), Speed: f64(3)}, now)
	Merge(&v, Update{MMSI: 1, Name: str("NEW"), Course: f64(90), NavStatusCode: intp(5)}, now)

	assert.Equal(t, "NEW", v.Name)
	require.NotNil(t, v.Speed)
	assert.Equal(t, 3.0, *v.Speed, "absent fields keep stored value")
	require.NotNil(t, v.Course)
	assert.Equal(t, 90.0, *v.Course)
	assert.Equal(t, "moored", v.Status)
	assert.Equal(t, 2, v.MsgCount)
}

func TestMerge_EmptyNameIgnored(t *testing.T) {
	v := New(Update{MMSI: 1, Name: str("REAL NAME")}, now)
	Merge(&v, Update{MMSI: 1, Name: str("")}, now)
	assert.Equal(t, "REAL NAME", v.Name)
}

func TestMerge_NoDowngrade(t *testing.T) {
	tests := []struct {
		name       string
		storedType lookup.VesselType
		inType     lookup.VesselType
		wantType   lookup.VesselType
		storedFlag string
		inFlag     string
		wantFlag   string
	}{
		{"other does not replace cargo", lookup.Cargo, lookup.Other, lookup.Cargo, "US", lookup.UnknownFlag, "US"},
		{"specific does not replace specific", lookup.Cargo, lookup.Tanker, lookup.Cargo, "US", "SG", "US"},
		{"specific fills placeholder", lookup.Other, lookup.Tug, lookup.Tug, lookup.UnknownFlag, "SG", "SG"},
		{"empty incoming keeps placeholder", lookup.Other, "", lookup.Other, lookup.UnknownFlag, "", lookup.UnknownFlag},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Vessel{MMSI: 1, VesselType: tt.storedType, Flag: tt.storedFlag}
			Merge(&v, Update{MMSI: 1, VesselType: tt.inType, Flag: tt.inFlag}, now)
			assert.Equal(t, tt.wantType, v.VesselType)
			assert.Equal(t, tt.wantFlag, v.Flag)
		})
	}
}

func TestMerge_LastPositionUpdateMonotonic(t *testing.T) {
	later := now.Add(time.Minute)
	v := New(Update{MMSI: 1, Latitude: f64(1), Longitude: f64(2), Timestamp: later}, now)

	Merge(&v, Update{MMSI: 1, Latitude: f64(3), Longitude: f64(4), Timestamp: now}, now)

	require.NotNil(t, v.LastPositionUpdate)
	assert.Equal(t, later, *v.LastPositionUpdate)
	assert.Equal(t, 3.0, *v.Latitude, "position itself is last-write-wins")
}

func TestMerge_Idempotent(t *testing.T) {
	u := Update{MMSI: 9, Latitude: f64(10), Longitude: f64(20), Speed: f64(12.5), Heading: intp(180), Timestamp: now}
	a := New(u, now)
	b := a
	Merge(&b, u, now)

	b.MsgCount = a.MsgCount
	assert.Equal(t, a, b)
}

func TestPositionRecord(t *testing.T) {
	u := Update{MMSI: 5, Latitude: f64(1.3), Longitude: f64(103.8), Speed: f64(7)}
	p, ok := u.PositionRecord(now)
	require.True(t, ok)
	assert.Equal(t, int64(5), p.MMSI)
	assert.Equal(t, now, p.Timestamp, "falls back to ingestion time")
	assert.Equal(t, 7.0, *p.Speed)

	_, ok = (&Update{MMSI: 5, Latitude: f64(1.3)}).PositionRecord(now)
	assert.False(t, ok)
}

func TestPlaceholders(t *testing.T) {
	assert.True(t, IsPlaceholderName(7, ""))
	assert.True(t, IsPlaceholderName(7, "Vessel-7"))
	assert.False(t, IsPlaceholderName(7, "Vessel-8"))
}
