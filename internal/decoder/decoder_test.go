package decoder

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDecoder() *Decoder {
	return New(WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

const positionFrame = `{
	"MessageType": "PositionReport",
	"MetaData": {
		"MMSI": 366123456,
		"ShipName": "SEA STAR            ",
		"ShipType": 70,
		"latitude": 1.3,
		"longitude": 103.8,
		"time_utc": "2024-03-01 12:00:00.123456789 +0000 UTC"
	},
	"Message": {
		"PositionReport": {
			"Latitude": 1.30,
			"Longitude": 103.80,
			"Sog": 12.5,
			"Cog": 87.1,
			"TrueHeading": 88,
			"NavigationalStatus": 5,
			"UserID": 366123456
		}
	}
}`

func decodePosition(t *testing.T, frame string) *PositionUpdate {
	t.Helper()
	res, err := newTestDecoder().Decode([]byte(frame))
	require.NoError(t, err)
	pos, ok := res.(*PositionUpdate)
	require.True(t, ok, "expected *PositionUpdate, got %T", res)
	return pos
}

func TestDecodePositionReport(t *testing.T) {
	pos := decodePosition(t, positionFrame)

	assert.Equal(t, TypePosition, pos.Type())
	assert.Equal(t, int64(366123456), pos.Key())
	assert.Equal(t, "PositionReport", pos.Kind)
	require.NotNil(t, pos.Name)
	assert.Equal(t, "SEA STAR", *pos.Name)
	require.NotNil(t, pos.ShipType)
	assert.Equal(t, 70, *pos.ShipType)
	require.NotNil(t, pos.Latitude)
	require.NotNil(t, pos.Longitude)
	assert.InDelta(t, 1.30, *pos.Latitude, 1e-9)
	assert.InDelta(t, 103.80, *pos.Longitude, 1e-9)
	require.NotNil(t, pos.Speed)
	assert.InDelta(t, 12.5, *pos.Speed, 1e-9)
	require.NotNil(t, pos.Course)
	assert.InDelta(t, 87.1, *pos.Course, 1e-9)
	require.NotNil(t, pos.Heading)
	assert.Equal(t, 88, *pos.Heading)
	require.NotNil(t, pos.NavStatus)
	assert.Equal(t, 5, *pos.NavStatus)
	assert.Equal(t, "moored", pos.Status())
	assert.True(t, pos.Timestamp.Equal(time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)), pos.Timestamp)
}

func TestDecodePositionClassBKinds(t *testing.T) {
	for _, kind := range []string{"StandardClassBPositionReport", "ExtendedClassBPositionReport"} {
		t.Run(kind, func(t *testing.T) {
			frame := `{"MessageType":"` + kind + `","MetaData":{"MMSI":563000001},"Message":{"` + kind +
				`":{"Latitude":1.25,"Longitude":103.9,"Sog":0.1,"Cog":12,"TrueHeading":511}}}`
			pos := decodePosition(t, frame)
			assert.Equal(t, kind, pos.Kind)
			assert.Equal(t, int64(563000001), pos.MMSI)
			assert.Nil(t, pos.Heading)
			assert.Nil(t, pos.NavStatus)
			assert.Equal(t, "", pos.Status())
		})
	}
}

func TestDecodePositionSentinels(t *testing.T) {
	frame := `{"MessageType":"PositionReport","MetaData":{"MMSI":366000001,"ShipName":"","time_utc":"garbage"},
		"Message":{"PositionReport":{"Latitude":10,"Longitude":20,"Sog":102.3,"Cog":360,"TrueHeading":511,"NavigationalStatus":15}}}`
	pos := decodePosition(t, frame)

	assert.Nil(t, pos.Name)
	assert.Nil(t, pos.ShipType)
	assert.Nil(t, pos.Speed)
	assert.Nil(t, pos.Course)
	assert.Nil(t, pos.Heading)
	require.NotNil(t, pos.NavStatus)
	assert.Equal(t, 15, *pos.NavStatus)
	assert.True(t, pos.Timestamp.IsZero())
}

func TestDecodePositionCoordinateFallbacks(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantLat float64
		wantLon float64
	}{
		{
			name: "nested container",
			frame: `{"MessageType":"PositionReport","MetaData":{"MMSI":366000002},
				"Message":{"PositionReport":{"Sog":3,"Position":{"lat":51.5,"lon":-0.12}}}}`,
			wantLat: 51.5, wantLon: -0.12,
		},
		{
			name: "body under another key",
			frame: `{"MessageType":"PositionReport","MetaData":{"MMSI":366000003},
				"Message":{"PositionReportV2":{"Latitude":-33.9,"Longitude":18.4}}}`,
			wantLat: -33.9, wantLon: 18.4,
		},
		{
			name: "metadata coordinates",
			frame: `{"MessageType":"PositionReport","MetaData":{"MMSI":366000004,"latitude":35.1,"longitude":-120.7},
				"Message":{"PositionReport":{"Sog":1}}}`,
			wantLat: 35.1, wantLon: -120.7,
		},
		{
			name: "numeric strings",
			frame: `{"MessageType":"PositionReport","MetaData":{"MMSI":"366000005"},
				"Message":{"PositionReport":{"Latitude":"12.5","Longitude":"45.25"}}}`,
			wantLat: 12.5, wantLon: 45.25,
		},
		{
			name: "implausible pair skipped",
			frame: `{"MessageType":"PositionReport","MetaData":{"MMSI":366000006},
				"Message":{"PositionReport":{"Latitude":91,"Longitude":181,"Fix":{"latitude":7,"longitude":8}}}}`,
			wantLat: 7, wantLon: 8,
		},
		{
			name: "sorted keys decide between siblings",
			frame: `{"MessageType":"PositionReport","MetaData":{"MMSI":366000007},
				"Message":{"PositionReport":{"b":{"lat":2,"lon":2},"a":{"lat":1,"lon":1}}}}`,
			wantLat: 1, wantLon: 1,
		},
		{
			name: "depth limit reached exactly",
			frame: `{"MessageType":"PositionReport","MetaData":{"MMSI":366000008},
				"Message":{"PositionReport":{"a":{"b":{"c":{"d":{"Lat":4,"Lon":4}}}}}}}`,
			wantLat: 4, wantLon: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := decodePosition(t, tt.frame)
			require.NotNil(t, pos.Latitude)
			require.NotNil(t, pos.Longitude)
			assert.InDelta(t, tt.wantLat, *pos.Latitude, 1e-9)
			assert.InDelta(t, tt.wantLon, *pos.Longitude, 1e-9)
		})
	}
}

func TestDecodeSingleCoordinate(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantLat *float64
		wantLon *float64
	}{
		{
			name: "latitude only",
			frame: `{"MessageType":"PositionReport","MetaData":{"MMSI":366000001,"ShipName":"EVER GIVEN"},
				"Message":{"PositionReport":{"Latitude":1.3,"Sog":4.2,"NavigationalStatus":5}}}`,
			wantLat: ptr(1.3),
		},
		{
			name: "longitude only in metadata",
			frame: `{"MessageType":"PositionReport","MetaData":{"MMSI":366000002,"longitude":103.8},
				"Message":{"PositionReport":{"Sog":1}}}`,
			wantLon: ptr(103.8),
		},
		{
			name: "sentinel longitude dropped",
			frame: `{"MessageType":"PositionReport","MetaData":{"MMSI":366000003},
				"Message":{"PositionReport":{"Latitude":45,"Longitude":181}}}`,
			wantLat: ptr(45.0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := decodePosition(t, tt.frame)
			if tt.wantLat == nil {
				assert.Nil(t, pos.Latitude)
			} else {
				require.NotNil(t, pos.Latitude)
				assert.InDelta(t, *tt.wantLat, *pos.Latitude, 1e-9)
			}
			if tt.wantLon == nil {
				assert.Nil(t, pos.Longitude)
			} else {
				require.NotNil(t, pos.Longitude)
				assert.InDelta(t, *tt.wantLon, *pos.Longitude, 1e-9)
			}
		})
	}

	pos := decodePosition(t, tests[0].frame)
	require.NotNil(t, pos.Name)
	assert.Equal(t, "EVER GIVEN", *pos.Name)
	require.NotNil(t, pos.Speed)
	assert.InDelta(t, 4.2, *pos.Speed, 1e-9)
	assert.Equal(t, "moored", pos.Status())
}

func ptr[T any](v T) *T { return &v }

func TestDecodeUserIDFallback(t *testing.T) {
	frame := `{"MessageType":"PositionReport","Message":{"PositionReport":{"UserID":235000001,"Latitude":50,"Longitude":-1}}}`
	pos := decodePosition(t, frame)
	assert.Equal(t, int64(235000001), pos.MMSI)
	assert.True(t, pos.Timestamp.IsZero())
}

func TestDecodeSkippedFrames(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantErr error
	}{
		{"not json", `{"MessageType":`, ErrMalformed},
		{"metadata wrong type", `{"MessageType":"PositionReport","MetaData":"oops"}`, ErrMalformed},
		{"body is array", `{"MessageType":"PositionReport","MetaData":{"MMSI":1},"Message":{"PositionReport":[1,2]}}`, ErrMalformed},
		{"missing kind", `{"MetaData":{"MMSI":366000001}}`, ErrMalformed},
		{"unknown kind", `{"MessageType":"SafetyBroadcastMessage","MetaData":{"MMSI":366000001},"Message":{}}`, ErrUnrecognized},
		{"missing mmsi", `{"MessageType":"PositionReport","MetaData":{},"Message":{"PositionReport":{"Latitude":1,"Longitude":2}}}`, ErrUnrecognized},
		{"mmsi too long", `{"MessageType":"PositionReport","MetaData":{"MMSI":1234567890},"Message":{"PositionReport":{"Latitude":1,"Longitude":2}}}`, ErrUnrecognized},
		{"negative mmsi", `{"MessageType":"ShipStaticData","MetaData":{"MMSI":-5},"Message":{"ShipStaticData":{}}}`, ErrUnrecognized},
		{"no coordinates", `{"MessageType":"PositionReport","MetaData":{"MMSI":366000001},"Message":{"PositionReport":{"Sog":1}}}`, ErrUnrecognized},
		{"sentinel coordinates", `{"MessageType":"PositionReport","MetaData":{"MMSI":366000001,"latitude":91,"longitude":181},"Message":{"PositionReport":{"Latitude":91,"Longitude":181}}}`, ErrUnrecognized},
		{"boolean coordinates", `{"MessageType":"PositionReport","MetaData":{"MMSI":366000001},"Message":{"PositionReport":{"Latitude":true,"Longitude":false}}}`, ErrUnrecognized},
		{"too deep", `{"MessageType":"PositionReport","MetaData":{"MMSI":366000001},"Message":{"PositionReport":{"a":{"b":{"c":{"d":{"e":{"lat":4,"lon":4}}}}}}}}`, ErrUnrecognized},
		{"feed error", `{"error":"Api Key Is Not Valid"}`, ErrFeedError},
	}

	d := newTestDecoder()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := d.Decode([]byte(tt.frame))
			assert.Nil(t, res)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDecodeShipStaticData(t *testing.T) {
	frame := `{"MessageType":"ShipStaticData","MetaData":{"MMSI":563012345,"ShipName":"META NAME","time_utc":"2024-03-01T12:00:00Z"},
		"Message":{"ShipStaticData":{"ImoNumber":9074729,"CallSign":"9V1234@@","Name":"MSC ANNA@@@@","Type":70,
		"Dimension":{"A":100,"B":20,"C":10,"D":10},"Flag":"sg"}}}`

	res, err := newTestDecoder().Decode([]byte(frame))
	require.NoError(t, err)
	info, ok := res.(*StaticInfo)
	require.True(t, ok)

	assert.Equal(t, TypeStatic, info.Type())
	assert.Equal(t, int64(563012345), info.Key())
	require.NotNil(t, info.IMO)
	assert.Equal(t, "IMO9074729", *info.IMO)
	require.NotNil(t, info.CallSign)
	assert.Equal(t, "9V1234", *info.CallSign)
	require.NotNil(t, info.Name)
	assert.Equal(t, "MSC ANNA", *info.Name)
	require.NotNil(t, info.ShipType)
	assert.Equal(t, 70, *info.ShipType)
	assert.Equal(t, "sg", info.FlagHint)
	assert.True(t, info.Timestamp.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))
}

func TestDecodeStaticDataReport(t *testing.T) {
	frame := `{"MessageType":"StaticDataReport","MetaData":{"MMSI":235000002,"ShipType":52},
		"Message":{"StaticDataReport":{"PartNumber":true,
		"ReportA":{"Valid":false,"Name":""},
		"ReportB":{"Valid":true,"CallSign":"MABC1","ShipType":36}}}}`

	res, err := newTestDecoder().Decode([]byte(frame))
	require.NoError(t, err)
	info := res.(*StaticInfo)

	assert.Equal(t, "StaticDataReport", info.Kind)
	assert.Nil(t, info.Name)
	assert.Nil(t, info.IMO)
	require.NotNil(t, info.CallSign)
	assert.Equal(t, "MABC1", *info.CallSign)
	require.NotNil(t, info.ShipType)
	assert.Equal(t, 36, *info.ShipType)
}

func TestDecodeStaticAliasesAndSentinels(t *testing.T) {
	frame := `{"MessageType":"ShipStaticData","MetaData":{"MMSI":366000009,"ShipName":"TUG ONE","ShipType":31},
		"Message":{"ShipStaticData":{"IMO":0,"ShipType":0}}}`

	res, err := newTestDecoder().Decode([]byte(frame))
	require.NoError(t, err)
	info := res.(*StaticInfo)

	assert.Nil(t, info.IMO)
	require.NotNil(t, info.ShipType)
	assert.Equal(t, 31, *info.ShipType, "falls back to MetaData ship type")
	require.NotNil(t, info.Name)
	assert.Equal(t, "TUG ONE", *info.Name)
	assert.Equal(t, "", info.FlagHint)
}

func TestDecodeIMOString(t *testing.T) {
	frame := `{"MessageType":"ShipStaticData","MetaData":{"MMSI":366000010},
		"Message":{"ShipStaticData":{"IMO":"imo 9321483"}}}`
	res, err := newTestDecoder().Decode([]byte(frame))
	require.NoError(t, err)
	info := res.(*StaticInfo)
	require.NotNil(t, info.IMO)
	assert.Equal(t, "IMO9321483", *info.IMO)
}

func TestDecodeSequenceContinuesPastBadFrame(t *testing.T) {
	frames := []string{
		positionFrame,
		`{"MessageType":"PositionReport","MetaData":{"MMSI":`,
		`{"MessageType":"ShipStaticData","MetaData":{"MMSI":563012345},"Message":{"ShipStaticData":{"CallSign":"9V1"}}}`,
	}

	d := newTestDecoder()
	var decoded []int64
	var skipped int
	for _, f := range frames {
		res, err := d.Decode([]byte(f))
		if err != nil {
			skipped++
			continue
		}
		decoded = append(decoded, res.Key())
	}

	assert.Equal(t, 1, skipped)
	assert.Equal(t, []int64{366123456, 563012345}, decoded)
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short", Excerpt([]byte("short")))

	long := strings.Repeat("x", 300)
	got := Excerpt([]byte(long))
	assert.Len(t, got, 256+3)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2022-12-29 18:22:32.318353 +0000 UTC", time.Date(2022, 12, 29, 18, 22, 32, 318353000, time.UTC)},
		{"2022-12-29 18:22:32 +0000 UTC", time.Date(2022, 12, 29, 18, 22, 32, 0, time.UTC)},
		{"2022-12-29T20:22:32+02:00", time.Date(2022, 12, 29, 18, 22, 32, 0, time.UTC)},
		{"", time.Time{}},
		{"yesterday", time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := parseTime(tt.in)
			assert.True(t, got.Equal(tt.want), "got %v want %v", got, tt.want)
		})
	}
}

func TestUnhandledKinds(t *testing.T) {
	d := newTestDecoder()
	assert.Empty(t, d.Unhandled([]string{"PositionReport", "ShipStaticData", "StaticDataReport"}))
	assert.Equal(t, []string{"SafetyBroadcastMessage"},
		d.Unhandled([]string{"PositionReport", "SafetyBroadcastMessage"}))
}
