package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ais_ingest/internal/storage"
	"ais_ingest/internal/vessel"
)

func TestRunUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer

	assert.Equal(t, exitUsage, run(nil, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "stream")

	stderr.Reset()
	assert.Equal(t, exitUsage, run([]string{"launch"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "Unknown command: launch")

	assert.Equal(t, exitOK, run([]string{"help"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "global")
}

func TestStreamRejectsMissingAPIKeyBeforeConnecting(t *testing.T) {
	t.Setenv("AISSTREAM_API_KEY", "")
	var stdout, stderr bytes.Buffer

	// An unreachable endpoint proves nothing is dialed: a dial attempt
	// would retry forever instead of returning.
	code := run([]string{"stream", "--url", "ws://127.0.0.1:1", "--metrics-addr", ""}, &stdout, &stderr)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr.String(), "api-key")
}

func TestStreamRejectsUnknownPreset(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"stream", "--api-key", "k", "--preset", "atlantis", "--metrics-addr", ""}, &stdout, &stderr)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr.String(), "preset")
}

func TestStreamRejectsBadLogLevel(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"stream", "--api-key", "k", "--log-level", "loud"}, &stdout, &stderr)
	assert.Equal(t, exitUsage, code)
}

func TestEnrichCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ais.db")
	ctx := context.Background()

	s, err := storage.OpenSQLite(path)
	require.NoError(t, err)
	name := "GULF TANKER"
	_, err = s.Upsert(ctx, vessel.Update{MMSI: 366000777, Name: &name})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	var stdout, stderr bytes.Buffer
	code := run([]string{"enrich", "--store", "sqlite", "--sqlite-path", path}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())
	assert.Contains(t, stdout.String(), "scanned 1, updated 1, unchanged 0")
}

func TestExportCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ais.db")
	out := filepath.Join(dir, "track.kml")
	ctx := context.Background()

	s, err := storage.OpenSQLite(path)
	require.NoError(t, err)
	for i, lat := range []float64{1.25, 1.30} {
		lon := 103.75 + float64(i)*0.05
		_, err = s.Upsert(ctx, vessel.Update{MMSI: 366123456, Latitude: &lat, Longitude: &lon})
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	var stdout, stderr bytes.Buffer
	code := run([]string{"export", "--store", "sqlite", "--sqlite-path", path, "--mmsi", "366123456", "--since", "0", "-o", out}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<LineString>")
	assert.Contains(t, string(data), "103.800000,1.300000,0")
}

func TestExportFallsBackToClickHouseHistory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ais.db")
	ctx := context.Background()

	s, err := storage.OpenSQLite(path)
	require.NoError(t, err)
	name := "NO FIX"
	_, err = s.Upsert(ctx, vessel.Update{MMSI: 366000555, Name: &name})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Nothing listens on port 1, so reaching ClickHouse at all is an error.
	var stdout, stderr bytes.Buffer
	code := run([]string{"export", "--store", "sqlite", "--sqlite-path", path, "--mmsi", "366000555", "--since", "0",
		"--clickhouse-host", "127.0.0.1", "--clickhouse-port", "1"}, &stdout, &stderr)
	assert.Equal(t, exitRuntime, code)
	assert.Contains(t, stderr.String(), "cannot load route from clickhouse")
}

func TestExportRequiresMMSI(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, exitUsage, run([]string{"export"}, &stdout, &stderr))
}

func TestAnalyzeCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.jsonl")
	capture := `{"MessageType":"PositionReport","MetaData":{"MMSI":366123456},"Message":{"PositionReport":{"Latitude":1.3,"Longitude":103.8}}}
{"MessageType":"PositionReport","MetaData":`
	require.NoError(t, os.WriteFile(path, []byte(capture), 0o600))

	var stdout, stderr bytes.Buffer
	code := run([]string{"analyze", "--input", path, "--format", "json"}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())

	var rep struct {
		Frames  int            `json:"frames"`
		Decoded int            `json:"decoded"`
		Skipped map[string]int `json:"skipped"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &rep))
	assert.Equal(t, 2, rep.Frames)
	assert.Equal(t, 1, rep.Decoded)
	assert.Equal(t, 1, rep.Skipped["malformed"])
}
