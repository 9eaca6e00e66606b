package stream

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSourceReplaysLinesInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"n\":1}\n\n  {\"n\":2}  \n{\"n\":3}"), 0o600))

	var got []string
	err := NewFileSource(path).Run(context.Background(), func(_ context.Context, f []byte) {
		got = append(got, string(f))
	})
	require.NoError(t, err)
	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}, got)
}

func TestFileSourceMissingFile(t *testing.T) {
	err := NewFileSource(filepath.Join(t.TempDir(), "none.jsonl")).Run(context.Background(), func(context.Context, []byte) {})
	assert.Error(t, err)
}

func TestReaderSourceStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var n int
	src := NewReaderSource(strings.NewReader("a\nb\nc\n"))
	err := src.Run(ctx, func(context.Context, []byte) {
		n++
		cancel()
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
