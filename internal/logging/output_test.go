package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(" WARN "))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNew_WritesToRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")

	log, closer := New(Options{File: path, Level: "debug"})
	log.Info(context.Background(), "queue drained", "delivered", 3)
	require.NoError(t, closer.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"queue drained"`)
	assert.Contains(t, string(b), `"delivered":3`)
}

func TestNew_StderrCloserIsNoop(t *testing.T) {
	_, closer := New(Options{})
	require.NoError(t, closer.Close())
}

func TestDiscard_DoesNotPanic(t *testing.T) {
	l := Discard()
	l.Debug(context.Background(), "x")
	l.With("k", "v").Error(context.Background(), "y")
}
