package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FileOutput(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "mira.log")

	l, err := New(Config{Level: "debug", File: logPath})
	require.NoError(t, err)
	defer l.Close()

	zl := l.GetZerolog()
	zl.Info().Str("component", "test").Msg("hello from test")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from test")
	assert.Contains(t, string(data), `"component":"test"`)
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "mira.log")

	l, err := New(Config{Level: "nonsense", File: logPath})
	require.NoError(t, err)
	defer l.Close()

	zl := l.GetZerolog()
	zl.Debug().Msg("should be filtered")
	zl.Info().Msg("should be written")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "should be filtered")
	assert.Contains(t, string(data), "should be written")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
}
