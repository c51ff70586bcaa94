package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The logger is global; tests reconfigure it and must not run in parallel.

func capture(t *testing.T, cfg LogConfig) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	cfg.Output = &buf
	require.NoError(t, InitWithConfig(cfg))
	t.Cleanup(func() { globalLogger = nil; detailedLogging = false })
	return &buf
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if l == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(l), &m))
		out = append(out, m)
	}
	return out
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLogLevel(in), in)
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t, LogConfig{Level: "WARN", Format: "json"})

	ctx := context.Background()
	Info(ctx, "dropped")
	Warn(ctx, "kept", "symbol", "BTCUSDT")

	recs := lines(t, buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "kept", recs[0]["msg"])
	assert.Equal(t, "BTCUSDT", recs[0]["symbol"])
}

func TestErrorWithErrAndTrade(t *testing.T) {
	buf := capture(t, LogConfig{Level: "INFO", Format: "json"})

	ctx := context.Background()
	ErrorWithErr(ctx, "placement failed", errors.New("boom"), "order_id", "ord-1")
	Trade(ctx, "BTCUSDT", "buy", 2.4, 100_000, "ord-1")
	Risk(ctx, "BTCUSDT", "stop_loss", "price", 95_000.0)

	recs := lines(t, buf)
	require.Len(t, recs, 3)
	assert.Equal(t, "boom", recs[0]["error"])
	assert.Equal(t, "ord-1", recs[0]["order_id"])
	assert.Equal(t, "TRADE", recs[1]["type"])
	assert.InDelta(t, 2.4, recs[1]["quantity"], 1e-12)
	assert.Equal(t, "RISK", recs[2]["type"])
	assert.Equal(t, "WARN", recs[2]["level"])
}

func TestDetailedAddsSource(t *testing.T) {
	buf := capture(t, LogConfig{Level: "INFO", Format: "json", DetailedLogging: true})

	Debug(context.Background(), "with source")

	recs := lines(t, buf)
	require.Len(t, recs, 1)
	src, ok := recs[0]["source"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, src["file"], "logger_test.go")
	assert.True(t, IsDebugEnabled())
}

func TestWorksBeforeInit(t *testing.T) {
	globalLogger = nil
	assert.NotPanics(t, func() {
		Warn(context.Background(), "no init yet")
		ErrorWithErr(context.Background(), "still fine", errors.New("x"))
	})
}
