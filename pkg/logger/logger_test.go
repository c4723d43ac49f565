package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	mu.Lock()
	prev := globalLogger
	globalLogger = slog.New(slog.NewJSONHandler(&buf, nil))
	mu.Unlock()
	t.Cleanup(func() {
		mu.Lock()
		globalLogger = prev
		mu.Unlock()
	})
	return &buf
}

func TestLogDuration(t *testing.T) {
	buf := capture(t)
	ctx := WithTraceID(context.Background(), "trace-1")

	done := LogDuration(ctx, "order book replayed", "market", "btcusdt")
	assert.Zero(t, buf.Len())
	done()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "order book replayed", entry["msg"])
	assert.Equal(t, "btcusdt", entry["market"])
	assert.Equal(t, "trace-1", entry["trace_id"])
	assert.Contains(t, entry, "duration")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}
