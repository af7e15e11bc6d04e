package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contextLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(NewContextHandler(slog.NewJSONHandler(&buf, nil))), &buf
}

func logEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestContextHandler_IncludesRequestID(t *testing.T) {
	logger, buf := contextLogger()

	ctx := ContextWithRequestID(context.Background(), "test-req-123")
	logger.InfoContext(ctx, "test message")

	entry := logEntry(t, buf)
	assert.Equal(t, "test-req-123", entry["request_id"])
	assert.Equal(t, "test message", entry["msg"])
}

func TestContextHandler_NoRequestID_OmitsField(t *testing.T) {
	logger, buf := contextLogger()

	logger.InfoContext(context.Background(), "no request id")

	entry := logEntry(t, buf)
	assert.Nil(t, entry["request_id"])
	assert.Equal(t, "no request id", entry["msg"])
}

func TestContextHandler_WithAttrs_Preserves(t *testing.T) {
	logger, buf := contextLogger()

	ctx := ContextWithRequestID(context.Background(), "req-456")
	logger.With("service", "sensu-api").InfoContext(ctx, "with attrs")

	entry := logEntry(t, buf)
	assert.Equal(t, "req-456", entry["request_id"])
	assert.Equal(t, "sensu-api", entry["service"])
}

func TestContextHandler_WithGroup_Preserves(t *testing.T) {
	logger, buf := contextLogger()

	ctx := ContextWithRequestID(context.Background(), "req-789")
	logger.WithGroup("http").InfoContext(ctx, "grouped")

	entry := logEntry(t, buf)
	// With a group active, record.AddAttrs places request_id inside it.
	httpGroup, ok := entry["http"].(map[string]any)
	require.True(t, ok, "expected 'http' group in log entry")
	assert.Equal(t, "req-789", httpGroup["request_id"])
}
