package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestPropagateToLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-abc")
	ctx = WithThreadID(ctx, "thread-xyz")

	enriched := PropagateToLogger(ctx, logger)
	enriched.Info().Msg("hello")

	out := buf.String()
	if !strings.Contains(out, "trace-abc") {
		t.Errorf("Expected trace_id in log output, got %s", out)
	}
	if !strings.Contains(out, "thread-xyz") {
		t.Errorf("Expected thread_id in log output, got %s", out)
	}
}

func TestLoggerFromEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	enriched := LoggerFromContext(context.Background(), logger)
	enriched.Info().Msg("plain")

	out := buf.String()
	if strings.Contains(out, "trace_id") {
		t.Errorf("Expected no trace_id field, got %s", out)
	}
}
