package fetchlog

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestWithAttachesTraceIDToLogsAndContext(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	id := NewTraceID()
	ctx, log := With(context.Background(), base, id)

	if got := TraceID(ctx); got != id {
		t.Fatalf("TraceID(ctx) = %q, want %q", got, id)
	}

	log.Info("fill started")
	if !strings.Contains(buf.String(), id) {
		t.Fatalf("log output missing trace id: %s", buf.String())
	}
}

func TestTraceIDEmptyWithoutContext(t *testing.T) {
	if got := TraceID(context.Background()); got != "" {
		t.Fatalf("TraceID(bare context) = %q, want empty", got)
	}
}
