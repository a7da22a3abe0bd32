package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type captureLogger struct{ calls []string }

func (c *captureLogger) Debug(msg string, _ ...any) { c.calls = append(c.calls, "d:"+msg) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.calls = append(c.calls, "i:"+msg) }
func (c *captureLogger) Warn(msg string, _ ...any)  { c.calls = append(c.calls, "w:"+msg) }
func (c *captureLogger) Error(msg string, _ ...any) { c.calls = append(c.calls, "e:"+msg) }

func (c *captureLogger) has(prefix string) bool {
	for _, call := range c.calls {
		if strings.HasPrefix(call, prefix) {
			return true
		}
	}
	return false
}

func TestNewZapLoggerLevels(t *testing.T) {
	for _, level := range []string{"", LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, LogLevelNone} {
		l, err := NewZapLogger(level)
		if err != nil {
			t.Fatalf("level %q: %v", level, err)
		}
		l.Debug("level check", "level", level)
	}
	if _, err := NewZapLogger("chatty"); err == nil {
		t.Fatalf("expected invalid level error")
	}
}

func TestZapLoggerWritesKeyValues(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewZapLoggerFrom(zap.New(core))
	l.Info("sandbox created", "sandbox", "sandbox_1", "elements", 3)
	l.Error("operation failed", "operation", "merge_sandbox")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ContextMap()["sandbox"] != "sandbox_1" {
		t.Fatalf("unexpected fields %+v", entries[0].ContextMap())
	}
	if entries[1].Level != zap.ErrorLevel {
		t.Fatalf("expected error level, got %s", entries[1].Level)
	}
	if NewZapLoggerFrom(nil) == nil {
		t.Fatalf("nil zap logger should fall back to nop")
	}
}

func TestPrometheusRecorderCounts(t *testing.T) {
	rec := NewPrometheusRecorder()
	ctx := context.Background()
	rec.Observe(ctx, "merge_sandbox", true, time.Millisecond)
	rec.Observe(ctx, "merge_sandbox", false, time.Millisecond)
	rec.Observe(ctx, "merge_sandbox", true, time.Millisecond)
	rec.Observe(ctx, "", true, time.Millisecond)

	if got := testutil.ToFloat64(rec.total.WithLabelValues("merge_sandbox", "success")); got != 2 {
		t.Fatalf("expected 2 successes, got %v", got)
	}
	if got := testutil.ToFloat64(rec.total.WithLabelValues("merge_sandbox", "error")); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
	families, err := rec.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) != 2 {
		t.Fatalf("expected counter and histogram families, got %d", len(families))
	}
}

func TestLogTracerEmitsSpans(t *testing.T) {
	log := &captureLogger{}
	tracer := NewLogTracer(log)
	_, span := tracer.Start(context.Background(), "export_package")
	span.End(nil)
	_, span = tracer.Start(context.Background(), "export_package")
	span.End(errors.New("boom"))
	if len(log.calls) != 2 || !log.has("d:span") {
		t.Fatalf("expected two debug span entries, got %v", log.calls)
	}
	NewLogTracer(nil).Start(context.Background(), "noop")
}
