package statemachine

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/goliatone/go-logger/glog"
)

func TestGlogBackedLoggerEmitsStructuredFields(t *testing.T) {
	buf := &bytes.Buffer{}
	base := glog.NewLogger(
		glog.WithWriter(buf),
		glog.WithLoggerTypeJSON(),
		glog.WithLevel("trace"),
	)
	logger := WithLoggerFields(NewGlogLogger(base), map[string]any{
		"machine_id": "deploy-9",
	})

	logger.Info("transition committed from=%s to=%s", "building", "testing")

	logged := buf.String()
	if strings.TrimSpace(logged) == "" {
		t.Fatal("expected structured output")
	}
	if !strings.Contains(logged, "machine_id") {
		t.Fatalf("expected machine_id field in output: %s", logged)
	}
	if !strings.Contains(logged, "transition committed") {
		t.Fatalf("expected message in output: %s", logged)
	}
}

func TestNewGlogLoggerSatisfiesContract(t *testing.T) {
	buf := &bytes.Buffer{}
	base := glog.NewLogger(glog.WithWriter(buf), glog.WithLevel("trace"))

	var logger Logger = NewGlogLogger(base)
	derived := logger.WithContext(context.Background())
	derived.Warn("sweep skipped instance=%s", "j1")

	if !strings.Contains(buf.String(), "sweep skipped") {
		t.Fatalf("expected message in output, got: %s", buf.String())
	}
	if _, ok := NewGlogLogger(nil).(*FmtLogger); !ok {
		t.Fatalf("expected FmtLogger fallback for nil glog logger")
	}
}

func TestNormalizeLoggerFallsBackToFmtLogger(t *testing.T) {
	logger := NormalizeLogger(nil)
	if _, ok := logger.(*FmtLogger); !ok {
		t.Fatalf("expected FmtLogger fallback, got %T", logger)
	}
}

func TestFmtLoggerWritesLevelAndFields(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewFmtLogger(buf)
	WithLoggerFields(logger, map[string]any{"machine_id": "m-1"}).
		Warn("queue saturated depth=%d", 128)

	out := buf.String()
	if !strings.Contains(out, "WARN") || !strings.Contains(out, "queue saturated depth=128") {
		t.Fatalf("unexpected output: %s", out)
	}
	if !strings.Contains(out, "machine_id=m-1") {
		t.Fatalf("expected field in output: %s", out)
	}
	if strings.Contains(out, "%!") {
		t.Fatalf("malformed format directives in output: %s", out)
	}
}
