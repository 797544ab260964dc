package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestComponentAndSetLevel(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, slog.LevelInfo, true)
	defer Init(slog.LevelInfo, false)

	log := Component("trace")
	log.Debug("hidden")
	log.Info("visible", "line", 3)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug record written at info level")
	}
	if !strings.Contains(out, `"component":"trace"`) || !strings.Contains(out, `"line":3`) {
		t.Errorf("unexpected output %s", out)
	}

	SetLevel(slog.LevelDebug)
	log.Debug("now shown")
	if !strings.Contains(buf.String(), "now shown") {
		t.Error("SetLevel not applied")
	}
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, slog.LevelInfo, false)
	defer Init(slog.LevelInfo, false)

	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithTrace(ctx, "disk.trace")
	WithContext(ctx).Info("analyzed")

	out := buf.String()
	if !strings.Contains(out, "request_id=req-1") || !strings.Contains(out, "trace=disk.trace") {
		t.Errorf("unexpected output %s", out)
	}
}
