package logutil_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/kinship-app/kinship/internal/platform/logutil"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"trace", logutil.LevelTrace},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{" warn ", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := logutil.ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNoopIfNil(t *testing.T) {
	if logutil.NoopIfNil(nil) == nil {
		t.Fatal("expected a discard logger for nil input")
	}
	l := slog.Default()
	if logutil.NoopIfNil(l) != l {
		t.Error("expected the same logger back")
	}
}

func TestNew_JSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := logutil.New(&buf, "json", "warn")
	log.Info("hidden")
	log.Warn("shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record should be filtered, got %q", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("expected JSON warn record, got %q", out)
	}
}
