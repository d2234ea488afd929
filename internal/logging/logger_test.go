package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	testCases := map[string]zapcore.Level{
		"":        zapcore.InfoLevel,
		"DEBUG":   zapcore.DebugLevel,
		"warning": zapcore.WarnLevel,
		" error ": zapcore.ErrorLevel,
		"chatty":  zapcore.InfoLevel,
	}
	for raw, want := range testCases {
		if got := parseLevel(raw); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestNewLoggerHonoursLevel(t *testing.T) {
	logger, err := NewLogger("error", "folio")
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("expected info to be disabled at error level")
	}
	if !logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Fatalf("expected error to be enabled")
	}
}
