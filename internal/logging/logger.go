// Package logging builds the process-wide zap logger.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns a JSON production logger at the given level, tagged with the service name.
// Unknown levels fall back to info; "warning" is accepted as an alias of warn.
func NewLogger(level, service string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	if service = strings.TrimSpace(service); service != "" {
		logger = logger.With(zap.String("service", service))
	}
	return logger, nil
}

func parseLevel(raw string) zapcore.Level {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "warning" {
		normalized = "warn"
	}
	level, err := zapcore.ParseLevel(normalized)
	if err != nil || normalized == "" {
		return zapcore.InfoLevel
	}
	return level
}
