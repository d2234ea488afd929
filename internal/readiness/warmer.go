package readiness

import (
	"context"

	"go.uber.org/zap"
)

const warmingFailedReason = "A critical error occurred during cache warming. The application might be in an unstable state."

// TagSource lists every known tag name.
type TagSource interface {
	AllTagNames(ctx context.Context) ([]string, error)
}

// TagSink receives the full tag catalog.
type TagSink interface {
	Replace(ctx context.Context, names []string) error
}

// Warmer loads the tag catalog into the cache and then opens the gate.
type Warmer struct {
	gate   *Gate
	source TagSource
	sink   TagSink
	logger *zap.Logger
}

// NewWarmer constructs a Warmer.
func NewWarmer(gate *Gate, source TagSource, sink TagSink, logger *zap.Logger) *Warmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Warmer{gate: gate, source: source, sink: sink, logger: logger}
}

// Run warms the cache once. Success marks the gate ready; failure marks it degraded. Either way
// the gate leaves Initializing.
func (w *Warmer) Run(ctx context.Context) {
	w.logger.Info("warming tag cache")
	names, err := w.source.AllTagNames(ctx)
	if err == nil {
		err = w.sink.Replace(ctx, names)
	}
	if err != nil {
		w.logger.Error("tag cache warming failed", zap.Error(err))
		w.gate.MarkDegraded(warmingFailedReason)
		return
	}
	w.gate.MarkReady()
	w.logger.Info("tag cache warmed, service ready", zap.Int("tags", len(names)))
}
