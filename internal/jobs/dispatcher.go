package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/MarcoPoloResearchLab/folio/internal/jobs"

// DispatcherConfig describes the dependencies of the Dispatcher.
type DispatcherConfig struct {
	Queue   *Queue
	Store   *Store
	Metrics *Metrics
	Clock   func() time.Time
	Logger  *zap.Logger
}

// Dispatcher is the single consumer of the work queue. It runs one item at a time in FIFO order.
type Dispatcher struct {
	queue   *Queue
	store   *Store
	metrics *Metrics
	clock   func() time.Time
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Queue == nil {
		return nil, newServiceError("jobs.dispatcher.new", "missing_queue", errKindValidation, errMissingQueue)
	}
	if cfg.Store == nil {
		return nil, newServiceError("jobs.dispatcher.new", "missing_store", errKindValidation, errMissingStore)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   cfg.Queue,
		store:   cfg.Store,
		metrics: cfg.Metrics,
		clock:   clock,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
	}, nil
}

// Run consumes work items until ctx is cancelled. A failing item never stops the loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("job dispatcher started")
	for {
		item, err := d.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				d.logger.Info("job dispatcher stopped", zap.Int("pending", d.queue.Len()))
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			// Cancelled between dequeue and pickup; the job row is still QUEUED.
			d.queue.pushFront(item)
			continue
		}
		d.process(ctx, item)
	}
}

func (d *Dispatcher) process(ctx context.Context, item WorkItem) {
	// Status writes must land even when shutdown cancels ctx mid-item.
	statusCtx := context.WithoutCancel(ctx)
	spanCtx, span := d.tracer.Start(ctx, "jobs.process", trace.WithAttributes(
		attribute.String("job.id", item.JobID),
		attribute.String("job.type", string(item.Type)),
	))
	defer span.End()

	fields := []zap.Field{zap.String("job_id", item.JobID), zap.String("type", string(item.Type))}
	if err := d.store.MarkProcessing(statusCtx, item.JobID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "mark processing failed")
		logJobError(d.logger, opMarkProcessing, "skipped", err, fields...)
		return
	}

	started := d.clock()
	runErr := d.execute(spanCtx, item)
	elapsed := d.clock().Sub(started)

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		d.logger.Warn("job failed", append(fields, zap.Error(runErr), zap.Duration("elapsed", elapsed))...)
		if err := d.store.MarkFailed(statusCtx, item.JobID, runErr.Error()); err != nil {
			logJobError(d.logger, opMarkFailed, reasonUpdateFailed, err, fields...)
		}
		d.metrics.observe(item.Type, StatusFailed, elapsed)
		return
	}

	if err := d.store.MarkCompleted(statusCtx, item.JobID); err != nil {
		// The handler's output is committed but the row stays PROCESSING until the next boot
		// fails it as interrupted.
		span.RecordError(err)
		span.SetStatus(codes.Error, "mark completed failed")
		logJobError(d.logger, opMarkCompleted, reasonUpdateFailed, err,
			append(fields, zap.Bool("work_committed", true), zap.Duration("elapsed", elapsed))...)
		return
	}
	span.SetStatus(codes.Ok, "")
	d.logger.Info("job completed", append(fields, zap.Duration("elapsed", elapsed))...)
	d.metrics.observe(item.Type, StatusCompleted, elapsed)
}

func (d *Dispatcher) execute(ctx context.Context, item WorkItem) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%w: panic: %v", ErrProcessing, recovered)
		}
	}()
	if item.Run == nil {
		return fmt.Errorf("%w: work item has no handler", ErrProcessing)
	}
	return item.Run(ctx)
}
