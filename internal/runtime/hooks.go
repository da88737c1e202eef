package runtime

import (
	"context"
	"time"

	"github.com/drblury/logtower/internal/runtime/logging"
)

// BatchContext provides information about a batch submission to hooks.
type BatchContext struct {
	// BatchID is the ULID assigned to the batch when it was assembled.
	BatchID string
	// Group and Stream name the destination.
	Group  string
	Stream string
	// Events is the number of events in the batch.
	Events int
	// Bytes is the batch size as the service counts it, overhead included.
	Bytes int
	// Context is the context the submission runs under.
	Context context.Context
	// StartedAt is when the first attempt started.
	StartedAt time.Time
	// Duration is how long the submission took (only set in OnBatchDone and
	// OnBatchError).
	Duration time.Duration
	// Attempts is the number of PutLogEvents calls made so far.
	Attempts int
	// Rejected is the number of events the service refused in an accepted
	// batch.
	Rejected int
}

// DeliveryHooks defines callbacks for batch lifecycle events.
// All hooks are optional - nil hooks are simply not called.
type DeliveryHooks struct {
	// OnBatchStart is called before the first PutLogEvents attempt.
	OnBatchStart func(ctx BatchContext)

	// OnBatchDone is called once the service accepted the batch.
	OnBatchDone func(ctx BatchContext)

	// OnBatchError is called when the batch is abandoned after its last
	// attempt.
	OnBatchError func(ctx BatchContext, err error)
}

// Merge combines two DeliveryHooks, creating a new DeliveryHooks that calls
// both. The hooks from 'other' are called after the hooks from 'h'.
func (h DeliveryHooks) Merge(other DeliveryHooks) DeliveryHooks {
	return DeliveryHooks{
		OnBatchStart: chainBatchHooks(h.OnBatchStart, other.OnBatchStart),
		OnBatchDone:  chainBatchHooks(h.OnBatchDone, other.OnBatchDone),
		OnBatchError: chainBatchErrorHooks(h.OnBatchError, other.OnBatchError),
	}
}

func chainBatchHooks(a, b func(BatchContext)) func(BatchContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx BatchContext) {
		a(ctx)
		b(ctx)
	}
}

func chainBatchErrorHooks(a, b func(BatchContext, error)) func(BatchContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx BatchContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func (h DeliveryHooks) start(ctx BatchContext) {
	if h.OnBatchStart != nil {
		h.OnBatchStart(ctx)
	}
}

func (h DeliveryHooks) done(ctx BatchContext) {
	if h.OnBatchDone != nil {
		h.OnBatchDone(ctx)
	}
}

func (h DeliveryHooks) fail(ctx BatchContext, err error) {
	if h.OnBatchError != nil {
		h.OnBatchError(ctx, err)
	}
}

// LoggingHooks returns pre-built hooks that log batch lifecycle events.
func LoggingHooks(logger logging.ServiceLogger) DeliveryHooks {
	fields := func(ctx BatchContext) logging.LogFields {
		return logging.LogFields{
			"batch_id": ctx.BatchID,
			"group":    ctx.Group,
			"stream":   ctx.Stream,
			"events":   ctx.Events,
		}
	}
	return DeliveryHooks{
		OnBatchStart: func(ctx BatchContext) {
			f := fields(ctx)
			f["bytes"] = ctx.Bytes
			logger.Debug("Submitting batch", f)
		},
		OnBatchDone: func(ctx BatchContext) {
			f := fields(ctx)
			f["attempts"] = ctx.Attempts
			f["duration_ms"] = ctx.Duration.Milliseconds()
			if ctx.Rejected > 0 {
				f["rejected"] = ctx.Rejected
			}
			logger.Debug("Batch submitted", f)
		},
		OnBatchError: func(ctx BatchContext, err error) {
			f := fields(ctx)
			f["attempts"] = ctx.Attempts
			f["duration_ms"] = ctx.Duration.Milliseconds()
			logger.Error("Batch abandoned", err, f)
		},
	}
}

// AlertingHooks returns pre-built hooks that trigger alerts on abandoned
// batches.
func AlertingHooks(alertFunc func(ctx BatchContext, err error)) DeliveryHooks {
	return DeliveryHooks{
		OnBatchError: alertFunc,
	}
}

// MetricsHooks returns pre-built hooks that record batch outcomes in m.
func MetricsHooks(m *Metrics) DeliveryHooks {
	if m == nil {
		return DeliveryHooks{}
	}
	return DeliveryHooks{
		OnBatchDone: func(ctx BatchContext) {
			m.recordSubmitted(ctx.Stream, ctx.Events-ctx.Rejected, ctx.Bytes)
			m.recordRejected(ctx.Stream, ctx.Rejected)
		},
		OnBatchError: func(ctx BatchContext, _ error) {
			m.recordFailure(ctx.Stream)
		},
	}
}
