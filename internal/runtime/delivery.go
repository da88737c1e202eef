package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/logtower/internal/runtime/cwlogs"
	"github.com/drblury/logtower/internal/runtime/diagnostics"
	errspkg "github.com/drblury/logtower/internal/runtime/errors"
	"github.com/drblury/logtower/internal/runtime/logging"
)

const tracerName = "github.com/drblury/logtower"

// deliveryClient submits batches to CloudWatch Logs and keeps each stream's
// sequence token current. It reports every failure as a warning and never
// returns one.
type deliveryClient struct {
	api           cwlogs.API
	group         string
	maxRetries    int
	createStreams bool
	createGroup   bool

	// creating is set while a stream is being re-created so records produced
	// by that call path are discarded instead of re-entering admission.
	creating *atomic.Bool

	reporter diagnostics.Reporter
	metrics  *Metrics
	hooks    DeliveryHooks
	logger   logging.ServiceLogger
	tracer   trace.Tracer
}

// submit delivers events to s. The events slice is sorted in place.
func (d *deliveryClient) submit(ctx context.Context, s *stream, events []event, batchID string) {
	if len(events) == 0 {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.warn(diagnostics.KindInternal, s.name, "Failed to deliver batch", fmt.Errorf("panic: %v", r))
		}
	}()

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].timestamp < events[j].timestamp
	})

	input := make([]types.InputLogEvent, len(events))
	size := 0
	for i, e := range events {
		input[i] = types.InputLogEvent{
			Timestamp: aws.Int64(e.timestamp),
			Message:   aws.String(e.message),
		}
		size += e.size()
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	bctx := BatchContext{
		BatchID:   batchID,
		Group:     d.group,
		Stream:    s.name,
		Events:    len(events),
		Bytes:     size,
		Context:   ctx,
		StartedAt: time.Now(),
	}
	d.hooks.start(bctx)

	var lastErr error
	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		bctx.Attempts = attempt

		out, err := d.put(ctx, s, input, batchID, attempt)
		if err == nil {
			if out.NextSequenceToken != nil {
				s.token = out.NextSequenceToken
			}
			bctx.Rejected = cwlogs.RejectedCount(out.RejectedLogEventsInfo, len(input))
			if bctx.Rejected > 0 {
				d.warn(diagnostics.KindRejected, s.name,
					fmt.Sprintf("CloudWatch Logs rejected %d of %d events", bctx.Rejected, len(input)),
					errspkg.ErrEventsRejected)
			}
			bctx.Duration = time.Since(bctx.StartedAt)
			d.hooks.done(bctx)
			return
		}
		lastErr = err

		switch {
		case cwlogs.IsTokenConflict(err):
			if token, ok := cwlogs.ExpectedToken(err); ok {
				s.setToken(token)
			}
			if cwlogs.IsDataAlreadyAccepted(err) {
				bctx.Duration = time.Since(bctx.StartedAt)
				d.hooks.done(bctx)
				return
			}
			d.metrics.recordRetry(s.name, "sequence_token")
		case cwlogs.IsNotFound(err) && d.createStreams:
			if cerr := d.recreate(ctx, s.name); cerr != nil {
				lastErr = cerr
				d.warn(diagnostics.KindDeliveryRetry, s.name, "Failed to create log stream", cerr)
			}
			s.token = nil
			d.metrics.recordRetry(s.name, "not_found")
		default:
			d.warn(diagnostics.KindDeliveryRetry, s.name, "Failed to deliver logs", err)
			d.metrics.recordRetry(s.name, "error")
		}

		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
	}

	failure := fmt.Errorf("%w: %w", errspkg.ErrRetriesExhausted, lastErr)
	d.warn(diagnostics.KindDeliveryFailed, s.name,
		fmt.Sprintf("Failed to deliver %d events after %d attempts", len(input), bctx.Attempts), failure)
	bctx.Duration = time.Since(bctx.StartedAt)
	d.hooks.fail(bctx, failure)
}

// put performs one PutLogEvents attempt inside a client span.
func (d *deliveryClient) put(ctx context.Context, s *stream, input []types.InputLogEvent, batchID string, attempt int) (*cloudwatchlogs.PutLogEventsOutput, error) {
	ctx, span := d.tracer.Start(ctx, "PutLogEvents", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("logtower.group", d.group),
		attribute.String("logtower.stream", s.name),
		attribute.String("logtower.batch_id", batchID),
		attribute.Int("logtower.events", len(input)),
		attribute.Int("logtower.attempt", attempt),
	)

	out, err := d.api.PutLogEvents(ctx, &cloudwatchlogs.PutLogEventsInput{
		LogGroupName:  aws.String(d.group),
		LogStreamName: aws.String(s.name),
		LogEvents:     input,
		SequenceToken: s.token,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

// recreate creates a stream that the service reported missing, and its
// group as well when that is missing too and group creation is allowed.
func (d *deliveryClient) recreate(ctx context.Context, name string) error {
	d.creating.Store(true)
	defer d.creating.Store(false)

	d.logger.Info("Creating log stream", logging.LogFields{"group": d.group, "stream": name})
	err := cwlogs.CreateStream(ctx, d.api, d.group, name)
	if err != nil && cwlogs.IsNotFound(err) && d.createGroup {
		if gerr := cwlogs.CreateGroup(ctx, d.api, d.group); gerr != nil {
			return gerr
		}
		err = cwlogs.CreateStream(ctx, d.api, d.group, name)
	}
	return err
}

func (d *deliveryClient) warn(kind diagnostics.Kind, streamName, msg string, err error) {
	d.reporter.Warn(diagnostics.Warning{
		Kind:    kind,
		Stream:  streamName,
		Message: msg,
		Err:     err,
		Time:    time.Now(),
	})
}

// setToken stores a token reported by the service. The service reports the
// token of a stream that has never been written to as "null", which must be
// sent as no token at all.
func (s *stream) setToken(token string) {
	if token == cwlogs.NoToken || token == "" {
		s.token = nil
		return
	}
	s.token = aws.String(token)
}

func newTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
