package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/logtower/internal/runtime/config"
	"github.com/drblury/logtower/internal/runtime/cwlogs"
	"github.com/drblury/logtower/internal/runtime/diagnostics"
	errspkg "github.com/drblury/logtower/internal/runtime/errors"
	"github.com/drblury/logtower/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/logtower/internal/runtime/logging"
	"github.com/drblury/logtower/internal/runtime/queue"
	"github.com/drblury/logtower/internal/runtime/streamname"
	transportpkg "github.com/drblury/logtower/internal/runtime/transport"
)

const (
	emptyMessageWarning  = "Received empty message. Empty messages cannot be sent to CloudWatch Logs"
	afterShutdownWarning = "Received message after logging system shutdown"
)

// HandlerDependencies holds the optional collaborators of a Handler.
// Leave fields nil to get the defaults.
type HandlerDependencies struct {
	// Client is used as is when set; otherwise ClientFactory builds one.
	Client        cwlogs.API
	ClientFactory transportpkg.Factory
	// Reporter receives non-fatal warnings in addition to the logger.
	Reporter diagnostics.Reporter
	// Environment overrides the placeholder values of the stream name
	// template. The zero value means the running process.
	Environment *streamname.Environment
	Hooks       DeliveryHooks
	// Metrics overrides the collectors created when MetricsEnabled is set.
	Metrics    *Metrics
	Registerer prometheus.Registerer
}

// Handler ships log records to CloudWatch Logs. Records are routed to a
// stream by name template, queued per stream and submitted in batches by
// one worker per stream.
type Handler struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	ctx      context.Context
	api      cwlogs.API
	names    *streamname.Resolver
	reporter diagnostics.Reporter
	metrics  *Metrics
	delivery *deliveryClient
	streams  *registry

	// admitMu orders admissions against shutdown: Emit holds it shared from
	// the shutdown check until the record is queued, Close takes it
	// exclusively to flip shuttingDown.
	admitMu      sync.RWMutex
	shuttingDown bool
	creating     atomic.Bool
	closeOnce    sync.Once
}

// NewHandler builds a Handler and panics when it cannot. Use TryNewHandler
// to get the error instead.
func NewHandler(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps HandlerDependencies) *Handler {
	h, err := TryNewHandler(conf, log, ctx, deps)
	if err != nil {
		panic(err)
	}
	return h
}

// TryNewHandler validates conf, builds the CloudWatch Logs client and
// provisions the log group. The context bounds construction only; delivery
// keeps its values but not its cancellation.
func TryNewHandler(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps HandlerDependencies) (*Handler, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}
	resolved := conf.WithDefaults()

	env := streamname.CurrentEnvironment()
	if deps.Environment != nil {
		env = *deps.Environment
	}
	names, err := streamname.New(resolved.LogStreamName, env)
	if err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	log = log.With(loggingpkg.LogFields{"log_group": resolved.LogGroupName})
	log.Info("Creating CloudWatch Logs handler", loggingpkg.LogFields{"config": resolved.String()})

	api := deps.Client
	if api == nil {
		factory := deps.ClientFactory
		if factory == nil {
			factory = transportpkg.DefaultFactory()
		}
		if api, err = factory.Build(ctx, &resolved, log); err != nil {
			return nil, fmt.Errorf("build cloudwatch logs client: %w", err)
		}
	}
	if api == nil {
		return nil, errspkg.ErrClientRequired
	}

	metrics := deps.Metrics
	if metrics == nil && resolved.MetricsEnabled {
		metrics = NewMetrics(deps.Registerer)
	}
	if metrics != nil && resolved.MetricsEnabled {
		if err := metrics.Register(); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	h := &Handler{
		Conf:     &resolved,
		Logger:   log,
		ctx:      context.WithoutCancel(ctx),
		api:      api,
		names:    names,
		reporter: diagnostics.Multi(diagnostics.LoggingReporter{Logger: log}, deps.Reporter),
		metrics:  metrics,
		streams:  newRegistry(),
	}
	h.delivery = &deliveryClient{
		api:           api,
		group:         resolved.LogGroupName,
		maxRetries:    resolved.MaxRetries,
		createStreams: !resolved.SkipLogStreamCreation,
		createGroup:   !resolved.SkipLogGroupCreation,
		creating:      &h.creating,
		reporter:      h.reporter,
		metrics:       metrics,
		hooks:         MetricsHooks(metrics).Merge(deps.Hooks),
		logger:        log,
		tracer:        newTracer(),
	}

	if err := h.provisionGroup(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

// provisionGroup creates the log group and applies its retention policy.
func (h *Handler) provisionGroup(ctx context.Context) error {
	if h.Conf.SkipLogGroupCreation {
		return nil
	}
	group := h.Conf.LogGroupName
	exists, err := cwlogs.GroupExists(ctx, h.api, group)
	if err != nil {
		return fmt.Errorf("describe log group %s: %w", group, err)
	}
	if !exists {
		h.Logger.Info("Creating log group", nil)
		if err := cwlogs.CreateGroup(ctx, h.api, group); err != nil {
			return fmt.Errorf("create log group %s: %w", group, err)
		}
	}
	if h.Conf.LogGroupRetentionDays > 0 {
		if err := cwlogs.SetRetention(ctx, h.api, group, h.Conf.LogGroupRetentionDays); err != nil {
			return fmt.Errorf("set retention of log group %s: %w", group, err)
		}
	}
	return nil
}

// Emit admits one record. Records are queued for their stream, or submitted
// before Emit returns when queues are disabled. A dropped record is reported
// as a warning and its reason returned; Emit never panics.
func (h *Handler) Emit(rec Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("logtower: emit: panic: %v", r)
			h.warn(diagnostics.KindInternal, "", "Failed to admit log record", err)
		}
	}()

	if rec.Message == "" && rec.Payload != nil {
		msg, encErr := jsoncodec.MarshalPayload(rec.Payload)
		if encErr != nil {
			err = fmt.Errorf("logtower: encode payload: %w", encErr)
			h.warn(diagnostics.KindInternal, "", "Failed to encode log payload", err)
			return err
		}
		rec.Message = msg
	}
	if rec.Message == "" {
		h.warn(diagnostics.KindEmptyMessage, "", emptyMessageWarning, errspkg.ErrEmptyMessage)
		return errspkg.ErrEmptyMessage
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}

	name := h.names.Resolve(rec.Source, rec.Time)
	// Discarded without a warning: warnings reach loggers that may be routed
	// back into this handler.
	if h.creating.Load() {
		h.metrics.recordDropped(name, "creating_stream")
		return nil
	}
	ev := event{timestamp: rec.Time.UnixMilli(), message: rec.Message}

	h.admitMu.RLock()
	defer h.admitMu.RUnlock()

	if h.shuttingDown {
		h.metrics.recordDropped(name, "after_shutdown")
		h.warn(diagnostics.KindAfterShutdown, name, afterShutdownWarning, errspkg.ErrShuttingDown)
		return errspkg.ErrShuttingDown
	}

	if h.Conf.DisableQueues {
		s, _ := h.streams.getOrCreate(name, nil)
		h.delivery.submit(h.ctx, s, []event{h.prepare(name, ev)}, newBatchID())
		return nil
	}

	s, created := h.streams.getOrCreate(name, h.initStream)
	if created {
		h.Logger.Debug("Starting log stream worker", loggingpkg.LogFields{"stream": name})
	}
	if err := s.queue.Put(item{event: ev}); err != nil {
		h.metrics.recordDropped(name, "queue_full")
		h.warn(diagnostics.KindQueueFull, name, "Log stream queue is full, dropping message", err)
		return err
	}
	h.metrics.setQueueDepth(name, s.queue.Len())
	return nil
}

// initStream gives a new stream its queue and starts its worker. It runs
// under the registry lock.
func (h *Handler) initStream(s *stream) {
	s.queue = queue.New[item](h.Conf.MaxQueueSize)
	s.done = make(chan struct{})
	go h.runWorker(s)
}

// Flush blocks until every record queued before the call has been
// submitted. It does nothing once the handler is shutting down.
func (h *Handler) Flush() {
	_ = h.FlushContext(context.Background())
}

// FlushContext is Flush bounded by ctx. It returns ctx.Err() when ctx ends
// first; the flush itself still completes in the background.
func (h *Handler) FlushContext(ctx context.Context) error {
	h.admitMu.RLock()
	if h.shuttingDown {
		h.admitMu.RUnlock()
		return nil
	}
	pending := h.signal(signalFlush)
	h.admitMu.RUnlock()

	return wait(ctx, pending)
}

// Close flushes every stream, stops the workers and waits for them. Records
// admitted afterwards are dropped with a warning. Only the first call does
// anything.
func (h *Handler) Close() error {
	return h.CloseContext(context.Background())
}

// CloseContext is Close bounded by ctx. Workers keep draining in the
// background when ctx ends first.
func (h *Handler) CloseContext(ctx context.Context) error {
	var pending []barrier
	first := false
	h.closeOnce.Do(func() {
		first = true
		h.admitMu.Lock()
		h.shuttingDown = true
		h.admitMu.Unlock()
		pending = h.signal(signalEnd)
	})
	if !first {
		return nil
	}

	err := wait(ctx, pending)
	if err == nil {
		for _, b := range pending {
			<-b.stopped
		}
		h.Logger.Info("CloudWatch Logs handler closed", loggingpkg.LogFields{"streams": h.streams.len()})
	}
	return err
}

// Streams returns the names of the streams seen so far, sorted.
func (h *Handler) Streams() []string {
	snapshot := h.streams.snapshot()
	out := make([]string, len(snapshot))
	for i, s := range snapshot {
		out[i] = s.name
	}
	return out
}

// Metrics returns the handler's metrics, or nil when they are disabled.
func (h *Handler) Metrics() *Metrics {
	return h.metrics
}

// barrier is one queued control signal and the worker it was sent to.
type barrier struct {
	done    chan struct{}
	stopped chan struct{}
}

// signal queues a control signal on every stream with a worker.
func (h *Handler) signal(kind signalKind) []barrier {
	var out []barrier
	for _, s := range h.streams.snapshot() {
		if s.queue == nil {
			continue
		}
		done := make(chan struct{})
		s.queue.Force(item{signal: kind, done: done})
		out = append(out, barrier{done: done, stopped: s.done})
	}
	return out
}

func wait(ctx context.Context, pending []barrier) error {
	for _, b := range pending {
		select {
		case <-b.done:
		case <-b.stopped:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (h *Handler) warn(kind diagnostics.Kind, streamName, msg string, err error) {
	h.reporter.Warn(diagnostics.Warning{
		Kind:    kind,
		Stream:  streamName,
		Message: msg,
		Err:     err,
		Time:    time.Now(),
	})
}

// IsDropped reports whether err is a reason Emit gives for dropping a
// record.
func IsDropped(err error) bool {
	return errors.Is(err, errspkg.ErrEmptyMessage) ||
		errors.Is(err, errspkg.ErrShuttingDown) ||
		errors.Is(err, errspkg.ErrQueueFull)
}
