package logtower

import (
	runtimepkg "github.com/drblury/logtower/internal/runtime"
	configpkg "github.com/drblury/logtower/internal/runtime/config"
	"github.com/drblury/logtower/internal/runtime/cwlogs"
	"github.com/drblury/logtower/internal/runtime/diagnostics"
	errspkg "github.com/drblury/logtower/internal/runtime/errors"
	loggingpkg "github.com/drblury/logtower/internal/runtime/logging"
	"github.com/drblury/logtower/internal/runtime/streamname"
	transportpkg "github.com/drblury/logtower/internal/runtime/transport"
)

type (
	Config              = configpkg.Config
	Handler             = runtimepkg.Handler
	HandlerDependencies = runtimepkg.HandlerDependencies
	Record              = runtimepkg.Record
	Environment         = streamname.Environment

	SlogHandler        = runtimepkg.SlogHandler
	SlogHandlerOptions = runtimepkg.SlogHandlerOptions

	CloudWatchLogsAPI = cwlogs.API
	ClientFactory     = transportpkg.Factory
	ClientFactoryFunc = transportpkg.FactoryFunc

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConfigValidationError = errspkg.ConfigValidationError

	// Diagnostics
	Warning         = diagnostics.Warning
	WarningKind     = diagnostics.Kind
	Reporter        = diagnostics.Reporter
	ReporterFunc    = diagnostics.ReporterFunc
	LoggingReporter = diagnostics.LoggingReporter
	WarningRecorder = diagnostics.Recorder

	// Batch lifecycle hooks
	BatchContext  = runtimepkg.BatchContext
	DeliveryHooks = runtimepkg.DeliveryHooks

	// Metrics and status
	Metrics         = runtimepkg.Metrics
	StreamMetrics   = runtimepkg.StreamMetrics
	MetricsSnapshot = runtimepkg.MetricsSnapshot
	Status          = runtimepkg.Status
	StreamStatus    = runtimepkg.StreamStatus
)

var (
	NewHandler     = runtimepkg.NewHandler
	TryNewHandler  = runtimepkg.TryNewHandler
	NewSlogHandler = runtimepkg.NewSlogHandler
	IsDropped      = runtimepkg.IsDropped

	ValidateConfig = configpkg.ValidateConfig
	LoadConfig     = configpkg.LoadFile
	ParseConfig    = configpkg.Parse

	DefaultClientFactory = transportpkg.DefaultFactory
	StaticClient         = transportpkg.Static

	// Batch lifecycle hooks
	LoggingHooks  = runtimepkg.LoggingHooks
	MetricsHooks  = runtimepkg.MetricsHooks
	AlertingHooks = runtimepkg.AlertingHooks

	NewMetrics = runtimepkg.NewMetrics

	MultiReporter = diagnostics.Multi

	ErrConfigRequired   = errspkg.ErrConfigRequired
	ErrLoggerRequired   = errspkg.ErrLoggerRequired
	ErrClientRequired   = errspkg.ErrClientRequired
	ErrEmptyMessage     = errspkg.ErrEmptyMessage
	ErrShuttingDown     = errspkg.ErrShuttingDown
	ErrQueueFull        = errspkg.ErrQueueFull
	ErrRetriesExhausted = errspkg.ErrRetriesExhausted
	ErrEventsRejected   = errspkg.ErrEventsRejected

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewNopServiceLogger       = loggingpkg.NewNopServiceLogger
)

// Warning kinds reported through Reporter.
const (
	WarningEmptyMessage   = diagnostics.KindEmptyMessage
	WarningAfterShutdown  = diagnostics.KindAfterShutdown
	WarningTruncated      = diagnostics.KindTruncated
	WarningDeliveryRetry  = diagnostics.KindDeliveryRetry
	WarningDeliveryFailed = diagnostics.KindDeliveryFailed
	WarningRejected       = diagnostics.KindRejected
	WarningQueueFull      = diagnostics.KindQueueFull
	WarningInternal       = diagnostics.KindInternal
)

// Defaults applied to zero Config fields.
const (
	DefaultLogGroupName   = configpkg.DefaultLogGroupName
	DefaultLogStreamName  = configpkg.DefaultLogStreamName
	DefaultSendInterval   = configpkg.DefaultSendInterval
	DefaultMaxBatchSize   = configpkg.DefaultMaxBatchSize
	DefaultMaxBatchCount  = configpkg.DefaultMaxBatchCount
	DefaultMaxMessageSize = configpkg.DefaultMaxMessageSize
	DefaultMaxRetries     = configpkg.DefaultMaxRetries
)
