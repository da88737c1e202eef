// Package diagnostics carries the handler's non-fatal warnings. Warnings are
// never routed through the shipping pipeline itself.
package diagnostics

import (
	"fmt"
	"sync"
	"time"

	"github.com/drblury/logtower/internal/runtime/logging"
)

// Kind classifies a Warning.
type Kind string

const (
	KindEmptyMessage   Kind = "empty_message"
	KindAfterShutdown  Kind = "after_shutdown"
	KindTruncated      Kind = "truncated"
	KindDeliveryRetry  Kind = "delivery_retry"
	KindDeliveryFailed Kind = "delivery_failed"
	KindRejected       Kind = "rejected"
	KindQueueFull      Kind = "queue_full"
	KindInternal       Kind = "internal"
)

// FieldKind is the log field LoggingReporter stores the warning kind under.
// Log sinks that feed the handler use it to recognise its own diagnostics.
const FieldKind = "warning"

// Warning describes a record or batch the handler could not treat normally.
type Warning struct {
	Kind    Kind
	Stream  string
	Message string
	Err     error
	Time    time.Time
}

func (w Warning) String() string {
	if w.Err != nil {
		return fmt.Sprintf("%s: %s: %v", w.Kind, w.Message, w.Err)
	}
	return fmt.Sprintf("%s: %s", w.Kind, w.Message)
}

// Reporter receives warnings. Implementations must be safe for concurrent
// use; every stream worker reports from its own goroutine.
type Reporter interface {
	Warn(w Warning)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Warning)

func (f ReporterFunc) Warn(w Warning) { f(w) }

// LoggingReporter writes warnings to a ServiceLogger.
type LoggingReporter struct {
	Logger logging.ServiceLogger
}

func (r LoggingReporter) Warn(w Warning) {
	if r.Logger == nil {
		return
	}
	fields := logging.LogFields{FieldKind: string(w.Kind)}
	if w.Stream != "" {
		fields["stream"] = w.Stream
	}
	r.Logger.Error(w.Message, w.Err, fields)
}

// Multi fans a warning out to every non-nil reporter.
func Multi(reporters ...Reporter) Reporter {
	var out []Reporter
	for _, r := range reporters {
		if r != nil {
			out = append(out, r)
		}
	}
	return ReporterFunc(func(w Warning) {
		for _, r := range out {
			r.Warn(w)
		}
	})
}

// Recorder keeps every warning it receives.
type Recorder struct {
	mu       sync.Mutex
	warnings []Warning
}

func (r *Recorder) Warn(w Warning) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, w)
}

// Warnings returns a copy of the recorded warnings.
func (r *Recorder) Warnings() []Warning {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Warning, len(r.warnings))
	copy(out, r.warnings)
	return out
}

// OfKind returns the recorded warnings of kind k.
func (r *Recorder) OfKind(k Kind) []Warning {
	var out []Warning
	for _, w := range r.Warnings() {
		if w.Kind == k {
			out = append(out, w)
		}
	}
	return out
}
