package runtime

import (
	"time"

	"github.com/drblury/logtower/internal/runtime/config"
)

// Record is one log record handed to the handler by application code.
type Record struct {
	// Time is when the record was produced. The zero value means now.
	Time time.Time
	// Source names the producer, typically a logger name. It feeds the
	// {logger_name} placeholder of the stream name template.
	Source string
	// Message is the rendered record text.
	Message string
	// Payload, when Message is empty, is serialized as JSON and used as
	// the message instead.
	Payload any
}

// event is a record reduced to what PutLogEvents needs.
type event struct {
	timestamp int64
	message   string
}

func (e event) size() int {
	return len(e.message) + config.EventOverhead
}

type signalKind int

const (
	signalNone signalKind = iota
	signalFlush
	signalEnd
)

// item is one entry of a stream queue: either an event or a control signal.
// done is closed once the worker has submitted everything queued before the
// signal.
type item struct {
	event  event
	signal signalKind
	done   chan struct{}
}

// truncate cuts an event down so that its size fits maxMessageSize. The
// second result reports whether anything was cut.
func truncate(e event, maxMessageSize int) (event, bool) {
	if e.size() <= maxMessageSize {
		return e, false
	}
	e.message = e.message[:maxMessageSize-config.EventOverhead]
	return e, true
}

// batch accumulates events for one submission.
type batch struct {
	events []event
	bytes  int
}

func (b *batch) add(e event) {
	b.events = append(b.events, e)
	b.bytes += e.size()
}

func (b *batch) fits(e event, maxBytes, maxCount int) bool {
	return b.bytes+e.size() <= maxBytes && len(b.events) < maxCount
}

func (b *batch) reset() {
	b.events = nil
	b.bytes = 0
}
