package runtime

import (
	"fmt"
	"time"

	"github.com/drblury/logtower/internal/runtime/diagnostics"
	"github.com/drblury/logtower/internal/runtime/ids"
)

// runWorker assembles batches for s until it reads an end signal. A batch is
// submitted when the next event would overflow it, when its deadline passes
// or when a control signal arrives.
func (h *Handler) runWorker(s *stream) {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			h.warn(diagnostics.KindInternal, s.name, "Log stream worker stopped", fmt.Errorf("panic: %v", r))
		}
	}()

	var b batch
	deadline := time.Now().Add(h.Conf.SendInterval)
	submit := func() {
		if len(b.events) > 0 {
			h.delivery.submit(h.ctx, s, b.events, newBatchID())
		}
		b.reset()
		deadline = time.Now().Add(h.Conf.SendInterval)
	}

	for {
		it, ok := s.queue.Get(time.Until(deadline))
		h.metrics.setQueueDepth(s.name, s.queue.Len())
		if !ok {
			submit()
			continue
		}

		switch it.signal {
		case signalFlush:
			submit()
			close(it.done)
			continue
		case signalEnd:
			submit()
			close(it.done)
			h.release(s)
			return
		}

		e := h.prepare(s.name, it.event)
		if !b.fits(e, h.Conf.MaxBatchSize, h.Conf.MaxBatchCount) || !time.Now().Before(deadline) {
			submit()
		}
		b.add(e)
	}
}

// prepare truncates an event to the maximum message size, reporting it when
// anything was cut.
func (h *Handler) prepare(streamName string, e event) event {
	e, cut := truncate(e, h.Conf.MaxMessageSize)
	if cut {
		h.metrics.recordTruncated(streamName)
		h.warn(diagnostics.KindTruncated, streamName,
			fmt.Sprintf("Log message truncated to %d bytes", h.Conf.MaxMessageSize), nil)
	}
	return e
}

// release unblocks anyone still waiting on items queued behind an end
// signal. Admission stops before the end signal is queued, so this only
// finds control signals.
func (h *Handler) release(s *stream) {
	for {
		it, ok := s.queue.Get(0)
		if !ok {
			return
		}
		if it.done != nil {
			close(it.done)
		}
	}
}

func newBatchID() string {
	return ids.NewBatchID()
}
