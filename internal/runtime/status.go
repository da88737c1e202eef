package runtime

import (
	"net/http"

	"github.com/drblury/logtower/internal/runtime/jsoncodec"
)

// Status is the JSON document served by StatusHandler.
type Status struct {
	LogGroup     string           `json:"log_group"`
	ShuttingDown bool             `json:"shutting_down"`
	Streams      []StreamStatus   `json:"streams"`
	Metrics      *MetricsSnapshot `json:"metrics,omitempty"`
}

// StreamStatus describes one stream known to the handler.
type StreamStatus struct {
	Name       string `json:"name"`
	QueueDepth int    `json:"queue_depth"`
	Running    bool   `json:"running"`
}

// Status reports the handler's streams and, when enabled, its metrics.
func (h *Handler) Status() Status {
	h.admitMu.RLock()
	shuttingDown := h.shuttingDown
	h.admitMu.RUnlock()

	st := Status{
		LogGroup:     h.Conf.LogGroupName,
		ShuttingDown: shuttingDown,
		Streams:      []StreamStatus{},
	}
	for _, s := range h.streams.snapshot() {
		ss := StreamStatus{Name: s.name}
		if s.queue != nil {
			ss.QueueDepth = s.queue.Len()
			select {
			case <-s.done:
			default:
				ss.Running = true
			}
		}
		st.Streams = append(st.Streams, ss)
	}
	if h.metrics != nil {
		snapshot := h.metrics.Snapshot()
		st.Metrics = &snapshot
	}
	return st
}

// StatusHandler serves Status as JSON.
func (h *Handler) StatusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := jsoncodec.Encode(w, h.Status()); err != nil {
			h.Logger.Error("Failed to encode status", err, nil)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	})
}
