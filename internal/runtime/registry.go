package runtime

import (
	"sort"
	"sync"

	"github.com/drblury/logtower/internal/runtime/queue"
)

// stream is the per-destination state: its queue, its ordering token and
// the lifetime of its worker.
type stream struct {
	name  string
	queue *queue.Queue[item]

	// sendMu serialises submissions and guards token. In queued mode only
	// the stream's worker submits; without queues every Emit does.
	sendMu sync.Mutex
	token  *string

	// done is closed when the worker returns. It is nil without queues.
	done chan struct{}
}

// registry owns every stream a handler has seen.
type registry struct {
	mu      sync.Mutex
	streams map[string]*stream
}

func newRegistry() *registry {
	return &registry{streams: make(map[string]*stream)}
}

// getOrCreate returns the stream called name. When the stream is new, init
// runs under the registry lock before any other caller can see it, which is
// what keeps concurrent first admissions from starting two workers.
func (r *registry) getOrCreate(name string, init func(*stream)) (*stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.streams[name]; ok {
		return s, false
	}
	s := &stream{name: name}
	if init != nil {
		init(s)
	}
	r.streams[name] = s
	return s, true
}

func (r *registry) get(name string) *stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streams[name]
}

// snapshot returns the streams sorted by name.
func (r *registry) snapshot() []*stream {
	r.mu.Lock()
	out := make([]*stream, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, s)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}
