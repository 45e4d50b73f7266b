// Package broadcast relays the canonical event log to connected viewers.
//
// The hub owns the ordered log of data events and fans live events out to
// every subscriber. A new subscriber receives one catch-up batch of the full
// log before any live event, so each viewer can rebuild its local tree from
// scratch. The hub never runs the reconstruction engine itself.
package broadcast

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v2"
	"github.com/tilinna/clock"
	"go.uber.org/zap"

	"github.com/spandeck/spandeck/internal/domain/event"
	"github.com/spandeck/spandeck/internal/infrastructure/monitoring"
)

// DefaultViewerBuffer is the per-viewer channel depth before a viewer is
// considered too slow and dropped.
const DefaultViewerBuffer = 256

// Entry is one logged event with its relay-side receive time.
type Entry struct {
	Event      event.Event
	ReceivedAt time.Time
}

// Viewer is one subscribed connection. Events arrives in publish order,
// starting with a catch-up batch of the log at subscribe time.
type Viewer struct {
	ID     string
	Events <-chan event.Event

	ch        chan event.Event
	closeOnce sync.Once
}

func (v *Viewer) close() {
	v.closeOnce.Do(func() { close(v.ch) })
}

// Hub fans the event log out to viewers.
type Hub struct {
	logger  *zap.Logger
	clk     clock.Clock
	buffer  int
	metrics *monitoring.Metrics

	mu      sync.Mutex // guards log and publish ordering
	log     []Entry
	viewers *xsync.MapOf[string, *Viewer]
}

// NewHub creates a hub. A nil clock falls back to real time; buffer <= 0
// uses DefaultViewerBuffer.
func NewHub(logger *zap.Logger, clk clock.Clock, buffer int) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Realtime()
	}
	if buffer <= 0 {
		buffer = DefaultViewerBuffer
	}
	return &Hub{
		logger:  logger,
		clk:     clk,
		buffer:  buffer,
		viewers: xsync.NewMapOf[*Viewer](),
	}
}

// WithMetrics adds metrics tracking to the hub.
func (h *Hub) WithMetrics(m *monitoring.Metrics) *Hub {
	h.metrics = m
	return h
}

// Subscribe registers a viewer. The catch-up batch is enqueued before the
// viewer can observe any live event, under the same lock that orders
// publishes, so no event is missed or duplicated across the boundary.
func (h *Hub) Subscribe() *Viewer {
	v := &Viewer{
		ID: uuid.New().String(),
		ch: make(chan event.Event, h.buffer),
	}
	v.Events = v.ch

	h.mu.Lock()
	replay := make([]event.Event, len(h.log))
	for i, entry := range h.log {
		replay[i] = entry.Event
	}
	v.ch <- event.CatchUp{Events: replay}
	h.viewers.Store(v.ID, v)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.ViewersActive.Inc()
	}
	h.logger.Info("viewer subscribed",
		zap.String("viewer", v.ID),
		zap.Int("replayed", len(replay)),
	)
	return v
}

// Unsubscribe removes a viewer and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	if v, ok := h.viewers.LoadAndDelete(id); ok {
		v.close()
		if h.metrics != nil {
			h.metrics.ViewersActive.Dec()
		}
		h.logger.Info("viewer unsubscribed", zap.String("viewer", id))
	}
}

// Publish appends a data event to the log and forwards it to every viewer
// in arrival order. Control events are not publishable; clear-all has its
// own entry point and catch-up batches are unwrapped by the caller.
func (h *Hub) Publish(ev event.Event) {
	switch ev.Kind() {
	case event.KindCatchUp, event.KindClearAll:
		h.logger.Warn("refusing to publish control event", zap.String("kind", string(ev.Kind())))
		return
	}

	h.mu.Lock()
	h.log = append(h.log, Entry{Event: ev, ReceivedAt: h.clk.Now()})
	size := len(h.log)
	h.fanOut(ev)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.EventsIngested.WithLabelValues(string(ev.Kind())).Inc()
		h.metrics.LogEntries.Set(float64(size))
	}
}

// ClearAll discards the replay log and tells every viewer to drop its tree.
func (h *Hub) ClearAll() {
	h.mu.Lock()
	h.log = nil
	h.fanOut(event.ClearAll{})
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.LogEntries.Set(0)
	}
	h.logger.Info("event log cleared")
}

// fanOut delivers to every viewer without blocking; a viewer whose buffer
// is full is dropped rather than allowed to stall the relay. Must hold mu.
func (h *Hub) fanOut(ev event.Event) {
	var dropped []string
	h.viewers.Range(func(id string, v *Viewer) bool {
		select {
		case v.ch <- ev:
		default:
			dropped = append(dropped, id)
		}
		return true
	})
	for _, id := range dropped {
		if v, ok := h.viewers.LoadAndDelete(id); ok {
			v.close()
			if h.metrics != nil {
				h.metrics.ViewersActive.Dec()
				h.metrics.ViewerDrops.Inc()
			}
			h.logger.Warn("dropped slow viewer", zap.String("viewer", id))
		}
	}
}

// Log returns a copy of the canonical log.
func (h *Hub) Log() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Entry, len(h.log))
	copy(out, h.log)
	return out
}

// Events returns the logged events in order, without receive times.
func (h *Hub) Events() []event.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]event.Event, len(h.log))
	for i, entry := range h.log {
		out[i] = entry.Event
	}
	return out
}

// Size reports the current log length.
func (h *Hub) Size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.log)
}

// ViewerCount reports how many viewers are subscribed.
func (h *Hub) ViewerCount() int {
	return h.viewers.Size()
}
