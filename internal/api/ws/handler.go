// Package ws provides the websocket endpoints of the relay.
//
// Two connection roles exist. Viewers (devtools panels) connect to /stream
// and receive one catch-up frame followed by live events; they may send
// clear-all and ping control frames back. Sources (instrumentation agents)
// connect to /ingest/stream and push data frames in.
package ws

import (
	"net/http"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/spandeck/spandeck/internal/domain/broadcast"
	"github.com/spandeck/spandeck/internal/domain/event"
	"github.com/spandeck/spandeck/internal/infrastructure/monitoring"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // devtools panels connect from extension origins
	},
}

// Handler manages websocket connections for viewers and sources.
type Handler struct {
	hub     *broadcast.Hub
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewHandler creates a new websocket handler.
func NewHandler(hub *broadcast.Hub, logger *zap.Logger, metrics *monitoring.Metrics) *Handler {
	return &Handler{
		hub:     hub,
		logger:  logger,
		metrics: metrics,
	}
}

// conn serializes writes; gorilla connections allow one concurrent writer.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) writeFrame(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *conn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

// HandleViewer upgrades a viewer connection and streams the log to it:
// catch-up first, then live events in publish order.
func (h *Handler) HandleViewer(c *gin.Context) {
	socket, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	defer socket.Close()
	wc := &conn{ws: socket}

	viewer := h.hub.Subscribe()
	defer h.hub.Unsubscribe(viewer.ID)

	go func() {
		for ev := range viewer.Events {
			frame, err := event.Encode(ev)
			if err != nil {
				h.logger.Error("failed to encode event for viewer",
					zap.String("viewer", viewer.ID), zap.Error(err))
				continue
			}
			if err := wc.writeFrame(frame); err != nil {
				return
			}
		}
	}()

	for {
		_, frame, err := socket.ReadMessage()
		if err != nil {
			break
		}
		ev, err := event.Decode(frame)
		if err != nil {
			if isPing(frame) {
				_ = wc.writeJSON(gin.H{"type": "pong"})
				continue
			}
			h.logger.Warn("discarding undecodable viewer frame",
				zap.String("viewer", viewer.ID), zap.Error(err))
			continue
		}
		switch ev.Kind() {
		case event.KindClearAll:
			h.hub.ClearAll()
			if h.metrics != nil {
				h.metrics.LogClears.Inc()
			}
		default:
			// Viewers observe the log, they do not feed it.
			h.logger.Warn("ignoring non-control frame from viewer",
				zap.String("viewer", viewer.ID),
				zap.String("kind", string(ev.Kind())),
			)
		}
	}
}

// HandleSource upgrades a source connection and publishes its data frames.
func (h *Handler) HandleSource(c *gin.Context) {
	socket, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	defer socket.Close()

	if h.metrics != nil {
		h.metrics.SourcesActive.Inc()
		defer h.metrics.SourcesActive.Dec()
	}

	for {
		_, frame, err := socket.ReadMessage()
		if err != nil {
			break
		}
		ev, err := event.Decode(frame)
		if err != nil {
			if h.metrics != nil {
				h.metrics.EventsMalformed.Inc()
			}
			h.logger.Warn("discarding undecodable source frame", zap.Error(err))
			continue
		}
		h.publish(ev)
	}
}

func isPing(frame []byte) bool {
	var probe struct {
		Type string `json:"type"`
	}
	if err := sonic.Unmarshal(frame, &probe); err != nil {
		return false
	}
	return probe.Type == "ping"
}

func (h *Handler) publish(ev event.Event) {
	switch v := ev.(type) {
	case event.CatchUp:
		// Sources may batch; each inner event is logged individually so
		// catch-up replay stays flat.
		for _, inner := range v.Events {
			h.publish(inner)
		}
	case event.ClearAll:
		h.hub.ClearAll()
		if h.metrics != nil {
			h.metrics.LogClears.Inc()
		}
	default:
		h.hub.Publish(ev)
	}
}
