package http

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/spandeck/spandeck/internal/domain/broadcast"
	"github.com/spandeck/spandeck/internal/domain/event"
	"github.com/spandeck/spandeck/internal/domain/layout"
	"github.com/spandeck/spandeck/internal/domain/tree"
	"github.com/spandeck/spandeck/internal/infrastructure/config"
	"github.com/spandeck/spandeck/internal/infrastructure/monitoring"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	hub     *broadcast.Hub
	cfg     *config.Config
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewHandlers creates a new handler set
func NewHandlers(hub *broadcast.Hub, cfg *config.Config, logger *zap.Logger, metrics *monitoring.Metrics) *Handlers {
	return &Handlers{
		hub:     hub,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "spandeck relay",
		"version": "0.3.0",
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"viewers": h.hub.ViewerCount(),
		"log":     h.hub.Size(),
	})
}

// Stats reports relay counters
func (h *Handlers) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"viewers":     h.hub.ViewerCount(),
		"log_entries": h.hub.Size(),
	})
}

// Ingest accepts a JSON array of event frames from sources that cannot
// hold a websocket open. Frames are published in array order.
func (h *Handlers) Ingest(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	events, err := event.DecodeBatch(body)
	if err != nil {
		if h.metrics != nil {
			h.metrics.EventsMalformed.Inc()
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	accepted := 0
	for _, ev := range events {
		switch ev.Kind() {
		case event.KindCatchUp, event.KindClearAll:
			h.logger.Warn("ignoring control frame in ingest batch", zap.String("kind", string(ev.Kind())))
		default:
			h.hub.Publish(ev)
			accepted++
		}
	}

	c.JSON(http.StatusAccepted, gin.H{"accepted": accepted})
}

// Clear discards the replay log.
func (h *Handlers) Clear(c *gin.Context) {
	h.hub.ClearAll()
	if h.metrics != nil {
		h.metrics.LogClears.Inc()
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

// Snapshot folds the current log through a fresh engine and returns the
// reconstructed forest. Viewers run the same reducer locally; this is a
// server-side convenience view of identical semantics.
//
// Query parameters: filter = empty|condensed|requests, q = substring.
func (h *Handlers) Snapshot(c *gin.Context) {
	snapshot, errMsg := h.buildSnapshot(c)
	if errMsg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errMsg})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"roots": snapshot,
	})
}

// Layout returns the row-packed timeline of the current snapshot.
func (h *Handlers) Layout(c *gin.Context) {
	snapshot, errMsg := h.buildSnapshot(c)
	if errMsg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errMsg})
		return
	}

	var intervals []layout.Interval
	var walk func(nodes []*tree.Node)
	walk = func(nodes []*tree.Node) {
		for _, n := range nodes {
			if iv, ok := nodeInterval(n); ok {
				intervals = append(intervals, iv)
			}
			walk(n.Children)
		}
	}
	walk(snapshot)

	placements := layout.Pack(intervals)
	c.JSON(http.StatusOK, gin.H{
		"rows":       layout.Rows(placements),
		"placements": placements,
	})
}

func (h *Handlers) buildSnapshot(c *gin.Context) ([]*tree.Node, string) {
	engine := tree.NewEngine(h.logger, tree.Options{
		PendingTTL: h.cfg.Engine.PendingTTL,
		PendingCap: h.cfg.Engine.PendingCap,
	})
	defer engine.Close()
	for _, ev := range h.hub.Events() {
		engine.Apply(ev)
	}

	t := engine.Tree()
	switch c.Query("filter") {
	case "":
	case "empty":
		t = tree.FilterEmpty(t)
	case "condensed":
		t = tree.CollapseIntermediate(t)
	case "requests":
		t = tree.RequestsOnly(t)
	default:
		return nil, "unknown filter"
	}
	if q := c.Query("q"); q != "" {
		t = tree.FilterBySubstring(t, q)
	}
	return tree.Roots(t), ""
}

// nodeInterval derives a timeline interval from a node: span start/end for
// server spans, request start to response end for exchanges.
func nodeInterval(n *tree.Node) (layout.Interval, bool) {
	if n.IsServerSpan && n.ServerSpan != nil && n.ServerSpan.Start != nil {
		end := n.ServerSpan.Start.End
		if n.ServerSpan.End != nil {
			end = n.ServerSpan.End.End
		}
		if end == 0 {
			end = n.ServerSpan.Start.Start
		}
		return layout.Interval{
			ID:    n.SpanID,
			Label: n.Label(),
			Start: n.ServerSpan.Start.Start,
			End:   end,
		}, true
	}
	if n.Request != nil {
		end := n.Request.Start
		if n.Response != nil {
			end = n.Response.End
		}
		return layout.Interval{
			ID:    n.Request.ID,
			Label: n.Request.URL,
			Start: n.Request.Start,
			End:   end,
		}, true
	}
	return layout.Interval{}, false
}
