package http

import (
	"encoding/json"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/spandeck/spandeck/internal/domain/event"
)

// exportEntry is the serialized form of one logged event.
type exportEntry struct {
	ReceivedAt int64           `json:"receivedAt"`
	Type       event.Kind      `json:"type"`
	Frame      json.RawMessage `json:"frame"`
}

// ExportLog streams the canonical log as gzip-compressed JSON. Replay logs
// for long sessions run to megabytes of span payloads, so the export is
// always compressed.
func (h *Handlers) ExportLog(c *gin.Context) {
	entries := h.hub.Log()

	out := make([]exportEntry, 0, len(entries))
	for _, entry := range entries {
		frame, err := event.Encode(entry.Event)
		if err != nil {
			h.logger.Error("failed to encode log entry for export", zap.Error(err))
			continue
		}
		out = append(out, exportEntry{
			ReceivedAt: entry.ReceivedAt.UnixMilli(),
			Type:       entry.Event.Kind(),
			Frame:      frame,
		})
	}

	payload, err := sonic.Marshal(out)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to serialize log"})
		return
	}

	c.Header("Content-Type", "application/json")
	c.Header("Content-Encoding", "gzip")
	c.Header("Content-Disposition", `attachment; filename="spandeck-log.json.gz"`)
	c.Status(http.StatusOK)

	zw := gzip.NewWriter(c.Writer)
	if _, err := zw.Write(payload); err != nil {
		h.logger.Error("failed to write log export", zap.Error(err))
	}
	if err := zw.Close(); err != nil {
		h.logger.Error("failed to flush log export", zap.Error(err))
	}
}
