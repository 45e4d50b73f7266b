package http

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spandeck/spandeck/internal/domain/broadcast"
	"github.com/spandeck/spandeck/internal/domain/event"
	"github.com/spandeck/spandeck/internal/infrastructure/config"
)

func setupRouter(t *testing.T) (*gin.Engine, *broadcast.Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := broadcast.NewHub(zap.NewNop(), nil, 0)
	h := NewHandlers(hub, config.Default(), zap.NewNop(), nil)

	router := gin.New()
	router.GET("/", h.Root)
	router.GET("/health", h.Health)
	router.GET("/stats", h.Stats)
	router.POST("/ingest", h.Ingest)
	router.POST("/clear", h.Clear)
	router.GET("/snapshot", h.Snapshot)
	router.GET("/layout", h.Layout)
	router.GET("/log/export", h.ExportLog)
	return router, hub
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body []byte) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var parsed map[string]any
	if len(w.Body.Bytes()) > 0 && w.Header().Get("Content-Encoding") == "" {
		require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &parsed))
	}
	return w, parsed
}

// traceBatch is one complete three-level trace in wire form.
var traceBatch = []byte(`[
	{"type":"span-start","data":{"spanId":"r","traceId":"t1","start":100,"id":"root handler"}},
	{"type":"span-start","data":{"spanId":"m","traceId":"t1","parentSpan":{"spanId":"r","traceId":"t1"},"start":110,"id":"middle"}},
	{"type":"request","data":{"id":"req1","spanId":"m","method":"GET","url":"https://api.x/orders","start":120}},
	{"type":"response","data":{"id":"req1","spanId":"m","status":200,"end":150}},
	{"type":"span-end","data":{"spanId":"m","traceId":"t1","end":160}},
	{"type":"span-end","data":{"spanId":"r","traceId":"t1","end":170}}
]`)

func TestRootAndHealth(t *testing.T) {
	router, _ := setupRouter(t)

	w, body := doJSON(t, router, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "spandeck relay", body["service"])

	w, body = doJSON(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(0), body["log"])
}

func TestIngest(t *testing.T) {
	t.Run("accepts data frames", func(t *testing.T) {
		router, hub := setupRouter(t)

		w, body := doJSON(t, router, http.MethodPost, "/ingest", traceBatch)
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, float64(6), body["accepted"])
		assert.Equal(t, 6, hub.Size())
	})

	t.Run("skips control frames", func(t *testing.T) {
		router, hub := setupRouter(t)
		batch := []byte(`[
			{"type":"clear-all"},
			{"type":"span-start","data":{"spanId":"s1","traceId":"t1","start":1}}
		]`)

		w, body := doJSON(t, router, http.MethodPost, "/ingest", batch)
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, float64(1), body["accepted"])
		assert.Equal(t, 1, hub.Size())
	})

	t.Run("rejects malformed batch", func(t *testing.T) {
		router, hub := setupRouter(t)

		w, _ := doJSON(t, router, http.MethodPost, "/ingest", []byte(`{"not":"an array"}`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, 0, hub.Size())
	})

	t.Run("rejects unknown frame type", func(t *testing.T) {
		router, _ := setupRouter(t)

		w, body := doJSON(t, router, http.MethodPost, "/ingest", []byte(`[{"type":"bogus","data":{}}]`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, body["error"], "bogus")
	})
}

func TestClear(t *testing.T) {
	router, hub := setupRouter(t)
	doJSON(t, router, http.MethodPost, "/ingest", traceBatch)
	require.Equal(t, 6, hub.Size())

	w, body := doJSON(t, router, http.MethodPost, "/clear", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["cleared"])
	assert.Equal(t, 0, hub.Size())
}

type snapshotResponse struct {
	Roots []struct {
		SpanID     string `json:"spanId"`
		ServerSpan *struct {
			IsActive bool `json:"isActive"`
		} `json:"serverSpan"`
		Request *struct {
			URL string `json:"url"`
		} `json:"request"`
		Children []struct {
			SpanID string `json:"spanId"`
		} `json:"children"`
	} `json:"roots"`
}

func getSnapshot(t *testing.T, router *gin.Engine, path string) (*httptest.ResponseRecorder, snapshotResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var parsed snapshotResponse
	if w.Code == http.StatusOK {
		require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &parsed))
	}
	return w, parsed
}

func TestSnapshot(t *testing.T) {
	t.Run("reconstructs the forest", func(t *testing.T) {
		router, _ := setupRouter(t)
		doJSON(t, router, http.MethodPost, "/ingest", traceBatch)

		w, snap := getSnapshot(t, router, "/snapshot")
		require.Equal(t, http.StatusOK, w.Code)
		require.Len(t, snap.Roots, 1)
		root := snap.Roots[0]
		assert.Equal(t, "r", root.SpanID)
		require.NotNil(t, root.ServerSpan)
		assert.False(t, root.ServerSpan.IsActive)
		require.Len(t, root.Children, 1)
		assert.Equal(t, "m", root.Children[0].SpanID)
	})

	t.Run("requests filter", func(t *testing.T) {
		router, _ := setupRouter(t)
		doJSON(t, router, http.MethodPost, "/ingest", traceBatch)

		w, snap := getSnapshot(t, router, "/snapshot?filter=requests")
		require.Equal(t, http.StatusOK, w.Code)
		require.Len(t, snap.Roots, 1)
		require.NotNil(t, snap.Roots[0].Request)
		assert.Equal(t, "https://api.x/orders", snap.Roots[0].Request.URL)
	})

	t.Run("substring filter with no match", func(t *testing.T) {
		router, _ := setupRouter(t)
		doJSON(t, router, http.MethodPost, "/ingest", traceBatch)

		w, snap := getSnapshot(t, router, "/snapshot?q=nomatch")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, snap.Roots)
	})

	t.Run("unknown filter", func(t *testing.T) {
		router, _ := setupRouter(t)

		w, _ := getSnapshot(t, router, "/snapshot?filter=wat")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestLayout(t *testing.T) {
	router, _ := setupRouter(t)
	doJSON(t, router, http.MethodPost, "/ingest", traceBatch)

	w, body := doJSON(t, router, http.MethodGet, "/layout", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// r [100,170), m [110,160) and req1 [120,150) all overlap at t=130,
	// so three rows.
	assert.Equal(t, float64(3), body["rows"])
	placements, ok := body["placements"].([]any)
	require.True(t, ok)
	assert.Len(t, placements, 3)
}

func TestExportLog(t *testing.T) {
	router, _ := setupRouter(t)
	doJSON(t, router, http.MethodPost, "/ingest", traceBatch)

	req := httptest.NewRequest(http.MethodGet, "/log/export", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "spandeck-log.json.gz")

	zr, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	defer zr.Close()

	var entries []struct {
		ReceivedAt int64      `json:"receivedAt"`
		Type       event.Kind `json:"type"`
	}
	require.NoError(t, sonic.ConfigDefault.NewDecoder(zr).Decode(&entries))
	require.Len(t, entries, 6)
	assert.Equal(t, event.KindSpanStart, entries[0].Type)
	assert.Equal(t, event.KindSpanEnd, entries[5].Type)
}
