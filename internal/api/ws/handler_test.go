package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spandeck/spandeck/internal/domain/broadcast"
	"github.com/spandeck/spandeck/internal/domain/event"
)

func setupServer(t *testing.T) (*httptest.Server, *broadcast.Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := broadcast.NewHub(zap.NewNop(), nil, 0)
	h := NewHandler(hub, zap.NewNop(), nil)

	router := gin.New()
	router.GET("/stream", h.HandleViewer)
	router.GET("/ingest/stream", h.HandleSource)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, hub
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) event.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	ev, err := event.Decode(frame)
	require.NoError(t, err)
	return ev
}

func startEvent(spanID string) event.Event {
	return event.SpanStart{Span: event.SpanRecord{
		SpanID:  spanID,
		TraceID: "t1",
		Start:   100,
		Name:    "handler",
	}}
}

func TestViewerReceivesCatchUpThenLive(t *testing.T) {
	srv, hub := setupServer(t)
	hub.Publish(startEvent("old"))

	conn := dial(t, srv, "/stream")

	batch, ok := readEvent(t, conn).(event.CatchUp)
	require.True(t, ok, "first frame must be catch-up")
	require.Len(t, batch.Events, 1)
	assert.Equal(t, startEvent("old"), batch.Events[0])

	hub.Publish(startEvent("new"))
	assert.Equal(t, startEvent("new"), readEvent(t, conn))
}

func TestViewerPingPong(t *testing.T) {
	srv, _ := setupServer(t)
	conn := dial(t, srv, "/stream")
	readEvent(t, conn) // catch-up

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var reply struct {
		Type string `json:"type"`
	}
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "pong", reply.Type)
}

func TestViewerClearAll(t *testing.T) {
	srv, hub := setupServer(t)
	hub.Publish(startEvent("s1"))

	conn := dial(t, srv, "/stream")
	readEvent(t, conn) // catch-up

	frame, err := event.Encode(event.ClearAll{})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	// The clear fans back out to the viewer and empties the log.
	assert.Equal(t, event.ClearAll{}, readEvent(t, conn))
	assert.Eventually(t, func() bool { return hub.Size() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestViewerDataFramesIgnored(t *testing.T) {
	srv, hub := setupServer(t)
	conn := dial(t, srv, "/stream")
	readEvent(t, conn) // catch-up

	frame, err := event.Encode(startEvent("sneaky"))
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	// Viewers cannot feed the log.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, hub.Size())
}

func TestSourcePublishes(t *testing.T) {
	srv, hub := setupServer(t)
	conn := dial(t, srv, "/ingest/stream")

	for _, id := range []string{"s1", "s2"} {
		frame, err := event.Encode(startEvent(id))
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
	}

	require.Eventually(t, func() bool { return hub.Size() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, startEvent("s1"), hub.Events()[0])
	assert.Equal(t, startEvent("s2"), hub.Events()[1])
}

func TestSourceBatchFlattened(t *testing.T) {
	srv, hub := setupServer(t)
	conn := dial(t, srv, "/ingest/stream")

	frame, err := event.Encode(event.CatchUp{Events: []event.Event{
		startEvent("s1"),
		startEvent("s2"),
		startEvent("s3"),
	}})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	require.Eventually(t, func() bool { return hub.Size() == 3 }, 2*time.Second, 10*time.Millisecond)
	for _, ev := range hub.Events() {
		assert.Equal(t, event.KindSpanStart, ev.Kind())
	}
}

func TestSourceMalformedFrameSkipped(t *testing.T) {
	srv, hub := setupServer(t)
	conn := dial(t, srv, "/ingest/stream")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`garbage`)))
	frame, err := event.Encode(startEvent("s1"))
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	// The bad frame is dropped, the connection survives.
	require.Eventually(t, func() bool { return hub.Size() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestSourceClearAll(t *testing.T) {
	srv, hub := setupServer(t)
	hub.Publish(startEvent("s1"))

	conn := dial(t, srv, "/ingest/stream")
	frame, err := event.Encode(event.ClearAll{})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	require.Eventually(t, func() bool { return hub.Size() == 0 }, 2*time.Second, 10*time.Millisecond)
}
