package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZerkerEOD/krakenwifi/internal/events"
	"github.com/ZerkerEOD/krakenwifi/internal/models"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func waitForClients(t *testing.T, h *Handler, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.Clients() == n }, 3*time.Second, 10*time.Millisecond)
}

func TestPublishReachesSubscribers(t *testing.T) {
	h := NewHandler()
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()
	defer h.Close()

	all := dial(t, srv, "")
	one := dial(t, srv, "?job=job-2")
	waitForClients(t, h, 2)

	h.Publish(context.Background(), events.Event{Type: events.TypeState, JobID: "job-1", State: models.JobStateRunning})
	h.Publish(context.Background(), events.Event{Type: events.TypeState, JobID: "job-2", State: models.JobStateCracked})

	first := readEvent(t, all)
	assert.Equal(t, TypeEvent, first.Type)
	assert.Equal(t, "job-1", first.JobID)
	assert.Equal(t, "job-2", readEvent(t, all).JobID)

	filtered := readEvent(t, one)
	require.NotNil(t, filtered.Event)
	assert.Equal(t, "job-2", filtered.Event.JobID)
	assert.Equal(t, models.JobStateCracked, filtered.Event.State)
}

func TestSubscribeChangesFilter(t *testing.T) {
	h := NewHandler()
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()
	defer h.Close()

	conn := dial(t, srv, "?job=job-1")
	waitForClients(t, h, 1)

	require.NoError(t, conn.WriteJSON(Message{Type: TypeSubscribe, JobID: "job-9"}))
	require.NoError(t, conn.WriteJSON(Message{Type: TypeUnsubscribe, JobID: "job-1"}))
	// the write pump answers an unknown type, which also orders us after the two above
	require.NoError(t, conn.WriteJSON(Message{Type: "bogus"}))
	assert.Equal(t, TypeError, readEvent(t, conn).Type)

	h.Publish(context.Background(), events.Event{Type: events.TypeProgress, JobID: "job-1"})
	h.Publish(context.Background(), events.Event{Type: events.TypeProgress, JobID: "job-9"})
	assert.Equal(t, "job-9", readEvent(t, conn).JobID)
}

func TestRejectsForeignOrigin(t *testing.T) {
	h := NewHandler("http://localhost:3000")
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, h.Clients())
}
