package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convhub/convhub/job"
)

func dialWS(t *testing.T, ts *httptest.Server, userID string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{}
	if userID != "" {
		header.Set("X-User-ID", userID)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readOutbound(t *testing.T, conn *websocket.Conn) outboundMessage {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg outboundMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func TestWatchJobReceivesSnapshotAndPushes(t *testing.T) {
	s, ts := newTestServer(t)

	j := createJobViaAPI(t, ts, "lister-1")

	conn := dialWS(t, ts, "observer-1")
	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "watch_job", JobID: j.ID}))

	// Immediate snapshot of current state
	snapshot := readOutbound(t, conn)
	assert.Equal(t, "applicants_update", snapshot.Type)
	assert.Equal(t, j.ID, snapshot.JobID)
	assert.Empty(t, snapshot.Applicants)

	// A confirmed write pushes the refreshed record
	_, err := s.workflow.Apply(context.Background(), j.ID, "worker-1")
	require.NoError(t, err)

	update := readOutbound(t, conn)
	assert.Equal(t, "applicants_update", update.Type)
	require.Len(t, update.Applicants, 1)
	assert.Equal(t, "worker-1", update.Applicants[0].UserID)
	assert.Equal(t, string(job.ApplicantPending), update.Applicants[0].Status)
}

func TestWatchUnknownJobReturnsError(t *testing.T) {
	_, ts := newTestServer(t)

	conn := dialWS(t, ts, "observer-1")
	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "watch_job", JobID: "no-such-job"}))

	msg := readOutbound(t, conn)
	assert.Equal(t, "error", msg.Type)
}

func TestUnwatchStopsDelivery(t *testing.T) {
	s, ts := newTestServer(t)

	j := createJobViaAPI(t, ts, "lister-1")

	conn := dialWS(t, ts, "observer-1")
	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "watch_job", JobID: j.ID}))
	readOutbound(t, conn) // snapshot

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "unwatch_job", JobID: j.ID}))

	// Give the unwatch time to land before writing
	time.Sleep(50 * time.Millisecond)

	_, err := s.workflow.Apply(context.Background(), j.ID, "worker-1")
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "no update should arrive after unwatch")
}

func TestDisconnectAfterShutdownDoesNotBlock(t *testing.T) {
	s, _ := newTestServer(t)

	client := newClient(nil, "observer-1", s)
	s.cancel()
	s.wg.Wait()

	done := make(chan struct{})
	go func() {
		client.notifyDisconnect()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disconnect notification blocked after shutdown")
	}
}

func TestPingPong(t *testing.T) {
	_, ts := newTestServer(t)

	conn := dialWS(t, ts, "observer-1")
	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "ping"}))

	msg := readOutbound(t, conn)
	assert.Equal(t, "pong", msg.Type)
}

func TestUnknownMessageTypeReturnsError(t *testing.T) {
	_, ts := newTestServer(t)

	conn := dialWS(t, ts, "observer-1")
	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "subscribe_all"}))

	msg := readOutbound(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, msg.Message, "unknown message type")
}
