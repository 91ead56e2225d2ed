package progress

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quel-tryon-server/modules/common/telemetry"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/tryon?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func next(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m Message
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func TestSubscriberReceivesBacklogThenLiveEvents(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()
	defer hub.Close()

	events := telemetry.NewScoped(hub, "job-1", "analysis")
	events.Event("analysis_started", nil)

	conn := dial(t, srv, "job=job-1&client=c1")

	first := next(t, conn)
	assert.Equal(t, "event", first.Type)
	assert.Equal(t, "job-1", first.JobID)
	require.NotNil(t, first.Event)
	assert.Equal(t, "analysis_started", first.Event.Name)

	events.Stage("pipeline").Event("pipeline_completed", map[string]interface{}{"attempts": 1})
	last := next(t, conn)
	assert.Equal(t, "pipeline_completed", last.Event.Name)
	assert.True(t, last.Done)
	assert.Equal(t, "pipeline", last.Event.Stage)
}

func TestEventsAreScopedToTheirJob(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()
	defer hub.Close()

	hub.Emit(telemetry.Event{RequestID: "other", Name: "synthesis_started"})
	hub.Emit(telemetry.Event{RequestID: "mine", Name: "verify_started"})

	conn := dial(t, srv, "job=mine")
	m := next(t, conn)
	assert.Equal(t, "mine", m.JobID)
	assert.Equal(t, "verify_started", m.Event.Name)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestServeWSRequiresJob(t *testing.T) {
	hub := NewHub(nil)
	rec := httptest.NewRecorder()
	hub.ServeWS(rec, httptest.NewRequest(http.MethodGet, "/ws/tryon", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventsWithoutRequestIDAreDropped(t *testing.T) {
	hub := NewHub(nil)
	hub.Emit(telemetry.Event{Name: "orphan"})
	assert.Empty(t, hub.Sessions())
}

func TestCleanup(t *testing.T) {
	hub := NewHub(nil)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	hub.now = func() time.Time { return clock }

	hub.Emit(telemetry.Event{RequestID: "finished", Name: "pipeline_failed"})
	hub.Emit(telemetry.Event{RequestID: "running", Name: "synthesis_started"})
	require.Len(t, hub.Sessions(), 2)

	assert.Equal(t, 1, hub.CleanupEmpty())
	sessions := hub.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "running", sessions[0].JobID)

	clock = clock.Add(3 * time.Hour)
	assert.Equal(t, 1, hub.CleanupExpired())
	assert.Empty(t, hub.Sessions())

	m := hub.Snapshot()
	assert.Equal(t, 2, m.TotalSessions)
	assert.Equal(t, 0, m.ActiveSessions)
}

func TestQueuedJobEndsOnJobEvent(t *testing.T) {
	hub := NewHub(nil)
	hub.Emit(telemetry.Event{RequestID: "job", Name: "job_queued"})
	hub.Emit(telemetry.Event{RequestID: "job", Name: "pipeline_completed"})
	assert.Equal(t, 0, hub.CleanupEmpty())

	hub.Emit(telemetry.Event{RequestID: "job", Name: "job_completed"})
	assert.Equal(t, 1, hub.CleanupEmpty())
}

func TestBacklogIsBounded(t *testing.T) {
	hub := NewHub(nil)
	for i := 0; i < backlogLimit+10; i++ {
		hub.Emit(telemetry.Event{RequestID: "j", Name: "tick"})
	}
	sessions := hub.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, backlogLimit, sessions[0].Events)
}

func TestMetricsHandler(t *testing.T) {
	hub := NewHub(nil)
	hub.Emit(telemetry.Event{RequestID: "j", Name: "tick"})

	rec := httptest.NewRecorder()
	hub.MetricsHandler(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Server   map[string]interface{} `json:"server"`
		Sessions []SessionInfo          `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body.Server["activeSessions"])
	require.Len(t, body.Sessions, 1)
	assert.Equal(t, "j", body.Sessions[0].JobID)
}
