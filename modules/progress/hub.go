// Package progress streams pipeline telemetry to websocket subscribers,
// one session per try-on job.
package progress

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quel-tryon-server/modules/common/logger"
	"quel-tryon-server/modules/common/telemetry"
)

const (
	sendBuffer     = 256
	backlogLimit   = 128
	writeWait      = 10 * time.Second
	emptyInterval  = 5 * time.Minute
	expiryInterval = 30 * time.Minute
)

// Message is what a subscriber receives.
type Message struct {
	Type  string           `json:"type"`
	JobID string           `json:"jobId"`
	Event *telemetry.Event `json:"event,omitempty"`
	Done  bool             `json:"done,omitempty"`
}

// Streams of queued jobs end on a job event; synchronous requests end when
// the pipeline does.
var (
	jobTerminal = map[string]bool{
		"job_completed": true,
		"job_failed":    true,
		"job_cancelled": true,
	}
	pipelineTerminal = map[string]bool{
		"pipeline_completed": true,
		"pipeline_failed":    true,
	}
)

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

type session struct {
	id           string
	clients      map[string]*client
	backlog      [][]byte
	queued       bool
	done         bool
	mu           sync.Mutex
	createdAt    time.Time
	lastActivity time.Time
}

// Metrics - hub counters exposed on /metrics
type Metrics struct {
	TotalSessions    int       `json:"totalSessions"`
	ActiveSessions   int       `json:"activeSessions"`
	TotalConnections int       `json:"totalConnections"`
	EventsDelivered  int64     `json:"eventsDelivered"`
	StartTime        time.Time `json:"startTime"`
}

// Hub fans job events out to the websocket clients watching that job. It
// implements telemetry.Emitter.
type Hub struct {
	sessions map[string]*session
	mu       sync.RWMutex

	metrics   Metrics
	metricsMu sync.Mutex

	upgrader websocket.Upgrader
	log      *zap.Logger
	now      func() time.Time

	// Expiry drops sessions older than this; Inactive drops empty sessions
	// idle longer than this.
	Expiry   time.Duration
	Inactive time.Duration
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]*session),
		metrics:  Metrics{StartTime: time.Now()},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:      logger.OrNop(log),
		now:      time.Now,
		Expiry:   24 * time.Hour,
		Inactive: 2 * time.Hour,
	}
}

func (h *Hub) getOrCreateSession(jobID string) *session {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[jobID]
	if !ok {
		now := h.now()
		s = &session{id: jobID, clients: make(map[string]*client), createdAt: now, lastActivity: now}
		h.sessions[jobID] = s

		h.metricsMu.Lock()
		h.metrics.TotalSessions++
		h.metrics.ActiveSessions++
		h.metricsMu.Unlock()
		h.log.Debug("✅ [Progress] Session created", zap.String("job_id", jobID))
	}
	return s
}

// Emit delivers an event to every subscriber of e.RequestID and keeps it in
// the session backlog for subscribers that connect later.
func (h *Hub) Emit(e telemetry.Event) {
	if e.RequestID == "" {
		return
	}
	s := h.getOrCreateSession(e.RequestID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Name == "job_queued" {
		s.queued = true
	}
	done := jobTerminal[e.Name] || (!s.queued && pipelineTerminal[e.Name])
	payload, err := json.Marshal(Message{Type: "event", JobID: e.RequestID, Event: &e, Done: done})
	if err != nil {
		h.log.Warn("⚠️  [Progress] Failed to marshal event", zap.Error(err))
		return
	}

	s.lastActivity = h.now()
	if len(s.backlog) >= backlogLimit {
		s.backlog = s.backlog[1:]
	}
	s.backlog = append(s.backlog, payload)
	if done {
		s.done = true
	}
	if delivered := h.broadcastLocked(s, payload); delivered > 0 {
		h.metricsMu.Lock()
		h.metrics.EventsDelivered += int64(delivered)
		h.metricsMu.Unlock()
	}
}

// broadcastLocked sends payload to every client of s. Clients whose buffer is
// full are dropped. s.mu must be held.
func (h *Hub) broadcastLocked(s *session, payload []byte) int {
	delivered := 0
	for id, c := range s.clients {
		select {
		case c.send <- payload:
			delivered++
		default:
			close(c.send)
			delete(s.clients, id)
			h.log.Warn("🔌 [Progress] Dropping slow client", zap.String("job_id", s.id), zap.String("client", id))
		}
	}
	return delivered
}

func (h *Hub) addClient(s *session, c *client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.lastActivity = h.now()
	for _, payload := range s.backlog {
		select {
		case c.send <- payload:
		default:
		}
	}
	count := len(s.clients)
	s.mu.Unlock()

	h.metricsMu.Lock()
	h.metrics.TotalConnections++
	h.metricsMu.Unlock()

	h.log.Info("👤 [Progress] Client subscribed",
		zap.String("job_id", s.id), zap.String("client", c.id), zap.Int("clients", count))
}

func (h *Hub) removeClient(s *session, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[id]; ok {
		close(c.send)
		delete(s.clients, id)
		s.lastActivity = h.now()
		h.log.Info("👋 [Progress] Client left", zap.String("job_id", s.id), zap.String("client", id), zap.Int("remaining", len(s.clients)))
	}
}

// ServeWS upgrades /ws/tryon?job=<id>[&client=<id>] and streams that job's
// events, starting with everything already emitted for it.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job")
	if jobID == "" {
		http.Error(w, "missing job parameter", http.StatusBadRequest)
		return
	}
	clientID := r.URL.Query().Get("client")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("⚠️  [Progress] WebSocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{id: clientID, conn: conn, send: make(chan []byte, sendBuffer)}
	s := h.getOrCreateSession(jobID)
	h.addClient(s, c)

	go h.writePump(c)
	go h.readPump(s, c)
}

// readPump only watches for the peer going away; subscribers never publish.
func (h *Hub) readPump(s *session, c *client) {
	defer func() {
		h.removeClient(s, c.id)
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Warn("⚠️  [Progress] WebSocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for payload := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.log.Warn("⚠️  [Progress] WebSocket write error", zap.Error(err))
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
