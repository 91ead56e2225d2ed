package progress

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// CleanupEmpty drops sessions that have no subscribers and whose job has
// finished. Unfinished jobs keep their backlog for late subscribers.
func (h *Hub) CleanupEmpty() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	cleaned := 0
	for id, s := range h.sessions {
		s.mu.Lock()
		drop := len(s.clients) == 0 && s.done
		s.mu.Unlock()
		if drop {
			delete(h.sessions, id)
			cleaned++
		}
	}
	h.sessionsRemoved(cleaned)
	if cleaned > 0 {
		h.log.Info("🧹 [Progress] Cleaned up empty sessions", zap.Int("count", cleaned))
	}
	return cleaned
}

// CleanupExpired drops sessions past Expiry and empty sessions idle past
// Inactive, disconnecting any remaining clients.
func (h *Hub) CleanupExpired() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	cleaned := 0
	for id, s := range h.sessions {
		s.mu.Lock()
		expired := now.Sub(s.createdAt) > h.Expiry
		inactive := now.Sub(s.lastActivity) > h.Inactive && len(s.clients) == 0
		if expired || inactive {
			for cid, c := range s.clients {
				close(c.send)
				delete(s.clients, cid)
			}
		}
		s.mu.Unlock()

		if expired || inactive {
			delete(h.sessions, id)
			cleaned++
			h.log.Info("⏰ [Progress] Cleaned up session",
				zap.String("job_id", id), zap.Bool("expired", expired), zap.Bool("inactive", inactive))
		}
	}
	h.sessionsRemoved(cleaned)
	return cleaned
}

func (h *Hub) sessionsRemoved(n int) {
	if n == 0 {
		return
	}
	h.metricsMu.Lock()
	h.metrics.ActiveSessions -= n
	h.metricsMu.Unlock()
}

// StartCleanup runs both sweeps until ctx is done.
func (h *Hub) StartCleanup(ctx context.Context) {
	go h.sweep(ctx, emptyInterval, h.CleanupEmpty)
	go h.sweep(ctx, expiryInterval, h.CleanupExpired)
	h.log.Info("🔄 [Progress] Started session cleanup routines",
		zap.Duration("empty", emptyInterval), zap.Duration("expired", expiryInterval))
}

func (h *Hub) sweep(ctx context.Context, every time.Duration, fn func() int) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.sessions {
		s.mu.Lock()
		for cid, c := range s.clients {
			close(c.send)
			delete(s.clients, cid)
		}
		s.mu.Unlock()
		delete(h.sessions, id)
	}
	h.metricsMu.Lock()
	h.metrics.ActiveSessions = 0
	h.metricsMu.Unlock()
}

// Snapshot returns the current counters.
func (h *Hub) Snapshot() Metrics {
	h.metricsMu.Lock()
	defer h.metricsMu.Unlock()
	return h.metrics
}

// SessionInfo describes one job stream.
type SessionInfo struct {
	JobID        string    `json:"jobId"`
	ClientCount  int       `json:"clientCount"`
	Events       int       `json:"events"`
	Done         bool      `json:"done"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

func (s *session) info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		JobID:        s.id,
		ClientCount:  len(s.clients),
		Events:       len(s.backlog),
		Done:         s.done,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
	}
}

// Sessions lists every live session.
func (h *Hub) Sessions() []SessionInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]SessionInfo, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s.info())
	}
	return out
}

// MetricsHandler - GET /metrics
func (h *Hub) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	m := h.Snapshot()
	sessions := h.Sessions()
	current := 0
	for _, s := range sessions {
		current += s.ClientCount
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"server": map[string]interface{}{
			"uptime":           time.Since(m.StartTime).String(),
			"startTime":        m.StartTime,
			"totalSessions":    m.TotalSessions,
			"activeSessions":   m.ActiveSessions,
			"totalConnections": m.TotalConnections,
			"eventsDelivered":  m.EventsDelivered,
			"currentClients":   current,
		},
		"sessions": sessions,
	})
}

// SessionHandler - GET /progress/{jobId}
func (h *Hub) SessionHandler(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]

	h.mu.RLock()
	s, ok := h.sessions[jobID]
	h.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "Session not found"})
		return
	}
	json.NewEncoder(w).Encode(s.info())
}

// CleanupHandler - POST /admin/cleanup
func (h *Hub) CleanupHandler(w http.ResponseWriter, r *http.Request) {
	empty := h.CleanupEmpty()
	expired := h.CleanupExpired()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "Cleanup completed",
		"empty":   empty,
		"expired": expired,
	})
}
