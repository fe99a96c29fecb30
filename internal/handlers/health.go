package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/pointid/mission-gateway/internal/models"
	"go.uber.org/zap"
)

// Version is reported by the health endpoints
const Version = "1.0.0"

var startTime = time.Now()

// Pinger is a dependency the readiness probe checks
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler provides health check endpoints
type HealthHandler struct {
	db       Pinger // nil when the ledger is in memory
	sessions Pinger
	live     func() int
	logger   *zap.SugaredLogger
}

// NewHealthHandler creates a new health handler. db may be nil. live
// reports the number of sessions with stores in memory.
func NewHealthHandler(db, sessions Pinger, live func() int, logger *zap.SugaredLogger) *HealthHandler {
	return &HealthHandler{db: db, sessions: sessions, live: live, logger: logger}
}

// Check handles GET /api/health (liveness probe)
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, models.HealthStatus{
		Status:  "ok",
		Version: Version,
		Uptime:  time.Since(startTime).String(),
	})
}

// Ready handles GET /api/health/ready (readiness probe)
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	status := models.HealthStatus{
		Status:   "ready",
		Version:  Version,
		Uptime:   time.Since(startTime).String(),
		Database: "memory",
	}
	ready := true

	if h.db != nil {
		status.Database = "connected"
		if err := h.db.Ping(r.Context()); err != nil {
			h.logger.Warnw("Database ping failed", "error", err)
			status.Database = "disconnected"
			ready = false
		}
	}

	if err := h.sessions.Ping(r.Context()); err != nil {
		h.logger.Warnw("Session store ping failed", "error", err)
		status.Sessions = "disconnected"
		ready = false
	} else {
		status.Sessions = strconv.Itoa(h.live()) + " live"
	}

	if !ready {
		status.Status = "not ready"
		status.Uptime = ""
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}
