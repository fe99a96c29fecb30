package handlers

import (
	"net/http"
	"strconv"

	"github.com/pointid/mission-gateway/internal/models"
	"github.com/pointid/mission-gateway/internal/services"
	"github.com/pointid/mission-gateway/internal/session"
	"go.uber.org/zap"
)

// ActivityHandler serves the gateway's record of mission mutations
type ActivityHandler struct {
	ledger services.Ledger
	logger *zap.SugaredLogger
}

// NewActivityHandler creates a new activity handler
func NewActivityHandler(ledger services.Ledger, logger *zap.SugaredLogger) *ActivityHandler {
	return &ActivityHandler{ledger: ledger, logger: logger}
}

// Recent handles GET /api/activity/recent
// Assureurs see every recorded action. Other roles only see their own.
func (h *ActivityHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}

	s := session.FromContext(r.Context())
	scope := services.LedgerScope(services.Identity{AccountID: s.AccountID(), Role: s.Role()})

	actions, err := h.ledger.RecentActions(r.Context(), scope, limit)
	if err != nil {
		h.logger.Errorw("Failed to fetch recent activity", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch recent activity")
		return
	}
	if actions == nil {
		actions = []models.MissionAction{}
	}

	respondJSON(w, http.StatusOK, actions)
}
