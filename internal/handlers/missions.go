package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pointid/mission-gateway/internal/lifecycle"
	"github.com/pointid/mission-gateway/internal/models"
	"github.com/pointid/mission-gateway/internal/services"
	"go.uber.org/zap"
)

// MissionHandler exposes the mission store
type MissionHandler struct {
	stores StoreProvider
	logger *zap.SugaredLogger
}

// NewMissionHandler creates a new mission handler
func NewMissionHandler(stores StoreProvider, logger *zap.SugaredLogger) *MissionHandler {
	return &MissionHandler{stores: stores, logger: logger}
}

// List handles GET /api/missions
// The list is fetched for the caller's account type. When the fetch fails
// the last known list is returned along with the error.
func (h *MissionHandler) List(w http.ResponseWriter, r *http.Request) {
	st := storesFor(h.stores, r)
	missions, err := st.Missions.FetchMissions(r.Context())
	if err != nil {
		if len(missions) == 0 {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"missions": missions,
			"stale":    true,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"missions": missions})
}

// Create handles POST /api/missions
func (h *MissionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input models.MissionInput
	if err := decodeJSON(r, &input); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if input.Societaire.Name == "" || input.Chantier.Address == "" || input.Sinistre.Type == "" {
		respondError(w, http.StatusBadRequest, "Missing required fields: societaire.name, chantier.address, sinistre.type")
		return
	}

	st := storesFor(h.stores, r)
	created, err := st.Missions.CreateMission(r.Context(), input)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	h.logger.Infow("Mission created", "account", st.Identity.AccountID, "has_prestataire", input.PrestataireID != "")
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"mission":  created,
		"missions": st.Missions.Missions(),
	})
}

// Get handles GET /api/missions/{id}
func (h *MissionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st := storesFor(h.stores, r)

	details, err := st.Missions.FetchMissionDetails(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	actions, err := st.Missions.AvailableActions(r.Context(), id)
	if err != nil {
		h.logger.Debugw("No actions for mission", "mission", id, "error", err)
		actions = []lifecycle.Action{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"mission": details,
		"actions": actions,
	})
}

// Actions handles GET /api/missions/{id}/actions
func (h *MissionHandler) Actions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	missions := storesFor(h.stores, r).Missions
	actions, err := missions.AvailableActions(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	m, _ := missions.Mission(id)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"actions":  actions,
		"status":   m.Status,
		"terminal": lifecycle.Terminal(m.Status),
	})
}

type transitionRequest struct {
	Reason string `json:"reason"`
}

// Transition handles POST /api/missions/{id}/{action}
// for accept, refuse, start, complete, suspend, resume, cancel and validate.
func (h *MissionHandler) Transition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	action := lifecycle.Action(chi.URLParam(r, "action"))
	if _, ok := action.Target(); !ok && action != lifecycle.ActionValidate {
		respondError(w, http.StatusNotFound, "Unknown action")
		return
	}

	var req transitionRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	st := storesFor(h.stores, r)
	mission, err := st.Missions.Transition(r.Context(), action, id, strings.TrimSpace(req.Reason))
	if err != nil {
		respondStoreError(w, err)
		return
	}

	h.logger.Infow("Mission transition", "mission", id, "action", action, "account", st.Identity.AccountID)
	respondJSON(w, http.StatusOK, map[string]interface{}{"mission": mission})
}

type ratingRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// Rate handles POST /api/missions/{id}/rating
func (h *MissionHandler) Rate(w http.ResponseWriter, r *http.Request) {
	var req ratingRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rating, err := storesFor(h.stores, r).Missions.RateMission(r.Context(), chi.URLParam(r, "id"), req.Rating, req.Comment)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, rating)
}

type commentRequest struct {
	Content string `json:"content"`
}

// Comment handles POST /api/missions/{id}/comments
func (h *MissionHandler) Comment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	st := storesFor(h.stores, r)
	comment, err := st.Missions.CreateComment(r.Context(), chi.URLParam(r, "id"), req.Content)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"comment":  comment,
		"comments": st.Missions.Comments(),
	})
}

// Log handles GET /api/missions/{id}/log
func (h *MissionHandler) Log(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}

	actions, err := storesFor(h.stores, r).Missions.ActionLog(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		h.logger.Errorw("Failed to fetch mission log", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch mission log")
		return
	}
	if actions == nil {
		actions = []models.MissionAction{}
	}
	respondJSON(w, http.StatusOK, actions)
}

// Requests handles GET /api/requests
func (h *MissionHandler) Requests(w http.ResponseWriter, r *http.Request) {
	st := storesFor(h.stores, r)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"missions": st.Missions.Requests(),
		"chat":     st.Chat.Tracker().Snapshot(),
	})
}

// Toasts handles GET /api/toasts
// Returns the queued notifications and empties the queue.
func (h *MissionHandler) Toasts(w http.ResponseWriter, r *http.Request) {
	toasts := storesFor(h.stores, r).Toasts.Drain()
	if toasts == nil {
		toasts = []services.Toast{}
	}
	respondJSON(w, http.StatusOK, toasts)
}
