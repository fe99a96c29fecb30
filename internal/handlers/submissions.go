package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pointid/mission-gateway/internal/lifecycle"
	"github.com/pointid/mission-gateway/internal/models"
	"go.uber.org/zap"
)

// SubMissionHandler handles specialty sub-missions
type SubMissionHandler struct {
	stores StoreProvider
	logger *zap.SugaredLogger
}

// NewSubMissionHandler creates a new sub-mission handler
func NewSubMissionHandler(stores StoreProvider, logger *zap.SugaredLogger) *SubMissionHandler {
	return &SubMissionHandler{stores: stores, logger: logger}
}

// subMissionView carries the statuses the front end may offer next
type subMissionView struct {
	models.SubMission
	Next []models.SubMissionStatus `json:"next"`
}

func viewSubMission(sub *models.SubMission) subMissionView {
	return subMissionView{SubMission: *sub, Next: lifecycle.NextSubMissionStatuses(sub.Status)}
}

// List handles GET /api/missions/{id}/sub-missions
func (h *SubMissionHandler) List(w http.ResponseWriter, r *http.Request) {
	subs, err := storesFor(h.stores, r).Missions.FetchSubMissions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	views := make([]subMissionView, 0, len(subs))
	for i := range subs {
		views = append(views, viewSubMission(&subs[i]))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"subMissions": views})
}

// Create handles POST /api/missions/{id}/sub-missions
func (h *SubMissionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input models.SubMissionInput
	if err := decodeJSON(r, &input); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	input.MissionID = chi.URLParam(r, "id")

	sub, err := storesFor(h.stores, r).Missions.CreateSubMission(r.Context(), input)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if sub == nil {
		respondJSON(w, http.StatusCreated, nil)
		return
	}
	respondJSON(w, http.StatusCreated, viewSubMission(sub))
}

type subMissionStatusRequest struct {
	Status models.SubMissionStatus `json:"status"`
}

// UpdateStatus handles PATCH /api/sub-missions/{id}
func (h *SubMissionHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req subMissionStatusRequest
	if err := decodeJSON(r, &req); err != nil || req.Status == "" {
		respondError(w, http.StatusBadRequest, "Missing required field: status")
		return
	}

	id := chi.URLParam(r, "id")
	sub, err := storesFor(h.stores, r).Missions.UpdateSubMissionStatus(r.Context(), id, req.Status)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	h.logger.Infow("Sub-mission status updated", "sub_mission", id, "status", req.Status)
	respondJSON(w, http.StatusOK, viewSubMission(sub))
}
