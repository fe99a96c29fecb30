package services

import (
	"context"
	"strings"

	"github.com/pointid/mission-gateway/internal/graphql"
	"github.com/pointid/mission-gateway/internal/lifecycle"
	"github.com/pointid/mission-gateway/internal/models"
)

const (
	OpFetchSubMissions       = "fetchSubMissions"
	OpCreateSubMission       = "createSubMission"
	OpUpdateSubMissionStatus = "updateSubMissionStatus"
)

// SubMissions returns the cached sub-missions of a mission
func (s *MissionStore) SubMissions(missionID string) []models.SubMission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.SubMission(nil), s.subMissions[missionID]...)
}

// FetchSubMissions loads the sub-missions of a mission. On failure the
// cached ones are kept.
func (s *MissionStore) FetchSubMissions(ctx context.Context, missionID string) ([]models.SubMission, error) {
	s.tracker.Begin(OpFetchSubMissions, missionID)

	var out struct {
		SubMissions []models.SubMission `json:"subMissions"`
	}
	err := s.exec.Do(ctx, graphql.Request{
		Query:     querySubMissions,
		Variables: map[string]any{"missionId": missionID},
	}, &out)
	if err != nil {
		return s.SubMissions(missionID), s.fail(OpFetchSubMissions, missionID, err)
	}

	s.mu.Lock()
	s.subMissions[missionID] = out.SubMissions
	s.mu.Unlock()

	s.tracker.Succeed(OpFetchSubMissions, missionID)
	return s.SubMissions(missionID), nil
}

// CreateSubMission adds a specialty sub-mission under a mission. It starts
// EN_ATTENTE; the list is re-fetched rather than patched.
func (s *MissionStore) CreateSubMission(ctx context.Context, input models.SubMissionInput) (*models.SubMission, error) {
	if strings.TrimSpace(input.Specialty) == "" {
		return nil, s.fail(OpCreateSubMission, input.MissionID, &graphql.Error{
			Kind:   graphql.KindBadUserInput,
			Op:     OpCreateSubMission,
			Errors: []graphql.GQLError{{Message: "La spécialité est obligatoire"}},
		})
	}
	s.tracker.Begin(OpCreateSubMission, input.MissionID)

	var out struct {
		SubMission *models.SubMission `json:"subMission"`
	}
	err := s.exec.Do(ctx, graphql.Request{
		Query:     mutationCreateSubMission,
		Variables: map[string]any{"input": input},
	}, &out)
	if err != nil {
		return nil, s.fail(OpCreateSubMission, input.MissionID, err)
	}

	s.tracker.Succeed(OpCreateSubMission, input.MissionID)
	s.notify.Success(OpCreateSubMission, "Sous-mission créée")
	s.record(ctx, input.MissionID, OpCreateSubMission, nil, input.Specialty)

	_, _ = s.FetchSubMissions(ctx, input.MissionID)
	return out.SubMission, nil
}

// UpdateSubMissionStatus moves a sub-mission to status. Transitions the
// sub-mission state machine does not allow are rejected without a request.
func (s *MissionStore) UpdateSubMissionStatus(ctx context.Context, id string, status models.SubMissionStatus) (*models.SubMission, error) {
	sub, ok := s.findSubMission(id)
	if !ok {
		return nil, s.fail(OpUpdateSubMissionStatus, id, ErrSubMissionNotFound)
	}
	if !lifecycle.CanTransitionSubMission(sub.Status, status) {
		return nil, s.fail(OpUpdateSubMissionStatus, id, ErrInvalidTransition)
	}

	s.tracker.Begin(OpUpdateSubMissionStatus, id)

	var out struct {
		SubMission *models.SubMission `json:"subMission"`
	}
	err := s.exec.Do(ctx, graphql.Request{
		Query:     mutationUpdateSubMissionStatus,
		Variables: map[string]any{"id": id, "status": status},
	}, &out)
	if err != nil {
		return nil, s.fail(OpUpdateSubMissionStatus, id, err)
	}

	updated := sub
	updated.Status = status
	if out.SubMission != nil {
		updated = *out.SubMission
	}

	s.mu.Lock()
	list := s.subMissions[sub.MissionID]
	for i := range list {
		if list[i].ID == id {
			list[i] = updated
		}
	}
	s.mu.Unlock()

	s.tracker.Succeed(OpUpdateSubMissionStatus, id)
	s.notify.Success(OpUpdateSubMissionStatus, "Statut de la sous-mission mis à jour")
	s.record(ctx, sub.MissionID, OpUpdateSubMissionStatus, nil, id+"="+string(status))
	return &updated, nil
}

func (s *MissionStore) findSubMission(id string) (models.SubMission, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, list := range s.subMissions {
		for _, sm := range list {
			if sm.ID == id {
				return sm, true
			}
		}
	}
	return models.SubMission{}, false
}
