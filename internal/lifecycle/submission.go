package lifecycle

import (
	"github.com/pointid/mission-gateway/internal/models"
)

// Sub-missions move forward one step at a time. Suspension pauses work in
// progress, and anything not yet finished can be cancelled.
var subMissionTransitions = map[models.SubMissionStatus][]models.SubMissionStatus{
	models.SubMissionEnAttente: {models.SubMissionAssignee, models.SubMissionAnnulee},
	models.SubMissionAssignee:  {models.SubMissionEnCours, models.SubMissionAnnulee},
	models.SubMissionEnCours:   {models.SubMissionTerminee, models.SubMissionSuspendue, models.SubMissionAnnulee},
	models.SubMissionSuspendue: {models.SubMissionEnCours, models.SubMissionAnnulee},
}

// NextSubMissionStatuses lists the statuses a sub-mission may move to from s.
func NextSubMissionStatuses(s models.SubMissionStatus) []models.SubMissionStatus {
	next := subMissionTransitions[s]
	out := make([]models.SubMissionStatus, len(next))
	copy(out, next)
	return out
}

// CanTransitionSubMission reports whether from -> to is a legal step.
func CanTransitionSubMission(from, to models.SubMissionStatus) bool {
	for _, s := range subMissionTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
