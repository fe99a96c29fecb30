// Package lifecycle holds the mission and sub-mission state machines.
// The server is the authority on transitions; these rules decide which
// actions the gateway offers and which requests it refuses to send.
package lifecycle

import (
	"github.com/pointid/mission-gateway/internal/models"
)

// Action is a user-triggered mission operation.
type Action string

const (
	ActionAccept   Action = "accept"
	ActionRefuse   Action = "refuse"
	ActionStart    Action = "start"
	ActionComplete Action = "complete"
	ActionSuspend  Action = "suspend"
	ActionResume   Action = "resume"
	ActionCancel   Action = "cancel"
	ActionValidate Action = "validate"
	ActionRate     Action = "rate"
)

// Target returns the status a mission is expected to reach after a, and
// false for actions that do not move the status.
func (a Action) Target() (models.MissionStatus, bool) {
	switch a {
	case ActionAccept:
		return models.MissionAssignee, true
	case ActionRefuse:
		return models.MissionRefusee, true
	case ActionStart, ActionResume:
		return models.MissionEnCours, true
	case ActionComplete:
		return models.MissionTerminee, true
	case ActionSuspend:
		return models.MissionSuspendue, true
	case ActionCancel:
		return models.MissionAnnulee, true
	}
	return "", false
}

var prestataireActions = map[models.MissionStatus][]Action{
	models.MissionEnAttente: {ActionAccept, ActionRefuse},
	models.MissionAssignee:  {ActionStart},
	models.MissionEnCours:   {ActionComplete},
}

var assureurActions = map[models.MissionStatus][]Action{
	models.MissionEnAttente: {ActionSuspend, ActionCancel},
	models.MissionAssignee:  {ActionSuspend, ActionCancel},
	models.MissionEnCours:   {ActionSuspend, ActionCancel},
	models.MissionSuspendue: {ActionResume, ActionCancel},
}

// AvailableActions returns the actions role may trigger on m. The result
// depends only on the mission's status, its completion/rating flags and the
// role.
func AvailableActions(m models.Mission, role models.Role) []Action {
	var out []Action
	switch role {
	case models.RolePrestataire:
		out = append(out, prestataireActions[m.Status]...)
	case models.RoleAssureur:
		out = append(out, assureurActions[m.Status]...)
		if m.Status == models.MissionTerminee {
			if !m.Validated {
				out = append(out, ActionValidate)
			}
			if !m.Rated {
				out = append(out, ActionRate)
			}
		}
	}
	return out
}

// Allowed reports whether role may trigger a on m.
func Allowed(m models.Mission, role models.Role, a Action) bool {
	for _, candidate := range AvailableActions(m, role) {
		if candidate == a {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func Terminal(s models.MissionStatus) bool {
	switch s {
	case models.MissionTerminee, models.MissionAnnulee, models.MissionRefusee:
		return true
	}
	return false
}
