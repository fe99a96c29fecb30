package lifecycle

import (
	"testing"

	"github.com/pointid/mission-gateway/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestAvailableActions_EnAttente(t *testing.T) {
	m := models.Mission{ID: "m1", Status: models.MissionEnAttente}

	assert.ElementsMatch(t, []Action{ActionAccept, ActionRefuse}, AvailableActions(m, models.RolePrestataire))

	assureur := AvailableActions(m, models.RoleAssureur)
	assert.Contains(t, assureur, ActionSuspend)
	assert.Contains(t, assureur, ActionCancel)
	assert.NotContains(t, assureur, ActionAccept)
	assert.NotContains(t, assureur, ActionRefuse)

	assert.Empty(t, AvailableActions(m, models.RoleSocietaire))
}

func TestAvailableActions_ByStatus(t *testing.T) {
	tests := []struct {
		name   string
		status models.MissionStatus
		role   models.Role
		want   []Action
	}{
		{"assigned prestataire", models.MissionAssignee, models.RolePrestataire, []Action{ActionStart}},
		{"in progress prestataire", models.MissionEnCours, models.RolePrestataire, []Action{ActionComplete}},
		{"suspended assureur", models.MissionSuspendue, models.RoleAssureur, []Action{ActionResume, ActionCancel}},
		{"suspended prestataire", models.MissionSuspendue, models.RolePrestataire, nil},
		{"done assureur", models.MissionTerminee, models.RoleAssureur, []Action{ActionValidate, ActionRate}},
		{"cancelled assureur", models.MissionAnnulee, models.RoleAssureur, nil},
		{"refused prestataire", models.MissionRefusee, models.RolePrestataire, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AvailableActions(models.Mission{Status: tt.status}, tt.role)
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestAvailableActions_RateOnlyOnce(t *testing.T) {
	m := models.Mission{Status: models.MissionTerminee, Validated: true}
	assert.Equal(t, []Action{ActionRate}, AvailableActions(m, models.RoleAssureur))

	m.Rated = true
	assert.Empty(t, AvailableActions(m, models.RoleAssureur))
	assert.False(t, Allowed(m, models.RoleAssureur, ActionRate))
}

func TestActionTarget(t *testing.T) {
	target, ok := ActionResume.Target()
	assert.True(t, ok)
	assert.Equal(t, models.MissionEnCours, target)

	_, ok = ActionRate.Target()
	assert.False(t, ok)
	_, ok = ActionValidate.Target()
	assert.False(t, ok)
}

func TestTerminal(t *testing.T) {
	assert.True(t, Terminal(models.MissionTerminee))
	assert.True(t, Terminal(models.MissionAnnulee))
	assert.True(t, Terminal(models.MissionRefusee))
	assert.False(t, Terminal(models.MissionSuspendue))
	assert.False(t, Terminal(models.MissionEnAttente))
}

func TestSubMissionTransitions(t *testing.T) {
	tests := []struct {
		name string
		from models.SubMissionStatus
		to   models.SubMissionStatus
		ok   bool
	}{
		{"waiting to assigned", models.SubMissionEnAttente, models.SubMissionAssignee, true},
		{"waiting to done", models.SubMissionEnAttente, models.SubMissionTerminee, false},
		{"waiting to in progress", models.SubMissionEnAttente, models.SubMissionEnCours, false},
		{"assigned to in progress", models.SubMissionAssignee, models.SubMissionEnCours, true},
		{"in progress to done", models.SubMissionEnCours, models.SubMissionTerminee, true},
		{"in progress to suspended", models.SubMissionEnCours, models.SubMissionSuspendue, true},
		{"suspended to in progress", models.SubMissionSuspendue, models.SubMissionEnCours, true},
		{"suspended to done", models.SubMissionSuspendue, models.SubMissionTerminee, false},
		{"assigned to cancelled", models.SubMissionAssignee, models.SubMissionAnnulee, true},
		{"done to in progress", models.SubMissionTerminee, models.SubMissionEnCours, false},
		{"cancelled to waiting", models.SubMissionAnnulee, models.SubMissionEnAttente, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, CanTransitionSubMission(tt.from, tt.to))
		})
	}
}

func TestNextSubMissionStatuses_ReturnsCopy(t *testing.T) {
	next := NextSubMissionStatuses(models.SubMissionEnAttente)
	next[0] = models.SubMissionTerminee
	assert.True(t, CanTransitionSubMission(models.SubMissionEnAttente, models.SubMissionAssignee))
	assert.Empty(t, NextSubMissionStatuses(models.SubMissionTerminee))
}
