// Package models defines the data structures shared across the gateway.
// They mirror the GraphQL server's schema; the server owns every entity and
// the gateway only caches what it reads back.
package models

import (
	"time"
)

// Role is the account type of a signed-in user.
type Role string

const (
	RoleAssureur    Role = "ASSUREUR"
	RolePrestataire Role = "PRESTATAIRE"
	RoleSocietaire  Role = "SOCIETAIRE"
)

// Valid reports whether r is a known account type.
func (r Role) Valid() bool {
	switch r {
	case RoleAssureur, RolePrestataire, RoleSocietaire:
		return true
	}
	return false
}

// MissionStatus is the lifecycle status of a mission.
type MissionStatus string

const (
	MissionEnAttente MissionStatus = "EN_ATTENTE"
	MissionAssignee  MissionStatus = "ASSIGNEE"
	MissionEnCours   MissionStatus = "EN_COURS"
	MissionTerminee  MissionStatus = "TERMINEE"
	MissionSuspendue MissionStatus = "SUSPENDUE"
	MissionAnnulee   MissionStatus = "ANNULEE"
	MissionRefusee   MissionStatus = "REFUSEE"
)

// SubMissionStatus is the lifecycle status of a sub-mission.
type SubMissionStatus string

const (
	SubMissionEnAttente SubMissionStatus = "EN_ATTENTE"
	SubMissionAssignee  SubMissionStatus = "ASSIGNEE"
	SubMissionEnCours   SubMissionStatus = "EN_COURS"
	SubMissionTerminee  SubMissionStatus = "TERMINEE"
	SubMissionSuspendue SubMissionStatus = "SUSPENDUE"
	SubMissionAnnulee   SubMissionStatus = "ANNULEE"
)

// AuthorType identifies who wrote a comment or produced a history entry.
type AuthorType string

const (
	AuthorClient      AuthorType = "client"
	AuthorPrestataire AuthorType = "prestataire"
	AuthorAssureur    AuthorType = "assureur"
)

// Societaire is the claimant attached to a mission
type Societaire struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name"`
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
	PolicyNumber string `json:"policyNumber,omitempty"`
}

// Chantier is the worksite address of a mission
type Chantier struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
}

// Sinistre describes the insured incident behind a mission
type Sinistre struct {
	Type        string     `json:"type"`
	Description string     `json:"description"`
	Urgency     string     `json:"urgency"`
	OccurredAt  *time.Time `json:"occurredAt,omitempty"`
}

// PrestataireRef is the provider assigned to a mission
type PrestataireRef struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Company string `json:"company,omitempty"`
}

// Mission is a unit of insurance-claim work dispatched to a prestataire.
// At most one prestataire is assigned at a time.
type Mission struct {
	ID          string          `json:"id"`
	Reference   string          `json:"reference,omitempty"`
	Status      MissionStatus   `json:"status"`
	Societaire  Societaire      `json:"societaire"`
	Chantier    Chantier        `json:"chantier"`
	Sinistre    Sinistre        `json:"sinistre"`
	Prestataire *PrestataireRef `json:"prestataire,omitempty"`
	Validated   bool            `json:"completionValidated"`
	Rated       bool            `json:"rated"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   *time.Time      `json:"updatedAt,omitempty"`
}

// MissionDetails is the deep view returned by the missionDetails query.
type MissionDetails struct {
	Mission
	Documents []Document     `json:"documents"`
	Comments  []Comment      `json:"comments"`
	History   []HistoryEntry `json:"history"`
}

// MissionInput is the payload for creating a mission
type MissionInput struct {
	Societaire Societaire `json:"societaire"`
	Chantier   Chantier   `json:"chantier"`
	Sinistre   Sinistre   `json:"sinistre"`
	// PrestataireID optionally pre-assigns the mission.
	PrestataireID string `json:"prestataireId,omitempty"`
}

// SubMission is a specialty-scoped work item within a mission.
type SubMission struct {
	ID          string           `json:"id"`
	MissionID   string           `json:"missionId"`
	Specialty   string           `json:"specialty"`
	Description string           `json:"description,omitempty"`
	Status      SubMissionStatus `json:"status"`
	Prestataire *PrestataireRef  `json:"prestataire,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// SubMissionInput is the payload for creating a sub-mission
type SubMissionInput struct {
	MissionID     string `json:"missionId"`
	Specialty     string `json:"specialty"`
	Description   string `json:"description,omitempty"`
	PrestataireID string `json:"prestataireId,omitempty"`
}

// Document is the metadata of a file attached to a mission. The binary
// lives in the server's storage backend.
type Document struct {
	ID          string    `json:"id"`
	MissionID   string    `json:"missionId,omitempty"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	UploadedBy  string    `json:"uploadedBy,omitempty"`
	UploadedAt  time.Time `json:"uploadedAt"`
	URL         string    `json:"url,omitempty"`
}

// Comment is an append-only note on a mission
type Comment struct {
	ID         string     `json:"id"`
	Content    string     `json:"content"`
	AuthorType AuthorType `json:"authorType"`
	AuthorName string     `json:"authorName,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// HistoryEntry is an append-only record of something that happened to a mission
type HistoryEntry struct {
	ID          string     `json:"id"`
	Action      string     `json:"action"`
	Description string     `json:"description,omitempty"`
	AuthorType  AuthorType `json:"authorType"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Rating is an assureur's score of a prestataire for a finished mission
type Rating struct {
	MissionID string `json:"missionId"`
	Score     int    `json:"rating"`
	Comment   string `json:"comment"`
}

// ExportFile is what an export query returns: a URL to download from and
// the filename to save it under.
type ExportFile struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

// ChatRoom is a direct conversation between two account holders, optionally
// scoped to a mission.
type ChatRoom struct {
	ID           string    `json:"id"`
	MissionID    string    `json:"missionId,omitempty"`
	Participants []string  `json:"participants"`
	Name         string    `json:"name,omitempty"`
	LastMessage  *Message  `json:"lastMessage,omitempty"`
	UnreadCount  int       `json:"unreadCount"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Message is an append-only chat message
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// TypingEvent reports that a user started or stopped typing in a room
type TypingEvent struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	Typing bool   `json:"isTyping"`
}

// MissionAction is one lifecycle action issued through the gateway,
// recorded in the action log.
type MissionAction struct {
	ID        int64     `json:"id"`
	MissionID string    `json:"mission_id"`
	AccountID string    `json:"account_id"`
	Action    string    `json:"action"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HealthStatus represents the gateway health check response
type HealthStatus struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Uptime   string `json:"uptime"`
	Database string `json:"database,omitempty"`
	Sessions string `json:"sessions,omitempty"`
}
