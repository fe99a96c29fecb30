// Package services holds the per-session stores that mediate between the
// front end and the upstream GraphQL server: the mission store, the chat
// store and their shared toast and request-tracking plumbing.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pointid/mission-gateway/internal/graphql"
	"github.com/pointid/mission-gateway/internal/lifecycle"
	"github.com/pointid/mission-gateway/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Operation names used for request tracking, toasts and the action log.
const (
	OpFetchMissions       = "fetchMissions"
	OpFetchMissionDetails = "fetchMissionDetails"
	OpCreateMission       = "createMission"
	OpRateMission         = "rateMission"
	OpUploadDocument      = "uploadMissionDocument"
	OpAddComment          = "addMissionComment"
)

// Identity is who a store acts for
type Identity struct {
	AccountID string
	Role      models.Role
}

type transitionSpec struct {
	op       string
	query    string
	success  string
	withNote bool
}

var transitions = map[lifecycle.Action]transitionSpec{
	lifecycle.ActionAccept:   {"acceptMission", mutationAcceptMission, "Mission acceptée", false},
	lifecycle.ActionRefuse:   {"refuseMission", mutationRefuseMission, "Mission refusée", true},
	lifecycle.ActionStart:    {"startMission", mutationStartMission, "Mission démarrée", false},
	lifecycle.ActionComplete: {"completeMission", mutationCompleteMission, "Mission terminée", false},
	lifecycle.ActionSuspend:  {"suspendMission", mutationSuspendMission, "Mission suspendue", true},
	lifecycle.ActionResume:   {"resumeMission", mutationResumeMission, "Mission reprise", false},
	lifecycle.ActionCancel:   {"cancelMission", mutationCancelMission, "Mission annulée", true},
	lifecycle.ActionValidate: {"validateMissionCompletion", mutationValidateMissionCompletion, "Fin de mission validée", false},
}

// MissionStore caches one user's missions and proxies every lifecycle
// transition to the server.
//
// The list cache is replaced wholesale by FetchMissions and left untouched
// when a fetch fails, so the last known list stays available. Mutation
// responses that carry the updated mission are patched into the cache;
// otherwise the list is fetched again.
type MissionStore struct {
	exec     graphql.Executor
	uploader graphql.Uploader
	ledger   Ledger
	identity Identity
	notify   Notifier
	tracker  *Tracker
	flight   singleflight.Group
	logger   *zap.SugaredLogger

	mu          sync.RWMutex
	order       []string
	missions    map[string]models.Mission
	current     *models.MissionDetails
	documents   []models.Document
	comments    []models.Comment
	history     []models.HistoryEntry
	subMissions map[string][]models.SubMission
}

// NewMissionStore creates an empty store for identity
func NewMissionStore(exec graphql.Executor, uploader graphql.Uploader, ledger Ledger, identity Identity, notify Notifier, logger *zap.SugaredLogger) *MissionStore {
	return &MissionStore{
		exec:        exec,
		uploader:    uploader,
		ledger:      ledger,
		identity:    identity,
		notify:      notify,
		tracker:     NewTracker(),
		logger:      logger,
		missions:    make(map[string]models.Mission),
		subMissions: make(map[string][]models.SubMission),
	}
}

// Identity returns who the store acts for
func (s *MissionStore) Identity() Identity { return s.identity }

// Tracker exposes the per-request loading state
func (s *MissionStore) Tracker() *Tracker { return s.tracker }

// Requests returns every tracked request, most recent first
func (s *MissionStore) Requests() []RequestStatus { return s.tracker.Snapshot() }

// Pending reports whether op on id is in flight
func (s *MissionStore) Pending(op, id string) bool { return s.tracker.Pending(op, id) }

// Missions returns the cached list in server order
func (s *MissionStore) Missions() []models.Mission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Mission, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.missions[id])
	}
	return out
}

// Mission returns one cached mission
func (s *MissionStore) Mission(id string) (models.Mission, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.missions[id]
	return m, ok
}

// Current returns the mission loaded by the last FetchMissionDetails
func (s *MissionStore) Current() *models.MissionDetails {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	cp := *s.current
	return &cp
}

// Documents returns the documents of the current mission
func (s *MissionStore) Documents() []models.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Document(nil), s.documents...)
}

// Comments returns the comments of the current mission
func (s *MissionStore) Comments() []models.Comment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Comment(nil), s.comments...)
}

// History returns the history of the current mission
func (s *MissionStore) History() []models.HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.HistoryEntry(nil), s.history...)
}

// fail records a failed request, queues the error toast and returns err.
func (s *MissionStore) fail(op, id string, err error) error {
	s.tracker.Fail(op, id, err)
	s.notify.Failure(op, err)
	return err
}

func missionsQuery(role models.Role) (string, error) {
	switch role {
	case models.RoleAssureur:
		return queryMissionsByAssureur, nil
	case models.RolePrestataire:
		return queryMissionsByPrestataire, nil
	case models.RoleSocietaire:
		return queryMissionsBySocietaire, nil
	}
	return "", fmt.Errorf("no mission list for role %q", role)
}

// FetchMissions loads the list for the store's role and replaces the cache.
// On failure the previous list is kept.
func (s *MissionStore) FetchMissions(ctx context.Context) ([]models.Mission, error) {
	s.tracker.Begin(OpFetchMissions, "")

	query, err := missionsQuery(s.identity.Role)
	if err != nil {
		return nil, s.fail(OpFetchMissions, "", err)
	}

	var out struct {
		Missions []models.Mission `json:"missions"`
	}
	if err := s.exec.Do(ctx, graphql.Request{Query: query}, &out); err != nil {
		return s.Missions(), s.fail(OpFetchMissions, "", err)
	}

	s.mu.Lock()
	s.order = make([]string, 0, len(out.Missions))
	s.missions = make(map[string]models.Mission, len(out.Missions))
	for _, m := range out.Missions {
		if _, dup := s.missions[m.ID]; !dup {
			s.order = append(s.order, m.ID)
		}
		s.missions[m.ID] = m
	}
	s.mu.Unlock()

	s.tracker.Succeed(OpFetchMissions, "")
	s.logger.Debugw("Missions fetched", "account", s.identity.AccountID, "count", len(out.Missions))
	return s.Missions(), nil
}

// FetchMissionDetails loads one mission with its documents, comments and
// history. All four caches are replaced together from the one response.
func (s *MissionStore) FetchMissionDetails(ctx context.Context, id string) (*models.MissionDetails, error) {
	s.tracker.Begin(OpFetchMissionDetails, id)

	var out struct {
		Mission *models.MissionDetails `json:"mission"`
	}
	err := s.exec.Do(ctx, graphql.Request{
		Query:     queryMissionDetails,
		Variables: map[string]any{"id": id},
	}, &out)
	if err != nil {
		return nil, s.fail(OpFetchMissionDetails, id, err)
	}
	if out.Mission == nil {
		return nil, s.fail(OpFetchMissionDetails, id, ErrMissionNotFound)
	}

	details := *out.Mission
	s.mu.Lock()
	s.current = &details
	s.documents = append([]models.Document(nil), details.Documents...)
	s.comments = append([]models.Comment(nil), details.Comments...)
	s.history = append([]models.HistoryEntry(nil), details.History...)
	if _, cached := s.missions[id]; cached {
		s.missions[id] = details.Mission
	}
	s.mu.Unlock()

	s.tracker.Succeed(OpFetchMissionDetails, id)
	cp := details
	return &cp, nil
}

// CreateMission creates a mission and then re-fetches the list. The new
// mission is not inserted locally; it appears through the re-fetch.
func (s *MissionStore) CreateMission(ctx context.Context, input models.MissionInput) (*models.Mission, error) {
	s.tracker.Begin(OpCreateMission, "")

	var out struct {
		Mission *models.Mission `json:"mission"`
	}
	err := s.exec.Do(ctx, graphql.Request{
		Query:     mutationCreateMission,
		Variables: map[string]any{"input": input},
	}, &out)
	if err != nil {
		return nil, s.fail(OpCreateMission, "", err)
	}

	s.tracker.Succeed(OpCreateMission, "")
	s.notify.Success(OpCreateMission, "Mission créée avec succès")

	var created *models.Mission
	if out.Mission != nil {
		created = out.Mission
		s.record(ctx, created.ID, OpCreateMission, nil, "")
	}

	// the creation stands even if the refresh fails; the refresh reports its own error
	_, _ = s.FetchMissions(ctx)
	return created, nil
}

// AcceptMission is the prestataire accepting a waiting mission
func (s *MissionStore) AcceptMission(ctx context.Context, missionID string) (*models.Mission, error) {
	return s.transition(ctx, lifecycle.ActionAccept, missionID, "")
}

// RefuseMission is the prestataire declining a waiting mission
func (s *MissionStore) RefuseMission(ctx context.Context, missionID, reason string) (*models.Mission, error) {
	return s.transition(ctx, lifecycle.ActionRefuse, missionID, reason)
}

// StartMission is the prestataire starting work
func (s *MissionStore) StartMission(ctx context.Context, missionID string) (*models.Mission, error) {
	return s.transition(ctx, lifecycle.ActionStart, missionID, "")
}

// CompleteMission is the prestataire finishing work
func (s *MissionStore) CompleteMission(ctx context.Context, missionID string) (*models.Mission, error) {
	return s.transition(ctx, lifecycle.ActionComplete, missionID, "")
}

// SuspendMission is the assureur pausing a mission
func (s *MissionStore) SuspendMission(ctx context.Context, missionID, reason string) (*models.Mission, error) {
	return s.transition(ctx, lifecycle.ActionSuspend, missionID, reason)
}

// ResumeMission is the assureur resuming a suspended mission
func (s *MissionStore) ResumeMission(ctx context.Context, missionID string) (*models.Mission, error) {
	return s.transition(ctx, lifecycle.ActionResume, missionID, "")
}

// CancelMission is the assureur cancelling a mission
func (s *MissionStore) CancelMission(ctx context.Context, missionID, reason string) (*models.Mission, error) {
	return s.transition(ctx, lifecycle.ActionCancel, missionID, reason)
}

// ValidateMissionCompletion is the assureur signing off a finished mission
func (s *MissionStore) ValidateMissionCompletion(ctx context.Context, missionID string) (*models.Mission, error) {
	return s.transition(ctx, lifecycle.ActionValidate, missionID, "")
}

// Transition runs the wrapper matching action. It lets callers dispatch
// on an action name.
func (s *MissionStore) Transition(ctx context.Context, action lifecycle.Action, missionID, reason string) (*models.Mission, error) {
	if _, ok := transitions[action]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrActionNotAllowed, action)
	}
	return s.transition(ctx, action, missionID, reason)
}

// AvailableActions returns what the store's user may do with a mission.
func (s *MissionStore) AvailableActions(ctx context.Context, missionID string) ([]lifecycle.Action, error) {
	m, err := s.lookup(ctx, missionID)
	if err != nil {
		return nil, err
	}
	return lifecycle.AvailableActions(m, s.identity.Role), nil
}

// lookup returns the cached mission, fetching the list once if it is not
// cached yet.
func (s *MissionStore) lookup(ctx context.Context, missionID string) (models.Mission, error) {
	if m, ok := s.Mission(missionID); ok {
		return m, nil
	}
	if _, err := s.FetchMissions(ctx); err != nil {
		return models.Mission{}, err
	}
	if m, ok := s.Mission(missionID); ok {
		return m, nil
	}
	return models.Mission{}, ErrMissionNotFound
}

func (s *MissionStore) transition(ctx context.Context, action lifecycle.Action, missionID, reason string) (*models.Mission, error) {
	tr := transitions[action]

	m, err := s.lookup(ctx, missionID)
	if err != nil {
		if errors.Is(err, ErrMissionNotFound) {
			return nil, s.fail(tr.op, missionID, err)
		}
		return nil, err
	}
	if !lifecycle.Allowed(m, s.identity.Role, action) {
		return nil, s.fail(tr.op, missionID, ErrActionNotAllowed)
	}

	// Concurrent identical requests share one mutation.
	v, err, _ := s.flight.Do(tr.op+":"+missionID, func() (any, error) {
		return s.sendTransition(ctx, action, m, reason)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Mission), nil
}

func (s *MissionStore) sendTransition(ctx context.Context, action lifecycle.Action, cached models.Mission, reason string) (*models.Mission, error) {
	tr := transitions[action]
	missionID := cached.ID
	s.tracker.Begin(tr.op, missionID)

	vars := map[string]any{"missionId": missionID}
	if tr.withNote && strings.TrimSpace(reason) != "" {
		vars["reason"] = reason
	}

	var out struct {
		Mission *models.Mission `json:"mission"`
	}
	if err := s.exec.Do(ctx, graphql.Request{Query: tr.query, Variables: vars}, &out); err != nil {
		s.record(ctx, missionID, tr.op, err, reason)
		return nil, s.fail(tr.op, missionID, err)
	}

	s.tracker.Succeed(tr.op, missionID)
	s.notify.Success(tr.op, tr.success)
	s.record(ctx, missionID, tr.op, nil, reason)

	if out.Mission != nil && out.Mission.ID == missionID && s.patch(*out.Mission) {
		m := *out.Mission
		return &m, nil
	}

	// The mutation went through; without a fresh copy the caller gets the
	// cached mission moved to the status the action leads to.
	if _, err := s.FetchMissions(ctx); err == nil {
		if m, ok := s.Mission(missionID); ok {
			return &m, nil
		}
	}
	m := cached
	if target, ok := action.Target(); ok {
		m.Status = target
	}
	if action == lifecycle.ActionValidate {
		m.Validated = true
	}
	return &m, nil
}

// patch replaces one cached mission. It returns false when the mission is
// not in the list, in which case the caller re-fetches.
func (s *MissionStore) patch(m models.Mission) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.missions[m.ID]; !ok {
		return false
	}
	s.missions[m.ID] = m
	if s.current != nil && s.current.ID == m.ID {
		s.current.Mission = m
	}
	return true
}

// RateMission submits the assureur's rating of the prestataire. A mission
// can be rated once, and only after it reached TERMINEE.
func (s *MissionStore) RateMission(ctx context.Context, missionID string, score int, comment string) (*models.Rating, error) {
	if score < 1 || score > 5 {
		return nil, s.fail(OpRateMission, missionID, ErrInvalidRating)
	}

	m, err := s.lookup(ctx, missionID)
	if err != nil {
		return nil, s.fail(OpRateMission, missionID, err)
	}
	if m.Rated {
		return nil, s.fail(OpRateMission, missionID, ErrAlreadyRated)
	}
	if !lifecycle.Allowed(m, s.identity.Role, lifecycle.ActionRate) {
		return nil, s.fail(OpRateMission, missionID, ErrActionNotAllowed)
	}

	rating := models.Rating{MissionID: missionID, Score: score, Comment: strings.TrimSpace(comment)}
	if err := s.ledger.ClaimRating(ctx, s.identity.AccountID, rating); err != nil {
		if errors.Is(err, ErrAlreadyRated) {
			s.markRated(missionID)
		}
		return nil, s.fail(OpRateMission, missionID, err)
	}

	s.tracker.Begin(OpRateMission, missionID)

	var out struct {
		Rating *models.Rating `json:"rating"`
	}
	err = s.exec.Do(ctx, graphql.Request{
		Query: mutationRatePrestataire,
		Variables: map[string]any{"input": map[string]any{
			"missionId": missionID,
			"rating":    score,
			"comment":   rating.Comment,
		}},
	}, &out)
	if err != nil {
		if rerr := s.ledger.ReleaseRating(ctx, missionID); rerr != nil {
			s.logger.Errorw("Failed to release rating claim", "mission", missionID, "error", rerr)
		}
		s.record(ctx, missionID, OpRateMission, err, "")
		return nil, s.fail(OpRateMission, missionID, err)
	}

	s.markRated(missionID)
	s.tracker.Succeed(OpRateMission, missionID)
	s.notify.Success(OpRateMission, "Évaluation envoyée")
	s.record(ctx, missionID, OpRateMission, nil, fmt.Sprintf("score=%d", score))

	if out.Rating != nil {
		return out.Rating, nil
	}
	return &rating, nil
}

func (s *MissionStore) markRated(missionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.missions[missionID]; ok {
		m.Rated = true
		s.missions[missionID] = m
	}
	if s.current != nil && s.current.ID == missionID {
		s.current.Rated = true
	}
}

// DocumentUpload is a file to attach to a mission
type DocumentUpload struct {
	MissionID   string
	Filename    string
	ContentType string
	Description string
	Body        io.Reader
}

// UploadMissionDocument sends a file through the upload transport and then
// re-fetches the mission details.
func (s *MissionStore) UploadMissionDocument(ctx context.Context, in DocumentUpload) (*models.Document, error) {
	if in.Body == nil || strings.TrimSpace(in.Filename) == "" {
		return nil, s.fail(OpUploadDocument, in.MissionID, ErrNoFile)
	}
	s.tracker.Begin(OpUploadDocument, in.MissionID)

	input := map[string]any{"missionId": in.MissionID}
	if in.Description != "" {
		input["description"] = in.Description
	}

	var out struct {
		Document *models.Document `json:"document"`
	}
	err := s.uploader.Upload(ctx, graphql.UploadRequest{
		Query:         mutationUploadMissionDocument,
		OperationName: "UploadMissionDocument",
		Variables:     map[string]any{"input": input},
		Files: map[string]graphql.File{
			"input.file": {Filename: in.Filename, ContentType: in.ContentType, Body: in.Body},
		},
	}, &out)
	if err != nil {
		return nil, s.fail(OpUploadDocument, in.MissionID, err)
	}

	s.tracker.Succeed(OpUploadDocument, in.MissionID)
	s.notify.Success(OpUploadDocument, "Document ajouté")
	s.record(ctx, in.MissionID, OpUploadDocument, nil, in.Filename)

	_, _ = s.FetchMissionDetails(ctx, in.MissionID)
	return out.Document, nil
}

// CreateComment posts a comment on a mission and re-fetches its details
func (s *MissionStore) CreateComment(ctx context.Context, missionID, content string) (*models.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, s.fail(OpAddComment, missionID, ErrEmptyComment)
	}
	s.tracker.Begin(OpAddComment, missionID)

	var out struct {
		Comment *models.Comment `json:"comment"`
	}
	err := s.exec.Do(ctx, graphql.Request{
		Query:     mutationAddComment,
		Variables: map[string]any{"input": map[string]any{"missionId": missionID, "content": content}},
	}, &out)
	if err != nil {
		return nil, s.fail(OpAddComment, missionID, err)
	}

	s.tracker.Succeed(OpAddComment, missionID)
	s.notify.Success(OpAddComment, "Commentaire ajouté")

	_, _ = s.FetchMissionDetails(ctx, missionID)
	return out.Comment, nil
}

// record appends to the action log. Ledger failures are logged only; they
// never fail the user's action.
func (s *MissionStore) record(ctx context.Context, missionID, op string, opErr error, detail string) {
	if s.ledger == nil || missionID == "" {
		return
	}
	outcome := "success"
	if opErr != nil {
		outcome = string(ErrorKind(opErr))
	}
	a := &models.MissionAction{
		MissionID: missionID,
		AccountID: s.identity.AccountID,
		Action:    op,
		Outcome:   outcome,
		Detail:    detail,
	}
	if err := s.ledger.RecordAction(context.WithoutCancel(ctx), a); err != nil {
		s.logger.Warnw("Failed to record mission action", "mission", missionID, "action", op, "error", err)
	}
}

// ActionLog returns the gateway-side log of actions on a mission.
// Assureurs see every account's actions, other roles only their own.
func (s *MissionStore) ActionLog(ctx context.Context, missionID string, limit int) ([]models.MissionAction, error) {
	return s.ledger.ActionsForMission(ctx, missionID, LedgerScope(s.identity), limit)
}

// LedgerScope returns the account filter applied to ledger reads made
// on behalf of identity. Empty means unfiltered.
func LedgerScope(identity Identity) string {
	if identity.Role == models.RoleAssureur {
		return ""
	}
	return identity.AccountID
}
