package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pointid/mission-gateway/internal/models"
	"go.uber.org/zap"
)

// Ledger records what the gateway sent upstream. Ratings are claimed here
// before the mutation goes out, which makes a rating submit-once even when
// the same assureur has two tabs open.
type Ledger interface {
	// ClaimRating reserves the rating slot of a mission. It returns
	// ErrAlreadyRated when the slot is taken.
	ClaimRating(ctx context.Context, accountID string, r models.Rating) error
	// ReleaseRating frees a slot whose mutation failed.
	ReleaseRating(ctx context.Context, missionID string) error
	HasRating(ctx context.Context, missionID string) (bool, error)
	RecordAction(ctx context.Context, a *models.MissionAction) error
	// ActionsForMission and RecentActions return newest first. A non-empty
	// accountID keeps only that account's actions.
	ActionsForMission(ctx context.Context, missionID, accountID string, limit int) ([]models.MissionAction, error)
	RecentActions(ctx context.Context, accountID string, limit int) ([]models.MissionAction, error)
}

// PgLedger is the PostgreSQL ledger
type PgLedger struct {
	db     *pgxpool.Pool
	logger *zap.SugaredLogger
}

// NewPgLedger creates a ledger backed by db
func NewPgLedger(db *pgxpool.Pool, logger *zap.SugaredLogger) *PgLedger {
	return &PgLedger{db: db, logger: logger}
}

func (l *PgLedger) ClaimRating(ctx context.Context, accountID string, r models.Rating) error {
	query := `
		INSERT INTO mission_ratings (mission_id, account_id, score, comment)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (mission_id) DO NOTHING
	`

	tag, err := l.db.Exec(ctx, query, r.MissionID, accountID, r.Score, r.Comment)
	if err != nil {
		return fmt.Errorf("insert rating: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyRated
	}
	return nil
}

func (l *PgLedger) ReleaseRating(ctx context.Context, missionID string) error {
	if _, err := l.db.Exec(ctx, `DELETE FROM mission_ratings WHERE mission_id = $1`, missionID); err != nil {
		return fmt.Errorf("delete rating: %w", err)
	}
	return nil
}

func (l *PgLedger) HasRating(ctx context.Context, missionID string) (bool, error) {
	var exists bool
	err := l.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM mission_ratings WHERE mission_id = $1)`, missionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup rating: %w", err)
	}
	return exists, nil
}

func (l *PgLedger) RecordAction(ctx context.Context, a *models.MissionAction) error {
	query := `
		INSERT INTO mission_actions (mission_id, account_id, action, outcome, detail)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := l.db.QueryRow(ctx, query, a.MissionID, a.AccountID, a.Action, a.Outcome, a.Detail).
		Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert mission action: %w", err)
	}
	return nil
}

func (l *PgLedger) ActionsForMission(ctx context.Context, missionID, accountID string, limit int) ([]models.MissionAction, error) {
	query := `
		SELECT id, mission_id, account_id, action, outcome, detail, created_at
		FROM mission_actions
		WHERE mission_id = $1 AND ($2::text = '' OR account_id = $2::text)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`
	return l.queryActions(ctx, query, missionID, accountID, limit)
}

func (l *PgLedger) RecentActions(ctx context.Context, accountID string, limit int) ([]models.MissionAction, error) {
	query := `
		SELECT id, mission_id, account_id, action, outcome, detail, created_at
		FROM mission_actions
		WHERE $1::text = '' OR account_id = $1::text
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	return l.queryActions(ctx, query, accountID, limit)
}

func (l *PgLedger) queryActions(ctx context.Context, query string, args ...any) ([]models.MissionAction, error) {
	rows, err := l.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query mission actions: %w", err)
	}
	defer rows.Close()

	actions := []models.MissionAction{}
	for rows.Next() {
		var a models.MissionAction
		if err := rows.Scan(&a.ID, &a.MissionID, &a.AccountID, &a.Action, &a.Outcome, &a.Detail, &a.CreatedAt); err != nil {
			l.logger.Warnw("Skipping unreadable mission action", "error", err)
			continue
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// MemoryLedger is an in-process Ledger for tests and local runs without
// a database.
type MemoryLedger struct {
	mu      sync.Mutex
	ratings map[string]models.Rating
	actions []models.MissionAction
	nextID  int64
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{ratings: make(map[string]models.Rating)}
}

func (l *MemoryLedger) ClaimRating(_ context.Context, _ string, r models.Rating) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.ratings[r.MissionID]; ok {
		return ErrAlreadyRated
	}
	l.ratings[r.MissionID] = r
	return nil
}

func (l *MemoryLedger) ReleaseRating(_ context.Context, missionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.ratings, missionID)
	return nil
}

func (l *MemoryLedger) HasRating(_ context.Context, missionID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.ratings[missionID]
	return ok, nil
}

func (l *MemoryLedger) RecordAction(_ context.Context, a *models.MissionAction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	a.ID = l.nextID
	a.CreatedAt = time.Now()
	l.actions = append(l.actions, *a)
	return nil
}

func (l *MemoryLedger) ActionsForMission(_ context.Context, missionID, accountID string, limit int) ([]models.MissionAction, error) {
	return l.newest(limit, func(a models.MissionAction) bool {
		return a.MissionID == missionID && (accountID == "" || a.AccountID == accountID)
	}), nil
}

func (l *MemoryLedger) RecentActions(_ context.Context, accountID string, limit int) ([]models.MissionAction, error) {
	return l.newest(limit, func(a models.MissionAction) bool {
		return accountID == "" || a.AccountID == accountID
	}), nil
}

func (l *MemoryLedger) newest(limit int, keep func(models.MissionAction) bool) []models.MissionAction {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []models.MissionAction{}
	for _, a := range l.actions {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
