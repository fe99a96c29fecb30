package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pointid/mission-gateway/internal/graphql"
	"go.uber.org/zap"
)

// ErrNoSession is returned when an operation needs a signed-in user
var ErrNoSession = errors.New("no active session")

// Manager creates, loads and destroys sessions.
type Manager struct {
	store  Store
	parser *TokenParser
	ttl    time.Duration
	now    func() time.Time
	logger *zap.SugaredLogger
}

// NewManager creates a session manager
func NewManager(store Store, parser *TokenParser, ttl time.Duration, logger *zap.SugaredLogger) *Manager {
	return &Manager{store: store, parser: parser, ttl: ttl, now: time.Now, logger: logger}
}

// Create opens a session for an access token issued by the auth service.
// The account is read from the token; profile fields in hint fill what the
// token does not carry.
func (m *Manager) Create(ctx context.Context, tokens Tokens, hint Account) (string, Session, error) {
	account, expires, err := m.parser.Parse(tokens.AccessToken)
	if err != nil {
		return "", Anonymous{}, err
	}
	if account.Name == "" {
		account.Name = hint.Name
	}
	if account.Email == "" {
		account.Email = hint.Email
	}
	account.Company = hint.Company
	if tokens.ExpiresAt.IsZero() {
		tokens.ExpiresAt = expires
	}

	id := uuid.NewString()
	rec := Record{Tokens: tokens, Account: account}
	if err := m.store.Put(ctx, id, rec, m.ttl); err != nil {
		return "", Anonymous{}, err
	}

	m.logger.Infow("Session opened", "account", account.ID, "role", account.Role)
	return id, Resolve(&rec, m.now()), nil
}

// Load resolves the session stored under id. Unknown ids are Anonymous.
func (m *Manager) Load(ctx context.Context, id string) (Session, error) {
	if id == "" {
		return Anonymous{}, nil
	}
	rec, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Anonymous{}, nil
	}
	if err != nil {
		return Anonymous{}, err
	}
	return Resolve(rec, m.now()), nil
}

// Destroy removes the session stored under id
func (m *Manager) Destroy(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

// Ping checks the backing store
func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}

// TokenSource returns a token source bound to one session. The token is
// read from the store on every call so a refreshed or revoked session is
// seen by the next request.
func (m *Manager) TokenSource(id string) graphql.TokenSource {
	return graphql.TokenFunc(func(ctx context.Context) (string, error) {
		s, err := m.Load(ctx, id)
		if err != nil {
			return "", fmt.Errorf("load session: %w", err)
		}
		if !s.Authenticated() {
			return "", ErrNoSession
		}
		return s.AccessToken(), nil
	})
}
