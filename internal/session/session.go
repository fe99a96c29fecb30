// Package session tracks who is signed in to the gateway. A browser session
// resolves to exactly one Session variant: a professional account
// (assureur or prestataire), a claimant account (sociétaire), or nobody.
package session

import (
	"context"
	"time"

	"github.com/pointid/mission-gateway/internal/models"
)

// Tokens is what the browser used to keep under "pointid_tokens".
type Tokens struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Expired reports whether the access token is past its expiry. A zero
// expiry never expires.
func (t Tokens) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// Account is what the browser used to keep under "pointid_user".
type Account struct {
	ID      string      `json:"id"`
	Email   string      `json:"email,omitempty"`
	Name    string      `json:"name,omitempty"`
	Company string      `json:"company,omitempty"`
	Role    models.Role `json:"role"`
}

// Record is the persisted form of a session.
type Record struct {
	Tokens  Tokens
	Account Account
}

// Session is one of Professional, Claimant or Anonymous.
type Session interface {
	Authenticated() bool
	Role() models.Role
	AccountID() string
	AccessToken() string
	session()
}

// Professional is a signed-in assureur or prestataire
type Professional struct {
	Account Account
	Tokens  Tokens
}

func (p Professional) Authenticated() bool { return true }
func (p Professional) Role() models.Role { return p.Account.Role }
func (p Professional) AccountID() string { return p.Account.ID }
func (p Professional) AccessToken() string { return p.Tokens.AccessToken }
func (Professional) session() {}

// Claimant is a signed-in sociétaire
type Claimant struct {
	Account Account
	Tokens  Tokens
}

func (c Claimant) Authenticated() bool { return true }
func (c Claimant) Role() models.Role { return models.RoleSocietaire }
func (c Claimant) AccountID() string { return c.Account.ID }
func (c Claimant) AccessToken() string { return c.Tokens.AccessToken }
func (Claimant) session() {}

// Anonymous is the absence of a session
type Anonymous struct{}

func (Anonymous) Authenticated() bool { return false }
func (Anonymous) Role() models.Role { return "" }
func (Anonymous) AccountID() string { return "" }
func (Anonymous) AccessToken() string { return "" }
func (Anonymous) session() {}

// Resolve turns a stored record into a Session. Missing records, expired
// tokens and unknown roles all resolve to Anonymous.
func Resolve(rec *Record, now time.Time) Session {
	if rec == nil || rec.Tokens.AccessToken == "" || rec.Tokens.Expired(now) {
		return Anonymous{}
	}
	switch rec.Account.Role {
	case models.RoleAssureur, models.RolePrestataire:
		return Professional{Account: rec.Account, Tokens: rec.Tokens}
	case models.RoleSocietaire:
		return Claimant{Account: rec.Account, Tokens: rec.Tokens}
	}
	return Anonymous{}
}

type ctxKey struct{}

type ctxValue struct {
	id      string
	session Session
}

// WithSession attaches the resolved session and its id to ctx.
func WithSession(ctx context.Context, id string, s Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, ctxValue{id: id, session: s})
}

// FromContext returns the session attached to ctx, or Anonymous.
func FromContext(ctx context.Context) Session {
	if v, ok := ctx.Value(ctxKey{}).(ctxValue); ok && v.session != nil {
		return v.session
	}
	return Anonymous{}
}

// IDFromContext returns the session id attached to ctx.
func IDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKey{}).(ctxValue); ok {
		return v.id
	}
	return ""
}
