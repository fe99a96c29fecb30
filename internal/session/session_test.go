package session

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pointid/mission-gateway/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, sub, role string, exp time.Time) string {
	t.Helper()
	claims := AccessClaims{
		Role:  role,
		Email: sub + "@example.fr",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return raw
}

func TestResolve(t *testing.T) {
	now := time.Now()
	live := Tokens{AccessToken: "tok", ExpiresAt: now.Add(time.Hour)}

	tests := []struct {
		name string
		rec  *Record
		want Session
	}{
		{"nil record", nil, Anonymous{}},
		{"assureur", &Record{Tokens: live, Account: Account{ID: "a1", Role: models.RoleAssureur}},
			Professional{Account: Account{ID: "a1", Role: models.RoleAssureur}, Tokens: live}},
		{"prestataire", &Record{Tokens: live, Account: Account{ID: "p1", Role: models.RolePrestataire}},
			Professional{Account: Account{ID: "p1", Role: models.RolePrestataire}, Tokens: live}},
		{"societaire", &Record{Tokens: live, Account: Account{ID: "s1", Role: models.RoleSocietaire}},
			Claimant{Account: Account{ID: "s1", Role: models.RoleSocietaire}, Tokens: live}},
		{"expired", &Record{Tokens: Tokens{AccessToken: "tok", ExpiresAt: now.Add(-time.Minute)}, Account: Account{ID: "a1", Role: models.RoleAssureur}}, Anonymous{}},
		{"no token", &Record{Account: Account{ID: "a1", Role: models.RoleAssureur}}, Anonymous{}},
		{"unknown role", &Record{Tokens: live, Account: Account{ID: "x", Role: "ADMIN"}}, Anonymous{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.rec, now)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Authenticated(), got.Authenticated())
		})
	}
}

func TestContextRoundTrip(t *testing.T) {
	assert.Equal(t, Anonymous{}, FromContext(context.Background()))

	s := Claimant{Account: Account{ID: "s1"}}
	ctx := WithSession(context.Background(), "sid", s)
	assert.Equal(t, s, FromContext(ctx))
	assert.Equal(t, "sid", IDFromContext(ctx))
	assert.Equal(t, models.RoleSocietaire, FromContext(ctx).Role())
}

func TestTokenParser_Verified(t *testing.T) {
	p := NewTokenParser(testSecret)
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	account, expires, err := p.Parse(signToken(t, testSecret, "p1", "PRESTATAIRE", exp))
	require.NoError(t, err)
	assert.Equal(t, "p1", account.ID)
	assert.Equal(t, models.RolePrestataire, account.Role)
	assert.Equal(t, "p1@example.fr", account.Email)
	assert.True(t, exp.Equal(expires))

	_, _, err = p.Parse(signToken(t, "other-secret", "p1", "PRESTATAIRE", exp))
	assert.Error(t, err)

	_, _, err = p.Parse(signToken(t, testSecret, "p1", "PRESTATAIRE", time.Now().Add(-time.Hour)))
	assert.Error(t, err)

	_, _, err = p.Parse(signToken(t, testSecret, "p1", "ADMIN", exp))
	assert.Error(t, err)
}

func TestTokenParser_Unverified(t *testing.T) {
	p := NewTokenParser("")

	account, _, err := p.Parse(signToken(t, "whatever", "s1", "SOCIETAIRE", time.Now().Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, models.RoleSocietaire, account.Role)

	_, _, err = p.Parse(signToken(t, "whatever", "s1", "SOCIETAIRE", time.Now().Add(-time.Hour)))
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	_, _, err = p.Parse("not-a-jwt")
	assert.Error(t, err)
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	rec := Record{Tokens: Tokens{AccessToken: "tok"}, Account: Account{ID: "a1", Role: models.RoleAssureur}}
	require.NoError(t, s.Put(context.Background(), "sid", rec, time.Minute))

	got, err := s.Get(context.Background(), "sid")
	require.NoError(t, err)
	assert.Equal(t, rec, *got)

	now = now.Add(2 * time.Minute)
	_, err = s.Get(context.Background(), "sid")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKeyForHidesID(t *testing.T) {
	key := keyFor("session-id")
	assert.NotContains(t, key, "session-id")
	assert.Equal(t, key, keyFor("session-id"))
	assert.NotEqual(t, key, keyFor("other"))
}

func TestManager_Lifecycle(t *testing.T) {
	m := NewManager(NewMemoryStore(), NewTokenParser(testSecret), time.Hour, zap.NewNop().Sugar())
	ctx := context.Background()

	raw := signToken(t, testSecret, "a1", "ASSUREUR", time.Now().Add(time.Hour))
	id, s, err := m.Create(ctx, Tokens{AccessToken: raw}, Account{Name: "Axa Conseil", Company: "AXA"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	pro, ok := s.(Professional)
	require.True(t, ok)
	assert.Equal(t, "Axa Conseil", pro.Account.Name)
	assert.Equal(t, "AXA", pro.Account.Company)
	assert.False(t, pro.Tokens.ExpiresAt.IsZero())

	loaded, err := m.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAssureur, loaded.Role())

	token, err := m.TokenSource(id).Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, raw, token)

	require.NoError(t, m.Destroy(ctx, id))
	loaded, err = m.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, Anonymous{}, loaded)

	_, err = m.TokenSource(id).Token(ctx)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestManager_CreateRejectsBadToken(t *testing.T) {
	m := NewManager(NewMemoryStore(), NewTokenParser(testSecret), time.Hour, zap.NewNop().Sugar())
	_, s, err := m.Create(context.Background(), Tokens{AccessToken: "garbage"}, Account{})
	assert.Error(t, err)
	assert.Equal(t, Anonymous{}, s)
}
