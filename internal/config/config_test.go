package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000/graphql", cfg.GraphQLURL)
	assert.Equal(t, "ws://localhost:3000/graphql/ws", cfg.GraphQLWSURL)
	assert.Equal(t, 30*time.Second, cfg.WSKeepAlive)
	assert.Equal(t, "pointid_session", cfg.CookieName)
	assert.False(t, cfg.SecureCookies())
}

func TestLoad_ViteAliases(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("VITE_APP_SERVER_GRAPHQL_URL", "https://api.pointid.fr/graphql")
	t.Setenv("VITE_SERVER_GRAPHQL_WS_URL", "wss://api.pointid.fr/graphql/ws")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://api.pointid.fr/graphql", cfg.GraphQLURL)
	assert.Equal(t, "wss://api.pointid.fr/graphql/ws", cfg.GraphQLWSURL)

	t.Setenv("GRAPHQL_URL", "https://gw.internal/graphql")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "https://gw.internal/graphql", cfg.GraphQLURL)
}

func TestLoad_InvalidURLs(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("GRAPHQL_WS_URL", "http://localhost:3000/graphql/ws")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_SessionTTL(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")

	for _, v := range []string{"0", "0s", "-5m"} {
		t.Setenv("SESSION_TTL", v)
		_, err := Load()
		assert.ErrorContains(t, err, "SESSION_TTL", v)
	}

	t.Setenv("SESSION_TTL", "90m")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, cfg.SessionTTL)
	assert.Equal(t, 30*time.Minute, cfg.StoreIdleTTL)

	t.Setenv("STORE_IDLE_TTL", "-1s")
	_, err = Load()
	assert.ErrorContains(t, err, "STORE_IDLE_TTL")
}

func TestLoad_ProductionRequirements(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("DATABASE_URL", "postgres://localhost/pointid")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.ErrorContains(t, err, "JWT_SECRET")

	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.SecureCookies())
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("X_DUR", "45s")
	assert.Equal(t, 45*time.Second, getEnvDuration("X_DUR", time.Second))
	t.Setenv("X_DUR", "12")
	assert.Equal(t, 12*time.Second, getEnvDuration("X_DUR", time.Second))
	t.Setenv("X_DUR", "nope")
	assert.Equal(t, time.Second, getEnvDuration("X_DUR", time.Second))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b "))
	assert.Nil(t, splitList(""))
}
