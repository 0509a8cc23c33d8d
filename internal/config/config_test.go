package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg := Load()
	require.NotNil(t, cfg)

	assert.Equal(t, "Origin, Content-Type, Accept, Authorization", cfg.CORS.AllowHeaders,
		"default allowed headers must cover the bearer token")
	assert.Equal(t, 5*time.Second, cfg.WebSocket.WriteTimeout)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("CORS_ALLOW_HEADERS", "Origin, X-Custom")
	t.Setenv("WS_WRITE_TIMEOUT", "7")
	t.Setenv("AI_TIMEOUT", "45s")

	cfg := Load()

	assert.Equal(t, "Origin, X-Custom", cfg.CORS.AllowHeaders)
	assert.Equal(t, 7*time.Second, cfg.WebSocket.WriteTimeout, "bare numbers are seconds")
	assert.Equal(t, 45*time.Second, cfg.AI.Timeout)
}
