package config

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestServerConfigFromEnvDefaults(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString(make([]byte, 32))
	t.Setenv("RELAY_JWT_SECRET", secret)
	t.Setenv("DATABASE_URL", "postgres://localhost/relay")
	t.Setenv("RELAY_LISTEN_ADDR", "")
	t.Setenv("SERVER_DATABASE_URL", "")

	cfg, err := ServerConfigFromEnv()
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:8082", cfg.ListenAddr)
	require.Equal(t, "postgres://localhost/relay", cfg.DatabaseURL)
}

func TestServerConfigFromEnvRejectsShortSecret(t *testing.T) {
	t.Setenv("RELAY_JWT_SECRET", base64.StdEncoding.EncodeToString(make([]byte, 8)))
	t.Setenv("DATABASE_URL", "postgres://localhost/relay")

	_, err := ServerConfigFromEnv()
	require.Error(t, err)
}

func TestServerConfigFromEnvRequiresSecret(t *testing.T) {
	t.Setenv("RELAY_JWT_SECRET", "")
	_, err := ServerConfigFromEnv()
	require.Error(t, err)
}

func TestAgentConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("RELAY_WS_URL", "wss://relay.example.com/v1/relay/connect")
	t.Setenv("RELAY_BEARER_TOKEN", "token-123")
	t.Setenv("RELAY_PAIRING_LISTEN_ADDR", "")
	t.Setenv("RELAY_UPSTREAM_ADDR", "")

	cfg, err := AgentConfigFromEnv()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:8787", cfg.PairingListenAddr)
	require.Equal(t, "127.0.0.1:8080", cfg.UpstreamAddr)
	require.Equal(t, time.Second, cfg.ReconnectMinDelay)
	require.Equal(t, 30*time.Second, cfg.ReconnectMaxDelay)
}

func TestAgentConfigFromEnvRequiresWSURL(t *testing.T) {
	t.Setenv("RELAY_WS_URL", "")
	t.Setenv("RELAY_BEARER_TOKEN", "token-123")
	_, err := AgentConfigFromEnv()
	require.Error(t, err)
}

func TestAgentConfigFromEnvRequiresBearerToken(t *testing.T) {
	t.Setenv("RELAY_WS_URL", "wss://relay.example.com/v1/relay/connect")
	t.Setenv("RELAY_BEARER_TOKEN", "")
	_, err := AgentConfigFromEnv()
	require.Error(t, err)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("RELAY_HOST", "example.com")
	require.Equal(t, "example.com:8082", SubstituteEnvVars("${RELAY_HOST}:8082"))
	require.Equal(t, "fallback", SubstituteEnvVars("${UNSET_VAR:fallback}"))
}
