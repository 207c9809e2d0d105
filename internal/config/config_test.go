package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-call-relay/internal/config"
)

// clearEnv blanks every variable the tests read so the host environment
// cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_FILE", "PORT", "ENV", "LOG_LEVEL", "JWT_SECRET", "SESSION_COOKIE_NAME",
		"ALLOWED_ORIGINS", "DB_DRIVER", "DB_DSN", "FOLDER", "PRESENCE_BACKEND",
		"SEND_QUEUE_SIZE", "PING_INTERVAL", "WRITE_TIMEOUT", "MAX_MESSAGE_BYTES",
		"MEMBERSHIP_CACHE_TTL", "END_CALLS_ON_DISCONNECT",
	} {
		t.Setenv(key, "")
	}
	config.ResetFile()
	t.Cleanup(config.ResetFile)
}

func TestConfig_Defaults(t *testing.T) {
	clearEnv(t)

	c, err := config.New()
	require.NoError(t, err)

	require.Equal(t, ":8080", c.GetPort())
	require.Equal(t, "DEV", c.GetEnv())
	require.Equal(t, "info", c.GetLogLevel())
	require.Equal(t, "jwt", c.GetSessionCookieName())
	require.Equal(t, "sqlite", c.GetDBDriver())
	require.Equal(t, filepath.Join("./data", "relay.db"), c.GetDBDSN())
	require.Equal(t, config.PresenceBackendMemory, c.GetPresenceBackend())
	require.Equal(t, 64, c.GetSendQueueSize())
	require.Equal(t, 30*time.Second, c.GetPingInterval())
	require.Equal(t, 10*time.Second, c.GetWriteTimeout())
	require.Equal(t, int64(64*1024), c.GetMaxMessageBytes())
	require.Equal(t, 30*time.Second, c.GetMembershipCacheTTL())
	require.False(t, c.GetEndCallsOnDisconnect())
	require.NotEmpty(t, c.GetInstanceID())
	require.True(t, c.GetAllowedOrigins().IsAllowedOrigin("http://localhost:5173"))
}

func TestConfig_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("PING_INTERVAL", "15")
	t.Setenv("WRITE_TIMEOUT", "250ms")
	t.Setenv("SEND_QUEUE_SIZE", "8")
	t.Setenv("END_CALLS_ON_DISCONNECT", "true")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	c, err := config.New()
	require.NoError(t, err)

	require.Equal(t, ":9000", c.GetPort())
	require.Equal(t, 15*time.Second, c.GetPingInterval())
	require.Equal(t, 250*time.Millisecond, c.GetWriteTimeout())
	require.Equal(t, 8, c.GetSendQueueSize())
	require.True(t, c.GetEndCallsOnDisconnect())

	origins := c.GetAllowedOrigins()
	require.True(t, origins.IsAllowedOrigin("https://a.example"))
	require.True(t, origins.IsAllowedOrigin("https://b.example"))
	require.False(t, origins.IsAllowedOrigin("http://localhost:5173"))
}

func TestConfig_InvalidValuesFallBackToDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("SEND_QUEUE_SIZE", "lots")
	t.Setenv("PING_INTERVAL", "soon")
	t.Setenv("END_CALLS_ON_DISCONNECT", "maybe")

	c, err := config.New()
	require.NoError(t, err)

	require.Equal(t, 64, c.GetSendQueueSize())
	require.Equal(t, 30*time.Second, c.GetPingInterval())
	require.False(t, c.GetEndCallsOnDisconnect())
}

func TestConfig_FileSuppliesMissingKeys(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "relay.ini")
	contents := "PORT = 7000\n" +
		"JWT_SECRET = from-file # inline comment\n" +
		"presence_backend = bolt\n" +
		"LOG_LEVEL = debug\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("LOG_LEVEL", "warn")

	c, err := config.New()
	require.NoError(t, err)

	require.Equal(t, ":7000", c.GetPort())
	require.Equal(t, "from-file", c.GetJWTSecret())
	require.Equal(t, config.PresenceBackendBolt, c.GetPresenceBackend())
	require.Equal(t, "warn", c.GetLogLevel(), "environment wins over the file")
}

func TestConfig_MissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.ini"))

	_, err := config.New()
	require.Error(t, err)
}
