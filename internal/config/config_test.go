package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, defaultHTTPAddress, cfg.HTTPAddress)
	assert.Equal(t, defaultLogLevel, cfg.LogLevel)
	assert.Equal(t, defaultShutdownGracePeriod, cfg.ShutdownGracePeriod)
	assert.Equal(t, defaultMongoURI, cfg.Mongo.URI)
	assert.Equal(t, BackendMongo, cfg.MessageStore.Backend)
	assert.Equal(t, SinkMongo, cfg.Audit.Sink)
	assert.Equal(t, defaultAuditQueueSize, cfg.Audit.QueueSize)
	assert.Equal(t, defaultCollaboratorTimeout, cfg.Relay.CollaboratorTimeout)
	assert.True(t, cfg.Relay.StrictJoin)
	assert.True(t, cfg.Relay.VerifyRoundTrip)
	assert.False(t, cfg.NeedsRedis())
}

func TestLoadWithFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
http_address: "127.0.0.1:7001"
log_level: "debug"
shutdown_grace_period: "5s"
message_store:
  backend: "redis"
  history_ttl: "48h"
audit:
  sink: "log"
  queue_size: 16
relay:
  strict_join: false
  collaborator_timeout: "750ms"
`), 0o644))

	t.Setenv("HYBRIDCHAT_HTTP_ADDRESS", ":6000")
	t.Setenv("HYBRIDCHAT_REDIS_ADDR", "cache:6379")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, ":6000", cfg.HTTPAddress)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.ShutdownGracePeriod)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.Equal(t, BackendRedis, cfg.MessageStore.Backend)
	assert.Equal(t, 48*time.Hour, cfg.MessageStore.HistoryTTL)
	assert.Equal(t, SinkLog, cfg.Audit.Sink)
	assert.Equal(t, 16, cfg.Audit.QueueSize)
	assert.Equal(t, 750*time.Millisecond, cfg.Relay.CollaboratorTimeout)
	assert.False(t, cfg.Relay.StrictJoin)
	assert.True(t, cfg.NeedsRedis())
}

func TestLoadRejectsUnknownBackends(t *testing.T) {
	t.Setenv("HYBRIDCHAT_MESSAGE_STORE_BACKEND", "sheets")
	_, err := Load("")
	require.Error(t, err)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("HYBRIDCHAT_AUDIT_TIMEOUT", "soon")
	_, err := Load("")
	require.Error(t, err)
}
