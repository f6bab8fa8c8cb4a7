package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"CORE_DATABASE_URL", "HTTP_LISTEN_ADDR", "METRICS_LISTEN_ADDR", "TEMPORAL_ADDRESS", "LOG_LEVEL",
		"STUCK_JOB_THRESHOLD", "HEARTBEAT_INTERVAL", "POLL_INTERVAL", "DISK_PATH", "FLEET_API_URL",
	} {
		os.Unsetenv(key)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "", cfg.CoreDatabaseURL)
	assert.Equal(t, ":8090", cfg.HTTPListenAddr)
	assert.Equal(t, ":9090", cfg.MetricsListenAddr)
	assert.Equal(t, "localhost:7233", cfg.TemporalAddress)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 30*time.Minute, cfg.StuckJobThreshold)
	assert.Equal(t, 60*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 15*time.Second, cfg.PollInterval)
	assert.Equal(t, "/", cfg.DiskPath)
}

func TestLoad_AllEnvVars(t *testing.T) {
	t.Setenv("CORE_DATABASE_URL", "postgres://core:5432/fleet")
	t.Setenv("HTTP_LISTEN_ADDR", ":7071")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("STUCK_JOB_THRESHOLD", "45m")
	t.Setenv("HEARTBEAT_INTERVAL", "20s")
	t.Setenv("POLL_INTERVAL", "5s")
	t.Setenv("FLEET_API_URL", "https://fleet.example.com/")
	t.Setenv("NODE_ID", "node-1")
	t.Setenv("NODE_SECRET", "abc")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://core:5432/fleet", cfg.CoreDatabaseURL)
	assert.Equal(t, ":7071", cfg.HTTPListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 45*time.Minute, cfg.StuckJobThreshold)
	assert.Equal(t, 20*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, "https://fleet.example.com", cfg.FleetAPIURL)
	assert.Equal(t, "node-1", cfg.NodeID)
	assert.Equal(t, "abc", cfg.NodeSecret)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "often")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POLL_INTERVAL")
}

func TestValidate_API_MissingFields(t *testing.T) {
	err := (&Config{}).Validate(RoleAPI)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CORE_DATABASE_URL")
	assert.Contains(t, err.Error(), "HTTP_LISTEN_ADDR")
}

func TestValidate_Worker_MissingFields(t *testing.T) {
	err := (&Config{}).Validate(RoleWorker)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CORE_DATABASE_URL")
	assert.Contains(t, err.Error(), "TEMPORAL_ADDRESS")
	assert.Contains(t, err.Error(), "METRICS_LISTEN_ADDR")
}

func TestValidate_NodeAgent_MissingFields(t *testing.T) {
	err := (&Config{}).Validate(RoleNodeAgent)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NODE_ID")
	assert.Contains(t, err.Error(), "NODE_SECRET")
	assert.Contains(t, err.Error(), "FLEET_API_URL")
}

func TestValidate_UnknownRole(t *testing.T) {
	err := (&Config{}).Validate("scheduler")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown role")
}

func TestValidate_TLS_MismatchedCertKey(t *testing.T) {
	cfg := &Config{
		CoreDatabaseURL: "postgres://localhost/db",
		HTTPListenAddr:  ":8090",
		TemporalTLSCert: "/path/to/cert.pem",
	}
	err := cfg.Validate(RoleAPI)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TEMPORAL_TLS_CERT and TEMPORAL_TLS_KEY must both be set")
}

func TestValidate_AllPresent(t *testing.T) {
	cfg := &Config{
		CoreDatabaseURL:   "postgres://localhost/db",
		HTTPListenAddr:    ":8090",
		MetricsListenAddr: ":9090",
		TemporalAddress:   "localhost:7233",
		StuckJobThreshold: time.Minute,
		NodeID:            "node-1",
		NodeSecret:        "secret",
		FleetAPIURL:       "http://localhost:8090",
		HeartbeatInterval: time.Minute,
		PollInterval:      time.Second,
	}

	assert.NoError(t, cfg.Validate(RoleAPI))
	assert.NoError(t, cfg.Validate(RoleWorker))
	assert.NoError(t, cfg.Validate(RoleNodeAgent))

	cfg.PollInterval = 0
	assert.Error(t, cfg.Validate(RoleNodeAgent))
}

func TestLoad_NodeRoles(t *testing.T) {
	t.Setenv("NODE_ROLES", "Game, TS3,,")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"Game", "TS3"}, cfg.NodeRoles)
}
