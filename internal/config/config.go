package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Roles accepted by Validate.
const (
	RoleAPI       = "fleet-api"
	RoleWorker    = "fleet-worker"
	RoleNodeAgent = "node-agent"
)

type Config struct {
	CoreDatabaseURL   string
	HTTPListenAddr    string
	MetricsListenAddr string
	TemporalAddress   string
	LogLevel          string
	ServiceName       string

	// Temporal client TLS. Cert and key must be set together.
	TemporalTLSCert       string
	TemporalTLSKey        string
	TemporalTLSCACert     string
	TemporalTLSServerName string

	// StuckJobThreshold is how long a job may sit queued before the worker
	// raises an alert for it.
	StuckJobThreshold time.Duration

	// Node agent settings.
	NodeID            string
	NodeSecret        string
	FleetAPIURL       string
	FleetAPICACert    string
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	DiskPath          string
	NodeRoles         []string
	AgentUpdateDir    string
}

func Load() (*Config, error) {
	cfg := &Config{
		CoreDatabaseURL:       getEnv("CORE_DATABASE_URL", ""),
		HTTPListenAddr:        getEnv("HTTP_LISTEN_ADDR", ":8090"),
		MetricsListenAddr:     getEnv("METRICS_LISTEN_ADDR", ":9090"),
		TemporalAddress:       getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		ServiceName:           getEnv("SERVICE_NAME", ""),
		TemporalTLSCert:       getEnv("TEMPORAL_TLS_CERT", ""),
		TemporalTLSKey:        getEnv("TEMPORAL_TLS_KEY", ""),
		TemporalTLSCACert:     getEnv("TEMPORAL_TLS_CA_CERT", ""),
		TemporalTLSServerName: getEnv("TEMPORAL_TLS_SERVER_NAME", ""),
		NodeID:                getEnv("NODE_ID", ""),
		NodeSecret:            getEnv("NODE_SECRET", ""),
		FleetAPIURL:           strings.TrimRight(getEnv("FLEET_API_URL", ""), "/"),
		FleetAPICACert:        getEnv("FLEET_API_CA_CERT", ""),
		DiskPath:              getEnv("DISK_PATH", "/"),
		NodeRoles:             splitList(getEnv("NODE_ROLES", "")),
		AgentUpdateDir:        getEnv("AGENT_UPDATE_DIR", ""),
	}

	var err error
	if cfg.StuckJobThreshold, err = getDuration("STUCK_JOB_THRESHOLD", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.HeartbeatInterval, err = getDuration("HEARTBEAT_INTERVAL", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = getDuration("POLL_INTERVAL", 15*time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports every setting the given role needs but lacks.
func (c *Config) Validate(role string) error {
	var missing []string
	require := func(name, value string) {
		if value == "" {
			missing = append(missing, name)
		}
	}

	switch role {
	case RoleAPI:
		require("CORE_DATABASE_URL", c.CoreDatabaseURL)
		require("HTTP_LISTEN_ADDR", c.HTTPListenAddr)
	case RoleWorker:
		require("CORE_DATABASE_URL", c.CoreDatabaseURL)
		require("TEMPORAL_ADDRESS", c.TemporalAddress)
		require("METRICS_LISTEN_ADDR", c.MetricsListenAddr)
	case RoleNodeAgent:
		require("NODE_ID", c.NodeID)
		require("NODE_SECRET", c.NodeSecret)
		require("FLEET_API_URL", c.FleetAPIURL)
	default:
		return fmt.Errorf("unknown role %q", role)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required config for %s: %s", role, strings.Join(missing, ", "))
	}
	if (c.TemporalTLSCert == "") != (c.TemporalTLSKey == "") {
		return fmt.Errorf("TEMPORAL_TLS_CERT and TEMPORAL_TLS_KEY must both be set")
	}
	if role == RoleWorker && c.StuckJobThreshold <= 0 {
		return fmt.Errorf("STUCK_JOB_THRESHOLD must be positive")
	}
	if role == RoleNodeAgent && (c.HeartbeatInterval <= 0 || c.PollInterval <= 0) {
		return fmt.Errorf("HEARTBEAT_INTERVAL and POLL_INTERVAL must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

// splitList parses a comma separated list, dropping empty entries.
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
