package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/edvin/fleet/internal/agent"
	"github.com/edvin/fleet/internal/config"
	"github.com/edvin/fleet/internal/logging"
	"github.com/edvin/fleet/internal/metrics"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = config.RoleNodeAgent
	}

	if err := cfg.Validate(config.RoleNodeAgent); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	tlsConfig, err := cfg.AgentTLS()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure fleet API TLS")
	}

	client := agent.NewAPIClient(cfg.FleetAPIURL, cfg.NodeID, cfg.NodeSecret, tlsConfig, logger)
	runner := agent.NewRunner(client, agent.Config{
		Version:           version,
		Roles:             cfg.NodeRoles,
		DiskPath:          cfg.DiskPath,
		HeartbeatInterval: cfg.HeartbeatInterval,
		PollInterval:      cfg.PollInterval,
		UpdateDir:         cfg.AgentUpdateDir,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsListenAddr != "" {
		metricsSrv := metrics.NewServer(cfg.MetricsListenAddr, nil)
		go func() {
			logger.Info().Str("addr", cfg.MetricsListenAddr).Msg("starting metrics server")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer metricsSrv.Close()
	}

	logger.Info().
		Str("api", cfg.FleetAPIURL).
		Str("version", version).
		Dur("heartbeat_interval", cfg.HeartbeatInterval).
		Dur("poll_interval", cfg.PollInterval).
		Msg("starting node agent")

	if err := runner.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("node agent failed")
	}
	logger.Info().Msg("node agent stopped")
}
