package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/fleet/internal/model"
)

var (
	jobsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "node_agent_jobs_total",
			Help: "Jobs handled by the node agent, by type and final status",
		},
		[]string{"type", "status"},
	)
	heartbeatFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "node_agent_heartbeat_failures_total",
			Help: "Heartbeats the fleet API did not accept",
		},
	)
)

// Handler executes one job and returns the output to report.
type Handler func(ctx context.Context, job model.Job) (map[string]any, error)

// Config holds the runner's schedule and node facts.
type Config struct {
	Version           string
	Roles             []string
	DiskPath          string
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	UpdateDir         string
}

// Client is the subset of the fleet API the runner uses.
type Client interface {
	Heartbeat(ctx context.Context, hb model.Heartbeat) (*HeartbeatResponse, error)
	PollJobs(ctx context.Context) ([]model.Job, error)
	ReportResult(ctx context.Context, jobID, status string, output map[string]any) error
}

type pendingResult struct {
	jobID   string
	jobType string
	status  string
	output  map[string]any
}

// Runner drives the heartbeat loop and the job poll loop.
type Runner struct {
	client   Client
	cfg      Config
	logger   zerolog.Logger
	handlers map[string]Handler
	statDisk func(path string, now time.Time) (*model.DiskStats, error)
	now      func() time.Time

	mu           sync.Mutex
	disk         *model.DiskStats
	scanInterval time.Duration
	pending      []pendingResult
}

func NewRunner(client Client, cfg Config, logger zerolog.Logger) *Runner {
	r := &Runner{
		client:       client,
		cfg:          cfg,
		logger:       logger.With().Str("component", "runner").Logger(),
		handlers:     make(map[string]Handler),
		statDisk:     StatDisk,
		now:          time.Now,
		scanInterval: time.Duration(model.DefaultDiskScanIntervalSeconds) * time.Second,
	}
	r.Handle(model.JobTypeAgentDiskScan, r.handleDiskScan)
	r.Handle(model.JobTypeAgentSelfUpdate, newSelfUpdater(cfg.UpdateDir).handle)
	return r
}

// Handle registers the handler for a job type, replacing any previous one.
func (r *Runner) Handle(jobType string, h Handler) {
	r.handlers[jobType] = h
}

// Run heartbeats and polls until ctx is cancelled. Failed cycles are logged
// and retried on the next tick.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.loop(ctx, r.cfg.HeartbeatInterval, r.heartbeatOnce)
		return nil
	})
	g.Go(func() error {
		r.loop(ctx, r.cfg.PollInterval, r.pollOnce)
		return nil
	})
	return g.Wait()
}

func (r *Runner) loop(ctx context.Context, interval time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn().Err(err).Msg("agent cycle failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// heartbeatOnce rescans the disk when the last scan is older than the
// node's scan interval and sends a heartbeat.
func (r *Runner) heartbeatOnce(ctx context.Context) error {
	r.mu.Lock()
	due := r.disk == nil || r.disk.CheckedAt == nil || r.now().Sub(*r.disk.CheckedAt) >= r.scanInterval
	r.mu.Unlock()
	if due {
		if _, err := r.scanDisk(); err != nil {
			r.logger.Warn().Err(err).Msg("disk scan failed")
		}
	}
	return r.sendHeartbeat(ctx)
}

func (r *Runner) scanDisk() (*model.DiskStats, error) {
	stats, err := r.statDisk(r.cfg.DiskPath, r.now())
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.disk = stats
	r.mu.Unlock()
	return stats, nil
}

func (r *Runner) sendHeartbeat(ctx context.Context) error {
	r.mu.Lock()
	stats, err := json.Marshal(model.NodeStats{OS: runtime.GOOS, Arch: runtime.GOARCH, Disk: r.disk})
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}

	resp, err := r.client.Heartbeat(ctx, model.Heartbeat{
		Stats:   stats,
		Version: r.cfg.Version,
		Roles:   r.cfg.Roles,
	})
	if err != nil {
		heartbeatFailures.Inc()
		return err
	}

	if resp.Disk.ScanIntervalSeconds > 0 {
		r.mu.Lock()
		r.scanInterval = time.Duration(resp.Disk.ScanIntervalSeconds) * time.Second
		r.mu.Unlock()
	}
	r.logger.Debug().Str("status", resp.Status).Msg("heartbeat accepted")
	return nil
}

// pollOnce resends results that failed to report, then claims and runs the
// node's queued jobs in the order the server returned them.
func (r *Runner) pollOnce(ctx context.Context) error {
	r.flushPending(ctx)

	jobs, err := r.client.PollJobs(ctx)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.runJob(ctx, job)
	}
	return nil
}

func (r *Runner) runJob(ctx context.Context, job model.Job) {
	log := r.logger.With().Str("job_id", job.ID).Str("job_type", job.Type).Logger()

	status := model.JobStatusSucceeded
	var output map[string]any

	h, ok := r.handlers[job.Type]
	if !ok {
		status = model.JobStatusFailed
		output = map[string]any{"error": "unsupported job type " + job.Type}
	} else {
		var err error
		output, err = h(ctx, job)
		if err != nil {
			status = model.JobStatusFailed
			if output == nil {
				output = map[string]any{}
			}
			output["error"] = err.Error()
		}
	}

	log.Info().Str("status", status).Msg("job finished")
	jobsHandled.WithLabelValues(job.Type, status).Inc()
	r.report(ctx, pendingResult{jobID: job.ID, jobType: job.Type, status: status, output: output})
}

func (r *Runner) report(ctx context.Context, res pendingResult) {
	err := r.client.ReportResult(ctx, res.jobID, res.status, res.output)
	if err == nil {
		return
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Permanent() {
		r.logger.Warn().Err(err).Str("job_id", res.jobID).Msg("result rejected, dropping")
		return
	}
	r.logger.Warn().Err(err).Str("job_id", res.jobID).Msg("result not reported, will retry")
	r.mu.Lock()
	r.pending = append(r.pending, res)
	r.mu.Unlock()
}

func (r *Runner) flushPending(ctx context.Context) {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()

	for _, res := range pending {
		r.report(ctx, res)
	}
}

func (r *Runner) handleDiskScan(ctx context.Context, job model.Job) (map[string]any, error) {
	stats, err := r.scanDisk()
	if err != nil {
		return nil, err
	}
	if err := r.sendHeartbeat(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("heartbeat after disk scan failed")
	}

	out := map[string]any{}
	if stats.FreeBytes != nil {
		out["free_bytes"] = *stats.FreeBytes
	}
	if stats.TotalBytes != nil {
		out["total_bytes"] = *stats.TotalBytes
	}
	if stats.FreePercent != nil {
		out["free_percent"] = *stats.FreePercent
	}
	return out, nil
}
