package core

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/edvin/fleet/internal/model"
)

// TrackedJobTypes are the job types whose most recent instance is shown per
// node on the fleet overview.
var TrackedJobTypes = []string{
	model.JobTypeInstanceCreate,
	model.JobTypeInstanceDelete,
	model.JobTypeWebspaceCreate,
	model.JobTypeWebspaceDelete,
	model.JobTypeVoiceCreate,
	model.JobTypeVoiceDelete,
	model.JobTypeAgentSelfUpdate,
	model.JobTypeAgentDiskScan,
}

// NodeOverview is one row of the fleet overview.
type NodeOverview struct {
	Node      model.Node          `json:"node"`
	Liveness  Liveness            `json:"liveness"`
	Disk      DiskProtectionState `json:"disk_state"`
	LatestJob *model.Job          `json:"latest_job,omitempty"`
}

// FleetOverview holds per-node state plus fleet-wide counters.
type FleetOverview struct {
	Nodes      []NodeOverview `json:"nodes"`
	QueuedJobs int            `json:"queued_jobs"`
	OpenAlerts int            `json:"open_alerts"`
}

type DashboardService struct {
	db    DB
	clock Clock
	nodes *NodeService
	jobs  *JobService
}

func NewDashboardService(db DB, clock Clock, nodes *NodeService, jobs *JobService) *DashboardService {
	return &DashboardService{db: db, clock: clock, nodes: nodes, jobs: jobs}
}

// Overview loads nodes, latest jobs and counters concurrently and derives
// liveness and disk state for every node at a single instant.
func (s *DashboardService) Overview(ctx context.Context) (*FleetOverview, error) {
	var (
		nodes  []model.Node
		latest map[string]*model.Job
		out    FleetOverview
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		nodes, err = s.nodes.ListAll(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		latest, err = s.jobs.LatestByNode(gctx, TrackedJobTypes)
		return err
	})
	g.Go(func() error {
		err := s.db.QueryRow(gctx,
			`SELECT
			   (SELECT count(*) FROM jobs WHERE status = $1),
			   (SELECT count(*) FROM alerts WHERE resolved_at IS NULL)`,
			model.JobStatusQueued,
		).Scan(&out.QueuedJobs, &out.OpenAlerts)
		if err != nil {
			return fmt.Errorf("fleet counters: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	out.Nodes = make([]NodeOverview, 0, len(nodes))
	for i := range nodes {
		n := &nodes[i]
		out.Nodes = append(out.Nodes, NodeOverview{
			Node:      *n,
			Liveness:  ResolveLiveness(n, now),
			Disk:      DiskProtection(n, now),
			LatestJob: latest[n.ID],
		})
	}
	return &out, nil
}
