package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/fleet/internal/core"
	"github.com/edvin/fleet/internal/model"
)

// CoreDB contains activities that read from and update the core database.
// Every query goes through the core services so monitors see the same
// derived state as the API.
type CoreDB struct {
	services *core.Services
	clock    core.Clock
}

// NewCoreDB creates a new CoreDB activity struct.
func NewCoreDB(db core.DB, clock core.Clock) *CoreDB {
	return &CoreDB{services: core.NewServices(db, clock), clock: clock}
}

// FindStuckJobsParams holds the parameters for FindStuckJobs.
type FindStuckJobsParams struct {
	OlderThan time.Duration `json:"older_than"`
	Limit     int           `json:"limit"`
}

// StuckJob is a job that has sat in the queue longer than the threshold.
type StuckJob struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	NodeID    string        `json:"node_id"`
	CreatedAt time.Time     `json:"created_at"`
	Age       time.Duration `json:"age"`
}

// FindStuckJobs returns queued jobs created more than OlderThan ago.
func (a *CoreDB) FindStuckJobs(ctx context.Context, params FindStuckJobsParams) ([]StuckJob, error) {
	if params.OlderThan <= 0 {
		return nil, fmt.Errorf("find stuck jobs: threshold must be positive")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 500
	}
	now := a.clock.Now()
	jobs, err := a.services.Job.ListQueuedBefore(ctx, now.Add(-params.OlderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("find stuck jobs: %w", err)
	}

	stuck := make([]StuckJob, 0, len(jobs))
	for _, j := range jobs {
		stuck = append(stuck, StuckJob{
			ID:        j.ID,
			Type:      j.Type,
			NodeID:    j.AgentID(),
			CreatedAt: j.CreatedAt,
			Age:       now.Sub(j.CreatedAt),
		})
	}
	return stuck, nil
}

// NodeHealth is the derived liveness and disk state of one node.
type NodeHealth struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Status            string     `json:"status"`
	Offline           bool       `json:"offline"`
	LastHeartbeatAt   *time.Time `json:"last_heartbeat_at,omitempty"`
	DiskFreePercent   *float64   `json:"disk_free_percent,omitempty"`
	DiskProtectActive bool       `json:"disk_protect_active"`
	DiskOverride      bool       `json:"disk_override"`
	ProtectPercent    int        `json:"protect_percent"`
}

// ListNodeHealth returns the derived state of every registered node.
func (a *CoreDB) ListNodeHealth(ctx context.Context) ([]NodeHealth, error) {
	nodes, err := a.services.Node.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list node health: %w", err)
	}

	now := a.clock.Now()
	health := make([]NodeHealth, 0, len(nodes))
	for i := range nodes {
		health = append(health, nodeHealth(&nodes[i], now))
	}
	return health, nil
}

func nodeHealth(n *model.Node, now time.Time) NodeHealth {
	live := core.ResolveLiveness(n, now)
	disk := core.DiskProtection(n, now)
	return NodeHealth{
		ID:                n.ID,
		Name:              n.Name,
		Status:            live.String(),
		Offline:           live.Kind == core.LivenessOffline,
		LastHeartbeatAt:   n.LastHeartbeatAt,
		DiskFreePercent:   disk.FreePercent,
		DiskProtectActive: disk.ProtectActive,
		DiskOverride:      disk.OverrideActive,
		ProtectPercent:    n.Disk.ProtectPercent,
	}
}
