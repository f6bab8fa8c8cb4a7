package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/edvin/fleet/internal/model"
	"github.com/edvin/fleet/internal/platform"
)

const workloadColumns = `id, node_id, customer_id, kind, port_block_id, status, created_at, updated_at`

// workloadJobs maps a workload kind to its create/delete job types and the
// payload key carrying the workload id.
var workloadJobs = map[string]struct {
	create, delete, idKey string
}{
	model.WorkloadKindInstance: {model.JobTypeInstanceCreate, model.JobTypeInstanceDelete, "instance_id"},
	model.WorkloadKindWebspace: {model.JobTypeWebspaceCreate, model.JobTypeWebspaceDelete, "webspace_id"},
	model.WorkloadKindVoice:    {model.JobTypeVoiceCreate, model.JobTypeVoiceDelete, "voice_id"},
}

// ProvisionService places customer workloads on nodes. It checks disk
// admission first, then leases ports, then records the workload, and only
// then enqueues node jobs, so a denial or conflict leaves nothing behind.
type ProvisionService struct {
	db        DB
	clock     Clock
	admission *AdmissionService
	ports     *PortService
	jobs      *JobService
}

func NewProvisionService(db DB, clock Clock, admission *AdmissionService, ports *PortService, jobs *JobService) *ProvisionService {
	return &ProvisionService{db: db, clock: clock, admission: admission, ports: ports, jobs: jobs}
}

// ProvisionParams describes a workload to place. PortBlockID reuses an
// existing reservation; otherwise PortCount ports are allocated from PoolID,
// or from the node's pools in start-port order when PoolID is empty.
type ProvisionParams struct {
	NodeID      string
	CustomerID  string
	Kind        string
	PortCount   int
	PoolID      string
	PortBlockID string
}

type ProvisionResult struct {
	Workload  *model.Workload  `json:"workload"`
	PortBlock *model.PortBlock `json:"port_block,omitempty"`
	Jobs      []model.Job      `json:"jobs"`
}

func (p ProvisionParams) validate() error {
	if p.NodeID == "" {
		return invalid("node_id", "is required")
	}
	if p.CustomerID == "" {
		return invalid("customer_id", "is required")
	}
	if _, ok := workloadJobs[p.Kind]; !ok {
		return invalid("kind", "must be one of instance, webspace, voice")
	}
	if p.PortCount < 0 {
		return invalid("port_count", "must not be negative")
	}
	if p.PortBlockID != "" && (p.PortCount > 0 || p.PoolID != "") {
		return invalid("port_block_id", "cannot be combined with port_count or pool_id")
	}
	if p.PoolID != "" && p.PortCount == 0 {
		return invalid("port_count", "is required when pool_id is set")
	}
	return nil
}

func (s *ProvisionService) Provision(ctx context.Context, params ProvisionParams) (*ProvisionResult, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	if _, err := s.admission.Guard(ctx, params.NodeID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	wl := &model.Workload{
		ID:         platform.NewID(),
		NodeID:     params.NodeID,
		CustomerID: params.CustomerID,
		Kind:       params.Kind,
		Status:     model.WorkloadStatusProvisioning,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	block, err := s.leasePorts(ctx, params, wl.ID)
	if err != nil {
		return nil, err
	}
	if block != nil {
		wl.PortBlockID = &block.ID
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO workloads (id, node_id, customer_id, kind, port_block_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		wl.ID, wl.NodeID, wl.CustomerID, wl.Kind, wl.PortBlockID, wl.Status, wl.CreatedAt, wl.UpdatedAt,
	)
	if err != nil {
		if block != nil {
			if _, relErr := s.ports.releaseBlock(ctx, s.db, block.ID); relErr != nil {
				zerolog.Ctx(ctx).Error().Err(relErr).Str("block_id", block.ID).Msg("release port block after failed workload insert")
			}
		}
		return nil, fmt.Errorf("create workload: %w", err)
	}

	result := &ProvisionResult{Workload: wl, PortBlock: block}
	kind := workloadJobs[wl.Kind]
	create, err := s.jobs.Enqueue(ctx, kind.create, map[string]string{
		model.JobPayloadAgentID: wl.NodeID,
		kind.idKey:              wl.ID,
		"customer_id":           wl.CustomerID,
	})
	if err != nil {
		return nil, err
	}
	result.Jobs = append(result.Jobs, *create)

	if block != nil {
		open, err := s.jobs.Enqueue(ctx, model.JobTypeFirewallOpenPorts, map[string]string{
			model.JobPayloadAgentID: wl.NodeID,
			"instance_id":           wl.ID,
			"ports":                 FormatPorts(block.Ports),
		})
		if err != nil {
			return nil, err
		}
		result.Jobs = append(result.Jobs, *open)
	}

	zerolog.Ctx(ctx).Info().
		Str("workload_id", wl.ID).
		Str("node_id", wl.NodeID).
		Str("kind", wl.Kind).
		Int("jobs", len(result.Jobs)).
		Msg("workload provisioned")
	return result, nil
}

func (s *ProvisionService) leasePorts(ctx context.Context, params ProvisionParams, workloadID string) (*model.PortBlock, error) {
	switch {
	case params.PortBlockID != "":
		return s.ports.ReuseBlock(ctx, ReuseBlockParams{
			BlockID:    params.PortBlockID,
			CustomerID: params.CustomerID,
			NodeID:     params.NodeID,
			WorkloadID: workloadID,
		})
	case params.PortCount == 0:
		return nil, nil
	case params.PoolID != "":
		return s.ports.AllocateBlock(ctx, AllocateBlockParams{
			PoolID:     params.PoolID,
			NodeID:     params.NodeID,
			CustomerID: params.CustomerID,
			PortCount:  params.PortCount,
			WorkloadID: workloadID,
		})
	}

	pools, err := s.ports.ListPoolsByNode(ctx, params.NodeID)
	if err != nil {
		return nil, err
	}
	for _, pool := range pools {
		block, err := s.ports.AllocateBlock(ctx, AllocateBlockParams{
			PoolID:     pool.ID,
			NodeID:     params.NodeID,
			CustomerID: params.CustomerID,
			PortCount:  params.PortCount,
			WorkloadID: workloadID,
		})
		if errors.Is(err, ErrResourceExhausted) {
			continue
		}
		return block, err
	}
	return nil, &ResourceExhaustedError{NodeID: params.NodeID, Requested: params.PortCount}
}

// Deprovision marks the workload deleted, releases its port block back to
// the customer and enqueues the node-side teardown, all in one transaction:
// either every step lands or none does and the call can be retried.
// Deprovisioning a deleted workload is a no-op that returns no jobs.
func (s *ProvisionService) Deprovision(ctx context.Context, workloadID string) (*ProvisionResult, error) {
	var result *ProvisionResult
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		wl, err := scanWorkload(tx.QueryRow(ctx,
			`SELECT `+workloadColumns+` FROM workloads WHERE id = $1 FOR UPDATE`, workloadID))
		if err != nil {
			return lookupErr("workload", workloadID, err)
		}
		result = &ProvisionResult{Workload: wl}
		if wl.Status == model.WorkloadStatusDeleted {
			return nil
		}

		now := s.clock.Now()
		if _, err := tx.Exec(ctx,
			`UPDATE workloads SET status = $2, updated_at = $3 WHERE id = $1`,
			wl.ID, model.WorkloadStatusDeleted, now); err != nil {
			return fmt.Errorf("deprovision workload %s: %w", wl.ID, err)
		}
		wl.Status = model.WorkloadStatusDeleted
		wl.UpdatedAt = now

		if wl.PortBlockID != nil {
			block, err := s.ports.releaseBlock(ctx, tx, *wl.PortBlockID)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			if block != nil {
				result.PortBlock = block
				closeJob, err := s.jobs.enqueue(ctx, tx, model.JobTypeFirewallClosePorts, map[string]string{
					model.JobPayloadAgentID: wl.NodeID,
					"instance_id":           wl.ID,
					"ports":                 FormatPorts(block.Ports),
				})
				if err != nil {
					return err
				}
				result.Jobs = append(result.Jobs, *closeJob)
			}
		}

		kind := workloadJobs[wl.Kind]
		del, err := s.jobs.enqueue(ctx, tx, kind.delete, map[string]string{
			model.JobPayloadAgentID: wl.NodeID,
			kind.idKey:              wl.ID,
		})
		if err != nil {
			return err
		}
		result.Jobs = append(result.Jobs, *del)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(result.Jobs) > 0 {
		zerolog.Ctx(ctx).Info().Str("workload_id", workloadID).Str("node_id", result.Workload.NodeID).Msg("workload deprovisioned")
	}
	return result, nil
}

func scanWorkload(row pgx.Row) (*model.Workload, error) {
	var w model.Workload
	if err := row.Scan(&w.ID, &w.NodeID, &w.CustomerID, &w.Kind, &w.PortBlockID, &w.Status, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *ProvisionService) GetWorkload(ctx context.Context, id string) (*model.Workload, error) {
	w, err := scanWorkload(s.db.QueryRow(ctx, `SELECT `+workloadColumns+` FROM workloads WHERE id = $1`, id))
	if err != nil {
		return nil, lookupErr("workload", id, err)
	}
	return w, nil
}

// ListWorkloadsByNode returns the node's workloads, newest first.
func (s *ProvisionService) ListWorkloadsByNode(ctx context.Context, nodeID string) ([]model.Workload, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+workloadColumns+` FROM workloads WHERE node_id = $1 ORDER BY created_at DESC, id`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("list workloads for node %s: %w", nodeID, err)
	}
	defer rows.Close()

	var out []model.Workload
	for rows.Next() {
		w, err := scanWorkload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workload: %w", err)
		}
		out = append(out, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workloads: %w", err)
	}
	return out, nil
}
