package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/edvin/fleet/internal/metrics"
	"github.com/edvin/fleet/internal/model"
	"github.com/edvin/fleet/internal/platform"
)

const poolColumns = `id, node_id, start_port, end_port, protocol, created_at`

const blockColumns = `id, pool_id, customer_id, ports, assigned_workload_id, created_at, updated_at`

// PortService leases port blocks out of per-node port pools.
//
// Every operation that decides which ports are free runs in one transaction
// holding a row lock on the pool, so two concurrent allocations against the
// same pool are serialized and can never both claim a port.
type PortService struct {
	db    DB
	clock Clock
}

func NewPortService(db DB, clock Clock) *PortService {
	return &PortService{db: db, clock: clock}
}

func scanPool(row pgx.Row) (*model.PortPool, error) {
	var p model.PortPool
	if err := row.Scan(&p.ID, &p.NodeID, &p.StartPort, &p.EndPort, &p.Protocol, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanBlock(row pgx.Row) (*model.PortBlock, error) {
	var b model.PortBlock
	if err := row.Scan(&b.ID, &b.PoolID, &b.CustomerID, &b.Ports, &b.AssignedWorkloadID, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

// CreatePool adds a port range to a node. Pools on one node may not overlap.
func (s *PortService) CreatePool(ctx context.Context, pool *model.PortPool) error {
	if pool.NodeID == "" {
		return invalid("node_id", "is required")
	}
	if pool.StartPort < model.MinPort || pool.EndPort > model.MaxPort {
		return invalid("start_port", "range must lie within %d-%d", model.MinPort, model.MaxPort)
	}
	if pool.StartPort > pool.EndPort {
		return invalid("end_port", "must not be below start_port")
	}
	if pool.Protocol == "" {
		pool.Protocol = model.ProtocolTCPUDP
	}
	switch pool.Protocol {
	case model.ProtocolTCP, model.ProtocolUDP, model.ProtocolTCPUDP:
	default:
		return invalid("protocol", "must be one of tcp, udp, tcp+udp")
	}

	if pool.ID == "" {
		pool.ID = platform.NewID()
	}
	pool.CreatedAt = s.clock.Now()

	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var nodeID string
		err := tx.QueryRow(ctx, `SELECT id FROM nodes WHERE id = $1 FOR UPDATE`, pool.NodeID).Scan(&nodeID)
		if err != nil {
			return lookupErr("node", pool.NodeID, err)
		}

		var existing string
		err = tx.QueryRow(ctx,
			`SELECT id FROM port_pools WHERE node_id = $1 AND start_port <= $3 AND end_port >= $2 LIMIT 1`,
			pool.NodeID, pool.StartPort, pool.EndPort,
		).Scan(&existing)
		if err == nil {
			return conflict(ConflictPoolOverlap, existing,
				"port range %d-%d overlaps pool %s on node %s", pool.StartPort, pool.EndPort, existing, pool.NodeID)
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("check pool overlap on node %s: %w", pool.NodeID, err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO port_pools (id, node_id, start_port, end_port, protocol, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			pool.ID, pool.NodeID, pool.StartPort, pool.EndPort, pool.Protocol, pool.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("create port pool: %w", err)
		}
		return nil
	})
}

func (s *PortService) GetPool(ctx context.Context, id string) (*model.PortPool, error) {
	p, err := scanPool(s.db.QueryRow(ctx, `SELECT `+poolColumns+` FROM port_pools WHERE id = $1`, id))
	if err != nil {
		return nil, lookupErr("port pool", id, err)
	}
	return p, nil
}

// ListPoolsByNode returns a node's pools ordered by start port.
func (s *PortService) ListPoolsByNode(ctx context.Context, nodeID string) ([]model.PortPool, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+poolColumns+` FROM port_pools WHERE node_id = $1 ORDER BY start_port`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("list port pools for node %s: %w", nodeID, err)
	}
	defer rows.Close()

	var pools []model.PortPool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("scan port pool: %w", err)
		}
		pools = append(pools, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate port pools: %w", err)
	}
	return pools, nil
}

func (s *PortService) GetBlock(ctx context.Context, id string) (*model.PortBlock, error) {
	b, err := scanBlock(s.db.QueryRow(ctx, `SELECT `+blockColumns+` FROM port_blocks WHERE id = $1`, id))
	if err != nil {
		return nil, lookupErr("port block", id, err)
	}
	return b, nil
}

// ListBlocksByPool returns every block carved from a pool, assigned or not.
func (s *PortService) ListBlocksByPool(ctx context.Context, poolID string) ([]model.PortBlock, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+blockColumns+` FROM port_blocks WHERE pool_id = $1 ORDER BY created_at, id`, poolID)
	if err != nil {
		return nil, fmt.Errorf("list port blocks for pool %s: %w", poolID, err)
	}
	defer rows.Close()

	var blocks []model.PortBlock
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan port block: %w", err)
		}
		blocks = append(blocks, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate port blocks: %w", err)
	}
	return blocks, nil
}

// AllocateBlockParams describes a first-fit allocation. NodeID, when set,
// must match the pool's node. WorkloadID, when set, binds the new block to
// that workload in the same transaction.
type AllocateBlockParams struct {
	PoolID     string
	NodeID     string
	CustomerID string
	PortCount  int
	WorkloadID string
}

// AllocateBlock leases the lowest-starting free contiguous run of PortCount
// ports in the pool. Ports held by assigned blocks are taken; ports of
// released blocks are free.
func (s *PortService) AllocateBlock(ctx context.Context, params AllocateBlockParams) (*model.PortBlock, error) {
	if params.PoolID == "" {
		return nil, invalid("pool_id", "is required")
	}
	if params.CustomerID == "" {
		return nil, invalid("customer_id", "is required")
	}
	if params.PortCount <= 0 {
		return nil, invalid("port_count", "must be positive")
	}

	var block *model.PortBlock
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		pool, taken, err := s.lockPool(ctx, tx, params.PoolID)
		if err != nil {
			return err
		}
		if params.NodeID != "" && pool.NodeID != params.NodeID {
			return conflict(ConflictPoolWrongNode, pool.ID,
				"port pool %s belongs to node %s, not %s", pool.ID, pool.NodeID, params.NodeID)
		}

		ports, ok := FirstFit(pool.StartPort, pool.EndPort, params.PortCount, taken)
		if !ok {
			return &ResourceExhaustedError{PoolID: pool.ID, NodeID: pool.NodeID, Requested: params.PortCount}
		}

		block, err = s.insertBlock(ctx, tx, pool.ID, params.CustomerID, ports, params.WorkloadID)
		return err
	})
	if err != nil {
		s.countFailure(err)
		return nil, err
	}

	metrics.PortAllocations.WithLabelValues(metrics.OutcomeAllocated).Inc()
	zerolog.Ctx(ctx).Info().
		Str("pool_id", block.PoolID).
		Str("block_id", block.ID).
		Str("customer_id", block.CustomerID).
		Str("ports", describePorts(block.Ports)).
		Msg("allocated port block")
	return block, nil
}

// ReservePortsParams describes a lease of an explicit port list.
type ReservePortsParams struct {
	PoolID     string
	CustomerID string
	Ports      []int
	WorkloadID string
}

// ReservePorts leases an explicit list of ports from a pool. Every port must
// lie in the pool and be free.
func (s *PortService) ReservePorts(ctx context.Context, params ReservePortsParams) (*model.PortBlock, error) {
	if params.PoolID == "" {
		return nil, invalid("pool_id", "is required")
	}
	if params.CustomerID == "" {
		return nil, invalid("customer_id", "is required")
	}
	if len(params.Ports) == 0 {
		return nil, invalid("ports", "must not be empty")
	}

	var block *model.PortBlock
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		pool, taken, err := s.lockPool(ctx, tx, params.PoolID)
		if err != nil {
			return err
		}

		ports, err := normalizeExplicitPorts(pool, params.Ports)
		if err != nil {
			return err
		}
		if inUse := overlapping(ports, taken); len(inUse) > 0 {
			return conflict(ConflictBlockPortsInUse, pool.ID,
				"ports %s in pool %s are already leased", FormatPorts(inUse), pool.ID)
		}

		block, err = s.insertBlock(ctx, tx, pool.ID, params.CustomerID, ports, params.WorkloadID)
		return err
	})
	if err != nil {
		s.countFailure(err)
		return nil, err
	}
	metrics.PortAllocations.WithLabelValues(metrics.OutcomeAllocated).Inc()
	return block, nil
}

// ReuseBlockParams names an existing reservation to bind to a new workload.
type ReuseBlockParams struct {
	BlockID    string
	CustomerID string
	NodeID     string
	WorkloadID string
}

// ReuseBlock binds an existing block to a workload. The block must belong to
// the customer, be unassigned, and come from a pool on the workload's node;
// each failed precondition yields its own ConflictKind.
func (s *PortService) ReuseBlock(ctx context.Context, params ReuseBlockParams) (*model.PortBlock, error) {
	if params.BlockID == "" {
		return nil, invalid("port_block_id", "is required")
	}
	if params.CustomerID == "" {
		return nil, invalid("customer_id", "is required")
	}
	if params.NodeID == "" {
		return nil, invalid("node_id", "is required")
	}
	if params.WorkloadID == "" {
		return nil, invalid("workload_id", "is required")
	}

	var block *model.PortBlock
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var b model.PortBlock
		var poolNodeID string
		err := tx.QueryRow(ctx,
			`SELECT b.id, b.pool_id, b.customer_id, b.ports, b.assigned_workload_id, b.created_at, b.updated_at, p.node_id
			 FROM port_blocks b
			 JOIN port_pools p ON p.id = b.pool_id
			 WHERE b.id = $1
			 FOR UPDATE OF b, p`, params.BlockID,
		).Scan(&b.ID, &b.PoolID, &b.CustomerID, &b.Ports, &b.AssignedWorkloadID, &b.CreatedAt, &b.UpdatedAt, &poolNodeID)
		if err != nil {
			return lookupErr("port block", params.BlockID, err)
		}

		if b.CustomerID != params.CustomerID {
			return conflict(ConflictBlockOwnerMismatch, b.ID,
				"port block %s is owned by a different customer", b.ID)
		}
		if b.Assigned() {
			return conflict(ConflictBlockAssigned, b.ID,
				"port block %s is already assigned to workload %s", b.ID, *b.AssignedWorkloadID)
		}
		if poolNodeID != params.NodeID {
			return conflict(ConflictBlockWrongNode, b.ID,
				"port block %s belongs to node %s, not %s", b.ID, poolNodeID, params.NodeID)
		}

		taken, err := s.takenPorts(ctx, tx, b.PoolID)
		if err != nil {
			return err
		}
		if inUse := overlapping(b.Ports, taken); len(inUse) > 0 {
			return conflict(ConflictBlockPortsInUse, b.ID,
				"ports %s of port block %s were leased to another block after release", FormatPorts(inUse), b.ID)
		}

		now := s.clock.Now()
		_, err = tx.Exec(ctx,
			`UPDATE port_blocks SET assigned_workload_id = $1, updated_at = $2 WHERE id = $3`,
			params.WorkloadID, now, b.ID)
		if err != nil {
			return fmt.Errorf("assign port block %s: %w", b.ID, err)
		}
		wl := params.WorkloadID
		b.AssignedWorkloadID = &wl
		b.UpdatedAt = now
		block = &b
		return nil
	})
	if err != nil {
		s.countFailure(err)
		return nil, err
	}
	metrics.PortAllocations.WithLabelValues(metrics.OutcomeReused).Inc()
	return block, nil
}

// ReleaseInstance clears a block's workload binding. The block and its port
// numbers stay leased to the customer for later reuse, but the ports count as
// free for new allocations from now on. A block bound to a workload that has
// not been deleted is still in use and cannot be released.
func (s *PortService) ReleaseInstance(ctx context.Context, blockID string) (*model.PortBlock, error) {
	var block *model.PortBlock
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var assigned, workloadStatus *string
		err := tx.QueryRow(ctx,
			`SELECT b.assigned_workload_id, w.status
			 FROM port_blocks b
			 LEFT JOIN workloads w ON w.id = b.assigned_workload_id
			 WHERE b.id = $1
			 FOR UPDATE OF b`, blockID).Scan(&assigned, &workloadStatus)
		if err != nil {
			return lookupErr("port block", blockID, err)
		}
		if assigned != nil && workloadStatus != nil && *workloadStatus != model.WorkloadStatusDeleted {
			return conflict(ConflictBlockInUse, blockID,
				"port block %s is in use by workload %s (%s); deprovision the workload instead",
				blockID, *assigned, *workloadStatus)
		}
		block, err = s.releaseBlock(ctx, tx, blockID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return block, nil
}

// releaseBlock clears the binding without looking at the workload. Callers
// own the workload side of the change.
func (s *PortService) releaseBlock(ctx context.Context, q DB, blockID string) (*model.PortBlock, error) {
	b, err := scanBlock(q.QueryRow(ctx,
		`UPDATE port_blocks SET assigned_workload_id = NULL, updated_at = $2
		 WHERE id = $1
		 RETURNING `+blockColumns,
		blockID, s.clock.Now()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("port block", blockID)
		}
		return nil, fmt.Errorf("release port block %s: %w", blockID, err)
	}
	zerolog.Ctx(ctx).Info().Str("block_id", blockID).Msg("released port block")
	return b, nil
}

// lockPool takes the pool row lock and loads the ports of its assigned blocks.
func (s *PortService) lockPool(ctx context.Context, tx pgx.Tx, poolID string) (*model.PortPool, map[int]struct{}, error) {
	pool, err := scanPool(tx.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM port_pools WHERE id = $1 FOR UPDATE`, poolID))
	if err != nil {
		return nil, nil, lookupErr("port pool", poolID, err)
	}
	taken, err := s.takenPorts(ctx, tx, poolID)
	if err != nil {
		return nil, nil, err
	}
	return pool, taken, nil
}

func (s *PortService) takenPorts(ctx context.Context, tx pgx.Tx, poolID string) (map[int]struct{}, error) {
	rows, err := tx.Query(ctx,
		`SELECT ports FROM port_blocks WHERE pool_id = $1 AND assigned_workload_id IS NOT NULL`, poolID)
	if err != nil {
		return nil, fmt.Errorf("load leased ports for pool %s: %w", poolID, err)
	}
	defer rows.Close()

	var leased [][]int
	for rows.Next() {
		var ports []int
		if err := rows.Scan(&ports); err != nil {
			return nil, fmt.Errorf("scan leased ports: %w", err)
		}
		leased = append(leased, ports)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leased ports: %w", err)
	}
	return portSet(leased), nil
}

func (s *PortService) insertBlock(ctx context.Context, tx pgx.Tx, poolID, customerID string, ports []int, workloadID string) (*model.PortBlock, error) {
	now := s.clock.Now()
	b := &model.PortBlock{
		ID:         platform.NewID(),
		PoolID:     poolID,
		CustomerID: customerID,
		Ports:      ports,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if workloadID != "" {
		wl := workloadID
		b.AssignedWorkloadID = &wl
	}

	_, err := tx.Exec(ctx,
		`INSERT INTO port_blocks (id, pool_id, customer_id, ports, assigned_workload_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		b.ID, b.PoolID, b.CustomerID, b.Ports, b.AssignedWorkloadID, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert port block in pool %s: %w", poolID, err)
	}
	return b, nil
}

func (s *PortService) countFailure(err error) {
	switch {
	case errors.Is(err, ErrResourceExhausted):
		metrics.PortAllocations.WithLabelValues(metrics.OutcomeExhausted).Inc()
	case errors.Is(err, ErrConflict):
		metrics.PortAllocations.WithLabelValues(metrics.OutcomeConflict).Inc()
	}
}

// describePorts renders a short human form of a block's ports for logs and
// error messages, e.g. "10000-10003" for a contiguous run.
func describePorts(ports []int) string {
	if len(ports) == 0 {
		return ""
	}
	first, last := ports[0], ports[len(ports)-1]
	if last-first+1 == len(ports) {
		if first == last {
			return fmt.Sprintf("%d", first)
		}
		return fmt.Sprintf("%d-%d", first, last)
	}
	return strings.ReplaceAll(FormatPorts(ports), ",", ", ")
}
