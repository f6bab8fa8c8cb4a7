package core

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/edvin/fleet/internal/metrics"
	"github.com/edvin/fleet/internal/model"
)

// AdmissionService gates provisioning on a node's disk state.
type AdmissionService struct {
	nodes *NodeService
	clock Clock
}

func NewAdmissionService(nodes *NodeService, clock Clock) *AdmissionService {
	return &AdmissionService{nodes: nodes, clock: clock}
}

// Guard loads the node and admits or denies new provisioning on it. The node
// is returned on admission so callers need not load it twice.
func (s *AdmissionService) Guard(ctx context.Context, nodeID string) (*model.Node, error) {
	node, err := s.nodes.GetByID(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	if err := GuardNodeProvisioning(node, s.clock.Now()); err != nil {
		var denied *AdmissionDeniedError
		if errors.As(err, &denied) {
			metrics.AdmissionDenials.Inc()
			zerolog.Ctx(ctx).Warn().
				Str("node_id", nodeID).
				Float64("free_percent", denied.FreePercent).
				Int("threshold_percent", denied.ThresholdPercent).
				Msg("provisioning denied by disk protection")
		}
		return nil, err
	}
	return node, nil
}

// State returns the node together with its derived disk state.
func (s *AdmissionService) State(ctx context.Context, nodeID string) (*model.Node, DiskProtectionState, error) {
	node, err := s.nodes.GetByID(ctx, nodeID)
	if err != nil {
		return nil, DiskProtectionState{}, err
	}
	return node, DiskProtection(node, s.clock.Now()), nil
}
