package workflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/edvin/fleet/internal/activity"
	"github.com/edvin/fleet/internal/model"
)

// CheckNodeLivenessWorkflow runs on a cron schedule and raises an alert for
// every node whose derived liveness is offline. Alerts for nodes that came
// back, or were deleted, are resolved.
func CheckNodeLivenessWorkflow(ctx workflow.Context) error {
	ctx = monitorActivityCtx(ctx)

	var nodes []activity.NodeHealth
	if err := workflow.ExecuteActivity(ctx, "ListNodeHealth").Get(ctx, &nodes); err != nil {
		return fmt.Errorf("list node health: %w", err)
	}

	active := []string{}
	for _, n := range nodes {
		if !n.Offline {
			continue
		}
		key := fmt.Sprintf("%s:%s", model.AlertTypeNodeOffline, n.ID)
		active = append(active, key)

		detail := fmt.Sprintf("Node %s (%s) has never sent a heartbeat", n.Name, n.ID)
		if n.LastHeartbeatAt != nil {
			detail = fmt.Sprintf("Node %s (%s) last sent a heartbeat at %s", n.Name, n.ID, n.LastHeartbeatAt.Format(time.RFC3339))
		}

		raiseAlert(ctx, activity.RaiseAlertParams{
			DedupeKey:    key,
			Type:         model.AlertTypeNodeOffline,
			Severity:     "critical",
			Title:        fmt.Sprintf("Node %s offline", n.Name),
			Detail:       detail,
			ResourceType: resourceNode,
			ResourceID:   n.ID,
			Source:       "node-liveness-monitor-cron",
		})
	}

	resolveAlerts(ctx, model.AlertTypeNodeOffline, active, "Node is sending heartbeats again")
	return nil
}
