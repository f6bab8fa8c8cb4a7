package workflow

import (
	"fmt"

	"go.temporal.io/sdk/workflow"

	"github.com/edvin/fleet/internal/activity"
	"github.com/edvin/fleet/internal/model"
)

// CheckDiskProtectionWorkflow runs on a cron schedule and raises an alert for
// every node refusing new workloads because free disk is at or below its
// protection threshold. A node with an active override is admitting work and
// is not alerted on.
func CheckDiskProtectionWorkflow(ctx workflow.Context) error {
	ctx = monitorActivityCtx(ctx)

	var nodes []activity.NodeHealth
	if err := workflow.ExecuteActivity(ctx, "ListNodeHealth").Get(ctx, &nodes); err != nil {
		return fmt.Errorf("list node health: %w", err)
	}

	active := []string{}
	for _, n := range nodes {
		if !n.DiskProtectActive || n.DiskOverride || n.DiskFreePercent == nil {
			continue
		}
		key := fmt.Sprintf("%s:%s", model.AlertTypeDiskProtect, n.ID)
		active = append(active, key)

		raiseAlert(ctx, activity.RaiseAlertParams{
			DedupeKey: key,
			Type:      model.AlertTypeDiskProtect,
			Severity:  "warning",
			Title:     fmt.Sprintf("Node %s refusing new workloads", n.Name),
			Detail: fmt.Sprintf("Node %s (%s) has %.1f%% disk free, at or below its %d%% protection threshold",
				n.Name, n.ID, *n.DiskFreePercent, n.ProtectPercent),
			ResourceType: resourceNode,
			ResourceID:   n.ID,
			Source:       "disk-protection-monitor-cron",
		})
	}

	resolveAlerts(ctx, model.AlertTypeDiskProtect, active, "Disk protection no longer blocks provisioning")
	return nil
}
