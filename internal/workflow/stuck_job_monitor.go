package workflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/edvin/fleet/internal/activity"
	"github.com/edvin/fleet/internal/model"
)

// CheckStuckJobsWorkflow runs on a cron schedule and raises an alert for every
// job that has been queued longer than threshold. Jobs are never timed out;
// the alert resolves once the node picks the job up.
func CheckStuckJobsWorkflow(ctx workflow.Context, threshold time.Duration) error {
	ctx = monitorActivityCtx(ctx)

	var stuck []activity.StuckJob
	err := workflow.ExecuteActivity(ctx, "FindStuckJobs", activity.FindStuckJobsParams{
		OlderThan: threshold,
	}).Get(ctx, &stuck)
	if err != nil {
		return fmt.Errorf("find stuck jobs: %w", err)
	}

	active := make([]string, 0, len(stuck))
	for _, j := range stuck {
		key := fmt.Sprintf("%s:%s", model.AlertTypeJobStuck, j.ID)
		active = append(active, key)

		raiseAlert(ctx, activity.RaiseAlertParams{
			DedupeKey: key,
			Type:      model.AlertTypeJobStuck,
			Severity:  "warning",
			Title:     fmt.Sprintf("Job %s stuck in queue", j.Type),
			Detail: fmt.Sprintf("Job %s (%s) for node %s has been queued since %s (%s)",
				j.ID, j.Type, j.NodeID, j.CreatedAt.Format(time.RFC3339), j.Age.Truncate(time.Minute)),
			ResourceType: resourceJob,
			ResourceID:   j.ID,
			Source:       "stuck-job-monitor-cron",
		})
	}

	resolveAlerts(ctx, model.AlertTypeJobStuck, active, "Job was picked up by its node")
	return nil
}
