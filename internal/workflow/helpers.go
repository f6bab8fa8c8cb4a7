package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/fleet/internal/activity"
)

// Resource types recorded on monitor alerts.
const (
	resourceNode = "node"
	resourceJob  = "job"
)

func monitorActivityCtx(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 2,
		},
	})
}

// raiseAlert opens or refreshes an alert. Failures are logged and do not fail
// the monitor run; the next run raises the alert again.
func raiseAlert(ctx workflow.Context, params activity.RaiseAlertParams) {
	var result activity.RaiseAlertResult
	err := workflow.ExecuteActivity(ctx, "RaiseAlert", params).Get(ctx, &result)
	if err != nil {
		workflow.GetLogger(ctx).Warn("failed to raise alert",
			"dedupe_key", params.DedupeKey, "error", err)
		return
	}
	if result.Created {
		workflow.GetLogger(ctx).Info("alert raised",
			"dedupe_key", params.DedupeKey, "alert_id", result.ID)
	}
}

// resolveAlerts resolves every open alert of alertType not named in active.
func resolveAlerts(ctx workflow.Context, alertType string, active []string, resolution string) {
	var count int
	err := workflow.ExecuteActivity(ctx, "ResolveAlerts", activity.ResolveAlertsParams{
		Type:       alertType,
		ActiveKeys: active,
		Resolution: resolution,
	}).Get(ctx, &count)
	if err != nil {
		workflow.GetLogger(ctx).Warn("failed to resolve alerts", "type", alertType, "error", err)
	} else if count > 0 {
		workflow.GetLogger(ctx).Info("resolved alerts", "type", alertType, "count", count)
	}
}
