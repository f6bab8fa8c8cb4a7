package activity

import (
	"context"
	"fmt"

	"github.com/edvin/fleet/internal/model"
)

// RaiseAlertParams holds parameters for raising an alert via Temporal activity.
type RaiseAlertParams struct {
	DedupeKey    string `json:"dedupe_key"`
	Type         string `json:"type"`
	Severity     string `json:"severity"`
	Title        string `json:"title"`
	Detail       string `json:"detail"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	Source       string `json:"source"`
}

// RaiseAlertResult holds the result of raising an alert.
type RaiseAlertResult struct {
	ID      string `json:"id"`
	Created bool   `json:"created"` // false when an open alert was refreshed
}

// RaiseAlert opens an alert or refreshes the open one with the same dedupe key.
func (a *CoreDB) RaiseAlert(ctx context.Context, params RaiseAlertParams) (*RaiseAlertResult, error) {
	alert := &model.Alert{
		DedupeKey:    params.DedupeKey,
		Type:         params.Type,
		Severity:     params.Severity,
		Title:        params.Title,
		Detail:       params.Detail,
		ResourceType: params.ResourceType,
		ResourceID:   params.ResourceID,
		Source:       params.Source,
	}
	created, err := a.services.Alert.Raise(ctx, alert)
	if err != nil {
		return nil, fmt.Errorf("raise alert: %w", err)
	}
	return &RaiseAlertResult{ID: alert.ID, Created: created}, nil
}

// ResolveAlertsParams holds parameters for resolving alerts whose condition cleared.
type ResolveAlertsParams struct {
	Type       string   `json:"type"`
	ActiveKeys []string `json:"active_keys"`
	Resolution string   `json:"resolution"`
}

// ResolveAlerts resolves open alerts of Type whose dedupe key is not in ActiveKeys.
func (a *CoreDB) ResolveAlerts(ctx context.Context, params ResolveAlertsParams) (int, error) {
	n, err := a.services.Alert.ResolveMissing(ctx, params.Type, params.ActiveKeys, params.Resolution)
	if err != nil {
		return 0, fmt.Errorf("resolve alerts: %w", err)
	}
	return n, nil
}
