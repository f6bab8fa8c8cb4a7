package core

import (
	"context"
	"fmt"

	"github.com/edvin/fleet/internal/model"
	"github.com/edvin/fleet/internal/platform"
)

const alertColumns = `id, dedupe_key, type, severity, title, detail, resource_type, resource_id,
	source, resolved_at, resolution, created_at, updated_at`

// AlertService stores monitor findings. At most one unresolved alert exists
// per dedupe key.
type AlertService struct {
	db    DB
	clock Clock
}

func NewAlertService(db DB, clock Clock) *AlertService {
	return &AlertService{db: db, clock: clock}
}

// Raise opens an alert, or refreshes the detail of the unresolved alert with
// the same dedupe key. It reports whether a new alert was opened.
func (s *AlertService) Raise(ctx context.Context, a *model.Alert) (bool, error) {
	if a.DedupeKey == "" {
		return false, invalid("dedupe_key", "is required")
	}
	now := s.clock.Now()
	id := platform.NewID()

	var created bool
	err := s.db.QueryRow(ctx,
		`INSERT INTO alerts (id, dedupe_key, type, severity, title, detail, resource_type, resource_id,
		   source, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		 ON CONFLICT (dedupe_key) WHERE resolved_at IS NULL
		 DO UPDATE SET detail = EXCLUDED.detail, severity = EXCLUDED.severity, updated_at = EXCLUDED.updated_at
		 RETURNING id, created_at, (xmax = 0)`,
		id, a.DedupeKey, a.Type, a.Severity, a.Title, a.Detail, a.ResourceType, a.ResourceID,
		a.Source, now,
	).Scan(&a.ID, &a.CreatedAt, &created)
	if err != nil {
		return false, fmt.Errorf("raise alert %s: %w", a.DedupeKey, err)
	}
	a.UpdatedAt = now
	return created, nil
}

// ResolveMissing resolves every unresolved alert of alertType whose dedupe
// key is not in active and returns how many were resolved.
func (s *AlertService) ResolveMissing(ctx context.Context, alertType string, active []string, resolution string) (int, error) {
	if active == nil {
		active = []string{}
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE alerts SET resolved_at = $3, resolution = $4, updated_at = $3
		 WHERE type = $1 AND resolved_at IS NULL AND NOT (dedupe_key = ANY($2))`,
		alertType, active, s.clock.Now(), resolution)
	if err != nil {
		return 0, fmt.Errorf("resolve %s alerts: %w", alertType, err)
	}
	return int(tag.RowsAffected()), nil
}

// List returns alerts newest first. Resolved alerts are included only when
// includeResolved is set.
func (s *AlertService) List(ctx context.Context, includeResolved bool, limit int) ([]model.Alert, error) {
	if limit <= 0 {
		return nil, invalid("limit", "must be positive")
	}
	query := `SELECT ` + alertColumns + ` FROM alerts`
	if !includeResolved {
		query += ` WHERE resolved_at IS NULL`
	}
	query += ` ORDER BY created_at DESC, id LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		var a model.Alert
		if err := rows.Scan(&a.ID, &a.DedupeKey, &a.Type, &a.Severity, &a.Title, &a.Detail,
			&a.ResourceType, &a.ResourceID, &a.Source, &a.ResolvedAt, &a.Resolution,
			&a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return alerts, nil
}
