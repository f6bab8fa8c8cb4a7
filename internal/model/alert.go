package model

import "time"

// Alert types raised by the fleet monitors.
const (
	AlertTypeJobStuck    = "job_stuck"
	AlertTypeNodeOffline = "node_offline"
	AlertTypeDiskProtect = "disk_protect"
)

// Alert is a deduplicated monitor finding. A resolved alert keeps its row.
type Alert struct {
	ID           string     `json:"id" db:"id"`
	DedupeKey    string     `json:"dedupe_key" db:"dedupe_key"`
	Type         string     `json:"type" db:"type"`
	Severity     string     `json:"severity" db:"severity"`
	Title        string     `json:"title" db:"title"`
	Detail       string     `json:"detail" db:"detail"`
	ResourceType string     `json:"resource_type" db:"resource_type"`
	ResourceID   string     `json:"resource_id" db:"resource_id"`
	Source       string     `json:"source" db:"source"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	Resolution   *string    `json:"resolution,omitempty" db:"resolution"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}
