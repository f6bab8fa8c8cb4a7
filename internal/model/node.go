package model

import (
	"encoding/json"
	"time"
)

// Node status values a node may report about itself. Any other non-empty
// string is an operator or node supplied override and is shown verbatim.
const (
	NodeStatusOnline  = "online"
	NodeStatusStale   = "stale"
	NodeStatusOffline = "offline"
)

// Node roles known to the control plane.
const (
	NodeRoleWeb  = "Web"
	NodeRoleGame = "Game"
	NodeRoleTS3  = "TS3"
)

// Default disk policy applied at registration.
const (
	DefaultDiskScanIntervalSeconds = 300
	DefaultDiskWarningPercent      = 85
	DefaultDiskHardBlockPercent    = 100
	DefaultDiskProtectPercent      = 5
)

type Node struct {
	ID              string          `json:"id" db:"id"`
	Name            string          `json:"name" db:"name"`
	Roles           []string        `json:"roles" db:"roles"`
	Status          string          `json:"status" db:"status"`
	LastHeartbeatAt *time.Time      `json:"last_heartbeat_at,omitempty" db:"last_heartbeat_at"`
	LastSeenAt      *time.Time      `json:"last_seen_at,omitempty" db:"last_seen_at"`
	LastIP          *string         `json:"last_ip,omitempty" db:"last_ip"`
	LastVersion     *string         `json:"last_version,omitempty" db:"last_version"`
	Stats           json.RawMessage `json:"stats,omitempty" db:"stats"`
	Metadata        json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	Disk            DiskSettings    `json:"disk"`
	SecretHash      string          `json:"-" db:"secret_hash"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// DiskSettings holds the per-node disk policy.
type DiskSettings struct {
	ScanIntervalSeconds int        `json:"scan_interval_seconds" db:"disk_scan_interval_s"`
	WarningPercent      int        `json:"warning_percent" db:"disk_warning_pct"`
	HardBlockPercent    int        `json:"hard_block_percent" db:"disk_hard_block_pct"`
	ProtectPercent      int        `json:"protection_threshold_percent" db:"disk_protect_threshold_pct"`
	OverrideUntil       *time.Time `json:"protection_override_until,omitempty" db:"disk_protect_override_until"`
}

// DefaultDiskSettings returns the policy a freshly registered node starts with.
func DefaultDiskSettings() DiskSettings {
	return DiskSettings{
		ScanIntervalSeconds: DefaultDiskScanIntervalSeconds,
		WarningPercent:      DefaultDiskWarningPercent,
		HardBlockPercent:    DefaultDiskHardBlockPercent,
		ProtectPercent:      DefaultDiskProtectPercent,
	}
}

// NodeStats is the typed view of the stats blob a node sends with each
// heartbeat. Fields the control plane does not know about are kept in the
// raw blob on Node.Stats and ignored here.
type NodeStats struct {
	OS   string     `json:"os,omitempty"`
	Arch string     `json:"arch,omitempty"`
	Disk *DiskStats `json:"disk,omitempty"`
}

type DiskStats struct {
	FreeBytes   *uint64    `json:"free_bytes,omitempty"`
	TotalBytes  *uint64    `json:"total_bytes,omitempty"`
	FreePercent *float64   `json:"free_percent,omitempty"`
	CheckedAt   *time.Time `json:"checked_at,omitempty"`
}

// ParsedStats decodes the node's last reported stats. A node that never sent
// stats, or sent something undecodable, yields an empty NodeStats.
func (n *Node) ParsedStats() NodeStats {
	var s NodeStats
	if len(n.Stats) == 0 {
		return s
	}
	if err := json.Unmarshal(n.Stats, &s); err != nil {
		return NodeStats{}
	}
	return s
}

// Heartbeat is the payload a node posts on every heartbeat.
type Heartbeat struct {
	Stats    json.RawMessage `json:"stats"`
	Version  string          `json:"version"`
	IP       string          `json:"ip"`
	Roles    []string        `json:"roles"`
	Metadata json.RawMessage `json:"metadata"`
	Status   *string         `json:"status"`
}
