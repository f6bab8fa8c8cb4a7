package core

import (
	"time"

	"github.com/edvin/fleet/internal/model"
)

// Disk policy bounds accepted by UpdateDiskSettings.
const (
	MinDiskScanIntervalSeconds = 60
	MinDiskWarningPercent      = 1
	MaxDiskWarningPercent      = 99
	MinDiskHardBlockPercent    = 100
	MinDiskProtectPercent      = 1
	MaxDiskProtectPercent      = 20
)

// DiskProtectionState is derived from a node's last reported disk stats and
// its disk policy. It is never stored.
type DiskProtectionState struct {
	FreePercent   *float64   `json:"free_percent,omitempty"`
	FreeBytes     *uint64    `json:"free_bytes,omitempty"`
	CheckedAt     *time.Time `json:"checked_at,omitempty"`
	OverrideUntil *time.Time `json:"override_until,omitempty"`

	// ProtectActive is true when free space is at or below the protection
	// threshold, whether or not an override suspends it.
	ProtectActive  bool `json:"protect_active"`
	OverrideActive bool `json:"override_active"`

	// Reporting thresholds. They never gate provisioning.
	WarningActive    bool `json:"warning_active"`
	HardBlockReached bool `json:"hard_block_reached"`
}

// DiskProtection computes the derived disk state of a node at now.
func DiskProtection(node *model.Node, now time.Time) DiskProtectionState {
	st := DiskProtectionState{OverrideUntil: node.Disk.OverrideUntil}
	st.OverrideActive = node.Disk.OverrideUntil != nil && now.Before(*node.Disk.OverrideUntil)

	stats := node.ParsedStats()
	if stats.Disk == nil {
		return st
	}
	st.FreeBytes = stats.Disk.FreeBytes
	st.CheckedAt = stats.Disk.CheckedAt
	st.FreePercent = stats.Disk.FreePercent
	if st.FreePercent == nil {
		return st
	}

	free := *st.FreePercent
	used := 100 - free
	st.ProtectActive = free <= float64(node.Disk.ProtectPercent)
	st.WarningActive = used >= float64(node.Disk.WarningPercent)
	st.HardBlockReached = used >= float64(node.Disk.HardBlockPercent)
	return st
}

// GuardNodeProvisioning decides whether new work may be provisioned on node.
// It returns nil when admitted and an *AdmissionDeniedError otherwise. An
// active override always admits, and unknown free space admits.
func GuardNodeProvisioning(node *model.Node, now time.Time) error {
	st := DiskProtection(node, now)
	if st.OverrideActive {
		return nil
	}
	if st.FreePercent == nil {
		return nil
	}
	if st.ProtectActive {
		return &AdmissionDeniedError{
			NodeID:           node.ID,
			FreePercent:      *st.FreePercent,
			ThresholdPercent: node.Disk.ProtectPercent,
		}
	}
	return nil
}

// ValidateDiskSettings checks the operator-editable policy fields.
func ValidateDiskSettings(s model.DiskSettings) error {
	if s.ScanIntervalSeconds < MinDiskScanIntervalSeconds {
		return invalid("scan_interval_seconds", "must be at least %d", MinDiskScanIntervalSeconds)
	}
	if s.WarningPercent < MinDiskWarningPercent || s.WarningPercent > MaxDiskWarningPercent {
		return invalid("warning_percent", "must be between %d and %d", MinDiskWarningPercent, MaxDiskWarningPercent)
	}
	if s.HardBlockPercent < MinDiskHardBlockPercent {
		return invalid("hard_block_percent", "must be at least %d", MinDiskHardBlockPercent)
	}
	if s.ProtectPercent < MinDiskProtectPercent || s.ProtectPercent > MaxDiskProtectPercent {
		return invalid("protection_threshold_percent", "must be between %d and %d", MinDiskProtectPercent, MaxDiskProtectPercent)
	}
	return nil
}

// OverrideExpiry returns the expiry an override of the given length set at
// now would have. Zero or negative minutes clear the override.
func OverrideExpiry(now time.Time, minutes int) *time.Time {
	if minutes <= 0 {
		return nil
	}
	until := now.Add(time.Duration(minutes) * time.Minute)
	return &until
}
