package request

// RegisterNode is the body of POST /nodes.
type RegisterNode struct {
	Name  string   `json:"name" validate:"required,hostname_rfc1123"`
	Roles []string `json:"roles" validate:"omitempty,dive,required"`
}

// UpdateDiskSettings is the body of PUT /nodes/{id}/disk. Range checks are
// left to the node service so the field names in errors match the model.
type UpdateDiskSettings struct {
	ScanIntervalSeconds int `json:"scan_interval_seconds" validate:"required"`
	WarningPercent      int `json:"warning_percent" validate:"required"`
	HardBlockPercent    int `json:"hard_block_percent" validate:"required"`
	ProtectPercent      int `json:"protection_threshold_percent" validate:"required"`
}

// ProtectionOverride is the body of POST /nodes/{id}/disk/override. Zero
// minutes clears an active override.
type ProtectionOverride struct {
	Minutes int `json:"minutes" validate:"min=0,max=1440"`
}

// SelfUpdate asks a node agent to replace its binary.
type SelfUpdate struct {
	Version string `json:"version" validate:"required"`
	URL     string `json:"url" validate:"required,url"`
	SHA256  string `json:"sha256" validate:"omitempty,len=64,hexadecimal"`
}
