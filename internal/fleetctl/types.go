package fleetctl

// FleetConfig is the declarative fleet file read by fleetctl apply.
type FleetConfig struct {
	APIURL string    `yaml:"api_url"`
	APIKey string    `yaml:"api_key"`
	Nodes  []NodeDef `yaml:"nodes"`
}

type NodeDef struct {
	Name      string        `yaml:"name"`
	Roles     []string      `yaml:"roles"`
	Disk      *DiskDef      `yaml:"disk"`
	PortPools []PortPoolDef `yaml:"port_pools"`
}

// DiskDef replaces the node's disk policy. All four fields are sent, so a
// partial block fails server-side validation.
type DiskDef struct {
	ScanIntervalSeconds int `yaml:"scan_interval_seconds" json:"scan_interval_seconds"`
	WarningPercent      int `yaml:"warning_percent" json:"warning_percent"`
	HardBlockPercent    int `yaml:"hard_block_percent" json:"hard_block_percent"`
	ProtectPercent      int `yaml:"protection_threshold_percent" json:"protection_threshold_percent"`
}

type PortPoolDef struct {
	StartPort int    `yaml:"start_port" json:"start_port"`
	EndPort   int    `yaml:"end_port" json:"end_port"`
	Protocol  string `yaml:"protocol" json:"protocol,omitempty"`
}
