package model

import "time"

// Job status values. Succeeded and failed are terminal.
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
)

// Job types the control plane knows the payload shape of.
const (
	JobTypeInstanceCreate     = "instance.create"
	JobTypeInstanceDelete     = "instance.delete"
	JobTypeFirewallOpenPorts  = "firewall.open_ports"
	JobTypeFirewallClosePorts = "firewall.close_ports"
	JobTypeWebspaceCreate     = "webspace.create"
	JobTypeWebspaceDelete     = "webspace.delete"
	JobTypeVoiceCreate        = "voice.create"
	JobTypeVoiceDelete        = "voice.delete"
	JobTypeAgentSelfUpdate    = "agent.self_update"
	JobTypeAgentDiskScan      = "agent.disk_scan"
)

// JobPayloadAgentID is the payload key naming the node a job is addressed to.
const JobPayloadAgentID = "agent_id"

type Job struct {
	ID        string            `json:"id" db:"id"`
	Seq       int64             `json:"-" db:"seq"`
	Type      string            `json:"type" db:"type"`
	Payload   map[string]string `json:"payload" db:"payload"`
	Status    string            `json:"status" db:"status"`
	Result    *JobResult        `json:"result,omitempty"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt time.Time         `json:"updated_at" db:"updated_at"`
}

type JobResult struct {
	Status string         `json:"status" db:"result_status"`
	Output map[string]any `json:"output" db:"result_output"`
}

// AgentID returns the node the job is addressed to.
func (j *Job) AgentID() string {
	return j.Payload[JobPayloadAgentID]
}

// IsJobTerminal reports whether a job in the given status can no longer change.
func IsJobTerminal(status string) bool {
	return status == JobStatusSucceeded || status == JobStatusFailed
}
