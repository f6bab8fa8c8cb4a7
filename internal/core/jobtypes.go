package core

import (
	"github.com/edvin/fleet/internal/model"
)

var requiredPayloadKeys = map[string][]string{
	model.JobTypeInstanceCreate:     {"instance_id", "customer_id"},
	model.JobTypeInstanceDelete:     {"instance_id"},
	model.JobTypeFirewallOpenPorts:  {"instance_id", "ports"},
	model.JobTypeFirewallClosePorts: {"instance_id", "ports"},
	model.JobTypeWebspaceCreate:     {"webspace_id", "customer_id"},
	model.JobTypeWebspaceDelete:     {"webspace_id"},
	model.JobTypeVoiceCreate:        {"voice_id", "customer_id"},
	model.JobTypeVoiceDelete:        {"voice_id"},
	model.JobTypeAgentSelfUpdate:    {},
	model.JobTypeAgentDiskScan:      {},
}

// RequiredPayloadKeys lists the payload keys a job of the given type must
// carry, agent_id first. Types the control plane does not know are passed
// through to the node and only need agent_id.
func RequiredPayloadKeys(jobType string) []string {
	keys := []string{model.JobPayloadAgentID}
	return append(keys, requiredPayloadKeys[jobType]...)
}

// KnownJobType reports whether the control plane knows the payload shape of jobType.
func KnownJobType(jobType string) bool {
	_, ok := requiredPayloadKeys[jobType]
	return ok
}

// ValidateJobPayload checks that a job's payload carries every key its type requires.
func ValidateJobPayload(jobType string, payload map[string]string) error {
	if jobType == "" {
		return invalid("type", "is required")
	}
	for _, key := range RequiredPayloadKeys(jobType) {
		if payload[key] == "" {
			return invalid("payload."+key, "is required for %s jobs", jobType)
		}
	}
	return nil
}
