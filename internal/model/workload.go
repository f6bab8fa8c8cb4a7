package model

import "time"

// Workload kinds provisioned onto nodes.
const (
	WorkloadKindInstance = "instance"
	WorkloadKindWebspace = "webspace"
	WorkloadKindVoice    = "voice"
)

// Workload status values.
const (
	WorkloadStatusProvisioning = "provisioning"
	WorkloadStatusDeleted      = "deleted"
)

type Workload struct {
	ID          string    `json:"id" db:"id"`
	NodeID      string    `json:"node_id" db:"node_id"`
	CustomerID  string    `json:"customer_id" db:"customer_id"`
	Kind        string    `json:"kind" db:"kind"`
	PortBlockID *string   `json:"port_block_id,omitempty" db:"port_block_id"`
	Status      string    `json:"status" db:"status"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
