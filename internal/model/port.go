package model

import "time"

// Port protocol domains a pool can serve.
const (
	ProtocolTCP    = "tcp"
	ProtocolUDP    = "udp"
	ProtocolTCPUDP = "tcp+udp"
)

const (
	MinPort = 1
	MaxPort = 65535
)

// PortPool is an inclusive port range owned by one node.
type PortPool struct {
	ID        string    `json:"id" db:"id"`
	NodeID    string    `json:"node_id" db:"node_id"`
	StartPort int       `json:"start_port" db:"start_port"`
	EndPort   int       `json:"end_port" db:"end_port"`
	Protocol  string    `json:"protocol" db:"protocol"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Size returns the number of ports in the pool.
func (p *PortPool) Size() int {
	return p.EndPort - p.StartPort + 1
}

// Contains reports whether port lies inside the pool range.
func (p *PortPool) Contains(port int) bool {
	return port >= p.StartPort && port <= p.EndPort
}

// PortBlock is a set of ports from one pool leased to a customer, optionally
// bound to one workload.
type PortBlock struct {
	ID                 string    `json:"id" db:"id"`
	PoolID             string    `json:"pool_id" db:"pool_id"`
	CustomerID         string    `json:"customer_id" db:"customer_id"`
	Ports              []int     `json:"ports" db:"ports"`
	AssignedWorkloadID *string   `json:"assigned_workload_id,omitempty" db:"assigned_workload_id"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// Assigned reports whether the block is bound to a workload.
func (b *PortBlock) Assigned() bool {
	return b.AssignedWorkloadID != nil && *b.AssignedWorkloadID != ""
}
