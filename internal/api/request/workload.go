package request

type ProvisionWorkload struct {
	NodeID      string `json:"node_id" validate:"required"`
	CustomerID  string `json:"customer_id" validate:"required"`
	Kind        string `json:"kind" validate:"required,oneof=instance webspace voice"`
	PortCount   int    `json:"port_count" validate:"min=0"`
	PoolID      string `json:"pool_id"`
	PortBlockID string `json:"port_block_id"`
}
