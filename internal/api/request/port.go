package request

type CreatePortPool struct {
	StartPort int    `json:"start_port" validate:"required,min=1,max=65535"`
	EndPort   int    `json:"end_port" validate:"required,min=1,max=65535,gtefield=StartPort"`
	Protocol  string `json:"protocol" validate:"omitempty,oneof=tcp udp tcp+udp"`
}

type AllocatePortBlock struct {
	CustomerID string `json:"customer_id" validate:"required"`
	PortCount  int    `json:"port_count" validate:"required,min=1"`
	WorkloadID string `json:"workload_id"`
}

type ReservePorts struct {
	CustomerID string `json:"customer_id" validate:"required"`
	Ports      []int  `json:"ports" validate:"required,min=1,dive,min=1,max=65535"`
	WorkloadID string `json:"workload_id"`
}
