package core

// Services bundles the core services sharing one database and clock.
type Services struct {
	Node      *NodeService
	Job       *JobService
	Port      *PortService
	Admission *AdmissionService
	Provision *ProvisionService
	Dashboard *DashboardService
	Alert     *AlertService
	APIKey    *APIKeyService
}

func NewServices(db DB, clock Clock) *Services {
	nodes := NewNodeService(db, clock)
	jobs := NewJobService(db, clock)
	ports := NewPortService(db, clock)
	admission := NewAdmissionService(nodes, clock)
	return &Services{
		Node:      nodes,
		Job:       jobs,
		Port:      ports,
		Admission: admission,
		Provision: NewProvisionService(db, clock, admission, ports, jobs),
		Dashboard: NewDashboardService(db, clock, nodes, jobs),
		Alert:     NewAlertService(db, clock),
		APIKey:    NewAPIKeyService(db, clock),
	}
}
