package request

// JobResult is the body a node agent posts when a job finishes.
type JobResult struct {
	Status string         `json:"status" validate:"required,oneof=succeeded failed"`
	Output map[string]any `json:"output"`
}
