package request

import (
	"net/http"
)

// EnqueueJob is the body of POST /jobs. With Unique set, a job of the same
// type whose NaturalKeys payload values match an in-flight job is not
// enqueued twice.
type EnqueueJob struct {
	Type        string            `json:"type" validate:"required,jobtype"`
	Payload     map[string]string `json:"payload" validate:"required"`
	Unique      bool              `json:"unique"`
	NaturalKeys []string          `json:"natural_keys" validate:"omitempty,dive,required"`
}

// JobList holds the query parameters of GET /jobs.
type JobList struct {
	Pagination
	NodeID string
	Type   string
	Status string
}

// ParseJobList extracts pagination and filters from the query string.
func ParseJobList(r *http.Request) JobList {
	q := r.URL.Query()
	return JobList{
		Pagination: ParsePagination(r),
		NodeID:     q.Get("node_id"),
		Type:       q.Get("type"),
		Status:     q.Get("status"),
	}
}
