package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/fleet/internal/api/request"
	"github.com/edvin/fleet/internal/api/response"
	"github.com/edvin/fleet/internal/core"
)

type Job struct {
	svc *core.JobService
}

func NewJob(svc *core.JobService) *Job {
	return &Job{svc: svc}
}

// List returns jobs newest first, filtered by node_id, type and status.
func (h *Job) List(w http.ResponseWriter, r *http.Request) {
	params := request.ParseJobList(r)

	jobs, hasMore, err := h.svc.List(r.Context(), core.JobFilter{
		NodeID: params.NodeID,
		Type:   params.Type,
		Status: params.Status,
	}, params.Limit, params.Cursor)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}

	var nextCursor string
	if hasMore && len(jobs) > 0 {
		nextCursor = jobs[len(jobs)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, jobs, nextCursor, hasMore)
}

// Latest returns the newest jobs of the given types. With node_id set it is
// scoped to that node; otherwise exactly one type is required.
func (h *Job) Latest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 20
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			response.WriteError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	var types []string
	for _, t := range strings.Split(q.Get("type"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, t)
		}
	}

	nodeID := q.Get("node_id")
	if nodeID == "" {
		if len(types) != 1 {
			response.WriteError(w, http.StatusBadRequest, "exactly one type is required without node_id")
			return
		}
		jobs, err := h.svc.FindLatestByType(r.Context(), types[0], limit)
		if err != nil {
			writeCoreError(w, r, err)
			return
		}
		response.WriteJSON(w, http.StatusOK, jobs)
		return
	}

	jobs, err := h.svc.FindLatestForNodeAndTypes(r.Context(), nodeID, types, limit)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, jobs)
}

func (h *Job) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, job)
}

// Enqueue queues a job for the node named by payload.agent_id.
func (h *Job) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req request.EnqueueJob
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !req.Unique {
		job, err := h.svc.Enqueue(r.Context(), req.Type, req.Payload)
		if err != nil {
			writeCoreError(w, r, err)
			return
		}
		response.WriteJSON(w, http.StatusCreated, job)
		return
	}

	job, created, err := h.svc.EnqueueUnique(r.Context(), req.Type, req.Payload, req.NaturalKeys...)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.WriteJSON(w, status, job)
}
