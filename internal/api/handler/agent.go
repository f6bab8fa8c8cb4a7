package handler

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/edvin/fleet/internal/api/middleware"
	"github.com/edvin/fleet/internal/api/request"
	"github.com/edvin/fleet/internal/api/response"
	"github.com/edvin/fleet/internal/core"
	"github.com/edvin/fleet/internal/model"
)

// Agent serves the node-facing API. Every route runs behind NodeAuth, so
// the node is taken from the request context, never from the body.
type Agent struct {
	nodes *core.NodeService
	jobs  *core.JobService
}

func NewAgent(nodes *core.NodeService, jobs *core.JobService) *Agent {
	return &Agent{nodes: nodes, jobs: jobs}
}

// HeartbeatResponse tells the agent its current disk policy so it can adjust
// its scan schedule without a separate call.
type HeartbeatResponse struct {
	NodeID string             `json:"node_id"`
	Status string             `json:"status"`
	Disk   model.DiskSettings `json:"disk"`
}

func (h *Agent) Heartbeat(w http.ResponseWriter, r *http.Request) {
	node := mw.GetNode(r.Context())
	if node == nil {
		response.WriteError(w, http.StatusUnauthorized, "missing node credentials")
		return
	}

	var hb model.Heartbeat
	if err := json.NewDecoder(r.Body).Decode(&hb); err != nil {
		response.WriteError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if hb.IP == "" {
		hb.IP = clientIP(r)
	}

	updated, err := h.nodes.IngestHeartbeat(r.Context(), node.ID, hb)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, HeartbeatResponse{
		NodeID: updated.ID,
		Status: updated.Status,
		Disk:   updated.Disk,
	})
}

// PollJobs hands the node its queued jobs in creation order and marks them
// running.
func (h *Agent) PollJobs(w http.ResponseWriter, r *http.Request) {
	node := mw.GetNode(r.Context())
	if node == nil {
		response.WriteError(w, http.StatusUnauthorized, "missing node credentials")
		return
	}

	jobs, err := h.jobs.ClaimQueuedForNode(r.Context(), node.ID)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []model.Job{}
	}
	response.WriteJSON(w, http.StatusOK, jobs)
}

func (h *Agent) ReportResult(w http.ResponseWriter, r *http.Request) {
	node := mw.GetNode(r.Context())
	if node == nil {
		response.WriteError(w, http.StatusUnauthorized, "missing node credentials")
		return
	}

	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.JobResult
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.jobs.RecordResult(r.Context(), id, node.ID, req.Status, req.Output)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, job)
}

// clientIP returns the request's remote address without the port. RealIP
// middleware has already applied X-Forwarded-For when present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
