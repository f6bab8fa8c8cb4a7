package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/fleet/internal/api/request"
	"github.com/edvin/fleet/internal/api/response"
	"github.com/edvin/fleet/internal/core"
	"github.com/edvin/fleet/internal/model"
)

type Node struct {
	svc       *core.NodeService
	admission *core.AdmissionService
	jobs      *core.JobService
	clock     core.Clock
}

func NewNode(svc *core.NodeService, admission *core.AdmissionService, jobs *core.JobService, clock core.Clock) *Node {
	return &Node{svc: svc, admission: admission, jobs: jobs, clock: clock}
}

// NodeDetail is a node with its derived liveness and disk state.
type NodeDetail struct {
	model.Node
	Liveness  core.Liveness            `json:"liveness"`
	DiskState core.DiskProtectionState `json:"disk_state"`
}

func (h *Node) List(w http.ResponseWriter, r *http.Request) {
	pg := request.ParsePagination(r)

	nodes, hasMore, err := h.svc.List(r.Context(), pg.Limit, pg.Cursor)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}

	var nextCursor string
	if hasMore && len(nodes) > 0 {
		nextCursor = nodes[len(nodes)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, nodes, nextCursor, hasMore)
}

// Register creates a node. The shared secret is returned once in the
// response and cannot be retrieved later.
func (h *Node) Register(w http.ResponseWriter, r *http.Request) {
	var req request.RegisterNode
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	node, secret, err := h.svc.Register(r.Context(), req.Name, req.Roles)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusCreated, map[string]any{
		"node":   node,
		"secret": secret,
	})
}

func (h *Node) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	node, disk, err := h.admission.State(r.Context(), id)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, NodeDetail{
		Node:      *node,
		Liveness:  core.ResolveLiveness(node, h.clock.Now()),
		DiskState: disk,
	})
}

func (h *Node) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeCoreError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Node) UpdateDiskSettings(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.UpdateDiskSettings
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	node, err := h.svc.UpdateDiskSettings(r.Context(), id, model.DiskSettings{
		ScanIntervalSeconds: req.ScanIntervalSeconds,
		WarningPercent:      req.WarningPercent,
		HardBlockPercent:    req.HardBlockPercent,
		ProtectPercent:      req.ProtectPercent,
	})
	if err != nil {
		writeCoreError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, node)
}

// SetProtectionOverride suspends disk protect mode for a number of minutes.
func (h *Node) SetProtectionOverride(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.ProtectionOverride
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	node, err := h.svc.SetProtectionOverride(r.Context(), id, req.Minutes)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, NodeDetail{
		Node:      *node,
		Liveness:  core.ResolveLiveness(node, h.clock.Now()),
		DiskState: core.DiskProtection(node, h.clock.Now()),
	})
}

// SelfUpdate queues an agent.self_update job. At most one is in flight per
// node; a second request returns the pending job with 200.
func (h *Node) SelfUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.SelfUpdate
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	payload := map[string]string{
		model.JobPayloadAgentID: id,
		"version":               req.Version,
		"url":                   req.URL,
	}
	if req.SHA256 != "" {
		payload["sha256"] = req.SHA256
	}
	h.enqueueForNode(w, r, id, model.JobTypeAgentSelfUpdate, payload)
}

// DiskScan asks the node to rescan its disk ahead of its schedule.
func (h *Node) DiskScan(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.enqueueForNode(w, r, id, model.JobTypeAgentDiskScan, map[string]string{model.JobPayloadAgentID: id})
}

func (h *Node) enqueueForNode(w http.ResponseWriter, r *http.Request, nodeID, jobType string, payload map[string]string) {
	if _, err := h.svc.GetByID(r.Context(), nodeID); err != nil {
		writeCoreError(w, r, err)
		return
	}

	job, created, err := h.jobs.EnqueueUnique(r.Context(), jobType, payload)
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
