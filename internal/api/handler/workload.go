package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/fleet/internal/api/request"
	"github.com/edvin/fleet/internal/api/response"
	"github.com/edvin/fleet/internal/core"
	"github.com/edvin/fleet/internal/model"
)

type Workload struct {
	svc *core.ProvisionService
}

func NewWorkload(svc *core.ProvisionService) *Workload {
	return &Workload{svc: svc}
}

// Provision places a workload on a node. Disk admission is checked before
// any port is leased; a denial is returned as 423.
func (h *Workload) Provision(w http.ResponseWriter, r *http.Request) {
	var req request.ProvisionWorkload
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.svc.Provision(r.Context(), core.ProvisionParams{
		NodeID:      req.NodeID,
		CustomerID:  req.CustomerID,
		Kind:        req.Kind,
		PortCount:   req.PortCount,
		PoolID:      req.PoolID,
		PortBlockID: req.PortBlockID,
	})
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, result)
}

func (h *Workload) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	wl, err := h.svc.GetWorkload(r.Context(), id)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, wl)
}

func (h *Workload) ListByNode(w http.ResponseWriter, r *http.Request) {
	nodeID, err := request.RequireID(chi.URLParam(r, "nodeID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	workloads, err := h.svc.ListWorkloadsByNode(r.Context(), nodeID)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	if workloads == nil {
		workloads = []model.Workload{}
	}
	response.WriteJSON(w, http.StatusOK, workloads)
}

// Deprovision tears a workload down. Repeating it returns the deleted
// workload without queueing more jobs.
func (h *Workload) Deprovision(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.svc.Deprovision(r.Context(), id)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, result)
}
