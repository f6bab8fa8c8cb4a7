package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/fleet/internal/api/request"
	"github.com/edvin/fleet/internal/api/response"
	"github.com/edvin/fleet/internal/core"
	"github.com/edvin/fleet/internal/model"
)

// Port handles port pools and the blocks leased from them.
type Port struct {
	svc *core.PortService
}

func NewPort(svc *core.PortService) *Port {
	return &Port{svc: svc}
}

func (h *Port) ListPoolsByNode(w http.ResponseWriter, r *http.Request) {
	nodeID, err := request.RequireID(chi.URLParam(r, "nodeID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	pools, err := h.svc.ListPoolsByNode(r.Context(), nodeID)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	if pools == nil {
		pools = []model.PortPool{}
	}
	response.WriteJSON(w, http.StatusOK, pools)
}

func (h *Port) CreatePool(w http.ResponseWriter, r *http.Request) {
	nodeID, err := request.RequireID(chi.URLParam(r, "nodeID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.CreatePortPool
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	pool := &model.PortPool{
		NodeID:    nodeID,
		StartPort: req.StartPort,
		EndPort:   req.EndPort,
		Protocol:  req.Protocol,
	}
	if err := h.svc.CreatePool(r.Context(), pool); err != nil {
		writeCoreError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusCreated, pool)
}

func (h *Port) GetPool(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	pool, err := h.svc.GetPool(r.Context(), id)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, pool)
}

func (h *Port) ListBlocks(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	blocks, err := h.svc.ListBlocksByPool(r.Context(), id)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	if blocks == nil {
		blocks = []model.PortBlock{}
	}
	response.WriteJSON(w, http.StatusOK, blocks)
}

// AllocateBlock leases the first free contiguous run of ports in the pool.
func (h *Port) AllocateBlock(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.AllocatePortBlock
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	block, err := h.svc.AllocateBlock(r.Context(), core.AllocateBlockParams{
		PoolID:     id,
		CustomerID: req.CustomerID,
		PortCount:  req.PortCount,
		WorkloadID: req.WorkloadID,
	})
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, block)
}

// ReservePorts leases an explicit list of ports from the pool.
func (h *Port) ReservePorts(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.ReservePorts
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	block, err := h.svc.ReservePorts(r.Context(), core.ReservePortsParams{
		PoolID:     id,
		CustomerID: req.CustomerID,
		Ports:      req.Ports,
		WorkloadID: req.WorkloadID,
	})
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, block)
}

func (h *Port) GetBlock(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	block, err := h.svc.GetBlock(r.Context(), id)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, block)
}

// ReleaseBlock unbinds a block from its workload. The customer keeps the
// block and its ports become free for allocation. Blocks of live workloads
// are released by deprovisioning and answer 409 here.
func (h *Port) ReleaseBlock(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	block, err := h.svc.ReleaseInstance(r.Context(), id)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, block)
}
