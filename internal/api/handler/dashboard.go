package handler

import (
	"net/http"

	"github.com/edvin/fleet/internal/api/response"
	"github.com/edvin/fleet/internal/core"
)

type Dashboard struct {
	svc *core.DashboardService
}

func NewDashboard(svc *core.DashboardService) *Dashboard {
	return &Dashboard{svc: svc}
}

// Overview returns every node with its liveness, disk state and latest
// tracked job, plus fleet-wide counters.
func (h *Dashboard) Overview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.svc.Overview(r.Context())
	if err != nil {
		writeCoreError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, overview)
}
