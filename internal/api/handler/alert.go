package handler

import (
	"net/http"
	"strconv"

	"github.com/edvin/fleet/internal/api/request"
	"github.com/edvin/fleet/internal/api/response"
	"github.com/edvin/fleet/internal/core"
	"github.com/edvin/fleet/internal/model"
)

type Alert struct {
	svc *core.AlertService
}

func NewAlert(svc *core.AlertService) *Alert {
	return &Alert{svc: svc}
}

// List returns open alerts, or all alerts with include_resolved=true.
func (h *Alert) List(w http.ResponseWriter, r *http.Request) {
	pg := request.ParsePagination(r)
	includeResolved, _ := strconv.ParseBool(r.URL.Query().Get("include_resolved"))

	alerts, err := h.svc.List(r.Context(), includeResolved, pg.Limit)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}
	response.WriteJSON(w, http.StatusOK, alerts)
}
