package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gridwatt/smart-meter-server/services"
)

// GridHandler lets operators drive grid incidents over the admin API. Both
// endpoints go through the grid watcher, which stays the sole caller of the
// alert store's broadcast operations.
type GridHandler struct {
	watcher *services.GridWatcher
	alerts  *services.AlertStore
}

func NewGridHandler(watcher *services.GridWatcher, alerts *services.AlertStore) *GridHandler {
	return &GridHandler{watcher: watcher, alerts: alerts}
}

type OutageRequest struct {
	Message string `json:"message"`
}

func (h *GridHandler) ReportOutage(w http.ResponseWriter, r *http.Request) {
	var req OutageRequest
	// Body is optional; an empty one uses the default message.
	_ = json.NewDecoder(r.Body).Decode(&req)

	h.watcher.ReportOutage(req.Message)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Outage broadcast"})
}

func (h *GridHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	h.watcher.Resolve()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Outage resolved"})
}

type StatusResponse struct {
	ActiveSessions int     `json:"active_sessions"`
	CurrentAlert   *string `json:"current_alert"`
}

func (h *GridHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{ActiveSessions: h.alerts.ActiveSessions()}
	if alert := h.alerts.CurrentAlert(); alert != nil {
		resp.CurrentAlert = &alert.Error
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
