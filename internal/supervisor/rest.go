package supervisor

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RESTHandler exposes read-only process status over HTTP.
type RESTHandler struct {
	Supervisor *Supervisor
}

// Handler returns an http.Handler with the status routes.
func (h *RESTHandler) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/status", h.ListStatus)
	r.Get("/status/{serverID}", h.GetStatus)
	return r
}

// ListStatus handles GET /mcp-proxy/status.
func (h *RESTHandler) ListStatus(w http.ResponseWriter, _ *http.Request) {
	resp := struct {
		Servers []Summary `json:"servers"`
	}{
		Servers: h.Supervisor.ListSummaries(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// GetStatus handles GET /mcp-proxy/status/{serverID}.
func (h *RESTHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "serverID")
	summary, ok := h.Supervisor.GetSummary(serverID)
	if !ok {
		http.Error(w, `{"error":"server not found"}`, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(summary)
}
