package restapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"navieta.dev/internal/logging"
)

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status  string   `json:"status"`
	Detail  string   `json:"detail,omitempty"`
	Ready   int      `json:"ready"`
	Pending []string `json:"pending,omitempty"`
}

// healthHandler reports "ok" when every route has data, "degraded" when
// some are still pending, and 503 while nothing can be served.
func (api *RestAPI) healthHandler(w http.ResponseWriter, r *http.Request) {
	if api.Application == nil || api.Routes == nil {
		writeHealth(w, http.StatusServiceUnavailable, HealthResponse{
			Status: "unavailable",
			Detail: "route manager not initialized",
		})
		return
	}

	if api.Store != nil {
		if err := api.Store.Ping(r.Context()); err != nil {
			logging.LogError(api.Logger, "state store ping failed", err)
			writeHealth(w, http.StatusServiceUnavailable, HealthResponse{
				Status: "unavailable",
				Detail: "state store unreachable",
			})
			return
		}
	}

	ready := api.Routes.ReadyRoutes()
	pending := api.Routes.Pending()
	resp := HealthResponse{Ready: len(ready), Pending: pending}

	switch {
	case len(ready) == 0 && len(pending) == 0:
		resp.Status = "starting"
		resp.Detail = "no routes configured"
		writeHealth(w, http.StatusServiceUnavailable, resp)
	case len(pending) == 0:
		resp.Status = "ok"
		writeHealth(w, http.StatusOK, resp)
	case len(ready) == 0:
		resp.Status = "starting"
		resp.Detail = "no route has produced data yet"
		writeHealth(w, http.StatusServiceUnavailable, resp)
	default:
		resp.Status = "degraded"
		resp.Detail = fmt.Sprintf("waiting for data: %s", strings.Join(pending, ", "))
		writeHealth(w, http.StatusOK, resp)
	}
}

func writeHealth(w http.ResponseWriter, code int, resp HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
