package pipeline

import (
	"encoding/json"
	"net/http"
	"time"
)

type serviceHealth struct {
	Healthy             bool   `json:"healthy"`
	LastChecked         string `json:"lastChecked,omitempty"`
	ConsecutiveFailures int    `json:"consecutiveFailures,omitempty"`
}

type healthResponse struct {
	Status   string                   `json:"status"`
	Services map[string]serviceHealth `json:"services"`
}

// handleHealth serves the gateway's own aggregate health endpoint.
// Degraded (any backend down) reports 503 so load balancers can rotate
// the instance out, while the body still lists per-service detail.
func (p *Pipeline) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Services: make(map[string]serviceHealth),
	}

	status := http.StatusOK
	for _, ep := range p.registry.Snapshot() {
		sh := serviceHealth{
			Healthy:             ep.Healthy,
			ConsecutiveFailures: ep.ConsecutiveFailures,
		}
		if !ep.LastChecked.IsZero() {
			sh.LastChecked = ep.LastChecked.Format(time.RFC3339)
		}
		resp.Services[ep.Name] = sh

		if !ep.Healthy {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
