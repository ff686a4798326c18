package deploy

import (
	"slices"
	"time"
)

// Probe declares one route to check and the status codes that count as a pass. Several
// probes intentionally accept 401/403: the route exists and enforces access control.
type Probe struct {
	Method string `json:"method" yaml:"method"`
	Path   string `json:"path" yaml:"path"`
	Expect []int  `json:"expect" yaml:"expect"`
	Body   string `json:"body,omitempty" yaml:"body,omitempty"`
}

func (p Probe) Accepts(status int) bool {
	return slices.Contains(p.Expect, status)
}

type EndpointTest struct {
	Method    string `json:"method"`
	Path      string `json:"path"`
	Expected  []int  `json:"expected"`
	Status    int    `json:"status"`
	LatencyMS int64  `json:"latencyMs"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// ValidationRun is one completed batch. A run replaces the prior batch for its target.
type ValidationRun struct {
	ID          string         `json:"id"`
	Target      Target         `json:"target"`
	BaseURL     string         `json:"baseUrl"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt time.Time      `json:"completedAt"`
	Results     []EndpointTest `json:"results"`
	Passed      int            `json:"passed"`
	Total       int            `json:"total"`
}

// Healthy reports whether every test passed. An empty run is not healthy.
func (r *ValidationRun) Healthy() bool {
	return r.Total > 0 && r.Passed == r.Total
}

func (r *ValidationRun) Health() string {
	if r.Healthy() {
		return APIHealthy
	}
	return APIUnhealthy
}
