package types

import "github.com/eagraf/habitat-deployd/core/state/deploy"

type StartDeploymentRequest struct {
	Service     string `json:"service"`
	Environment string `json:"environment"`
}

// CommandResponse is returned by every accepted deployment command.
type CommandResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Status  deploy.Status `json:"status"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

type GetLogsResponse struct {
	Channel deploy.Target     `json:"channel"`
	Logs    []deploy.LogEntry `json:"logs"`
}

type GetProcessesResponse struct {
	Processes []deploy.ProcessInfo `json:"processes"`
}

type TestEndpointsRequest struct {
	BaseURL string         `json:"baseUrl"`
	Target  deploy.Target  `json:"target,omitempty"`
	Probes  []deploy.Probe `json:"probes,omitempty"`
}

type TestEndpointsResponse struct {
	Success bool                  `json:"success"`
	Health  string                `json:"health"`
	Target  deploy.Target         `json:"target"`
	BaseURL string                `json:"baseUrl"`
	Passed  int                   `json:"passed"`
	Total   int                   `json:"total"`
	Results []deploy.EndpointTest `json:"results"`
	Stale   bool                  `json:"stale"`
}

func NewTestEndpointsResponse(run *deploy.ValidationRun, stale bool) *TestEndpointsResponse {
	return &TestEndpointsResponse{
		Success: run.Healthy(),
		Health:  run.Health(),
		Target:  run.Target,
		BaseURL: run.BaseURL,
		Passed:  run.Passed,
		Total:   run.Total,
		Results: run.Results,
		Stale:   stale,
	}
}
