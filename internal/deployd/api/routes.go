package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	types "github.com/eagraf/habitat-deployd/core/api"
	"github.com/eagraf/habitat-deployd/core/state/deploy"
	"github.com/eagraf/habitat-deployd/internal/deployd/controller"
	"github.com/eagraf/habitat-deployd/internal/deployd/logbuffer"
	"github.com/gorilla/mux"
)

// GetStatusRoute returns the coarse state of both targets and the health snapshot.
type GetStatusRoute struct {
	controller controller.DeploymentController
}

func NewGetStatusRoute(c controller.DeploymentController) *GetStatusRoute {
	return &GetStatusRoute{
		controller: c,
	}
}

func (h *GetStatusRoute) Pattern() string {
	return "/status"
}

func (h *GetStatusRoute) Method() string {
	return http.MethodGet
}

func (h *GetStatusRoute) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	snapshot := h.controller.Snapshot()
	writeJSON(w, http.StatusOK, snapshot.Coarse())
}

// GetDeploymentRoute returns the full snapshot.
type GetDeploymentRoute struct {
	controller controller.DeploymentController
}

func NewGetDeploymentRoute(c controller.DeploymentController) *GetDeploymentRoute {
	return &GetDeploymentRoute{
		controller: c,
	}
}

func (h *GetDeploymentRoute) Pattern() string {
	return "/deployment/status"
}

func (h *GetDeploymentRoute) Method() string {
	return http.MethodGet
}

func (h *GetDeploymentRoute) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.Snapshot())
}

type commandFunc func(ctx context.Context, target deploy.Target, req *types.StartDeploymentRequest) (deploy.Status, error)

// serveCommand runs a deployment command against the {target} path variable.
func serveCommand(w http.ResponseWriter, r *http.Request, name string, decodeBody bool, fn commandFunc) {
	target, err := deploy.ParseTarget(mux.Vars(r)["target"])
	if err != nil {
		writeError(w, err)
		return
	}

	var req types.StartDeploymentRequest
	if decodeBody {
		err := json.NewDecoder(r.Body).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			invalidRequest(w, fmt.Sprintf("invalid request body: %s", err), err)
			return
		}
	}

	status, err := fn(r.Context(), target, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &types.CommandResponse{
		Success: true,
		Message: fmt.Sprintf("%s %s accepted, %s is %s", target, name, target, status.State),
		Status:  status,
	})
}

// StartDeploymentRoute calls controller.Start()
type StartDeploymentRoute struct {
	controller controller.DeploymentController
}

func NewStartDeploymentRoute(c controller.DeploymentController) *StartDeploymentRoute {
	return &StartDeploymentRoute{
		controller: c,
	}
}

func (h *StartDeploymentRoute) Pattern() string {
	return "/deployment/{target}/start"
}

func (h *StartDeploymentRoute) Method() string {
	return http.MethodPost
}

func (h *StartDeploymentRoute) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	serveCommand(w, r, "start", true, func(ctx context.Context, target deploy.Target, req *types.StartDeploymentRequest) (deploy.Status, error) {
		return h.controller.Start(ctx, target, controller.StartRequest{
			Service:     req.Service,
			Environment: req.Environment,
		})
	})
}

// StopDeploymentRoute calls controller.Stop()
type StopDeploymentRoute struct {
	controller controller.DeploymentController
}

func NewStopDeploymentRoute(c controller.DeploymentController) *StopDeploymentRoute {
	return &StopDeploymentRoute{
		controller: c,
	}
}

func (h *StopDeploymentRoute) Pattern() string {
	return "/deployment/{target}/stop"
}

func (h *StopDeploymentRoute) Method() string {
	return http.MethodPost
}

func (h *StopDeploymentRoute) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	serveCommand(w, r, "stop", false, func(ctx context.Context, target deploy.Target, _ *types.StartDeploymentRequest) (deploy.Status, error) {
		return h.controller.Stop(ctx, target)
	})
}

// RestartDeploymentRoute calls controller.Restart()
type RestartDeploymentRoute struct {
	controller controller.DeploymentController
}

func NewRestartDeploymentRoute(c controller.DeploymentController) *RestartDeploymentRoute {
	return &RestartDeploymentRoute{
		controller: c,
	}
}

func (h *RestartDeploymentRoute) Pattern() string {
	return "/deployment/{target}/restart"
}

func (h *RestartDeploymentRoute) Method() string {
	return http.MethodPost
}

func (h *RestartDeploymentRoute) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	serveCommand(w, r, "restart", true, func(ctx context.Context, target deploy.Target, req *types.StartDeploymentRequest) (deploy.Status, error) {
		return h.controller.Restart(ctx, target, controller.StartRequest{
			Service:     req.Service,
			Environment: req.Environment,
		})
	})
}

// GetLogsRoute returns the tail of one log channel.
type GetLogsRoute struct {
	controller controller.DeploymentController
}

func NewGetLogsRoute(c controller.DeploymentController) *GetLogsRoute {
	return &GetLogsRoute{
		controller: c,
	}
}

func (h *GetLogsRoute) Pattern() string {
	return "/deployment/logs/{channel}"
}

func (h *GetLogsRoute) Method() string {
	return http.MethodGet
}

func (h *GetLogsRoute) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	channel, err := deploy.ParseTarget(mux.Vars(r)["channel"])
	if err != nil {
		writeError(w, err)
		return
	}

	limit := logbuffer.Capacity
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			invalidRequest(w, fmt.Sprintf("invalid limit %q", raw), err)
			return
		}
	}

	writeJSON(w, http.StatusOK, &types.GetLogsResponse{
		Channel: channel,
		Logs:    h.controller.Logs(channel, limit),
	})
}

// GetProcessesRoute lists the supervised processes.
type GetProcessesRoute struct {
	controller controller.DeploymentController
}

func NewGetProcessesRoute(c controller.DeploymentController) *GetProcessesRoute {
	return &GetProcessesRoute{
		controller: c,
	}
}

func (h *GetProcessesRoute) Pattern() string {
	return "/processes"
}

func (h *GetProcessesRoute) Method() string {
	return http.MethodGet
}

func (h *GetProcessesRoute) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	procs := h.controller.Processes()
	if procs == nil {
		procs = []deploy.ProcessInfo{}
	}
	writeJSON(w, http.StatusOK, &types.GetProcessesResponse{
		Processes: procs,
	})
}

// TestEndpointsRoute calls controller.ValidateEndpoints()
type TestEndpointsRoute struct {
	controller controller.DeploymentController
}

func NewTestEndpointsRoute(c controller.DeploymentController) *TestEndpointsRoute {
	return &TestEndpointsRoute{
		controller: c,
	}
}

func (h *TestEndpointsRoute) Pattern() string {
	return "/test-endpoints"
}

func (h *TestEndpointsRoute) Method() string {
	return http.MethodPost
}

func (h *TestEndpointsRoute) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req types.TestEndpointsRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		invalidRequest(w, fmt.Sprintf("invalid request body: %s", err), err)
		return
	}

	res, err := h.controller.ValidateEndpoints(r.Context(), controller.ValidateRequest{
		BaseURL: req.BaseURL,
		Target:  req.Target,
		Probes:  req.Probes,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.NewTestEndpointsResponse(res.Run, res.Stale))
}

// GetValidationRoute returns the latest stored validation batch of a target.
type GetValidationRoute struct {
	controller controller.DeploymentController
}

func NewGetValidationRoute(c controller.DeploymentController) *GetValidationRoute {
	return &GetValidationRoute{
		controller: c,
	}
}

func (h *GetValidationRoute) Pattern() string {
	return "/test-endpoints/{target}"
}

func (h *GetValidationRoute) Method() string {
	return http.MethodGet
}

func (h *GetValidationRoute) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target, err := deploy.ParseTarget(mux.Vars(r)["target"])
	if err != nil {
		writeError(w, err)
		return
	}

	run := h.controller.Validation(target)
	if run == nil {
		writeError(w, deploy.NewError(deploy.CodeNotFound, fmt.Sprintf("no validation results for %s", target), nil))
		return
	}
	writeJSON(w, http.StatusOK, types.NewTestEndpointsResponse(run, false))
}
