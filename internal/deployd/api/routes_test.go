package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	types "github.com/eagraf/habitat-deployd/core/api"
	"github.com/eagraf/habitat-deployd/core/state/deploy"
	"github.com/eagraf/habitat-deployd/internal/deployd/controller"
	"github.com/eagraf/habitat-deployd/internal/deployd/controller/mocks"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type recordedRequest struct {
	method, route string
	status        int
}

type requestRecorder struct {
	requests []recordedRequest
}

func (r *requestRecorder) RecordRequest(method, route string, status int) {
	r.requests = append(r.requests, recordedRequest{method, route, status})
}

func newTestServer(t *testing.T, routes ...Route) *httptest.Server {
	router := mux.NewRouter()
	for _, route := range routes {
		router.Handle(route.Pattern(), route).Methods(route.Method())
	}
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var body T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestGetStatusRoute(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := mocks.NewMockDeploymentController(ctrl)

	snapshot := deploy.Snapshot{
		Version: 3,
		Local:   deploy.Status{Target: deploy.TargetLocal, State: deploy.StateRunning},
		Cloud:   deploy.NewStatus(deploy.TargetCloud),
		Health:  deploy.Health{Database: deploy.HealthUnknown, API: deploy.HealthUnknown},
	}
	m.EXPECT().Snapshot().Return(snapshot).Times(1)

	server := newTestServer(t, NewGetStatusRoute(m))
	resp, err := server.Client().Get(server.URL + "/status")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"local":"running","cloud":"not_deployed","database":"unknown","api":"unknown"}`, string(body))
}

func TestGetDeploymentRoute(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := mocks.NewMockDeploymentController(ctrl)

	snapshot := deploy.Snapshot{
		Version: 7,
		Local:   deploy.NewStatus(deploy.TargetLocal),
		Cloud: deploy.Status{
			Target: deploy.TargetCloud,
			State:  deploy.StateDeployed,
			Result: map[string]string{"url": "https://api.example.com"},
		},
	}
	m.EXPECT().Snapshot().Return(snapshot).Times(1)

	server := newTestServer(t, NewGetDeploymentRoute(m))
	resp, err := server.Client().Get(server.URL + "/deployment/status")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[deploy.Snapshot](t, resp)
	assert.Equal(t, uint64(7), body.Version)
	assert.Equal(t, deploy.StateDeployed, body.Cloud.State)
	assert.Equal(t, "https://api.example.com", body.Cloud.Result["url"])
}

func TestStartDeploymentRoute(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := mocks.NewMockDeploymentController(ctrl)
	server := newTestServer(t, NewStartDeploymentRoute(m))
	client := server.Client()

	// happy path
	m.EXPECT().
		Start(gomock.Any(), deploy.TargetCloud, controller.StartRequest{Service: "api", Environment: "staging"}).
		Return(deploy.Status{Target: deploy.TargetCloud, State: deploy.StateDeploying, Service: "api"}, nil).
		Times(1)

	reqBody, err := json.Marshal(&types.StartDeploymentRequest{Service: "api", Environment: "staging"})
	require.NoError(t, err)
	resp, err := client.Post(server.URL+"/deployment/cloud/start", "application/json", bytes.NewBuffer(reqBody))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[types.CommandResponse](t, resp)
	assert.True(t, body.Success)
	assert.Equal(t, deploy.StateDeploying, body.Status.State)
	assert.Contains(t, body.Message, "cloud start accepted")

	// an empty body starts every service
	m.EXPECT().
		Start(gomock.Any(), deploy.TargetLocal, controller.StartRequest{}).
		Return(deploy.Status{Target: deploy.TargetLocal, State: deploy.StateRunning}, nil).
		Times(1)
	resp, err = client.Post(server.URL+"/deployment/local/start", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// conflict
	m.EXPECT().
		Start(gomock.Any(), deploy.TargetLocal, gomock.Any()).
		Return(deploy.Status{Target: deploy.TargetLocal, State: deploy.StateRunning}, deploy.Conflict(deploy.ErrAlreadyRunning, "local is already running")).
		Times(1)
	resp, err = client.Post(server.URL+"/deployment/local/start", "application/json", bytes.NewBufferString(`{"service":"all"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	errBody := decode[types.ErrorResponse](t, resp)
	assert.False(t, errBody.Success)
	assert.Equal(t, "StateConflict", errBody.Error)
	assert.Equal(t, "local is already running", errBody.Message)

	// preflight
	m.EXPECT().
		Start(gomock.Any(), deploy.TargetCloud, gomock.Any()).
		Return(deploy.NewStatus(deploy.TargetCloud), deploy.NewError(deploy.CodePreflightFailed, "preflight check failed: exit code 1", nil)).
		Times(1)
	resp, err = client.Post(server.URL+"/deployment/cloud/start", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
	errBody = decode[types.ErrorResponse](t, resp)
	assert.Equal(t, "PreflightFailed", errBody.Error)

	// spawn failure
	m.EXPECT().
		Start(gomock.Any(), deploy.TargetLocal, gomock.Any()).
		Return(deploy.NewStatus(deploy.TargetLocal), deploy.NewError(deploy.CodeProcessSpawnFailure, "could not launch", nil)).
		Times(1)
	resp, err = client.Post(server.URL+"/deployment/local/start", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	// invalid requests never reach the controller
	resp, err = client.Post(server.URL+"/deployment/staging/start", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errBody = decode[types.ErrorResponse](t, resp)
	assert.Equal(t, "InvalidRequest", errBody.Error)

	resp, err = client.Post(server.URL+"/deployment/local/start", "application/json", bytes.NewBufferString("invalid"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStopDeploymentRoute(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := mocks.NewMockDeploymentController(ctrl)
	server := newTestServer(t, NewStopDeploymentRoute(m))

	m.EXPECT().Stop(gomock.Any(), deploy.TargetLocal).Return(deploy.NewStatus(deploy.TargetLocal), nil).Times(1)
	resp, err := server.Client().Post(server.URL+"/deployment/local/stop", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[types.CommandResponse](t, resp)
	assert.Equal(t, deploy.StateStopped, body.Status.State)

	m.EXPECT().Stop(gomock.Any(), deploy.TargetCloud).Return(deploy.NewStatus(deploy.TargetCloud), deploy.Conflict(deploy.ErrNotRunning, "cloud is not deployed")).Times(1)
	resp, err = server.Client().Post(server.URL+"/deployment/cloud/stop", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// GET is not routed
	resp, err = server.Client().Get(server.URL + "/deployment/local/stop")
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRestartDeploymentRoute(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := mocks.NewMockDeploymentController(ctrl)
	server := newTestServer(t, NewRestartDeploymentRoute(m))

	m.EXPECT().
		Restart(gomock.Any(), deploy.TargetLocal, controller.StartRequest{Service: "web"}).
		Return(deploy.Status{Target: deploy.TargetLocal, State: deploy.StateStarting, Service: "web"}, nil).
		Times(1)
	resp, err := server.Client().Post(server.URL+"/deployment/local/restart", "application/json", bytes.NewBufferString(`{"service":"web"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[types.CommandResponse](t, resp)
	assert.Equal(t, "web", body.Status.Service)
}

func TestGetLogsRoute(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := mocks.NewMockDeploymentController(ctrl)
	server := newTestServer(t, NewGetLogsRoute(m))

	entries := []deploy.LogEntry{
		{Seq: 4, Channel: deploy.TargetCloud, Severity: deploy.SeverityInfo, Message: "deploying all to dev"},
		{Seq: 9, Channel: deploy.TargetCloud, Severity: deploy.SeveritySuccess, Message: "deployed"},
	}
	m.EXPECT().Logs(deploy.TargetCloud, 100).Return(entries).Times(1)
	resp, err := server.Client().Get(server.URL + "/deployment/logs/cloud")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[types.GetLogsResponse](t, resp)
	assert.Equal(t, deploy.TargetCloud, body.Channel)
	assert.Equal(t, entries[1].Message, body.Logs[1].Message)

	m.EXPECT().Logs(deploy.TargetLocal, 5).Return([]deploy.LogEntry{}).Times(1)
	resp, err = server.Client().Get(server.URL + "/deployment/logs/local?limit=5")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = server.Client().Get(server.URL + "/deployment/logs/local?limit=many")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = server.Client().Get(server.URL + "/deployment/logs/database")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetProcessesRoute(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := mocks.NewMockDeploymentController(ctrl)
	server := newTestServer(t, NewGetProcessesRoute(m))

	m.EXPECT().Processes().Return(nil).Times(1)
	resp, err := server.Client().Get(server.URL + "/processes")
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"processes":[]}`, string(raw))

	m.EXPECT().Processes().Return([]deploy.ProcessInfo{{ID: "p1", Target: deploy.TargetLocal, Driver: "exec", PID: "123", Command: "launcher"}}).Times(1)
	resp, err = server.Client().Get(server.URL + "/processes")
	require.NoError(t, err)
	body := decode[types.GetProcessesResponse](t, resp)
	require.Len(t, body.Processes, 1)
	assert.Equal(t, "p1", body.Processes[0].ID)
}

func TestTestEndpointsRoute(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := mocks.NewMockDeploymentController(ctrl)
	server := newTestServer(t, NewTestEndpointsRoute(m))

	run := &deploy.ValidationRun{
		Target:  deploy.TargetCloud,
		BaseURL: "https://api.example.com",
		Results: []deploy.EndpointTest{
			{Method: "GET", Path: "/health", Expected: []int{200}, Status: 200, Success: true},
			{Method: "GET", Path: "/api/clients", Expected: []int{200, 401}, Status: 500},
		},
		Passed: 1,
		Total:  2,
	}
	m.EXPECT().
		ValidateEndpoints(gomock.Any(), controller.ValidateRequest{BaseURL: "https://api.example.com"}).
		Return(&controller.ValidationResult{Run: run}, nil).
		Times(1)

	resp, err := server.Client().Post(server.URL+"/test-endpoints", "application/json", bytes.NewBufferString(`{"baseUrl":"https://api.example.com"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[types.TestEndpointsResponse](t, resp)
	assert.False(t, body.Success)
	assert.Equal(t, deploy.APIUnhealthy, body.Health)
	assert.Equal(t, 1, body.Passed)
	assert.Equal(t, 2, body.Total)
	assert.Len(t, body.Results, 2)
	assert.False(t, body.Stale)

	m.EXPECT().
		ValidateEndpoints(gomock.Any(), controller.ValidateRequest{}).
		Return(nil, deploy.NewError(deploy.CodeInvalidRequest, "no baseUrl given and cloud has no deployed address", nil)).
		Times(1)
	resp, err = server.Client().Post(server.URL+"/test-endpoints", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetValidationRoute(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := mocks.NewMockDeploymentController(ctrl)
	server := newTestServer(t, NewGetValidationRoute(m))

	m.EXPECT().Validation(deploy.TargetLocal).Return(nil).Times(1)
	resp, err := server.Client().Get(server.URL + "/test-endpoints/local")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	errBody := decode[types.ErrorResponse](t, resp)
	assert.Equal(t, "NotFound", errBody.Error)

	run := &deploy.ValidationRun{
		Target:  deploy.TargetCloud,
		Results: []deploy.EndpointTest{{Method: "GET", Path: "/health", Status: 200, Success: true}},
		Passed:  1,
		Total:   1,
	}
	m.EXPECT().Validation(deploy.TargetCloud).Return(run).Times(1)
	resp, err = server.Client().Get(server.URL + "/test-endpoints/cloud")
	require.NoError(t, err)
	body := decode[types.TestEndpointsResponse](t, resp)
	assert.True(t, body.Success)
	assert.Equal(t, deploy.APIHealthy, body.Health)
}

func TestVersionAndMetricsRoutes(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "deployd_transitions_total 1")
	})
	server := newTestServer(t, NewVersionHandler(), NewMetricsRoute(metrics))

	resp, err := server.Client().Get(server.URL + "/version")
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, Version, string(raw))

	resp, err = server.Client().Get(server.URL + "/metrics")
	require.NoError(t, err)
	raw, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "deployd_transitions_total")
}

func TestRouterRecordsRequests(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := mocks.NewMockDeploymentController(ctrl)
	m.EXPECT().Stop(gomock.Any(), deploy.TargetCloud).Return(deploy.NewStatus(deploy.TargetCloud), deploy.Conflict(deploy.ErrNotRunning, "cloud is not deployed")).Times(1)

	logger := zerolog.Nop()
	recorder := &requestRecorder{}
	router := NewRouter([]Route{NewStopDeploymentRoute(m), NewVersionHandler()}, &logger, recorder)

	req := httptest.NewRequest(http.MethodPost, "/deployment/cloud/stop", nil).WithContext(context.Background())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/version", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, []recordedRequest{
		{http.MethodPost, "/deployment/{target}/stop", http.StatusConflict},
		{http.MethodGet, "/version", http.StatusOK},
	}, recorder.requests)
}
