package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	types "github.com/eagraf/habitat-deployd/core/api"
	"github.com/eagraf/habitat-deployd/core/state/deploy"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, handler http.Handler, args ...string) (string, error) {
	t.Helper()
	server := httptest.NewServer(handler)
	defer server.Close()

	var buf bytes.Buffer
	prev := out.w
	out.w = &buf
	defer func() { out.w = prev }()

	rootCmd.SetArgs(append([]string{"--address", server.URL}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestStatusCommand(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, &deploy.CoarseStatus{Local: deploy.StateRunning, Cloud: deploy.StateNotDeployed, Database: "connected", API: "unknown"})
	})

	output, err := runCommand(t, router, "status")
	require.NoError(t, err)
	assert.Contains(t, output, "local:    running")
	assert.Contains(t, output, "cloud:    not_deployed")
	assert.Contains(t, output, "database: connected")
}

func TestStartCommand(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/deployment/{target}/start", func(w http.ResponseWriter, r *http.Request) {
		var req types.StartDeploymentRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		respond(w, http.StatusOK, &types.CommandResponse{
			Success: true,
			Message: "cloud start accepted, cloud is deploying",
			Status: deploy.Status{
				Target:      deploy.Target(mux.Vars(r)["target"]),
				State:       deploy.StateDeploying,
				Service:     req.Service,
				Environment: req.Environment,
			},
		})
	}).Methods(http.MethodPost)

	output, err := runCommand(t, router, "start", "cloud", "--service", "api", "--environment", "staging")
	require.NoError(t, err)
	assert.Contains(t, output, "cloud start accepted")
	assert.Contains(t, output, "service=api")
	assert.Contains(t, output, "environment=staging")

	_, err = runCommand(t, router, "start", "staging")
	assert.Error(t, err)
}

func TestStopCommandConflict(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/deployment/{target}/stop", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusConflict, &types.ErrorResponse{Error: "StateConflict", Message: "local is not running"})
	})

	_, err := runCommand(t, router, "stop", "local")
	require.Error(t, err)
	assert.Equal(t, deploy.CodeStateConflict, deploy.CodeOf(err))
}

func TestLogsCommand(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/deployment/logs/{channel}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		respond(w, http.StatusOK, &types.GetLogsResponse{
			Channel: deploy.TargetCloud,
			Logs: []deploy.LogEntry{
				{Seq: 1, Timestamp: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), Channel: deploy.TargetCloud, Severity: deploy.SeverityError, Message: "deployment failed: exit code 1"},
			},
		})
	})

	output, err := runCommand(t, router, "logs", "cloud", "-n", "5")
	require.NoError(t, err)
	assert.Contains(t, output, "12:00:00 cloud [ERROR] deployment failed: exit code 1")
}

func TestTestEndpointsCommandFailsOnUnhealthy(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/test-endpoints", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, &types.TestEndpointsResponse{
			Success: false,
			Health:  deploy.APIUnhealthy,
			BaseURL: "https://api.example.com",
			Passed:  1,
			Total:   2,
			Results: []deploy.EndpointTest{
				{Method: "GET", Path: "/health", Expected: []int{200}, Status: 200, Success: true},
				{Method: "GET", Path: "/api/clients", Expected: []int{200, 401}, Status: 500},
			},
		})
	}).Methods(http.MethodPost)

	output, err := runCommand(t, router, "test-endpoints", "--base-url", "https://api.example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unhealthy: 1/2 probes passed")
	assert.Contains(t, output, "/api/clients")
}
