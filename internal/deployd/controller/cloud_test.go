package controller

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/eagraf/habitat-deployd/core/state/deploy"
	"github.com/eagraf/habitat-deployd/internal/deployd/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testURLPattern = `https://[a-z0-9.-]+\.example\.com`

func cloudConfig(t *testing.T, script string) Config {
	return Config{
		Cloud: config.CloudConfig{
			Command:            writeScript(t, "deploy.sh", script),
			DefaultEnvironment: "dev",
			URLPattern:         testURLPattern,
		},
	}
}

func TestCloudDeployExtractsURLFromOutput(t *testing.T) {
	h := newHarness(t, cloudConfig(t, `echo "deploying $SERVICE to $1"; echo "Service URL: https://api-$1.example.com"`))

	status, err := h.ctrl.Start(context.Background(), deploy.TargetCloud, StartRequest{Service: "api", Environment: "staging"})
	require.NoError(t, err)
	assert.Contains(t, []deploy.State{deploy.StateDeploying, deploy.StateDeployed}, status.State)

	status = h.waitForState(t, deploy.TargetCloud, deploy.StateDeployed)
	assert.Equal(t, "https://api-staging.example.com", status.Result["url"])
	assert.Equal(t, "staging", status.Environment)
	assert.Equal(t, "api", status.Service)
	assert.Empty(t, status.ProcessID)

	h.waitForLog(t, deploy.TargetCloud, "deploying api to staging")
	entry := h.waitForLog(t, deploy.TargetCloud, "deployed to https://api-staging.example.com")
	assert.Equal(t, deploy.SeveritySuccess, entry.Severity)
	assert.Eventually(t, func() bool { return len(h.ctrl.Processes()) == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestCloudDeployDefaultEnvironment(t *testing.T) {
	h := newHarness(t, cloudConfig(t, `echo "https://api-$1.example.com"`))

	_, err := h.ctrl.Start(context.Background(), deploy.TargetCloud, StartRequest{})
	require.NoError(t, err)

	status := h.waitForState(t, deploy.TargetCloud, deploy.StateDeployed)
	assert.Equal(t, "dev", status.Environment)
	assert.Equal(t, deploy.ServiceAll, status.Service)
	assert.Equal(t, "https://api-dev.example.com", status.Result["url"])
}

func TestCloudDeployPrefersArtifact(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "deployment.json")
	cfg := cloudConfig(t, `echo "https://from-output.example.com"
printf '{"service_url":"https://from-artifact.example.com","region":"us-east-1","replicas":3}' > `+artifact)
	cfg.Cloud.ArtifactPath = artifact
	h := newHarness(t, cfg)

	_, err := h.ctrl.Start(context.Background(), deploy.TargetCloud, StartRequest{})
	require.NoError(t, err)

	status := h.waitForState(t, deploy.TargetCloud, deploy.StateDeployed)
	assert.Equal(t, "https://from-artifact.example.com", status.Result["url"])
	assert.Equal(t, "us-east-1", status.Result["region"])
	assert.NotContains(t, status.Result, "replicas")
}

func TestCloudDeployIgnoresStaleArtifact(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "deployment.json")
	require.NoError(t, os.WriteFile(artifact, []byte(`{"url":"https://old.example.com"}`), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(artifact, old, old))

	cfg := cloudConfig(t, `echo "https://new.example.com"`)
	cfg.Cloud.ArtifactPath = artifact
	h := newHarness(t, cfg)

	_, err := h.ctrl.Start(context.Background(), deploy.TargetCloud, StartRequest{})
	require.NoError(t, err)

	status := h.waitForState(t, deploy.TargetCloud, deploy.StateDeployed)
	assert.Equal(t, "https://new.example.com", status.Result["url"])
}

func TestCloudDeployWithoutAddress(t *testing.T) {
	h := newHarness(t, cloudConfig(t, `echo done`))

	_, err := h.ctrl.Start(context.Background(), deploy.TargetCloud, StartRequest{})
	require.NoError(t, err)

	status := h.waitForState(t, deploy.TargetCloud, deploy.StateDeployed)
	assert.Empty(t, status.Result["url"])
	entry := h.waitForLog(t, deploy.TargetCloud, "reported no endpoint address")
	assert.Equal(t, deploy.SeverityWarning, entry.Severity)
}

func TestCloudDeployFailure(t *testing.T) {
	h := newHarness(t, cloudConfig(t, `echo "deploy error: quota exceeded" >&2; exit 1`))
	ctx := context.Background()

	_, err := h.ctrl.Start(ctx, deploy.TargetCloud, StartRequest{})
	require.NoError(t, err)

	status := h.waitForState(t, deploy.TargetCloud, deploy.StateFailed)
	assert.Contains(t, status.Error, "exit code 1")
	assert.NotNil(t, status.EndedAt)

	entry := h.waitForLog(t, deploy.TargetCloud, "deploy error: quota exceeded")
	assert.Equal(t, deploy.SeverityError, entry.Severity)
	entry = h.waitForLog(t, deploy.TargetCloud, "deployment failed")
	assert.Equal(t, deploy.SeverityError, entry.Severity)

	// a failed deployment can be retried or reset
	status, err = h.ctrl.Stop(ctx, deploy.TargetCloud)
	require.NoError(t, err)
	assert.Equal(t, deploy.StateNotDeployed, status.State)
	assert.Empty(t, status.Error)
}

func TestCloudSpawnFailure(t *testing.T) {
	h := newHarness(t, Config{Cloud: config.CloudConfig{Command: "/does/not/exist"}})

	status, err := h.ctrl.Start(context.Background(), deploy.TargetCloud, StartRequest{})
	require.Error(t, err)
	assert.Equal(t, deploy.CodeProcessSpawnFailure, deploy.CodeOf(err))
	assert.Equal(t, deploy.StateFailed, status.State)
}

func TestCloudPreflightFailure(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "deployed")
	cfg := cloudConfig(t, "touch "+marker)
	cfg.Preflight = config.PreflightConfig{
		Command: writeScript(t, "preflight.sh", `echo "schema drift detected" >&2; exit 1`),
	}
	h := newHarness(t, cfg)

	status, err := h.ctrl.Start(context.Background(), deploy.TargetCloud, StartRequest{})
	require.Error(t, err)
	assert.Equal(t, deploy.CodePreflightFailed, deploy.CodeOf(err))
	assert.Equal(t, deploy.StateNotDeployed, status.State)
	assert.Equal(t, uint64(0), h.store.Snapshot().Version)

	h.waitForLog(t, deploy.TargetCloud, "schema drift detected")
	entry := h.waitForLog(t, deploy.TargetCloud, "start rejected")
	assert.Equal(t, deploy.SeverityWarning, entry.Severity)
	assert.NoFileExists(t, marker)
	assert.Empty(t, h.ctrl.Processes())
}

func TestCloudPreflightPasses(t *testing.T) {
	cfg := cloudConfig(t, `echo "https://api.example.com"`)
	cfg.Preflight = config.PreflightConfig{Command: writeScript(t, "preflight.sh", `echo ok`)}
	h := newHarness(t, cfg)

	_, err := h.ctrl.Start(context.Background(), deploy.TargetCloud, StartRequest{})
	require.NoError(t, err)
	h.waitForLog(t, deploy.TargetCloud, "preflight check passed")
	h.waitForState(t, deploy.TargetCloud, deploy.StateDeployed)
}

func TestCloudStopDuringDeploy(t *testing.T) {
	h := newHarness(t, cloudConfig(t, `echo started; sleep 30`))
	ctx := context.Background()

	status, err := h.ctrl.Start(ctx, deploy.TargetCloud, StartRequest{})
	require.NoError(t, err)
	assert.Equal(t, deploy.StateDeploying, status.State)
	h.waitForLog(t, deploy.TargetCloud, "started")

	_, err = h.ctrl.Start(ctx, deploy.TargetCloud, StartRequest{})
	require.ErrorIs(t, err, deploy.ErrAlreadyRunning)

	start := time.Now()
	status, err = h.ctrl.Stop(ctx, deploy.TargetCloud)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), h.pm.GracePeriod()+stopOverhead)
	assert.Equal(t, deploy.StateNotDeployed, status.State)
	assert.Empty(t, status.AttemptID)
	assert.Empty(t, h.ctrl.Processes())

	entry := h.waitForLog(t, deploy.TargetCloud, "cancelling in-flight deployment")
	assert.Equal(t, deploy.SeverityWarning, entry.Severity)

	// the cancelled run must not resolve the reset target
	time.Sleep(100 * time.Millisecond)
	status, _ = h.store.Status(deploy.TargetCloud)
	assert.Equal(t, deploy.StateNotDeployed, status.State)
}

func TestCommandInProgressIsRejected(t *testing.T) {
	cfg := cloudConfig(t, `echo "https://api.example.com"`)
	cfg.Preflight = config.PreflightConfig{Command: writeScript(t, "preflight.sh", `sleep 1`)}
	h := newHarness(t, cfg)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := h.ctrl.Start(ctx, deploy.TargetCloud, StartRequest{})
		assert.NoError(t, err)
	}()
	h.waitForLog(t, deploy.TargetCloud, "running preflight check")

	_, err := h.ctrl.Start(ctx, deploy.TargetCloud, StartRequest{})
	require.ErrorIs(t, err, deploy.ErrCommandInProgress)
	assert.Equal(t, deploy.CodeStateConflict, deploy.CodeOf(err))

	_, err = h.ctrl.Stop(ctx, deploy.TargetCloud)
	require.ErrorIs(t, err, deploy.ErrCommandInProgress)

	// the other target is not affected
	_, err = h.ctrl.Stop(ctx, deploy.TargetLocal)
	require.ErrorIs(t, err, deploy.ErrNotRunning)

	wg.Wait()
	h.waitForState(t, deploy.TargetCloud, deploy.StateDeployed)
}

func TestAutoValidationAfterDeploy(t *testing.T) {
	cfg := cloudConfig(t, `echo "https://api.example.com"`)
	cfg.Cloud.ValidateDelay = 10 * time.Millisecond
	h := newHarness(t, cfg)

	_, err := h.ctrl.Start(context.Background(), deploy.TargetCloud, StartRequest{})
	require.NoError(t, err)
	h.waitForState(t, deploy.TargetCloud, deploy.StateDeployed)

	require.Eventually(t, func() bool { return h.ctrl.Validation(deploy.TargetCloud) != nil }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"https://api.example.com"}, h.validator.getCalls())
	assert.Equal(t, deploy.APIHealthy, h.store.Snapshot().Health.API)
	h.waitForLog(t, deploy.TargetCloud, "endpoint validation passed (1/1)")

	// validation never moves the deployment out of deployed
	status, _ := h.store.Status(deploy.TargetCloud)
	assert.Equal(t, deploy.StateDeployed, status.State)
}

func TestStopCancelsPendingValidation(t *testing.T) {
	cfg := cloudConfig(t, `echo "https://api.example.com"`)
	cfg.Cloud.ValidateDelay = 300 * time.Millisecond
	h := newHarness(t, cfg)
	ctx := context.Background()

	_, err := h.ctrl.Start(ctx, deploy.TargetCloud, StartRequest{})
	require.NoError(t, err)
	h.waitForState(t, deploy.TargetCloud, deploy.StateDeployed)

	_, err = h.ctrl.Stop(ctx, deploy.TargetCloud)
	require.NoError(t, err)

	time.Sleep(500 * time.Millisecond)
	assert.Empty(t, h.validator.getCalls())
	assert.Nil(t, h.ctrl.Validation(deploy.TargetCloud))
}

func TestRestartCloudReusesEnvironment(t *testing.T) {
	h := newHarness(t, cloudConfig(t, `echo "https://api-$1.example.com"`))
	ctx := context.Background()

	_, err := h.ctrl.Start(ctx, deploy.TargetCloud, StartRequest{Service: "api", Environment: "prod"})
	require.NoError(t, err)
	first := h.waitForState(t, deploy.TargetCloud, deploy.StateDeployed)

	_, err = h.ctrl.Restart(ctx, deploy.TargetCloud, StartRequest{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, _ := h.store.Status(deploy.TargetCloud)
		return s.State == deploy.StateDeployed && s.AttemptID != first.AttemptID
	}, 10*time.Second, 10*time.Millisecond)
	status, _ := h.store.Status(deploy.TargetCloud)
	assert.Equal(t, "prod", status.Environment)
	assert.Equal(t, "api", status.Service)
	assert.Equal(t, "https://api-prod.example.com", status.Result["url"])
}
