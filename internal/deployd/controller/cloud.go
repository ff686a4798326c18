package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/eagraf/habitat-deployd/core/state/deploy"
	"github.com/eagraf/habitat-deployd/internal/process"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// stopOverhead is added to the grace period when a cloud stop waits for the runner.
const stopOverhead = 3 * time.Second

// urlKeys are artifact keys that name the deployed service address, in order of
// preference.
var urlKeys = []string{"url", "service_url", "endpoint"}

// preflight runs the consistency checker and only looks at its exit code.
func (c *Controller) preflight(ctx context.Context, service string) error {
	cfg := c.config.Preflight
	if cfg.Command == "" {
		return nil
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.logs.Logf(deploy.TargetCloud, deploy.SeverityInfo, service, "running preflight check")
	_, err := c.pm.Run(pctx, &process.Spec{
		Target:  deploy.TargetCloud,
		Service: "preflight",
		Command: cfg.Command,
		Args:    cfg.Args,
		Dir:     cfg.Dir,
	})
	if err == nil {
		c.logs.Logf(deploy.TargetCloud, deploy.SeveritySuccess, service, "preflight check passed")
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("preflight check timed out after %s", timeout)
	}
	return deploy.NewError(deploy.CodePreflightFailed, fmt.Sprintf("preflight check failed: %s", err), err)
}

func (c *Controller) cloudSpec(service, environment string) *process.Spec {
	cfg := c.config.Cloud
	return &process.Spec{
		Target:  deploy.TargetCloud,
		Service: service,
		Command: cfg.Command,
		Args:    []string{environment},
		Dir:     cfg.Dir,
		Env:     []string{"SERVICE=" + service},
	}
}

func (c *Controller) startCloud(ctx context.Context, req StartRequest) (deploy.Status, error) {
	if req.Environment == "" {
		req.Environment = c.config.Cloud.DefaultEnvironment
	}

	if err := c.preflight(ctx, req.Service); err != nil {
		return c.status(deploy.TargetCloud), err
	}

	attemptID := uuid.New().String()
	startedAt := time.Now()
	status, err := c.store.Apply(&deploy.StartTransition{
		On:          deploy.TargetCloud,
		Service:     req.Service,
		Environment: req.Environment,
		AttemptID:   attemptID,
		At:          startedAt,
	})
	if err != nil {
		return status, err
	}
	c.logs.Logf(deploy.TargetCloud, deploy.SeverityInfo, req.Service, "deploying %s to %s", req.Service, req.Environment)

	actx, cancel := context.WithCancel(c.ctx)
	a := &attempt{id: attemptID, cancel: cancel, done: make(chan struct{})}
	c.setAttempt(deploy.TargetCloud, a)

	var spawned atomic.Bool
	launched := make(chan error, 1)
	spec := c.cloudSpec(req.Service, req.Environment)
	spec.OnSpawn = func(h *process.Handle) {
		spawned.Store(true)
		_, err := c.store.Apply(&deploy.AttachProcessTransition{
			On:        deploy.TargetCloud,
			AttemptID: attemptID,
			ProcessID: h.ID,
		})
		if err != nil && !errors.Is(err, deploy.ErrStaleAttempt) {
			log.Error().Err(err).Msgf("error attaching process %s", h.ID)
		}
		launched <- nil
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(a.done)

		out, err := c.pm.Run(actx, spec)
		if err != nil && !spawned.Load() {
			c.failDeploy(attemptID, req.Service, err)
			launched <- err
			return
		}
		c.finishDeploy(actx, attemptID, req.Service, startedAt, out, err)
	}()

	// wait for the launch so a spawn failure is reported to the caller
	select {
	case err := <-launched:
		if err != nil {
			return c.status(deploy.TargetCloud), err
		}
	case <-ctx.Done():
	}
	return c.status(deploy.TargetCloud), nil
}

func (c *Controller) failDeploy(attemptID, service string, err error) {
	_, applyErr := c.store.Apply(&deploy.DeployFailedTransition{AttemptID: attemptID, Reason: err.Error()})
	if applyErr != nil {
		log.Debug().Err(applyErr).Msgf("dropping failure of cloud attempt %s", attemptID)
		return
	}
	c.takeAttempt(deploy.TargetCloud, attemptID)
	c.logs.Logf(deploy.TargetCloud, deploy.SeverityError, service, "deployment failed: %s", err)
}

func (c *Controller) finishDeploy(ctx context.Context, attemptID, service string, startedAt time.Time, out string, err error) {
	if ctx.Err() != nil {
		log.Info().Msgf("cloud attempt %s cancelled", attemptID)
		return
	}
	if err != nil {
		c.failDeploy(attemptID, service, err)
		return
	}

	result := c.extractResult(out, startedAt)
	_, err = c.store.Apply(&deploy.DeployedTransition{AttemptID: attemptID, Result: result})
	if err != nil {
		log.Debug().Err(err).Msgf("dropping result of cloud attempt %s", attemptID)
		return
	}
	c.takeAttempt(deploy.TargetCloud, attemptID)

	url := result["url"]
	if url == "" {
		c.logs.Logf(deploy.TargetCloud, deploy.SeverityWarning, service, "deployment finished but reported no endpoint address")
		return
	}
	c.logs.Logf(deploy.TargetCloud, deploy.SeveritySuccess, service, "deployed to %s", url)
	c.scheduleValidation(attemptID, url)
}

// extractResult prefers the artifact the deployment tool writes and falls back to
// scanning its output for an address.
func (c *Controller) extractResult(out string, startedAt time.Time) map[string]string {
	result := c.readArtifact(startedAt)
	if result["url"] != "" || c.urlPattern == nil {
		return result
	}
	for _, line := range strings.Split(out, "\n") {
		if m := c.urlPattern.FindString(line); m != "" {
			result["url"] = m
			break
		}
	}
	return result
}

func (c *Controller) readArtifact(startedAt time.Time) map[string]string {
	result := make(map[string]string)

	path := c.config.Cloud.ArtifactPath
	if path == "" {
		return result
	}
	if !filepath.IsAbs(path) && c.config.Cloud.Dir != "" {
		path = filepath.Join(c.config.Cloud.Dir, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		log.Debug().Err(err).Msgf("no deployment artifact at %s", path)
		return result
	}
	// an artifact left behind by an earlier deployment is not this attempt's result
	if info.ModTime().Before(startedAt.Truncate(time.Second)) {
		log.Warn().Msgf("ignoring stale deployment artifact %s", path)
		return result
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Msgf("error reading deployment artifact %s", path)
		return result
	}
	var values map[string]interface{}
	if err := json.Unmarshal(data, &values); err != nil {
		log.Warn().Err(err).Msgf("deployment artifact %s is not a JSON object", path)
		return result
	}
	for k, v := range values {
		if s, ok := v.(string); ok {
			result[k] = s
		}
	}
	for _, k := range urlKeys {
		if v := result[k]; v != "" {
			result["url"] = v
			break
		}
	}
	return result
}

// stopCloud resets bookkeeping to not_deployed. An in-flight deployment tool is
// terminated; remote changes it already applied stay in place.
func (c *Controller) stopCloud(_ context.Context) (deploy.Status, error) {
	current := c.status(deploy.TargetCloud)
	status, err := c.store.Apply(&deploy.ResetTransition{})
	if err != nil {
		return status, err
	}
	c.stopValidation()

	a := c.takeAttempt(deploy.TargetCloud, current.AttemptID)
	if current.State == deploy.StateDeploying {
		c.logs.Logf(deploy.TargetCloud, deploy.SeverityWarning, current.Service, "cancelling in-flight deployment; remote changes already applied are not rolled back")
	}
	if a != nil {
		a.cancel()
		select {
		case <-a.done:
		case <-time.After(c.pm.GracePeriod() + stopOverhead):
			log.Warn().Msgf("cloud attempt %s did not finish after cancellation", a.id)
		}
	}

	c.logs.Logf(deploy.TargetCloud, deploy.SeverityInfo, current.Service, "cloud deployment reset to %s", deploy.StateNotDeployed)
	return status, nil
}
