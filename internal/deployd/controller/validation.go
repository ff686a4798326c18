package controller

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/eagraf/habitat-deployd/core/state/deploy"
	"github.com/rs/zerolog/log"
)

// ValidateEndpoints probes baseURL, or the deployed address of the target when baseURL is
// empty. The batch is bound to the target's state at the time it started: if the target
// transitions while probes run, the batch is returned as stale and not stored.
func (c *Controller) ValidateEndpoints(ctx context.Context, req ValidateRequest) (*ValidationResult, error) {
	target := req.Target
	if target == "" {
		target = deploy.TargetCloud
	}
	if _, err := deploy.ParseTarget(string(target)); err != nil {
		return nil, err
	}

	status, revision := c.store.Status(target)
	baseURL := req.BaseURL
	if baseURL == "" {
		baseURL = status.Result["url"]
	}
	if baseURL == "" {
		return nil, deploy.NewError(deploy.CodeInvalidRequest, fmt.Sprintf("no baseUrl given and %s has no deployed address", target), nil)
	}
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, deploy.NewError(deploy.CodeInvalidRequest, fmt.Sprintf("invalid baseUrl %q", baseURL), err)
	}

	c.logs.Logf(target, deploy.SeverityInfo, "", "validating endpoints at %s", baseURL)
	run := c.validator.Run(ctx, target, baseURL, req.Probes)

	stale := false
	if err := c.store.RecordValidation(revision, run); err != nil {
		if !errors.Is(err, deploy.ErrStaleAttempt) {
			return nil, err
		}
		stale = true
		c.logs.Logf(target, deploy.SeverityWarning, "", "%s changed while endpoints were validated; results not stored", target)
	}
	c.logValidation(target, run)
	return &ValidationResult{Run: run, Stale: stale}, nil
}

func (c *Controller) Validation(target deploy.Target) *deploy.ValidationRun {
	return c.store.Validation(target)
}

// scheduleValidation validates the deployed address after the configured delay, provided
// the attempt is still the deployed one by then.
func (c *Controller) scheduleValidation(attemptID, baseURL string) {
	delay := c.config.Cloud.ValidateDelay
	if delay < 0 || c.ctx.Err() != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopValidationLocked()
	c.wg.Add(1)
	c.validateTimer = time.AfterFunc(delay, func() {
		defer c.wg.Done()
		c.autoValidate(attemptID, baseURL)
	})
}

func (c *Controller) stopValidation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopValidationLocked()
}

func (c *Controller) stopValidationLocked() {
	// a timer that already fired releases the wait group itself
	if c.validateTimer != nil && c.validateTimer.Stop() {
		c.wg.Done()
	}
	c.validateTimer = nil
}

func (c *Controller) autoValidate(attemptID, baseURL string) {
	if c.ctx.Err() != nil {
		return
	}
	status, revision := c.store.Status(deploy.TargetCloud)
	if status.AttemptID != attemptID || status.State != deploy.StateDeployed {
		log.Debug().Msgf("skipping validation of superseded cloud attempt %s", attemptID)
		return
	}

	c.logs.Logf(deploy.TargetCloud, deploy.SeverityInfo, status.Service, "validating endpoints at %s", baseURL)
	run := c.validator.Run(c.ctx, deploy.TargetCloud, baseURL, nil)
	if err := c.store.RecordValidation(revision, run); err != nil {
		log.Warn().Err(err).Msgf("discarding validation of cloud attempt %s", attemptID)
		c.logs.Logf(deploy.TargetCloud, deploy.SeverityWarning, status.Service, "deployment changed while endpoints were validated; results discarded")
		return
	}
	c.logValidation(deploy.TargetCloud, run)
}

// logValidation reports a batch on the target's channel. Failing probes are informational
// and never change the deployment state.
func (c *Controller) logValidation(target deploy.Target, run *deploy.ValidationRun) {
	for _, r := range run.Results {
		if r.Success {
			continue
		}
		detail := fmt.Sprintf("status %d, expected %v", r.Status, r.Expected)
		if r.Error != "" {
			detail = r.Error
		}
		c.logs.Logf(target, deploy.SeverityWarning, "", "%s %s failed: %s", r.Method, r.Path, detail)
	}

	if run.Healthy() {
		c.logs.Logf(target, deploy.SeveritySuccess, "", "endpoint validation passed (%d/%d)", run.Passed, run.Total)
		return
	}
	err := deploy.NewError(deploy.CodeEndpointValidationFailure, fmt.Sprintf("%d of %d probes failed", run.Total-run.Passed, run.Total), nil)
	c.logs.Logf(target, deploy.SeverityWarning, "", "%s", err)
}
