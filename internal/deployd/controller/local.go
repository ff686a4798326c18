package controller

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/eagraf/habitat-deployd/core/state/deploy"
	"github.com/eagraf/habitat-deployd/internal/process"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	readyPollInterval = 250 * time.Millisecond
	readyDialTimeout  = 250 * time.Millisecond
)

func (c *Controller) localSpec(service string) *process.Spec {
	cfg := c.config.Local
	args := append([]string{}, cfg.Args...)
	if service != deploy.ServiceAll {
		args = append(args, "--service="+service)
	}
	var env []string
	if cfg.Port > 0 {
		env = append(env, "PORT="+strconv.Itoa(cfg.Port))
	}
	return &process.Spec{
		Target:  deploy.TargetLocal,
		Service: service,
		Driver:  cfg.Driver,
		Command: cfg.Command,
		Args:    args,
		Dir:     cfg.Dir,
		Env:     env,
		Image:   cfg.Image,
		Port:    cfg.Port,
	}
}

func (c *Controller) startLocal(ctx context.Context, req StartRequest) (deploy.Status, error) {
	attemptID := uuid.New().String()
	status, err := c.store.Apply(&deploy.StartTransition{
		On:        deploy.TargetLocal,
		Service:   req.Service,
		AttemptID: attemptID,
	})
	if err != nil {
		return status, err
	}
	c.logs.Logf(deploy.TargetLocal, deploy.SeverityInfo, req.Service, "starting local service (%s)", req.Service)

	actx, cancel := context.WithCancel(c.ctx)
	a := &attempt{id: attemptID, cancel: cancel, done: make(chan struct{})}
	c.setAttempt(deploy.TargetLocal, a)

	spec := c.localSpec(req.Service)
	spec.OnExit = func(h *process.Handle) {
		c.onLocalExit(attemptID, h)
	}

	h, err := c.pm.Spawn(ctx, spec)
	if err != nil {
		c.cancelAttempt(deploy.TargetLocal, attemptID)
		close(a.done)
		if _, exitErr := c.store.Apply(&deploy.ExitTransition{AttemptID: attemptID, Reason: err.Error()}); exitErr != nil {
			log.Error().Err(exitErr).Msg("error resolving failed local start")
		}
		c.logs.Logf(deploy.TargetLocal, deploy.SeverityError, req.Service, "failed to start local service: %s", err)
		return c.status(deploy.TargetLocal), err
	}

	_, err = c.store.Apply(&deploy.AttachProcessTransition{
		On:        deploy.TargetLocal,
		AttemptID: attemptID,
		ProcessID: h.ID,
	})
	if err != nil && !errors.Is(err, deploy.ErrStaleAttempt) {
		log.Error().Err(err).Msgf("error attaching process %s", h.ID)
	}

	port := c.config.Local.Port
	if port <= 0 {
		close(a.done)
		c.markReady(attemptID, req.Service, map[string]string{})
		return c.status(deploy.TargetLocal), nil
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(a.done)
		c.awaitReady(actx, attemptID, req.Service, port, h)
	}()
	return c.status(deploy.TargetLocal), nil
}

func (c *Controller) markReady(attemptID, service string, result map[string]string) {
	_, err := c.store.Apply(&deploy.ReadyTransition{AttemptID: attemptID, Result: result})
	if err != nil {
		// the process exited or was stopped first
		log.Debug().Err(err).Msgf("dropping readiness of local attempt %s", attemptID)
		return
	}
	if url, ok := result["url"]; ok {
		c.logs.Logf(deploy.TargetLocal, deploy.SeveritySuccess, service, "local service running at %s", url)
	} else {
		c.logs.Logf(deploy.TargetLocal, deploy.SeveritySuccess, service, "local service running")
	}
}

// awaitReady polls the local port until the service accepts connections, the process
// exits, the attempt is cancelled or the ready timeout passes. On timeout the process is
// terminated.
func (c *Controller) awaitReady(ctx context.Context, attemptID, service string, port int, h *process.Handle) {
	timeout := c.config.Local.ReadyTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	addr := net.JoinHostPort("localhost", strconv.Itoa(port))
	for {
		conn, err := net.DialTimeout("tcp", addr, readyDialTimeout)
		if err == nil {
			conn.Close()
			c.markReady(attemptID, service, map[string]string{
				"port": strconv.Itoa(port),
				"url":  fmt.Sprintf("http://localhost:%d", port),
			})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-h.Done():
			// the exit watcher resolves the attempt
			return
		case <-deadline.C:
			c.failReadiness(attemptID, service, port, timeout, h)
			return
		case <-ticker.C:
		}
	}
}

func (c *Controller) failReadiness(attemptID, service string, port int, timeout time.Duration, h *process.Handle) {
	reason := fmt.Sprintf("service did not accept connections on port %d within %s", port, timeout)
	_, err := c.store.Apply(&deploy.StopRequestTransition{AttemptID: attemptID, Reason: reason})
	if err != nil {
		log.Debug().Err(err).Msgf("local attempt %s resolved before readiness timeout", attemptID)
		return
	}
	c.logs.Logf(deploy.TargetLocal, deploy.SeverityError, service, "local %s", reason)

	if _, err := c.pm.Terminate(h.ID, c.pm.GracePeriod()); err != nil && !errors.Is(err, process.ErrNoProcFound) {
		log.Warn().Err(err).Msgf("error terminating process %s", h.ID)
	}
	_, err = c.store.Apply(&deploy.ExitTransition{AttemptID: attemptID, Reason: reason})
	if err != nil && !errors.Is(err, deploy.ErrStaleAttempt) {
		log.Error().Err(err).Msg("error resolving local readiness timeout")
	}
	c.takeAttempt(deploy.TargetLocal, attemptID)
}

// onLocalExit runs on the supervisor's watcher goroutine when the local process exits.
func (c *Controller) onLocalExit(attemptID string, h *process.Handle) {
	res, _ := h.Result()
	current := c.status(deploy.TargetLocal)
	requested := current.AttemptID == attemptID && current.State == deploy.StateStopping

	reason := ""
	if !requested && !res.Success() {
		reason = fmt.Sprintf("process exited: %s", res)
	}
	_, err := c.store.Apply(&deploy.ExitTransition{AttemptID: attemptID, Reason: reason})
	if errors.Is(err, deploy.ErrStaleAttempt) {
		return
	}
	if err != nil {
		log.Error().Err(err).Msgf("error applying exit of process %s", h.ID)
		return
	}
	c.cancelAttempt(deploy.TargetLocal, attemptID)

	switch {
	case requested:
		c.logs.Logf(deploy.TargetLocal, deploy.SeverityInfo, h.Service, "local service stopped (%s)", res)
	case res.Success():
		c.logs.Logf(deploy.TargetLocal, deploy.SeverityWarning, h.Service, "local service exited")
	default:
		c.logs.Logf(deploy.TargetLocal, deploy.SeverityError, h.Service, "local service failed: %s", res)
	}
}

func (c *Controller) stopLocal(ctx context.Context) (deploy.Status, error) {
	current := c.status(deploy.TargetLocal)
	status, err := c.store.Apply(&deploy.StopRequestTransition{})
	if err != nil {
		return status, err
	}
	c.logs.Logf(deploy.TargetLocal, deploy.SeverityInfo, current.Service, "stopping local service")

	c.cancelAttempt(deploy.TargetLocal, current.AttemptID)
	if current.ProcessID != "" {
		_, err := c.pm.Terminate(current.ProcessID, c.pm.GracePeriod())
		if err != nil && !errors.Is(err, process.ErrNoProcFound) {
			log.Warn().Err(err).Msgf("error terminating process %s", current.ProcessID)
		}
	}

	_, err = c.store.Apply(&deploy.ExitTransition{AttemptID: current.AttemptID})
	if err == nil {
		c.logs.Logf(deploy.TargetLocal, deploy.SeverityInfo, current.Service, "local service stopped")
	} else if !errors.Is(err, deploy.ErrStaleAttempt) {
		log.Error().Err(err).Msg("error resolving local stop")
	}
	return c.status(deploy.TargetLocal), nil
}
