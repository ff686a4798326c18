package controller

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/eagraf/habitat-deployd/core/state/deploy"
	"github.com/eagraf/habitat-deployd/internal/deployd/config"
	"github.com/eagraf/habitat-deployd/internal/deployd/logbuffer"
	"github.com/eagraf/habitat-deployd/internal/deployd/pubsub"
	"github.com/eagraf/habitat-deployd/internal/deployd/store"
	"github.com/eagraf/habitat-deployd/internal/process"
	"github.com/rs/zerolog/log"
)

// ReplayTail is the number of entries per channel replayed to a new observer.
const ReplayTail = 20

// DeploymentController is the command surface of the daemon. Commands for one target are
// serialized: a command issued while another one for the same target is still resolving
// is rejected with CommandInProgress, never queued.
type DeploymentController interface {
	Start(ctx context.Context, target deploy.Target, req StartRequest) (deploy.Status, error)
	Stop(ctx context.Context, target deploy.Target) (deploy.Status, error)
	Restart(ctx context.Context, target deploy.Target, req StartRequest) (deploy.Status, error)
	ValidateEndpoints(ctx context.Context, req ValidateRequest) (*ValidationResult, error)
	Validation(target deploy.Target) *deploy.ValidationRun
	Snapshot() deploy.Snapshot
	Processes() []deploy.ProcessInfo
	Logs(channel deploy.Target, limit int) []deploy.LogEntry
	// Observe subscribes an observer. The returned queue starts with the current snapshot
	// and the recent log tail of every channel, followed by live events.
	Observe(id string) *pubsub.Queue[deploy.Event]
	Unobserve(id string)
}

type StartRequest struct {
	Service     string `json:"service"`
	Environment string `json:"environment"`
}

type ValidateRequest struct {
	BaseURL string         `json:"baseUrl"`
	Target  deploy.Target  `json:"target"`
	Probes  []deploy.Probe `json:"probes"`
}

// ValidationResult is a completed batch. Stale is set when the target transitioned while
// the batch was running; a stale batch is returned but not stored.
type ValidationResult struct {
	Run   *deploy.ValidationRun
	Stale bool
}

// EndpointValidator runs a probe batch against baseURL. A nil probe set means the
// configured default set.
type EndpointValidator interface {
	Run(ctx context.Context, target deploy.Target, baseURL string, probes []deploy.Probe) *deploy.ValidationRun
}

// CommandRecorder is notified about rejected commands.
type CommandRecorder interface {
	RecordRejected(target, command, code string)
}

type Config struct {
	Local     config.LocalConfig
	Cloud     config.CloudConfig
	Preflight config.PreflightConfig
}

// attempt is the in-flight asynchronous work of one start command.
type attempt struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

type Controller struct {
	config     Config
	store      *store.Store
	logs       *logbuffer.Buffer
	hub        *pubsub.Hub[deploy.Event]
	pm         process.ProcessManager
	validator  EndpointValidator
	recorder   CommandRecorder
	urlPattern *regexp.Regexp

	locks map[deploy.Target]*sync.Mutex

	mu            sync.Mutex
	attempts      map[deploy.Target]*attempt
	validateTimer *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ DeploymentController = &Controller{}

type Option func(*Controller)

func WithRecorder(r CommandRecorder) Option {
	return func(c *Controller) {
		c.recorder = r
	}
}

func NewController(
	cfg Config,
	st *store.Store,
	logs *logbuffer.Buffer,
	hub *pubsub.Hub[deploy.Event],
	pm process.ProcessManager,
	validator EndpointValidator,
	opts ...Option,
) (*Controller, error) {
	var pattern *regexp.Regexp
	if cfg.Cloud.URLPattern != "" {
		p, err := regexp.Compile(cfg.Cloud.URLPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid cloud url pattern: %w", err)
		}
		pattern = p
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		config:     cfg,
		store:      st,
		logs:       logs,
		hub:        hub,
		pm:         pm,
		validator:  validator,
		urlPattern: pattern,
		locks:      make(map[deploy.Target]*sync.Mutex),
		attempts:   make(map[deploy.Target]*attempt),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, t := range deploy.Targets {
		c.locks[t] = &sync.Mutex{}
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// acquire takes the command lock of target without waiting.
func (c *Controller) acquire(target deploy.Target, command string) (func(), error) {
	lock, ok := c.locks[target]
	if !ok {
		return nil, deploy.NewError(deploy.CodeInvalidRequest, fmt.Sprintf("unknown deployment target %q", target), nil)
	}
	if !lock.TryLock() {
		return nil, c.reject(target, command, deploy.Conflict(deploy.ErrCommandInProgress, "another %s command is still in progress", target))
	}
	return lock.Unlock, nil
}

// reject records a refused command and appends the rejection notice to the channel.
func (c *Controller) reject(target deploy.Target, command string, err error) error {
	code := deploy.CodeOf(err)
	if code == "" {
		return err
	}
	if c.recorder != nil {
		c.recorder.RecordRejected(string(target), command, string(code))
	}
	if code == deploy.CodeStateConflict || code == deploy.CodePreflightFailed {
		c.logs.Logf(target, deploy.SeverityWarning, "", "%s rejected: %s", command, err)
	}
	return err
}

func (c *Controller) Start(ctx context.Context, target deploy.Target, req StartRequest) (deploy.Status, error) {
	unlock, err := c.acquire(target, "start")
	if err != nil {
		return c.status(target), err
	}
	defer unlock()

	return c.start(ctx, target, req)
}

func (c *Controller) start(ctx context.Context, target deploy.Target, req StartRequest) (deploy.Status, error) {
	if req.Service == "" {
		req.Service = deploy.ServiceAll
	}

	current := c.status(target)
	if !deploy.IsStartable(target, current.State) {
		return current, c.reject(target, "start", deploy.Conflict(deploy.ErrAlreadyRunning, "%s is already %s", target, current.State))
	}

	var (
		status deploy.Status
		err    error
	)
	if target == deploy.TargetCloud {
		status, err = c.startCloud(ctx, req)
	} else {
		status, err = c.startLocal(ctx, req)
	}
	if err != nil {
		return status, c.reject(target, "start", err)
	}
	return status, nil
}

func (c *Controller) Stop(ctx context.Context, target deploy.Target) (deploy.Status, error) {
	unlock, err := c.acquire(target, "stop")
	if err != nil {
		return c.status(target), err
	}
	defer unlock()

	return c.stop(ctx, target)
}

func (c *Controller) stop(ctx context.Context, target deploy.Target) (deploy.Status, error) {
	var (
		status deploy.Status
		err    error
	)
	if target == deploy.TargetCloud {
		status, err = c.stopCloud(ctx)
	} else {
		status, err = c.stopLocal(ctx)
	}
	if err != nil {
		return status, c.reject(target, "stop", err)
	}
	return status, nil
}

// Restart stops the target unless it is idle and starts it again, as one command. An
// empty service restarts the previously selected one.
func (c *Controller) Restart(ctx context.Context, target deploy.Target, req StartRequest) (deploy.Status, error) {
	unlock, err := c.acquire(target, "restart")
	if err != nil {
		return c.status(target), err
	}
	defer unlock()

	previous := c.status(target)
	if req.Service == "" {
		req.Service = previous.Service
	}
	if req.Environment == "" {
		req.Environment = previous.Environment
	}

	c.logs.Logf(target, deploy.SeverityInfo, req.Service, "restarting %s", target)
	if previous.State != target.IdleState() {
		if status, err := c.stop(ctx, target); err != nil {
			return status, err
		}
	}
	return c.start(ctx, target, req)
}

func (c *Controller) Snapshot() deploy.Snapshot {
	return c.store.Snapshot()
}

func (c *Controller) Processes() []deploy.ProcessInfo {
	return c.pm.ListProcesses()
}

// Logs returns up to limit of the most recent entries of channel, clamped to the buffer
// capacity.
func (c *Controller) Logs(channel deploy.Target, limit int) []deploy.LogEntry {
	if limit <= 0 || limit > logbuffer.Capacity {
		limit = logbuffer.Capacity
	}
	return c.logs.Tail(channel, limit)
}

func (c *Controller) Observe(id string) *pubsub.Queue[deploy.Event] {
	// subscribe before reading the replay so nothing published in between is lost
	q := c.hub.Subscribe(id)

	snapshot := c.store.Snapshot()
	replay := []deploy.Event{deploy.NewStateEvent(snapshot)}
	lastSeq := make(map[deploy.Target]uint64)
	for _, t := range deploy.Targets {
		tail := c.logs.Tail(t, ReplayTail)
		for _, e := range tail {
			replay = append(replay, deploy.NewLogEvent(e))
		}
		if len(tail) > 0 {
			lastSeq[t] = tail[len(tail)-1].Seq
		}
	}

	q.Prime(replay, func(e deploy.Event) bool {
		switch data := e.Data.(type) {
		case deploy.LogEntry:
			return data.Seq > lastSeq[data.Channel]
		case deploy.Snapshot:
			return data.Version > snapshot.Version
		}
		return true
	})
	return q
}

func (c *Controller) Unobserve(id string) {
	c.hub.Unsubscribe(id)
}

// Shutdown cancels in-flight attempts and waits for background work to finish. Supervised
// processes are left to the process manager's own shutdown.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.stopValidation()
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		log.Warn().Msg("timed out waiting for deployment attempts to finish")
		return ctx.Err()
	}
}

func (c *Controller) status(target deploy.Target) deploy.Status {
	status, _ := c.store.Status(target)
	return status
}

func (c *Controller) setAttempt(target deploy.Target, a *attempt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts[target] = a
}

// takeAttempt removes and returns the in-flight attempt of target if its id matches.
func (c *Controller) takeAttempt(target deploy.Target, id string) *attempt {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.attempts[target]
	if !ok || (id != "" && a.id != id) {
		return nil
	}
	delete(c.attempts, target)
	return a
}

// cancelAttempt cancels the attempt's background work without waiting for it.
func (c *Controller) cancelAttempt(target deploy.Target, id string) {
	if a := c.takeAttempt(target, id); a != nil {
		a.cancel()
	}
}
