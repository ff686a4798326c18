package process

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eagraf/habitat-deployd/core/state/deploy"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultGracePeriod = 5 * time.Second
	// killWait bounds how long Terminate waits for an exit report after a forceful kill.
	killWait = 2 * time.Second
)

var (
	ErrDriverNotFound        = errors.New("no driver found")
	ErrProcessAlreadyRunning = errors.New("process already running")
	ErrNoProcFound           = errors.New("no process found")
)

// LogSink receives every line of subprocess output.
type LogSink interface {
	Append(deploy.LogEntry) deploy.LogEntry
}

// ProcessManager spawns, tracks and terminates subprocesses. At most one live handle
// exists per target.
type ProcessManager interface {
	// Spawn launches the process and returns immediately. ctx only bounds the launch
	// itself, not the lifetime of the process.
	Spawn(context.Context, *Spec) (*Handle, error)
	// Terminate interrupts the process and kills it if it has not exited after grace.
	// When Terminate returns the handle has a result.
	Terminate(id string, grace time.Duration) (Result, error)
	// Run spawns the process and blocks until it exits. If ctx is done first the process
	// is terminated. The captured output is returned in both cases.
	Run(context.Context, *Spec) (string, error)
	ListProcesses() []deploy.ProcessInfo
	GetProcess(id string) (*Handle, error)
	GracePeriod() time.Duration
	// Shutdown terminates every tracked process.
	Shutdown(context.Context) error
}

type baseProcessManager struct {
	mu       sync.Mutex
	drivers  map[string]Driver
	handles  map[string]*Handle
	reserved map[deploy.Target]bool
	sink     LogSink
	grace    time.Duration

	onExit func(*Handle, Result)
}

type Option func(*baseProcessManager)

func WithGracePeriod(d time.Duration) Option {
	return func(pm *baseProcessManager) {
		if d > 0 {
			pm.grace = d
		}
	}
}

// WithExitHook is called for every process exit, after the handle's own OnExit.
func WithExitHook(fn func(*Handle, Result)) Option {
	return func(pm *baseProcessManager) {
		pm.onExit = fn
	}
}

func NewProcessManager(drivers []Driver, sink LogSink, opts ...Option) ProcessManager {
	pm := &baseProcessManager{
		drivers:  make(map[string]Driver),
		handles:  make(map[string]*Handle),
		reserved: make(map[deploy.Target]bool),
		sink:     sink,
		grace:    DefaultGracePeriod,
	}
	for _, driver := range drivers {
		pm.drivers[driver.Type()] = driver
	}
	for _, o := range opts {
		o(pm)
	}
	return pm
}

func (pm *baseProcessManager) GracePeriod() time.Duration {
	return pm.grace
}

func (pm *baseProcessManager) reserve(target deploy.Target) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if target == "" {
		return nil
	}
	if pm.reserved[target] {
		return fmt.Errorf("%w: %s", ErrProcessAlreadyRunning, target)
	}
	for _, h := range pm.handles {
		if h.Target == target {
			return fmt.Errorf("%w: %s (%s)", ErrProcessAlreadyRunning, target, h.ID)
		}
	}
	pm.reserved[target] = true
	return nil
}

func (pm *baseProcessManager) Spawn(ctx context.Context, spec *Spec) (*Handle, error) {
	driverType := spec.Driver
	if driverType == "" {
		driverType = DriverExec
	}
	driver, ok := pm.drivers[driverType]
	if !ok {
		return nil, deploy.NewError(deploy.CodeProcessSpawnFailure, fmt.Sprintf("driver %s not found", driverType), ErrDriverNotFound)
	}
	if err := pm.reserve(spec.Target); err != nil {
		return nil, deploy.NewError(deploy.CodeProcessSpawnFailure, err.Error(), err)
	}

	h := newHandle(uuid.New().String(), spec, driverType)
	stdout := newLineWriter(pm.emitter(h, streamStdout))
	stderr := newLineWriter(pm.emitter(h, streamStderr))

	proc, err := driver.Start(ctx, spec, stdout, stderr)

	pm.mu.Lock()
	delete(pm.reserved, spec.Target)
	if err == nil {
		h.proc = proc
		pm.handles[h.ID] = h
	}
	pm.mu.Unlock()

	if err != nil {
		return nil, deploy.NewError(deploy.CodeProcessSpawnFailure, fmt.Sprintf("could not launch %s: %s", spec.CommandLine(), err), err)
	}

	log.Info().Msgf("spawned %s process %s (pid %s): %s", spec.Target, h.ID, proc.PID(), h.Command)
	if spec.OnSpawn != nil {
		spec.OnSpawn(h)
	}

	go pm.watch(h, proc, stdout, stderr, spec.OnExit)
	return h, nil
}

func (pm *baseProcessManager) watch(h *Handle, proc Process, stdout, stderr *lineWriter, onExit func(*Handle)) {
	res := proc.Wait()
	stdout.Close()
	stderr.Close()

	// free the target before resolving so a follow-up spawn is not rejected
	pm.remove(h.ID)
	h.finish(res)

	res = h.result
	log.Info().Msgf("%s process %s exited: %s", h.Target, h.ID, res)
	if onExit != nil {
		onExit(h)
	}
	if pm.onExit != nil {
		pm.onExit(h, res)
	}
}

func (pm *baseProcessManager) emitter(h *Handle, s stream) func(string) {
	return func(line string) {
		if h.output != nil {
			h.output.writeLine(line)
		}
		if pm.sink == nil || line == "" {
			return
		}
		pm.sink.Append(deploy.LogEntry{
			Channel:  h.Target,
			Severity: classify(s, line),
			Message:  line,
			Service:  h.Service,
		})
	}
}

func (pm *baseProcessManager) remove(id string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.handles, id)
}

func (pm *baseProcessManager) GetProcess(id string) (*Handle, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	h, ok := pm.handles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoProcFound, id)
	}
	return h, nil
}

func (pm *baseProcessManager) ListProcesses() []deploy.ProcessInfo {
	pm.mu.Lock()
	procs := make([]deploy.ProcessInfo, 0, len(pm.handles))
	for _, h := range pm.handles {
		procs = append(procs, h.Info())
	}
	pm.mu.Unlock()

	sort.Slice(procs, func(i, j int) bool {
		return procs[i].StartedAt.Before(procs[j].StartedAt)
	})
	return procs
}

func (pm *baseProcessManager) Terminate(id string, grace time.Duration) (Result, error) {
	h, err := pm.GetProcess(id)
	if err != nil {
		return Result{}, err
	}
	if res, ok := h.Result(); ok {
		return res, nil
	}
	if grace <= 0 {
		grace = pm.grace
	}

	if err := h.proc.Interrupt(); err != nil {
		log.Warn().Err(err).Msgf("error interrupting process %s", h.ID)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-h.done:
		return h.result, nil
	case <-timer.C:
	}

	log.Warn().Msgf("process %s did not exit within %s, killing it", h.ID, grace)
	h.killed.Store(true)
	if err := h.proc.Kill(); err != nil {
		log.Warn().Err(err).Msgf("error killing process %s", h.ID)
	}

	select {
	case <-h.done:
	case <-time.After(killWait):
		pm.remove(h.ID)
		h.finish(Result{
			ExitCode: -1,
			Killed:   true,
			Err:      "no exit reported after kill",
			EndedAt:  time.Now(),
		})
	}
	return h.result, nil
}

func (pm *baseProcessManager) Run(ctx context.Context, spec *Spec) (string, error) {
	runSpec := *spec
	runSpec.CaptureOutput = true

	h, err := pm.Spawn(ctx, &runSpec)
	if err != nil {
		return "", err
	}

	select {
	case <-h.Done():
	case <-ctx.Done():
		log.Info().Msgf("cancelling %s process %s", h.Target, h.ID)
		if _, err := pm.Terminate(h.ID, pm.grace); err != nil && !errors.Is(err, ErrNoProcFound) {
			log.Warn().Err(err).Msgf("error terminating process %s", h.ID)
		}
	}

	res := h.Wait()
	out := h.Output()
	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	if !res.Success() {
		return out, deploy.NewError(
			deploy.CodeProcessExitFailure,
			fmt.Sprintf("%s: %s", spec.CommandLine(), res),
			nil,
		)
	}
	return out, nil
}

func (pm *baseProcessManager) Shutdown(ctx context.Context) error {
	pm.mu.Lock()
	ids := make([]string, 0, len(pm.handles))
	for id := range pm.handles {
		ids = append(ids, id)
	}
	pm.mu.Unlock()

	eg, _ := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		eg.Go(func() error {
			_, err := pm.Terminate(id, pm.grace)
			if errors.Is(err, ErrNoProcFound) {
				return nil
			}
			return err
		})
	}
	return eg.Wait()
}
