package process

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eagraf/habitat-deployd/core/state/deploy"
)

// Handle is one supervised subprocess. Handles are owned by the ProcessManager; everything
// else refers to them by ID.
type Handle struct {
	ID        string
	Target    deploy.Target
	Service   string
	Driver    string
	Command   string
	StartedAt time.Time

	proc   Process
	done   chan struct{}
	once   sync.Once
	result Result
	killed atomic.Bool

	output *outputBuffer
}

func newHandle(id string, spec *Spec, driver string) *Handle {
	h := &Handle{
		ID:        id,
		Target:    spec.Target,
		Service:   spec.Service,
		Driver:    driver,
		Command:   spec.CommandLine(),
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}
	if spec.CaptureOutput {
		h.output = &outputBuffer{}
	}
	return h
}

// finish resolves the result slot. Only the first call has an effect.
func (h *Handle) finish(res Result) {
	h.once.Do(func() {
		if h.killed.Load() {
			res.Killed = true
		}
		h.result = res
		close(h.done)
	})
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the process has exited and returns its result.
func (h *Handle) Wait() Result {
	<-h.done
	return h.result
}

// Result returns the exit result, or false while the process is still running.
func (h *Handle) Result() (Result, bool) {
	select {
	case <-h.done:
		return h.result, true
	default:
		return Result{}, false
	}
}

// Output returns everything the process wrote, if CaptureOutput was set.
func (h *Handle) Output() string {
	if h.output == nil {
		return ""
	}
	return h.output.String()
}

func (h *Handle) Info() deploy.ProcessInfo {
	info := deploy.ProcessInfo{
		ID:        h.ID,
		Target:    h.Target,
		Service:   h.Service,
		Driver:    h.Driver,
		Command:   h.Command,
		StartedAt: h.StartedAt,
	}
	if h.proc != nil {
		info.PID = h.proc.PID()
	}
	return info
}

type outputBuffer struct {
	mu sync.Mutex
	sb strings.Builder
}

func (b *outputBuffer) writeLine(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sb.WriteString(line)
	b.sb.WriteByte('\n')
}

func (b *outputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}
