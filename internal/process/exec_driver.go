package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// pipeWaitDelay bounds how long Wait keeps reading output after the process itself has
// exited, e.g. when a grandchild still holds the pipes open.
const pipeWaitDelay = 2 * time.Second

type execDriver struct{}

var _ Driver = &execDriver{}

func NewExecDriver() Driver {
	return &execDriver{}
}

func (d *execDriver) Type() string {
	return DriverExec
}

func (d *execDriver) Start(_ context.Context, spec *Spec, stdout, stderr io.Writer) (Process, error) {
	if spec.Command == "" {
		return nil, errors.New("no command configured")
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = pipeWaitDelay
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", spec.Command, err)
	}
	return &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) PID() string {
	return strconv.Itoa(p.cmd.Process.Pid)
}

func (p *execProcess) Wait() Result {
	err := p.cmd.Wait()
	res := Result{EndedAt: time.Now()}

	state := p.cmd.ProcessState
	if state == nil {
		res.ExitCode = -1
		if err != nil {
			res.Err = err.Error()
		}
		return res
	}

	res.ExitCode = state.ExitCode()
	res.Signal = exitSignal(state)
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) && !errors.Is(err, exec.ErrWaitDelay) {
		res.Err = err.Error()
	}
	return res
}

func (p *execProcess) Interrupt() error {
	return interruptProcess(p.cmd)
}

func (p *execProcess) Kill() error {
	return killProcess(p.cmd)
}
