package process

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/eagraf/habitat-deployd/core/state/deploy"
)

const (
	DriverExec = "exec"
)

// Driver launches processes for one runtime. Output is written line by line to the given
// writers until the process exits.
type Driver interface {
	Type() string
	Start(ctx context.Context, spec *Spec, stdout, stderr io.Writer) (Process, error)
}

// Process is the runtime side of a Handle. Wait must only return after all output has
// been written.
type Process interface {
	PID() string
	Wait() Result
	// Interrupt asks the process to exit gracefully.
	Interrupt() error
	// Kill forcefully stops the process.
	Kill() error
}

// Spec describes one subprocess to launch.
type Spec struct {
	Target  deploy.Target
	Service string
	// Driver defaults to DriverExec.
	Driver  string
	Command string
	Args    []string
	Dir     string
	Env     []string

	// Container launcher settings, only used by the docker driver.
	Image string
	Port  int

	// CaptureOutput keeps the full output on the handle in addition to the log buffer.
	CaptureOutput bool
	// OnSpawn is called once the process has started.
	OnSpawn func(*Handle)
	// OnExit is called from the watcher goroutine after the handle has resolved.
	OnExit func(*Handle)
}

func (s *Spec) CommandLine() string {
	if s.Image != "" && s.Driver != DriverExec && s.Driver != "" {
		return fmt.Sprintf("docker run %s", s.Image)
	}
	line := s.Command
	for _, a := range s.Args {
		line += " " + a
	}
	return line
}

// Result is filled in when a process exits.
type Result struct {
	ExitCode int       `json:"exitCode"`
	Signal   string    `json:"signal,omitempty"`
	Killed   bool      `json:"killed,omitempty"`
	Err      string    `json:"error,omitempty"`
	EndedAt  time.Time `json:"endedAt"`
}

func (r Result) Success() bool {
	return r.ExitCode == 0 && r.Signal == "" && !r.Killed && r.Err == ""
}

func (r Result) String() string {
	switch {
	case r.Killed:
		return "killed"
	case r.Signal != "":
		return fmt.Sprintf("terminated by %s", r.Signal)
	case r.Err != "":
		return fmt.Sprintf("exit code %d (%s)", r.ExitCode, r.Err)
	}
	return fmt.Sprintf("exit code %d", r.ExitCode)
}
