package deploy

import (
	"fmt"
	"time"
)

// Core structs for deployment state. Every target owns exactly one Status record for the
// lifetime of the orchestrator; nothing here is persisted.

type Target string

const (
	TargetLocal Target = "local"
	TargetCloud Target = "cloud"
)

// Targets lists every supervised target in a stable order.
var Targets = []Target{TargetLocal, TargetCloud}

func ParseTarget(s string) (Target, error) {
	switch Target(s) {
	case TargetLocal, TargetCloud:
		return Target(s), nil
	}
	return "", NewError(CodeInvalidRequest, fmt.Sprintf("unknown deployment target %q", s), nil)
}

type State string

const (
	// local
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"

	// cloud
	StateNotDeployed State = "not_deployed"
	StateDeploying   State = "deploying"
	StateDeployed    State = "deployed"
	StateFailed      State = "failed"
)

// IdleState is the state a target is created in and converges back to after stop.
func (t Target) IdleState() State {
	if t == TargetCloud {
		return StateNotDeployed
	}
	return StateStopped
}

// ActiveState is the intermediate state entered by a start command.
func (t Target) ActiveState() State {
	if t == TargetCloud {
		return StateDeploying
	}
	return StateStarting
}

// LiveState is the state reached once the target is confirmed up.
func (t Target) LiveState() State {
	if t == TargetCloud {
		return StateDeployed
	}
	return StateRunning
}

const (
	ServiceAll = "all"
)

type Status struct {
	Target      Target            `json:"target"`
	State       State             `json:"state"`
	ProcessID   string            `json:"activeProcessId,omitempty"`
	Service     string            `json:"selectedService,omitempty"`
	Environment string            `json:"environment,omitempty"`
	AttemptID   string            `json:"attemptId,omitempty"`
	StartedAt   *time.Time        `json:"startedAt,omitempty"`
	EndedAt     *time.Time        `json:"endedAt,omitempty"`
	Result      map[string]string `json:"resultMetadata,omitempty"`
	Error       string            `json:"error,omitempty"`
}

func NewStatus(target Target) Status {
	return Status{
		Target: target,
		State:  target.IdleState(),
	}
}

// Copy returns a deep copy so callers never share the Result map with the store.
func (s Status) Copy() Status {
	c := s
	if s.Result != nil {
		c.Result = make(map[string]string, len(s.Result))
		for k, v := range s.Result {
			c.Result[k] = v
		}
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		c.StartedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return c
}

const (
	DatabaseConnected    = "connected"
	DatabaseDisconnected = "disconnected"
	HealthUnknown        = "unknown"
	APIHealthy           = "healthy"
	APIUnhealthy         = "unhealthy"
)

type Health struct {
	Database string `json:"database"`
	API      string `json:"api"`
}

// Snapshot is the full state broadcast to observers. Version increases with every
// committed mutation of the store.
type Snapshot struct {
	Version uint64 `json:"version"`
	Local   Status `json:"local"`
	Cloud   Status `json:"cloud"`
	Health  Health `json:"health"`
}

func (s *Snapshot) Status(target Target) Status {
	if target == TargetCloud {
		return s.Cloud
	}
	return s.Local
}

// CoarseStatus is the GET /status shape.
type CoarseStatus struct {
	Local    State  `json:"local"`
	Cloud    State  `json:"cloud"`
	Database string `json:"database"`
	API      string `json:"api"`
}

func (s *Snapshot) Coarse() CoarseStatus {
	return CoarseStatus{
		Local:    s.Local.State,
		Cloud:    s.Cloud.State,
		Database: s.Health.Database,
		API:      s.Health.API,
	}
}

// ProcessInfo describes a supervised subprocess without exposing its OS handle.
type ProcessInfo struct {
	ID        string    `json:"id"`
	Target    Target    `json:"target"`
	Service   string    `json:"service,omitempty"`
	Driver    string    `json:"driver"`
	PID       string    `json:"pid,omitempty"`
	Command   string    `json:"command"`
	StartedAt time.Time `json:"startedAt"`
}
