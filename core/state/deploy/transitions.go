package deploy

import (
	"slices"
	"time"
)

var (
	TransitionStart         = "start"
	TransitionAttachProcess = "attach_process"
	TransitionReady         = "ready"
	TransitionStopRequest   = "stop_request"
	TransitionExit          = "exit"
	TransitionDeployed      = "deployed"
	TransitionDeployFailed  = "deploy_failed"
	TransitionReset         = "reset"
)

// Transition is a validated mutation of one target's Status. Validate is called against
// the committed status, and Apply only runs when Validate returned nil.
type Transition interface {
	Type() string
	Target() Target
	Validate(old *Status) error
	Apply(s *Status)
}

var legalEdges = map[Target]map[State][]State{
	TargetLocal: {
		StateStopped:  {StateStarting},
		StateStarting: {StateRunning, StateStopping, StateStopped},
		StateRunning:  {StateStopping, StateStopped},
		StateStopping: {StateStopped},
	},
	TargetCloud: {
		StateNotDeployed: {StateDeploying},
		StateDeploying:   {StateDeployed, StateFailed, StateNotDeployed},
		StateDeployed:    {StateDeploying, StateNotDeployed},
		StateFailed:      {StateDeploying, StateNotDeployed},
	},
}

// CanTransition reports whether from -> to is an edge of target's state machine.
// Self-loops are allowed so that metadata-only transitions (attach) pass.
func CanTransition(target Target, from, to State) bool {
	if from == to {
		_, ok := legalEdges[target][from]
		return ok
	}
	return slices.Contains(legalEdges[target][from], to)
}

// IsStartable reports whether a start command is accepted in state.
func IsStartable(target Target, state State) bool {
	return CanTransition(target, state, target.ActiveState()) && state != target.ActiveState()
}

func checkAttempt(old *Status, attemptID string) error {
	if old.AttemptID != attemptID {
		return ErrStaleAttempt
	}
	return nil
}

func stamp(at time.Time) *time.Time {
	if at.IsZero() {
		at = time.Now()
	}
	return &at
}

type StartTransition struct {
	On          Target
	Service     string
	Environment string
	AttemptID   string
	At          time.Time
}

func (t *StartTransition) Type() string   { return TransitionStart }
func (t *StartTransition) Target() Target { return t.On }

func (t *StartTransition) Validate(old *Status) error {
	if !IsStartable(t.On, old.State) {
		return Conflict(ErrAlreadyRunning, "%s is already %s", t.On, old.State)
	}
	return nil
}

func (t *StartTransition) Apply(s *Status) {
	s.State = t.On.ActiveState()
	s.Service = t.Service
	s.Environment = t.Environment
	s.AttemptID = t.AttemptID
	s.ProcessID = ""
	s.StartedAt = stamp(t.At)
	s.EndedAt = nil
	s.Result = nil
	s.Error = ""
}

// AttachProcessTransition records the supervisor handle id of the current attempt.
type AttachProcessTransition struct {
	On        Target
	AttemptID string
	ProcessID string
}

func (t *AttachProcessTransition) Type() string   { return TransitionAttachProcess }
func (t *AttachProcessTransition) Target() Target { return t.On }

func (t *AttachProcessTransition) Validate(old *Status) error {
	if err := checkAttempt(old, t.AttemptID); err != nil {
		return err
	}
	if old.State != t.On.ActiveState() && old.State != t.On.LiveState() {
		return ErrStaleAttempt
	}
	return nil
}

func (t *AttachProcessTransition) Apply(s *Status) {
	s.ProcessID = t.ProcessID
}

// ReadyTransition moves a local attempt from starting to running once the service
// accepts connections.
type ReadyTransition struct {
	AttemptID string
	Result    map[string]string
}

func (t *ReadyTransition) Type() string   { return TransitionReady }
func (t *ReadyTransition) Target() Target { return TargetLocal }

func (t *ReadyTransition) Validate(old *Status) error {
	if err := checkAttempt(old, t.AttemptID); err != nil {
		return err
	}
	if old.State != StateStarting {
		return ErrStaleAttempt
	}
	return nil
}

func (t *ReadyTransition) Apply(s *Status) {
	s.State = StateRunning
	s.Result = t.Result
}

// StopRequestTransition moves local to stopping. With an AttemptID it only applies to that
// attempt.
type StopRequestTransition struct {
	AttemptID string
	Reason    string
}

func (t *StopRequestTransition) Type() string   { return TransitionStopRequest }
func (t *StopRequestTransition) Target() Target { return TargetLocal }

func (t *StopRequestTransition) Validate(old *Status) error {
	if t.AttemptID != "" {
		if err := checkAttempt(old, t.AttemptID); err != nil {
			return err
		}
	}
	switch old.State {
	case StateStopped:
		return Conflict(ErrNotRunning, "local is not running")
	case StateStopping:
		return Conflict(ErrCommandInProgress, "local is already stopping")
	}
	return nil
}

func (t *StopRequestTransition) Apply(s *Status) {
	s.State = StateStopping
	if t.Reason != "" {
		s.Error = t.Reason
	}
}

// ExitTransition resolves a local attempt to stopped. It is produced both by the exit
// watcher and by the stop command, whichever commits first.
type ExitTransition struct {
	AttemptID string
	Reason    string
	At        time.Time
}

func (t *ExitTransition) Type() string   { return TransitionExit }
func (t *ExitTransition) Target() Target { return TargetLocal }

func (t *ExitTransition) Validate(old *Status) error {
	if err := checkAttempt(old, t.AttemptID); err != nil {
		return err
	}
	if old.State == StateStopped {
		return ErrStaleAttempt
	}
	return nil
}

func (t *ExitTransition) Apply(s *Status) {
	s.State = StateStopped
	s.ProcessID = ""
	s.EndedAt = stamp(t.At)
	if t.Reason != "" {
		s.Error = t.Reason
	}
}

type DeployedTransition struct {
	AttemptID string
	Result    map[string]string
	At        time.Time
}

func (t *DeployedTransition) Type() string   { return TransitionDeployed }
func (t *DeployedTransition) Target() Target { return TargetCloud }

func (t *DeployedTransition) Validate(old *Status) error {
	if err := checkAttempt(old, t.AttemptID); err != nil {
		return err
	}
	if old.State != StateDeploying {
		return ErrStaleAttempt
	}
	return nil
}

func (t *DeployedTransition) Apply(s *Status) {
	s.State = StateDeployed
	s.ProcessID = ""
	s.Result = t.Result
	s.EndedAt = stamp(t.At)
}

type DeployFailedTransition struct {
	AttemptID string
	Reason    string
	At        time.Time
}

func (t *DeployFailedTransition) Type() string   { return TransitionDeployFailed }
func (t *DeployFailedTransition) Target() Target { return TargetCloud }

func (t *DeployFailedTransition) Validate(old *Status) error {
	if err := checkAttempt(old, t.AttemptID); err != nil {
		return err
	}
	if old.State != StateDeploying {
		return ErrStaleAttempt
	}
	return nil
}

func (t *DeployFailedTransition) Apply(s *Status) {
	s.State = StateFailed
	s.ProcessID = ""
	s.Error = t.Reason
	s.EndedAt = stamp(t.At)
}

// ResetTransition is the cloud stop. It only resets local bookkeeping; remote changes that
// were already applied are left in place.
type ResetTransition struct {
	At time.Time
}

func (t *ResetTransition) Type() string   { return TransitionReset }
func (t *ResetTransition) Target() Target { return TargetCloud }

func (t *ResetTransition) Validate(old *Status) error {
	if old.State == StateNotDeployed {
		return Conflict(ErrNotRunning, "cloud is not deployed")
	}
	return nil
}

func (t *ResetTransition) Apply(s *Status) {
	if s.State == StateDeploying {
		s.EndedAt = stamp(t.At)
	}
	s.State = StateNotDeployed
	s.ProcessID = ""
	s.AttemptID = ""
	s.Result = nil
	s.Error = ""
}
