package store

import (
	"fmt"
	"sync"

	"github.com/eagraf/habitat-deployd/core/state/deploy"
	"github.com/eagraf/habitat-deployd/internal/deployd/pubsub"
	"github.com/rs/zerolog/log"
	"github.com/wI2L/jsondiff"
)

type record struct {
	status deploy.Status
	// revision increases with every committed transition of this target. Validation runs
	// are bound to the revision they started at.
	revision   uint64
	validation *deploy.ValidationRun
}

// Store holds the status of every target plus the shared health snapshot. Every
// mutation is validated and committed under one lock, and the resulting snapshot is
// published before the lock is released so observers see versions in order.
type Store struct {
	mu        sync.RWMutex
	version   uint64
	records   map[deploy.Target]*record
	health    deploy.Health
	publisher pubsub.Publisher[deploy.Event]

	onTransition func(target deploy.Target, from, to deploy.State)
}

type Option func(*Store)

// WithTransitionHook is called after every committed transition, under the store lock.
func WithTransitionHook(fn func(target deploy.Target, from, to deploy.State)) Option {
	return func(s *Store) {
		s.onTransition = fn
	}
}

func New(publisher pubsub.Publisher[deploy.Event], opts ...Option) *Store {
	s := &Store{
		records: make(map[deploy.Target]*record),
		health: deploy.Health{
			Database: deploy.HealthUnknown,
			API:      deploy.HealthUnknown,
		},
		publisher: publisher,
	}
	for _, t := range deploy.Targets {
		s.records[t] = &record{status: deploy.NewStatus(t)}
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Apply validates t against the committed status of its target and commits it. The
// returned status is the committed value.
func (s *Store) Apply(t deploy.Transition) (deploy.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[t.Target()]
	if !ok {
		return deploy.Status{}, fmt.Errorf("unknown target %s", t.Target())
	}

	old := rec.status.Copy()
	if err := t.Validate(&old); err != nil {
		return old, err
	}

	next := old.Copy()
	t.Apply(&next)
	if !deploy.CanTransition(t.Target(), old.State, next.State) {
		return old, fmt.Errorf("%w: %s %s -> %s", deploy.ErrIllegalTransition, t.Target(), old.State, next.State)
	}

	rec.status = next
	rec.revision++
	s.version++

	if log.Debug().Enabled() {
		patch, err := jsondiff.Compare(old, next)
		if err == nil {
			log.Debug().Msgf("%s transition %s: %s", t.Target(), t.Type(), patch.String())
		}
	}
	if s.onTransition != nil && old.State != next.State {
		s.onTransition(t.Target(), old.State, next.State)
	}
	s.publishLocked()

	return next.Copy(), nil
}

// Status returns the committed status of target and its revision.
func (s *Store) Status(target deploy.Target) (deploy.Status, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[target]
	if !ok {
		return deploy.Status{}, 0
	}
	return rec.status.Copy(), rec.revision
}

func (s *Store) Snapshot() deploy.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) SetDatabaseHealth(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.health.Database == state {
		return
	}
	s.health.Database = state
	s.version++
	s.publishLocked()
}

// RecordValidation stores run as the latest batch of its target, provided the target has
// not transitioned since revision. A stale run is rejected with deploy.ErrStaleAttempt.
func (s *Store) RecordValidation(revision uint64, run *deploy.ValidationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[run.Target]
	if !ok {
		return fmt.Errorf("unknown target %s", run.Target)
	}
	if rec.revision != revision {
		return deploy.ErrStaleAttempt
	}
	rec.validation = run
	s.health.API = s.apiHealthLocked()
	s.version++
	s.publishLocked()
	return nil
}

func (s *Store) Validation(target deploy.Target) *deploy.ValidationRun {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[target]
	if !ok || rec.validation == nil {
		return nil
	}
	run := *rec.validation
	return &run
}

// apiHealthLocked is healthy only if every stored batch is healthy.
func (s *Store) apiHealthLocked() string {
	health := deploy.HealthUnknown
	for _, t := range deploy.Targets {
		run := s.records[t].validation
		if run == nil {
			continue
		}
		if !run.Healthy() {
			return deploy.APIUnhealthy
		}
		health = deploy.APIHealthy
	}
	return health
}

func (s *Store) snapshotLocked() deploy.Snapshot {
	return deploy.Snapshot{
		Version: s.version,
		Local:   s.records[deploy.TargetLocal].status.Copy(),
		Cloud:   s.records[deploy.TargetCloud].status.Copy(),
		Health:  s.health,
	}
}

func (s *Store) publishLocked() {
	if s.publisher == nil {
		return
	}
	event := deploy.NewStateEvent(s.snapshotLocked())
	if err := s.publisher.PublishEvent(&event); err != nil {
		log.Error().Err(err).Msgf("error publishing state snapshot %d", s.version)
	}
}
