package services

import (
	"sync"

	"github.com/stackmelt/cargohold/internal/models"
)

// LockRegistry grants per-target mutual exclusion for jobs. Conflict rules:
// a full-system job excludes every other job, a workload job excludes itself
// and full-system, and a config-only job excludes itself and full-system
// (it touches no container, so workload jobs may run beside it).
type LockRegistry struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLockRegistry creates an empty registry.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{held: make(map[string]struct{})}
}

// TryAcquire takes the lock for target or fails fast with
// JobAlreadyRunningError. It never blocks.
func (r *LockRegistry) TryAcquire(target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.held[target]; ok {
		return &JobAlreadyRunningError{Target: target}
	}

	switch target {
	case models.TargetFullSystem:
		if len(r.held) > 0 {
			return &JobAlreadyRunningError{Target: target}
		}
	default:
		if _, ok := r.held[models.TargetFullSystem]; ok {
			return &JobAlreadyRunningError{Target: target}
		}
	}

	r.held[target] = struct{}{}
	return nil
}

// Release frees the lock for target. Releasing an unheld target is a no-op.
func (r *LockRegistry) Release(target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.held, target)
}

// Held reports whether a target's lock is currently taken.
func (r *LockRegistry) Held(target string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.held[target]
	return ok
}

// InFlightSet tracks archive names currently being written or uploaded, so a
// concurrent retention sweep never prunes the archive of a running job.
type InFlightSet struct {
	mu    sync.Mutex
	names map[string]struct{}
}

// NewInFlightSet creates an empty set.
func NewInFlightSet() *InFlightSet {
	return &InFlightSet{names: make(map[string]struct{})}
}

// Add registers an archive name as in-flight.
func (s *InFlightSet) Add(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[name] = struct{}{}
}

// Remove unregisters an archive name.
func (s *InFlightSet) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.names, name)
}

// Contains reports whether an archive name is in-flight.
func (s *InFlightSet) Contains(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.names[name]
	return ok
}
