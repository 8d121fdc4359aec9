package tcc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when no context exists for a job.
	ErrNotFound = errors.New("tcc not found")
	// ErrExists is returned by Create when the job id is taken.
	ErrExists = errors.New("tcc already exists")
	// ErrConflict is returned when an optimistic update keeps losing races.
	ErrConflict = errors.New("tcc update conflict")
)

// DefaultTTL bounds how long an abandoned job is kept.
const DefaultTTL = 24 * time.Hour

// MutateFunc edits a context in place. Returning an error aborts the update.
type MutateFunc func(t *TCC) error

// Store persists contexts between orchestration calls.
type Store interface {
	Create(ctx context.Context, t *TCC) error
	Get(ctx context.Context, jobID string) (*TCC, error)
	// Update applies mutate to the latest version, bumps the version and
	// saves the result atomically with respect to other updates.
	Update(ctx context.Context, jobID string, mutate MutateFunc) (*TCC, error)
	// AdvanceStep moves the job to step to when its current step is one of
	// from. It reports false, with the current document, when another caller
	// already moved it.
	AdvanceStep(ctx context.Context, jobID string, from []OrchestrationStep, to OrchestrationStep) (bool, *TCC, error)
	Delete(ctx context.Context, jobID string) error
}

// advance is the shared AdvanceStep mutation.
func advance(t *TCC, from []OrchestrationStep, to OrchestrationStep) bool {
	for _, f := range from {
		if t.CurrentOrchestrationStep == f {
			t.CurrentOrchestrationStep = to
			if to == StepCompleted {
				t.Status = StatusCompleted
				t.MarkStepCompleted(StepCompleted)
			}
			return true
		}
	}
	return false
}

// MemoryStore keeps contexts in process memory. Documents are deep-copied on
// the way in and out so callers never share state with the store.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]*TCC
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*TCC)}
}

func (s *MemoryStore) Create(_ context.Context, t *TCC) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[t.JobID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, t.JobID)
	}
	cp, err := t.Clone()
	if err != nil {
		return err
	}
	s.docs[t.JobID] = cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, jobID string) (*TCC, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	return doc.Clone()
}

func (s *MemoryStore) Update(_ context.Context, jobID string, mutate MutateFunc) (*TCC, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	work, err := doc.Clone()
	if err != nil {
		return nil, err
	}
	if err := mutate(work); err != nil {
		return nil, err
	}
	Bump(work)
	s.docs[jobID] = work
	return work.Clone()
}

func (s *MemoryStore) AdvanceStep(_ context.Context, jobID string, from []OrchestrationStep, to OrchestrationStep) (bool, *TCC, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[jobID]
	if !ok {
		return false, nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	work, err := doc.Clone()
	if err != nil {
		return false, nil, err
	}
	if !advance(work, from, to) {
		return false, work, nil
	}
	Bump(work)
	s.docs[jobID] = work
	out, err := work.Clone()
	return true, out, err
}

func (s *MemoryStore) Delete(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, jobID)
	return nil
}
