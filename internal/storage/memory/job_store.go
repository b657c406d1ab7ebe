// Package memory provides in-memory storage implementations for development
// and testing.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/newsloom/scraper/internal/engine"
)

// ErrNotFound is returned when a job does not exist.
var ErrNotFound = errors.New("job not found")

// JobStore keeps jobs and per-source outcomes in memory.
type JobStore struct {
	mu       sync.RWMutex
	jobs     map[string]engine.Job
	outcomes map[string][]engine.SourceOutcome
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:     make(map[string]engine.Job),
		outcomes: make(map[string][]engine.SourceOutcome),
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job engine.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus updates the status and counters for a job. Terminal
// statuses stamp the completion time.
func (s *JobStore) UpdateJobStatus(_ context.Context, jobID string, status engine.JobStatus, counters engine.JobCounters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	job.Status = status
	job.Counters = counters
	if status.IsTerminal() && job.Completed == nil {
		now := time.Now().UTC()
		job.Completed = &now
	}
	s.jobs[jobID] = job
	return nil
}

// RecordSourceOutcome appends a per-source summary for a job.
func (s *JobStore) RecordSourceOutcome(_ context.Context, jobID string, outcome engine.SourceOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return ErrNotFound
	}
	s.outcomes[jobID] = append(s.outcomes[jobID], outcome)
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (engine.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return engine.Job{}, ErrNotFound
	}
	return job, nil
}

// ListSourceOutcomes returns the recorded outcomes for a job.
func (s *JobStore) ListSourceOutcomes(_ context.Context, jobID string) ([]engine.SourceOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	outcomes := s.outcomes[jobID]
	out := make([]engine.SourceOutcome, len(outcomes))
	copy(out, outcomes)
	return out, nil
}
