// Package memory provides in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/storechat/content-pipeline/internal/pipeline"
)

// JobStore keeps jobs in a map guarded by a RWMutex.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]pipeline.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]pipeline.Job)}
}

// CreateJob stores a new job. The job ID must be unique.
func (s *JobStore) CreateJob(_ context.Context, job pipeline.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// UpdateJob overwrites the stored job state.
func (s *JobStore) UpdateJob(_ context.Context, job pipeline.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return pipeline.ErrNotFound
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (pipeline.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return pipeline.Job{}, pipeline.ErrNotFound
	}
	return cloneJob(job), nil
}

func cloneJob(job pipeline.Job) pipeline.Job {
	out := job
	out.Errors = append([]pipeline.JobError(nil), job.Errors...)
	if job.Options.Tags != nil {
		out.Options.Tags = make(map[string]string, len(job.Options.Tags))
		for k, v := range job.Options.Tags {
			out.Options.Tags[k] = v
		}
	}
	return out
}
