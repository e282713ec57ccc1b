package replay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/ec-eventstore/internal/infrastructure/store"
)

var ErrJobNotFound = errors.New("replay job not found")

type JobStatus string

const (
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

type JobKind string

const (
	KindAggregateReplay   JobKind = "aggregate_replay"
	KindProjectionRebuild JobKind = "projection_rebuild"
)

// Job is the progress record of one replay or rebuild run.
type Job struct {
	ID              string    `json:"id"`
	Kind            JobKind   `json:"kind"`
	Target          string    `json:"target"`
	Status          JobStatus `json:"status"`
	EventsProcessed int       `json:"events_processed"`
	DryRun          bool      `json:"dry_run,omitempty"`
	Error           string    `json:"error,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at,omitempty"`
}

func (j Job) Finished() bool {
	return j.Status != StatusRunning
}

// JobStore persists job records. Implementations must be safe for
// concurrent use: the engine updates progress from worker goroutines while
// status queries come from request handlers.
type JobStore interface {
	Put(ctx context.Context, job Job) error
	Get(ctx context.Context, jobID string) (Job, error)
	List(ctx context.Context) ([]Job, error)
}

// MemoryJobStore keeps job records in process memory. Job history is
// operational telemetry, losing it on restart is acceptable.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]Job)}
}

func (s *MemoryJobStore) Put(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, jobID string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return job, nil
}

func (s *MemoryJobStore) List(_ context.Context) ([]Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Projection is a rebuildable read-model maintainer. Reset clears derived
// state; Handle must be idempotent per event so a rebuild that overlaps live
// consumption converges.
type Projection interface {
	Name() string
	Reset(ctx context.Context) error
	InterestedEventTypes() []string
	Handle(ctx context.Context, event store.Event) error
}
