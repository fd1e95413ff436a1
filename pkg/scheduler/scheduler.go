// Package scheduler admits and executes collection jobs. Admission
// enforces one active job per target entity; execution runs the
// extract, match, diff pipeline on a bounded worker pool and persists
// each job's results in a single transaction.
package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/homeatlas/homeatlas/internal/store"
	"github.com/homeatlas/homeatlas/pkg/collection"
	"github.com/homeatlas/homeatlas/pkg/diff"
	"github.com/homeatlas/homeatlas/pkg/entities"
	"github.com/homeatlas/homeatlas/pkg/errors"
	"github.com/homeatlas/homeatlas/pkg/extract"
	"github.com/homeatlas/homeatlas/pkg/logging"
	"github.com/homeatlas/homeatlas/pkg/match"
)

// Defaults.
const (
	DefaultWorkers         = 4
	DefaultJobTimeout      = 2 * time.Minute
	DefaultMaxCascadeDepth = 2
)

// Store is the persistence surface the scheduler needs.
type Store interface {
	CreateJob(ctx context.Context, job *collection.Job) error
	GetJob(ctx context.Context, id string) (*collection.Job, error)
	NextPending(ctx context.Context, n int) ([]*collection.Job, error)
	MarkJobRunning(ctx context.Context, id string) error
	FinishJob(ctx context.Context, job *collection.Job, changes []*collection.Change, matches []*collection.EntityMatch) error
	GetEntity(ctx context.Context, id string) (*entities.Record, error)
	ListEntities(ctx context.Context, filter store.EntityFilter) ([]*entities.Record, error)
	ListChanges(ctx context.Context, filter store.ChangeFilter) ([]*collection.Change, error)
	FindMatchBySignature(ctx context.Context, entityType entities.Type, name, city, state string) (*collection.EntityMatch, error)
	TouchActivity(ctx context.Context, id string, at time.Time) error
	UpdateLifecycle(ctx context.Context, id string, observed time.Time, lc entities.Lifecycle) (bool, error)
}

// Scheduler owns job admission and execution.
type Scheduler struct {
	store     Store
	extractor extract.Extractor
	matcher   *match.Matcher
	differ    *diff.Engine
	logger    *zerolog.Logger

	workers    int
	jobTimeout time.Duration
	maxDepth   int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWorkers bounds the execution pool size.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithJobTimeout bounds the wall time of a single job's pipeline.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.jobTimeout = d
		}
	}
}

// WithMaxCascadeDepth bounds how deep discovered entities may spawn
// child jobs.
func WithMaxCascadeDepth(n int) Option {
	return func(s *Scheduler) {
		if n >= 0 {
			s.maxDepth = n
		}
	}
}

// WithDiffPolicies replaces the compiled-in diff field policies.
func WithDiffPolicies(policies map[entities.Type]diff.Policy) Option {
	return func(s *Scheduler) {
		s.differ = diff.New(policies)
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// New creates a scheduler over the given store and extractor.
func New(st Store, extractor extract.Extractor, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:      st,
		extractor:  extractor,
		matcher:    match.New(),
		differ:     diff.New(nil),
		logger:     logging.Default(),
		workers:    DefaultWorkers,
		jobTimeout: DefaultJobTimeout,
		maxDepth:   DefaultMaxCascadeDepth,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit admits a new job. Returns ConflictError when an active job
// already targets the same entity; the caller retries after it
// finishes, nothing is queued.
func (s *Scheduler) Submit(ctx context.Context, job *collection.Job) error {
	if !job.Kind.Valid() {
		return errors.NewValidationError("kind", job.Kind, "unknown job kind")
	}
	if !job.EntityType.Valid() {
		return errors.NewValidationError("entity_type", job.EntityType, "unknown entity type")
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = collection.JobPending

	if err := s.store.CreateJob(ctx, job); err != nil {
		return err
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("entity_type", string(job.EntityType)).
		Str("entity_id", job.EntityID).
		Str("kind", string(job.Kind)).
		Int("priority", job.Priority).
		Msg("Job admitted")
	return nil
}

// RunPending claims up to n pending jobs, highest priority first, and
// executes them on the worker pool. The admission invariant guarantees
// no two claimed jobs share a target, so claimed jobs run concurrently
// without per-target locking. Returns the jobs in their final state.
func (s *Scheduler) RunPending(ctx context.Context, n int) ([]*collection.Job, error) {
	pending, err := s.store.NextPending(ctx, n)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	jobs := make(chan *collection.Job, len(pending))
	for _, job := range pending {
		jobs <- job
	}
	close(jobs)

	workers := s.workers
	if workers > len(pending) {
		workers = len(pending)
	}

	done := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			for job := range jobs {
				s.runClaimed(ctx, job)
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < workers; i++ {
		<-done
	}

	out := make([]*collection.Job, 0, len(pending))
	for _, job := range pending {
		final, err := s.store.GetJob(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, final)
	}
	return out, nil
}

// Run executes one pending job by id and returns its final state.
func (s *Scheduler) Run(ctx context.Context, jobID string) (*collection.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	s.runClaimed(ctx, job)
	return s.store.GetJob(ctx, jobID)
}

// runClaimed transitions the job to running and drives the pipeline.
// Jobs already claimed by a concurrent run are skipped silently.
func (s *Scheduler) runClaimed(ctx context.Context, job *collection.Job) {
	if err := s.store.MarkJobRunning(ctx, job.ID); err != nil {
		if errors.IsNotFound(err) {
			return
		}
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to claim job")
		return
	}

	ctx = logging.WithJob(ctx, job.ID)
	runCtx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	defer cancel()

	changes, matches, err := s.execute(runCtx, job)

	// Persist the outcome even when the run context expired.
	finishCtx := context.WithoutCancel(ctx)
	completed := now()
	job.CompletedAt = &completed

	if err != nil {
		job.Status = collection.JobFailed
		job.Error = err.Error()
		s.logger.Warn().Err(err).
			Str("job_id", job.ID).
			Str("entity_type", string(job.EntityType)).
			Msg("Job failed")
	} else {
		job.Status = collection.JobCompleted
		s.logger.Info().
			Str("job_id", job.ID).
			Int("items_found", job.ItemsFound).
			Int("changes_detected", job.ChangesDetected).
			Int("entities_discovered", job.EntitiesDiscovered).
			Msg("Job completed")
	}

	if err := s.store.FinishJob(finishCtx, job, changes, matches); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist job results")
	}
}

func now() time.Time {
	return time.Now().UTC()
}
