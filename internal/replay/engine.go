package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/ec-eventstore/internal/domain/aggregate"
	"github.com/example/ec-eventstore/internal/infrastructure/store"
)

const replayBatchSize = 200

// ReplayOptions control a single aggregate replay run.
type ReplayOptions struct {
	// FromSequence starts the fold at the given sequence instead of 1,
	// resuming an interrupted replay. Zero means from the beginning.
	FromSequence int
	// ToSequence stops the fold after the given sequence. Zero means the
	// whole history.
	ToSequence int
	// DryRun replays without writing anything, verifying that the stored
	// history still folds cleanly.
	DryRun bool
	// ResetFirst deletes the aggregate's snapshots before replaying.
	ResetFirst bool
}

// RebuildOptions control a single projection rebuild run.
type RebuildOptions struct {
	// FromTime and ToTime bound the rebuild to a window of the global
	// stream. Zero values leave the corresponding end open.
	FromTime time.Time
	ToTime   time.Time
	// BatchSize overrides the stream page size. Zero uses the default.
	BatchSize int
	// DryRun streams and counts without touching the read models.
	DryRun bool
	// ResetFirst resets the projection before rebuilding.
	ResetFirst bool
}

// Engine runs aggregate replays and projection rebuilds as asynchronous
// jobs. Jobs detach from the caller's context: an admin request that starts
// a replay can return immediately without killing the job.
type Engine struct {
	events    store.EventStore
	snapshots store.SnapshotStore
	jobs      JobStore
	logger    *zap.Logger

	mu          sync.Mutex
	factories   map[string]func() aggregate.Aggregate
	projections map[string]Projection
	running     map[string]*runningJob
}

type runningJob struct {
	cancel    context.CancelFunc
	done      chan struct{}
	processed atomic.Int64
}

func NewEngine(events store.EventStore, snapshots store.SnapshotStore, jobs JobStore, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		events:      events,
		snapshots:   snapshots,
		jobs:        jobs,
		logger:      logger.With(zap.String("component", "replay_engine")),
		factories:   make(map[string]func() aggregate.Aggregate),
		projections: make(map[string]Projection),
		running:     make(map[string]*runningJob),
	}
}

// RegisterAggregate maps an aggregate type to its empty-state factory.
func (e *Engine) RegisterAggregate(aggregateType string, factory func() aggregate.Aggregate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.factories[aggregateType] = factory
}

// RegisterProjection makes a projection rebuildable by name.
func (e *Engine) RegisterProjection(p Projection) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.projections[p.Name()] = p
}

// ReplayAggregate starts an asynchronous replay of one aggregate's history
// and returns the job id. An unbounded replay folds every stored event from
// sequence 1 and, unless DryRun, writes a fresh snapshot at the final
// version. Sequence bounds restrict the fold to a slice of the history.
func (e *Engine) ReplayAggregate(ctx context.Context, aggregateID string, opts ReplayOptions) (string, error) {
	return e.start(ctx, KindAggregateReplay, aggregateID, opts.DryRun, func(jobCtx context.Context, progress func(int)) error {
		return e.replayAggregate(jobCtx, aggregateID, opts, progress)
	})
}

// RebuildProjection starts an asynchronous rebuild of a registered
// projection from the global event stream and returns the job id.
func (e *Engine) RebuildProjection(ctx context.Context, name string, opts RebuildOptions) (string, error) {
	e.mu.Lock()
	projection, ok := e.projections[name]
	e.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("projection %q is not registered", name)
	}
	return e.start(ctx, KindProjectionRebuild, name, opts.DryRun, func(jobCtx context.Context, progress func(int)) error {
		return e.rebuildProjection(jobCtx, projection, opts, progress)
	})
}

// Status returns the job record. For a job that is still running, the stored
// record lags behind; the live progress counter is merged in so operators can
// poll it.
func (e *Engine) Status(ctx context.Context, jobID string) (Job, error) {
	job, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	e.overlayLiveProgress(&job)
	return job, nil
}

// Jobs returns all known job records, with live progress for running jobs.
func (e *Engine) Jobs(ctx context.Context) ([]Job, error) {
	jobs, err := e.jobs.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range jobs {
		e.overlayLiveProgress(&jobs[i])
	}
	return jobs, nil
}

func (e *Engine) overlayLiveProgress(job *Job) {
	if job.Status != StatusRunning {
		return
	}
	e.mu.Lock()
	rj, ok := e.running[job.ID]
	e.mu.Unlock()
	if ok {
		job.EventsProcessed = int(rj.processed.Load())
	}
}

// Cancel requests cancellation of a running job. Cancelling a finished or
// unknown job is a no-op with an ErrJobNotFound for unknown ids.
func (e *Engine) Cancel(ctx context.Context, jobID string) error {
	if _, err := e.jobs.Get(ctx, jobID); err != nil {
		return err
	}
	e.mu.Lock()
	rj, ok := e.running[jobID]
	e.mu.Unlock()
	if ok {
		rj.cancel()
	}
	return nil
}

// Wait blocks until the job's goroutine has exited. Mainly for tests and
// graceful shutdown.
func (e *Engine) Wait(jobID string) {
	e.mu.Lock()
	rj, ok := e.running[jobID]
	e.mu.Unlock()
	if ok {
		<-rj.done
	}
}

func (e *Engine) start(ctx context.Context, kind JobKind, target string, dryRun bool, run func(context.Context, func(int)) error) (string, error) {
	job := Job{
		ID:        uuid.New().String(),
		Kind:      kind,
		Target:    target,
		Status:    StatusRunning,
		DryRun:    dryRun,
		StartedAt: time.Now().UTC(),
	}
	if err := e.jobs.Put(ctx, job); err != nil {
		return "", fmt.Errorf("record replay job: %w", err)
	}

	// Detach from the request context but keep its values; the job gets its
	// own cancellation lifeline.
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rj := &runningJob{cancel: cancel, done: make(chan struct{})}
	e.mu.Lock()
	e.running[job.ID] = rj
	e.mu.Unlock()

	go func() {
		defer close(rj.done)
		defer func() {
			e.mu.Lock()
			delete(e.running, job.ID)
			e.mu.Unlock()
		}()
		defer cancel()

		err := run(jobCtx, func(n int) { rj.processed.Store(int64(n)) })
		processed := int(rj.processed.Load())

		job.EventsProcessed = processed
		job.FinishedAt = time.Now().UTC()
		switch {
		case err == nil:
			job.Status = StatusCompleted
		case jobCtx.Err() != nil:
			job.Status = StatusCancelled
		default:
			job.Status = StatusFailed
			job.Error = err.Error()
		}

		if putErr := e.jobs.Put(context.Background(), job); putErr != nil {
			e.logger.Error("record replay job result failed",
				zap.String("job_id", job.ID),
				zap.Error(putErr))
		}
		e.logger.Info("replay job finished",
			zap.String("job_id", job.ID),
			zap.String("kind", string(kind)),
			zap.String("target", target),
			zap.String("status", string(job.Status)),
			zap.Int("events_processed", processed))
	}()

	return job.ID, nil
}

func (e *Engine) replayAggregate(ctx context.Context, aggregateID string, opts ReplayOptions, progress func(int)) error {
	if opts.ResetFirst && !opts.DryRun {
		if _, err := e.snapshots.DeleteAll(ctx, aggregateID); err != nil {
			return fmt.Errorf("reset snapshots for %s: %w", aggregateID, err)
		}
	}

	var agg aggregate.Aggregate
	processed := 0
	fromSeq := opts.FromSequence
	if fromSeq < 1 {
		fromSeq = 1
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if opts.ToSequence > 0 && fromSeq > opts.ToSequence {
			break
		}
		toSeq := fromSeq + replayBatchSize - 1
		if opts.ToSequence > 0 && toSeq > opts.ToSequence {
			toSeq = opts.ToSequence
		}
		batch, err := e.events.ReadEvents(ctx, aggregateID, fromSeq, toSeq)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}
		if agg == nil {
			factory, ok := e.lookupFactory(batch[0].AggregateType)
			if !ok {
				return fmt.Errorf("aggregate type %q is not registered", batch[0].AggregateType)
			}
			agg = factory()
		}
		if err := aggregate.Fold(agg, batch); err != nil {
			return err
		}
		processed += len(batch)
		progress(processed)
		fromSeq += len(batch)
	}
	if agg == nil {
		return fmt.Errorf("%w: %s", store.ErrNotFound, aggregateID)
	}

	// A fold resumed mid-history is not the state at the final sequence, so
	// it never becomes a snapshot. A prefix fold (ToSequence only) is.
	if !opts.DryRun && opts.FromSequence <= 1 {
		state, err := json.Marshal(agg)
		if err != nil {
			return fmt.Errorf("marshal replayed state for %s: %w", aggregateID, err)
		}
		if _, err := e.snapshots.Save(ctx, aggregateID, state, agg.GetVersion()); err != nil {
			return fmt.Errorf("save replayed snapshot for %s: %w", aggregateID, err)
		}
	}
	return nil
}

func (e *Engine) rebuildProjection(ctx context.Context, projection Projection, opts RebuildOptions, progress func(int)) error {
	if opts.ResetFirst && !opts.DryRun {
		if err := projection.Reset(ctx); err != nil {
			return fmt.Errorf("reset projection %s: %w", projection.Name(), err)
		}
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = replayBatchSize
	}
	stream := e.events.StreamAll(ctx, store.StreamFilter{
		EventTypes: projection.InterestedEventTypes(),
		FromTime:   opts.FromTime,
		ToTime:     opts.ToTime,
	}, batchSize)

	processed := 0
	for {
		event, ok := stream.Next(ctx)
		if !ok {
			break
		}
		if !opts.DryRun {
			if err := projection.Handle(ctx, event); err != nil {
				return fmt.Errorf("apply %s to projection %s: %w", event.EventType, projection.Name(), err)
			}
		}
		processed++
		progress(processed)
	}
	return stream.Err()
}

func (e *Engine) lookupFactory(aggregateType string) (func() aggregate.Aggregate, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	factory, ok := e.factories[aggregateType]
	return factory, ok
}
