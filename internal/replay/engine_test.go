package replay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ec-eventstore/internal/domain/aggregate"
	"github.com/example/ec-eventstore/internal/infrastructure/store"
)

type tally struct {
	ID      string `json:"id"`
	Count   int    `json:"count"`
	Version int    `json:"version"`
}

func (a *tally) GetID() string   { return a.ID }
func (a *tally) GetVersion() int { return a.Version }

func (a *tally) ApplyEvent(event store.Event) error {
	if event.EventType != "Ticked" {
		return &store.UnknownEventTypeError{AggregateType: "Tally", EventType: event.EventType}
	}
	a.ID = event.AggregateID
	a.Count++
	a.Version = event.SequenceNumber
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *store.MemoryEventStore, *store.MemorySnapshotStore) {
	t.Helper()
	es := store.NewMemoryEventStore()
	ss := store.NewMemorySnapshotStore()
	engine := NewEngine(es, ss, NewMemoryJobStore(), nil)
	engine.RegisterAggregate("Tally", func() aggregate.Aggregate { return &tally{} })
	return engine, es, ss
}

func seedTicks(t *testing.T, es store.EventStore, aggregateID string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		_, err := es.Append(ctx, aggregateID, "Tally", []store.NewEvent{{
			EventType:     "Ticked",
			SchemaVersion: 1,
			Data:          struct{}{},
		}}, i)
		require.NoError(t, err)
	}
}

func waitForJob(t *testing.T, engine *Engine, jobID string) Job {
	t.Helper()
	engine.Wait(jobID)
	job, err := engine.Status(context.Background(), jobID)
	require.NoError(t, err)
	return job
}

// ============================================
// Aggregate Replay Tests
// ============================================

func TestEngine_ReplayAggregate_WritesFreshSnapshot(t *testing.T) {
	engine, es, ss := newTestEngine(t)
	ctx := context.Background()
	seedTicks(t, es, "tally-1", 7)

	jobID, err := engine.ReplayAggregate(ctx, "tally-1", ReplayOptions{})
	require.NoError(t, err)

	job := waitForJob(t, engine, jobID)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, KindAggregateReplay, job.Kind)
	assert.Equal(t, 7, job.EventsProcessed)

	snap, err := ss.GetLatest(ctx, "tally-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 7, snap.LastEventSequence)

	var state tally
	require.NoError(t, json.Unmarshal(snap.State, &state))
	assert.Equal(t, 7, state.Count)
}

func TestEngine_ReplayAggregate_DryRunWritesNothing(t *testing.T) {
	engine, es, ss := newTestEngine(t)
	ctx := context.Background()
	seedTicks(t, es, "tally-1", 3)

	jobID, err := engine.ReplayAggregate(ctx, "tally-1", ReplayOptions{DryRun: true})
	require.NoError(t, err)

	job := waitForJob(t, engine, jobID)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 3, job.EventsProcessed)
	assert.True(t, job.DryRun)

	snap, err := ss.GetLatest(ctx, "tally-1")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestEngine_ReplayAggregate_ResetFirstDeletesSnapshots(t *testing.T) {
	engine, es, ss := newTestEngine(t)
	ctx := context.Background()
	seedTicks(t, es, "tally-1", 4)

	// a stale snapshot that disagrees with the event history
	stale, _ := json.Marshal(tally{ID: "tally-1", Count: 999, Version: 2})
	_, err := ss.Save(ctx, "tally-1", stale, 2)
	require.NoError(t, err)

	jobID, err := engine.ReplayAggregate(ctx, "tally-1", ReplayOptions{ResetFirst: true})
	require.NoError(t, err)

	job := waitForJob(t, engine, jobID)
	assert.Equal(t, StatusCompleted, job.Status)

	snap, err := ss.GetLatest(ctx, "tally-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	var state tally
	require.NoError(t, json.Unmarshal(snap.State, &state))
	assert.Equal(t, 4, state.Count)
}

func TestEngine_ReplayAggregate_NoEventsFails(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	jobID, err := engine.ReplayAggregate(context.Background(), "missing", ReplayOptions{})
	require.NoError(t, err)

	job := waitForJob(t, engine, jobID)
	assert.Equal(t, StatusFailed, job.Status)
	assert.NotEmpty(t, job.Error)
}

func TestEngine_ReplayAggregate_UnregisteredTypeFails(t *testing.T) {
	engine, es, _ := newTestEngine(t)
	ctx := context.Background()
	_, err := es.Append(ctx, "ghost-1", "Ghost", []store.NewEvent{{
		EventType: "Appeared", SchemaVersion: 1, Data: struct{}{},
	}}, 0)
	require.NoError(t, err)

	jobID, err := engine.ReplayAggregate(ctx, "ghost-1", ReplayOptions{})
	require.NoError(t, err)

	job := waitForJob(t, engine, jobID)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Contains(t, job.Error, "not registered")
}

func TestEngine_ReplayAggregate_DetachedFromCallerContext(t *testing.T) {
	engine, es, ss := newTestEngine(t)
	seedTicks(t, es, "tally-1", 5)

	ctx, cancel := context.WithCancel(context.Background())
	jobID, err := engine.ReplayAggregate(ctx, "tally-1", ReplayOptions{})
	require.NoError(t, err)
	cancel() // the admin request ending must not kill the job

	job := waitForJob(t, engine, jobID)
	assert.Equal(t, StatusCompleted, job.Status)

	snap, err := ss.GetLatest(context.Background(), "tally-1")
	require.NoError(t, err)
	assert.NotNil(t, snap)
}

func TestEngine_ReplayAggregate_ToSequenceBoundsFold(t *testing.T) {
	engine, es, ss := newTestEngine(t)
	ctx := context.Background()
	seedTicks(t, es, "tally-1", 6)

	jobID, err := engine.ReplayAggregate(ctx, "tally-1", ReplayOptions{ToSequence: 4})
	require.NoError(t, err)

	job := waitForJob(t, engine, jobID)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 4, job.EventsProcessed)

	// a prefix fold is still a valid snapshot at its last sequence
	snap, err := ss.GetLatest(ctx, "tally-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 4, snap.LastEventSequence)

	var state tally
	require.NoError(t, json.Unmarshal(snap.State, &state))
	assert.Equal(t, 4, state.Count)
}

func TestEngine_ReplayAggregate_ResumeFromSequenceSkipsSnapshot(t *testing.T) {
	engine, es, ss := newTestEngine(t)
	ctx := context.Background()
	seedTicks(t, es, "tally-1", 6)

	jobID, err := engine.ReplayAggregate(ctx, "tally-1", ReplayOptions{FromSequence: 3})
	require.NoError(t, err)

	job := waitForJob(t, engine, jobID)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 4, job.EventsProcessed)

	// a fold resumed mid-history must never be persisted as a snapshot
	snap, err := ss.GetLatest(ctx, "tally-1")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

// ============================================
// Projection Rebuild Tests
// ============================================

type recordingProjection struct {
	mu     sync.Mutex
	resets int
	events []store.Event
	block  chan struct{}
}

func (p *recordingProjection) Name() string                   { return "recording" }
func (p *recordingProjection) InterestedEventTypes() []string { return []string{"Ticked"} }

func (p *recordingProjection) Reset(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets++
	p.events = nil
	return nil
}

func (p *recordingProjection) Handle(ctx context.Context, event store.Event) error {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingProjection) handled() []store.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]store.Event(nil), p.events...)
}

func TestEngine_RebuildProjection_FiltersToInterestedTypes(t *testing.T) {
	engine, es, _ := newTestEngine(t)
	ctx := context.Background()
	seedTicks(t, es, "tally-1", 3)
	_, err := es.Append(ctx, "other-1", "Other", []store.NewEvent{{
		EventType: "Ignored", SchemaVersion: 1, Data: struct{}{},
	}}, 0)
	require.NoError(t, err)

	projection := &recordingProjection{}
	engine.RegisterProjection(projection)

	jobID, err := engine.RebuildProjection(ctx, "recording", RebuildOptions{ResetFirst: true})
	require.NoError(t, err)

	job := waitForJob(t, engine, jobID)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, KindProjectionRebuild, job.Kind)
	assert.Equal(t, 3, job.EventsProcessed)
	assert.Equal(t, 1, projection.resets)

	for _, event := range projection.handled() {
		assert.Equal(t, "Ticked", event.EventType)
	}
}

func TestEngine_RebuildProjection_TimeWindow(t *testing.T) {
	engine, es, _ := newTestEngine(t)
	ctx := context.Background()
	seedTicks(t, es, "tally-1", 3)

	projection := &recordingProjection{}
	engine.RegisterProjection(projection)

	// a window entirely before the events matches nothing
	jobID, err := engine.RebuildProjection(ctx, "recording", RebuildOptions{
		ToTime: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	job := waitForJob(t, engine, jobID)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 0, job.EventsProcessed)

	// a window starting before the events matches all of them
	jobID, err = engine.RebuildProjection(ctx, "recording", RebuildOptions{
		FromTime: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	job = waitForJob(t, engine, jobID)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 3, job.EventsProcessed)
}

func TestEngine_RebuildProjection_BatchSizeOverride(t *testing.T) {
	engine, es, _ := newTestEngine(t)
	ctx := context.Background()
	seedTicks(t, es, "tally-1", 5)

	projection := &recordingProjection{}
	engine.RegisterProjection(projection)

	jobID, err := engine.RebuildProjection(ctx, "recording", RebuildOptions{BatchSize: 2})
	require.NoError(t, err)

	job := waitForJob(t, engine, jobID)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 5, job.EventsProcessed)
}

func TestEngine_RebuildProjection_Unregistered(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.RebuildProjection(context.Background(), "nope", RebuildOptions{})

	assert.Error(t, err)
}

// ============================================
// Job Control Tests
// ============================================

func TestEngine_Cancel_StopsRunningJob(t *testing.T) {
	engine, es, _ := newTestEngine(t)
	ctx := context.Background()
	seedTicks(t, es, "tally-1", 10)

	projection := &recordingProjection{block: make(chan struct{})}
	engine.RegisterProjection(projection)

	jobID, err := engine.RebuildProjection(ctx, "recording", RebuildOptions{})
	require.NoError(t, err)

	require.NoError(t, engine.Cancel(ctx, jobID))

	job := waitForJob(t, engine, jobID)
	assert.Equal(t, StatusCancelled, job.Status)
}

func TestEngine_Status_ReportsLiveProgress(t *testing.T) {
	engine, es, _ := newTestEngine(t)
	ctx := context.Background()
	seedTicks(t, es, "tally-1", 10)

	projection := &recordingProjection{block: make(chan struct{})}
	engine.RegisterProjection(projection)

	jobID, err := engine.RebuildProjection(ctx, "recording", RebuildOptions{})
	require.NoError(t, err)

	// let exactly three events through, then poll the still-running job
	for i := 0; i < 3; i++ {
		projection.block <- struct{}{}
	}
	require.Eventually(t, func() bool {
		job, err := engine.Status(ctx, jobID)
		return err == nil && job.Status == StatusRunning && job.EventsProcessed >= 3
	}, 2*time.Second, 5*time.Millisecond)

	close(projection.block)
	job := waitForJob(t, engine, jobID)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 10, job.EventsProcessed)
}

func TestEngine_Cancel_UnknownJob(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	err := engine.Cancel(context.Background(), "no-such-job")

	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestEngine_Status_TracksLifecycle(t *testing.T) {
	engine, es, _ := newTestEngine(t)
	ctx := context.Background()
	seedTicks(t, es, "tally-1", 2)

	jobID, err := engine.ReplayAggregate(ctx, "tally-1", ReplayOptions{})
	require.NoError(t, err)

	job := waitForJob(t, engine, jobID)
	assert.True(t, job.Finished())
	assert.False(t, job.StartedAt.IsZero())
	assert.False(t, job.FinishedAt.IsZero())
	assert.True(t, !job.FinishedAt.Before(job.StartedAt))

	jobs, err := engine.Jobs(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	// the running-job entry is released once the goroutine exits
	engine.mu.Lock()
	_, stillTracked := engine.running[jobID]
	engine.mu.Unlock()
	assert.False(t, stillTracked)
}

func TestEngine_ReplayAggregate_LargeHistoryPaginates(t *testing.T) {
	engine, es, ss := newTestEngine(t)
	ctx := context.Background()
	seedTicks(t, es, "tally-big", replayBatchSize+13)

	jobID, err := engine.ReplayAggregate(ctx, "tally-big", ReplayOptions{})
	require.NoError(t, err)

	job := waitForJob(t, engine, jobID)
	require.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, replayBatchSize+13, job.EventsProcessed)

	snap, err := ss.GetLatest(ctx, "tally-big")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, replayBatchSize+13, snap.LastEventSequence)
}
