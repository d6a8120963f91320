package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobctl/jobctl/runtime/backend"
	"github.com/jobctl/jobctl/runtime/errs"
	"github.com/jobctl/jobctl/runtime/executor"
	"github.com/jobctl/jobctl/runtime/job"
)

// fakeStore is a minimal in-memory backend.Store, mirroring the one
// internal/httpapi tests against, with an optional failure injector for
// exercising withRetry.
type fakeStore struct {
	mu        sync.Mutex
	jobs      map[string]*job.Job
	putErrors int // PutJob fails this many times before succeeding
}

func newFakeStore() *fakeStore { return &fakeStore{jobs: make(map[string]*job.Job)} }

func (s *fakeStore) PutJob(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErrors > 0 {
		s.putErrors--
		return errs.New(errs.KindTransientBackend, "simulated write failure")
	}
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

func (s *fakeStore) GetJob(_ context.Context, tenantID, jobID string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.TenantID != tenantID {
		return nil, errs.New(errs.KindNotFound, "job not found")
	}
	cp := *j
	return &cp, nil
}

func (s *fakeStore) GetJobByID(_ context.Context, jobID string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (s *fakeStore) ListJobs(context.Context, string, backend.JobFilter) ([]*job.Job, error) {
	return nil, nil
}

func (s *fakeStore) CASJobState(_ context.Context, tenantID, jobID string, from, to job.State, mutate func(*job.Job)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.TenantID != tenantID || j.State != from {
		return false, nil
	}
	j.State = to
	if mutate != nil {
		mutate(j)
	}
	return true, nil
}

func (s *fakeStore) ReapStaleRunning(context.Context, time.Time) ([]*job.Job, error)   { return nil, nil }
func (s *fakeStore) ReapOrphanedQueued(context.Context, time.Time) ([]*job.Job, error) { return nil, nil }

func (s *fakeStore) get(jobID string) *job.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.jobs[jobID]
	return &cp
}

// fakeQueue is a no-op backend.Queue: dispatch_test drives handle() directly
// rather than through Run's receive loop, so Enqueue/Delete/ExtendVisibility
// only need to record whether they were called.
type fakeQueue struct {
	mu       sync.Mutex
	enqueued []string
	deleted  []backend.Message
	extended int
}

func (q *fakeQueue) Enqueue(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, jobID)
	return nil
}

func (q *fakeQueue) Receive(context.Context, int, time.Duration) ([]backend.Message, error) {
	return nil, nil
}

func (q *fakeQueue) Delete(_ context.Context, m backend.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted = append(q.deleted, m)
	return nil
}

func (q *fakeQueue) ExtendVisibility(context.Context, backend.Message, time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.extended++
	return nil
}

func (q *fakeQueue) wasDeleted(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range q.deleted {
		if m.JobID == jobID {
			return true
		}
	}
	return false
}

type fakeStrategy struct {
	result executor.Result
	err    error
}

func (s fakeStrategy) Execute(*executor.Context, []byte) (executor.Result, error) {
	return s.result, s.err
}

func TestSubmit_RejectsInvalidJobID(t *testing.T) {
	e := New(Options{Queue: &fakeQueue{}, Store: newFakeStore()})
	err := e.Submit(t.Context(), "", "tenant-a", "echo", []byte(`{}`))
	assert.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestSubmit_RejectsInvalidTenantID(t *testing.T) {
	e := New(Options{Queue: &fakeQueue{}, Store: newFakeStore()})
	err := e.Submit(t.Context(), "job-1", "", "echo", []byte(`{}`))
	assert.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestSubmit_RejectsSchemaViolation(t *testing.T) {
	schemas := NewSchemaRegistry()
	require.NoError(t, schemas.Register("review", []byte(`{
		"type": "object",
		"required": ["repo"],
		"properties": {"repo": {"type": "string"}}
	}`)))
	e := New(Options{Queue: &fakeQueue{}, Store: newFakeStore(), Schemas: schemas})

	err := e.Submit(t.Context(), "job-1", "tenant-a", "review", []byte(`{}`))
	assert.Error(t, err)
}

func TestSubmit_WritesJobAndEnqueues(t *testing.T) {
	store := newFakeStore()
	queue := &fakeQueue{}
	e := New(Options{Queue: queue, Store: store})

	require.NoError(t, e.Submit(t.Context(), "job-1", "tenant-a", "echo", []byte(`{"ok":true}`)))

	j := store.get("job-1")
	assert.Equal(t, job.StateQueued, j.State)
	assert.Equal(t, "tenant-a", j.TenantID)
	assert.Contains(t, queue.enqueued, "job-1")
}

func TestSubmit_RetriesTransientPutJobFailures(t *testing.T) {
	store := newFakeStore()
	store.putErrors = 2 // fails twice, succeeds on the 3rd attempt
	e := New(Options{Queue: &fakeQueue{}, Store: store, BackoffAttempts: 3})

	require.NoError(t, e.Submit(t.Context(), "job-1", "tenant-a", "echo", nil))
	assert.NotNil(t, store.get("job-1"))
}

func TestSubmit_GivesUpAfterExhaustingRetries(t *testing.T) {
	store := newFakeStore()
	store.putErrors = 5
	e := New(Options{Queue: &fakeQueue{}, Store: store, BackoffAttempts: 2})

	err := e.Submit(t.Context(), "job-1", "tenant-a", "echo", nil)
	assert.Error(t, err)
	assert.Equal(t, errs.KindTransientBackend, errs.KindOf(err))
}

func newQueuedEngine(t *testing.T, strategy executor.Strategy) (*Engine, *fakeStore, *fakeQueue, *job.Job) {
	t.Helper()
	store := newFakeStore()
	queue := &fakeQueue{}
	e := New(Options{Queue: queue, Store: store})
	if strategy != nil {
		e.Register("echo", strategy)
	}
	j := job.NewQueued("job-1", "tenant-a", "echo", []byte(`{}`), time.Now().UTC())
	require.NoError(t, store.PutJob(t.Context(), j))
	return e, store, queue, j
}

func TestHandle_SucceedsAndTransitionsToSucceeded(t *testing.T) {
	strategy := fakeStrategy{result: executor.Result{ResultText: "done"}}
	e, store, queue, _ := newQueuedEngine(t, strategy)

	e.handle(t.Context(), backend.Message{JobID: "job-1", ReceiptHandle: "r1"})

	got := store.get("job-1")
	assert.Equal(t, job.StateSucceeded, got.State)
	assert.True(t, queue.wasDeleted("job-1"))
}

func TestHandle_FailsAndRecordsErrorKind(t *testing.T) {
	strategy := fakeStrategy{err: errs.New(errs.KindHandler, "boom")}
	e, store, queue, _ := newQueuedEngine(t, strategy)

	e.handle(t.Context(), backend.Message{JobID: "job-1"})

	got := store.get("job-1")
	assert.Equal(t, job.StateFailed, got.State)
	assert.Equal(t, string(errs.KindHandler), got.ErrorKind)
	assert.Equal(t, "boom", got.ErrorMessage)
	assert.True(t, queue.wasDeleted("job-1"))
}

func TestHandle_TransientBackendErrorLeavesJobRunningForRedelivery(t *testing.T) {
	strategy := fakeStrategy{err: errs.New(errs.KindTransientBackend, "ecs describe-task hiccup")}
	e, store, queue, _ := newQueuedEngine(t, strategy)

	e.handle(t.Context(), backend.Message{JobID: "job-1"})

	got := store.get("job-1")
	assert.Equal(t, job.StateRunning, got.State, "transient_backend must not be written terminal")
	assert.Empty(t, got.ErrorKind)
	assert.False(t, queue.wasDeleted("job-1"), "message must stay leased so it's redelivered")
}

func TestHandle_UnregisteredJobTypeFailsWithValidationKind(t *testing.T) {
	e, store, queue, _ := newQueuedEngine(t, nil) // nothing registered for "echo"

	e.handle(t.Context(), backend.Message{JobID: "job-1"})

	got := store.get("job-1")
	assert.Equal(t, job.StateFailed, got.State)
	assert.Equal(t, string(errs.KindValidation), got.ErrorKind)
	assert.True(t, queue.wasDeleted("job-1"))
}

func TestHandle_MissingJobDeletesMessageWithoutPanicking(t *testing.T) {
	store := newFakeStore()
	queue := &fakeQueue{}
	e := New(Options{Queue: queue, Store: store})

	e.handle(t.Context(), backend.Message{JobID: "does-not-exist"})

	assert.True(t, queue.wasDeleted("does-not-exist"))
}

func TestHandle_CASMissLeavesJobUntouchedAndDeletesMessage(t *testing.T) {
	strategy := fakeStrategy{result: executor.Result{}}
	e, store, queue, j := newQueuedEngine(t, strategy)

	// Another worker already moved the job to RUNNING before this delivery
	// is handled; handle's QUEUED->RUNNING CAS must miss.
	ok, err := store.CASJobState(t.Context(), j.TenantID, j.ID, job.StateQueued, job.StateRunning, nil)
	require.NoError(t, err)
	require.True(t, ok)

	e.handle(t.Context(), backend.Message{JobID: "job-1"})

	got := store.get("job-1")
	assert.Equal(t, job.StateRunning, got.State) // untouched by the losing worker
	assert.True(t, queue.wasDeleted("job-1"))
}

func TestHandle_HeartbeatExtendsQueueVisibility(t *testing.T) {
	e, store, queue, _ := newQueuedEngine(t, fakeStrategyFunc(func(ctx *executor.Context, _ []byte) (executor.Result, error) {
		return executor.Result{}, ctx.Heartbeat()
	}))

	e.handle(t.Context(), backend.Message{JobID: "job-1"})

	got := store.get("job-1")
	assert.Equal(t, job.StateSucceeded, got.State)
	assert.Equal(t, 1, queue.extended)
}

type fakeStrategyFunc func(ctx *executor.Context, payload []byte) (executor.Result, error)

func (f fakeStrategyFunc) Execute(ctx *executor.Context, payload []byte) (executor.Result, error) {
	return f(ctx, payload)
}

func TestSucceed_SecondTerminalWriteIsANoOp(t *testing.T) {
	strategy := fakeStrategy{result: executor.Result{}}
	e, store, queue, j := newQueuedEngine(t, strategy)

	// Force the job straight to a terminal state, simulating a race where
	// another delivery already completed it.
	ok, err := store.CASJobState(t.Context(), j.TenantID, j.ID, job.StateQueued, job.StateRunning, nil)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.CASJobState(t.Context(), j.TenantID, j.ID, job.StateRunning, job.StateFailed, nil)
	require.NoError(t, err)
	require.True(t, ok)

	// succeed's CAS from RUNNING->SUCCEEDED now misses because the job is
	// already FAILED; this must not panic or overwrite the terminal state.
	e.succeed(t.Context(), backend.Message{JobID: "job-1"}, j, executor.Result{})

	got := store.get("job-1")
	assert.Equal(t, job.StateFailed, got.State)
	assert.True(t, queue.wasDeleted("job-1"))
}

func TestRun_StopsWhenContextCancelled(t *testing.T) {
	e := New(Options{Queue: &fakeQueue{}, Store: newFakeStore(), Concurrency: 2})
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
