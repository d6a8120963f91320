// Package dispatch implements the Dispatch Engine (spec §4.2): it pulls
// messages off the queue, leases them, CAS-transitions the job record,
// invokes the selected executor strategy, and records terminal state.
package dispatch

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/jobctl/jobctl/runtime/backend"
	"github.com/jobctl/jobctl/runtime/errs"
	"github.com/jobctl/jobctl/runtime/executor"
	"github.com/jobctl/jobctl/runtime/ident"
	"github.com/jobctl/jobctl/runtime/job"
	"github.com/jobctl/jobctl/runtime/telemetry"
)

// Handler is a registered in-process job handler (spec §4.3 in-process
// strategy) or the entry point the task-launch/multiplexer strategies
// invoke indirectly through Executor.
type Handler func(ctx *executor.Context, payload []byte) (executor.Result, error)

// Options configures an Engine.
type Options struct {
	Queue   backend.Queue
	Store   backend.Store
	Blob    backend.Blob
	Log     telemetry.Logger
	Metrics telemetry.Metrics

	// Schemas validates a job's payload against its registered type at
	// Submit time (spec §9 "validation runs at dispatch entry"). Nil means
	// no payload validation is performed.
	Schemas *SchemaRegistry

	// VisibilityTimeout is the lease duration granted per received message.
	VisibilityTimeout time.Duration
	// Concurrency is the number of worker loops pulled from the queue
	// concurrently (spec §5 "a pool of worker loops").
	Concurrency int
	// BackoffAttempts bounds the in-loop retry for transient_backend errors
	// (spec §4.2, §7: "up to 3 attempts").
	BackoffAttempts int
}

// Engine is the Dispatch Engine. One Engine owns one queue/store/blob triple
// and a registry of executor strategies keyed by job type.
type Engine struct {
	opts      Options
	executors map[string]executor.Strategy
}

// New constructs an Engine. Executors must be registered via Register before
// Run is called; an unregistered job type fails dispatch with KindValidation
// (spec §4.2 "validate type is registered").
func New(opts Options) *Engine {
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 30 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.BackoffAttempts <= 0 {
		opts.BackoffAttempts = 3
	}
	if opts.Log == nil {
		opts.Log = telemetry.NoOp{}
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NoOp{}
	}
	return &Engine{opts: opts, executors: make(map[string]executor.Strategy)}
}

// Register binds a job type to the executor strategy that runs it.
func (e *Engine) Register(jobType string, strategy executor.Strategy) {
	e.executors[jobType] = strategy
}

// Submit writes a QUEUED record then enqueues it. jobID must already be
// ident-validated by the caller (spec §4.2).
func (e *Engine) Submit(ctx context.Context, jobID, tenantID, jobType string, payload []byte) error {
	if _, err := ident.Validate(jobID, ident.KindRun); err != nil {
		return errs.Wrap(errs.KindValidation, err)
	}
	if _, err := ident.Validate(tenantID, ident.KindTenant); err != nil {
		return errs.Wrap(errs.KindValidation, err)
	}
	if e.opts.Schemas != nil {
		if err := e.opts.Schemas.Validate(jobType, payload); err != nil {
			return err
		}
	}
	j := job.NewQueued(jobID, tenantID, jobType, payload, time.Now().UTC())
	if err := withRetry(ctx, e.opts.BackoffAttempts, func() error {
		return e.opts.Store.PutJob(ctx, j)
	}); err != nil {
		return errs.Wrap(errs.KindTransientBackend, err)
	}
	// If enqueue fails here, the job stays QUEUED and the reconciler
	// re-enqueues it on its next sweep (spec §4.2).
	if err := e.opts.Queue.Enqueue(ctx, jobID); err != nil {
		e.opts.Log.Warn(ctx, "enqueue failed after job write; relying on reconciler", "job_id", jobID, "err", err)
	}
	return nil
}

// Run starts Concurrency worker loops and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	done := make(chan struct{}, e.opts.Concurrency)
	for i := 0; i < e.opts.Concurrency; i++ {
		go func() {
			e.loop(ctx)
			done <- struct{}{}
		}()
	}
	for i := 0; i < e.opts.Concurrency; i++ {
		<-done
	}
}

func (e *Engine) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msgs, err := e.opts.Queue.Receive(ctx, 1, e.opts.VisibilityTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.opts.Log.Warn(ctx, "queue receive failed", "err", err)
			continue
		}
		for _, m := range msgs {
			e.handle(ctx, m)
		}
	}
}

func (e *Engine) handle(ctx context.Context, m backend.Message) {
	j, err := e.opts.Store.GetJobByID(ctx, m.JobID)
	if err != nil {
		e.opts.Log.Error(ctx, "get job failed", "job_id", m.JobID, "err", err)
		return // transient: lease expires, redelivered
	}
	if j == nil {
		_ = e.opts.Queue.Delete(ctx, m)
		return
	}
	strategy, registered := e.executors[j.Type]
	if !registered {
		e.fail(ctx, m, j, errs.New(errs.KindValidation, "unregistered job type: "+j.Type))
		return
	}

	ok, err := e.opts.Store.CASJobState(ctx, j.TenantID, j.ID, job.StateQueued, job.StateRunning, func(cur *job.Job) {
		cur.WorkerID = workerID(m)
		cur.VisibilityDeadline = time.Now().UTC().Add(e.opts.VisibilityTimeout)
	})
	if err != nil {
		e.opts.Log.Warn(ctx, "CAS to running failed", "job_id", j.ID, "err", err)
		return // transient: no terminal write, let redelivery happen
	}
	if !ok {
		// CAS miss: another worker already claimed it, or it was cancelled.
		_ = e.opts.Queue.Delete(ctx, m)
		return
	}

	execCtx := executor.NewContext(ctx, executor.ContextParams{
		JobID:    j.ID,
		TenantID: j.TenantID,
		Heartbeat: func(ctx context.Context) error {
			return e.opts.Queue.ExtendVisibility(ctx, m, e.opts.VisibilityTimeout)
		},
		Blob: e.opts.Blob,
	})
	result, runErr := strategy.Execute(execCtx, j.Payload)
	if runErr != nil {
		if errs.KindOf(runErr).Retryable() {
			// transient_backend: do not write a terminal state (spec §7
			// propagation policy). Leave the job RUNNING and the message
			// undeleted. Once the lease expires the message is redelivered
			// (and the reconciler's ReapStaleRunning sweep re-enqueues the
			// job), but the record is still RUNNING, so the next handle's
			// QUEUED->RUNNING CAS misses and the job is not run again.
			e.opts.Log.Warn(ctx, "strategy execution failed transiently; leaving lease to expire for redelivery", "job_id", j.ID, "err", runErr)
			return
		}
		e.fail(ctx, m, j, runErr)
		return
	}
	e.succeed(ctx, m, j, result)
}

func (e *Engine) succeed(ctx context.Context, m backend.Message, j *job.Job, result executor.Result) {
	ok, err := e.opts.Store.CASJobState(ctx, j.TenantID, j.ID, job.StateRunning, job.StateSucceeded, func(cur *job.Job) {
		cur.ResultPointer = result.ResultPointer
		cur.UpdatedAt = time.Now().UTC()
	})
	if err != nil || !ok {
		// Second terminal write is a no-op per spec §8 law 8; a CAS
		// failure here means the job already reached a terminal state.
		e.opts.Log.Warn(ctx, "succeed CAS did not apply", "job_id", j.ID, "ok", ok, "err", err)
	}
	_ = e.opts.Queue.Delete(ctx, m)
	e.opts.Metrics.IncCounter("jobctl_jobs_succeeded_total", 1, "type", j.Type)
}

func (e *Engine) fail(ctx context.Context, m backend.Message, j *job.Job, runErr error) {
	kind := errs.KindOf(runErr)
	ok, err := e.opts.Store.CASJobState(ctx, j.TenantID, j.ID, job.StateRunning, job.StateFailed, func(cur *job.Job) {
		cur.ErrorKind = string(kind)
		cur.ErrorMessage = runErr.Error()
		cur.UpdatedAt = time.Now().UTC()
	})
	if err != nil || !ok {
		e.opts.Log.Warn(ctx, "fail CAS did not apply", "job_id", j.ID, "ok", ok, "err", err)
	}
	_ = e.opts.Queue.Delete(ctx, m)
	e.opts.Metrics.IncCounter("jobctl_jobs_failed_total", 1, "type", j.Type, "kind", string(kind))
}

func workerID(m backend.Message) string {
	if m.ReceiptHandle != "" {
		return m.ReceiptHandle
	}
	return m.JobID
}

// withRetry retries fn up to attempts times with exponential backoff,
// matching spec §7's transient_backend policy ("3 attempts, jittered").
func withRetry(ctx context.Context, attempts int, fn func() error) error {
	var err error
	backoff := 50 * time.Millisecond
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff + rand.N(backoff/2)):
		}
		backoff *= 2
	}
	return err
}
