// Package backend declares the four external primitives the rest of the core
// is built against (spec §1, component B): enqueue message, put/get
// key->record, launch task with environment, put/get blob. Every other
// package in this module depends only on these interfaces, never on a
// concrete queue/store/cloud SDK, so the core stays backend-agnostic.
package backend

import (
	"context"
	"time"

	"github.com/jobctl/jobctl/runtime/job"
)

type (
	// Message is one queue delivery. ReceiptHandle is opaque to callers and
	// only meaningful to the Queue implementation that issued it.
	Message struct {
		JobID         string
		ReceiptHandle string
	}

	// Queue is the enqueue/receive/delete/extend primitive backing the
	// Dispatch Engine (spec §4.2). Implementations provide at-least-once
	// delivery with a per-message visibility timeout.
	Queue interface {
		// Enqueue makes jobID visible to receivers immediately.
		Enqueue(ctx context.Context, jobID string) error

		// Receive long-polls for up to max messages, each leased for
		// visibilityTimeout. Returns immediately with fewer messages if
		// ctx is cancelled while waiting.
		Receive(ctx context.Context, max int, visibilityTimeout time.Duration) ([]Message, error)

		// Delete acknowledges a message, removing it permanently.
		Delete(ctx context.Context, m Message) error

		// ExtendVisibility extends a leased message's visibility timeout,
		// backing Executor Context.Heartbeat (spec §4.2).
		ExtendVisibility(ctx context.Context, m Message, extension time.Duration) error
	}

	// Store is the keyed-record primitive backing the Job Store and the
	// Conductor's run/node-execution/decision records (spec §3, §C, §G).
	// CAS compares the current State before writing, so concurrent
	// dispatchers see exactly one CAS winner (spec §5).
	Store interface {
		PutJob(ctx context.Context, j *job.Job) error

		// GetJob returns the job scoped to tenantID, enforcing tenant
		// isolation: a job belonging to another tenant is reported as not
		// found (spec §8 scenario 6), not as a permission error.
		GetJob(ctx context.Context, tenantID, jobID string) (*job.Job, error)

		// GetJobByID returns the job regardless of tenant. Reserved for the
		// dispatcher and reconciler, which are trusted internal components
		// that haven't yet resolved a tenant from a request credential.
		GetJobByID(ctx context.Context, jobID string) (*job.Job, error)

		ListJobs(ctx context.Context, tenantID string, filter JobFilter) ([]*job.Job, error)

		// CASJobState performs QUEUED->RUNNING (and similar) transitions
		// conditioned on the job's current state equalling from. Returns
		// ok=false on a CAS miss without error.
		CASJobState(ctx context.Context, tenantID, jobID string, from, to job.State, mutate func(*job.Job)) (ok bool, err error)

		// ReapStaleRunning returns RUNNING jobs whose VisibilityDeadline is
		// before olderThan, for the dispatch reconciler (spec §4.2, §8
		// scenario 14).
		ReapStaleRunning(ctx context.Context, olderThan time.Time) ([]*job.Job, error)

		// ReapOrphanedQueued returns QUEUED jobs older than grace with no
		// corresponding queue message (spec §4.2 submit failure recovery).
		ReapOrphanedQueued(ctx context.Context, olderThan time.Time) ([]*job.Job, error)
	}

	// JobFilter narrows ListJobs queries.
	JobFilter struct {
		State *job.State
		Type  string
		Limit int
	}

	// Blob is the put/get artifact-store primitive (spec §1). Keys are
	// opaque, tenant-and-job-scoped paths (spec §6 persisted state layout).
	Blob interface {
		Put(ctx context.Context, key string, data []byte) error
		Get(ctx context.Context, key string) ([]byte, error)
	}

	// LaunchSpec describes one task-launch request (spec §4.3 task-launch
	// strategy). Every field has already passed ident.Validate by the
	// caller before Launcher sees it.
	LaunchSpec struct {
		TaskDefinition string
		CommandOverride []string
		Env            map[string]string
		JobID          string
		TenantID       string
	}

	// TaskStatus reports a launched task's terminal outcome.
	TaskStatus struct {
		ExitCode int
		Done     bool
	}

	// Launcher is the task-launch-API primitive backing the container
	// executor strategy (spec §4.3).
	Launcher interface {
		Launch(ctx context.Context, spec LaunchSpec) (taskID string, err error)
		Poll(ctx context.Context, taskID string) (TaskStatus, error)
		Cancel(ctx context.Context, taskID string) error
	}
)
