// Package job defines the Job record and its state machine (spec §3).
//
// A Job is created once on ingress and never destroyed; only the worker
// holding its visibility lease may mutate it, and only through State's
// transition table. The doc-comment density here follows the teacher's
// runtime/agent/run.Context: every field states its purpose and lifespan.
package job

import "time"

// State is one point in the job lifecycle (spec §3).
type State string

const (
	StateQueued    State = "QUEUED"
	StateRunning   State = "RUNNING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
	StateCancelled State = "CANCELLED"
)

// transitions enumerates every allowed arrow. A job never observes a
// downgrade (spec §8 invariant 1): this table is the only place transitions
// are decided.
var transitions = map[State][]State{
	StateQueued:    {StateRunning, StateCancelled},
	StateRunning:   {StateSucceeded, StateFailed},
	StateSucceeded: {},
	StateFailed:    {},
	StateCancelled: {},
}

// CanTransition reports whether from -> to is an allowed arrow.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether State is one a job never leaves.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Job is the durable record backing one submitted unit of work (spec §3).
type Job struct {
	ID       string // identifier; assigned by the system
	TenantID string
	Type     string          // registered handler name
	Payload  []byte          // opaque JSON, validated by the handler's schema
	State    State
	CreatedAt time.Time // UTC
	UpdatedAt time.Time // UTC; monotonic per job id

	ResultPointer string // blob-store key; set only in terminal success states
	ErrorMessage  string // set only on FAILED
	ErrorKind     string // set only on FAILED; spec §7 taxonomy value
	WorkerID      string // set while RUNNING

	// VisibilityDeadline is when the current lease expires. A RUNNING job
	// whose VisibilityDeadline has passed is eligible for redelivery
	// (at-least-once; spec §3 invariant, §8 scenario 14).
	VisibilityDeadline time.Time
}

// NewQueued constructs a freshly queued Job record. id must already have
// passed ident.Validate(id, ident.KindRun) by the caller.
func NewQueued(id, tenantID, jobType string, payload []byte, now time.Time) *Job {
	return &Job{
		ID:        id,
		TenantID:  tenantID,
		Type:      jobType,
		Payload:   payload,
		State:     StateQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
