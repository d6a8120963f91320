// Package executor defines the shared contract every executor strategy
// implements (spec §4.3): in-process, task-launch, and
// local-process-in-multiplexer. Grounded on the teacher's
// runtime/agent.Client/Bounds shape — a small interface plus a typed result
// envelope, no inheritance between variants.
package executor

import (
	"context"
	"time"

	"github.com/jobctl/jobctl/runtime/backend"
)

type (
	// Finding is one structured observation extracted from an executor's
	// output (spec §4.5 line-prefix convention; also used directly by
	// in-process handlers that can emit structured findings).
	Finding struct {
		Kind    string // discovery | warning | decision | blocker | fact | hypothesis
		Content string
		Files   []string
	}

	// Result is what every strategy returns on success (spec §4.3 "Shared
	// contract").
	Result struct {
		ResultJSON    []byte
		ResultText    string
		ResultPointer string
		FilesModified []string
		Findings      []Finding
	}

	// ContextParams constructs a Context.
	ContextParams struct {
		JobID     string
		TenantID  string
		NodeID    string // set only for workflow/conductor-driven executions
		Heartbeat func(ctx context.Context) error
		Blob      backend.Blob
	}

	// Context carries everything an executor needs to run one job, scoped
	// to the job's validated identifiers and artifact-upload handle
	// (spec §4.3 "Shared contract: Inputs").
	Context struct {
		context.Context
		JobID    string
		TenantID string
		NodeID   string
		blob     backend.Blob
		heartbeat func(ctx context.Context) error
	}

	// Strategy is the "execute node" contract every executor variant
	// implements (spec §4.3, §9 "Deep polymorphism").
	Strategy interface {
		Execute(ctx *Context, payload []byte) (Result, error)
	}
)

// NewContext builds an executor Context.
func NewContext(parent context.Context, p ContextParams) *Context {
	return &Context{
		Context:   parent,
		JobID:     p.JobID,
		TenantID:  p.TenantID,
		NodeID:    p.NodeID,
		blob:      p.Blob,
		heartbeat: p.Heartbeat,
	}
}

// Heartbeat extends the owning job's visibility lease (spec §4.2 "Visibility
// heartbeat"). Long-running handlers must call this periodically or risk
// redelivery mid-execution.
func (c *Context) Heartbeat() error {
	if c.heartbeat == nil {
		return nil
	}
	return c.heartbeat(c.Context)
}

// UploadArtifact writes data to the blob store under a tenant/job-scoped
// key and returns the key as the job's result pointer.
func (c *Context) UploadArtifact(key string, data []byte) (string, error) {
	if c.blob == nil {
		return "", nil
	}
	fullKey := "artifacts/" + c.TenantID + "/jobs/" + c.JobID + "/" + key
	if err := c.blob.Put(c.Context, fullKey, data); err != nil {
		return "", err
	}
	return fullKey, nil
}

// WithDeadline narrows the Context's deadline without changing JobID/TenantID.
func (c *Context) WithDeadline(d time.Duration) (*Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(c.Context, d)
	nc := *c
	nc.Context = ctx
	return &nc, cancel
}
