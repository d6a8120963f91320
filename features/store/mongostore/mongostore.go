// Package mongostore persists Job, Run, NodeExecution, and Decision records
// in MongoDB, using go.mongodb.org/mongo-driver/v2. Grounded on the
// teacher's registry/store/mongo.Store: a thin wrapper around a
// *mongo.Collection, bson document structs mirroring the domain type,
// fmt.Errorf wrapping with mongo.ErrNoDocuments translated to a typed
// not-found.
//
// CASJobState implements the CAS contract (spec §3, §5) by using the
// from-state as part of the filter on a ReplaceOne: a concurrent winner's
// write changes the document's state field, so a loser's ReplaceOne matches
// zero documents and reports ok=false without needing a separate version
// counter.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/jobctl/jobctl/runtime/backend"
	"github.com/jobctl/jobctl/runtime/conductor"
	"github.com/jobctl/jobctl/runtime/errs"
	"github.com/jobctl/jobctl/runtime/job"
)

// JobStore implements backend.Store against a MongoDB "jobs" collection.
type JobStore struct {
	jobs *mongo.Collection
}

var _ backend.Store = (*JobStore)(nil)

// NewJobStore builds a JobStore using the provided jobs collection.
func NewJobStore(jobs *mongo.Collection) (*JobStore, error) {
	if jobs == nil {
		return nil, errs.New(errs.KindValidation, "jobs collection is required")
	}
	return &JobStore{jobs: jobs}, nil
}

type jobDocument struct {
	ID                 string    `bson:"_id"`
	TenantID           string    `bson:"tenant_id"`
	Type               string    `bson:"type"`
	Payload            []byte    `bson:"payload"`
	State              string    `bson:"state"`
	CreatedAt          time.Time `bson:"created_at"`
	UpdatedAt          time.Time `bson:"updated_at"`
	ResultPointer      string    `bson:"result_pointer,omitempty"`
	ErrorMessage       string    `bson:"error_message,omitempty"`
	ErrorKind          string    `bson:"error_kind,omitempty"`
	WorkerID           string    `bson:"worker_id,omitempty"`
	VisibilityDeadline time.Time `bson:"visibility_deadline,omitempty"`
}

func toJobDocument(j *job.Job) *jobDocument {
	return &jobDocument{
		ID:                 j.ID,
		TenantID:           j.TenantID,
		Type:               j.Type,
		Payload:            j.Payload,
		State:              string(j.State),
		CreatedAt:          j.CreatedAt,
		UpdatedAt:          j.UpdatedAt,
		ResultPointer:      j.ResultPointer,
		ErrorMessage:       j.ErrorMessage,
		ErrorKind:          j.ErrorKind,
		WorkerID:           j.WorkerID,
		VisibilityDeadline: j.VisibilityDeadline,
	}
}

func fromJobDocument(d *jobDocument) *job.Job {
	return &job.Job{
		ID:                 d.ID,
		TenantID:           d.TenantID,
		Type:               d.Type,
		Payload:            d.Payload,
		State:              job.State(d.State),
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
		ResultPointer:      d.ResultPointer,
		ErrorMessage:       d.ErrorMessage,
		ErrorKind:          d.ErrorKind,
		WorkerID:           d.WorkerID,
		VisibilityDeadline: d.VisibilityDeadline,
	}
}

// PutJob implements backend.Store.
func (s *JobStore) PutJob(ctx context.Context, j *job.Job) error {
	opts := options.Replace().SetUpsert(true)
	_, err := s.jobs.ReplaceOne(ctx, bson.M{"_id": j.ID}, toJobDocument(j), opts)
	if err != nil {
		return errs.Wrap(errs.KindTransientBackend, fmt.Errorf("mongodb put job %q: %w", j.ID, err))
	}
	return nil
}

// GetJob implements backend.Store, scoping the lookup to tenantID so a job
// belonging to another tenant reports not-found rather than leaking
// existence (spec §8 scenario 6).
func (s *JobStore) GetJob(ctx context.Context, tenantID, jobID string) (*job.Job, error) {
	var doc jobDocument
	err := s.jobs.FindOne(ctx, bson.M{"_id": jobID, "tenant_id": tenantID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.New(errs.KindNotFound, fmt.Sprintf("job %q not found", jobID))
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindTransientBackend, fmt.Errorf("mongodb get job %q: %w", jobID, err))
	}
	return fromJobDocument(&doc), nil
}

// GetJobByID implements backend.Store.
func (s *JobStore) GetJobByID(ctx context.Context, jobID string) (*job.Job, error) {
	var doc jobDocument
	err := s.jobs.FindOne(ctx, bson.M{"_id": jobID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.New(errs.KindNotFound, fmt.Sprintf("job %q not found", jobID))
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindTransientBackend, fmt.Errorf("mongodb get job by id %q: %w", jobID, err))
	}
	return fromJobDocument(&doc), nil
}

// ListJobs implements backend.Store.
func (s *JobStore) ListJobs(ctx context.Context, tenantID string, filter backend.JobFilter) ([]*job.Job, error) {
	q := bson.M{"tenant_id": tenantID}
	if filter.State != nil {
		q["state"] = string(*filter.State)
	}
	if filter.Type != "" {
		q["type"] = filter.Type
	}
	findOpts := options.Find().SetSort(bson.M{"created_at": -1})
	if filter.Limit > 0 {
		findOpts.SetLimit(int64(filter.Limit))
	}
	cursor, err := s.jobs.Find(ctx, q, findOpts)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransientBackend, fmt.Errorf("mongodb list jobs: %w", err))
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []jobDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errs.Wrap(errs.KindTransientBackend, fmt.Errorf("mongodb list jobs decode: %w", err))
	}
	jobs := make([]*job.Job, len(docs))
	for i := range docs {
		jobs[i] = fromJobDocument(&docs[i])
	}
	return jobs, nil
}

// CASJobState implements backend.Store's compare-and-swap transition.
func (s *JobStore) CASJobState(ctx context.Context, tenantID, jobID string, from, to job.State, mutate func(*job.Job)) (bool, error) {
	current, err := s.GetJob(ctx, tenantID, jobID)
	if err != nil {
		return false, err
	}
	if current.State != from {
		return false, nil
	}
	current.State = to
	current.UpdatedAt = time.Now().UTC()
	if mutate != nil {
		mutate(current)
	}

	res, err := s.jobs.ReplaceOne(ctx, bson.M{"_id": jobID, "tenant_id": tenantID, "state": string(from)}, toJobDocument(current))
	if err != nil {
		return false, errs.Wrap(errs.KindTransientBackend, fmt.Errorf("mongodb cas job %q: %w", jobID, err))
	}
	return res.ModifiedCount == 1, nil
}

// ReapStaleRunning implements backend.Store.
func (s *JobStore) ReapStaleRunning(ctx context.Context, olderThan time.Time) ([]*job.Job, error) {
	cursor, err := s.jobs.Find(ctx, bson.M{"state": string(job.StateRunning), "visibility_deadline": bson.M{"$lt": olderThan}})
	if err != nil {
		return nil, errs.Wrap(errs.KindTransientBackend, fmt.Errorf("mongodb reap stale running: %w", err))
	}
	defer func() { _ = cursor.Close(ctx) }()
	var docs []jobDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errs.Wrap(errs.KindTransientBackend, fmt.Errorf("mongodb reap stale running decode: %w", err))
	}
	jobs := make([]*job.Job, len(docs))
	for i := range docs {
		jobs[i] = fromJobDocument(&docs[i])
	}
	return jobs, nil
}

// ReapOrphanedQueued implements backend.Store.
func (s *JobStore) ReapOrphanedQueued(ctx context.Context, olderThan time.Time) ([]*job.Job, error) {
	cursor, err := s.jobs.Find(ctx, bson.M{"state": string(job.StateQueued), "created_at": bson.M{"$lt": olderThan}})
	if err != nil {
		return nil, errs.Wrap(errs.KindTransientBackend, fmt.Errorf("mongodb reap orphaned queued: %w", err))
	}
	defer func() { _ = cursor.Close(ctx) }()
	var docs []jobDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errs.Wrap(errs.KindTransientBackend, fmt.Errorf("mongodb reap orphaned queued decode: %w", err))
	}
	jobs := make([]*job.Job, len(docs))
	for i := range docs {
		jobs[i] = fromJobDocument(&docs[i])
	}
	return jobs, nil
}

// ConductorStore implements conductor.Store against "runs", "node_executions",
// and "decisions" collections.
type ConductorStore struct {
	runs       *mongo.Collection
	executions *mongo.Collection
	decisions  *mongo.Collection
}

var _ conductor.Store = (*ConductorStore)(nil)

// NewConductorStore builds a ConductorStore using the provided collections.
func NewConductorStore(runs, executions, decisions *mongo.Collection) (*ConductorStore, error) {
	if runs == nil || executions == nil || decisions == nil {
		return nil, errs.New(errs.KindValidation, "runs, executions, and decisions collections are all required")
	}
	return &ConductorStore{runs: runs, executions: executions, decisions: decisions}, nil
}

type runDocument struct {
	ID          string         `bson:"_id"`
	WorkflowID  string         `bson:"workflow_id"`
	TenantID    string         `bson:"tenant_id"`
	Status      string         `bson:"status"`
	Phase       string         `bson:"phase,omitempty"`
	Input       map[string]any `bson:"input,omitempty"`
	Output      map[string]any `bson:"output,omitempty"`
	Context     map[string]any `bson:"context,omitempty"`
	TotalNodes  int            `bson:"total_nodes"`
	Completed   int            `bson:"completed"`
	Failed      int            `bson:"failed"`
	StartedAt   time.Time      `bson:"started_at"`
	CompletedAt time.Time      `bson:"completed_at,omitempty"`
}

// SaveRun implements conductor.Store.
func (s *ConductorStore) SaveRun(ctx context.Context, run *conductor.Run) error {
	doc := runDocument{
		ID: run.ID, WorkflowID: run.WorkflowID, TenantID: run.TenantID,
		Status: string(run.Status), Phase: run.Phase, Input: run.Input, Output: run.Output,
		Context: run.Context, TotalNodes: run.TotalNodes, Completed: run.Completed,
		Failed: run.Failed, StartedAt: run.StartedAt, CompletedAt: run.CompletedAt,
	}
	opts := options.Replace().SetUpsert(true)
	_, err := s.runs.ReplaceOne(ctx, bson.M{"_id": run.ID}, doc, opts)
	if err != nil {
		return errs.Wrap(errs.KindTransientBackend, fmt.Errorf("mongodb save run %q: %w", run.ID, err))
	}
	return nil
}

type nodeExecutionDocument struct {
	ID            string              `bson:"_id"`
	RunID         string              `bson:"run_id"`
	WorkflowID    string              `bson:"workflow_id"`
	NodeID        string              `bson:"node_id"`
	NodeKind      string              `bson:"node_kind"`
	AgentID       string              `bson:"agent_id,omitempty"`
	SessionID     string              `bson:"session_id,omitempty"`
	Prompt        string              `bson:"prompt,omitempty"`
	PromptHash    string              `bson:"prompt_hash"`
	Status        string              `bson:"status"`
	ResultJSON    []byte              `bson:"result_json,omitempty"`
	ResultText    string              `bson:"result_text,omitempty"`
	Findings      []conductor.Finding `bson:"findings,omitempty"`
	FilesModified []string            `bson:"files_modified,omitempty"`
	DurationMS    int64               `bson:"duration_ms"`
	TokenCount    int                 `bson:"token_count"`
	RetryCount    int                 `bson:"retry_count"`
	ErrorMessage  string              `bson:"error_message,omitempty"`
	ErrorKind     string              `bson:"error_kind,omitempty"`
}

// SaveNodeExecution implements conductor.Store.
func (s *ConductorStore) SaveNodeExecution(ctx context.Context, exec *conductor.NodeExecution) error {
	doc := nodeExecutionDocument{
		ID: exec.ID, RunID: exec.RunID, WorkflowID: exec.WorkflowID, NodeID: exec.NodeID, NodeKind: string(exec.NodeKind),
		AgentID: exec.AgentID, SessionID: exec.SessionID, Prompt: exec.Prompt, PromptHash: exec.PromptHash,
		Status: string(exec.Status), ResultJSON: exec.ResultJSON, ResultText: exec.ResultText,
		Findings: exec.Findings, FilesModified: exec.FilesModified, DurationMS: exec.DurationMS,
		TokenCount: exec.TokenCount, RetryCount: exec.RetryCount, ErrorMessage: exec.ErrorMessage,
		ErrorKind: exec.ErrorKind,
	}
	opts := options.Replace().SetUpsert(true)
	_, err := s.executions.ReplaceOne(ctx, bson.M{"_id": exec.ID}, doc, opts)
	if err != nil {
		return errs.Wrap(errs.KindTransientBackend, fmt.Errorf("mongodb save node execution %q: %w", exec.ID, err))
	}
	return nil
}

type decisionDocument struct {
	RunID     string         `bson:"run_id"`
	Kind      string         `bson:"kind"`
	Data      map[string]any `bson:"data,omitempty"`
	Reason    string         `bson:"reason,omitempty"`
	CreatedAt time.Time      `bson:"created_at"`
}

// SaveDecision implements conductor.Store. Decisions are append-only, so
// each call inserts a new document rather than upserting.
func (s *ConductorStore) SaveDecision(ctx context.Context, d *conductor.Decision) error {
	doc := decisionDocument{RunID: d.RunID, Kind: string(d.Kind), Data: d.Data, Reason: d.Reason, CreatedAt: d.CreatedAt}
	if _, err := s.decisions.InsertOne(ctx, doc); err != nil {
		return errs.Wrap(errs.KindTransientBackend, fmt.Errorf("mongodb save decision for run %q: %w", d.RunID, err))
	}
	return nil
}

// FindCompletedByPromptHash implements conductor.Store's cache/dedup lookup
// (spec §4.4 step 6, §8 scenario 4). Scoped by workflow_id+node_id+
// prompt_hash rather than run_id, so a resubmitted workflow run (a fresh
// run.ID every time) can still hit a previous run's completed execution.
func (s *ConductorStore) FindCompletedByPromptHash(ctx context.Context, workflowID, nodeID, hash string) (*conductor.NodeExecution, bool, error) {
	var doc nodeExecutionDocument
	err := s.executions.FindOne(ctx, bson.M{
		"workflow_id": workflowID, "node_id": nodeID, "prompt_hash": hash, "status": string(conductor.NodeCompleted),
	}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.Wrap(errs.KindTransientBackend, fmt.Errorf("mongodb find completed by prompt hash: %w", err))
	}
	return &conductor.NodeExecution{
		ID: doc.ID, RunID: doc.RunID, WorkflowID: doc.WorkflowID, NodeID: doc.NodeID, NodeKind: conductor.NodeKind(doc.NodeKind),
		AgentID: doc.AgentID, SessionID: doc.SessionID, Prompt: doc.Prompt, PromptHash: doc.PromptHash,
		Status: conductor.NodeExecStatus(doc.Status), ResultJSON: doc.ResultJSON, ResultText: doc.ResultText,
		Findings: doc.Findings, FilesModified: doc.FilesModified, DurationMS: doc.DurationMS,
		TokenCount: doc.TokenCount, RetryCount: doc.RetryCount, ErrorMessage: doc.ErrorMessage, ErrorKind: doc.ErrorKind,
	}, true, nil
}

// ListRunsByTenant returns the run ids belonging to tenantID, most recent
// first. Backs the "List agents (swarm)" HTTP capability (spec §6), which
// reports per-run blackboard summaries scoped to the caller's tenant.
func (s *ConductorStore) ListRunsByTenant(ctx context.Context, tenantID string) ([]string, error) {
	opts := options.Find().SetSort(bson.M{"started_at": -1}).SetProjection(bson.M{"_id": 1})
	cur, err := s.runs.Find(ctx, bson.M{"tenant_id": tenantID}, opts)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransientBackend, fmt.Errorf("mongodb list runs for tenant %q: %w", tenantID, err))
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, errs.Wrap(errs.KindPermanentBackend, fmt.Errorf("mongodb decode run id: %w", err))
		}
		ids = append(ids, doc.ID)
	}
	if err := cur.Err(); err != nil {
		return nil, errs.Wrap(errs.KindTransientBackend, fmt.Errorf("mongodb list runs cursor: %w", err))
	}
	return ids, nil
}

// ListDecisionsByRun returns runID's append-only decision trail in
// chronological order. Backs the jobctl-conductor audit CLI surface (spec
// §4 "Decision audit reader").
func (s *ConductorStore) ListDecisionsByRun(ctx context.Context, runID string) ([]*conductor.Decision, error) {
	opts := options.Find().SetSort(bson.M{"created_at": 1})
	cur, err := s.decisions.Find(ctx, bson.M{"run_id": runID}, opts)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransientBackend, fmt.Errorf("mongodb list decisions for run %q: %w", runID, err))
	}
	defer cur.Close(ctx)

	var out []*conductor.Decision
	for cur.Next(ctx) {
		var doc decisionDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, errs.Wrap(errs.KindPermanentBackend, fmt.Errorf("mongodb decode decision: %w", err))
		}
		out = append(out, &conductor.Decision{
			RunID: doc.RunID, Kind: conductor.DecisionKind(doc.Kind),
			Data: doc.Data, Reason: doc.Reason, CreatedAt: doc.CreatedAt,
		})
	}
	if err := cur.Err(); err != nil {
		return nil, errs.Wrap(errs.KindTransientBackend, fmt.Errorf("mongodb list decisions cursor: %w", err))
	}
	return out, nil
}
