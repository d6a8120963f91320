package conductor

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu         sync.Mutex
	runs       map[string]*Run
	execs      []*NodeExecution
	decisions  []*Decision
}

func newMemStore() *memStore {
	return &memStore{runs: make(map[string]*Run)}
}

func (s *memStore) SaveRun(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

func (s *memStore) SaveNodeExecution(_ context.Context, exec *NodeExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs = append(s.execs, exec)
	return nil
}

func (s *memStore) SaveDecision(_ context.Context, d *Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, d)
	return nil
}

func (s *memStore) FindCompletedByPromptHash(_ context.Context, workflowID, nodeID, hash string) (*NodeExecution, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.execs {
		if e.WorkflowID == workflowID && e.NodeID == nodeID && e.PromptHash == hash && e.Status == NodeCompleted {
			cp := *e
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

// succeedRunner always completes a node with a findings payload.
type succeedRunner struct{}

func (succeedRunner) RunNode(_ context.Context, _ *Run, node Node, exec *NodeExecution) error {
	exec.Findings = []Finding{{Kind: "fact", Content: node.ID + " done"}}
	exec.FilesModified = []string{node.ID + ".go"}
	return nil
}

func TestEngine_Execute_LinearWorkflowCompletes(t *testing.T) {
	wf := validWorkflow()
	require.NoError(t, wf.Validate())

	store := newMemStore()
	eng, err := New(Options{Runner: succeedRunner{}, Store: store, IDGen: sequentialIDs()})
	require.NoError(t, err)

	run := &Run{ID: "run-1", WorkflowID: wf.Name, TenantID: "acme"}
	err = eng.Execute(context.Background(), wf, run)
	require.NoError(t, err)

	assert.Equal(t, RunCompleted, run.Status)
	assert.Equal(t, 2, run.Completed)
	assert.Equal(t, 0, run.Failed)
	assert.Len(t, store.execs, 2)
}

type failThenToleratedRunner struct{}

func (failThenToleratedRunner) RunNode(_ context.Context, _ *Run, node Node, exec *NodeExecution) error {
	return assertError(node.ID)
}

func assertError(id string) error {
	return &testError{id}
}

type testError struct{ id string }

func (e *testError) Error() string { return "node " + e.id + " failed" }

func TestEngine_Execute_FailureWithNoTolerantEdgeFailsRun(t *testing.T) {
	wf := validWorkflow()
	require.NoError(t, wf.Validate())

	store := newMemStore()
	eng, err := New(Options{Runner: failThenToleratedRunner{}, Store: store, IDGen: sequentialIDs()})
	require.NoError(t, err)

	run := &Run{ID: "run-2", WorkflowID: wf.Name, TenantID: "acme"}
	_ = eng.Execute(context.Background(), wf, run)

	assert.Equal(t, RunFailed, run.Status)
	assert.GreaterOrEqual(t, run.Failed, 1)
}

// countingSucceedRunner behaves like succeedRunner but records how many
// times it was actually invoked, so a cache-hit path can be distinguished
// from a re-executed one.
type countingSucceedRunner struct{ calls *int }

func (r countingSucceedRunner) RunNode(_ context.Context, _ *Run, node Node, exec *NodeExecution) error {
	*r.calls++
	exec.Findings = []Finding{{Kind: "fact", Content: node.ID + " done"}}
	exec.FilesModified = []string{node.ID + ".go"}
	return nil
}

func TestEngine_Execute_ResubmittedWorkflowReusesCompletedNodeAcrossRuns(t *testing.T) {
	wf := validWorkflow()
	wf.ID = "review-pipeline-v1"
	require.NoError(t, wf.Validate())

	store := newMemStore()
	calls := 0
	eng, err := New(Options{Runner: countingSucceedRunner{calls: &calls}, Store: store, IDGen: sequentialIDs()})
	require.NoError(t, err)

	run1 := &Run{ID: "run-1", WorkflowID: wf.ID, TenantID: "acme"}
	require.NoError(t, eng.Execute(context.Background(), wf, run1))
	require.Equal(t, 2, calls)
	firstRunExecCount := len(store.execs)

	// A second, independent run of the same workflow with the same input
	// renders identical prompts; every node should hit the cache instead of
	// invoking the runner again (spec §8 scenario 4), while still recording
	// its own node executions and bookkeeping for this run.
	run2 := &Run{ID: "run-2", WorkflowID: wf.ID, TenantID: "acme"}
	require.NoError(t, eng.Execute(context.Background(), wf, run2))

	assert.Equal(t, 2, calls, "no new runner invocations; both nodes served from cache")
	assert.Equal(t, RunCompleted, run2.Status)
	assert.Equal(t, 2, run2.Completed)
	assert.Equal(t, 2, run2.TotalNodes)
	assert.Len(t, store.execs, firstRunExecCount*2)

	findings, _ := run2.Context["findings"].([]any)
	assert.NotEmpty(t, findings)
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return "id-" + string(rune('a'+n))
	}
}
