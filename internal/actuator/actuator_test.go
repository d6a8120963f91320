package actuator

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobctl/jobctl/runtime/blackboard"
	"github.com/jobctl/jobctl/runtime/conductor"
)

type memDecisionStore struct {
	mu        sync.Mutex
	decisions []*conductor.Decision
}

func (s *memDecisionStore) SaveRun(context.Context, *conductor.Run) error                 { return nil }
func (s *memDecisionStore) SaveNodeExecution(context.Context, *conductor.NodeExecution) error { return nil }
func (s *memDecisionStore) FindCompletedByPromptHash(context.Context, string, string, string) (*conductor.NodeExecution, bool, error) {
	return nil, false, nil
}
func (s *memDecisionStore) SaveDecision(_ context.Context, d *conductor.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, d)
	return nil
}

func newTestActuator(t *testing.T, store conductor.Store) (*Actuator, string) {
	t.Helper()
	root := t.TempDir()
	a, err := New(Options{BlackboardRoot: root, Store: store})
	require.NoError(t, err)

	_, err = blackboard.Create(root, "run1")
	require.NoError(t, err)
	board, err := blackboard.Open(root, "run1")
	require.NoError(t, err)
	require.NoError(t, board.RegisterAgent("agent1", "scan repo", []string{"src/"}))
	return a, root
}

func TestRestart_HeartbeatsAgent(t *testing.T) {
	store := &memDecisionStore{}
	a, _ := newTestActuator(t, store)

	require.NoError(t, a.Restart(t.Context(), "run1", "agent1"))
	assert.Len(t, store.decisions, 1)
	assert.Equal(t, conductor.DecisionRetry, store.decisions[0].Kind)
}

func TestReassign_MarksOldFailedAndRegistersReplacement(t *testing.T) {
	store := &memDecisionStore{}
	a, root := newTestActuator(t, store)

	require.NoError(t, a.Reassign(t.Context(), "run1", "agent1"))

	board, err := blackboard.Open(root, "run1")
	require.NoError(t, err)
	doc, err := board.Snapshot()
	require.NoError(t, err)

	assert.Equal(t, blackboard.AgentFailed, doc.Agents["agent1"].State)
	require.Contains(t, doc.Agents, "agent1-r")
	assert.Equal(t, blackboard.AgentActive, doc.Agents["agent1-r"].State)
	assert.Equal(t, []string{"src/"}, doc.Agents["agent1-r"].Interests)
}

func TestAbort_FailsOnlyActiveAgents(t *testing.T) {
	store := &memDecisionStore{}
	a, root := newTestActuator(t, store)

	board, err := blackboard.Open(root, "run1")
	require.NoError(t, err)
	require.NoError(t, board.RegisterAgent("agent2", "analyze", nil))
	require.NoError(t, board.MarkCompleted("agent2"))

	require.NoError(t, a.Abort(t.Context(), "run1"))

	doc, err := board.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, blackboard.AgentFailed, doc.Agents["agent1"].State)
	assert.Equal(t, blackboard.AgentCompleted, doc.Agents["agent2"].State, "already-completed agents are untouched")
}

func TestSynthesize_AddsFinding(t *testing.T) {
	store := &memDecisionStore{}
	a, root := newTestActuator(t, store)

	require.NoError(t, a.Synthesize(t.Context(), "run1"))

	board, err := blackboard.Open(root, "run1")
	require.NoError(t, err)
	doc, err := board.Snapshot()
	require.NoError(t, err)
	require.Len(t, doc.Findings, 1)
	assert.Equal(t, "decision", doc.Findings[0].Kind)
}

func TestEscalateHuman_RecordsDecisionWithoutError(t *testing.T) {
	store := &memDecisionStore{}
	a, _ := newTestActuator(t, store)

	require.NoError(t, a.EscalateHuman(t.Context(), "run1", "repeated tool failures"))
	require.Len(t, store.decisions, 1)
	assert.Equal(t, "repeated tool failures", store.decisions[0].Reason)
}
