package node

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobctl/jobctl/runtime/conductor"
	"github.com/jobctl/jobctl/runtime/executor"
)

type fakeStrategy struct {
	fn func(ctx *executor.Context, payload []byte) (executor.Result, error)
}

func (f fakeStrategy) Execute(ctx *executor.Context, payload []byte) (executor.Result, error) {
	return f.fn(ctx, payload)
}

func TestRunner_RunSingle_ParsesFindings(t *testing.T) {
	strategy := fakeStrategy{fn: func(ctx *executor.Context, payload []byte) (executor.Result, error) {
		return executor.Result{ResultText: "[fact] it works"}, nil
	}}
	r, err := New(Options{Strategy: strategy})
	require.NoError(t, err)

	run := &conductor.Run{ID: "run-1", TenantID: "acme"}
	n := conductor.Node{ID: "plan", Kind: conductor.KindSingle}
	exec := &conductor.NodeExecution{Prompt: "do the thing"}

	err = r.RunNode(context.Background(), run, n, exec)
	require.NoError(t, err)
	require.Len(t, exec.Findings, 1)
	assert.Equal(t, "it works", exec.Findings[0].Content)
}

func TestRunner_RunParallel_AggregatesShards(t *testing.T) {
	strategy := fakeStrategy{fn: func(ctx *executor.Context, payload []byte) (executor.Result, error) {
		return executor.Result{FilesModified: []string{ctx.NodeID + ".go"}}, nil
	}}
	r, err := New(Options{Strategy: strategy})
	require.NoError(t, err)

	run := &conductor.Run{ID: "run-2", TenantID: "acme"}
	n := conductor.Node{ID: "fanout", Kind: conductor.KindParallel, Config: conductor.NodeConfig{Concurrency: 3}}
	exec := &conductor.NodeExecution{Prompt: "shard work"}

	err = r.RunNode(context.Background(), run, n, exec)
	require.NoError(t, err)
	assert.Len(t, exec.FilesModified, 3)
}

func TestRunner_RunParallel_FailsFastWithoutBestEffort(t *testing.T) {
	strategy := fakeStrategy{fn: func(ctx *executor.Context, payload []byte) (executor.Result, error) {
		return executor.Result{}, assertErr("boom")
	}}
	r, err := New(Options{Strategy: strategy})
	require.NoError(t, err)

	run := &conductor.Run{ID: "run-3", TenantID: "acme"}
	n := conductor.Node{ID: "fanout", Kind: conductor.KindParallel, Config: conductor.NodeConfig{Concurrency: 2}}
	exec := &conductor.NodeExecution{Prompt: "shard work"}

	err = r.RunNode(context.Background(), run, n, exec)
	assert.Error(t, err)
}

func TestRunner_RunSwarm_RegistersRolesAndAggregates(t *testing.T) {
	dir := t.TempDir()
	strategy := fakeStrategy{fn: func(ctx *executor.Context, payload []byte) (executor.Result, error) {
		return executor.Result{Findings: []executor.Finding{{Kind: "fact", Content: ctx.NodeID + " says hi"}}}, nil
	}}
	r, err := New(Options{Strategy: strategy, BlackboardRoot: dir})
	require.NoError(t, err)

	run := &conductor.Run{ID: "run-4", TenantID: "acme"}
	n := conductor.Node{ID: "swarm1", Kind: conductor.KindSwarm, Config: conductor.NodeConfig{Roles: []string{"reviewer", "tester"}}}
	exec := &conductor.NodeExecution{Prompt: "coordinate"}

	err = r.RunNode(context.Background(), run, n, exec)
	require.NoError(t, err)
	assert.Len(t, exec.Findings, 2)
}

type assertErrT string

func (e assertErrT) Error() string { return string(e) }

func assertErr(msg string) error { return assertErrT(msg) }
