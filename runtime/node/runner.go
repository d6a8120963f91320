package node

import (
	"context"
	"fmt"
	"sync"

	"github.com/jobctl/jobctl/runtime/backend"
	"github.com/jobctl/jobctl/runtime/blackboard"
	"github.com/jobctl/jobctl/runtime/conductor"
	"github.com/jobctl/jobctl/runtime/errs"
	"github.com/jobctl/jobctl/runtime/executor"
	"github.com/jobctl/jobctl/runtime/ident"
	"github.com/jobctl/jobctl/runtime/telemetry"
)

// Options configures a Runner.
type Options struct {
	Strategy       executor.Strategy
	Blob           backend.Blob
	BlackboardRoot string // directory for per-run blackboard files (swarm kind)
	Log            telemetry.Logger
}

// Runner implements conductor.NodeRunner, dispatching to the single,
// parallel, or swarm executor by node.Kind (spec §4.5).
type Runner struct {
	opts Options
}

// New builds a Runner.
func New(opts Options) (*Runner, error) {
	if opts.Strategy == nil {
		return nil, errs.New(errs.KindValidation, "executor strategy is required")
	}
	if opts.Log == nil {
		opts.Log = telemetry.NoOp{}
	}
	return &Runner{opts: opts}, nil
}

// RunNode implements conductor.NodeRunner.
func (r *Runner) RunNode(ctx context.Context, run *conductor.Run, n conductor.Node, exec *conductor.NodeExecution) error {
	switch n.Kind {
	case conductor.KindSingle:
		return r.runSingle(ctx, run, n, exec)
	case conductor.KindParallel:
		return r.runParallel(ctx, run, n, exec)
	case conductor.KindSwarm:
		return r.runSwarm(ctx, run, n, exec)
	default:
		return errs.New(errs.KindValidation, "unknown node kind "+string(n.Kind))
	}
}

// runSingle implements spec §4.5 "Single": validate the node_id/agent_type
// pair, spawn one agent, parse findings from its output.
func (r *Runner) runSingle(ctx context.Context, run *conductor.Run, n conductor.Node, exec *conductor.NodeExecution) error {
	nodeID, err := ident.Validate(n.ID, ident.KindNode)
	if err != nil {
		return errs.Wrap(errs.KindSecurity, err)
	}

	execCtx := executor.NewContext(ctx, executor.ContextParams{
		JobID:    run.ID,
		TenantID: run.TenantID,
		NodeID:   nodeID,
		Blob:     r.opts.Blob,
	})
	result, err := r.opts.Strategy.Execute(execCtx, []byte(exec.Prompt))
	if err != nil {
		return err
	}
	exec.ResultJSON = result.ResultJSON
	exec.ResultText = result.ResultText
	exec.FilesModified = result.FilesModified
	exec.Findings = append(result.Findings, ParseFindings(result.ResultText)...)
	return nil
}

// runParallel implements spec §4.5 "Parallel": spawn N agents concurrently
// with a sharding hint, wait for all, cancel the rest on any failure unless
// the node is configured best-effort.
func (r *Runner) runParallel(ctx context.Context, run *conductor.Run, n conductor.Node, exec *conductor.NodeExecution) error {
	shards := n.Config.Concurrency
	if shards <= 0 {
		shards = 1
	}
	nodeID, err := ident.Validate(n.ID, ident.KindNode)
	if err != nil {
		return errs.Wrap(errs.KindSecurity, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type shardResult struct {
		result executor.Result
		err    error
	}
	results := make(chan shardResult, shards)
	for i := 1; i <= shards; i++ {
		shardID, err := ident.Validate(conductor.DeriveNodeID(nodeID, fmt.Sprintf("p%d", i)), ident.KindNode)
		if err != nil {
			results <- shardResult{err: errs.Wrap(errs.KindSecurity, err)}
			continue
		}
		prompt := fmt.Sprintf("%s\n\n[shard %d of %d]", exec.Prompt, i, shards)
		go func(shardID, prompt string) {
			execCtx := executor.NewContext(runCtx, executor.ContextParams{
				JobID:    run.ID,
				TenantID: run.TenantID,
				NodeID:   shardID,
				Blob:     r.opts.Blob,
			})
			res, err := r.opts.Strategy.Execute(execCtx, []byte(prompt))
			results <- shardResult{result: res, err: err}
		}(shardID, prompt)
	}

	var failures []error
	for i := 0; i < shards; i++ {
		sr := <-results
		if sr.err != nil {
			failures = append(failures, sr.err)
			if !n.Config.BestEffort {
				cancel()
			}
			continue
		}
		exec.Findings = append(exec.Findings, sr.result.Findings...)
		exec.FilesModified = append(exec.FilesModified, sr.result.FilesModified...)
	}

	if len(failures) > 0 && !n.Config.BestEffort {
		return errs.New(errs.KindHandler, fmt.Sprintf("%d of %d shards failed, first: %v", len(failures), shards, failures[0]))
	}
	return nil
}

// runSwarm implements spec §4.5 "Swarm": create a fresh blackboard, register
// one agent per role, spawn them concurrently, then wait for all agents to
// reach a terminal state (or ctx to cancel, e.g. via the watcher).
func (r *Runner) runSwarm(ctx context.Context, run *conductor.Run, n conductor.Node, exec *conductor.NodeExecution) error {
	if r.opts.BlackboardRoot == "" {
		return errs.New(errs.KindValidation, "blackboard root not configured for swarm node")
	}
	nodeID, err := ident.Validate(n.ID, ident.KindNode)
	if err != nil {
		return errs.Wrap(errs.KindSecurity, err)
	}
	if len(n.Config.Roles) == 0 {
		return errs.New(errs.KindValidation, "swarm node "+nodeID+" has no roles configured")
	}

	bb, err := blackboard.Create(r.opts.BlackboardRoot, run.ID)
	if err != nil {
		return errs.Wrap(errs.KindPermanentBackend, err)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(n.Config.Roles))
	for _, role := range n.Config.Roles {
		roleNodeID, err := ident.Validate(conductor.DeriveNodeID(nodeID, role), ident.KindNode)
		if err != nil {
			return errs.Wrap(errs.KindSecurity, err)
		}
		if err := bb.RegisterAgent(roleNodeID, role, []string{role}); err != nil {
			return errs.Wrap(errs.KindPermanentBackend, err)
		}
		wg.Add(1)
		go func(roleNodeID, role string) {
			defer wg.Done()
			prompt := fmt.Sprintf("%s\n\n[role: %s]\n[blackboard: %s]", exec.Prompt, role, bb.Path())
			execCtx := executor.NewContext(ctx, executor.ContextParams{
				JobID:    run.ID,
				TenantID: run.TenantID,
				NodeID:   roleNodeID,
				Blob:     r.opts.Blob,
			})
			result, err := r.opts.Strategy.Execute(execCtx, []byte(prompt))
			if err != nil {
				_ = bb.MarkFailed(roleNodeID)
				errCh <- err
				return
			}
			for _, f := range result.Findings {
				_ = bb.AddFinding(roleNodeID, f.Kind, f.Content, f.Files, "medium", nil)
			}
			_ = bb.MarkCompleted(roleNodeID)
		}(roleNodeID, role)
	}
	wg.Wait()
	close(errCh)

	snapshot, err := bb.Snapshot()
	if err == nil {
		for _, f := range snapshot.Findings {
			exec.Findings = append(exec.Findings, conductor.Finding{Kind: f.Kind, Content: f.Content, Files: f.Files})
		}
	}

	var failures int
	for range errCh {
		failures++
	}
	if failures > 0 && !n.Config.BestEffort {
		return errs.New(errs.KindHandler, fmt.Sprintf("%d swarm agents failed", failures))
	}
	return nil
}
