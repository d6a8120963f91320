package conductor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jobctl/jobctl/runtime/errs"
	"github.com/jobctl/jobctl/runtime/telemetry"
)

// NodeRunner executes one node firing and returns its outcome. Implemented
// by runtime/node for the single/parallel/swarm kinds; kept as an interface
// here so the run loop stays agnostic to node-kind internals (spec §4.4
// step 3 "Parallel and swarm kinds internally fan out").
type NodeRunner interface {
	RunNode(ctx context.Context, run *Run, node Node, exec *NodeExecution) error
}

// Store persists run and node-execution state. A minimal slice of
// runtime/backend.Store's responsibilities, scoped to workflow-run records.
type Store interface {
	SaveRun(ctx context.Context, run *Run) error
	SaveNodeExecution(ctx context.Context, exec *NodeExecution) error
	SaveDecision(ctx context.Context, d *Decision) error

	// FindCompletedByPromptHash looks up a prior completed node execution for
	// the same workflow/node/rendered-prompt combination, scoped across runs
	// (not just the current one) so a resubmitted workflow with identical
	// input can reuse a previous agent invocation (spec §8 scenario 4).
	FindCompletedByPromptHash(ctx context.Context, workflowID, nodeID, hash string) (*NodeExecution, bool, error)
}

// Options configures an Engine.
type Options struct {
	Runner      NodeRunner
	Store       Store
	Concurrency int
	Log         telemetry.Logger
	IDGen       func() string
}

// Engine drives one workflow run to completion (spec §4.4).
type Engine struct {
	opts Options
}

// New builds an Engine with spec-reasonable defaults.
func New(opts Options) (*Engine, error) {
	if opts.Runner == nil {
		return nil, errs.New(errs.KindValidation, "node runner is required")
	}
	if opts.Store == nil {
		return nil, errs.New(errs.KindValidation, "store is required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Log == nil {
		opts.Log = telemetry.NoOp{}
	}
	return &Engine{opts: opts}, nil
}

// readyItem is one node queued to fire, ordered by the firing incoming
// edge's priority.
type readyItem struct {
	nodeID   string
	priority int
}

// Execute runs wf to completion, mutating run in place and persisting it and
// every node execution/decision along the way.
func (e *Engine) Execute(ctx context.Context, wf *Workflow, run *Run) error {
	run.Status = RunRunning
	run.StartedAt = time.Now().UTC()
	if run.Context == nil {
		run.Context = make(map[string]any)
	}
	if err := e.opts.Store.SaveRun(ctx, run); err != nil {
		return errs.Wrap(errs.KindTransientBackend, err)
	}

	fired := make(map[string]struct{}) // nodes already fired this run, so fan-out never refires a node id
	ready, _ := e.expand(ctx, wf, StartSentinel, run, fired)

	for len(ready) > 0 {
		select {
		case <-ctx.Done():
			run.Status = RunCancelled
			run.CompletedAt = time.Now().UTC()
			_ = e.opts.Store.SaveRun(ctx, run)
			return ctx.Err()
		default:
		}

		batch := ready
		if len(batch) > e.opts.Concurrency {
			batch = batch[:e.opts.Concurrency]
		}
		ready = ready[len(batch):]

		results := e.fireBatch(ctx, wf, run, batch)

		var endFired bool
		for _, r := range results {
			next, reachedEnd := e.handleOutcome(ctx, wf, run, r, fired)
			ready = append(ready, next...)
			if reachedEnd {
				endFired = true
			}
		}
		sort.SliceStable(ready, func(i, j int) bool { return ready[i].priority < ready[j].priority })

		if err := e.opts.Store.SaveRun(ctx, run); err != nil {
			e.opts.Log.Warn(ctx, "conductor: save run failed", "run_id", run.ID, "err", err)
		}
		if endFired {
			break
		}
	}

	if run.Status == RunRunning {
		if run.Failed > 0 {
			run.Status = RunFailed
		} else {
			run.Status = RunCompleted
		}
	}
	run.CompletedAt = time.Now().UTC()
	run.Output = run.Context
	if err := e.opts.Store.SaveRun(ctx, run); err != nil {
		return errs.Wrap(errs.KindTransientBackend, err)
	}
	return nil
}

type nodeOutcome struct {
	node Node
	exec *NodeExecution
}

// fireBatch runs every node in batch concurrently, respecting the engine's
// concurrency bound via the caller's batch slicing.
func (e *Engine) fireBatch(ctx context.Context, wf *Workflow, run *Run, batch []readyItem) []nodeOutcome {
	outcomes := make([]nodeOutcome, len(batch))
	var wg sync.WaitGroup
	for i, item := range batch {
		i, item := i, item
		wg.Add(1)
		go func() {
			defer wg.Done()
			node, ok := wf.NodeByID(item.nodeID)
			if !ok {
				return
			}
			exec := e.fireNode(ctx, wf, run, node)
			outcomes[i] = nodeOutcome{node: node, exec: exec}
		}()
	}
	wg.Wait()
	return outcomes
}

func (e *Engine) fireNode(ctx context.Context, wf *Workflow, run *Run, node Node) *NodeExecution {
	prompt := renderTemplate(node.PromptTemplate, run.Context)
	hash := PromptHash(prompt)

	if cached, ok, err := e.opts.Store.FindCompletedByPromptHash(ctx, wf.ID, node.ID, hash); err == nil && ok {
		// A cache hit is still a firing of this node for this run: it must
		// be recorded and folded into the run's context and bookkeeping
		// exactly like a freshly executed node (spec §8 invariant 3), just
		// without invoking the runner.
		exec := &NodeExecution{
			ID:            e.newID(),
			RunID:         run.ID,
			WorkflowID:    wf.ID,
			NodeID:        node.ID,
			NodeKind:      node.Kind,
			Prompt:        prompt,
			PromptHash:    hash,
			Status:        NodeCompleted,
			ResultJSON:    cached.ResultJSON,
			ResultText:    cached.ResultText,
			Findings:      cached.Findings,
			FilesModified: cached.FilesModified,
		}
		_ = e.opts.Store.SaveDecision(ctx, &Decision{RunID: run.ID, Kind: DecisionFireNode, Data: map[string]any{"node_id": node.ID, "cached": true}, CreatedAt: time.Now().UTC()})
		run.Completed++
		run.Context = MergeContext(run.Context, exec.Findings, exec.FilesModified)
		_ = e.opts.Store.SaveNodeExecution(ctx, exec)
		run.TotalNodes++
		return exec
	}

	exec := &NodeExecution{
		ID:         e.newID(),
		RunID:      run.ID,
		WorkflowID: wf.ID,
		NodeID:     node.ID,
		NodeKind:   node.Kind,
		Prompt:     prompt,
		PromptHash: hash,
		Status:     NodePending,
	}
	_ = e.opts.Store.SaveDecision(ctx, &Decision{RunID: run.ID, Kind: DecisionFireNode, Data: map[string]any{"node_id": node.ID}, CreatedAt: time.Now().UTC()})

	start := time.Now()
	exec.Status = NodeRunning
	err := e.opts.Runner.RunNode(ctx, run, node, exec)
	exec.DurationMS = time.Since(start).Milliseconds()

	if err != nil {
		exec.Status = NodeFailed
		exec.ErrorMessage = err.Error()
		exec.ErrorKind = string(errs.KindOf(err))
		run.Failed++
	} else {
		exec.Status = NodeCompleted
		run.Completed++
		run.Context = MergeContext(run.Context, exec.Findings, exec.FilesModified)
	}
	_ = e.opts.Store.SaveNodeExecution(ctx, exec)
	run.TotalNodes++
	return exec
}

// handleOutcome applies spec §4.4 step 4 (context merge already done in
// fireNode) and the failure policy of §4.4 "Failure policy", then expands
// outgoing edges. The second return value reports whether __end__ fired.
func (e *Engine) handleOutcome(ctx context.Context, wf *Workflow, run *Run, r nodeOutcome, fired map[string]struct{}) ([]readyItem, bool) {
	if r.exec == nil {
		return nil, false
	}
	if r.exec.Status == NodeFailed {
		node, _ := wf.NodeByID(r.node.ID)
		if node.Config.RetryBudget > r.exec.RetryCount {
			retryExec := *r.exec
			retryExec.ID = e.newID()
			retryExec.RetryCount++
			retryExec.Status = NodePending
			_ = e.opts.Store.SaveDecision(ctx, &Decision{RunID: run.ID, Kind: DecisionRetry, Data: map[string]any{"node_id": node.ID, "retry_count": retryExec.RetryCount}, CreatedAt: time.Now().UTC()})
			delete(fired, node.ID)
			return e.expand(ctx, wf, node.ID, run, fired)
		}

		var ready []readyItem
		for _, e2 := range wf.OutgoingEdges(r.node.ID) {
			if !e2.TolerateFailure {
				continue
			}
			fire, evalErr := Eval(mustParse(e2.Condition), run.Context)
			if evalErr != nil || !fire {
				continue
			}
			if e2.To == EndSentinel {
				return ready, true
			}
			ready = append(ready, e.expandTo(e2.To, fired)...)
		}
		if len(ready) == 0 {
			run.Status = RunFailed
			_ = e.opts.Store.SaveDecision(ctx, &Decision{RunID: run.ID, Kind: DecisionAbort, Reason: "node " + r.node.ID + " failed with no tolerant edges", CreatedAt: time.Now().UTC()})
		}
		return ready, false
	}

	return e.expand(ctx, wf, r.node.ID, run, fired)
}

// expand evaluates all outgoing edges of fromID and returns the set of
// downstream nodes whose conditions fire, recording skip_node decisions for
// the rest (spec §4.4 steps 1-2). The second return value reports whether
// __end__ fired.
func (e *Engine) expand(ctx context.Context, wf *Workflow, fromID string, run *Run, fired map[string]struct{}) ([]readyItem, bool) {
	var ready []readyItem
	var endFired bool
	for _, edge := range wf.OutgoingEdges(fromID) {
		expr, err := Parse(edge.Condition)
		if err != nil {
			continue
		}
		fire, evalErr := Eval(expr, run.Context)
		if evalErr != nil || !fire {
			_ = e.opts.Store.SaveDecision(ctx, &Decision{RunID: run.ID, Kind: DecisionSkipNode, Data: map[string]any{"to": edge.To}, CreatedAt: time.Now().UTC()})
			continue
		}
		if edge.To == EndSentinel {
			endFired = true
			continue
		}
		ready = append(ready, e.expandTo(edge.To, fired)...)
	}
	return ready, endFired
}

func (e *Engine) expandTo(nodeID string, fired map[string]struct{}) []readyItem {
	if _, ok := fired[nodeID]; ok {
		return nil
	}
	fired[nodeID] = struct{}{}
	return []readyItem{{nodeID: nodeID}}
}

func (e *Engine) newID() string {
	if e.opts.IDGen != nil {
		return e.opts.IDGen()
	}
	return PromptHash(time.Now().String())[:16]
}

func mustParse(src string) Expr {
	expr, err := Parse(src)
	if err != nil {
		return litExpr{false}
	}
	return expr
}
