// Package actuator implements runtime/watcher.Reassigner: the tier-2
// escalation actions a run's blackboard agent states (spec §4.7, §8
// invariant 6 "only tier-2 mutates blackboard agent state"). Each action
// mutates the blackboard directly and records an audit Decision through
// conductor.Store, the same append-only trail the conductor's own fire/skip/
// retry decisions go through (spec §4.4).
package actuator

import (
	"context"
	"time"

	"github.com/jobctl/jobctl/runtime/blackboard"
	"github.com/jobctl/jobctl/runtime/conductor"
	"github.com/jobctl/jobctl/runtime/errs"
	"github.com/jobctl/jobctl/runtime/telemetry"
)

// Options configures an Actuator.
type Options struct {
	BlackboardRoot string
	Store          conductor.Store
	Log            telemetry.Logger
}

// Actuator implements watcher.Reassigner.
type Actuator struct {
	opts Options
}

// New validates opts and builds an Actuator.
func New(opts Options) (*Actuator, error) {
	if opts.BlackboardRoot == "" {
		return nil, errs.New(errs.KindValidation, "blackboard root is required")
	}
	if opts.Store == nil {
		return nil, errs.New(errs.KindValidation, "store is required")
	}
	if opts.Log == nil {
		opts.Log = telemetry.NoOp{}
	}
	return &Actuator{opts: opts}, nil
}

func (a *Actuator) record(ctx context.Context, runID string, kind conductor.DecisionKind, data map[string]any, reason string) {
	err := a.opts.Store.SaveDecision(ctx, &conductor.Decision{
		RunID: runID, Kind: kind, Data: data, Reason: reason, CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		a.opts.Log.Warn(ctx, "actuator: decision record failed", "run_id", runID, "err", err)
	}
}

// Restart implements watcher.Reassigner: re-activates a stale agent in
// place by refreshing its heartbeat, so tier-1 no longer counts it as stale
// (spec §4.7 escalation action "restart"). The agent's process is not
// respawned.
func (a *Actuator) Restart(ctx context.Context, runID, agentID string) error {
	board, err := blackboard.Open(a.opts.BlackboardRoot, runID)
	if err != nil {
		return err
	}
	if err := board.Heartbeat(agentID); err != nil {
		return err
	}
	a.record(ctx, runID, conductor.DecisionRetry, map[string]any{"agent_id": agentID}, "tier-2 restart")
	return nil
}

// Reassign implements watcher.Reassigner: marks the agent failed, then
// registers a fresh agent id carrying the same interests forward (spec
// §4.7 "reassign"). Claim chains the old agent holds are not released; they
// stay active until their TTL lapses.
func (a *Actuator) Reassign(ctx context.Context, runID, agentID string) error {
	board, err := blackboard.Open(a.opts.BlackboardRoot, runID)
	if err != nil {
		return err
	}
	doc, err := board.Snapshot()
	if err != nil {
		return err
	}
	stale, ok := doc.Agents[agentID]
	if !ok {
		return errs.New(errs.KindNotFound, "agent "+agentID+" not registered")
	}
	if err := board.MarkFailed(agentID); err != nil {
		return err
	}
	replacementID := agentID + "-r"
	if err := board.RegisterAgent(replacementID, stale.Task, stale.Interests); err != nil {
		return err
	}
	a.record(ctx, runID, conductor.DecisionRetry, map[string]any{
		"agent_id": agentID, "replacement_id": replacementID,
	}, "tier-2 reassign")
	return nil
}

// Synthesize implements watcher.Reassigner: queues a synthesis task so the
// swarm wraps up from partial findings instead of waiting on stalled agents
// (spec §4.7 "synthesize").
func (a *Actuator) Synthesize(ctx context.Context, runID string) error {
	board, err := blackboard.Open(a.opts.BlackboardRoot, runID)
	if err != nil {
		return err
	}
	if err := board.AddFinding("tier2-watcher", "decision", "synthesis requested: wrapping up from partial findings", nil, "high", nil); err != nil {
		return err
	}
	a.record(ctx, runID, conductor.DecisionPhaseChange, nil, "tier-2 synthesize")
	return nil
}

// Abort implements watcher.Reassigner: marks every active agent failed so
// the run's node executor observes no remaining active agents and winds
// down (spec §4.7 "abort").
func (a *Actuator) Abort(ctx context.Context, runID string) error {
	board, err := blackboard.Open(a.opts.BlackboardRoot, runID)
	if err != nil {
		return err
	}
	doc, err := board.Snapshot()
	if err != nil {
		return err
	}
	for agentID, agent := range doc.Agents {
		if agent.State != blackboard.AgentActive {
			continue
		}
		if err := board.MarkFailed(agentID); err != nil {
			return err
		}
	}
	a.record(ctx, runID, conductor.DecisionAbort, nil, "tier-2 abort")
	return nil
}

// EscalateHuman implements watcher.Reassigner: the actuator has no paging
// integration of its own, so this only logs loudly and records the
// decision; an operator reads it from the escalation signal file the
// watcher already wrote (spec §6 "Escalation signal file").
func (a *Actuator) EscalateHuman(ctx context.Context, runID, reason string) error {
	a.opts.Log.Error(ctx, "run escalated to a human operator", "run_id", runID, "reason", reason)
	a.record(ctx, runID, conductor.DecisionAbort, map[string]any{"escalated_human": true}, reason)
	return nil
}
