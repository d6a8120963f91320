package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jobctl/jobctl/runtime/blackboard"
	"github.com/jobctl/jobctl/runtime/errs"
	"github.com/jobctl/jobctl/runtime/telemetry"
)

// Reassigner mutates the blackboard to carry out a tier-2 decision. The
// watcher package only decides; the caller (conductor/dispatch glue) wires
// these callbacks to its own job-submission machinery (spec §4.7 tier-2
// "Executes the decision by mutating the blackboard ... and re-queueing its
// task").
type Reassigner interface {
	Restart(ctx context.Context, runID, agentID string) error
	Reassign(ctx context.Context, runID, agentID string) error
	Synthesize(ctx context.Context, runID string) error
	Abort(ctx context.Context, runID string) error
	EscalateHuman(ctx context.Context, runID, reason string) error
}

// Escalator is tier-2: reads a signal plus full context, chooses exactly
// one EscalationAction, and executes it.
type Escalator struct {
	opts Options
	act  Reassigner
}

// NewEscalator builds an Escalator sharing a Watcher's Options.
func NewEscalator(opts Options, act Reassigner) (*Escalator, error) {
	if act == nil {
		return nil, errs.New(errs.KindValidation, "reassigner is required")
	}
	if opts.Log == nil {
		opts.Log = telemetry.NoOp{}
	}
	return &Escalator{opts: opts, act: act}, nil
}

// Handle reads runID's signal file (if present) and resolves it, archiving
// the signal on completion so tier-1 resumes watching.
func (e *Escalator) Handle(ctx context.Context, runID string) (EscalationAction, error) {
	path := filepath.Join(e.opts.SignalRoot, runID+".signal")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", errs.New(errs.KindNotFound, "no escalation signal for run "+runID)
	}
	if err != nil {
		return "", errs.Wrap(errs.KindTransientBackend, err)
	}

	bb, err := blackboard.Open(e.opts.BlackboardRoot, runID)
	if err != nil {
		return "", errs.Wrap(errs.KindTransientBackend, err)
	}
	snap, err := bb.Snapshot()
	if err != nil {
		return "", errs.Wrap(errs.KindTransientBackend, err)
	}

	reasonTag := extractField(string(data), "reason_tag")
	staleAgents := splitNonEmpty(extractField(string(data), "stale_agents"), ",")
	action := decideAction(snap, Decision(reasonTag), staleAgents)

	if err := e.execute(ctx, runID, bb, action, staleAgents); err != nil {
		return action, err
	}
	if err := os.Rename(path, path+".archived"); err != nil && !os.IsNotExist(err) {
		return action, errs.Wrap(errs.KindPermanentBackend, err)
	}
	e.opts.Log.Info(ctx, "watcher: tier-2 resolved escalation", "run_id", runID, "action", string(action))
	return action, nil
}

// decideAction applies spec §4.7 "Decision heuristics (priority order)":
// stuck/timeout -> restart; failure with partial outputs -> synthesize;
// failure without outputs -> reassign; multiple-failure threshold exceeded
// -> abort; conflict/deadlock/ambiguity -> escalate_human; default ->
// synthesize.
func decideAction(doc *blackboard.Document, reasonTag Decision, staleAgents []string) EscalationAction {
	if len(staleAgents) > 0 {
		return ActionRestart
	}

	failed, withOutputs := 0, 0
	for id, a := range doc.Agents {
		if a.State != blackboard.AgentFailed {
			continue
		}
		failed++
		if hasFindingsFrom(doc, id) {
			withOutputs++
		}
	}
	if failed >= 3 {
		return ActionAbort
	}
	if hasConflictSignal(doc) {
		return ActionEscalateHuman
	}
	if failed > 0 && withOutputs > 0 {
		return ActionSynthesize
	}
	if failed > 0 {
		return ActionReassign
	}
	return ActionSynthesize
}

func hasFindingsFrom(doc *blackboard.Document, agentID string) bool {
	for _, f := range doc.Findings {
		if f.AgentID == agentID {
			return true
		}
	}
	return false
}

func hasConflictSignal(doc *blackboard.Document) bool {
	for _, c := range doc.ClaimChains {
		if c.Status == blackboard.ChainActive && time.Now().UTC().After(c.ExpiresAt) {
			return true
		}
	}
	return false
}

func (e *Escalator) execute(ctx context.Context, runID string, bb *blackboard.Board, action EscalationAction, staleAgents []string) error {
	switch action {
	case ActionRestart:
		for _, agentID := range staleAgents {
			if err := e.act.Restart(ctx, runID, agentID); err != nil {
				return err
			}
		}
		return nil
	case ActionReassign:
		snap, err := bb.Snapshot()
		if err != nil {
			return errs.Wrap(errs.KindTransientBackend, err)
		}
		for agentID, a := range snap.Agents {
			if a.State != blackboard.AgentFailed {
				continue
			}
			if err := e.act.Reassign(ctx, runID, agentID); err != nil {
				return err
			}
		}
		return nil
	case ActionSynthesize:
		return e.act.Synthesize(ctx, runID)
	case ActionAbort:
		return e.act.Abort(ctx, runID)
	case ActionEscalateHuman:
		return e.act.EscalateHuman(ctx, runID, "conflict or ambiguity detected")
	default:
		return errs.New(errs.KindValidation, "unknown escalation action "+string(action))
	}
}

func extractField(content, key string) string {
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, key+":") {
			return strings.TrimSpace(strings.TrimPrefix(line, key+":"))
		}
	}
	return ""
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
