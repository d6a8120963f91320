// Package watcher implements the tiered watcher (spec §4.7): a tier-1
// cheap-polling loop that keeps a swarm run alive without continuous deep
// inspection, and a tier-2 escalation handler activated only when tier-1
// signals trouble.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jobctl/jobctl/runtime/blackboard"
	"github.com/jobctl/jobctl/runtime/errs"
	"github.com/jobctl/jobctl/runtime/telemetry"
)

// Decision is tier-1's bounded decision set (spec §4.7).
type Decision string

const (
	DecisionNominal            Decision = "nominal"
	DecisionWarning            Decision = "warning"
	DecisionInterventionNeeded Decision = "intervention_needed"
	DecisionComplete           Decision = "complete"
)

// EscalationAction is tier-2's bounded decision set.
type EscalationAction string

const (
	ActionReassign       EscalationAction = "reassign"
	ActionRestart        EscalationAction = "restart"
	ActionAbort          EscalationAction = "abort"
	ActionSynthesize     EscalationAction = "synthesize"
	ActionEscalateHuman  EscalationAction = "escalate_human"
)

// errorKeywords are scanned for in coordination logs to flag intervention
// (spec §4.7 tier-1 "scans coordination files for error keywords").
var errorKeywords = []string{"panic", "fatal", "deadlock", "exception", "traceback"}

// Options configures a Watcher.
type Options struct {
	BlackboardRoot   string
	SignalRoot       string // directory for escalation signal files
	PollInterval     time.Duration
	HeartbeatTimeout time.Duration
	FailureThreshold int // failed-agent count at which tier-1 raises intervention_needed (default 3); tier-2's abort heuristic uses a fixed 3
	Log              telemetry.Logger
}

// Watcher observes one run's blackboard.
type Watcher struct {
	opts Options
}

// New builds a Watcher with spec-reasonable defaults.
func New(opts Options) (*Watcher, error) {
	if opts.BlackboardRoot == "" || opts.SignalRoot == "" {
		return nil, errs.New(errs.KindValidation, "blackboard root and signal root are required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = 120 * time.Second
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 3
	}
	if opts.Log == nil {
		opts.Log = telemetry.NoOp{}
	}
	return &Watcher{opts: opts}, nil
}

// Signal is the escalation signal file's contents (spec §6 "Escalation
// signal file").
type Signal struct {
	EscalationID string
	ReasonTag    Decision
	Timestamp    time.Time
	StaleAgents  []string
	ErrorExcerpt string
	LastLogLines []string
}

// TerminationStatus is tier-1's exit status for one watch cycle.
type TerminationStatus string

const (
	StatusEscalate TerminationStatus = "escalate"
	StatusDone     TerminationStatus = "done"
)

// Watch runs the tier-1 loop for runID until it terminates with escalate or
// done, or ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context, runID string) (TerminationStatus, error) {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	var recentLog []string

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		bb, err := blackboard.Open(w.opts.BlackboardRoot, runID)
		if err != nil {
			return "", errs.Wrap(errs.KindTransientBackend, err)
		}
		snap, err := bb.Snapshot()
		if err != nil {
			return "", errs.Wrap(errs.KindTransientBackend, err)
		}

		decision, stale := w.decide(snap)
		line := fmt.Sprintf("[%s] run=%s decision=%s active=%d stale=%v", time.Now().UTC().Format(time.RFC3339), runID, decision, activeCount(snap), stale)
		recentLog = append(recentLog, line)
		if len(recentLog) > 10 {
			recentLog = recentLog[len(recentLog)-10:]
		}
		w.opts.Log.Info(ctx, "watcher: tier-1 poll", "run_id", runID, "decision", string(decision))

		switch decision {
		case DecisionComplete:
			return StatusDone, nil
		case DecisionInterventionNeeded:
			if err := w.raiseSignal(runID, decision, stale, recentLog); err != nil {
				return "", err
			}
			return StatusEscalate, nil
		}
	}
}

func activeCount(doc *blackboard.Document) int {
	n := 0
	for _, a := range doc.Agents {
		if a.State == blackboard.AgentActive {
			n++
		}
	}
	return n
}

// decide applies tier-1's bounded rule set (spec §4.7).
func (w *Watcher) decide(doc *blackboard.Document) (Decision, []string) {
	var stale []string
	active, completed, failed := 0, 0, 0
	now := time.Now().UTC()
	for id, a := range doc.Agents {
		switch a.State {
		case blackboard.AgentActive:
			active++
			if now.Sub(a.HeartbeatAt) > w.opts.HeartbeatTimeout {
				stale = append(stale, id)
			}
		case blackboard.AgentCompleted:
			completed++
		case blackboard.AgentFailed:
			failed++
		}
	}

	if hasErrorKeyword(doc) {
		return DecisionInterventionNeeded, stale
	}
	if len(stale) > 0 {
		return DecisionInterventionNeeded, stale
	}
	if failed >= w.opts.FailureThreshold {
		return DecisionInterventionNeeded, stale
	}
	if active == 0 && len(doc.TaskQueue) == 0 {
		return DecisionComplete, stale
	}
	if active == 0 {
		return DecisionWarning, stale
	}
	return DecisionNominal, stale
}

func hasErrorKeyword(doc *blackboard.Document) bool {
	for _, m := range doc.Messages {
		lower := strings.ToLower(m)
		for _, kw := range errorKeywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}

// raiseSignal creates the escalation signal file exclusively (spec §4.7
// "Escalation contract between tiers").
func (w *Watcher) raiseSignal(runID string, decision Decision, stale, logLines []string) error {
	path := filepath.Join(w.opts.SignalRoot, runID+".signal")
	var sb strings.Builder
	fmt.Fprintf(&sb, "escalation_id: %s-%d\n", runID, time.Now().UnixNano())
	fmt.Fprintf(&sb, "reason_tag: %s\n", decision)
	fmt.Fprintf(&sb, "timestamp: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "stale_agents: %s\n", strings.Join(stale, ","))
	sb.WriteString("log:\n")
	for _, l := range logLines {
		sb.WriteString(l + "\n")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return errs.Wrap(errs.KindConflict, err)
	}
	defer f.Close()
	if _, err := f.WriteString(sb.String()); err != nil {
		return errs.Wrap(errs.KindPermanentBackend, err)
	}
	return nil
}
