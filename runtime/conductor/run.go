package conductor

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// RunStatus mirrors spec §3 "Workflow run".
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Run is a workflow run record.
type Run struct {
	ID          string
	WorkflowID  string
	TenantID    string
	Status      RunStatus
	Phase       string
	Input       map[string]any
	Output      map[string]any
	Context     map[string]any
	TotalNodes  int
	Completed   int
	Failed      int
	StartedAt   time.Time
	CompletedAt time.Time
}

// NodeExecStatus mirrors spec §3 "Node execution".
type NodeExecStatus string

const (
	NodePending   NodeExecStatus = "pending"
	NodeRunning   NodeExecStatus = "running"
	NodeCompleted NodeExecStatus = "completed"
	NodeFailed    NodeExecStatus = "failed"
	NodeSkipped   NodeExecStatus = "skipped"
)

// NodeExecution is one firing of a workflow node.
type NodeExecution struct {
	ID            string
	RunID         string
	WorkflowID    string
	NodeID        string
	NodeKind      NodeKind
	AgentID       string
	SessionID     string
	Prompt        string
	PromptHash    string
	Status        NodeExecStatus
	ResultJSON    []byte
	ResultText    string
	Findings      []Finding
	FilesModified []string
	DurationMS    int64
	TokenCount    int
	RetryCount    int
	ErrorMessage  string
	ErrorKind     string
}

// Finding is one extracted structured observation (spec §3 blackboard
// findings shape, reused for node-execution findings).
type Finding struct {
	ID        string
	AgentID   string
	Kind      string
	Content   string
	Files     []string
	Importance string
	Tags      []string
	CreatedAt time.Time
}

// DecisionKind enumerates the conductor audit log entry kinds (spec §3
// "Conductor decision").
type DecisionKind string

const (
	DecisionFireNode   DecisionKind = "fire_node"
	DecisionSkipNode   DecisionKind = "skip_node"
	DecisionRetry      DecisionKind = "retry"
	DecisionAbort      DecisionKind = "abort"
	DecisionPhaseChange DecisionKind = "phase_change"
)

// Decision is one append-only conductor audit record.
type Decision struct {
	RunID     string
	Kind      DecisionKind
	Data      map[string]any
	Reason    string
	CreatedAt time.Time
}

// PromptHash computes the dedup key used by retry logic (spec §4.4 "prompt_hash").
func PromptHash(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// MergeContext applies a completed node's findings and files into the run's
// context per spec §4.4 step 4: findings append, scalar keys last-writer-wins,
// sets union (files_modified is treated as a set).
func MergeContext(context map[string]any, findings []Finding, filesModified []string) map[string]any {
	if context == nil {
		context = make(map[string]any)
	}
	existingFindings, _ := context["findings"].([]any)
	for _, f := range findings {
		existingFindings = append(existingFindings, f)
	}
	context["findings"] = existingFindings

	existingFiles, _ := context["files_modified"].([]any)
	seen := make(map[string]struct{}, len(existingFiles))
	for _, f := range existingFiles {
		if s, ok := f.(string); ok {
			seen[s] = struct{}{}
		}
	}
	for _, f := range filesModified {
		if _, ok := seen[f]; !ok {
			existingFiles = append(existingFiles, f)
			seen[f] = struct{}{}
		}
	}
	context["files_modified"] = existingFiles
	return context
}

// DeriveNodeID builds the per-firing node id used by parallel/swarm kinds
// (spec §4.5: "{node_id}-p{i}" / "{node_id}-{role}").
func DeriveNodeID(baseID string, suffix string) string {
	return baseID + "-" + suffix
}

// IsSentinel reports whether id is __start__ or __end__.
func IsSentinel(id string) bool {
	return id == StartSentinel || id == EndSentinel
}

func renderTemplate(template string, context map[string]any) string {
	out := template
	for k, v := range flatten(context) {
		out = strings.ReplaceAll(out, "{{"+k+"}}", toString(v))
	}
	return out
}

func flatten(m map[string]any) map[string]string {
	flat := make(map[string]string)
	for k, v := range m {
		flat[k] = toString(v)
	}
	return flat
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
