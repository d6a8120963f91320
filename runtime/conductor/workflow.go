// Package conductor runs workflow definitions (spec §4.4): a conductor
// instance loads a workflow and its edges, maintains a ready-set of nodes
// whose predecessors are satisfied, fires node executions up to a
// per-run concurrency bound, merges results into the run's context, and
// expands outgoing edges until the ready-set is empty or __end__ fires.
package conductor

import (
	"github.com/jobctl/jobctl/runtime/errs"
	"github.com/jobctl/jobctl/runtime/ident"
)

// NodeKind enumerates the node executor variants (spec §4.5).
type NodeKind string

const (
	KindSingle   NodeKind = "single"
	KindParallel NodeKind = "parallel"
	KindSwarm    NodeKind = "swarm"
)

// StartSentinel and EndSentinel mark workflow entry/exit (spec §3).
const (
	StartSentinel = "__start__"
	EndSentinel   = "__end__"
)

// NodeConfig carries per-node tuning (spec §4.4 retry budget, §4.5 fan-out).
type NodeConfig struct {
	RetryBudget int      `json:"retry_budget,omitempty"`
	Concurrency int      `json:"concurrency,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	BestEffort  bool     `json:"best_effort,omitempty"`
}

// Node is one workflow node descriptor (spec §3 "Workflow definition").
type Node struct {
	ID             string     `json:"id"`
	Name           string     `json:"name,omitempty"`
	Kind           NodeKind   `json:"kind"`
	PromptTemplate string     `json:"prompt_template"`
	Config         NodeConfig `json:"config,omitempty"`
}

// Edge is one workflow edge descriptor.
type Edge struct {
	From            string `json:"from"`
	To              string `json:"to"`
	Condition       string `json:"condition,omitempty"` // empty means "always"
	Priority        int    `json:"priority"`
	TolerateFailure bool   `json:"tolerate_failure,omitempty"`
}

// Workflow is a complete, validated workflow definition.
type Workflow struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Nodes       []Node `json:"nodes"`
	Edges       []Edge `json:"edges"`
}

// Validate checks the structural invariants from spec §3: exactly one
// __start__ edge, every non-terminal node has an outgoing edge, __end__
// has only incoming edges, and the graph excluding sentinels is acyclic.
func (w *Workflow) Validate() error {
	if _, err := ident.Validate(w.Name, ident.KindWorkflow); err != nil {
		return errs.Wrap(errs.KindValidation, err)
	}

	nodeIDs := make(map[string]struct{}, len(w.Nodes))
	for _, n := range w.Nodes {
		if _, err := ident.Validate(n.ID, ident.KindNode); err != nil {
			return errs.Wrap(errs.KindValidation, err)
		}
		switch n.Kind {
		case KindSingle, KindParallel, KindSwarm:
		default:
			return errs.New(errs.KindValidation, "node "+n.ID+" has unknown kind "+string(n.Kind))
		}
		if _, dup := nodeIDs[n.ID]; dup {
			return errs.New(errs.KindValidation, "duplicate node id "+n.ID)
		}
		nodeIDs[n.ID] = struct{}{}
	}

	startCount := 0
	outgoing := make(map[string]int, len(nodeIDs))
	adjacency := make(map[string][]string)
	for _, e := range w.Edges {
		if e.From == StartSentinel {
			startCount++
		} else if _, ok := nodeIDs[e.From]; !ok {
			return errs.New(errs.KindValidation, "edge references unknown source node "+e.From)
		}
		if e.To != EndSentinel {
			if _, ok := nodeIDs[e.To]; !ok {
				return errs.New(errs.KindValidation, "edge references unknown target node "+e.To)
			}
		}
		if e.From != StartSentinel {
			outgoing[e.From]++
		}
		if e.From != StartSentinel && e.To != EndSentinel {
			adjacency[e.From] = append(adjacency[e.From], e.To)
		}
		if _, err := Parse(e.Condition); err != nil {
			return errs.Wrap(errs.KindValidation, err)
		}
	}

	if startCount != 1 {
		return errs.New(errs.KindValidation, "workflow must have exactly one __start__ edge")
	}
	for id := range nodeIDs {
		if outgoing[id] == 0 {
			return errs.New(errs.KindValidation, "node "+id+" has no outgoing edge")
		}
	}
	if err := checkAcyclic(nodeIDs, adjacency); err != nil {
		return err
	}
	return nil
}

func checkAcyclic(nodeIDs map[string]struct{}, adjacency map[string][]string) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(nodeIDs))
	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case gray:
			return errs.New(errs.KindValidation, "workflow graph contains a cycle at node "+id)
		case black:
			return nil
		}
		color[id] = gray
		for _, next := range adjacency[id] {
			if err := visit(next); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}
	for id := range nodeIDs {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// NodeByID looks up a node by id.
func (w *Workflow) NodeByID(id string) (Node, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// OutgoingEdges returns edges whose From matches id, sorted by Priority
// ascending (spec §4.4 "Tie-breaking").
func (w *Workflow) OutgoingEdges(id string) []Edge {
	var out []Edge
	for _, e := range w.Edges {
		if e.From == id {
			out = append(out, e)
		}
	}
	sortByPriority(out)
	return out
}

// IncomingEdges returns edges whose To matches id.
func (w *Workflow) IncomingEdges(id string) []Edge {
	var in []Edge
	for _, e := range w.Edges {
		if e.To == id {
			in = append(in, e)
		}
	}
	return in
}

func sortByPriority(edges []Edge) {
	for i := 1; i < len(edges); i++ {
		for j := i; j > 0 && edges[j].Priority < edges[j-1].Priority; j-- {
			edges[j], edges[j-1] = edges[j-1], edges[j]
		}
	}
}
