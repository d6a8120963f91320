// Package knowledge defines the interface the core consumes to stitch
// golden rules, scored heuristics, and similar-failure context into a node
// prompt before it ships (spec §4.9). The core does not implement a
// knowledge store — callers wire in whatever external system computes
// relevance, recency decay, and Jaccard similarity.
package knowledge

import "context"

// NodeExecutionOutcome is the minimal record RecordOutcome needs to close
// the loop on a prompt's usefulness (spec §4.9 "records outcomes via
// RecordOutcome(node_execution)").
type NodeExecutionOutcome struct {
	NodeExecutionID string
	RunID           string
	NodeID          string
	Status          string // completed | failed | skipped
	Summary         string
	Tags            []string
}

// Source is the knowledge store interface the node executor consumes
// before rendering a prompt (spec §4.9).
type Source interface {
	// Query returns stitched context text: golden rules (always included),
	// top-K heuristics scored by relevance, and similar past failures
	// (Jaccard similarity over title+summary keywords, threshold 0.30,
	// 30-day window, top-5). maxTokens bounds the returned text.
	Query(ctx context.Context, taskText string, domain string, tags []string, maxTokens int) (string, error)

	// RecordOutcome reports a node execution's outcome back to the store so
	// future relevance scoring (validation_boost) can account for it.
	RecordOutcome(ctx context.Context, outcome NodeExecutionOutcome) error
}
