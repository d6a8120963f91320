// Package llm defines the pluggable text-completion interface the core
// consumes (spec §1): a `generate(prompt, model, max_tokens) → {text,
// usage}` contract. The core does not implement any model provider itself;
// features/llm/{anthropic,openai,bedrock} each adapt one concrete SDK to
// this interface.
package llm

import "context"

// Usage reports token accounting for a single generation call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Request is a single text-completion call.
type Request struct {
	Prompt    string
	Model     string // empty selects the adapter's configured default
	MaxTokens int
	System    string
}

// Response is what every Generator returns on success.
type Response struct {
	Text  string
	Model string
	Usage Usage
}

// Generator is the provider-agnostic contract spec §1 and §6 require:
// `{prompt, model?, max_tokens?, system?} → {response_text, usage, model}`.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}
