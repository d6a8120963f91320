// Package agentstrategy adapts an llm.Generator into the executor.Strategy
// contract conductor node executions call directly (spec §4.5): the node's
// rendered prompt template is the raw payload, the generated text is the
// executor text result node.Runner parses findings out of.
package agentstrategy

import (
	"github.com/jobctl/jobctl/runtime/errs"
	"github.com/jobctl/jobctl/runtime/executor"
	"github.com/jobctl/jobctl/runtime/llm"
)

// Strategy executes a conductor node by sending its rendered prompt
// straight to gen.
type Strategy struct {
	gen       llm.Generator
	model     string
	maxTokens int
}

// New builds a Strategy. model/maxTokens are forwarded as llm.Request
// overrides on every call; either may be left at the zero value to use the
// generator's own default.
func New(gen llm.Generator, model string, maxTokens int) *Strategy {
	return &Strategy{gen: gen, model: model, maxTokens: maxTokens}
}

// Execute implements executor.Strategy.
func (s *Strategy) Execute(ctx *executor.Context, payload []byte) (executor.Result, error) {
	if len(payload) == 0 {
		return executor.Result{}, errs.New(errs.KindValidation, "empty node prompt")
	}
	resp, err := s.gen.Generate(ctx, llm.Request{Prompt: string(payload), Model: s.model, MaxTokens: s.maxTokens})
	if err != nil {
		return executor.Result{}, err
	}
	return executor.Result{ResultText: resp.Text}, nil
}
