// Package handlers implements the in-process job handlers for the
// registered types spec §6 names directly (`echo`, and the agent-invocation
// family such as `claude_chat`/`analytics`), wiring them into
// runtime/executor/inprocess.Strategy. Grounded on the teacher's handler
// style in runtime/agent (a handler reads its typed request, calls one
// collaborator, returns a typed response) rather than any one file, since
// the teacher has no job-handler registry of its own.
package handlers

import (
	"encoding/json"
	"time"

	"github.com/jobctl/jobctl/runtime/errs"
	"github.com/jobctl/jobctl/runtime/executor"
	"github.com/jobctl/jobctl/runtime/executor/inprocess"
	"github.com/jobctl/jobctl/runtime/llm"
)

// echoRequest/echoResponse implement spec §6's `echo` job payload contract.
type echoRequest struct {
	Message string `json:"message"`
}

type echoResponse struct {
	Echoed      string    `json:"echoed"`
	ProcessedAt time.Time `json:"processed_at"`
}

// RegisterEcho binds the `echo` job type: spec §6 `{message} ->
// {echoed, processed_at}`, a smoke-test handler with no external
// collaborators.
func RegisterEcho(strategy *inprocess.Strategy, jobType string) {
	strategy.RegisterHandler(jobType, func(_ *executor.Context, payload []byte) (executor.Result, error) {
		var req echoRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return executor.Result{}, errs.Wrap(errs.KindValidation, err)
		}
		resp := echoResponse{Echoed: req.Message, ProcessedAt: time.Now().UTC()}
		data, err := json.Marshal(resp)
		if err != nil {
			return executor.Result{}, errs.Wrap(errs.KindHandler, err)
		}
		return executor.Result{ResultJSON: data, ResultText: resp.Echoed}, nil
	})
}

// agentInvocationRequest/agentInvocationResponse implement spec §6's
// agent-invocation job payload contract (`claude_chat`, `analytics`, etc.).
type agentInvocationRequest struct {
	Prompt    string `json:"prompt"`
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
	System    string `json:"system,omitempty"`
}

type agentInvocationResponse struct {
	ResponseText string    `json:"response_text"`
	Usage        llm.Usage `json:"usage"`
	Model        string    `json:"model"`
}

// RegisterAgentInvocation binds jobType to a single-shot call against gen
// (spec §6 `{prompt, model?, max_tokens?, system?} -> {response_text,
// usage, model}`). Call once per agent-invocation job type (e.g.
// "claude_chat", "analytics") registered against the same or different
// Generator, matching spec §9's "one generate() contract, many callers".
func RegisterAgentInvocation(strategy *inprocess.Strategy, jobType string, gen llm.Generator) {
	strategy.RegisterHandler(jobType, func(ctx *executor.Context, payload []byte) (executor.Result, error) {
		var req agentInvocationRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return executor.Result{}, errs.Wrap(errs.KindValidation, err)
		}
		if req.Prompt == "" {
			return executor.Result{}, errs.New(errs.KindValidation, "prompt is required")
		}

		out, err := gen.Generate(ctx, llm.Request{
			Prompt: req.Prompt, Model: req.Model, MaxTokens: req.MaxTokens, System: req.System,
		})
		if err != nil {
			return executor.Result{}, err
		}

		resp := agentInvocationResponse{ResponseText: out.Text, Usage: out.Usage, Model: out.Model}
		data, err := json.Marshal(resp)
		if err != nil {
			return executor.Result{}, errs.Wrap(errs.KindHandler, err)
		}
		return executor.Result{ResultJSON: data, ResultText: out.Text}, nil
	})
}
