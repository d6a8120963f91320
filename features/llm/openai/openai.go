// Package openai adapts the OpenAI Chat Completions API to the
// llm.Generator contract, using github.com/openai/openai-go. Grounded on the
// teacher's features/model/openai client shape (narrow client interface,
// Options-driven construction), swapped onto the official SDK per
// SPEC_FULL's domain-stack wiring.
package openai

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/jobctl/jobctl/runtime/errs"
	"github.com/jobctl/jobctl/runtime/llm"
)

// ChatCompletionsClient captures the subset of the OpenAI SDK used by the
// adapter, satisfied by client.Chat.Completions or a test fake.
type ChatCompletionsClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Options configures the adapter.
type Options struct {
	Client       ChatCompletionsClient
	DefaultModel string
}

// Client implements llm.Generator via OpenAI Chat Completions.
type Client struct {
	chat         ChatCompletionsClient
	defaultModel string
}

// New builds a Client.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errs.New(errs.KindValidation, "openai client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errs.New(errs.KindValidation, "default model is required")
	}
	return &Client{chat: opts.Client, defaultModel: opts.DefaultModel}, nil
}

// Generate implements llm.Generator.
func (c *Client) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	if req.Prompt == "" {
		return llm.Response{}, errs.New(errs.KindValidation, "prompt is required")
	}
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	messages := []openai.ChatCompletionMessageParamUnion{}
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return llm.Response{}, errs.Wrap(errs.KindTransientBackend, err)
	}
	if len(resp.Choices) == 0 {
		return llm.Response{}, errs.New(errs.KindHandler, "openai returned no choices")
	}

	return llm.Response{
		Text:  resp.Choices[0].Message.Content,
		Model: model,
		Usage: llm.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}
