// Package anthropic adapts the Anthropic Claude Messages API to the
// llm.Generator contract, using github.com/anthropics/anthropic-sdk-go.
// Grounded on the teacher's features/model/anthropic client: a narrow
// MessagesClient interface so tests can substitute a fake, Options-driven
// construction, default-model fallback.
package anthropic

import (
	"context"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jobctl/jobctl/runtime/errs"
	"github.com/jobctl/jobctl/runtime/llm"
)

// MessagesClient captures the subset of the Anthropic SDK used by the
// adapter, satisfied by *sdk.MessageService or a test fake.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures the adapter.
type Options struct {
	Client       MessagesClient
	DefaultModel string
	MaxTokens    int
}

// Client implements llm.Generator on top of Anthropic Claude Messages.
type Client struct {
	msg          MessagesClient
	defaultModel string
	maxTokens    int
}

// New builds a Client.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errs.New(errs.KindValidation, "anthropic client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errs.New(errs.KindValidation, "default model is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{msg: opts.Client, defaultModel: opts.DefaultModel, maxTokens: maxTokens}, nil
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
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = int64(c.maxTokens)
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return llm.Response{}, errs.Wrap(errs.KindTransientBackend, err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return llm.Response{
		Text:  text,
		Model: model,
		Usage: llm.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}
