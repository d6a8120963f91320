// Package bedrock adapts the AWS Bedrock Converse API to the llm.Generator
// contract, using github.com/aws/aws-sdk-go-v2/service/bedrockruntime.
// Grounded on the teacher's features/model/bedrock client: a narrow
// RuntimeClient interface matching *bedrockruntime.Client's Converse method,
// so tests can substitute a fake.
package bedrock

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/jobctl/jobctl/runtime/errs"
	"github.com/jobctl/jobctl/runtime/llm"
)

// RuntimeClient mirrors the subset of *bedrockruntime.Client the adapter
// needs.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the adapter.
type Options struct {
	Runtime      RuntimeClient
	DefaultModel string
}

// Client implements llm.Generator via AWS Bedrock Converse.
type Client struct {
	runtime      RuntimeClient
	defaultModel string
}

// New builds a Client.
func New(opts Options) (*Client, error) {
	if opts.Runtime == nil {
		return nil, errs.New(errs.KindValidation, "bedrock runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errs.New(errs.KindValidation, "default model is required")
	}
	return &Client{runtime: opts.Runtime, defaultModel: opts.DefaultModel}, nil
}

// Generate implements llm.Generator.
func (c *Client) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	if req.Prompt == "" {
		return llm.Response{}, errs.New(errs.KindValidation, "prompt is required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: &modelID,
		Messages: []brtypes.Message{
			{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: req.Prompt}},
			},
		},
	}
	if req.MaxTokens > 0 {
		maxTokens := int32(req.MaxTokens)
		input.InferenceConfig = &brtypes.InferenceConfiguration{MaxTokens: &maxTokens}
	}
	if req.System != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.System}}
	}

	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return llm.Response{}, errs.Wrap(errs.KindTransientBackend, err)
	}

	var text string
	if msgOut, ok := out.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msgOut.Value.Content {
			if textBlock, ok := block.(*brtypes.ContentBlockMemberText); ok {
				text += textBlock.Value
			}
		}
	}

	resp := llm.Response{Text: text, Model: modelID}
	if out.Usage != nil {
		if out.Usage.InputTokens != nil {
			resp.Usage.InputTokens = int(*out.Usage.InputTokens)
		}
		if out.Usage.OutputTokens != nil {
			resp.Usage.OutputTokens = int(*out.Usage.OutputTokens)
		}
	}
	return resp, nil
}
