// Package llmfactory selects and constructs the configured
// runtime/llm.Generator adapter (spec §1 "one generate() contract, many
// providers"). Grounded on the teacher's registry/cmd/registry/main.go
// provider-switch pattern: a small factory function the entrypoint calls
// once at startup, rather than scattering SDK construction across cmd/.
package llmfactory

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"

	"github.com/jobctl/jobctl/features/llm/anthropic"
	"github.com/jobctl/jobctl/features/llm/bedrock"
	openaifeature "github.com/jobctl/jobctl/features/llm/openai"
	"github.com/jobctl/jobctl/runtime/errs"
	"github.com/jobctl/jobctl/runtime/llm"
)

// New builds the llm.Generator named by provider ("anthropic", "openai", or
// "bedrock"), defaulting model to a provider-specific fallback when model is
// empty.
func New(ctx context.Context, provider, model string) (llm.Generator, error) {
	switch provider {
	case "anthropic":
		if model == "" {
			model = "claude-sonnet-4-5"
		}
		client := anthropicsdk.NewClient()
		return anthropic.New(anthropic.Options{Client: client.Messages, DefaultModel: model})

	case "openai":
		if model == "" {
			model = "gpt-4o"
		}
		client := openai.NewClient()
		return openaifeature.New(openaifeature.Options{Client: client.Chat.Completions, DefaultModel: model})

	case "bedrock":
		if model == "" {
			model = "anthropic.claude-3-5-sonnet-20241022-v2:0"
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, errs.Wrap(errs.KindPermanentBackend, fmt.Errorf("load aws config: %w", err))
		}
		client := bedrockruntime.NewFromConfig(cfg)
		return bedrock.New(bedrock.Options{Runtime: client, DefaultModel: model})

	default:
		return nil, errs.New(errs.KindValidation, fmt.Sprintf("unknown llm provider %q", provider))
	}
}
