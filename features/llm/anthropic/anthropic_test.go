package anthropic

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobctl/jobctl/runtime/llm"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func TestClient_Generate_ReturnsTextAndUsage(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{
		Content: []sdk.ContentBlockUnion{{Type: "text", Text: "world"}},
		Usage:   sdk.Usage{InputTokens: 10, OutputTokens: 5},
	}}
	c, err := New(Options{Client: stub, DefaultModel: "claude-sonnet"})
	require.NoError(t, err)

	resp, err := c.Generate(context.Background(), llm.Request{Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "world", resp.Text)
	assert.Equal(t, "claude-sonnet", resp.Model)
	assert.Equal(t, 10, resp.Usage.InputTokens)
	assert.Equal(t, 5, resp.Usage.OutputTokens)
	assert.Equal(t, sdk.Model("claude-sonnet"), stub.lastParams.Model)
}

func TestNew_RequiresDefaultModel(t *testing.T) {
	_, err := New(Options{Client: &stubMessagesClient{}})
	assert.Error(t, err)
}

func TestGenerate_RequiresPrompt(t *testing.T) {
	c, err := New(Options{Client: &stubMessagesClient{}, DefaultModel: "m"})
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), llm.Request{})
	assert.Error(t, err)
}
