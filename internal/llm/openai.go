// Package llm provides model-provider clients for llm nodes.
package llm

import (
	"context"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/TIZ36/chatflow/internal/nodes"
	"github.com/TIZ36/chatflow/pkg/schema"
)

// OpenAIClient implements nodes.ModelClient against any OpenAI-compatible
// chat completion endpoint. A custom base URL points it at local providers.
type OpenAIClient struct {
	client       *goopenai.Client
	defaultModel string
}

// NewOpenAIClient creates a client. baseURL is optional; empty means the
// official API endpoint.
func NewOpenAIClient(apiKey, baseURL, defaultModel string) *OpenAIClient {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if defaultModel == "" {
		defaultModel = goopenai.GPT4oMini
	}
	return &OpenAIClient{
		client:       goopenai.NewClientWithConfig(cfg),
		defaultModel: defaultModel,
	}
}

// Complete runs a single chat completion.
func (c *OpenAIClient) Complete(ctx context.Context, req nodes.ModelRequest) (*nodes.ModelResponse, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	var messages []goopenai.ChatCompletionMessage
	if req.SystemPrompt != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	resp, err := c.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNodeFailed,
			"chat completion with model %s: %v", model, err).WithCause(err)
	}
	if len(resp.Choices) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeNodeFailed,
			"chat completion with model %s returned no choices", model)
	}

	return &nodes.ModelResponse{
		Text:       resp.Choices[0].Message.Content,
		Model:      resp.Model,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}
