package advisor

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dkruglov/trade-arena/internal/logger"
)

// Client is the capability the advisor needs from a language-model
// endpoint. Anything speaking the chat-completion shape plugs in.
type Client interface {
	Chat(ctx context.Context, system, user string) (string, error)
}

// OpenAIClient talks to any OpenAI-compatible endpoint. Each trading
// model carries its own base URL, key and model name.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *logger.Logger
}

func NewOpenAIClient(apiURL, apiKey, model string, timeout time.Duration, log *logger.Logger) *OpenAIClient {
	ocfg := openai.DefaultConfig(apiKey)
	if apiURL != "" {
		ocfg.BaseURL = apiURL
	}

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(ocfg),
		model:   model,
		timeout: timeout,
		logger:  log,
	}
}

func (c *OpenAIClient) Chat(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("endpoint returned no choices")
	}

	content := resp.Choices[0].Message.Content
	c.logger.Debug("advisor raw response", "model", c.model, "length", len(content))
	return content, nil
}
