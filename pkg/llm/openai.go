package llm

import (
	"context"
	"fmt"
	"time"

	openailib "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the OpenAI-compatible backend. BaseURL may point
// at any endpoint speaking the chat completions protocol.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration // per-call cap; zero disables
}

// OpenAIClient implements Client over the OpenAI chat completions API.
type OpenAIClient struct {
	client  *openailib.Client
	timeout time.Duration
}

// NewOpenAIClient creates a new OpenAI-compatible client.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	clientConfig := openailib.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{
		client:  openailib.NewClientWithConfig(clientConfig),
		timeout: cfg.Timeout,
	}, nil
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, req *Request) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	msgs := make([]openailib.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openailib.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	resp, err := c.client.CreateChatCompletion(ctx, openailib.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned from provider")
	}
	return resp.Choices[0].Message.Content, nil
}
