package llm

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIService talks to the OpenAI chat-completion API (or any endpoint
// the official SDK can point at via a base URL override).
type OpenAIService struct {
	client *openai.Client
	model  string
}

// NewOpenAIService creates the provider. baseURL may be empty for the
// public API.
func NewOpenAIService(apiKey, baseURL, model string) (*OpenAIService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIService{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

func (s *OpenAIService) Name() string { return "openai" }

// Complete sends the rendered prompt and returns the raw model text.
func (s *OpenAIService) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: 1e-8, // deterministic; zero means "unset" in the SDK
	})
	if err != nil {
		return "", fmt.Errorf("chat completion for task %s: %w", req.TaskID, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response for task %s", req.TaskID)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
