package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// CompatService talks to any self-hosted OpenAI-compatible endpoint
// (Ollama, llama.cpp server, vLLM) over plain HTTP. The API key is
// optional; most local servers ignore it.
type CompatService struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewCompatService creates the provider. baseURL must include the /v1
// prefix when the server expects one, e.g. http://localhost:11434/v1.
func NewCompatService(baseURL, apiKey, model string) *CompatService {
	return &CompatService{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 300 * time.Second},
	}
}

func (s *CompatService) Name() string { return "compat" }

type compatRequest struct {
	Model       string          `json:"model"`
	Messages    []compatMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	Stream      bool            `json:"stream"`
}

type compatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type compatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends the rendered prompt to /chat/completions and returns the
// raw model text.
func (s *CompatService) Complete(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(compatRequest{
		Model:    s.model,
		Messages: []compatMessage{{Role: "user", Content: req.Prompt}},
		Stream:   false,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &HTTPStatusError{Status: resp.StatusCode, Task: req.TaskID}
	}

	var cr compatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("empty response for task %s", req.TaskID)
	}
	return strings.TrimSpace(cr.Choices[0].Message.Content), nil
}

// HTTPStatusError is returned for non-200 responses so the executor can
// tell rate limits and server errors (transient) apart from client errors.
type HTTPStatusError struct {
	Status int
	Task   string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("API returned status %d for task %s", e.Status, e.Task)
}
