package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// LocalClient talks to an OpenAI-compatible chat completions endpoint
// (llama.cpp, vLLM, ollama). Used for development against local models.
type LocalClient struct {
	endpoint string
	model    string
	http     *http.Client
}

func NewLocalClient(endpoint, model string) *LocalClient {
	return &LocalClient{
		endpoint: endpoint,
		model:    model,
		http:     &http.Client{Timeout: 120 * time.Second},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *LocalClient) Generate(ctx context.Context, systemPrompt string, userPrompt string) (*LLMResponse, error) {
	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &GenerationFailure{Kind: FailureTransientNetwork, Message: "read chat response", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &GenerationFailure{Kind: FailureRateLimited, Message: "local endpoint rate limit"}
	case resp.StatusCode >= 500:
		return nil, &GenerationFailure{Kind: FailureTransientNetwork, Message: fmt.Sprintf("local endpoint returned %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, &GenerationFailure{Kind: FailureContentPolicy, Message: fmt.Sprintf("local endpoint rejected request with %d", resp.StatusCode)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &GenerationFailure{Kind: FailureMalformedOutput, Message: "invalid chat response JSON", Err: err}
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return nil, &GenerationFailure{Kind: FailureMalformedOutput, Message: "no content in chat response"}
	}

	return &LLMResponse{
		Content:      parsed.Choices[0].Message.Content,
		PromptTokens: parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}, nil
}
