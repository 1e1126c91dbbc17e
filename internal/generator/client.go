package generator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
	"golang.org/x/sync/semaphore"
)

// LLMClient is the interface every model backend satisfies.
type LLMClient interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string) (*LLMResponse, error)
}

// LLMResponse holds the raw response content and token usage.
type LLMResponse struct {
	Content      string
	PromptTokens int
	OutputTokens int
}

// FailureKind classifies a generation failure for retry decisions.
type FailureKind string

const (
	FailureRateLimited      FailureKind = "rate_limited"
	FailureTransientNetwork FailureKind = "transient_network_error"
	FailureContentPolicy    FailureKind = "content_policy_rejected"
	FailureMalformedOutput  FailureKind = "malformed_output"
	FailureTimeout          FailureKind = "timeout"
)

// GenerationFailure is the typed error surfaced by Invoke.
type GenerationFailure struct {
	Kind       FailureKind
	Message    string
	RetryAfter time.Duration // rate-limit hint from the provider, if any
	Err        error
}

func (f *GenerationFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("generation failed (%s): %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("generation failed (%s): %s", f.Kind, f.Message)
}

func (f *GenerationFailure) Unwrap() error { return f.Err }

// AsFailure extracts a typed GenerationFailure from an error chain.
func AsFailure(err error) (*GenerationFailure, bool) {
	var f *GenerationFailure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

const (
	defaultMaxTransientRetries = 3
	defaultBackoffBase         = 500 * time.Millisecond
	defaultBackoffMultiplier   = 2
	backoffJitterFraction      = 0.20
)

// Client wraps an LLMClient with the invocation-level retry policy and a
// cap on concurrent in-flight model calls.
type Client struct {
	llm         LLMClient
	model       string
	sem         *semaphore.Weighted
	backoffBase time.Duration
	maxRetries  int
}

// NewClient selects a backend from the environment, matching deployment modes:
// MOCK_GENERATOR=true for a deterministic local mock, LOCAL_LLM_ENDPOINT for
// an OpenAI-compatible server, otherwise the Anthropic API.
func NewClient() *Client {
	var llm LLMClient
	model := "mock"

	if os.Getenv("MOCK_GENERATOR") == "true" {
		llm = NewMockClient()
		log.Println("Generator using mock data")
	} else if endpoint := os.Getenv("LOCAL_LLM_ENDPOINT"); endpoint != "" {
		model = os.Getenv("LOCAL_LLM_MODEL")
		if model == "" {
			model = "qwen2.5-32b-instruct"
		}
		llm = NewLocalClient(endpoint, model)
		log.Println("Generator using local endpoint:", endpoint)
	} else {
		model = os.Getenv("ANTHROPIC_MODEL")
		if model == "" {
			model = "claude-sonnet-4-5-20250929"
		}
		llm = NewAPIClient(model)
		log.Println("Generator using Anthropic API:", model)
	}

	maxInflight := int64(8)
	if v := os.Getenv("LLM_MAX_INFLIGHT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			maxInflight = n
		}
	}

	return newClient(llm, model, maxInflight)
}

// NewClientWithLLM wraps an explicit backend. Used by composition roots that
// construct their own LLMClient, and by tests.
func NewClientWithLLM(llm LLMClient, model string) *Client {
	return newClient(llm, model, 8)
}

func newClient(llm LLMClient, model string, maxInflight int64) *Client {
	return &Client{
		llm:         llm,
		model:       model,
		sem:         semaphore.NewWeighted(maxInflight),
		backoffBase: defaultBackoffBase,
		maxRetries:  defaultMaxTransientRetries,
	}
}

func (c *Client) ModelName() string {
	return c.model
}

// Invoke calls the model once, retrying only the failure kinds this layer
// owns: transient network errors and timeouts up to 3 tries with exponential
// backoff, and a rate limit exactly once after its backoff window. Content
// policy rejections and malformed output are surfaced immediately; the
// orchestrator decides whether to re-prompt.
func (c *Client) Invoke(ctx context.Context, prompts Prompts) (*LLMResponse, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, &GenerationFailure{Kind: FailureTimeout, Message: "cancelled waiting for invocation slot", Err: err}
	}
	defer c.sem.Release(1)

	rateLimitRetried := false
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		resp, err := c.llm.Generate(ctx, prompts.System, prompts.User)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		failure, ok := AsFailure(err)
		if !ok {
			failure = classifyError(err)
			lastErr = failure
		}

		switch failure.Kind {
		case FailureTransientNetwork, FailureTimeout:
			if ctx.Err() != nil {
				return nil, &GenerationFailure{Kind: FailureTimeout, Message: "request cancelled", Err: ctx.Err()}
			}
			wait := c.backoffFor(attempt)
			log.Printf("Model call attempt %d failed (%s), retrying in %v", attempt+1, failure.Kind, wait)
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, &GenerationFailure{Kind: FailureTimeout, Message: "request cancelled during backoff", Err: err}
			}
		case FailureRateLimited:
			if rateLimitRetried {
				return nil, failure
			}
			rateLimitRetried = true
			wait := failure.RetryAfter
			if wait <= 0 {
				wait = c.backoffFor(attempt)
			}
			log.Printf("Model call rate limited, retrying once in %v", wait)
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, &GenerationFailure{Kind: FailureTimeout, Message: "request cancelled during rate-limit wait", Err: err}
			}
			attempt-- // rate-limit retry does not consume a transient attempt
		default:
			return nil, failure
		}
	}

	if failure, ok := AsFailure(lastErr); ok {
		return nil, failure
	}
	return nil, &GenerationFailure{Kind: FailureTransientNetwork, Message: "retries exhausted", Err: lastErr}
}

// backoffFor returns base * multiplier^attempt with ±20% jitter.
func (c *Client) backoffFor(attempt int) time.Duration {
	base := float64(c.backoffBase)
	for i := 0; i < attempt; i++ {
		base *= defaultBackoffMultiplier
	}
	jitter := 1 + backoffJitterFraction*(2*rand.Float64()-1)
	return time.Duration(base * jitter)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// classifyError maps untyped transport errors onto the failure taxonomy.
func classifyError(err error) *GenerationFailure {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &GenerationFailure{Kind: FailureTimeout, Message: "model call timed out", Err: err}
	case errors.Is(err, context.Canceled):
		return &GenerationFailure{Kind: FailureTimeout, Message: "model call cancelled", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &GenerationFailure{Kind: FailureTransientNetwork, Message: "network error", Err: err}
	}
	return &GenerationFailure{Kind: FailureTransientNetwork, Message: "unclassified model error", Err: err}
}

// ── APIClient (Anthropic SDK) ──────────────────────────────

type APIClient struct {
	client *anthropic.Client
	model  string
}

func NewAPIClient(model string) *APIClient {
	client := anthropic.NewClient(
		option.WithAPIKey(os.Getenv("ANTHROPIC_API_KEY")),
	)
	return &APIClient{client: &client, model: model}
}

func (c *APIClient) Generate(ctx context.Context, systemPrompt string, userPrompt string) (*LLMResponse, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   4096,
		Temperature: param.NewOpt(0.7),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyAnthropicError(err)
	}

	if string(message.StopReason) == "refusal" {
		return nil, &GenerationFailure{Kind: FailureContentPolicy, Message: "model refused the generation request"}
	}

	var responseText string
	for _, block := range message.Content {
		if block.Type == "text" {
			responseText = block.Text
			break
		}
	}

	if responseText == "" {
		return nil, &GenerationFailure{Kind: FailureMalformedOutput, Message: "no text content in API response"}
	}

	return &LLMResponse{
		Content:      responseText,
		PromptTokens: int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
	}, nil
}

func classifyAnthropicError(err error) *GenerationFailure {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return &GenerationFailure{
				Kind:       FailureRateLimited,
				Message:    "provider rate limit",
				RetryAfter: retryAfterHint(apiErr),
				Err:        err,
			}
		case apiErr.StatusCode == 400 || apiErr.StatusCode == 403:
			return &GenerationFailure{Kind: FailureContentPolicy, Message: "request rejected by provider", Err: err}
		case apiErr.StatusCode >= 500:
			return &GenerationFailure{Kind: FailureTransientNetwork, Message: "provider error", Err: err}
		}
	}
	return classifyError(err)
}

func retryAfterHint(apiErr *anthropic.Error) time.Duration {
	if apiErr.Response == nil {
		return 0
	}
	if v := apiErr.Response.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
