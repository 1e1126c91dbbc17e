package generator

import (
	"context"
	"errors"
	"testing"
	"time"
)

type scriptStep struct {
	resp *LLMResponse
	err  error
}

// scriptedLLM replays a fixed sequence of outcomes and counts invocations.
type scriptedLLM struct {
	steps []scriptStep
	calls int
}

func (s *scriptedLLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (*LLMResponse, error) {
	step := s.steps[len(s.steps)-1]
	if s.calls < len(s.steps) {
		step = s.steps[s.calls]
	}
	s.calls++
	return step.resp, step.err
}

func testClient(llm LLMClient) *Client {
	c := NewClientWithLLM(llm, "scripted")
	c.backoffBase = time.Millisecond
	return c
}

func okResponse() *LLMResponse {
	return &LLMResponse{Content: "{}", PromptTokens: 10, OutputTokens: 20}
}

func transientErr() error {
	return &GenerationFailure{Kind: FailureTransientNetwork, Message: "connection reset"}
}

func TestInvoke_SucceedsFirstTry(t *testing.T) {
	llm := &scriptedLLM{steps: []scriptStep{{resp: okResponse()}}}

	resp, err := testClient(llm).Invoke(context.Background(), Prompts{System: "s", User: "u"})
	if err != nil {
		t.Fatalf("expected success, got: %v", err)
	}
	if resp.OutputTokens != 20 {
		t.Errorf("expected 20 output tokens, got %d", resp.OutputTokens)
	}
	if llm.calls != 1 {
		t.Errorf("expected 1 call, got %d", llm.calls)
	}
}

func TestInvoke_RetriesTransientThenSucceeds(t *testing.T) {
	llm := &scriptedLLM{steps: []scriptStep{
		{err: transientErr()},
		{err: transientErr()},
		{resp: okResponse()},
	}}

	_, err := testClient(llm).Invoke(context.Background(), Prompts{})
	if err != nil {
		t.Fatalf("expected recovery on third try, got: %v", err)
	}
	if llm.calls != 3 {
		t.Errorf("expected 3 calls, got %d", llm.calls)
	}
}

func TestInvoke_ExhaustsTransientRetries(t *testing.T) {
	llm := &scriptedLLM{steps: []scriptStep{{err: transientErr()}}}

	_, err := testClient(llm).Invoke(context.Background(), Prompts{})
	failure, ok := AsFailure(err)
	if !ok || failure.Kind != FailureTransientNetwork {
		t.Fatalf("expected transient failure after exhaustion, got: %v", err)
	}
	if llm.calls != 3 {
		t.Errorf("expected exactly 3 calls, got %d", llm.calls)
	}
}

func TestInvoke_RateLimitRetriedOnce(t *testing.T) {
	llm := &scriptedLLM{steps: []scriptStep{
		{err: &GenerationFailure{Kind: FailureRateLimited, Message: "429", RetryAfter: time.Millisecond}},
		{resp: okResponse()},
	}}

	_, err := testClient(llm).Invoke(context.Background(), Prompts{})
	if err != nil {
		t.Fatalf("expected success after rate-limit wait, got: %v", err)
	}
	if llm.calls != 2 {
		t.Errorf("expected 2 calls, got %d", llm.calls)
	}
}

func TestInvoke_SecondRateLimitSurfaces(t *testing.T) {
	llm := &scriptedLLM{steps: []scriptStep{
		{err: &GenerationFailure{Kind: FailureRateLimited, RetryAfter: time.Millisecond}},
	}}

	_, err := testClient(llm).Invoke(context.Background(), Prompts{})
	failure, ok := AsFailure(err)
	if !ok || failure.Kind != FailureRateLimited {
		t.Fatalf("expected rate-limit failure, got: %v", err)
	}
	if llm.calls != 2 {
		t.Errorf("a rate limit is retried exactly once, got %d calls", llm.calls)
	}
}

func TestInvoke_RateLimitRetryKeepsTransientBudget(t *testing.T) {
	llm := &scriptedLLM{steps: []scriptStep{
		{err: &GenerationFailure{Kind: FailureRateLimited, RetryAfter: time.Millisecond}},
		{err: transientErr()},
		{err: transientErr()},
		{resp: okResponse()},
	}}

	_, err := testClient(llm).Invoke(context.Background(), Prompts{})
	if err != nil {
		t.Fatalf("rate-limit retry must not consume a transient attempt, got: %v", err)
	}
	if llm.calls != 4 {
		t.Errorf("expected 4 calls, got %d", llm.calls)
	}
}

func TestInvoke_ContentPolicyNotRetried(t *testing.T) {
	llm := &scriptedLLM{steps: []scriptStep{
		{err: &GenerationFailure{Kind: FailureContentPolicy, Message: "refused"}},
	}}

	_, err := testClient(llm).Invoke(context.Background(), Prompts{})
	failure, ok := AsFailure(err)
	if !ok || failure.Kind != FailureContentPolicy {
		t.Fatalf("expected content-policy failure, got: %v", err)
	}
	if llm.calls != 1 {
		t.Errorf("content policy must surface immediately, got %d calls", llm.calls)
	}
}

func TestInvoke_MalformedOutputNotRetried(t *testing.T) {
	llm := &scriptedLLM{steps: []scriptStep{
		{err: &GenerationFailure{Kind: FailureMalformedOutput, Message: "no text"}},
	}}

	_, err := testClient(llm).Invoke(context.Background(), Prompts{})
	failure, ok := AsFailure(err)
	if !ok || failure.Kind != FailureMalformedOutput {
		t.Fatalf("expected malformed-output failure, got: %v", err)
	}
	if llm.calls != 1 {
		t.Errorf("malformed output must surface immediately, got %d calls", llm.calls)
	}
}

func TestInvoke_UntypedErrorClassifiedTransient(t *testing.T) {
	llm := &scriptedLLM{steps: []scriptStep{
		{err: errors.New("connection refused")},
		{resp: okResponse()},
	}}

	_, err := testClient(llm).Invoke(context.Background(), Prompts{})
	if err != nil {
		t.Fatalf("untyped errors should be retried as transient, got: %v", err)
	}
	if llm.calls != 2 {
		t.Errorf("expected 2 calls, got %d", llm.calls)
	}
}

func TestInvoke_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	llm := &scriptedLLM{steps: []scriptStep{{err: transientErr()}}}
	_, err := testClient(llm).Invoke(ctx, Prompts{})
	failure, ok := AsFailure(err)
	if !ok || failure.Kind != FailureTimeout {
		t.Fatalf("expected timeout failure on cancelled context, got: %v", err)
	}
}

func TestBackoffFor_GrowsWithJitterBounds(t *testing.T) {
	c := testClient(&scriptedLLM{})
	c.backoffBase = 500 * time.Millisecond

	for attempt, base := range []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second} {
		got := c.backoffFor(attempt)
		min := time.Duration(float64(base) * 0.8)
		max := time.Duration(float64(base) * 1.2)
		if got < min || got > max {
			t.Errorf("attempt %d: backoff %v outside [%v, %v]", attempt, got, min, max)
		}
	}
}
