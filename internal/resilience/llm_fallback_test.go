package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/parleybot/parley/pkg/provider/llm"
	llmmock "github.com/parleybot/parley/pkg/provider/llm/mock"
)

func TestLLMFallback_Complete_PrimarySuccess(t *testing.T) {
	primary := &llmmock.Provider{Replies: []string{"hello from primary"}}
	secondary := &llmmock.Provider{Replies: []string{"hello from secondary"}}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	reply, err := fb.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "hello from primary" {
		t.Fatalf("reply = %q, want %q", reply, "hello from primary")
	}
	if got := primary.CallCount(); got != 1 {
		t.Fatalf("primary called %d times, want 1", got)
	}
	if got := secondary.CallCount(); got != 0 {
		t.Fatalf("secondary called %d times, want 0", got)
	}
}

func TestLLMFallback_Complete_Failover(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errors.New("primary down")}
	secondary := &llmmock.Provider{Replies: []string{"hello from secondary"}}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	reply, err := fb.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "hello from secondary" {
		t.Fatalf("reply = %q, want %q", reply, "hello from secondary")
	}
	if got := secondary.CallCount(); got != 1 {
		t.Fatalf("secondary called %d times, want 1", got)
	}
}

func TestLLMFallback_Complete_AllFail(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errors.New("primary down")}
	secondary := &llmmock.Provider{CompleteErr: errors.New("secondary down")}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Complete(context.Background(), llm.Request{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestLLMFallback_Complete_RequestReachesFallback(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errors.New("primary down")}
	secondary := &llmmock.Provider{Replies: []string{"ok"}}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	req := llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "be brief"},
			{Role: llm.RoleUser, Content: "what time is it"},
		},
		MaxTokens: 64,
	}
	if _, err := fb.Complete(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	last := secondary.LastCall()
	if len(last.Messages) != 2 {
		t.Fatalf("fallback saw %d messages, want 2", len(last.Messages))
	}
	if last.Messages[1].Content != "what time is it" {
		t.Fatalf("fallback user message = %q", last.Messages[1].Content)
	}
	if last.MaxTokens != 64 {
		t.Fatalf("fallback MaxTokens = %d, want 64", last.MaxTokens)
	}
}

func TestLLMFallback_Close_ClosesAll(t *testing.T) {
	primary := &llmmock.Provider{}
	secondary := &llmmock.Provider{}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	if err := fb.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.CloseCallCount != 1 {
		t.Fatalf("primary closed %d times, want 1", primary.CloseCallCount)
	}
	if secondary.CloseCallCount != 1 {
		t.Fatalf("secondary closed %d times, want 1", secondary.CloseCallCount)
	}
}
