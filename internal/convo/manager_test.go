package convo_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/parleybot/parley/internal/convo"
	"github.com/parleybot/parley/pkg/provider/llm"
	"github.com/parleybot/parley/pkg/provider/llm/mock"
)

func TestReply_SystemPromptFirst(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Replies: []string{"hi there"}}
	m := convo.New(p, convo.WithSystemPrompt("You are parley."))

	reply, err := m.Reply(context.Background(), "chan1", "hello")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if reply != "hi there" {
		t.Errorf("reply: got %q, want %q", reply, "hi there")
	}

	req := p.LastCall()
	if len(req.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(req.Messages))
	}
	if req.Messages[0].Role != llm.RoleSystem || req.Messages[0].Content != "You are parley." {
		t.Errorf("first message is not the system prompt: %+v", req.Messages[0])
	}
	if req.Messages[1].Role != llm.RoleUser || req.Messages[1].Content != "hello" {
		t.Errorf("second message is not the user turn: %+v", req.Messages[1])
	}
}

func TestReply_HistoryAccumulates(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Replies: []string{"one", "two"}}
	m := convo.New(p)

	if _, err := m.Reply(context.Background(), "c", "first"); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if _, err := m.Reply(context.Background(), "c", "second"); err != nil {
		t.Fatalf("Reply: %v", err)
	}

	req := p.LastCall()
	// user, assistant, user with no system prompt configured.
	if len(req.Messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(req.Messages))
	}
	if req.Messages[1].Role != llm.RoleAssistant || req.Messages[1].Content != "one" {
		t.Errorf("prior assistant turn missing: %+v", req.Messages[1])
	}
}

func TestReply_HistoryBounded(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Fallback: "r"}
	m := convo.New(p, convo.WithHistoryTurns(2))

	for i := 0; i < 10; i++ {
		if _, err := m.Reply(context.Background(), "c", fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatalf("Reply %d: %v", i, err)
		}
	}
	if got := m.HistoryLen("c"); got != 4 {
		t.Errorf("history length: got %d, want 4 (2 turns)", got)
	}
}

func TestReply_ChannelsIsolated(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Fallback: "r"}
	m := convo.New(p)

	if _, err := m.Reply(context.Background(), "a", "hello from a"); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if _, err := m.Reply(context.Background(), "b", "hello from b"); err != nil {
		t.Fatalf("Reply: %v", err)
	}

	req := p.LastCall()
	for _, msg := range req.Messages {
		if msg.Content == "hello from a" {
			t.Error("channel b request contains channel a history")
		}
	}
}

func TestReply_ErrorDropsUserTurn(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{CompleteErr: errors.New("backend down")}
	m := convo.New(p)

	if _, err := m.Reply(context.Background(), "c", "hello"); err == nil {
		t.Fatal("expected error, got nil")
	}
	if got := m.HistoryLen("c"); got != 0 {
		t.Errorf("failed call left %d messages in history, want 0", got)
	}
}

func TestReply_EmptyText(t *testing.T) {
	t.Parallel()
	m := convo.New(&mock.Provider{})
	if _, err := m.Reply(context.Background(), "c", "   "); err == nil {
		t.Error("expected error for blank text, got nil")
	}
}

func TestReset(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Fallback: "r"}
	m := convo.New(p)

	if _, err := m.Reply(context.Background(), "c", "hello"); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	m.Reset("c")
	if got := m.HistoryLen("c"); got != 0 {
		t.Errorf("history after reset: got %d, want 0", got)
	}
	// Resetting an unknown key must not panic.
	m.Reset("never-seen")
}
