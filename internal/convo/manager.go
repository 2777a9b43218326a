// Package convo keeps bounded per-channel conversation history and turns
// user text into assistant replies through an llm.Provider.
package convo

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/parleybot/parley/pkg/provider/llm"
)

const defaultHistoryTurns = 20

// Option is a functional option for configuring a Manager.
type Option func(*Manager)

// WithSystemPrompt sets the system prompt prepended to every completion.
func WithSystemPrompt(prompt string) Option {
	return func(m *Manager) { m.systemPrompt = prompt }
}

// WithHistoryTurns bounds the retained history to n user/assistant pairs per
// channel. Defaults to 20.
func WithHistoryTurns(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.historyTurns = n
		}
	}
}

// WithMaxTokens bounds the reply length requested from the backend.
func WithMaxTokens(n int) Option {
	return func(m *Manager) { m.maxTokens = n }
}

// WithTemperature sets the sampling temperature requested from the backend.
func WithTemperature(t float64) Option {
	return func(m *Manager) { m.temperature = t }
}

// channelHistory is the retained conversation of one channel. Each channel
// has its own lock so a slow completion in one channel never blocks another.
type channelHistory struct {
	mu       sync.Mutex
	messages []llm.Message
}

// Manager generates replies keyed by channel, retaining a bounded number of
// user/assistant pairs per key. Safe for concurrent use.
type Manager struct {
	provider     llm.Provider
	systemPrompt string
	historyTurns int
	maxTokens    int
	temperature  float64

	mu       sync.Mutex
	channels map[string]*channelHistory
}

// New creates a Manager over the given provider.
func New(provider llm.Provider, opts ...Option) *Manager {
	m := &Manager{
		provider:     provider,
		historyTurns: defaultHistoryTurns,
		channels:     make(map[string]*channelHistory),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// history returns the channelHistory for key, creating it on first use.
func (m *Manager) history(key string) *channelHistory {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.channels[key]
	if !ok {
		h = &channelHistory{}
		m.channels[key] = h
	}
	return h
}

// Reply appends userText to the channel's history, asks the backend for a
// completion and appends the assistant reply. History beyond the configured
// turn bound is evicted oldest-first, the system prompt always staying in
// place.
func (m *Manager) Reply(ctx context.Context, key, userText string) (string, error) {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return "", fmt.Errorf("convo: empty user text")
	}

	h := m.history(key)
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = append(h.messages, llm.Message{Role: llm.RoleUser, Content: userText})

	msgs := make([]llm.Message, 0, len(h.messages)+1)
	if m.systemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: m.systemPrompt})
	}
	msgs = append(msgs, h.messages...)

	reply, err := m.provider.Complete(ctx, llm.Request{
		Messages:    msgs,
		MaxTokens:   m.maxTokens,
		Temperature: m.temperature,
	})
	if err != nil {
		// Drop the unanswered user turn so a retry does not duplicate it.
		h.messages = h.messages[:len(h.messages)-1]
		return "", fmt.Errorf("convo: generate reply: %w", err)
	}

	h.messages = append(h.messages, llm.Message{Role: llm.RoleAssistant, Content: reply})
	if max := m.historyTurns * 2; len(h.messages) > max {
		h.messages = append([]llm.Message(nil), h.messages[len(h.messages)-max:]...)
	}
	return reply, nil
}

// Reset clears the history of one channel. Unknown keys are a no-op.
func (m *Manager) Reset(key string) {
	m.mu.Lock()
	h, ok := m.channels[key]
	m.mu.Unlock()
	if !ok {
		return
	}
	h.mu.Lock()
	h.messages = nil
	h.mu.Unlock()
}

// HistoryLen reports the number of retained messages for key, excluding the
// system prompt.
func (m *Manager) HistoryLen(key string) int {
	m.mu.Lock()
	h, ok := m.channels[key]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}
