// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider to feed controlled replies and verify the conversations that
// reach the backend.
package mock

import (
	"context"
	"sync"

	"github.com/parleybot/parley/pkg/provider/llm"
)

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Replies are returned by successive Complete calls. When exhausted,
	// Complete returns Fallback.
	Replies []string

	// Fallback is returned once Replies is exhausted. Defaults to "ok".
	Fallback string

	// CompleteErr, if non-nil, is returned by every Complete call.
	CompleteErr error

	// CompleteCalls records the Request of every Complete call in order.
	CompleteCalls []llm.Request

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	next int
}

// Complete records the call and returns the next scripted reply.
func (p *Provider) Complete(_ context.Context, req llm.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := make([]llm.Message, len(req.Messages))
	copy(msgs, req.Messages)
	req.Messages = msgs
	p.CompleteCalls = append(p.CompleteCalls, req)
	if p.CompleteErr != nil {
		return "", p.CompleteErr
	}
	if p.next < len(p.Replies) {
		reply := p.Replies[p.next]
		p.next++
		return reply, nil
	}
	if p.Fallback != "" {
		return p.Fallback, nil
	}
	return "ok", nil
}

// Close records the call.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCallCount++
	return nil
}

// CallCount returns the number of Complete calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}

// LastCall returns the most recent Request, or a zero Request when none.
func (p *Provider) LastCall() llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.CompleteCalls) == 0 {
		return llm.Request{}
	}
	return p.CompleteCalls[len(p.CompleteCalls)-1]
}

// Reset clears recorded calls and rewinds the reply script.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
	p.CloseCallCount = 0
	p.next = 0
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
