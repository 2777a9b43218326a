// Package mock provides a test double for the stt.Provider interface.
//
// Pre-populate Transcripts with the texts the consumer should receive; each
// Transcribe call pops the next one. Every call is recorded for inspection.
package mock

import (
	"context"
	"sync"

	"github.com/parleybot/parley/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// WAV is a copy of the audio passed to Transcribe.
	WAV []byte
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Transcripts are returned by successive Transcribe calls. When the list
	// is exhausted, Transcribe returns Fallback.
	Transcripts []string

	// Fallback is returned once Transcripts is exhausted.
	Fallback string

	// TranscribeErr, if non-nil, is returned by every Transcribe call.
	TranscribeErr error

	// PingErr, if non-nil, is returned by Ping.
	PingErr error

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	next int
}

// Transcribe records the call and returns the next scripted transcript.
func (p *Provider) Transcribe(_ context.Context, wav []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]byte, len(wav))
	copy(cp, wav)
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{WAV: cp})
	if p.TranscribeErr != nil {
		return "", p.TranscribeErr
	}
	if p.next < len(p.Transcripts) {
		text := p.Transcripts[p.next]
		p.next++
		return text, nil
	}
	return p.Fallback, nil
}

// Ping returns PingErr.
func (p *Provider) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.PingErr
}

// Close records the call.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCallCount++
	return nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeCalls)
}

// Reset clears recorded calls and rewinds the transcript script.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
	p.CloseCallCount = 0
	p.next = 0
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
