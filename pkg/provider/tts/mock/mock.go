// Package mock provides a test double for the tts.Provider interface.
package mock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parleybot/parley/pkg/provider/tts"
)

// Provider is a mock implementation of tts.Provider. Zero value is usable;
// Synthesize returns WAV unless an error is scripted.
type Provider struct {
	mu sync.Mutex

	// WAV is the audio returned by Synthesize. When nil a small placeholder
	// buffer is returned.
	WAV []byte

	// Dir is where SynthesizeToFile writes. When empty the OS temp directory
	// is used.
	Dir string

	// SynthesizeErr, if non-nil, is returned by Synthesize and
	// SynthesizeToFile.
	SynthesizeErr error

	// PingErr, if non-nil, is returned by Ping.
	PingErr error

	// SynthesizeCalls records the text of every synthesis call in order.
	SynthesizeCalls []string

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Synthesize records the call and returns WAV.
func (p *Provider) Synthesize(_ context.Context, text string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, text)
	if p.SynthesizeErr != nil {
		return nil, p.SynthesizeErr
	}
	if p.WAV != nil {
		return p.WAV, nil
	}
	return []byte("RIFF mock audio"), nil
}

// SynthesizeToFile records the call and writes WAV to a temp file.
func (p *Provider) SynthesizeToFile(ctx context.Context, text string) (string, error) {
	wav, err := p.Synthesize(ctx, text)
	if err != nil {
		return "", err
	}
	dir := p.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, fmt.Sprintf("tts_%d.wav", time.Now().UnixNano()))
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		return "", err
	}
	return path, nil
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

// CallCount returns the number of synthesis calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
