// Package kokoro provides a tts.Provider backed by a Kokoro FastAPI server.
//
// The server exposes an OpenAI-compatible speech endpoint at
// POST /v1/audio/speech; synthesis is requested in WAV format so the clip can
// be parsed and resampled locally before playback.
package kokoro

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/parleybot/parley/pkg/provider/tts"
)

const (
	defaultVoice   = "af_heart"
	defaultSpeed   = 1.0
	defaultTimeout = 60 * time.Second
)

// Compile-time assertion that Provider implements tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithVoice selects the Kokoro voice pack (e.g., "af_heart", "bm_george").
// Defaults to "af_heart".
func WithVoice(voice string) Option {
	return func(p *Provider) { p.voice = voice }
}

// WithSpeed sets the speech rate multiplier. Defaults to 1.0.
func WithSpeed(speed float64) Option {
	return func(p *Provider) { p.speed = speed }
}

// WithOutputDir sets the directory SynthesizeToFile writes WAV files to.
// Defaults to the OS temp directory. The directory is created on first use.
func WithOutputDir(dir string) Option {
	return func(p *Provider) { p.outputDir = dir }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 60s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// Provider implements tts.Provider against a Kokoro HTTP server.
type Provider struct {
	serverURL  string
	voice      string
	speed      float64
	outputDir  string
	httpClient *http.Client
}

// New creates a Provider that talks to the Kokoro server at serverURL
// (e.g., "http://localhost:8880").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("kokoro: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  serverURL,
		voice:      defaultVoice,
		speed:      defaultSpeed,
		outputDir:  os.TempDir(),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// speechRequest is the JSON body for POST /v1/audio/speech.
type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	Speed          float64 `json:"speed"`
	ResponseFormat string  `json:"response_format"`
}

// Synthesize requests a WAV clip for text from the speech endpoint.
func (p *Provider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, errors.New("kokoro: text must not be empty")
	}

	body, err := json.Marshal(speechRequest{
		Model:          "kokoro",
		Input:          text,
		Voice:          p.voice,
		Speed:          p.speed,
		ResponseFormat: "wav",
	})
	if err != nil {
		return nil, fmt.Errorf("kokoro: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/v1/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("kokoro: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kokoro: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("kokoro: server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("kokoro: read audio response: %w", err)
	}
	return wav, nil
}

// SynthesizeToFile synthesizes text and writes the WAV to the output
// directory as tts_<unix-nano>.wav.
func (p *Provider) SynthesizeToFile(ctx context.Context, text string) (string, error) {
	wav, err := p.Synthesize(ctx, text)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(p.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("kokoro: create output dir: %w", err)
	}
	path := filepath.Join(p.outputDir, fmt.Sprintf("tts_%d.wav", time.Now().UnixNano()))
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		return "", fmt.Errorf("kokoro: write %s: %w", path, err)
	}
	return path, nil
}

// Ping issues a GET against /health and reports any non-2xx status as an
// error.
func (p *Provider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("kokoro: create ping request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("kokoro: server unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("kokoro: health check returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Close is a no-op; the server connection is stateless.
func (p *Provider) Close() error { return nil }
