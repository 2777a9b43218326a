// Package tts defines the text-to-speech contract used by the voice
// pipeline. The kokoro subpackage implements it against a Kokoro FastAPI
// server; mock provides a test double.
package tts

import "context"

// Provider synthesizes speech from text. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Synthesize converts text to a complete WAV-framed audio clip.
	Synthesize(ctx context.Context, text string) ([]byte, error)

	// SynthesizeToFile converts text to speech and writes the WAV to a new
	// file in the provider's output directory, returning the file path. The
	// caller owns the file and removes it after playback.
	SynthesizeToFile(ctx context.Context, text string) (string, error)

	// Ping reports whether the backend is reachable and ready.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
