// Package stt defines the speech-to-text contract used by the voice
// pipeline. Implementations live in subpackages (whisper server, whisper
// native); mock provides a scriptable test double.
package stt

import "context"

// Provider transcribes complete utterances. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Transcribe converts a complete WAV-framed utterance into text. The
	// returned string may be empty when the audio contains no recognizable
	// speech; that is not an error.
	Transcribe(ctx context.Context, wav []byte) (string, error)

	// Ping reports whether the backend is reachable and ready.
	Ping(ctx context.Context) error

	// Close releases backend resources. The provider must not be used after
	// Close returns.
	Close() error
}
