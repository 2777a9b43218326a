package resilience

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	ttsmock "github.com/parleybot/parley/pkg/provider/tts/mock"
)

func TestTTSFallback_Synthesize_PrimarySuccess(t *testing.T) {
	primary := &ttsmock.Provider{WAV: []byte("RIFF primary")}
	secondary := &ttsmock.Provider{WAV: []byte("RIFF secondary")}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	wav, err := fb.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(wav, []byte("RIFF primary")) {
		t.Fatalf("wav = %q, want primary audio", wav)
	}
	if got := primary.CallCount(); got != 1 {
		t.Fatalf("primary called %d times, want 1", got)
	}
	if got := secondary.CallCount(); got != 0 {
		t.Fatalf("secondary called %d times, want 0", got)
	}
}

func TestTTSFallback_Synthesize_Failover(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{WAV: []byte("RIFF secondary")}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	wav, err := fb.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(wav, []byte("RIFF secondary")) {
		t.Fatalf("wav = %q, want secondary audio", wav)
	}
	if got := secondary.CallCount(); got != 1 {
		t.Fatalf("secondary called %d times, want 1", got)
	}
}

func TestTTSFallback_Synthesize_AllFail(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{SynthesizeErr: errors.New("secondary down")}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Synthesize(context.Background(), "hello")
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestTTSFallback_SynthesizeToFile_Failover(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{WAV: []byte("RIFF secondary"), Dir: t.TempDir()}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	path, err := fb.SynthesizeToFile(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading synthesized file: %v", err)
	}
	if !bytes.Equal(data, []byte("RIFF secondary")) {
		t.Fatalf("file contents = %q, want secondary audio", data)
	}
}

func TestTTSFallback_Ping_Failover(t *testing.T) {
	primary := &ttsmock.Provider{PingErr: errors.New("primary unreachable")}
	secondary := &ttsmock.Provider{}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	if err := fb.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTTSFallback_Close_ClosesAll(t *testing.T) {
	primary := &ttsmock.Provider{}
	secondary := &ttsmock.Provider{}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
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
