package voice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parleybot/parley/pkg/audio"
	"github.com/parleybot/parley/pkg/provider/stt"
)

const defaultListenWindow = 5 * time.Second

// sttSampleRate is the sample rate speech recognition models expect.
const sttSampleRate = 16000

// defaultSilenceRMS is the energy floor, in PCM sample units, below which a
// captured segment is treated as silence and never sent to speech
// recognition. Comfort noise and keyboard bleed sit well under this.
const defaultSilenceRMS = 250.0

// Transcript is one speaker's recognized speech from a capture window.
type Transcript struct {
	UserID    string
	Text      string
	StartedAt time.Time
}

// TranscriptHandler receives transcripts in speaking order within a window.
type TranscriptHandler func(ctx context.Context, t Transcript)

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithListenWindow sets the capture window length.
func WithListenWindow(d time.Duration) ListenerOption {
	return func(l *Listener) {
		if d > 0 {
			l.window = d
		}
	}
}

// WithListenerLogger sets the logger used by the listener.
func WithListenerLogger(logger *slog.Logger) ListenerOption {
	return func(l *Listener) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithSilenceThreshold sets the RMS energy floor under which a captured
// segment is skipped. Zero disables the gate.
func WithSilenceThreshold(rms float64) ListenerOption {
	return func(l *Listener) {
		if rms >= 0 {
			l.silenceRMS = rms
		}
	}
}

// Listener runs repeated capture windows over a voice connection, turning
// buffered speaker audio into transcripts. A window waits for any active
// playback to finish first so the bot does not transcribe itself.
type Listener struct {
	conn    Conn
	sttp    stt.Provider
	player  *Player
	handler TranscriptHandler
	logger  *slog.Logger
	window  time.Duration

	// silenceRMS gates segments on energy before transcription.
	silenceRMS float64

	converter *audio.Converter

	mu     sync.Mutex
	active bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewListener returns a Listener over the given connection. player may be
// nil when the session never plays audio.
func NewListener(conn Conn, sttp stt.Provider, player *Player, handler TranscriptHandler, opts ...ListenerOption) *Listener {
	l := &Listener{
		conn:    conn,
		sttp:    sttp,
		player:  player,
		handler: handler,
		logger:  slog.Default(),
		window:  defaultListenWindow,

		silenceRMS: defaultSilenceRMS,
		converter: &audio.Converter{
			Target: audio.Format{SampleRate: sttSampleRate, Channels: 1},
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ListenOnce runs a single capture window: buffer per-speaker audio for the
// window, then transcribe each speaker's segment and hand the transcripts
// to the handler in speaking order. Returns once every transcript has been
// handled or the context is done.
func (l *Listener) ListenOnce(ctx context.Context) error {
	if l.player != nil {
		if err := l.player.Wait(ctx); err != nil {
			return err
		}
	}

	sink := NewSink(l.conn, l.logger)
	sink.Start()

	windowDone := time.NewTimer(l.window)
	defer windowDone.Stop()
	select {
	case <-ctx.Done():
		sink.Stop()
		return ctx.Err()
	case <-windowDone.C:
	}

	segments := sink.Stop()
	for _, seg := range segments {
		if err := ctx.Err(); err != nil {
			return err
		}
		text, err := l.transcribe(ctx, seg.PCM)
		if err != nil {
			l.logger.Error("voice: transcription failed", "user_id", seg.UserID, "error", err)
			continue
		}
		if text == "" {
			continue
		}
		l.handler(ctx, Transcript{UserID: seg.UserID, Text: text, StartedAt: seg.StartedAt})
	}
	return nil
}

// transcribe normalizes one speaker's capture to mono 16 kHz PCM, wraps it
// as WAV and runs speech recognition. Segments below the silence threshold
// are skipped without a recognition call.
func (l *Listener) transcribe(ctx context.Context, pcm []byte) (string, error) {
	mono := l.converter.Convert(pcm, audio.Format{SampleRate: opusSampleRate, Channels: opusChannels})
	if len(mono) == 0 {
		return "", nil
	}
	if l.silenceRMS > 0 {
		if rms := audio.RMS(mono); rms < l.silenceRMS {
			l.logger.Debug("voice: skipping silent segment", "rms", rms)
			return "", nil
		}
	}
	wav := audio.EncodeWAV(mono, sttSampleRate, 1)
	text, err := l.sttp.Transcribe(ctx, wav)
	if err != nil {
		return "", fmt.Errorf("voice: transcribe capture: %w", err)
	}
	return text, nil
}

// StartListening begins running capture windows back to back until
// StopListening or the context ends. Calling it while already listening is
// a no-op.
func (l *Listener) StartListening(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active {
		return
	}
	l.active = true
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)
	go l.loop(ctx)
}

func (l *Listener) loop(ctx context.Context) {
	defer l.wg.Done()
	for {
		if err := l.ListenOnce(ctx); err != nil {
			if ctx.Err() == nil {
				l.logger.Error("voice: capture window failed", "error", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// StopListening ends continuous capture and waits for the current window's
// transcripts to be handled.
func (l *Listener) StopListening() {
	l.mu.Lock()
	if !l.active {
		l.mu.Unlock()
		return
	}
	l.active = false
	cancel := l.cancel
	l.mu.Unlock()
	cancel()
	l.wg.Wait()
}

// Listening reports whether continuous capture is running.
func (l *Listener) Listening() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}
