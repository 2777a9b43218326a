package voice

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/parleybot/parley/pkg/audio"
)

// Player streams synthesized audio into a voice connection. At most one
// clip plays at a time; starting a new clip while one is playing waits for
// it, and Stop aborts the current clip between frames.
type Player struct {
	conn   Conn
	logger *slog.Logger

	mu      sync.Mutex
	playing bool
	stop    chan struct{}
	idle    *sync.Cond
}

// NewPlayer returns a Player sending on the given connection.
func NewPlayer(conn Conn, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Player{conn: conn, logger: logger}
	p.idle = sync.NewCond(&p.mu)
	return p
}

// Playing reports whether a clip is currently being streamed.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Wait blocks until no clip is playing or the context ends.
func (p *Player) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.mu.Lock()
		for p.playing {
			p.idle.Wait()
		}
		p.mu.Unlock()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Stop aborts the clip currently playing, if any.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing && p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
}

// PlayFile streams a WAV file into the voice channel, then removes the
// file. Blocks until the clip finishes, is stopped, or ctx ends.
func (p *Player) PlayFile(ctx context.Context, path string) error {
	wav, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("voice: read playback file: %w", err)
	}
	defer func() {
		if err := os.Remove(path); err != nil {
			p.logger.Debug("voice: remove played file", "path", path, "error", err)
		}
	}()
	return p.Play(ctx, wav)
}

// Play streams a WAV clip into the voice channel. Blocks until the clip
// finishes, is stopped, or ctx ends. A clip whose WAV header does not parse
// still plays, as raw PCM at the outbound rate, rather than erroring out.
func (p *Player) Play(ctx context.Context, wav []byte) error {
	target := audio.Format{SampleRate: opusSampleRate, Channels: opusChannels}
	pcm, format, ok := audio.NormalizeWAV(wav, target)
	if !ok {
		p.logger.Warn("voice: playback clip has no parseable WAV header, playing raw bytes", "bytes", len(wav))
	}
	conv := &audio.Converter{Target: target}
	pcm = conv.Convert(pcm, format)
	if len(pcm) == 0 {
		return nil
	}

	enc, err := newOpusEncoder(p.conn.Bitrate())
	if err != nil {
		return err
	}

	stop, err := p.begin(ctx)
	if err != nil {
		return err
	}
	defer p.end()

	if err := p.conn.Speaking(true); err != nil {
		p.logger.Warn("voice: set speaking on", "error", err)
	}
	defer func() {
		if err := p.conn.Speaking(false); err != nil {
			p.logger.Warn("voice: set speaking off", "error", err)
		}
	}()

	for off := 0; off < len(pcm); off += opusFrameBytes {
		end := off + opusFrameBytes
		if end > len(pcm) {
			// Pad the trailing partial frame with silence.
			frame := make([]byte, opusFrameBytes)
			copy(frame, pcm[off:])
			pcm = append(pcm[:off], frame...)
			end = off + opusFrameBytes
		}
		opus, err := enc.encode(pcm[off:end])
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case p.conn.Send() <- opus:
		}
	}
	return nil
}

// begin claims the player, waiting for any current clip to finish first.
// Returns the stop channel for this clip.
func (p *Player) begin(ctx context.Context) (chan struct{}, error) {
	for {
		if err := p.Wait(ctx); err != nil {
			return nil, err
		}
		p.mu.Lock()
		if !p.playing {
			p.playing = true
			stop := make(chan struct{})
			p.stop = stop
			p.mu.Unlock()
			return stop, nil
		}
		p.mu.Unlock()
	}
}

func (p *Player) end() {
	p.mu.Lock()
	p.playing = false
	p.stop = nil
	p.idle.Broadcast()
	p.mu.Unlock()
}
