// Package feed streams live pipeline events (transcripts, wake-ups,
// replies, playback) to operator clients over a websocket endpoint.
package feed

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Event kinds published by the voice pipeline.
const (
	KindTranscript = "transcript"
	KindWake       = "wake"
	KindReply      = "reply"
	KindPlayback   = "playback"
)

// Event is one pipeline occurrence pushed to feed subscribers.
type Event struct {
	Kind      string    `json:"kind"`
	GuildID   string    `json:"guild_id,omitempty"`
	ChannelID string    `json:"channel_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Text      string    `json:"text,omitempty"`
	At        time.Time `json:"at"`
}

const (
	clientBuffer = 32
	writeTimeout = 5 * time.Second
)

// Broadcaster fans events out to connected websocket clients. A client
// whose buffer fills is dropped rather than allowed to stall the pipeline.
// The zero value is not usable; call NewBroadcaster.
type Broadcaster struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[chan Event]struct{}
	closed  bool
}

// NewBroadcaster returns a ready Broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		logger:  logger,
		clients: make(map[chan Event]struct{}),
	}
}

// Publish sends the event to every subscriber. Never blocks; events to a
// full subscriber buffer are counted against that client and the client is
// dropped.
func (b *Broadcaster) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for ch := range b.clients {
		select {
		case ch <- ev:
		default:
			delete(b.clients, ch)
			close(ch)
			b.logger.Warn("feed: dropping slow client")
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close disconnects all subscribers. Publish becomes a no-op.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.clients {
		close(ch)
	}
	b.clients = nil
}

func (b *Broadcaster) subscribe() (chan Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, false
	}
	ch := make(chan Event, clientBuffer)
	b.clients[ch] = struct{}{}
	return ch, true
}

func (b *Broadcaster) unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[ch]; ok {
		delete(b.clients, ch)
		close(ch)
	}
}

// ServeHTTP upgrades the request to a websocket and streams events until
// the client goes away or the broadcaster closes.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		b.logger.Warn("feed: websocket accept failed", "error", err)
		return
	}

	ch, ok := b.subscribe()
	if !ok {
		conn.Close(websocket.StatusGoingAway, "feed closed")
		return
	}
	defer b.unsubscribe(ch)
	b.logger.Info("feed: client connected", "remote", r.RemoteAddr)

	ctx := r.Context()
	// Reads are discarded; their failure is how we notice the client
	// hanging up.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case <-readDone:
			return
		case ev, open := <-ch:
			if !open {
				conn.Close(websocket.StatusGoingAway, "feed closed")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, ev)
			cancel()
			if err != nil {
				b.logger.Debug("feed: client write failed", "error", err)
				conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}
