package voice

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithIdleTimeout makes the session leave the channel after no finalized
// conversation for the given duration. Zero disables.
func WithIdleTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.idleTimeout = d }
}

// WithAloneTimeout makes the session leave after being the only non-bot
// member of the channel for the given duration. Zero disables.
func WithAloneTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.aloneTimeout = d }
}

// WithSessionLogger sets the logger used by the session.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// LeaveFunc tears down the guild's voice presence. reason is for logging.
type LeaveFunc func(guildID, reason string)

// Session is the full voice presence for one guild: the connection, the
// capture loop, the wake conversation and the playback player, plus the
// idle and alone timers that eventually tear it all down.
type Session struct {
	conn     Conn
	listener *Listener
	convo    *Conversation
	player   *Player
	leave    LeaveFunc
	logger   *slog.Logger

	idleTimeout  time.Duration
	aloneTimeout time.Duration

	mu         sync.Mutex
	idleTimer  *time.Timer
	aloneTimer *time.Timer
	closed     bool
}

// NewSession assembles a session over an established connection. The
// caller wires listener, conversation and player to the same connection.
func NewSession(conn Conn, listener *Listener, convo *Conversation, player *Player, leave LeaveFunc, opts ...SessionOption) *Session {
	s := &Session{
		conn:     conn,
		listener: listener,
		convo:    convo,
		player:   player,
		leave:    leave,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Conn returns the session's voice connection.
func (s *Session) Conn() Conn { return s.conn }

// Player returns the session's playback player.
func (s *Session) Player() *Player { return s.player }

// Conversation returns the session's wake state machine.
func (s *Session) Conversation() *Conversation { return s.convo }

// Listening reports whether the capture loop is running.
func (s *Session) Listening() bool { return s.listener.Listening() }

// Start begins continuous capture and arms the idle timer.
func (s *Session) Start(ctx context.Context) {
	s.listener.StartListening(ctx)
	s.TouchActivity()
}

// TouchActivity re-arms the idle timer. Called whenever a conversation
// finalizes, so the session only goes idle when nobody talks to the bot.
func (s *Session) TouchActivity() {
	if s.idleTimeout <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(s.idleTimeout, func() {
		s.logger.Info("voice: leaving idle channel", "guild_id", s.conn.GuildID(), "channel_id", s.conn.ChannelID())
		s.leave(s.conn.GuildID(), "idle")
	})
}

// SetAlone arms or cancels the alone timer based on voice-state updates:
// alone is true when the bot is the only non-bot member left.
func (s *Session) SetAlone(alone bool) {
	if s.aloneTimeout <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if !alone {
		if s.aloneTimer != nil {
			s.aloneTimer.Stop()
			s.aloneTimer = nil
		}
		return
	}
	if s.aloneTimer != nil {
		return
	}
	s.aloneTimer = time.AfterFunc(s.aloneTimeout, func() {
		s.logger.Info("voice: leaving empty channel", "guild_id", s.conn.GuildID(), "channel_id", s.conn.ChannelID())
		s.leave(s.conn.GuildID(), "alone")
	})
}

// Close stops capture, cancels any prompt in progress, halts playback and
// disarms the timers. It does not disconnect; the connection owner does.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	if s.aloneTimer != nil {
		s.aloneTimer.Stop()
		s.aloneTimer = nil
	}
	s.mu.Unlock()

	s.convo.Cancel()
	s.player.Stop()
	s.listener.StopListening()
}
