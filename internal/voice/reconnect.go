package voice

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Default reconnection parameters.
const (
	defaultReconnectRetries = 10
	defaultReconnectBackoff = 1 * time.Second
	defaultReconnectMax     = 30 * time.Second
)

// Reconnector watches one guild's voice connection and re-joins the
// channel when the connection drops unexpectedly.
//
// Disconnect detection happens elsewhere (voice-state updates); callers
// signal it via [Reconnector.NotifyDisconnect]. The monitor then re-joins
// through the manager with exponential backoff and hands the fresh
// connection to the OnReconnect callback so capture and playback can be
// rebound.
//
// All methods are safe for concurrent use.
type Reconnector struct {
	manager     *Manager
	guildID     string
	channelID   string
	maxRetries  int
	backoff     time.Duration
	maxBackoff  time.Duration
	onReconnect func(Conn)
	logger      *slog.Logger

	done         chan struct{}
	stopOnce     sync.Once
	disconnected chan struct{} // signalled when a disconnect is detected
}

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// Manager performs the actual joins.
	Manager *Manager

	// GuildID and ChannelID name the voice channel to watch.
	GuildID   string
	ChannelID string

	// MaxRetries is the number of rejoin attempts before giving up.
	// Defaults to 10 if zero.
	MaxRetries int

	// Backoff is the initial delay between attempts. Doubles each
	// attempt up to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on the delay. Defaults to 30s if
	// zero.
	MaxBackoff time.Duration

	// OnReconnect is called with the new connection after a successful
	// rejoin. May be nil.
	OnReconnect func(Conn)

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// NewReconnector creates a [Reconnector] with the given configuration.
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultReconnectRetries
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultReconnectBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultReconnectMax
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconnector{
		manager:      cfg.Manager,
		guildID:      cfg.GuildID,
		channelID:    cfg.ChannelID,
		maxRetries:   maxRetries,
		backoff:      backoff,
		maxBackoff:   maxBackoff,
		onReconnect:  cfg.OnReconnect,
		logger:       logger,
		done:         make(chan struct{}),
		disconnected: make(chan struct{}, 1),
	}
}

// Monitor starts watching in a background goroutine until ctx ends or
// Stop is called.
func (r *Reconnector) Monitor(ctx context.Context) {
	go r.monitorLoop(ctx)
}

// NotifyDisconnect signals that the connection has been lost. Safe to call
// multiple times; only the first call per reconnection cycle has effect.
func (r *Reconnector) NotifyDisconnect() {
	select {
	case r.disconnected <- struct{}{}:
	default:
		// Already signalled.
	}
}

// Stop halts monitoring. Safe to call multiple times.
func (r *Reconnector) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
}

// monitorLoop waits for disconnect notifications and attempts rejoins.
func (r *Reconnector) monitorLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-r.disconnected:
			r.attemptReconnect(ctx)
		}
	}
}

// attemptReconnect re-joins the channel with exponential backoff.
func (r *Reconnector) attemptReconnect(ctx context.Context) {
	// The dropped connection is still cached in the manager and still
	// reports its last channel, so a plain Join would hand it straight
	// back. Evict it first so the rejoin dials a fresh connection.
	r.manager.cleanupStale(r.guildID)

	currentBackoff := r.backoff

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		default:
		}

		r.logger.Info("voice: attempting rejoin",
			"guild_id", r.guildID,
			"channel_id", r.channelID,
			"attempt", attempt,
			"max_retries", r.maxRetries,
			"backoff", currentBackoff,
		)

		conn, err := r.manager.Join(ctx, r.guildID, r.channelID)
		if err == nil {
			r.logger.Info("voice: rejoin successful",
				"guild_id", r.guildID,
				"channel_id", r.channelID,
				"attempt", attempt,
			)
			if r.onReconnect != nil {
				r.onReconnect(conn)
			}
			return
		}

		r.logger.Warn("voice: rejoin attempt failed",
			"guild_id", r.guildID,
			"channel_id", r.channelID,
			"attempt", attempt,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-time.After(currentBackoff):
		}

		currentBackoff *= 2
		if currentBackoff > r.maxBackoff {
			currentBackoff = r.maxBackoff
		}
	}

	r.logger.Error("voice: rejoin failed after max retries",
		"guild_id", r.guildID,
		"channel_id", r.channelID,
		"max_retries", r.maxRetries,
	)
}
