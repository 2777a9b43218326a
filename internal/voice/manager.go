package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultJoinAttempts   = 4
	defaultJoinBackoffCap = 5 * time.Second
)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithJoinAttempts sets how many times a join is tried before giving up.
func WithJoinAttempts(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.joinAttempts = n
		}
	}
}

// WithJoinBackoffCap caps the delay between join attempts.
func WithJoinBackoffCap(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.backoffCap = d
		}
	}
}

// WithManagerLogger sets the logger used by the manager.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithJoinRetryHook registers a callback invoked once per retried join
// attempt with the reason the attempt failed ("session_invalid" or
// "already_connected"). Used to feed the join retry counter.
func WithJoinRetryHook(fn func(reason string)) ManagerOption {
	return func(m *Manager) {
		if fn != nil {
			m.retryHook = fn
		}
	}
}

// Manager owns voice connections, one per guild. Joins for the same guild
// are collapsed so concurrent commands cannot race the gateway handshake,
// and a stale server-side session (gateway close 4006) is cleared and
// retried with backoff instead of being surfaced to the caller.
type Manager struct {
	transport    Transport
	logger       *slog.Logger
	joinAttempts int
	backoffCap   time.Duration
	retryHook    func(reason string)

	// sleep is replaced in tests to avoid real backoff delays.
	sleep func(context.Context, time.Duration) error

	joins singleflight.Group

	mu    sync.RWMutex
	conns map[string]Conn
}

// NewManager returns a Manager dialing through the given transport.
func NewManager(transport Transport, opts ...ManagerOption) *Manager {
	m := &Manager{
		transport:    transport,
		logger:       slog.Default(),
		joinAttempts: defaultJoinAttempts,
		backoffCap:   defaultJoinBackoffCap,
		sleep:        sleepCtx,
		conns:        make(map[string]Conn),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Conn returns the live connection for a guild, or nil when not connected.
func (m *Manager) Conn(guildID string) Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conns[guildID]
}

// Join connects to the given voice channel. Joining the channel we are
// already in returns the existing connection. Joining a different channel
// in a connected guild moves the existing connection instead of dialing.
func (m *Manager) Join(ctx context.Context, guildID, channelID string) (Conn, error) {
	for {
		if conn := m.Conn(guildID); conn != nil {
			if conn.ChannelID() == channelID {
				return conn, nil
			}
			if err := conn.Move(channelID); err != nil {
				return nil, err
			}
			return conn, nil
		}

		v, err, _ := m.joins.Do(guildID, func() (any, error) {
			return m.joinWithRetry(ctx, guildID, channelID)
		})
		if err != nil {
			return nil, err
		}
		conn := v.(Conn)
		// A collapsed concurrent join may have targeted another
		// channel. Loop so the channel check above runs again.
		if conn.ChannelID() == channelID {
			return conn, nil
		}
	}
}

// joinWithRetry dials the channel, clearing stale session state and backing
// off when the voice gateway rejects the handshake with close code 4006.
func (m *Manager) joinWithRetry(ctx context.Context, guildID, channelID string) (Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= m.joinAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		conn, err := m.transport.Join(guildID, channelID)
		if err == nil {
			m.mu.Lock()
			m.conns[guildID] = conn
			m.mu.Unlock()
			if attempt > 1 {
				m.logger.Info("voice: joined after retrying", "guild_id", guildID, "channel_id", channelID, "attempt", attempt)
			}
			return conn, nil
		}
		lastErr = err

		var closeErr *CloseError
		switch {
		case errors.As(err, &closeErr) && closeErr.Code == closeCodeSessionInvalid:
			m.logger.Warn("voice: session invalidated by gateway, clearing voice state",
				"guild_id", guildID, "attempt", attempt, "close_code", closeErr.Code)
			m.noteRetry("session_invalid")
			m.cleanupStale(guildID)
			if attempt < m.joinAttempts {
				if err := m.sleep(ctx, joinBackoff(attempt, m.backoffCap)); err != nil {
					return nil, err
				}
			}
		case errors.As(err, &closeErr):
			// Other close codes are not recoverable by rejoining.
			return nil, err
		case errors.Is(err, ErrAlreadyConnected):
			m.logger.Warn("voice: gateway reports existing connection, resetting", "guild_id", guildID, "attempt", attempt)
			m.noteRetry("already_connected")
			m.cleanupStale(guildID)
			if attempt < m.joinAttempts {
				if err := m.sleep(ctx, time.Second); err != nil {
					return nil, err
				}
			}
		default:
			return nil, fmt.Errorf("voice: join channel %s: %w", channelID, err)
		}
	}
	return nil, fmt.Errorf("voice: gateway repeatedly invalidated the voice websocket for guild %s after %d attempts: %w",
		guildID, m.joinAttempts, lastErr)
}

func (m *Manager) noteRetry(reason string) {
	if m.retryHook != nil {
		m.retryHook(reason)
	}
}

// cleanupStale drops any cached connection and tells the gateway we are in
// no channel, so the server forgets the session it thinks we still have.
func (m *Manager) cleanupStale(guildID string) {
	m.mu.Lock()
	conn := m.conns[guildID]
	delete(m.conns, guildID)
	m.mu.Unlock()
	if conn != nil {
		if err := conn.Disconnect(); err != nil {
			m.logger.Debug("voice: disconnect during cleanup", "guild_id", guildID, "error", err)
		}
	}
	if err := m.transport.ClearVoiceState(guildID); err != nil {
		m.logger.Debug("voice: clear voice state during cleanup", "guild_id", guildID, "error", err)
	}
}

// joinBackoff returns the delay before the next attempt: 1s doubling per
// attempt, capped.
func joinBackoff(attempt int, max time.Duration) time.Duration {
	d := time.Second << (attempt - 1)
	if d > max || d <= 0 {
		return max
	}
	return d
}

// Leave disconnects from the guild's voice channel. Leaving a guild we are
// not connected to is a no-op.
func (m *Manager) Leave(guildID string) error {
	m.mu.Lock()
	conn := m.conns[guildID]
	delete(m.conns, guildID)
	m.mu.Unlock()
	if conn == nil {
		return nil
	}
	if err := conn.Disconnect(); err != nil {
		return fmt.Errorf("voice: leave guild %s: %w", guildID, err)
	}
	return nil
}

// Close disconnects every guild.
func (m *Manager) Close() error {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]Conn)
	m.mu.Unlock()
	var errs []error
	for guildID, conn := range conns {
		if err := conn.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("voice: disconnect guild %s: %w", guildID, err))
		}
	}
	return errors.Join(errs...)
}
