package voice

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	defaultInactivityTimeout = 2 * time.Second
	defaultMaxDuration       = 30 * time.Second
	defaultCooldown          = 0
)

// stoppedPlaybackNotice is posted when a stop phrase interrupts playback.
const stoppedPlaybackNotice = "Stopped the current voice playback."

// Responder handles a completed voice prompt: generate a reply, post it,
// speak it. userID is the speaker who woke the bot.
type Responder func(ctx context.Context, userID, prompt string)

// Notifier posts a short informational message to the guild's text surface.
type Notifier func(ctx context.Context, text string)

// ConversationOption configures a Conversation.
type ConversationOption func(*Conversation)

// WithInactivityTimeout sets the silence gap that finalizes a prompt.
func WithInactivityTimeout(d time.Duration) ConversationOption {
	return func(c *Conversation) {
		if d > 0 {
			c.inactivity = d
		}
	}
}

// WithMaxDuration caps how long a single prompt may run after the wake
// word, regardless of continued speech.
func WithMaxDuration(d time.Duration) ConversationOption {
	return func(c *Conversation) {
		if d > 0 {
			c.maxDuration = d
		}
	}
}

// WithCooldown sets the minimum gap between a finalized prompt and the
// next accepted wake word.
func WithCooldown(d time.Duration) ConversationOption {
	return func(c *Conversation) {
		if d >= 0 {
			c.cooldown = d
		}
	}
}

// WithActivationHook registers fn to be called whenever the wake word
// activates a new prompt. Used for metrics and the event feed.
func WithActivationHook(fn func(ctx context.Context, userID string)) ConversationOption {
	return func(c *Conversation) { c.onActivate = fn }
}

// WithConversationLogger sets the logger used by the conversation.
func WithConversationLogger(logger *slog.Logger) ConversationOption {
	return func(c *Conversation) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Conversation is the wake-word state machine for one guild. It is idle
// until a transcript contains the wake phrase, then collects transcript
// fragments until the speaker goes quiet, the prompt runs too long, or a
// stop phrase arrives, and hands the assembled prompt to the responder.
type Conversation struct {
	wake    *Matcher
	stop    *StopMatcher
	player  *Player
	respond Responder
	notify  Notifier
	logger  *slog.Logger

	onActivate func(ctx context.Context, userID string)

	inactivity  time.Duration
	maxDuration time.Duration
	cooldown    time.Duration
	clock       func() time.Time

	mu          sync.Mutex
	active      bool
	gen         uint64
	userID      string
	startedAt   time.Time
	fragments   []string
	lastFinal   time.Time
	inactTimer  *time.Timer
	maxTimer    *time.Timer
	finalizeCtx context.Context
}

// NewConversation builds the state machine. player may be nil when the
// session cannot play audio.
func NewConversation(wake *Matcher, stop *StopMatcher, player *Player, respond Responder, notify Notifier, opts ...ConversationOption) *Conversation {
	c := &Conversation{
		wake:        wake,
		stop:        stop,
		player:      player,
		respond:     respond,
		notify:      notify,
		logger:      slog.Default(),
		inactivity:  defaultInactivityTimeout,
		maxDuration: defaultMaxDuration,
		cooldown:    defaultCooldown,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Active reports whether a prompt is currently being collected.
func (c *Conversation) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// HandleTranscript feeds one speaker transcript through the state machine.
// The stop-phrase check runs first and is independent of conversation
// state: while the bot is speaking, a stop phrase halts playback and is
// never treated as prompt content.
func (c *Conversation) HandleTranscript(ctx context.Context, t Transcript) {
	text := strings.TrimSpace(t.Text)
	if text == "" {
		return
	}

	if c.stop != nil && c.player != nil && c.player.Playing() && c.stop.Matches(text) {
		c.player.Stop()
		c.logger.Info("voice: playback stopped by stop phrase", "user_id", t.UserID)
		if c.notify != nil {
			c.notify(ctx, stoppedPlaybackNotice)
		}
		return
	}

	c.mu.Lock()
	if c.active {
		// A repeated wake phrase inside an active prompt is noise,
		// not content.
		if stripped, woke := c.wake.Match(text); woke {
			text = stripped
		}
		if text != "" {
			c.fragments = append(c.fragments, text)
		}
		c.finalizeCtx = ctx
		gen := c.gen
		// The hard cap is also checked inline so a steady stream of
		// fragments cannot outrun the timer.
		expired := c.clock().Sub(c.startedAt) >= c.maxDuration
		if !expired {
			c.armInactivityLocked(gen)
		}
		c.mu.Unlock()
		if expired {
			c.finalize(gen)
		}
		return
	}

	remainder, woke := c.wake.Match(text)
	if !woke {
		c.mu.Unlock()
		return
	}
	if c.cooldown > 0 && !c.lastFinal.IsZero() && c.clock().Sub(c.lastFinal) < c.cooldown {
		c.mu.Unlock()
		c.logger.Debug("voice: wake word ignored during cooldown", "user_id", t.UserID)
		return
	}

	c.active = true
	c.gen++
	gen := c.gen
	c.userID = t.UserID
	c.startedAt = c.clock()
	c.fragments = nil
	if remainder != "" {
		c.fragments = append(c.fragments, remainder)
	}
	c.finalizeCtx = ctx
	c.armInactivityLocked(gen)
	// The hard cap is armed once per activation and never re-armed.
	c.maxTimer = time.AfterFunc(c.maxDuration, func() { c.finalize(gen) })
	c.mu.Unlock()
	c.logger.Info("voice: wake word detected", "user_id", t.UserID)
	if c.onActivate != nil {
		c.onActivate(ctx, t.UserID)
	}
}

// armInactivityLocked resets the silence timer for the given activation.
func (c *Conversation) armInactivityLocked(gen uint64) {
	if c.inactTimer != nil {
		c.inactTimer.Stop()
	}
	c.inactTimer = time.AfterFunc(c.inactivity, func() { c.finalize(gen) })
}

// finalize assembles the prompt and hands it to the responder. A stale
// generation means a timer from a previous activation fired late and is
// ignored. Safe to call more than once per activation.
func (c *Conversation) finalize(gen uint64) {
	c.mu.Lock()
	if !c.active || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.active = false
	c.lastFinal = c.clock()
	if c.inactTimer != nil {
		c.inactTimer.Stop()
		c.inactTimer = nil
	}
	if c.maxTimer != nil {
		c.maxTimer.Stop()
		c.maxTimer = nil
	}
	userID := c.userID
	prompt := strings.TrimSpace(strings.Join(c.fragments, " "))
	c.fragments = nil
	ctx := c.finalizeCtx
	c.finalizeCtx = nil
	c.mu.Unlock()

	if prompt == "" {
		c.logger.Info("voice: prompt empty after wake word, nothing to answer", "user_id", userID)
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	c.logger.Info("voice: finalizing prompt", "user_id", userID, "chars", len(prompt))
	c.respond(ctx, userID, prompt)
}

// Finalize forces the current prompt to complete immediately. No-op when
// idle.
func (c *Conversation) Finalize() {
	c.mu.Lock()
	gen := c.gen
	active := c.active
	c.mu.Unlock()
	if active {
		c.finalize(gen)
	}
}

// Cancel discards the prompt in progress without responding.
func (c *Conversation) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return
	}
	c.active = false
	c.fragments = nil
	c.finalizeCtx = nil
	if c.inactTimer != nil {
		c.inactTimer.Stop()
		c.inactTimer = nil
	}
	if c.maxTimer != nil {
		c.maxTimer.Stop()
		c.maxTimer = nil
	}
}
