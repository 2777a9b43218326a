// Package discord provides the Discord layer for parley. It owns the
// discordgo.Session lifecycle, registers slash commands, rotates the
// bot's presence and wires voice and text events into the assistant
// pipeline.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/parleybot/parley/internal/config"
)

// Bot owns the Discord gateway connection and routes interactions to
// registered command handlers.
type Bot struct {
	mu        sync.RWMutex
	session   *discordgo.Session
	router    *CommandRouter
	logger    *slog.Logger
	guildID   string
	statuses  []string
	rotation  time.Duration
	commands  []*discordgo.ApplicationCommand
	closeOnce sync.Once
}

// BotOption configures a Bot.
type BotOption func(*Bot)

// WithBotLogger sets the logger used by the bot.
func WithBotLogger(logger *slog.Logger) BotOption {
	return func(b *Bot) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates a Bot, connects to the Discord gateway and registers the
// interaction handler.
func New(cfg config.DiscordConfig, opts ...BotOption) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsMessageContent

	b := &Bot{
		session:  session,
		router:   NewCommandRouter(),
		logger:   slog.Default(),
		guildID:  cfg.GuildID,
		statuses: cfg.Statuses,
		rotation: cfg.StatusRotation(),
	}
	for _, opt := range opts {
		opt(b)
	}

	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.router.Handle(s, i)
	})

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	return b, nil
}

// Session returns the underlying discordgo session. Used by subsystems
// that need direct Discord API access.
func (b *Bot) Session() *discordgo.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

// Router returns the command router for registering handlers.
func (b *Bot) Router() *CommandRouter {
	return b.router
}

// GuildID returns the guild that scopes command registration; empty
// means global registration.
func (b *Bot) GuildID() string {
	return b.guildID
}

// Connected reports whether the gateway session has completed its
// initial handshake. Used by the readiness probe.
func (b *Bot) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session != nil && b.session.DataReady
}

// Run registers slash commands with the Discord API, starts presence
// rotation and blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.RLock()
	appID := b.session.State.User.ID
	b.mu.RUnlock()

	cmds := b.router.ApplicationCommands()
	if len(cmds) > 0 {
		registered, err := b.session.ApplicationCommandBulkOverwrite(appID, b.guildID, cmds)
		if err != nil {
			return fmt.Errorf("discord: register commands: %w", err)
		}
		b.mu.Lock()
		b.commands = registered
		b.mu.Unlock()
		b.logger.Info("discord: commands registered", "count", len(registered), "guild_id", b.guildID)
	}

	if len(b.statuses) > 0 && b.rotation > 0 {
		go b.rotateStatus(ctx)
	}

	<-ctx.Done()
	return ctx.Err()
}

// rotateStatus cycles the bot presence through the configured statuses.
func (b *Bot) rotateStatus(ctx context.Context) {
	ticker := time.NewTicker(b.rotation)
	defer ticker.Stop()

	next := 0
	b.setStatus(b.statuses[next])
	next = (next + 1) % len(b.statuses)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.setStatus(b.statuses[next])
			next = (next + 1) % len(b.statuses)
		}
	}
}

func (b *Bot) setStatus(text string) {
	if err := b.session.UpdateCustomStatus(text); err != nil {
		b.logger.Warn("discord: failed to update status", "err", err)
	}
}

// Close unregisters commands and disconnects from Discord.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if b.session != nil && len(b.commands) > 0 {
			appID := b.session.State.User.ID
			for _, cmd := range b.commands {
				if err := b.session.ApplicationCommandDelete(appID, b.guildID, cmd.ID); err != nil {
					b.logger.Warn("discord: failed to delete command", "name", cmd.Name, "err", err)
				}
			}
		}

		if b.session != nil {
			if err := b.session.Close(); err != nil {
				closeErr = fmt.Errorf("discord: close session: %w", err)
			}
		}

		b.logger.Info("discord: bot closed")
	})
	return closeErr
}
