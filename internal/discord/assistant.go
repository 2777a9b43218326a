package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/parleybot/parley/internal/config"
	"github.com/parleybot/parley/internal/convo"
	"github.com/parleybot/parley/internal/feed"
	"github.com/parleybot/parley/internal/observe"
	"github.com/parleybot/parley/internal/voice"
	"github.com/parleybot/parley/pkg/provider/stt"
	"github.com/parleybot/parley/pkg/provider/tts"
)

// joinTimeout bounds one /join including the voice handshake retries.
const joinTimeout = 30 * time.Second

// replyTimeout bounds one text-surface completion.
const replyTimeout = 2 * time.Minute

// guildSession bundles everything bound to one guild's voice connection.
type guildSession struct {
	session       *voice.Session
	reconnector   *voice.Reconnector
	textChannelID string
	cancel        context.CancelFunc
}

// Assistant wires the wake-word pipeline into Discord: slash commands,
// the text wake path, voice-state tracking and per-guild voice sessions.
type Assistant struct {
	bot     *Bot
	manager *voice.Manager
	convo   *convo.Manager
	stt     stt.Provider
	tts     tts.Provider
	wake    *voice.Matcher
	stop    *voice.StopMatcher
	feed    *feed.Broadcaster
	metrics *observe.Metrics
	logger  *slog.Logger

	wakeCfg  config.WakeConfig
	voiceCfg config.VoiceConfig

	commandChannelID string
	replyInThread    bool

	mu       sync.Mutex
	sessions map[string]*guildSession
}

// AssistantOption configures an Assistant.
type AssistantOption func(*Assistant)

// WithFeed publishes pipeline events to the given broadcaster.
func WithFeed(b *feed.Broadcaster) AssistantOption {
	return func(a *Assistant) { a.feed = b }
}

// WithMetrics records pipeline metrics.
func WithMetrics(m *observe.Metrics) AssistantOption {
	return func(a *Assistant) { a.metrics = m }
}

// WithAssistantLogger sets the logger used by the assistant.
func WithAssistantLogger(logger *slog.Logger) AssistantOption {
	return func(a *Assistant) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAssistant builds the assistant, compiles the wake and stop matchers
// and registers the slash commands and gateway handlers with the bot.
func NewAssistant(bot *Bot, manager *voice.Manager, convoMgr *convo.Manager, sttp stt.Provider, ttsp tts.Provider, cfg *config.Config, opts ...AssistantOption) (*Assistant, error) {
	wake, err := voice.NewMatcher(cfg.Wake.WakeWord, cfg.Wake.Phonetic())
	if err != nil {
		return nil, fmt.Errorf("discord: wake matcher: %w", err)
	}
	stop, err := voice.NewStopMatcher(cfg.Wake.StopPhrases)
	if err != nil {
		return nil, fmt.Errorf("discord: stop matcher: %w", err)
	}

	a := &Assistant{
		bot:              bot,
		manager:          manager,
		convo:            convoMgr,
		stt:              sttp,
		tts:              ttsp,
		wake:             wake,
		stop:             stop,
		logger:           slog.Default(),
		wakeCfg:          cfg.Wake,
		voiceCfg:         cfg.Voice,
		commandChannelID: cfg.Discord.CommandChannelID,
		replyInThread:    cfg.Discord.ReplyInThread,
		sessions:         make(map[string]*guildSession),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.register(bot.Router())
	session := bot.Session()
	session.AddHandler(a.handleMessageCreate)
	session.AddHandler(a.handleVoiceStateUpdate)
	return a, nil
}

// register wires the slash commands into the router.
func (a *Assistant) register(router *CommandRouter) {
	router.RegisterCommand("join", &discordgo.ApplicationCommand{
		Name:        "join",
		Description: "Join your current voice channel and start listening",
	}, a.handleJoin)
	router.RegisterCommand("leave", &discordgo.ApplicationCommand{
		Name:        "leave",
		Description: "Leave the voice channel",
	}, a.handleLeave)
	router.RegisterCommand("ask", &discordgo.ApplicationCommand{
		Name:        "ask",
		Description: "Ask the assistant a question in text",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "text",
				Description: "The question",
				Required:    true,
			},
		},
	}, a.handleAsk)
	router.RegisterCommand("reset", &discordgo.ApplicationCommand{
		Name:        "reset",
		Description: "Clear this channel's conversation history",
	}, a.handleReset)
	router.RegisterCommand("status", &discordgo.ApplicationCommand{
		Name:        "status",
		Description: "Show the assistant's voice connection status",
	}, a.handleStatus)
}

// Close tears down every active voice session.
func (a *Assistant) Close() {
	a.mu.Lock()
	guilds := make([]string, 0, len(a.sessions))
	for guildID := range a.sessions {
		guilds = append(guilds, guildID)
	}
	a.mu.Unlock()
	for _, guildID := range guilds {
		a.leaveVoice(guildID, "shutdown")
	}
}

// handleJoin handles /join.
func (a *Assistant) handleJoin(s *discordgo.Session, i *discordgo.InteractionCreate) {
	guildID := i.GuildID
	userID := interactionUserID(i)
	vs, err := s.State.VoiceState(guildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		RespondEphemeral(s, i, "You are not in a voice channel.")
		return
	}

	DeferReply(s, i)

	ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
	defer cancel()

	if err := a.joinChannel(ctx, guildID, vs.ChannelID, i.ChannelID); err != nil {
		FollowUp(s, i, fmt.Sprintf("Failed to join: %v", err))
		return
	}
	FollowUp(s, i, fmt.Sprintf("Listening in <#%s>. Say %q to talk to me.", vs.ChannelID, a.wake.Phrase()))
}

// joinChannel connects to a voice channel and binds the capture pipeline
// to it. Re-invoking for a guild that already has a session rebinds the
// text channel and lets the manager handle same-guild moves.
func (a *Assistant) joinChannel(ctx context.Context, guildID, voiceChannelID, textChannelID string) error {
	conn, err := a.manager.Join(ctx, guildID, voiceChannelID)
	if err != nil {
		return err
	}

	a.mu.Lock()
	if gs, ok := a.sessions[guildID]; ok && gs.session.Conn() == conn {
		gs.textChannelID = textChannelID
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	a.bindSession(guildID, voiceChannelID, textChannelID, conn)
	return nil
}

// bindSession builds the per-guild pipeline around conn and replaces any
// existing session for the guild.
func (a *Assistant) bindSession(guildID, voiceChannelID, textChannelID string, conn voice.Conn) {
	player := voice.NewPlayer(conn, a.logger)

	notify := func(ctx context.Context, text string) {
		a.postMessage(guildID, text)
	}
	conversation := voice.NewConversation(a.wake, a.stop, player, a.respondVoice(guildID), notify,
		voice.WithInactivityTimeout(a.wakeCfg.InactivityTimeout()),
		voice.WithMaxDuration(a.wakeCfg.MaxDuration()),
		voice.WithCooldown(a.wakeCfg.Cooldown()),
		voice.WithActivationHook(func(ctx context.Context, userID string) {
			a.metrics.RecordWake(ctx, guildID, "voice")
			a.publish(feed.Event{Kind: feed.KindWake, GuildID: guildID, ChannelID: voiceChannelID, UserID: userID})
		}),
		voice.WithConversationLogger(a.logger),
	)

	handler := func(ctx context.Context, t voice.Transcript) {
		a.metrics.RecordTranscript(ctx, guildID)
		a.publish(feed.Event{Kind: feed.KindTranscript, GuildID: guildID, ChannelID: voiceChannelID, UserID: t.UserID, Text: t.Text})
		conversation.HandleTranscript(ctx, t)
	}
	listener := voice.NewListener(conn, a.stt, player, handler,
		voice.WithListenWindow(a.voiceCfg.ListenWindow()),
		voice.WithListenerLogger(a.logger),
	)

	sess := voice.NewSession(conn, listener, conversation, player, a.leaveVoice,
		voice.WithIdleTimeout(a.voiceCfg.IdleTimeout()),
		voice.WithAloneTimeout(a.voiceCfg.AloneTimeout()),
		voice.WithSessionLogger(a.logger),
	)

	sessCtx, cancel := context.WithCancel(context.Background())
	reconnector := voice.NewReconnector(voice.ReconnectorConfig{
		Manager:   a.manager,
		GuildID:   guildID,
		ChannelID: voiceChannelID,
		OnReconnect: func(newConn voice.Conn) {
			a.logger.Info("discord: voice reconnected, rebinding pipeline", "guild_id", guildID)
			a.bindSession(guildID, voiceChannelID, textChannelID, newConn)
		},
		Logger: a.logger,
	})
	reconnector.Monitor(sessCtx)

	a.mu.Lock()
	old := a.sessions[guildID]
	a.sessions[guildID] = &guildSession{
		session:       sess,
		reconnector:   reconnector,
		textChannelID: textChannelID,
		cancel:        cancel,
	}
	a.mu.Unlock()

	if old != nil {
		old.reconnector.Stop()
		old.cancel()
		old.session.Close()
	} else {
		a.metrics.AddVoiceConnections(context.Background(), 1)
	}

	sess.Start(sessCtx)
	a.logger.Info("discord: voice session started",
		"guild_id", guildID, "voice_channel_id", voiceChannelID, "text_channel_id", textChannelID)
}

// leaveVoice tears down the guild's voice session. reason is logged only.
func (a *Assistant) leaveVoice(guildID, reason string) {
	a.mu.Lock()
	gs, ok := a.sessions[guildID]
	if ok {
		delete(a.sessions, guildID)
	}
	a.mu.Unlock()
	if !ok {
		return
	}

	gs.reconnector.Stop()
	gs.cancel()
	gs.session.Close()
	if err := a.manager.Leave(guildID); err != nil {
		a.logger.Warn("discord: voice leave failed", "guild_id", guildID, "err", err)
	}
	a.metrics.AddVoiceConnections(context.Background(), -1)
	a.logger.Info("discord: left voice channel", "guild_id", guildID, "reason", reason)
}

// handleLeave handles /leave.
func (a *Assistant) handleLeave(s *discordgo.Session, i *discordgo.InteractionCreate) {
	a.mu.Lock()
	_, ok := a.sessions[i.GuildID]
	a.mu.Unlock()
	if !ok {
		RespondEphemeral(s, i, "Not connected to a voice channel.")
		return
	}
	a.leaveVoice(i.GuildID, "command")
	RespondEphemeral(s, i, "Left the voice channel.")
}

// handleAsk handles /ask text:<question>.
func (a *Assistant) handleAsk(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	var question string
	for _, opt := range data.Options {
		if opt.Name == "text" {
			question = opt.StringValue()
		}
	}
	if strings.TrimSpace(question) == "" {
		RespondEphemeral(s, i, "Nothing to answer.")
		return
	}

	DeferReply(s, i)

	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()

	reply, err := a.convo.Reply(ctx, i.ChannelID, question)
	if err != nil {
		a.logger.Error("discord: ask failed", "channel_id", i.ChannelID, "err", err)
		FollowUp(s, i, "Sorry, I could not generate a reply.")
		return
	}
	a.metrics.RecordReply(ctx, i.GuildID)
	a.publish(feed.Event{Kind: feed.KindReply, GuildID: i.GuildID, ChannelID: i.ChannelID, UserID: interactionUserID(i), Text: reply})
	FollowUp(s, i, reply)
}

// handleReset handles /reset.
func (a *Assistant) handleReset(s *discordgo.Session, i *discordgo.InteractionCreate) {
	a.convo.Reset(i.ChannelID)
	RespondEphemeral(s, i, "Conversation history cleared.")
}

// handleStatus handles /status.
func (a *Assistant) handleStatus(s *discordgo.Session, i *discordgo.InteractionCreate) {
	a.mu.Lock()
	gs, connected := a.sessions[i.GuildID]
	a.mu.Unlock()

	channel := "not connected"
	listening := "no"
	activePrompt := "no"
	historyKey := i.ChannelID
	if connected {
		channel = fmt.Sprintf("<#%s>", gs.session.Conn().ChannelID())
		if gs.session.Listening() {
			listening = "yes"
		}
		if gs.session.Conversation().Active() {
			activePrompt = "yes"
		}
		historyKey = gs.textChannelID
	}

	RespondEmbed(s, i, &discordgo.MessageEmbed{
		Title: "parley status",
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Voice channel", Value: channel, Inline: true},
			{Name: "Listening", Value: listening, Inline: true},
			{Name: "Active prompt", Value: activePrompt, Inline: true},
			{Name: "History depth", Value: fmt.Sprintf("%d messages", a.convo.HistoryLen(historyKey)), Inline: true},
			{Name: "Wake phrase", Value: a.wake.Phrase(), Inline: true},
		},
	})
}

// respondVoice builds the responder that turns a finalized voice prompt
// into a posted and spoken reply.
func (a *Assistant) respondVoice(guildID string) voice.Responder {
	return func(ctx context.Context, userID, prompt string) {
		a.mu.Lock()
		gs, ok := a.sessions[guildID]
		a.mu.Unlock()
		if !ok {
			return
		}
		gs.session.TouchActivity()

		reply, err := a.convo.Reply(ctx, gs.textChannelID, prompt)
		if err != nil {
			a.logger.Error("discord: voice reply failed", "guild_id", guildID, "err", err)
			a.postMessage(guildID, "Sorry, I could not generate a reply.")
			return
		}
		a.metrics.RecordReply(ctx, guildID)
		a.publish(feed.Event{Kind: feed.KindReply, GuildID: guildID, ChannelID: gs.textChannelID, UserID: userID, Text: reply})

		a.postMessage(guildID, formatVoiceReply(userID, prompt, reply))
		a.speak(ctx, guildID, gs, reply)
	}
}

// speak synthesizes reply and plays it into the guild's voice channel.
func (a *Assistant) speak(ctx context.Context, guildID string, gs *guildSession, reply string) {
	path, err := a.tts.SynthesizeToFile(ctx, reply)
	if err != nil {
		a.logger.Error("discord: synthesis failed", "guild_id", guildID, "err", err)
		return
	}
	a.publish(feed.Event{Kind: feed.KindPlayback, GuildID: guildID, ChannelID: gs.session.Conn().ChannelID(), Text: reply})
	if err := gs.session.Player().PlayFile(ctx, path); err != nil {
		a.logger.Error("discord: playback failed", "guild_id", guildID, "err", err)
	}
}

// handleMessageCreate implements the text wake path: a message containing
// the wake phrase gets an LLM reply with no speech synthesis.
func (a *Assistant) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	if a.commandChannelID != "" && m.ChannelID != a.commandChannelID {
		return
	}
	remainder, woke := a.wake.Match(m.Content)
	if !woke || remainder == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()

	a.metrics.RecordWake(ctx, m.GuildID, "text")
	a.publish(feed.Event{Kind: feed.KindWake, GuildID: m.GuildID, ChannelID: m.ChannelID, UserID: m.Author.ID})

	reply, err := a.convo.Reply(ctx, m.ChannelID, remainder)
	if err != nil {
		a.logger.Error("discord: text reply failed", "channel_id", m.ChannelID, "err", err)
		return
	}
	a.metrics.RecordReply(ctx, m.GuildID)
	a.publish(feed.Event{Kind: feed.KindReply, GuildID: m.GuildID, ChannelID: m.ChannelID, UserID: m.Author.ID, Text: reply})

	if a.replyInThread {
		a.replyInNewThread(s, m, reply)
		return
	}
	if _, err := s.ChannelMessageSendReply(m.ChannelID, reply, m.Reference()); err != nil {
		a.logger.Warn("discord: failed to send reply", "channel_id", m.ChannelID, "err", err)
	}
}

// replyInNewThread posts the reply in a thread off the trigger message.
func (a *Assistant) replyInNewThread(s *discordgo.Session, m *discordgo.MessageCreate, reply string) {
	thread, err := s.MessageThreadStartComplex(m.ChannelID, m.ID, &discordgo.ThreadStart{
		Name:                threadName(m.Content),
		AutoArchiveDuration: 60,
	})
	if err != nil {
		a.logger.Warn("discord: failed to start thread, replying inline", "channel_id", m.ChannelID, "err", err)
		if _, err := s.ChannelMessageSendReply(m.ChannelID, reply, m.Reference()); err != nil {
			a.logger.Warn("discord: failed to send reply", "channel_id", m.ChannelID, "err", err)
		}
		return
	}
	if _, err := s.ChannelMessageSend(thread.ID, reply); err != nil {
		a.logger.Warn("discord: failed to send thread reply", "thread_id", thread.ID, "err", err)
	}
}

// handleVoiceStateUpdate feeds voice-state changes into disconnect
// detection and the alone timer.
func (a *Assistant) handleVoiceStateUpdate(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	a.mu.Lock()
	gs, ok := a.sessions[v.GuildID]
	a.mu.Unlock()
	if !ok {
		return
	}

	botID := ""
	if s.State != nil && s.State.User != nil {
		botID = s.State.User.ID
	}

	if v.UserID == botID {
		if v.ChannelID == "" {
			a.logger.Warn("discord: bot dropped from voice channel", "guild_id", v.GuildID)
			gs.reconnector.NotifyDisconnect()
		}
		return
	}

	humans, err := countHumansInChannel(s.State, v.GuildID, gs.session.Conn().ChannelID(), botID)
	if err != nil {
		a.logger.Debug("discord: cannot count channel members", "guild_id", v.GuildID, "err", err)
		return
	}
	gs.session.SetAlone(humans == 0)
}

// postMessage sends text to the guild's bound text channel.
func (a *Assistant) postMessage(guildID, text string) {
	a.mu.Lock()
	gs, ok := a.sessions[guildID]
	a.mu.Unlock()
	if !ok || gs.textChannelID == "" {
		return
	}
	if _, err := a.bot.Session().ChannelMessageSend(gs.textChannelID, text); err != nil {
		a.logger.Warn("discord: failed to post message", "channel_id", gs.textChannelID, "err", err)
	}
}

// publish sends ev to the event feed when one is configured.
func (a *Assistant) publish(ev feed.Event) {
	if a.feed != nil {
		a.feed.Publish(ev)
	}
}

// countHumansInChannel counts non-bot members connected to the given
// voice channel, excluding the bot itself. Members missing from the
// state cache count as human.
func countHumansInChannel(st *discordgo.State, guildID, channelID, botID string) (int, error) {
	guild, err := st.Guild(guildID)
	if err != nil {
		return 0, err
	}
	humans := 0
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != channelID || vs.UserID == botID {
			continue
		}
		member, err := st.Member(guildID, vs.UserID)
		if err == nil && member.User != nil && member.User.Bot {
			continue
		}
		humans++
	}
	return humans, nil
}

// formatVoiceReply renders the text-channel echo of a spoken exchange.
func formatVoiceReply(userID, prompt, reply string) string {
	speaker := "<@" + userID + ">"
	if strings.HasPrefix(userID, "ssrc:") {
		speaker = "An unidentified speaker"
	}
	return fmt.Sprintf("**%s said:** %s\n**parley:** %s", speaker, prompt, reply)
}

// threadName derives a thread title from the trigger message. Truncation
// happens on a rune boundary so a multi-byte character is never split.
func threadName(content string) string {
	content = strings.TrimSpace(content)
	const maxLen = 80
	if len(content) > maxLen {
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(content[cut]) {
			cut--
		}
		content = content[:cut]
	}
	if content == "" {
		content = "parley"
	}
	return content
}

// interactionUserID extracts the invoking user's ID from an interaction.
func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
