// Package voice manages Discord voice channel connections: joining with
// retries around stale-session gateway closes, receiving and decoding
// per-speaker audio, encoding and sending playback, and the wake-word
// conversation state machine that sits on top of capture.
package voice

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Packet is one received Opus frame attributed to its RTP source.
type Packet struct {
	SSRC uint32
	Opus []byte
}

// Conn is an established voice channel connection.
type Conn interface {
	// GuildID returns the guild this connection belongs to.
	GuildID() string
	// ChannelID returns the currently joined channel.
	ChannelID() string
	// Move switches the connection to another channel in the same guild.
	Move(channelID string) error
	// Speaking toggles the speaking indicator. Must be set true before
	// sending audio and false after.
	Speaking(on bool) error
	// Recv yields received Opus packets. The channel is closed on
	// disconnect.
	Recv() <-chan Packet
	// Send accepts Opus frames for playback, paced by the caller.
	Send() chan<- []byte
	// ResolveSSRC maps an RTP source to the Discord user it belongs to.
	// Returns "" when the source has not announced itself yet.
	ResolveSSRC(ssrc uint32) string
	// Bitrate returns the outbound encoder bitrate for this channel,
	// already clamped to the supported range.
	Bitrate() int
	// Disconnect tears the connection down. Safe to call more than once.
	Disconnect() error
}

// Transport dials voice connections. Separated from Manager so join retry
// logic can be tested against a fake.
type Transport interface {
	// Join connects to a voice channel and returns the live connection.
	Join(guildID, channelID string) (Conn, error)
	// ClearVoiceState tells the gateway we are in no channel for the
	// guild, discarding any stale session the server still holds.
	ClearVoiceState(guildID string) error
}

// CloseError reports the voice gateway closing the websocket with a close
// code. Code 4006 means the voice session the server knew about is no
// longer valid and the session state must be discarded before rejoining.
type CloseError struct {
	Code int
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("voice gateway closed: close code %d", e.Code)
}

// closeCodeSessionInvalid is the voice gateway close code for a session
// that is no longer valid on the server side.
const closeCodeSessionInvalid = 4006

// ErrAlreadyConnected reports that the gateway believes a voice connection
// for the guild already exists.
var ErrAlreadyConnected = errors.New("voice: already connected to a voice channel in this guild")

const recvBuffer = 256

// discordTransport joins voice channels over a live discordgo session.
type discordTransport struct {
	session *discordgo.Session
	logger  *slog.Logger
}

// NewDiscordTransport returns a Transport backed by the given session.
func NewDiscordTransport(session *discordgo.Session, logger *slog.Logger) Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &discordTransport{session: session, logger: logger}
}

var _ Transport = (*discordTransport)(nil)

func (t *discordTransport) Join(guildID, channelID string) (Conn, error) {
	vc, err := t.session.ChannelVoiceJoin(guildID, channelID, false, false)
	if err != nil {
		return nil, classifyJoinError(err)
	}
	bitrate := defaultPlaybackBitrate
	if ch := t.lookupChannel(channelID); ch != nil {
		bitrate = clampBitrate(ch.Bitrate)
		if ch.Type == discordgo.ChannelTypeGuildStageVoice {
			if err := t.requestToSpeak(guildID, channelID); err != nil {
				t.logger.Warn("voice: request to speak in stage channel", "guild_id", guildID, "channel_id", channelID, "error", err)
			}
		}
	}
	conn := &discordConn{
		vc:      vc,
		logger:  t.logger,
		bitrate: bitrate,
		recv:    make(chan Packet, recvBuffer),
		send:    make(chan []byte, 8),
		done:    make(chan struct{}),
		users:   make(map[uint32]string),
	}
	conn.removeSpeaking = t.session.AddHandler(conn.handleSpeakingUpdate)
	go conn.recvLoop()
	go conn.sendLoop()
	return conn, nil
}

// lookupChannel resolves channel metadata, preferring the gateway state
// cache over a REST round trip. Returns nil when the channel is unknown.
func (t *discordTransport) lookupChannel(channelID string) *discordgo.Channel {
	if ch, err := t.session.State.Channel(channelID); err == nil {
		return ch
	}
	ch, err := t.session.Channel(channelID)
	if err != nil {
		t.logger.Debug("voice: channel lookup failed", "channel_id", channelID, "error", err)
		return nil
	}
	return ch
}

// requestToSpeak raises the bot's hand in a stage channel so a moderator
// can bring it to the stage. Stage audiences are suppressed on join.
func (t *discordTransport) requestToSpeak(guildID, channelID string) error {
	body := struct {
		ChannelID               string    `json:"channel_id"`
		RequestToSpeakTimestamp time.Time `json:"request_to_speak_timestamp"`
	}{ChannelID: channelID, RequestToSpeakTimestamp: time.Now()}
	endpoint := discordgo.EndpointGuildMemberVoiceState(guildID, "@me")
	if _, err := t.session.RequestWithBucketID("PATCH", endpoint, body, endpoint); err != nil {
		return fmt.Errorf("voice: request to speak in guild %s: %w", guildID, err)
	}
	return nil
}

func (t *discordTransport) ClearVoiceState(guildID string) error {
	// Joining channel "" updates the gateway voice state to disconnected
	// without needing a live VoiceConnection handle.
	if err := t.session.ChannelVoiceJoinManual(guildID, "", false, false); err != nil {
		return fmt.Errorf("voice: clear voice state for guild %s: %w", guildID, err)
	}
	return nil
}

// classifyJoinError maps discordgo failures onto the sentinel errors the
// join protocol retries on.
func classifyJoinError(err error) error {
	var closeErr *CloseError
	if errors.As(err, &closeErr) {
		return closeErr
	}
	if errors.Is(err, discordgo.ErrWSAlreadyOpen) {
		return ErrAlreadyConnected
	}
	// When the server holds a stale voice session it closes the voice
	// websocket with code 4006 and discordgo surfaces the failed
	// handshake as a timeout.
	if strings.Contains(err.Error(), "timeout waiting") {
		return &CloseError{Code: closeCodeSessionInvalid}
	}
	return err
}

// discordConn adapts a discordgo VoiceConnection to Conn.
type discordConn struct {
	vc      *discordgo.VoiceConnection
	logger  *slog.Logger
	bitrate int

	recv chan Packet
	send chan []byte
	done chan struct{}

	mu    sync.RWMutex
	users map[uint32]string

	removeSpeaking func()
	closeOnce      sync.Once
	closeErr       error
}

var _ Conn = (*discordConn)(nil)

func (c *discordConn) GuildID() string { return c.vc.GuildID }

func (c *discordConn) ChannelID() string { return c.vc.ChannelID }

func (c *discordConn) Move(channelID string) error {
	if err := c.vc.ChangeChannel(channelID, false, false); err != nil {
		return fmt.Errorf("voice: move to channel %s: %w", channelID, err)
	}
	return nil
}

func (c *discordConn) Speaking(on bool) error {
	if err := c.vc.Speaking(on); err != nil {
		return fmt.Errorf("voice: set speaking %t: %w", on, err)
	}
	return nil
}

func (c *discordConn) Bitrate() int { return c.bitrate }

func (c *discordConn) Recv() <-chan Packet { return c.recv }

func (c *discordConn) Send() chan<- []byte { return c.send }

func (c *discordConn) ResolveSSRC(ssrc uint32) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.users[ssrc]
}

func (c *discordConn) Disconnect() error {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.removeSpeaking != nil {
			c.removeSpeaking()
		}
		c.closeErr = c.vc.Disconnect()
	})
	return c.closeErr
}

// handleSpeakingUpdate records SSRC to user mappings announced over the
// voice websocket. Discord sends one per speaker when they first transmit.
func (c *discordConn) handleSpeakingUpdate(_ *discordgo.Session, su *discordgo.VoiceSpeakingUpdate) {
	if su == nil || su.UserID == "" {
		return
	}
	c.mu.Lock()
	c.users[uint32(su.SSRC)] = su.UserID
	c.mu.Unlock()
}

// recvLoop forwards received Opus packets. Packets are dropped when the
// consumer falls behind rather than blocking the UDP reader. recvLoop is
// the only closer of c.recv so Disconnect cannot race a pending forward.
func (c *discordConn) recvLoop() {
	defer close(c.recv)
	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil {
				continue
			}
			select {
			case c.recv <- Packet{SSRC: pkt.SSRC, Opus: pkt.Opus}:
			case <-c.done:
				return
			default:
				c.logger.Debug("voice: dropping received packet, consumer behind", "ssrc", pkt.SSRC)
			}
		}
	}
}

// sendLoop paces queued Opus frames onto the voice connection at the 20 ms
// frame interval.
func (c *discordConn) sendLoop() {
	ticker := time.NewTicker(opusFrameSizeMs * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			<-ticker.C
			select {
			case c.vc.OpusSend <- frame:
			case <-c.done:
				return
			}
		}
	}
}
