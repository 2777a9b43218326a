package voice

import (
	"sync"
)

// fakeConn is an in-memory Conn for tests.
type fakeConn struct {
	guildID   string
	channelID string
	recv      chan Packet
	send      chan []byte

	mu           sync.Mutex
	users        map[uint32]string
	speaking     []bool
	moves        []string
	disconnected bool
}

func newFakeConn(guildID, channelID string) *fakeConn {
	return &fakeConn{
		guildID:   guildID,
		channelID: channelID,
		recv:      make(chan Packet, 64),
		send:      make(chan []byte, 64),
		users:     make(map[uint32]string),
	}
}

var _ Conn = (*fakeConn)(nil)

func (c *fakeConn) GuildID() string   { return c.guildID }
func (c *fakeConn) ChannelID() string { return c.channelID }

func (c *fakeConn) Move(channelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.moves = append(c.moves, channelID)
	c.channelID = channelID
	return nil
}

func (c *fakeConn) Speaking(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speaking = append(c.speaking, on)
	return nil
}

func (c *fakeConn) Bitrate() int        { return defaultPlaybackBitrate }
func (c *fakeConn) Recv() <-chan Packet { return c.recv }
func (c *fakeConn) Send() chan<- []byte { return c.send }

func (c *fakeConn) ResolveSSRC(ssrc uint32) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.users[ssrc]
}

func (c *fakeConn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.disconnected {
		c.disconnected = true
		close(c.recv)
	}
	return nil
}

func (c *fakeConn) isDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// fakeTransport scripts join outcomes for manager tests.
type fakeTransport struct {
	// joinGate, when non-nil, blocks every Join until the gate is closed.
	// Set before first use.
	joinGate chan struct{}

	mu       sync.Mutex
	joinErrs []error // popped per Join call; nil entry means success
	joins    []string
	cleared  []string
}

var _ Transport = (*fakeTransport)(nil)

func (t *fakeTransport) Join(guildID, channelID string) (Conn, error) {
	if t.joinGate != nil {
		<-t.joinGate
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.joins = append(t.joins, guildID+"/"+channelID)
	if len(t.joinErrs) > 0 {
		err := t.joinErrs[0]
		t.joinErrs = t.joinErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return newFakeConn(guildID, channelID), nil
}

func (t *fakeTransport) ClearVoiceState(guildID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cleared = append(t.cleared, guildID)
	return nil
}

func (t *fakeTransport) joinCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.joins)
}
