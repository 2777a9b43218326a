package voice

import (
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Segment is one speaker's contiguous audio from a capture window, as
// 48 kHz stereo 16-bit little-endian PCM.
type Segment struct {
	UserID    string
	StartedAt time.Time
	PCM       []byte
}

// Sink drains a connection's received packets for the duration of a
// capture window, decoding and buffering audio per speaker. One Sink
// serves one window; Stop returns the collected segments ordered by when
// each speaker first transmitted.
type Sink struct {
	conn   Conn
	logger *slog.Logger
	clock  func() time.Time

	mu       sync.Mutex
	decoders map[uint32]*opusDecoder
	buffers  map[uint32]*speakerBuffer
	stopped  bool

	done chan struct{}
	wg   sync.WaitGroup
}

type speakerBuffer struct {
	startedAt time.Time
	pcm       []byte
}

// NewSink returns a Sink draining the given connection. Call Start to
// begin collecting.
func NewSink(conn Conn, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		conn:     conn,
		logger:   logger,
		clock:    time.Now,
		decoders: make(map[uint32]*opusDecoder),
		buffers:  make(map[uint32]*speakerBuffer),
		done:     make(chan struct{}),
	}
}

// Start begins draining packets in the background.
func (s *Sink) Start() {
	s.wg.Add(1)
	go s.drain()
}

func (s *Sink) drain() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case pkt, ok := <-s.conn.Recv():
			if !ok {
				return
			}
			s.consume(pkt)
		}
	}
}

func (s *Sink) consume(pkt Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	dec, ok := s.decoders[pkt.SSRC]
	if !ok {
		var err error
		dec, err = newOpusDecoder()
		if err != nil {
			s.logger.Error("voice: cannot create decoder for speaker", "ssrc", pkt.SSRC, "error", err)
			return
		}
		s.decoders[pkt.SSRC] = dec
	}
	pcm, err := dec.decode(pkt.Opus)
	if err != nil {
		s.logger.Debug("voice: dropping undecodable packet", "ssrc", pkt.SSRC, "error", err)
		return
	}
	buf, ok := s.buffers[pkt.SSRC]
	if !ok {
		buf = &speakerBuffer{startedAt: s.clock()}
		s.buffers[pkt.SSRC] = buf
	}
	buf.pcm = append(buf.pcm, pcm...)
}

// Stop ends the window and returns the captured segments sorted by start
// time, earliest speaker first. Speakers whose SSRC never resolved to a
// user are attributed to their SSRC in decimal.
func (s *Sink) Stop() []Segment {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	segments := make([]Segment, 0, len(s.buffers))
	for ssrc, buf := range s.buffers {
		if len(buf.pcm) == 0 {
			continue
		}
		userID := s.conn.ResolveSSRC(ssrc)
		if userID == "" {
			userID = ssrcFallbackID(ssrc)
		}
		segments = append(segments, Segment{
			UserID:    userID,
			StartedAt: buf.startedAt,
			PCM:       buf.pcm,
		})
	}
	sort.Slice(segments, func(i, j int) bool {
		return segments[i].StartedAt.Before(segments[j].StartedAt)
	})
	return segments
}

func ssrcFallbackID(ssrc uint32) string {
	return "ssrc:" + strconv.FormatUint(uint64(ssrc), 10)
}
