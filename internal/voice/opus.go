package voice

import (
	"fmt"

	"layeh.com/gopus"
)

// Discord voice uses 48 kHz stereo Opus at 20 ms frame size.
const (
	opusSampleRate  = 48000
	opusChannels    = 2
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per channel per 20 ms frame.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000 // 960
	// opusFrameBytes is the exact PCM input size for one Opus frame:
	// 960 samples/channel × 2 channels × 2 bytes/sample.
	opusFrameBytes = opusFrameSize * opusChannels * 2
)

// Outbound bitrate follows the voice channel's configured bitrate, clamped
// to Discord's supported range.
const (
	minPlaybackBitrate     = 16_000
	maxPlaybackBitrate     = 320_000
	defaultPlaybackBitrate = 64_000
)

// clampBitrate bounds a channel bitrate to the supported encoder range.
// Non-positive values (channel unknown) fall back to the default.
func clampBitrate(bitrate int) int {
	switch {
	case bitrate <= 0:
		return defaultPlaybackBitrate
	case bitrate < minPlaybackBitrate:
		return minPlaybackBitrate
	case bitrate > maxPlaybackBitrate:
		return maxPlaybackBitrate
	}
	return bitrate
}

// opusDecoder wraps a gopus decoder for a single speaker stream. Each SSRC
// gets its own decoder so codec state stays consistent across frames.
type opusDecoder struct {
	dec *gopus.Decoder
}

func newOpusDecoder() (*opusDecoder, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("voice: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec}, nil
}

// decode decodes one Opus packet into interleaved little-endian int16 PCM.
func (d *opusDecoder) decode(opus []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(opus, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("voice: opus decode: %w", err)
	}
	return int16sToBytes(pcm), nil
}

// opusEncoder wraps a gopus encoder for the playback stream.
type opusEncoder struct {
	enc *gopus.Encoder
}

func newOpusEncoder(bitrate int) (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("voice: create opus encoder: %w", err)
	}
	enc.SetBitrate(clampBitrate(bitrate))
	return &opusEncoder{enc: enc}, nil
}

// encode encodes exactly one frame of interleaved little-endian int16 PCM.
func (e *opusEncoder) encode(pcmBytes []byte) ([]byte, error) {
	opus, err := e.enc.Encode(bytesToInt16s(pcmBytes), opusFrameSize, len(pcmBytes))
	if err != nil {
		return nil, fmt.Errorf("voice: opus encode: %w", err)
	}
	return opus, nil
}

// ProbeOpus constructs and discards an encoder, verifying the codec library
// is usable. Used by startup preflight.
func ProbeOpus() error {
	_, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Audio)
	if err != nil {
		return fmt.Errorf("voice: opus codec unavailable: %w", err)
	}
	return nil
}

// int16sToBytes converts int16 PCM samples to little-endian bytes.
func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// bytesToInt16s converts little-endian bytes to int16 PCM samples.
func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
