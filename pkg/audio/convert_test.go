package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/parleybot/parley/pkg/audio"
)

// samplesToBytes converts int16 samples to little-endian bytes.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts little-endian bytes to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestMonoToStereo(t *testing.T) {
	t.Parallel()
	mono := samplesToBytes([]int16{100, 200, 300})
	got := bytesToSamples(audio.MonoToStereo(mono))
	want := []int16{100, 100, 200, 200, 300, 300}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()
	// Two stereo frames: L=100,R=200 and L=-100,R=-200.
	stereo := samplesToBytes([]int16{100, 200, -100, -200})
	got := bytesToSamples(audio.StereoToMono(stereo))
	want := []int16{150, -150}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMono_Clamping(t *testing.T) {
	t.Parallel()
	// Max-positive L and R must clamp, not overflow.
	stereo := samplesToBytes([]int16{32767, 32767})
	got := bytesToSamples(audio.StereoToMono(stereo))
	if len(got) != 1 || got[0] != 32767 {
		t.Errorf("got %v, want [32767]", got)
	}
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		samples     []int16
		srcRate     int
		dstRate     int
		wantSamples int
	}{
		{"same rate passthrough", []int16{100, 200, 300}, 48000, 48000, 3},
		{"downsample 48k to 16k", make([]int16, 480), 48000, 16000, 160},
		{"upsample 16k to 48k", make([]int16, 160), 16000, 48000, 480},
		{"invalid src rate passthrough", []int16{1, 2}, 0, 16000, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			out := audio.ResampleMono16(samplesToBytes(tc.samples), tc.srcRate, tc.dstRate)
			if got := len(out) / 2; got != tc.wantSamples {
				t.Errorf("got %d samples, want %d", got, tc.wantSamples)
			}
		})
	}
}

func TestResampleMono16_Interpolates(t *testing.T) {
	t.Parallel()
	// Upsampling a two-sample ramp by 2x must place an interpolated value
	// between the source samples.
	pcm := samplesToBytes([]int16{0, 1000})
	out := bytesToSamples(audio.ResampleMono16(pcm, 8000, 16000))
	if len(out) != 4 {
		t.Fatalf("got %d samples, want 4", len(out))
	}
	if out[1] != 500 {
		t.Errorf("interpolated sample: got %d, want 500", out[1])
	}
}

func TestResampleStereo16(t *testing.T) {
	t.Parallel()
	// 10 stereo frames at 48k resampled to 16k must yield 3 frames with
	// channels kept independent.
	src := make([]int16, 0, 20)
	for i := 0; i < 10; i++ {
		src = append(src, 1000, -1000)
	}
	out := bytesToSamples(audio.ResampleStereo16(samplesToBytes(src), 48000, 16000))
	if len(out) != 6 {
		t.Fatalf("got %d samples, want 6", len(out))
	}
	for i := 0; i < len(out); i += 2 {
		if out[i] != 1000 || out[i+1] != -1000 {
			t.Errorf("frame %d: got L=%d R=%d, want L=1000 R=-1000", i/2, out[i], out[i+1])
		}
	}
}

func TestConverter(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		src       audio.Format
		target    audio.Format
		samples   []int16
		wantBytes int
	}{
		{
			name:      "matching format untouched",
			src:       audio.Format{SampleRate: 16000, Channels: 1},
			target:    audio.Format{SampleRate: 16000, Channels: 1},
			samples:   []int16{1, 2, 3},
			wantBytes: 6,
		},
		{
			name:      "48k stereo to 16k mono",
			src:       audio.Format{SampleRate: 48000, Channels: 2},
			target:    audio.Format{SampleRate: 16000, Channels: 1},
			samples:   make([]int16, 960), // 480 stereo frames
			wantBytes: 320,                // 160 mono samples
		},
		{
			name:      "16k mono to 48k stereo",
			src:       audio.Format{SampleRate: 16000, Channels: 1},
			target:    audio.Format{SampleRate: 48000, Channels: 2},
			samples:   make([]int16, 160),
			wantBytes: 1920, // 480 stereo frames
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			conv := &audio.Converter{Target: tc.target}
			out := conv.Convert(samplesToBytes(tc.samples), tc.src)
			if len(out) != tc.wantBytes {
				t.Errorf("got %d bytes, want %d", len(out), tc.wantBytes)
			}
		})
	}
}

func TestConverter_OddByteCountDropped(t *testing.T) {
	t.Parallel()
	conv := &audio.Converter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	out := conv.Convert([]byte{1, 2, 3}, audio.Format{SampleRate: 48000, Channels: 2})
	if out != nil {
		t.Errorf("got %d bytes, want nil for misaligned input", len(out))
	}
}
