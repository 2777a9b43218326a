package whisper

import (
	"encoding/binary"
	"math"
	"testing"
)

func putSamples(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func TestPcmToFloat32Mono(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		samples  []int16
		channels int
		want     []float32
	}{
		{"empty", nil, 1, nil},
		{"mono passthrough", []int16{16384, -16384}, 1, []float32{0.5, -0.5}},
		{"stereo averaged", []int16{16384, 0, -16384, -16384}, 2, []float32{0.25, -0.5}},
		{"zero channels treated as mono", []int16{16384}, 0, []float32{0.5}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			out := pcmToFloat32Mono(putSamples(tc.samples), tc.channels)
			if len(out) != len(tc.want) {
				t.Fatalf("got %d samples, want %d", len(out), len(tc.want))
			}
			for i := range tc.want {
				if math.Abs(float64(out[i]-tc.want[i])) > 1e-6 {
					t.Errorf("sample %d: got %f, want %f", i, out[i], tc.want[i])
				}
			}
		})
	}
}

func TestPcmToFloat32Mono_OddTrailingByteIgnored(t *testing.T) {
	t.Parallel()
	pcm := append(putSamples([]int16{100}), 0x7f)
	if out := pcmToFloat32Mono(pcm, 1); len(out) != 1 {
		t.Errorf("got %d samples, want 1", len(out))
	}
}
