package observe

import (
	"context"
	"time"

	"github.com/parleybot/parley/pkg/provider/llm"
	"github.com/parleybot/parley/pkg/provider/stt"
	"github.com/parleybot/parley/pkg/provider/tts"
)

// InstrumentSTT wraps p so every transcription records its duration in the
// parley.stt.duration histogram. A nil Metrics records nothing.
func InstrumentSTT(p stt.Provider, m *Metrics) stt.Provider {
	return &instrumentedSTT{p: p, m: m}
}

type instrumentedSTT struct {
	p stt.Provider
	m *Metrics
}

var _ stt.Provider = (*instrumentedSTT)(nil)

func (w *instrumentedSTT) Transcribe(ctx context.Context, wav []byte) (string, error) {
	start := time.Now()
	text, err := w.p.Transcribe(ctx, wav)
	w.m.RecordStageDuration(ctx, "stt", time.Since(start))
	return text, err
}

func (w *instrumentedSTT) Ping(ctx context.Context) error { return w.p.Ping(ctx) }

func (w *instrumentedSTT) Close() error { return w.p.Close() }

// InstrumentTTS wraps p so every synthesis records its duration in the
// parley.tts.duration histogram.
func InstrumentTTS(p tts.Provider, m *Metrics) tts.Provider {
	return &instrumentedTTS{p: p, m: m}
}

type instrumentedTTS struct {
	p tts.Provider
	m *Metrics
}

var _ tts.Provider = (*instrumentedTTS)(nil)

func (w *instrumentedTTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	start := time.Now()
	wav, err := w.p.Synthesize(ctx, text)
	w.m.RecordStageDuration(ctx, "tts", time.Since(start))
	return wav, err
}

func (w *instrumentedTTS) SynthesizeToFile(ctx context.Context, text string) (string, error) {
	start := time.Now()
	path, err := w.p.SynthesizeToFile(ctx, text)
	w.m.RecordStageDuration(ctx, "tts", time.Since(start))
	return path, err
}

func (w *instrumentedTTS) Ping(ctx context.Context) error { return w.p.Ping(ctx) }

func (w *instrumentedTTS) Close() error { return w.p.Close() }

// InstrumentLLM wraps p so every completion records its duration in the
// parley.llm.duration histogram.
func InstrumentLLM(p llm.Provider, m *Metrics) llm.Provider {
	return &instrumentedLLM{p: p, m: m}
}

type instrumentedLLM struct {
	p llm.Provider
	m *Metrics
}

var _ llm.Provider = (*instrumentedLLM)(nil)

func (w *instrumentedLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	start := time.Now()
	reply, err := w.p.Complete(ctx, req)
	w.m.RecordStageDuration(ctx, "llm", time.Since(start))
	return reply, err
}

func (w *instrumentedLLM) Close() error { return w.p.Close() }
