// Command parley is the Discord voice assistant server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/parleybot/parley/internal/config"
	"github.com/parleybot/parley/internal/convo"
	discordbot "github.com/parleybot/parley/internal/discord"
	"github.com/parleybot/parley/internal/feed"
	"github.com/parleybot/parley/internal/health"
	"github.com/parleybot/parley/internal/observe"
	"github.com/parleybot/parley/internal/preflight"
	"github.com/parleybot/parley/internal/resilience"
	"github.com/parleybot/parley/internal/voice"
	"github.com/parleybot/parley/pkg/provider/llm"
	"github.com/parleybot/parley/pkg/provider/llm/anyllm"
	"github.com/parleybot/parley/pkg/provider/stt"
	"github.com/parleybot/parley/pkg/provider/stt/whisper"
	"github.com/parleybot/parley/pkg/provider/tts"
	"github.com/parleybot/parley/pkg/provider/tts/kokoro"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	skipPreflight := flag.Bool("skip-preflight", false, "skip backend reachability checks at startup")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parley: config file %q not found, copy config.example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	slog.Info("parley starting",
		"config", *configPath,
		"log_level", cfg.LogLevel,
		"wake_word", cfg.Wake.WakeWord,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer shutdownTelemetry(otelShutdown)
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	sttProvider, err := buildSTT(cfg)
	if err != nil {
		slog.Error("failed to build STT provider", "err", err)
		return 1
	}
	defer closeProvider("stt", sttProvider)

	ttsProvider, err := kokoro.New(cfg.TTS.ServerURL,
		kokoro.WithVoice(cfg.TTS.Voice),
		kokoro.WithSpeed(cfg.TTS.Speed),
		kokoro.WithOutputDir(cfg.TTS.OutputDir),
	)
	if err != nil {
		slog.Error("failed to build TTS provider", "err", err)
		return 1
	}
	defer closeProvider("tts", ttsProvider)

	llmProvider, err := buildLLM(cfg)
	if err != nil {
		slog.Error("failed to build LLM provider", "err", err)
		return 1
	}
	defer closeProvider("llm", llmProvider)

	// ── Preflight ─────────────────────────────────────────────────────────────
	if *skipPreflight {
		slog.Warn("preflight checks skipped; backends may be unreachable")
	} else {
		runner := preflight.NewRunner(preflightChecks(cfg, sttProvider, ttsProvider), preflight.WithLogger(logger))
		if err := runner.Run(ctx); err != nil {
			slog.Error("preflight failed", "err", err)
			return 1
		}
		slog.Info("preflight passed")
	}

	// ── Discord ───────────────────────────────────────────────────────────────
	bot, err := discordbot.New(cfg.Discord, discordbot.WithBotLogger(logger))
	if err != nil {
		slog.Error("failed to connect to Discord", "err", err)
		return 1
	}
	defer closeBot(bot)

	manager := voice.NewManager(voice.NewDiscordTransport(bot.Session(), logger),
		voice.WithJoinAttempts(cfg.Voice.JoinAttempts),
		voice.WithJoinBackoffCap(cfg.Voice.JoinBackoffCap()),
		voice.WithManagerLogger(logger),
		voice.WithJoinRetryHook(func(reason string) {
			metrics.RecordJoinRetry(ctx, reason)
		}),
	)
	defer closeProvider("voice", manager)

	convoMgr := convo.New(observe.InstrumentLLM(llmProvider, metrics),
		convo.WithSystemPrompt(cfg.LLM.SystemPrompt),
		convo.WithHistoryTurns(cfg.LLM.HistoryTurns),
		convo.WithMaxTokens(cfg.LLM.MaxTokens),
		convo.WithTemperature(cfg.LLM.Temperature),
	)

	var broadcaster *feed.Broadcaster
	if cfg.Ops.ListenAddr != "" && cfg.Ops.FeedEnabled {
		broadcaster = feed.NewBroadcaster(logger)
		defer broadcaster.Close()
	}

	assistantOpts := []discordbot.AssistantOption{
		discordbot.WithMetrics(metrics),
		discordbot.WithAssistantLogger(logger),
	}
	if broadcaster != nil {
		assistantOpts = append(assistantOpts, discordbot.WithFeed(broadcaster))
	}
	assistant, err := discordbot.NewAssistant(bot, manager, convoMgr,
		observe.InstrumentSTT(sttProvider, metrics),
		observe.InstrumentTTS(ttsProvider, metrics),
		cfg, assistantOpts...)
	if err != nil {
		slog.Error("failed to build assistant", "err", err)
		return 1
	}
	defer assistant.Close()

	// ── Serve ─────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := bot.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("discord bot: %w", err)
		}
		return nil
	})

	if cfg.Ops.ListenAddr != "" {
		server := opsServer(cfg, bot, sttProvider, ttsProvider, broadcaster, metrics)
		g.Go(func() error {
			slog.Info("ops server listening", "addr", cfg.Ops.ListenAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ops server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	slog.Info("parley ready, press Ctrl+C to shut down")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildSTT constructs the speech-to-text provider. When both the server URL
// and a native model path are configured, the server is primary and the
// in-process model takes over behind a circuit breaker.
func buildSTT(cfg *config.Config) (stt.Provider, error) {
	var server *whisper.Server
	if cfg.STT.ServerURL != "" {
		s, err := whisper.NewServer(cfg.STT.ServerURL, whisper.WithLanguage(cfg.STT.Language))
		if err != nil {
			return nil, err
		}
		server = s
	}

	var native *whisper.Native
	if cfg.STT.ModelPath != "" {
		n, err := whisper.NewNative(cfg.STT.ModelPath, whisper.WithNativeLanguage(cfg.STT.Language))
		if err != nil {
			return nil, err
		}
		native = n
	}

	switch {
	case server != nil && native != nil:
		fb := resilience.NewSTTFallback(server, "whisper-server", resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: time.Minute},
		})
		fb.AddFallback("whisper-native", native)
		slog.Info("stt fallback enabled", "primary", "whisper-server", "fallback", "whisper-native")
		return fb, nil
	case cfg.STT.Backend == config.STTNative:
		if native == nil {
			return nil, errors.New("stt: native backend selected but model_path is empty")
		}
		return native, nil
	default:
		if server == nil {
			return nil, errors.New("stt: server backend selected but server_url is empty")
		}
		return server, nil
	}
}

// buildLLM constructs the completion provider with the configured
// per-request deadline.
func buildLLM(cfg *config.Config) (llm.Provider, error) {
	p, err := anyllm.New(cfg.LLM.Provider, cfg.LLM.Model, anyllmlib.WithBaseURL(cfg.LLM.Host))
	if err != nil {
		return nil, err
	}
	return &deadlineLLM{p: p, timeout: cfg.LLM.RequestTimeout()}, nil
}

// deadlineLLM bounds every completion call with a timeout so a hung
// backend cannot stall the voice pipeline indefinitely.
type deadlineLLM struct {
	p       llm.Provider
	timeout time.Duration
}

var _ llm.Provider = (*deadlineLLM)(nil)

func (d *deadlineLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	return d.p.Complete(ctx, req)
}

func (d *deadlineLLM) Close() error { return d.p.Close() }

// ── Preflight ─────────────────────────────────────────────────────────────────

func preflightChecks(cfg *config.Config, sttProvider stt.Provider, ttsProvider tts.Provider) []preflight.Check {
	checks := []preflight.Check{
		preflight.FuncCheck("opus", func(context.Context) error { return voice.ProbeOpus() }),
	}

	if cfg.STT.ServerURL != "" {
		checks = append(checks, preflight.PingCheck("stt", sttProvider))
	} else {
		checks = append(checks, preflight.ModelFileCheck("stt", cfg.STT.ModelPath))
	}

	checks = append(checks,
		preflight.PingCheck("tts", ttsProvider),
		preflight.FuncCheck("llm", func(ctx context.Context) error {
			return anyllm.PingOllama(ctx, cfg.LLM.Host)
		}),
	)
	return checks
}

// ── Ops HTTP server ───────────────────────────────────────────────────────────

func opsServer(cfg *config.Config, bot *discordbot.Bot, sttProvider stt.Provider, ttsProvider tts.Provider, broadcaster *feed.Broadcaster, metrics *observe.Metrics) *http.Server {
	checkers := []health.Checker{
		health.GatewayChecker(bot.Connected),
		health.ProviderChecker("tts", ttsProvider),
		{Name: "llm", Check: func(ctx context.Context) error {
			return anyllm.PingOllama(ctx, cfg.LLM.Host)
		}},
	}
	if cfg.STT.ServerURL != "" {
		checkers = append(checkers, health.ProviderChecker("stt", sttProvider))
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	if broadcaster != nil {
		mux.Handle("/feed", broadcaster)
	}

	return &http.Server{
		Addr:              cfg.Ops.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ── Shutdown helpers ──────────────────────────────────────────────────────────

func closeProvider(name string, c interface{ Close() error }) {
	if err := c.Close(); err != nil {
		slog.Warn("close failed", "component", name, "err", err)
	}
}

func closeBot(b *discordbot.Bot) {
	if err := b.Close(); err != nil {
		slog.Warn("discord bot close error", "err", err)
	}
}

func shutdownTelemetry(shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
