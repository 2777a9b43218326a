package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, applies defaults and
// returns a validated [Config]. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Unknown YAML keys are rejected. Useful in tests where configs
// are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found. Soft issues are logged
// as warnings instead of failing.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Discord
	if cfg.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required"))
	}
	if cfg.Discord.StatusRotationSeconds < 0 {
		errs = append(errs, fmt.Errorf("discord.status_rotation_seconds %d must not be negative", cfg.Discord.StatusRotationSeconds))
	}
	if len(cfg.Discord.Statuses) == 0 {
		slog.Warn("discord.statuses is empty; presence rotation is disabled")
	}

	// Wake
	if cfg.Wake.WakeWord == "" {
		errs = append(errs, errors.New("wake.wake_word must not be empty"))
	} else if len(strings.Fields(cfg.Wake.WakeWord)) == 1 && len(cfg.Wake.WakeWord) < 4 {
		slog.Warn("wake.wake_word is a single short token; expect frequent false activations",
			"wake_word", cfg.Wake.WakeWord)
	}
	if cfg.Wake.InactivityTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("wake.inactivity_timeout_seconds %d must be positive", cfg.Wake.InactivityTimeoutSeconds))
	}
	if cfg.Wake.MaxDurationSeconds <= 0 {
		errs = append(errs, fmt.Errorf("wake.max_duration_seconds %d must be positive", cfg.Wake.MaxDurationSeconds))
	}
	if cfg.Wake.MaxDurationSeconds > 0 && cfg.Wake.InactivityTimeoutSeconds > cfg.Wake.MaxDurationSeconds {
		errs = append(errs, fmt.Errorf("wake.inactivity_timeout_seconds %d exceeds wake.max_duration_seconds %d",
			cfg.Wake.InactivityTimeoutSeconds, cfg.Wake.MaxDurationSeconds))
	}
	if cfg.Wake.CooldownSeconds < 0 {
		errs = append(errs, fmt.Errorf("wake.cooldown_seconds %d must not be negative", cfg.Wake.CooldownSeconds))
	}

	// Voice
	if cfg.Voice.ListenWindowSeconds <= 0 {
		errs = append(errs, fmt.Errorf("voice.listen_window_seconds %d must be positive", cfg.Voice.ListenWindowSeconds))
	}
	if cfg.Voice.IdleTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("voice.idle_timeout_seconds %d must not be negative", cfg.Voice.IdleTimeoutSeconds))
	}
	if cfg.Voice.AloneTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("voice.alone_timeout_seconds %d must not be negative", cfg.Voice.AloneTimeoutSeconds))
	}
	if cfg.Voice.JoinAttempts <= 0 {
		errs = append(errs, fmt.Errorf("voice.join_attempts %d must be positive", cfg.Voice.JoinAttempts))
	}

	// STT
	if !cfg.STT.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("stt.backend %q is invalid; valid values: server, native", cfg.STT.Backend))
	}
	if cfg.STT.Backend == STTServer && cfg.STT.ServerURL == "" {
		errs = append(errs, errors.New("stt.server_url is required for the server backend"))
	}
	if cfg.STT.Backend == STTNative && cfg.STT.ModelPath == "" {
		errs = append(errs, errors.New("stt.model_path is required for the native backend"))
	}

	// TTS
	if cfg.TTS.ServerURL == "" {
		errs = append(errs, errors.New("tts.server_url is required"))
	}
	if cfg.TTS.Speed <= 0 || cfg.TTS.Speed > 3 {
		errs = append(errs, fmt.Errorf("tts.speed %.2f is out of range (0, 3]", cfg.TTS.Speed))
	}

	// LLM
	if cfg.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	if cfg.LLM.HistoryTurns < 0 {
		errs = append(errs, fmt.Errorf("llm.history_turns %d must not be negative", cfg.LLM.HistoryTurns))
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature %.2f is out of range [0, 2]", cfg.LLM.Temperature))
	}

	if cfg.Ops.ListenAddr == "" && cfg.Ops.FeedEnabled {
		slog.Warn("ops.feed_enabled is set but ops.listen_addr is empty; the event feed will not be served")
	}

	return errors.Join(errs...)
}
