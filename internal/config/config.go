// Package config provides the configuration schema and loader for the
// parley voice assistant.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// STTBackend selects the speech-to-text implementation.
type STTBackend string

const (
	// STTServer transcribes through a whisper-server HTTP endpoint.
	STTServer STTBackend = "server"

	// STTNative transcribes in-process through the whisper.cpp bindings.
	STTNative STTBackend = "native"
)

// IsValid reports whether b is a recognised STT backend.
func (b STTBackend) IsValid() bool {
	return b == STTServer || b == STTNative
}

// Config is the root configuration structure, typically loaded from a YAML
// file using [Load] or [LoadFromReader].
type Config struct {
	// LogLevel controls verbosity. Defaults to "info".
	LogLevel LogLevel `yaml:"log_level"`

	Discord DiscordConfig `yaml:"discord"`
	Wake    WakeConfig    `yaml:"wake"`
	Voice   VoiceConfig   `yaml:"voice"`
	STT     STTConfig     `yaml:"stt"`
	TTS     TTSConfig     `yaml:"tts"`
	LLM     LLMConfig     `yaml:"llm"`
	Ops     OpsConfig     `yaml:"ops"`
}

// DiscordConfig holds bot identity and text-surface settings.
type DiscordConfig struct {
	// Token is the bot token. Required.
	Token string `yaml:"token"`

	// GuildID scopes slash-command registration to one guild when set.
	// Empty registers commands globally.
	GuildID string `yaml:"guild_id"`

	// CommandChannelID restricts text wake-word handling to one channel when
	// set. Empty handles every channel the bot can read.
	CommandChannelID string `yaml:"command_channel_id"`

	// ReplyInThread posts transcript replies into a thread off the trigger
	// message instead of the channel itself.
	ReplyInThread bool `yaml:"reply_in_thread"`

	// Statuses is the rotation of presence texts. Empty disables rotation.
	Statuses []string `yaml:"statuses"`

	// StatusRotationSeconds is the rotation interval. Defaults to 300.
	StatusRotationSeconds int `yaml:"status_rotation_seconds"`
}

// WakeConfig tunes the wake-word conversation state machine.
type WakeConfig struct {
	// WakeWord is the phrase that opens a voice conversation.
	// Defaults to "hey assistant".
	WakeWord string `yaml:"wake_word"`

	// StopPhrases interrupt playback when heard mid-conversation.
	StopPhrases []string `yaml:"stop_phrases"`

	// CooldownSeconds suppresses re-activation for this long after a
	// conversation finalizes. Zero disables.
	CooldownSeconds int `yaml:"cooldown_seconds"`

	// InactivityTimeoutSeconds finalizes a conversation after this long
	// without a new fragment. Defaults to 2.
	InactivityTimeoutSeconds int `yaml:"inactivity_timeout_seconds"`

	// MaxDurationSeconds finalizes a conversation unconditionally this long
	// after activation. Defaults to 30.
	MaxDurationSeconds int `yaml:"max_duration_seconds"`

	// PhoneticMatching enables Metaphone-based near-miss wake detection.
	// Defaults to true.
	PhoneticMatching *bool `yaml:"phonetic_matching"`
}

// VoiceConfig tunes voice connection and capture behaviour.
type VoiceConfig struct {
	// ListenWindowSeconds is the duration of one capture window.
	// Defaults to 5.
	ListenWindowSeconds int `yaml:"listen_window_seconds"`

	// IdleTimeoutSeconds leaves the channel after this long without a
	// finalized conversation. Zero disables.
	IdleTimeoutSeconds int `yaml:"idle_timeout_seconds"`

	// AloneTimeoutSeconds leaves the channel after being the only human-less
	// member for this long. Zero disables.
	AloneTimeoutSeconds int `yaml:"alone_timeout_seconds"`

	// JoinAttempts bounds the voice join retry loop. Defaults to 4.
	JoinAttempts int `yaml:"join_attempts"`

	// JoinBackoffCapSeconds caps the exponential join backoff. Defaults to 5.
	JoinBackoffCapSeconds int `yaml:"join_backoff_cap_seconds"`
}

// STTConfig selects and tunes the speech-to-text backend.
type STTConfig struct {
	// Backend is "server" or "native". Defaults to "server".
	Backend STTBackend `yaml:"backend"`

	// ServerURL is the whisper-server base URL. Required for the server
	// backend; when set alongside the native backend it becomes the primary
	// with native as fallback.
	ServerURL string `yaml:"server_url"`

	// ModelPath is the ggml model file for the native backend.
	ModelPath string `yaml:"model_path"`

	// Language is the BCP-47 transcription language. Defaults to "en".
	Language string `yaml:"language"`
}

// TTSConfig tunes the Kokoro speech synthesis backend.
type TTSConfig struct {
	// ServerURL is the Kokoro server base URL. Required.
	ServerURL string `yaml:"server_url"`

	// Voice selects the Kokoro voice pack.
	Voice string `yaml:"voice"`

	// Speed is the speech rate multiplier in (0, 3]. Defaults to 1.0.
	Speed float64 `yaml:"speed"`

	// OutputDir receives synthesized WAV files. Defaults to the OS temp dir.
	OutputDir string `yaml:"output_dir"`
}

// LLMConfig tunes reply generation.
type LLMConfig struct {
	// Provider selects the backend: ollama, llamacpp, llamafile or openai.
	// Defaults to "ollama".
	Provider string `yaml:"provider"`

	// Host is the backend base URL. Defaults to http://localhost:11434.
	Host string `yaml:"host"`

	// Model is the model identifier (e.g., "llama3.1"). Required.
	Model string `yaml:"model"`

	// SystemPrompt is prepended to every conversation.
	SystemPrompt string `yaml:"system_prompt"`

	// HistoryTurns bounds retained history per channel. Defaults to 20.
	HistoryTurns int `yaml:"history_turns"`

	// MaxTokens bounds reply length. Zero means backend default.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls sampling randomness. Zero means backend default.
	Temperature float64 `yaml:"temperature"`

	// RequestTimeoutSeconds bounds one completion call. Defaults to 120.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
}

// OpsConfig configures the operational HTTP server.
type OpsConfig struct {
	// ListenAddr serves /metrics, /healthz, /readyz and /feed.
	// Empty disables the ops server entirely.
	ListenAddr string `yaml:"listen_addr"`

	// FeedEnabled turns on the websocket event feed at /feed.
	FeedEnabled bool `yaml:"feed_enabled"`
}

// Duration helpers so callers do not re-derive units from the second fields.

// StatusRotation returns the presence rotation interval.
func (d DiscordConfig) StatusRotation() time.Duration {
	return time.Duration(d.StatusRotationSeconds) * time.Second
}

// InactivityTimeout returns the conversation inactivity window.
func (w WakeConfig) InactivityTimeout() time.Duration {
	return time.Duration(w.InactivityTimeoutSeconds) * time.Second
}

// MaxDuration returns the conversation hard cap.
func (w WakeConfig) MaxDuration() time.Duration {
	return time.Duration(w.MaxDurationSeconds) * time.Second
}

// Cooldown returns the post-finalize activation cooldown.
func (w WakeConfig) Cooldown() time.Duration {
	return time.Duration(w.CooldownSeconds) * time.Second
}

// Phonetic reports whether phonetic wake matching is enabled (default true).
func (w WakeConfig) Phonetic() bool {
	return w.PhoneticMatching == nil || *w.PhoneticMatching
}

// ListenWindow returns the capture window duration.
func (v VoiceConfig) ListenWindow() time.Duration {
	return time.Duration(v.ListenWindowSeconds) * time.Second
}

// IdleTimeout returns the idle auto-disconnect window; zero disables.
func (v VoiceConfig) IdleTimeout() time.Duration {
	return time.Duration(v.IdleTimeoutSeconds) * time.Second
}

// AloneTimeout returns the alone auto-disconnect window; zero disables.
func (v VoiceConfig) AloneTimeout() time.Duration {
	return time.Duration(v.AloneTimeoutSeconds) * time.Second
}

// JoinBackoffCap returns the maximum join retry backoff.
func (v VoiceConfig) JoinBackoffCap() time.Duration {
	return time.Duration(v.JoinBackoffCapSeconds) * time.Second
}

// RequestTimeout returns the completion call deadline.
func (l LLMConfig) RequestTimeout() time.Duration {
	return time.Duration(l.RequestTimeoutSeconds) * time.Second
}

// applyDefaults fills unset fields with their documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = LogInfo
	}
	if cfg.Discord.StatusRotationSeconds == 0 {
		cfg.Discord.StatusRotationSeconds = 300
	}
	if cfg.Wake.WakeWord == "" {
		cfg.Wake.WakeWord = "hey assistant"
	}
	if cfg.Wake.StopPhrases == nil {
		cfg.Wake.StopPhrases = []string{"stop", "please stop talking now"}
	}
	if cfg.Wake.InactivityTimeoutSeconds == 0 {
		cfg.Wake.InactivityTimeoutSeconds = 2
	}
	if cfg.Wake.MaxDurationSeconds == 0 {
		cfg.Wake.MaxDurationSeconds = 30
	}
	if cfg.Voice.ListenWindowSeconds == 0 {
		cfg.Voice.ListenWindowSeconds = 5
	}
	if cfg.Voice.JoinAttempts == 0 {
		cfg.Voice.JoinAttempts = 4
	}
	if cfg.Voice.JoinBackoffCapSeconds == 0 {
		cfg.Voice.JoinBackoffCapSeconds = 5
	}
	if cfg.STT.Backend == "" {
		cfg.STT.Backend = STTServer
	}
	if cfg.STT.Language == "" {
		cfg.STT.Language = "en"
	}
	if cfg.TTS.Speed == 0 {
		cfg.TTS.Speed = 1.0
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "ollama"
	}
	if cfg.LLM.Host == "" {
		cfg.LLM.Host = "http://localhost:11434"
	}
	if cfg.LLM.HistoryTurns == 0 {
		cfg.LLM.HistoryTurns = 20
	}
	if cfg.LLM.RequestTimeoutSeconds == 0 {
		cfg.LLM.RequestTimeoutSeconds = 120
	}
}
