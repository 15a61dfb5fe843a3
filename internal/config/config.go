// Package config provides the configuration schema, loader, provider
// registry and file watcher for the webai server.
package config

import (
	"slices"

	"github.com/MrWong99/webai/internal/modelstore"
)

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

// Worker kinds that can be enabled in [WorkersConfig].
const (
	WorkerConversation = "conversation"
	WorkerTranscribe   = "transcribe"
	WorkerVLM          = "vlm"
	WorkerDetect       = "detect"
)

// WorkerKinds lists every worker kind in a stable order.
var WorkerKinds = []string{WorkerConversation, WorkerTranscribe, WorkerVLM, WorkerDetect}

// Config is the root configuration. It is typically loaded with [Load].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Workers   WorkersConfig   `yaml:"workers"`
	Models    ModelsConfig    `yaml:"models"`
	History   HistoryConfig   `yaml:"history"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on. Default ":8080".
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`

	// MaxSessions caps concurrent worker connections. Zero means unlimited.
	MaxSessions int `yaml:"max_sessions"`

	// AllowedOrigins are the browser origins permitted to open worker
	// sockets. Empty allows same-origin requests only.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TLSConfig holds PEM file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects a backend for each model capability.
type ProvidersConfig struct {
	VAD    ProviderEntry `yaml:"vad"`
	STT    ProviderEntry `yaml:"stt"`
	LLM    ProviderEntry `yaml:"llm"`
	TTS    ProviderEntry `yaml:"tts"`
	VLM    ProviderEntry `yaml:"vlm"`
	Detect ProviderEntry `yaml:"detect"`
}

// ProviderEntry configures one backend. Name selects the constructor in the
// [Registry].
type ProviderEntry struct {
	Name string `yaml:"name"`

	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default endpoint.
	BaseURL string `yaml:"base_url"`

	Model string `yaml:"model"`

	// Options holds backend-specific values.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when this backend fails. Supported for
	// stt, llm and tts.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// Configured reports whether a backend was selected.
func (e ProviderEntry) Configured() bool { return e.Name != "" }

// Toggle is embedded in every worker section. A worker whose Enabled is
// unset runs whenever its providers are configured.
type Toggle struct {
	Enabled *bool `yaml:"enabled"`
}

// WorkersConfig holds per-kind worker settings.
type WorkersConfig struct {
	Conversation ConversationConfig `yaml:"conversation"`
	Transcribe   TranscribeConfig   `yaml:"transcribe"`
	VLM          VLMConfig          `yaml:"vlm"`
	Detect       DetectConfig       `yaml:"detect"`
}

// ConversationConfig tunes the speech-to-speech worker.
type ConversationConfig struct {
	Toggle `yaml:",inline"`

	SystemPrompt string `yaml:"system_prompt"`
	DefaultVoice string `yaml:"default_voice"`
	Language     string `yaml:"language"`

	// MaxTokens caps each reply.
	MaxTokens int `yaml:"max_tokens"`

	// ContextWindow is the history budget in tokens.
	ContextWindow int `yaml:"context_window"`

	// Segmentation overrides, in milliseconds. Zero keeps the defaults.
	MinSilenceMs int `yaml:"min_silence_ms"`
	MinSpeechMs  int `yaml:"min_speech_ms"`
	SpeechPadMs  int `yaml:"speech_pad_ms"`
}

// TranscribeConfig tunes the standalone transcription worker.
type TranscribeConfig struct {
	Toggle `yaml:",inline"`

	Language string `yaml:"language"`
}

// VLMConfig tunes the vision-language worker.
type VLMConfig struct {
	Toggle `yaml:",inline"`

	// CacheDistance is the frame-cache pHash distance. Negative disables the
	// cache.
	CacheDistance int `yaml:"cache_distance"`
}

// DetectConfig tunes the object detection worker.
type DetectConfig struct {
	Toggle `yaml:",inline"`

	// ProviderThreshold is the score floor passed to the backend.
	ProviderThreshold float64 `yaml:"provider_threshold"`
}

// ModelsConfig lists the model artifacts fetched into the local cache.
type ModelsConfig struct {
	// CacheDir defaults to "models".
	CacheDir string `yaml:"cache_dir"`

	// Concurrency bounds parallel downloads.
	Concurrency int `yaml:"concurrency"`

	Files []ModelFile `yaml:"files"`
}

// ModelFile is a cached artifact and the worker kinds that need it before
// they can load.
type ModelFile struct {
	modelstore.File `yaml:",inline"`

	Workers []string `yaml:"workers"`
}

// HistoryConfig configures the conversation journal.
type HistoryConfig struct {
	// PostgresDSN enables the Postgres journal. Empty keeps history in
	// memory only.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// requiredProviders returns the providers a worker kind cannot run without.
func (c *Config) requiredProviders(kind string) map[string]ProviderEntry {
	p := c.Providers
	switch kind {
	case WorkerConversation:
		return map[string]ProviderEntry{"vad": p.VAD, "stt": p.STT, "llm": p.LLM, "tts": p.TTS}
	case WorkerTranscribe:
		return map[string]ProviderEntry{"stt": p.STT}
	case WorkerVLM:
		return map[string]ProviderEntry{"vlm": p.VLM}
	case WorkerDetect:
		return map[string]ProviderEntry{"detect": p.Detect}
	}
	return nil
}

func (c *Config) toggle(kind string) Toggle {
	switch kind {
	case WorkerConversation:
		return c.Workers.Conversation.Toggle
	case WorkerTranscribe:
		return c.Workers.Transcribe.Toggle
	case WorkerVLM:
		return c.Workers.VLM.Toggle
	case WorkerDetect:
		return c.Workers.Detect.Toggle
	}
	return Toggle{}
}

// WorkerEnabled reports whether the worker kind should be served. An
// explicit enabled flag wins; otherwise the worker runs when all of its
// providers are configured.
func (c *Config) WorkerEnabled(kind string) bool {
	if t := c.toggle(kind); t.Enabled != nil {
		return *t.Enabled
	}
	req := c.requiredProviders(kind)
	if req == nil {
		return false
	}
	for _, e := range req {
		if !e.Configured() {
			return false
		}
	}
	return true
}

// ModelFiles returns the artifacts needed by the given worker kind. Files
// without a workers list are needed by every kind.
func (c *Config) ModelFiles(kind string) []modelstore.File {
	var out []modelstore.File
	for _, f := range c.Models.Files {
		if len(f.Workers) == 0 || slices.Contains(f.Workers, kind) {
			out = append(out, f.File)
		}
	}
	return out
}
