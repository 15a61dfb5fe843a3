package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr = ":8080"
	DefaultCacheDir   = "models"
)

// ValidProviderNames lists known provider names per kind. Unknown names only
// produce a warning so out-of-tree registrations keep working.
var ValidProviderNames = map[string][]string{
	"vad":    {"silero", "energy"},
	"stt":    {"whisper", "whisper-native"},
	"llm":    {"openai", "ollama", "llamacpp", "anthropic", "gemini", "mistral", "groq", "deepseek"},
	"tts":    {"kokoro", "openai", "coqui", "elevenlabs"},
	"vlm":    {"openai"},
	"detect": {"inference"},
}

// Load reads, defaults and validates the YAML file at path.
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

// LoadFromReader decodes YAML from r, applies defaults and validates the
// result. Unknown fields are rejected. An empty document yields the
// defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields that have a fixed default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Models.CacheDir == "" {
		cfg.Models.CacheDir = DefaultCacheDir
	}
}

// Validate checks cfg for coherence and returns every problem found, joined.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("server.max_sessions %d must not be negative", cfg.Server.MaxSessions))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls needs both cert_file and key_file"))
	}

	p := cfg.Providers
	for kind, e := range map[string]ProviderEntry{"vad": p.VAD, "stt": p.STT, "llm": p.LLM, "tts": p.TTS, "vlm": p.VLM, "detect": p.Detect} {
		errs = append(errs, validateEntry("providers."+kind, kind, e)...)
	}

	for _, kind := range WorkerKinds {
		t := cfg.toggle(kind)
		if t.Enabled == nil || !*t.Enabled {
			continue
		}
		for pk, e := range cfg.requiredProviders(kind) {
			if !e.Configured() {
				errs = append(errs, fmt.Errorf("workers.%s is enabled but providers.%s is not configured", kind, pk))
			}
		}
	}

	w := cfg.Workers
	if w.Conversation.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("workers.conversation.max_tokens %d must not be negative", w.Conversation.MaxTokens))
	}
	if w.Conversation.ContextWindow < 0 {
		errs = append(errs, fmt.Errorf("workers.conversation.context_window %d must not be negative", w.Conversation.ContextWindow))
	}
	for name, v := range map[string]int{"min_silence_ms": w.Conversation.MinSilenceMs, "min_speech_ms": w.Conversation.MinSpeechMs, "speech_pad_ms": w.Conversation.SpeechPadMs} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("workers.conversation.%s %d must not be negative", name, v))
		}
	}
	if t := w.Detect.ProviderThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("workers.detect.provider_threshold %.2f is out of range [0, 1]", t))
	}

	if cfg.Models.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("models.concurrency %d must not be negative", cfg.Models.Concurrency))
	}
	seen := make(map[string]int, len(cfg.Models.Files))
	for i, f := range cfg.Models.Files {
		prefix := fmt.Sprintf("models.files[%d]", i)
		if f.Path == "" {
			errs = append(errs, fmt.Errorf("%s.path is required", prefix))
		} else if prev, ok := seen[f.Path]; ok {
			errs = append(errs, fmt.Errorf("%s.path %q is a duplicate of models.files[%d]", prefix, f.Path, prev))
		} else {
			seen[f.Path] = i
		}
		if f.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required", prefix))
		}
		for _, k := range f.Workers {
			if !slices.Contains(WorkerKinds, k) {
				errs = append(errs, fmt.Errorf("%s.workers: unknown worker kind %q", prefix, k))
			}
		}
	}

	if cfg.WorkerEnabled(WorkerConversation) && cfg.History.PostgresDSN == "" {
		slog.Debug("history.postgres_dsn is empty; conversation history stays in memory")
	}

	return errors.Join(errs...)
}

func validateEntry(path, kind string, e ProviderEntry) []error {
	var errs []error
	if e.Name == "" {
		if len(e.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("%s has fallbacks but no name", path))
		}
		return errs
	}
	warnUnknownProvider(kind, e.Name)
	if len(e.Fallbacks) > 0 && kind != "stt" && kind != "llm" && kind != "tts" {
		errs = append(errs, fmt.Errorf("%s.fallbacks are only supported for stt, llm and tts", path))
	}
	for i, fb := range e.Fallbacks {
		fp := fmt.Sprintf("%s.fallbacks[%d]", path, i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", fp))
			continue
		}
		if len(fb.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("%s must not declare nested fallbacks", fp))
		}
		warnUnknownProvider(kind, fb.Name)
	}
	return errs
}

func warnUnknownProvider(kind, name string) {
	if known, ok := ValidProviderNames[kind]; ok && !slices.Contains(known, name) {
		slog.Warn("config: unknown provider name; may be a typo or a third-party provider",
			"kind", kind, "name", name, "known", known)
	}
}
