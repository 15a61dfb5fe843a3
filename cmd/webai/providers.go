package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/webai/internal/config"
	"github.com/MrWong99/webai/pkg/provider/detect"
	"github.com/MrWong99/webai/pkg/provider/detect/inference"
	"github.com/MrWong99/webai/pkg/provider/llm"
	"github.com/MrWong99/webai/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/webai/pkg/provider/llm/openai"
	"github.com/MrWong99/webai/pkg/provider/stt"
	"github.com/MrWong99/webai/pkg/provider/stt/whisper"
	"github.com/MrWong99/webai/pkg/provider/tts"
	"github.com/MrWong99/webai/pkg/provider/tts/coqui"
	"github.com/MrWong99/webai/pkg/provider/tts/elevenlabs"
	oaitts "github.com/MrWong99/webai/pkg/provider/tts/openai"
	"github.com/MrWong99/webai/pkg/provider/vad"
	"github.com/MrWong99/webai/pkg/provider/vad/energy"
	"github.com/MrWong99/webai/pkg/provider/vad/silero"
	"github.com/MrWong99/webai/pkg/provider/vlm"
	oaivlm "github.com/MrWong99/webai/pkg/provider/vlm/openai"
	"github.com/MrWong99/webai/pkg/types"
)

// kokoroBaseURL is where Kokoro-FastAPI listens by default.
const kokoroBaseURL = "http://localhost:8880/v1"

// openaiVoices is the catalogue of the hosted OpenAI speech endpoint.
var openaiVoices = []types.VoiceProfile{
	{ID: "alloy", Name: "Alloy", Language: "en-US"},
	{ID: "ash", Name: "Ash", Language: "en-US"},
	{ID: "coral", Name: "Coral", Language: "en-US"},
	{ID: "echo", Name: "Echo", Language: "en-US"},
	{ID: "fable", Name: "Fable", Language: "en-US"},
	{ID: "nova", Name: "Nova", Language: "en-US"},
	{ID: "onyx", Name: "Onyx", Language: "en-US"},
	{ID: "sage", Name: "Sage", Language: "en-US"},
	{ID: "shimmer", Name: "Shimmer", Language: "en-US"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Relative model paths resolve against the model cache directory, where the
// model store places downloaded artifacts.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	cacheDir := cfg.Models.CacheDir

	// ── VAD ──────────────────────────────────────────────────────────────────
	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		var opts []energy.Option
		if v, ok := optFloat(entry.Options, "floor"); ok {
			opts = append(opts, energy.WithFloor(v))
		}
		if v, ok := optFloat(entry.Options, "ceil"); ok {
			opts = append(opts, energy.WithCeil(v))
		}
		if v, ok := optFloat(entry.Options, "smoothing"); ok {
			opts = append(opts, energy.WithSmoothing(v))
		}
		return energy.New(opts...)
	})
	reg.RegisterVAD("silero", func(entry config.ProviderEntry) (vad.Engine, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		if modelPath == "" {
			modelPath = "silero_vad.onnx"
		}
		return silero.New(resolvePath(cacheDir, modelPath))
	})

	// ── STT ──────────────────────────────────────────────────────────────────
	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})
	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		if modelPath == "" {
			return nil, errors.New("whisper-native: model or options.model_path is required")
		}
		modelPath = resolvePath(cacheDir, modelPath)
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		// The model store may fetch the file when a worker loads.
		if _, err := os.Stat(modelPath); err != nil {
			opts = append(opts, whisper.WithLazyLoad())
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── LLM ──────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		if v, ok := entry.Options["legacy_max_tokens"].(bool); ok && v {
			opts = append(opts, oaillm.WithLegacyMaxTokens())
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// Hosted backends served through any-llm-go share the same pattern:
	// optional APIKey + optional BaseURL.
	for _, providerName := range []string{"anthropic", "gemini", "mistral", "groq", "deepseek"} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			p, err := anyllm.New(providerName, entry.Model, anyllmOptions(entry)...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		p, err := anyllm.NewOllama(entry.Model, anyllmOptions(entry)...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	reg.RegisterLLM("llamacpp", func(entry config.ProviderEntry) (llm.Provider, error) {
		p, err := anyllm.NewLlamaCpp(entry.Model, anyllmOptions(entry)...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── TTS ──────────────────────────────────────────────────────────────────
	reg.RegisterTTS("kokoro", func(entry config.ProviderEntry) (tts.Provider, error) {
		key := entry.APIKey
		if key == "" {
			key = "not-needed"
		}
		base := entry.BaseURL
		if base == "" {
			base = kokoroBaseURL
		}
		opts := []oaitts.Option{oaitts.WithBaseURL(base)}
		if entry.Model != "" {
			opts = append(opts, oaitts.WithModel(entry.Model))
		}
		return oaitts.New(key, opts...)
	})
	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		model := entry.Model
		if model == "" {
			model = "tts-1"
		}
		opts := []oaitts.Option{oaitts.WithModel(model), oaitts.WithVoices(openaiVoices)}
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		return oaitts.New(entry.APIKey, opts...)
	})
	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})
	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if rate, ok := optFloat(entry.Options, "output_sample_rate"); ok {
			opts = append(opts, coqui.WithOutputSampleRate(int(rate)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── VLM ──────────────────────────────────────────────────────────────────
	reg.RegisterVLM("openai", func(entry config.ProviderEntry) (vlm.Provider, error) {
		var opts []oaivlm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaivlm.WithBaseURL(entry.BaseURL))
		}
		return oaivlm.New(entry.APIKey, entry.Model, opts...)
	})

	// ── Detection ────────────────────────────────────────────────────────────
	reg.RegisterDetect("inference", func(entry config.ProviderEntry) (detect.Provider, error) {
		var opts []inference.Option
		if entry.APIKey != "" {
			opts = append(opts, inference.WithToken(entry.APIKey))
		}
		return inference.New(entry.BaseURL, opts...)
	})
}

func anyllmOptions(entry config.ProviderEntry) []anyllmlib.Option {
	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return opts
}

// resolvePath joins relative paths onto dir.
func resolvePath(dir, path string) string {
	if path == "" || filepath.IsAbs(path) || dir == "" {
		return path
	}
	return filepath.Join(dir, path)
}

// optString extracts a string value from a provider options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// optFloat extracts a numeric value from a provider options map. YAML decodes
// integers as int, so both int and float64 are accepted.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}
