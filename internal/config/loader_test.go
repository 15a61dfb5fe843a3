package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/webai/internal/config"
)

const fullYAML = `
server:
  listen_addr: ":9000"
  log_level: debug
  max_sessions: 8
providers:
  vad:
    name: silero
  stt:
    name: whisper-native
    fallbacks:
      - name: whisper
        base_url: http://localhost:8081
  llm:
    name: openai
    base_url: http://localhost:8000/v1
    model: qwen2.5
  tts:
    name: kokoro
    base_url: http://localhost:8880/v1
  vlm:
    name: openai
    model: smolvlm
workers:
  conversation:
    system_prompt: Be brief.
    default_voice: af_bella
    max_tokens: 512
    min_silence_ms: 300
  detect:
    enabled: false
models:
  cache_dir: /var/cache/webai
  files:
    - name: silero
      path: silero_vad.onnx
      url: https://example.com/silero_vad.onnx
      workers: [conversation]
    - name: whisper-base
      path: ggml-base.bin
      url: https://example.com/ggml-base.bin
history:
  postgres_dsn: postgres://localhost/webai
`

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":9000" || cfg.Server.LogLevel != config.LogDebug || cfg.Server.MaxSessions != 8 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if fb := cfg.Providers.STT.Fallbacks; len(fb) != 1 || fb[0].Name != "whisper" {
		t.Errorf("stt fallbacks = %+v", fb)
	}
	if cfg.Workers.Conversation.DefaultVoice != "af_bella" || cfg.Workers.Conversation.MinSilenceMs != 300 {
		t.Errorf("conversation = %+v", cfg.Workers.Conversation)
	}

	enabled := map[string]bool{
		config.WorkerConversation: true,
		config.WorkerTranscribe:   true,
		config.WorkerVLM:          true,
		config.WorkerDetect:       false,
	}
	for kind, want := range enabled {
		if got := cfg.WorkerEnabled(kind); got != want {
			t.Errorf("WorkerEnabled(%s) = %v, want %v", kind, got, want)
		}
	}

	if n := len(cfg.ModelFiles(config.WorkerConversation)); n != 2 {
		t.Errorf("conversation model files = %d, want 2", n)
	}
	files := cfg.ModelFiles(config.WorkerTranscribe)
	if len(files) != 1 || files[0].Path != "ggml-base.bin" {
		t.Errorf("transcribe model files = %+v", files)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr || cfg.Server.LogLevel != config.LogInfo || cfg.Models.CacheDir != config.DefaultCacheDir {
		t.Errorf("defaults not applied: %+v %+v", cfg.Server, cfg.Models)
	}
	for _, kind := range config.WorkerKinds {
		if cfg.WorkerEnabled(kind) {
			t.Errorf("%s enabled without providers", kind)
		}
	}
}

func TestLoadFromReader_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want []string
	}{
		{name: "unknown field", yaml: "server:\n  port: 80\n", want: []string{"field port not found"}},
		{name: "bad log level", yaml: "server:\n  log_level: loud\n", want: []string{"server.log_level"}},
		{name: "negative sessions", yaml: "server:\n  max_sessions: -1\n", want: []string{"max_sessions"}},
		{name: "half tls", yaml: "server:\n  tls:\n    cert_file: a.pem\n", want: []string{"cert_file and key_file"}},
		{
			name: "enabled without providers",
			yaml: "workers:\n  conversation:\n    enabled: true\n",
			want: []string{"providers.vad", "providers.stt", "providers.llm", "providers.tts"},
		},
		{name: "threshold range", yaml: "workers:\n  detect:\n    provider_threshold: 1.5\n", want: []string{"provider_threshold"}},
		{name: "vlm fallbacks", yaml: "providers:\n  vlm:\n    name: openai\n    fallbacks:\n      - name: openai\n", want: []string{"only supported"}},
		{name: "nameless fallback", yaml: "providers:\n  llm:\n    name: openai\n    fallbacks:\n      - model: x\n", want: []string{"fallbacks[0].name"}},
		{
			name: "model files",
			yaml: "models:\n  files:\n    - path: a\n      url: u\n    - path: a\n    - url: u\n      workers: [chat]\n",
			want: []string{"duplicate", "files[1].url", "files[2].path", `unknown worker kind "chat"`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			for _, w := range tt.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error %q does not mention %q", err, w)
				}
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "webai.yaml")
	if err := os.WriteFile(path, []byte(fullYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.History.PostgresDSN == "" {
		t.Error("history.postgres_dsn not loaded")
	}
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of a missing file succeeded")
	}
}
