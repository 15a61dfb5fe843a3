package app_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/webai/internal/app"
	"github.com/MrWong99/webai/internal/config"
	"github.com/MrWong99/webai/internal/resilience"
	"github.com/MrWong99/webai/pkg/provider/llm"
	llmmock "github.com/MrWong99/webai/pkg/provider/llm/mock"
	"github.com/MrWong99/webai/pkg/provider/stt"
	sttmock "github.com/MrWong99/webai/pkg/provider/stt/mock"
	"github.com/MrWong99/webai/pkg/provider/vad"
	vadmock "github.com/MrWong99/webai/pkg/provider/vad/mock"
)

// closingSTT counts Close calls.
type closingSTT struct {
	sttmock.Provider
	closed *int
}

func (c *closingSTT) Close() error {
	*c.closed++
	return nil
}

func TestBuildProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) { return &vadmock.Engine{}, nil })
	reg.RegisterSTT("whisper", func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })
	reg.RegisterLLM("openai", func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })
	reg.RegisterLLM("ollama", func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })

	cfg := &config.Config{Providers: config.ProvidersConfig{
		VAD: config.ProviderEntry{Name: "energy"},
		STT: config.ProviderEntry{Name: "whisper"},
		LLM: config.ProviderEntry{
			Name:      "openai",
			Fallbacks: []config.ProviderEntry{{Name: "ollama"}},
		},
	}}

	p, err := app.BuildProviders(cfg, reg, nil)
	if err != nil {
		t.Fatalf("BuildProviders() error: %v", err)
	}
	if p.VAD == nil || p.STT == nil || p.LLM == nil {
		t.Fatalf("missing providers: %+v", p)
	}
	if p.TTS != nil || p.VLM != nil || p.Detect != nil {
		t.Errorf("unconfigured providers should stay nil: %+v", p)
	}
	if _, ok := p.STT.(*sttmock.Provider); !ok {
		t.Errorf("STT without fallbacks = %T, want the plain provider", p.STT)
	}
	if _, ok := p.LLM.(*resilience.LLMFallback); !ok {
		t.Errorf("LLM with fallbacks = %T, want *resilience.LLMFallback", p.LLM)
	}
}

func TestBuildProviders_ClosesOnError(t *testing.T) {
	t.Parallel()

	closed := 0
	reg := config.NewRegistry()
	reg.RegisterSTT("whisper-native", func(config.ProviderEntry) (stt.Provider, error) {
		return &closingSTT{closed: &closed}, nil
	})
	reg.RegisterLLM("openai", func(config.ProviderEntry) (llm.Provider, error) {
		return nil, errors.New("missing api key")
	})

	cfg := &config.Config{Providers: config.ProvidersConfig{
		STT: config.ProviderEntry{Name: "whisper-native"},
		LLM: config.ProviderEntry{Name: "openai"},
	}}

	if _, err := app.BuildProviders(cfg, reg, nil); err == nil {
		t.Fatal("BuildProviders() should fail")
	}
	if closed != 1 {
		t.Errorf("Close calls = %d, want 1", closed)
	}
}

func TestBuildProviders_UnknownFallback(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	reg.RegisterSTT("whisper", func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })

	cfg := &config.Config{Providers: config.ProvidersConfig{
		STT: config.ProviderEntry{Name: "whisper", Fallbacks: []config.ProviderEntry{{Name: "nope"}}},
	}}
	_, err := app.BuildProviders(cfg, reg, nil)
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}
