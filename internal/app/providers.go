package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrWong99/webai/internal/config"
	"github.com/MrWong99/webai/internal/observe"
	"github.com/MrWong99/webai/internal/resilience"
	"github.com/MrWong99/webai/pkg/provider/detect"
	"github.com/MrWong99/webai/pkg/provider/llm"
	"github.com/MrWong99/webai/pkg/provider/stt"
	"github.com/MrWong99/webai/pkg/provider/tts"
	"github.com/MrWong99/webai/pkg/provider/vad"
	"github.com/MrWong99/webai/pkg/provider/vlm"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by [BuildProviders] or by tests.
type Providers struct {
	VAD    vad.Engine
	STT    stt.Provider
	LLM    llm.Provider
	TTS    tts.Provider
	VLM    vlm.Provider
	Detect detect.Provider

	// closers release providers that hold native resources.
	closers []func() error
}

// Close releases every provider that implements io.Closer.
func (p *Providers) Close() error {
	var errs []error
	for _, c := range p.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}

func (p *Providers) track(v any) {
	if c, ok := v.(io.Closer); ok {
		p.closers = append(p.closers, c.Close)
	}
}

// BuildProviders instantiates every configured provider through reg. STT,
// LLM and TTS entries with fallbacks are wrapped in circuit-breaking
// failover groups. On error, already created providers are closed.
func BuildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*Providers, error) {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	p := &Providers{}
	pc := cfg.Providers

	build := func() error {
		if pc.VAD.Configured() {
			v, err := reg.CreateVAD(pc.VAD)
			if err != nil {
				return fmt.Errorf("vad: %w", err)
			}
			p.VAD = v
			p.track(v)
		}
		if pc.STT.Configured() {
			v, err := buildWithFallbacks(pc.STT, reg.CreateSTT, p.track, func(primary stt.Provider, fbs []named[stt.Provider]) stt.Provider {
				f := resilience.NewSTTFallback(primary, pc.STT.Name, fallbackConfig("stt", metrics))
				for _, fb := range fbs {
					f.AddFallback(fb.name, fb.value)
				}
				return f
			})
			if err != nil {
				return fmt.Errorf("stt: %w", err)
			}
			p.STT = v
		}
		if pc.LLM.Configured() {
			v, err := buildWithFallbacks(pc.LLM, reg.CreateLLM, p.track, func(primary llm.Provider, fbs []named[llm.Provider]) llm.Provider {
				f := resilience.NewLLMFallback(primary, pc.LLM.Name, fallbackConfig("llm", metrics))
				for _, fb := range fbs {
					f.AddFallback(fb.name, fb.value)
				}
				return f
			})
			if err != nil {
				return fmt.Errorf("llm: %w", err)
			}
			p.LLM = v
		}
		if pc.TTS.Configured() {
			v, err := buildWithFallbacks(pc.TTS, reg.CreateTTS, p.track, func(primary tts.Provider, fbs []named[tts.Provider]) tts.Provider {
				f := resilience.NewTTSFallback(primary, pc.TTS.Name, fallbackConfig("tts", metrics))
				for _, fb := range fbs {
					f.AddFallback(fb.name, fb.value)
				}
				return f
			})
			if err != nil {
				return fmt.Errorf("tts: %w", err)
			}
			p.TTS = v
		}
		if pc.VLM.Configured() {
			v, err := reg.CreateVLM(pc.VLM)
			if err != nil {
				return fmt.Errorf("vlm: %w", err)
			}
			p.VLM = v
			p.track(v)
		}
		if pc.Detect.Configured() {
			v, err := reg.CreateDetect(pc.Detect)
			if err != nil {
				return fmt.Errorf("detect: %w", err)
			}
			p.Detect = v
			p.track(v)
		}
		return nil
	}

	if err := build(); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("app: build providers: %w", err)
	}
	return p, nil
}

type named[T any] struct {
	name  string
	value T
}

// buildWithFallbacks creates the primary provider of e and, if e lists
// fallbacks, each fallback, then combines them with wrap.
func buildWithFallbacks[T any](
	e config.ProviderEntry,
	create func(config.ProviderEntry) (T, error),
	track func(any),
	wrap func(primary T, fallbacks []named[T]) T,
) (T, error) {
	primary, err := create(e)
	if err != nil {
		return primary, err
	}
	track(primary)
	if len(e.Fallbacks) == 0 {
		return primary, nil
	}

	fbs := make([]named[T], 0, len(e.Fallbacks))
	for _, fe := range e.Fallbacks {
		v, err := create(fe)
		if err != nil {
			var zero T
			return zero, fmt.Errorf("fallback %q: %w", fe.Name, err)
		}
		track(v)
		fbs = append(fbs, named[T]{name: fe.Name, value: v})
	}
	return wrap(primary, fbs), nil
}

func fallbackConfig(kind string, metrics *observe.Metrics) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		OnFailure: func(name string, err error) {
			metrics.RecordProviderError(context.Background(), name, kind)
			slog.Warn("provider failed, trying next", "kind", kind, "provider", name, "error", err)
		},
	}
}
