package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/webai/pkg/provider/detect"
	"github.com/MrWong99/webai/pkg/provider/llm"
	"github.com/MrWong99/webai/pkg/provider/stt"
	"github.com/MrWong99/webai/pkg/provider/tts"
	"github.com/MrWong99/webai/pkg/provider/vad"
	"github.com/MrWong99/webai/pkg/provider/vlm"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// exists for the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider of type T from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

type factories[T any] struct {
	kind string
	m    map[string]Factory[T]
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, m: make(map[string]Factory[T])}
}

func (f factories[T]) create(mu *sync.RWMutex, e ProviderEntry) (T, error) {
	mu.RLock()
	fn, ok := f.m[e.Name]
	mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, e.Name)
	}
	return fn(e)
}

func (f factories[T]) names() []string {
	out := make([]string, 0, len(f.m))
	for n := range f.m {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Registry maps provider names to constructors, per capability. It is safe
// for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	vad    factories[vad.Engine]
	stt    factories[stt.Provider]
	llm    factories[llm.Provider]
	tts    factories[tts.Provider]
	vlm    factories[vlm.Provider]
	detect factories[detect.Provider]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		vad:    newFactories[vad.Engine]("vad"),
		stt:    newFactories[stt.Provider]("stt"),
		llm:    newFactories[llm.Provider]("llm"),
		tts:    newFactories[tts.Provider]("tts"),
		vlm:    newFactories[vlm.Provider]("vlm"),
		detect: newFactories[detect.Provider]("detect"),
	}
}

func register[T any](r *Registry, f factories[T], name string, fn Factory[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f.m[name] = fn
}

// RegisterVAD registers a VAD engine factory, replacing any previous one.
func (r *Registry) RegisterVAD(name string, fn Factory[vad.Engine]) { register(r, r.vad, name, fn) }

// RegisterSTT registers an STT factory.
func (r *Registry) RegisterSTT(name string, fn Factory[stt.Provider]) { register(r, r.stt, name, fn) }

// RegisterLLM registers an LLM factory.
func (r *Registry) RegisterLLM(name string, fn Factory[llm.Provider]) { register(r, r.llm, name, fn) }

// RegisterTTS registers a TTS factory.
func (r *Registry) RegisterTTS(name string, fn Factory[tts.Provider]) { register(r, r.tts, name, fn) }

// RegisterVLM registers a VLM factory.
func (r *Registry) RegisterVLM(name string, fn Factory[vlm.Provider]) { register(r, r.vlm, name, fn) }

// RegisterDetect registers an object detection factory.
func (r *Registry) RegisterDetect(name string, fn Factory[detect.Provider]) {
	register(r, r.detect, name, fn)
}

// CreateVAD builds the VAD engine named by e.
func (r *Registry) CreateVAD(e ProviderEntry) (vad.Engine, error) { return r.vad.create(&r.mu, e) }

// CreateSTT builds the STT provider named by e.
func (r *Registry) CreateSTT(e ProviderEntry) (stt.Provider, error) { return r.stt.create(&r.mu, e) }

// CreateLLM builds the LLM provider named by e.
func (r *Registry) CreateLLM(e ProviderEntry) (llm.Provider, error) { return r.llm.create(&r.mu, e) }

// CreateTTS builds the TTS provider named by e.
func (r *Registry) CreateTTS(e ProviderEntry) (tts.Provider, error) { return r.tts.create(&r.mu, e) }

// CreateVLM builds the VLM provider named by e.
func (r *Registry) CreateVLM(e ProviderEntry) (vlm.Provider, error) { return r.vlm.create(&r.mu, e) }

// CreateDetect builds the detection provider named by e.
func (r *Registry) CreateDetect(e ProviderEntry) (detect.Provider, error) {
	return r.detect.create(&r.mu, e)
}

// Names returns the registered provider names per kind, sorted.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		"vad":    r.vad.names(),
		"stt":    r.stt.names(),
		"llm":    r.llm.names(),
		"tts":    r.tts.names(),
		"vlm":    r.vlm.names(),
		"detect": r.detect.names(),
	}
}
