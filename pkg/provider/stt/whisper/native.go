// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/webai/pkg/audio"
	"github.com/MrWong99/webai/pkg/provider/stt"
	"github.com/MrWong99/webai/pkg/types"
)

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider using whisper.cpp Go bindings. The
// model is loaded once and shared; each Transcribe call gets a fresh context
// because whisper contexts are not safe for concurrent use.
type NativeProvider struct {
	modelPath string
	language  string
	lazy      bool

	mu    sync.Mutex
	model whisperlib.Model
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the default language for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithLazyLoad defers loading the model until the first Transcribe call, so
// the file may still be downloading when the provider is created. A failed
// load is retried on the next call.
func WithLazyLoad() NativeOption {
	return func(p *NativeProvider) { p.lazy = true }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// modelPath. The caller must call Close when the provider is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	p := &NativeProvider{
		modelPath: modelPath,
		language:  defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	if !p.lazy {
		if _, err := p.loadModel(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *NativeProvider) loadModel() (whisperlib.Model, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model != nil {
		return p.model, nil
	}
	model, err := whisperlib.New(p.modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", p.modelPath, err)
	}
	p.model = model
	return model, nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return nil
	}
	err := p.model.Close()
	p.model = nil
	return err
}

// Transcribe implements stt.Provider. Every segment decoded by whisper.cpp is
// reported through partial with the running text and throughput.
func (p *NativeProvider) Transcribe(ctx context.Context, req stt.Request, partial stt.PartialFunc) (types.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: %w", err)
	}

	samples := audio.Resample(req.Audio, req.SampleRateOrDefault(), whisperlib.SampleRate)

	model, err := p.loadModel()
	if err != nil {
		return types.Transcript{}, err
	}
	wctx, err := model.NewContext()
	if err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: create context: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}

	var (
		parts     []string
		numTokens int
		started   = time.Now()
	)
	onSegment := func(seg whisperlib.Segment) {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			return
		}
		parts = append(parts, text)
		numTokens += len(seg.Tokens)
		if partial == nil {
			return
		}
		tr := types.Transcript{Text: strings.Join(parts, " "), NumTokens: numTokens, Language: lang}
		if elapsed := time.Since(started).Seconds(); elapsed > 0 && numTokens > 1 {
			tr.TokensPerSecond = float64(numTokens) / elapsed
		}
		partial(tr)
	}

	if err := wctx.Process(samples, nil, onSegment, nil); err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	// Drain any segments the callback did not see.
	if len(parts) == 0 {
		for {
			seg, err := wctx.NextSegment()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return types.Transcript{}, fmt.Errorf("whisper: read segment: %w", err)
			}
			if text := strings.TrimSpace(seg.Text); text != "" {
				parts = append(parts, text)
				numTokens += len(seg.Tokens)
			}
		}
	}

	tr := types.Transcript{
		Text:      strings.Join(parts, " "),
		IsFinal:   true,
		Language:  lang,
		NumTokens: numTokens,
		Duration:  audio.Duration(len(samples), whisperlib.SampleRate),
	}
	if elapsed := time.Since(started).Seconds(); elapsed > 0 && numTokens > 0 {
		tr.TokensPerSecond = float64(numTokens) / elapsed
	}
	return tr, nil
}
