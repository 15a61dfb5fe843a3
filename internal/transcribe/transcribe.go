// Package transcribe implements the standalone speech-recognition worker.
// A client sends a complete recording and receives streamed partial text
// followed by the final transcript.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/webai/internal/observe"
	"github.com/MrWong99/webai/internal/protocol"
	"github.com/MrWong99/webai/internal/worker"
	"github.com/MrWong99/webai/pkg/provider/stt"
	"github.com/MrWong99/webai/pkg/types"
)

// Kind is the worker kind served by this package.
const Kind = "transcribe"

const (
	// MaxTokens caps each transcript.
	MaxTokens = 64

	// SampleRate is the rate of client audio in Hz.
	SampleRate = 16000

	// DefaultLanguage is used when neither the request nor the config sets
	// one.
	DefaultLanguage = "en"
)

// Config configures a [Worker].
type Config struct {
	STT     stt.Provider
	Prepare worker.Preparer

	// Language is the fallback language hint.
	Language string

	Metrics *observe.Metrics
}

// Worker transcribes one recording at a time. Requests arriving while a
// transcription is running are dropped.
type Worker struct {
	cfg     Config
	metrics *observe.Metrics

	busy atomic.Bool
	wg   sync.WaitGroup

	mu     sync.Mutex
	cancel context.CancelFunc
}

var _ worker.Worker = (*Worker)(nil)

// New creates a transcription worker.
func New(cfg Config) (*Worker, error) {
	if cfg.STT == nil {
		return nil, errors.New("transcribe: stt provider is required")
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Worker{cfg: cfg, metrics: m}, nil
}

// Kind implements [worker.Worker].
func (w *Worker) Kind() string { return Kind }

// Load implements [worker.Worker]. It fetches the model and runs one
// second of silence through it.
func (w *Worker) Load(ctx context.Context, _ protocol.LoadOptions, e worker.Emitter) error {
	if err := worker.Prepare(ctx, w.cfg.Prepare, e); err != nil {
		return fmt.Errorf("transcribe: prepare: %w", err)
	}
	_ = worker.EmitStatus(ctx, e, protocol.StatusLoading, "Compiling shaders and warming up model...", false)
	_, err := w.cfg.STT.Transcribe(ctx, stt.Request{
		Audio:      make([]float32, SampleRate),
		SampleRate: SampleRate,
		Language:   w.cfg.Language,
		MaxTokens:  1,
	}, nil)
	if err != nil {
		return fmt.Errorf("transcribe: warm up: %w", err)
	}
	return nil
}

// Handle implements [worker.Worker]. Transcription runs in the background so
// the connection keeps reading while the model decodes.
func (w *Worker) Handle(ctx context.Context, msg protocol.Message, e worker.Emitter) error {
	if msg.Type != protocol.TypeProcess {
		return fmt.Errorf("transcribe: unsupported message type %q", msg.Type)
	}
	var d protocol.ProcessData
	if err := msg.Decode(&d); err != nil {
		return err
	}
	if len(d.Audio) == 0 {
		return errors.New("transcribe: process message has no audio")
	}
	if !w.busy.CompareAndSwap(false, true) {
		observe.Logger(ctx).Debug("transcribe: busy, dropping request", "samples", len(d.Audio))
		w.metrics.RecordDropped(ctx, Kind, string(msg.Type))
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.busy.Store(false)
		defer cancel()
		if err := w.run(runCtx, d, e); err != nil && runCtx.Err() == nil {
			_ = worker.EmitError(runCtx, e, err)
		}
	}()
	return nil
}

func (w *Worker) run(ctx context.Context, d protocol.ProcessData, e worker.Emitter) error {
	if err := worker.EmitStatus(ctx, e, protocol.StatusTranscribing, "", false); err != nil {
		return err
	}
	lang := d.Language
	if lang == "" {
		lang = w.cfg.Language
	}

	var (
		partials int
		first    time.Time
	)
	start := time.Now()
	tr, err := w.cfg.STT.Transcribe(ctx, stt.Request{
		Audio:      d.Audio,
		SampleRate: SampleRate,
		Language:   lang,
		MaxTokens:  MaxTokens,
	}, func(p types.Transcript) {
		partials++
		if first.IsZero() {
			first = time.Now()
		}
		_ = e.Emit(ctx, protocol.TypeOutput, partialOutput(p, partials, first))
	})
	w.metrics.STTDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(observe.Attr("worker", Kind)))
	if err != nil {
		w.metrics.RecordProviderError(ctx, "stt", "transcribe")
		return fmt.Errorf("transcribe: %w", err)
	}

	return e.Emit(ctx, protocol.TypeProcessResult, protocol.ProcessResultData{
		Output: protocol.ResultOutput{Data: strings.TrimSpace(tr.Text)},
	})
}

// partialOutput builds the output payload for the n-th partial transcript.
// Throughput is derived locally when the backend does not report it; the
// first partial carries none.
func partialOutput(p types.Transcript, n int, first time.Time) protocol.OutputData {
	out := protocol.OutputData{Text: p.Text, NumTokens: p.NumTokens, TPS: p.TokensPerSecond}
	if out.NumTokens == 0 {
		out.NumTokens = n
	}
	if out.TPS == 0 && n > 1 {
		if el := time.Since(first).Seconds(); el > 0 {
			out.TPS = float64(n) / el
		}
	}
	return out
}

// Busy reports whether a transcription is in progress.
func (w *Worker) Busy() bool { return w.busy.Load() }

// Close cancels a running transcription and waits for it to finish.
func (w *Worker) Close() error {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()
	w.wg.Wait()
	return nil
}
