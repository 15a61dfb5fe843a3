// Package vision implements the image workers: a vision-language worker that
// answers an instruction about a camera frame, and an object detection
// worker.
package vision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/webai/internal/observe"
	"github.com/MrWong99/webai/internal/protocol"
	"github.com/MrWong99/webai/internal/worker"
	"github.com/MrWong99/webai/pkg/provider/vlm"
)

// Worker kinds served by this package.
const (
	KindVLM    = "vlm"
	KindDetect = "detect"
)

// VLMMaxTokens caps each answer.
const VLMMaxTokens = 100

// ErrNoImage is returned for process messages without an image.
var ErrNoImage = errors.New("vision: process message has no image")

// VLMConfig configures a [VLMWorker].
type VLMConfig struct {
	Provider vlm.Provider
	Prepare  worker.Preparer

	// CacheDistance is the perceptual-hash distance for frame cache hits.
	// Zero means [DefaultCacheDistance]; negative disables the cache.
	CacheDistance int

	Metrics *observe.Metrics
}

// VLMWorker answers process{instruction, image} with a short description.
type VLMWorker struct {
	provider vlm.Provider
	prepare  worker.Preparer
	cache    *FrameCache
	metrics  *observe.Metrics
}

var _ worker.Worker = (*VLMWorker)(nil)

// NewVLM creates a VLM worker.
func NewVLM(cfg VLMConfig) (*VLMWorker, error) {
	if cfg.Provider == nil {
		return nil, errors.New("vision: vlm provider is required")
	}
	w := &VLMWorker{provider: cfg.Provider, prepare: cfg.Prepare, metrics: cfg.Metrics}
	if w.metrics == nil {
		w.metrics = observe.DefaultMetrics()
	}
	switch {
	case cfg.CacheDistance == 0:
		w.cache = NewFrameCache(DefaultCacheDistance, 0)
	case cfg.CacheDistance > 0:
		w.cache = NewFrameCache(cfg.CacheDistance, 0)
	}
	return w, nil
}

// Kind implements [worker.Worker].
func (w *VLMWorker) Kind() string { return KindVLM }

// Load implements [worker.Worker].
func (w *VLMWorker) Load(ctx context.Context, _ protocol.LoadOptions, e worker.Emitter) error {
	_ = worker.EmitInfo(ctx, e, "Loading models...", false)
	if err := worker.Prepare(ctx, w.prepare, e); err != nil {
		return fmt.Errorf("vision: prepare: %w", err)
	}
	return nil
}

// vlmInput echoes the request shape back to the client.
type vlmInput struct {
	Instruction string `json:"instruction"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Channels    int    `json:"channels"`
}

// Handle implements [worker.Worker].
func (w *VLMWorker) Handle(ctx context.Context, msg protocol.Message, e worker.Emitter) error {
	if msg.Type != protocol.TypeProcess {
		return fmt.Errorf("vision: unsupported message type %q", msg.Type)
	}
	var d protocol.ProcessData
	if err := msg.Decode(&d); err != nil {
		return err
	}
	if d.Image == nil {
		return ErrNoImage
	}
	img, err := d.Image.ToImage()
	if err != nil {
		return err
	}

	answer, err := w.describe(ctx, vlm.Request{Instruction: d.Instruction, Image: img, MaxTokens: VLMMaxTokens})
	if err != nil {
		return err
	}

	return e.Emit(ctx, protocol.TypeProcessResult, protocol.ProcessResultData{
		Input: vlmInput{
			Instruction: d.Instruction,
			Width:       d.Image.Width,
			Height:      d.Image.Height,
			Channels:    d.Image.Channels,
		},
		Output: protocol.ResultOutput{Data: answer},
	})
}

// describe answers req, consulting the frame cache first when enabled.
func (w *VLMWorker) describe(ctx context.Context, req vlm.Request) (string, error) {
	if w.cache == nil {
		return w.infer(ctx, req)
	}
	h, err := w.cache.Hash(req.Image)
	if err != nil {
		observe.Logger(ctx).Debug("vision: frame hash failed", "worker", KindVLM, "error", err)
		return w.infer(ctx, req)
	}
	if answer, ok := w.cache.Lookup(h, req.Instruction); ok {
		w.metrics.RecordFrameCache(ctx, true)
		return answer, nil
	}
	w.metrics.RecordFrameCache(ctx, false)

	answer, err := w.infer(ctx, req)
	if err != nil {
		return "", err
	}
	w.cache.Store(h, req.Instruction, answer)
	return answer, nil
}

func (w *VLMWorker) infer(ctx context.Context, req vlm.Request) (string, error) {
	start := time.Now()
	answer, err := w.provider.Describe(ctx, req)
	w.metrics.VLMDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(observe.Attr("worker", KindVLM)))
	if err != nil {
		w.metrics.RecordProviderError(ctx, "vlm", "describe")
		return "", fmt.Errorf("vision: describe: %w", err)
	}
	return answer, nil
}
