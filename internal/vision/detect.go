package vision

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/webai/internal/observe"
	"github.com/MrWong99/webai/internal/protocol"
	"github.com/MrWong99/webai/internal/worker"
	"github.com/MrWong99/webai/pkg/provider/detect"
	"github.com/MrWong99/webai/pkg/types"
)

// Detection thresholds. The provider is asked for confident boxes only;
// clients may filter further with their own threshold.
const (
	ProviderThreshold = 0.9
	DefaultThreshold  = 0.1
)

// ErrInvalidThreshold is returned for a client threshold outside [0, 1].
var ErrInvalidThreshold = errors.New("vision: threshold must be within [0, 1]")

// DetectConfig configures a [DetectWorker].
type DetectConfig struct {
	Provider detect.Provider
	Prepare  worker.Preparer

	// ProviderThreshold overrides the score the provider filters with.
	// Zero means [ProviderThreshold].
	ProviderThreshold float64

	Metrics *observe.Metrics
}

// DetectWorker answers process{image, threshold?} with labelled boxes.
type DetectWorker struct {
	provider  detect.Provider
	prepare   worker.Preparer
	threshold float64
	metrics   *observe.Metrics
}

var _ worker.Worker = (*DetectWorker)(nil)

// NewDetect creates a detection worker.
func NewDetect(cfg DetectConfig) (*DetectWorker, error) {
	if cfg.Provider == nil {
		return nil, errors.New("vision: detect provider is required")
	}
	w := &DetectWorker{
		provider:  cfg.Provider,
		prepare:   cfg.Prepare,
		threshold: cfg.ProviderThreshold,
		metrics:   cfg.Metrics,
	}
	if w.threshold <= 0 {
		w.threshold = ProviderThreshold
	}
	if w.metrics == nil {
		w.metrics = observe.DefaultMetrics()
	}
	return w, nil
}

// Kind implements [worker.Worker].
func (w *DetectWorker) Kind() string { return KindDetect }

// Load implements [worker.Worker].
func (w *DetectWorker) Load(ctx context.Context, _ protocol.LoadOptions, e worker.Emitter) error {
	_ = worker.EmitInfo(ctx, e, "Loading models...", false)
	if err := worker.Prepare(ctx, w.prepare, e); err != nil {
		return fmt.Errorf("vision: prepare: %w", err)
	}
	return nil
}

type detectInput struct {
	Width    int `json:"width"`
	Height   int `json:"height"`
	Channels int `json:"channels"`
}

// Handle implements [worker.Worker].
func (w *DetectWorker) Handle(ctx context.Context, msg protocol.Message, e worker.Emitter) error {
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
	minScore := DefaultThreshold
	if d.Threshold != nil {
		if t := *d.Threshold; t < 0 || t > 1 || math.IsNaN(t) {
			return fmt.Errorf("%w: %v", ErrInvalidThreshold, t)
		}
		minScore = *d.Threshold
	}
	img, err := d.Image.ToImage()
	if err != nil {
		return err
	}

	start := time.Now()
	dets, err := w.provider.Detect(ctx, img, w.threshold)
	w.metrics.DetectDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(observe.Attr("worker", KindDetect)))
	if err != nil {
		w.metrics.RecordProviderError(ctx, "detect", "detect")
		return fmt.Errorf("vision: detect: %w", err)
	}

	return e.Emit(ctx, protocol.TypeProcessResult, protocol.ProcessResultData{
		Input:  detectInput{Width: d.Image.Width, Height: d.Image.Height, Channels: d.Image.Channels},
		Output: protocol.ResultOutput{Data: filterDetections(dets, minScore)},
	})
}

// filterDetections keeps detections scoring strictly above minScore. The
// result is never nil so it encodes as an empty JSON array.
func filterDetections(dets []types.Detection, minScore float64) []types.Detection {
	out := make([]types.Detection, 0, len(dets))
	for _, d := range dets {
		if d.Score > minScore {
			out = append(out, d)
		}
	}
	return out
}
