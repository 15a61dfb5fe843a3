package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/webai/internal/config"
	"github.com/MrWong99/webai/internal/observe"
	"github.com/MrWong99/webai/internal/transcribe"
	"github.com/MrWong99/webai/internal/vision"
	"github.com/MrWong99/webai/internal/voice"
	"github.com/MrWong99/webai/internal/worker"
)

// registerWorkers adds a factory for every enabled worker kind. Each factory
// builds a fresh worker per connection around the shared providers; model
// files listed for the kind are fetched during the worker's Load.
func (a *App) registerWorkers() {
	cfg := a.cfg
	p := a.providers

	if cfg.WorkerEnabled(config.WorkerConversation) {
		prepare := a.models.Preparer(cfg.ModelFiles(config.WorkerConversation))
		a.workers.Register(voice.Kind, func(ctx context.Context) (worker.Worker, error) {
			cc := a.conversation.Load()
			return voice.New(voice.Config{
				VAD:           p.VAD,
				STT:           p.STT,
				LLM:           p.LLM,
				TTS:           p.TTS,
				VLM:           p.VLM,
				Prepare:       prepare,
				SessionID:     observe.SessionID(ctx),
				Store:         a.history,
				SystemPrompt:  cc.SystemPrompt,
				DefaultVoice:  cc.DefaultVoice,
				Language:      cc.Language,
				MaxTokens:     cc.MaxTokens,
				ContextWindow: cc.ContextWindow,
				Segmenter:     segmenterOptions(*cc),
				Metrics:       a.metrics,
			})
		})
	}

	if cfg.WorkerEnabled(config.WorkerTranscribe) {
		prepare := a.models.Preparer(cfg.ModelFiles(config.WorkerTranscribe))
		lang := cfg.Workers.Transcribe.Language
		a.workers.Register(transcribe.Kind, func(context.Context) (worker.Worker, error) {
			return transcribe.New(transcribe.Config{
				STT:      p.STT,
				Prepare:  prepare,
				Language: lang,
				Metrics:  a.metrics,
			})
		})
	}

	if cfg.WorkerEnabled(config.WorkerVLM) {
		prepare := a.models.Preparer(cfg.ModelFiles(config.WorkerVLM))
		distance := cfg.Workers.VLM.CacheDistance
		a.workers.Register(vision.KindVLM, func(context.Context) (worker.Worker, error) {
			return vision.NewVLM(vision.VLMConfig{
				Provider:      p.VLM,
				Prepare:       prepare,
				CacheDistance: distance,
				Metrics:       a.metrics,
			})
		})
	}

	if cfg.WorkerEnabled(config.WorkerDetect) {
		prepare := a.models.Preparer(cfg.ModelFiles(config.WorkerDetect))
		threshold := cfg.Workers.Detect.ProviderThreshold
		a.workers.Register(vision.KindDetect, func(context.Context) (worker.Worker, error) {
			return vision.NewDetect(vision.DetectConfig{
				Provider:          p.Detect,
				Prepare:           prepare,
				ProviderThreshold: threshold,
				Metrics:           a.metrics,
			})
		})
	}

	slog.Info("workers registered", "kinds", a.workers.Kinds())
}

func segmenterOptions(cc config.ConversationConfig) []voice.SegmenterOption {
	var opts []voice.SegmenterOption
	if cc.MinSilenceMs > 0 {
		opts = append(opts, voice.WithMinSilence(time.Duration(cc.MinSilenceMs)*time.Millisecond))
	}
	if cc.MinSpeechMs > 0 {
		opts = append(opts, voice.WithMinSpeech(time.Duration(cc.MinSpeechMs)*time.Millisecond))
	}
	if cc.SpeechPadMs > 0 {
		opts = append(opts, voice.WithSpeechPad(time.Duration(cc.SpeechPadMs)*time.Millisecond))
	}
	return opts
}
