// Package voice implements the speech-to-speech conversation worker.
//
// Microphone chunks pass through a [Segmenter]. Each dispatched utterance
// starts a turn on its own goroutine: the speech is transcribed, the reply is
// streamed from the LLM sentence by sentence into TTS, and every synthesised
// sentence is sent to the client as an output message. While a reply plays
// back, incoming audio is ignored until the client reports playback_ended.
//
// When a VLM provider is configured and the client streams camera frames,
// the frame current at the start of an utterance is answered by the VLM
// instead of the LLM.
package voice

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/webai/internal/history"
	"github.com/MrWong99/webai/internal/observe"
	"github.com/MrWong99/webai/internal/protocol"
	"github.com/MrWong99/webai/internal/worker"
	"github.com/MrWong99/webai/pkg/audio"
	"github.com/MrWong99/webai/pkg/provider/llm"
	"github.com/MrWong99/webai/pkg/provider/stt"
	"github.com/MrWong99/webai/pkg/provider/tts"
	"github.com/MrWong99/webai/pkg/provider/vad"
	"github.com/MrWong99/webai/pkg/provider/vlm"
	"github.com/MrWong99/webai/pkg/types"
)

// Kind is the worker kind served by this package.
const Kind = "conversation"

// Defaults applied by [New].
const (
	DefaultSystemPrompt = "You're a helpful and conversational voice assistant, respond to the user. Keep your responses short, clear, and casual."
	DefaultVoice        = "af_heart"
	DefaultVoiceName    = "Heart"
	DefaultMaxTokens    = 1024
	DefaultVLMMaxTokens = 100
)

// blankAudio is what whisper models emit for silence.
const blankAudio = "[BLANK_AUDIO]"

// CodecOpus selects Opus-encoded output audio.
const CodecOpus = "opus"

// Config holds the providers and settings of a conversation worker.
type Config struct {
	VAD vad.Engine
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider

	// VLM enables combined vision-audio mode when set.
	VLM vlm.Provider

	// Prepare, if set, runs at the start of Load, e.g. to download models.
	Prepare worker.Preparer

	// SessionID keys the history journal.
	SessionID string

	// Store, if set, journals the conversation.
	Store history.Store

	SystemPrompt string
	DefaultVoice string
	Language     string

	// MaxTokens caps each LLM reply. Default: 1024.
	MaxTokens int

	// ContextWindow overrides the history budget reported by the LLM.
	ContextWindow int

	// Segmenter tunes speech segmentation.
	Segmenter []SegmenterOption

	Metrics *observe.Metrics
}

// Worker is the conversation worker. Create it with [New].
type Worker struct {
	cfg     Config
	metrics *observe.Metrics
	conv    *history.Conversation

	seg    *Segmenter
	vadSes vad.Session
	voices []types.VoiceProfile
	codec  string

	playing atomic.Bool

	mu       sync.Mutex
	voice    types.VoiceProfile
	frame    image.Image
	captured image.Image
	cancel   context.CancelFunc

	turns sync.WaitGroup
}

var (
	_ worker.Worker      = (*Worker)(nil)
	_ worker.Interrupter = (*Worker)(nil)
)

// New creates a conversation worker. VAD, STT, LLM and TTS are required.
func New(cfg Config) (*Worker, error) {
	var errs []error
	if cfg.VAD == nil {
		errs = append(errs, errors.New("vad provider is required"))
	}
	if cfg.STT == nil {
		errs = append(errs, errors.New("stt provider is required"))
	}
	if cfg.LLM == nil {
		errs = append(errs, errors.New("llm provider is required"))
	}
	if cfg.TTS == nil {
		errs = append(errs, errors.New("tts provider is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("voice: %w", err)
	}

	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.DefaultVoice == "" {
		cfg.DefaultVoice = DefaultVoice
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}

	window := cfg.ContextWindow
	if window <= 0 {
		window = cfg.LLM.Capabilities().ContextWindow
	}
	hc := history.Config{
		SessionID:    cfg.SessionID,
		SystemPrompt: cfg.SystemPrompt,
		MaxTokens:    window,
		Count:        cfg.LLM.CountTokens,
		Store:        cfg.Store,
	}
	return &Worker{cfg: cfg, metrics: m, conv: history.New(hc)}, nil
}

// Kind implements [worker.Worker].
func (w *Worker) Kind() string { return Kind }

// Load implements [worker.Worker]. It creates the VAD session, warms the
// STT backend with one second of silence and advertises the voices.
func (w *Worker) Load(ctx context.Context, opts protocol.LoadOptions, e worker.Emitter) error {
	if err := worker.Prepare(ctx, w.cfg.Prepare, e); err != nil {
		return fmt.Errorf("voice: prepare: %w", err)
	}
	_ = worker.EmitInfo(ctx, e, "Loading models...", true)

	sess, err := w.cfg.VAD.NewSession(vad.Config{SampleRate: SampleRate, Threshold: SpeechThreshold})
	if err != nil {
		return fmt.Errorf("voice: create vad session: %w", err)
	}

	silence := make([]float32, SampleRate)
	if _, err := w.cfg.STT.Transcribe(ctx, stt.Request{Audio: silence, SampleRate: SampleRate, Language: w.cfg.Language}, nil); err != nil {
		_ = sess.Close()
		return fmt.Errorf("voice: warm up stt: %w", err)
	}

	voices, err := w.cfg.TTS.ListVoices(ctx)
	if err != nil {
		_ = sess.Close()
		return fmt.Errorf("voice: list voices: %w", err)
	}

	w.vadSes = sess
	w.seg = NewSegmenter(sess, w.cfg.Segmenter...)
	w.voices = voices
	w.codec = opts.Codec

	want := opts.Voice
	if want == "" {
		want = w.cfg.DefaultVoice
	}
	v, ok := resolveVoice(want, voices)
	if !ok {
		v = types.VoiceProfile{ID: want, Name: DefaultVoiceName}
	}
	w.mu.Lock()
	w.voice = v
	w.mu.Unlock()

	return e.Emit(ctx, protocol.TypeStatus, protocol.StatusData{
		Status:  protocol.StatusReady,
		Message: "Ready!",
		Voices:  wireVoices(voices),
	})
}

// Handle implements [worker.Worker].
func (w *Worker) Handle(ctx context.Context, msg protocol.Message, e worker.Emitter) error {
	switch msg.Type {
	case protocol.TypeAudio:
		return w.handleAudio(ctx, msg, e)

	case protocol.TypeStartCall:
		w.mu.Lock()
		name := w.voice.Name
		w.mu.Unlock()
		if name == "" {
			name = DefaultVoiceName
		}
		greeting := fmt.Sprintf("Hey there, my name is %s! How can I help you today?", name)
		w.startSpeaking(ctx, e, greeting, true)
		return nil

	case protocol.TypeEndCall:
		w.conv.Reset()
		w.seg.Reset()
		w.mu.Lock()
		w.captured = nil
		w.mu.Unlock()
		return nil

	case protocol.TypeInterrupt:
		w.Interrupt()
		return nil

	case protocol.TypeSetVoice:
		var d protocol.SetVoiceData
		if err := msg.Decode(&d); err != nil {
			return err
		}
		v, ok := resolveVoice(d.Voice, w.voices)
		if !ok {
			return e.Emit(ctx, protocol.TypeSetVoiceResponse, protocol.SetVoiceResponseData{OK: false})
		}
		w.mu.Lock()
		w.voice = v
		w.mu.Unlock()
		wv := wireVoice(v)
		return e.Emit(ctx, protocol.TypeSetVoiceResponse, protocol.SetVoiceResponseData{OK: true, Voice: &wv})

	case protocol.TypePlaybackEnded:
		w.playing.Store(false)
		return nil

	case protocol.TypeSynthesizeText:
		var d protocol.SynthesizeTextData
		if err := msg.Decode(&d); err != nil {
			return err
		}
		if strings.TrimSpace(d.Text) == "" {
			return nil
		}
		w.startSpeaking(ctx, e, d.Text, false)
		return nil

	case protocol.TypeImage:
		var d protocol.ImageData
		if err := msg.Decode(&d); err != nil {
			return err
		}
		img, err := d.Image.ToImage()
		if err != nil {
			return err
		}
		w.mu.Lock()
		w.frame = img
		w.mu.Unlock()
		return nil
	}
	return fmt.Errorf("voice: unsupported message type %q", msg.Type)
}

func (w *Worker) handleAudio(ctx context.Context, msg protocol.Message, e worker.Emitter) error {
	if w.playing.Load() {
		return nil
	}
	var d protocol.AudioData
	if err := msg.Decode(&d); err != nil {
		return err
	}
	if len(d.Buffer) == 0 {
		return nil
	}

	res, err := w.seg.Push(d.Buffer)
	if err != nil {
		return err
	}

	if res.Started {
		if w.cfg.VLM != nil {
			w.mu.Lock()
			w.captured = w.frame
			w.mu.Unlock()
		}
		_ = worker.EmitStatus(ctx, e, protocol.StatusRecordingStart, "Listening...", true)
	}
	if !res.Ended {
		return nil
	}

	if res.Segment == nil {
		w.metrics.RecordSegment(ctx, observe.SegmentDiscarded)
	} else {
		w.metrics.RecordSegment(ctx, observe.SegmentDispatched)
		w.playing.Store(true)
		w.mu.Lock()
		frame := w.captured
		w.captured = nil
		w.mu.Unlock()

		seg := *res.Segment
		w.turns.Add(1)
		go func() {
			defer w.turns.Done()
			w.runTurn(ctx, e, seg, frame)
		}()
	}
	return worker.EmitStatus(ctx, e, protocol.StatusRecordingEnd, "Transcribing...", true)
}

// runTurn answers one utterance.
func (w *Worker) runTurn(ctx context.Context, e worker.Emitter, seg Segment, frame image.Image) {
	log := observe.Logger(ctx).With("worker", Kind)
	attrs := metric.WithAttributes(observe.Attr("worker", Kind))

	start := time.Now()
	tr, err := w.cfg.STT.Transcribe(ctx, stt.Request{Audio: seg.Audio, SampleRate: SampleRate, Language: w.cfg.Language}, nil)
	w.metrics.STTDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	if err != nil {
		w.playing.Store(false)
		if ctx.Err() == nil {
			log.Warn("voice: transcription failed", "error", err)
			_ = worker.EmitError(ctx, e, fmt.Errorf("voice: transcribe: %w", err))
		}
		return
	}

	text := strings.TrimSpace(tr.Text)
	if text == "" || text == blankAudio {
		w.playing.Store(false)
		return
	}
	log.Debug("voice: user said", "text", text, "speech", seg.Duration())
	w.pushHistory(ctx, types.RoleUser, text)

	if frame != nil && w.cfg.VLM != nil {
		w.answerWithVision(ctx, e, text, frame)
		return
	}

	genCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	voice := w.voice
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.cancel = nil
		w.mu.Unlock()
		cancel()
	}()

	llmStart := time.Now()
	chunks, err := w.cfg.LLM.StreamCompletion(genCtx, llm.CompletionRequest{
		Messages:  w.conv.Messages(),
		MaxTokens: w.cfg.MaxTokens,
	})
	if err != nil {
		w.playing.Store(false)
		w.metrics.RecordProviderError(ctx, "llm", "stream")
		_ = worker.EmitError(ctx, e, fmt.Errorf("voice: llm: %w", err))
		return
	}

	sentences := make(chan string, 8)
	segs, err := w.cfg.TTS.SynthesizeStream(ctx, sentences, voice)
	if err != nil {
		cancel()
		for range chunks {
		}
		w.playing.Store(false)
		_ = worker.EmitError(ctx, e, fmt.Errorf("voice: tts: %w", err))
		return
	}

	sinkDone := make(chan struct{})
	var spoken int
	go func() {
		defer close(sinkDone)
		first := true
		spoken = w.emitSpeech(ctx, e, segs, func() {
			if first {
				first = false
				w.metrics.TurnDuration.Record(ctx, time.Since(seg.End).Seconds(), attrs)
			}
		})
	}()

	reply, streamErr := forwardSentences(ctx, chunks, sentences, sinkDone, func() {
		w.metrics.LLMDuration.Record(ctx, time.Since(llmStart).Seconds(), attrs)
	})
	close(sentences)
	<-sinkDone
	if spoken == 0 {
		w.playing.Store(false)
	}

	if streamErr != nil {
		w.metrics.RecordProviderError(ctx, "llm", "stream")
		_ = worker.EmitError(ctx, e, fmt.Errorf("voice: llm: %w", streamErr))
	}
	if reply != "" {
		w.pushHistory(ctx, types.RoleAssistant, reply)
	}
}

func (w *Worker) answerWithVision(ctx context.Context, e worker.Emitter, instruction string, frame image.Image) {
	start := time.Now()
	answer, err := w.cfg.VLM.Describe(ctx, vlm.Request{
		Instruction: instruction,
		Image:       frame,
		MaxTokens:   DefaultVLMMaxTokens,
	})
	w.metrics.VLMDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(observe.Attr("worker", Kind)))
	if err != nil {
		w.playing.Store(false)
		w.metrics.RecordProviderError(ctx, "vlm", "describe")
		_ = worker.EmitError(ctx, e, fmt.Errorf("voice: vlm: %w", err))
		return
	}
	if answer == "" {
		w.playing.Store(false)
		return
	}
	w.speak(ctx, e, answer)
	w.pushHistory(ctx, types.RoleAssistant, answer)
}

// startSpeaking marks playback active and speaks text in the background.
func (w *Worker) startSpeaking(ctx context.Context, e worker.Emitter, text string, remember bool) {
	w.playing.Store(true)
	if remember {
		w.pushHistory(ctx, types.RoleAssistant, text)
	}
	w.turns.Add(1)
	go func() {
		defer w.turns.Done()
		w.speak(ctx, e, text)
	}()
}

// speak synthesises complete text and emits it.
func (w *Worker) speak(ctx context.Context, e worker.Emitter, text string) {
	w.mu.Lock()
	voice := w.voice
	w.mu.Unlock()

	parts := SplitSentences(text)
	sentences := make(chan string, len(parts))
	for _, p := range parts {
		sentences <- p
	}
	close(sentences)

	segs, err := w.cfg.TTS.SynthesizeStream(ctx, sentences, voice)
	if err != nil {
		w.playing.Store(false)
		_ = worker.EmitError(ctx, e, fmt.Errorf("voice: tts: %w", err))
		return
	}
	if w.emitSpeech(ctx, e, segs, nil) == 0 {
		w.playing.Store(false)
	}
}

// emitSpeech sends each synthesised segment as an output message and
// returns how many were sent.
func (w *Worker) emitSpeech(ctx context.Context, e worker.Emitter, segs <-chan tts.Segment, onFirst func()) int {
	attrs := metric.WithAttributes(observe.Attr("worker", Kind))
	last := time.Now()
	sent := 0
	for s := range segs {
		w.metrics.TTSDuration.Record(ctx, time.Since(last).Seconds(), attrs)
		if onFirst != nil {
			onFirst()
		}
		out, err := w.encode(s)
		if err != nil {
			_ = worker.EmitError(ctx, e, err)
			continue
		}
		if err := e.Emit(ctx, protocol.TypeOutput, out); err != nil {
			for range segs {
			}
			return sent
		}
		sent++
		last = time.Now()
	}
	return sent
}

func (w *Worker) encode(s tts.Segment) (protocol.OutputData, error) {
	if w.codec != CodecOpus {
		return protocol.OutputData{Text: s.Text, Result: s.Audio, SampleRate: s.SampleRate}, nil
	}
	packets, rate, err := encodeOpus(s.Audio, s.SampleRate)
	if err != nil {
		return protocol.OutputData{}, fmt.Errorf("voice: %w", err)
	}
	return protocol.OutputData{Text: s.Text, Packets: packets, SampleRate: rate}, nil
}

// encodeOpus packs samples into 20 ms Opus packets. Rates Opus does not
// support are resampled to 24 kHz first.
func encodeOpus(samples []float32, rate int) ([][]byte, int, error) {
	switch rate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		samples = audio.Resample(samples, rate, 24000)
		rate = 24000
	}
	enc, err := audio.NewOpusEncoder(rate)
	if err != nil {
		return nil, 0, err
	}
	packets, err := enc.Encode(samples)
	if err != nil {
		return nil, 0, err
	}
	tail, err := enc.Flush()
	if err != nil {
		return nil, 0, err
	}
	if tail != nil {
		packets = append(packets, tail)
	}
	return packets, rate, nil
}

func (w *Worker) pushHistory(ctx context.Context, role, content string) {
	if err := w.conv.Push(ctx, role, content); err != nil {
		observe.Logger(ctx).Warn("voice: history journal failed", "error", err)
	}
}

// History returns the current conversation, system prompt first.
func (w *Worker) History() []types.Message { return w.conv.Messages() }

// Playing reports whether a reply is being played back.
func (w *Worker) Playing() bool { return w.playing.Load() }

// Interrupt implements [worker.Interrupter]. It stops LLM generation of the
// current turn; text generated so far is still spoken and remembered.
func (w *Worker) Interrupt() {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close stops generation, waits for running turns and releases the VAD
// session.
func (w *Worker) Close() error {
	w.Interrupt()
	w.turns.Wait()
	if w.vadSes != nil {
		return w.vadSes.Close()
	}
	return nil
}
