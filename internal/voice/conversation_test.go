package voice

import (
	"context"
	"errors"
	"image"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/webai/internal/history"
	"github.com/MrWong99/webai/internal/protocol"
	wmock "github.com/MrWong99/webai/internal/worker/mock"
	"github.com/MrWong99/webai/pkg/provider/llm"
	llmmock "github.com/MrWong99/webai/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/webai/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/webai/pkg/provider/tts/mock"
	vadmock "github.com/MrWong99/webai/pkg/provider/vad/mock"
	vlmmock "github.com/MrWong99/webai/pkg/provider/vlm/mock"
	"github.com/MrWong99/webai/pkg/types"
)

type fixture struct {
	vad  *vadmock.Session
	stt  *sttmock.Provider
	llm  *llmmock.Provider
	tts  *ttsmock.Provider
	vlm  *vlmmock.Provider
	emit *wmock.Emitter
	w    *Worker
}

// newFixture builds and loads a worker. Chunks whose first sample is
// positive score as speech.
func newFixture(t *testing.T, configure func(*fixture, *Config)) *fixture {
	t.Helper()
	f := &fixture{
		vad: &vadmock.Session{ProbabilityFunc: func(c []float32) float64 {
			if len(c) > 0 && c[0] > 0 {
				return 0.9
			}
			return 0
		}},
		stt: &sttmock.Provider{},
		llm: &llmmock.Provider{},
		tts: &ttsmock.Provider{ListVoicesResult: []types.VoiceProfile{
			{ID: "af_heart", Name: "Heart"},
			{ID: "am_michael", Name: "Michael"},
		}},
		emit: &wmock.Emitter{},
	}
	cfg := Config{
		VAD:   &vadmock.Engine{Session: f.vad},
		STT:   f.stt,
		LLM:   f.llm,
		TTS:   f.tts,
		Store: history.NewMemoryStore(),
	}
	if configure != nil {
		configure(f, &cfg)
	}
	w, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Load(context.Background(), protocol.LoadOptions{}, f.emit); err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	f.w = w
	return f
}

func (f *fixture) send(t *testing.T, typ protocol.Type, data any) error {
	t.Helper()
	msg, err := protocol.New(typ, data)
	if err != nil {
		t.Fatal(err)
	}
	return f.w.Handle(context.Background(), msg, f.emit)
}

// utter streams one utterance: 10 speech chunks then enough silence to end it.
func (f *fixture) utter(t *testing.T) {
	t.Helper()
	for range 10 {
		if err := f.send(t, protocol.TypeAudio, protocol.AudioData{Buffer: filled(chunkLen, 0.5)}); err != nil {
			t.Fatalf("audio: %v", err)
		}
	}
	for range 13 {
		if err := f.send(t, protocol.TypeAudio, protocol.AudioData{Buffer: filled(chunkLen, 0)}); err != nil {
			t.Fatalf("audio: %v", err)
		}
	}
	f.w.turns.Wait()
}

func (f *fixture) outputs(t *testing.T) []protocol.OutputData {
	t.Helper()
	var out []protocol.OutputData
	for _, m := range f.emit.OfType(protocol.TypeOutput) {
		var d protocol.OutputData
		if err := m.Decode(&d); err != nil {
			t.Fatal(err)
		}
		out = append(out, d)
	}
	return out
}

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"vad", "stt", "llm", "tts"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoad_WarmsUpAndAdvertisesVoices(t *testing.T) {
	t.Parallel()

	var eng *vadmock.Engine
	f := newFixture(t, func(f *fixture, c *Config) {
		eng = &vadmock.Engine{Session: f.vad}
		c.VAD = eng
	})

	if cfgs := eng.Configs(); len(cfgs) != 1 || cfgs[0].SampleRate != SampleRate || cfgs[0].Threshold != SpeechThreshold {
		t.Errorf("vad sessions = %+v", cfgs)
	}
	if len(f.stt.Calls) != 1 || len(f.stt.Calls[0].Req.Audio) != SampleRate {
		t.Errorf("warm-up calls = %d, want one second of silence", len(f.stt.Calls))
	}
	st := f.emit.Statuses()
	if len(st) != 1 || st[0].Status != protocol.StatusReady || len(st[0].Voices) != 2 {
		t.Fatalf("statuses = %+v, want ready with voices", st)
	}
	if len(f.emit.OfType(protocol.TypeInfo)) == 0 {
		t.Error("no info message during load")
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		configure func(*fixture, *Config)
	}{
		{name: "vad session", configure: func(_ *fixture, c *Config) {
			c.VAD = &vadmock.Engine{NewSessionErr: errors.New("no model")}
		}},
		{name: "stt warm-up", configure: func(f *fixture, _ *Config) {
			f.stt.TranscribeErr = errors.New("server down")
		}},
		{name: "voices", configure: func(f *fixture, _ *Config) {
			f.tts.ListVoicesErr = errors.New("unauthorized")
		}},
		{name: "prepare", configure: func(_ *fixture, c *Config) {
			c.Prepare = func(context.Context, func(protocol.ProgressInfo)) error { return errors.New("download failed") }
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := &fixture{
				vad:  &vadmock.Session{},
				stt:  &sttmock.Provider{},
				tts:  &ttsmock.Provider{},
				emit: &wmock.Emitter{},
			}
			cfg := Config{VAD: &vadmock.Engine{Session: f.vad}, STT: f.stt, LLM: &llmmock.Provider{}, TTS: f.tts}
			tt.configure(f, &cfg)
			w, err := New(cfg)
			if err != nil {
				t.Fatal(err)
			}
			if err := w.Load(context.Background(), protocol.LoadOptions{}, f.emit); err == nil {
				t.Error("Load succeeded, want error")
			}
		})
	}
}

func TestTurn_SpeechToSpeech(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(f *fixture, _ *Config) {
		f.stt.Results = []types.Transcript{{}, {Text: "  what's up  "}}
		f.llm.StreamChunks = []llm.Chunk{{Text: "Not much. "}, {Text: "You?", FinishReason: "stop"}}
	})
	f.emit.Reset()
	f.utter(t)

	var statuses []protocol.Status
	for _, s := range f.emit.Statuses() {
		statuses = append(statuses, s.Status)
	}
	if len(statuses) != 2 || statuses[0] != protocol.StatusRecordingStart || statuses[1] != protocol.StatusRecordingEnd {
		t.Errorf("statuses = %v, want recording_start, recording_end", statuses)
	}

	out := f.outputs(t)
	if len(out) != 2 || out[0].Text != "Not much." || out[1].Text != "You?" {
		t.Fatalf("outputs = %+v", out)
	}
	if out[0].SampleRate != 24000 || len(out[0].Result) != 240 {
		t.Errorf("output audio: rate=%d len=%d", out[0].SampleRate, len(out[0].Result))
	}

	req, ok := f.llm.LastRequest()
	if !ok {
		t.Fatal("LLM was never called")
	}
	if req.MaxTokens != DefaultMaxTokens {
		t.Errorf("MaxTokens = %d, want %d", req.MaxTokens, DefaultMaxTokens)
	}
	if req.Messages[0].Content != DefaultSystemPrompt || req.Messages[1].Content != "what's up" {
		t.Errorf("prompt = %+v", req.Messages)
	}

	h := f.w.History()
	if len(h) != 3 || h[2].Role != types.RoleAssistant || h[2].Content != "Not much. You?" {
		t.Errorf("history = %+v", h)
	}
	if !f.w.Playing() {
		t.Error("playback flag cleared before playback_ended")
	}
}

func TestTurn_SecondTurnSeesHistory(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(f *fixture, _ *Config) {
		f.stt.Results = []types.Transcript{{}, {Text: "first"}, {Text: "second"}}
		f.llm.Turns = [][]llm.Chunk{{{Text: "One."}}, {{Text: "Two."}}}
	})
	f.utter(t)
	_ = f.send(t, protocol.TypePlaybackEnded, nil)
	f.utter(t)

	req, ok := f.llm.LastRequest()
	if !ok || f.llm.StreamCallCount() != 2 {
		t.Fatalf("stream calls = %d, want 2", f.llm.StreamCallCount())
	}
	var got []string
	for _, m := range req.Messages[1:] {
		got = append(got, m.Content)
	}
	if strings.Join(got, "|") != "first|One.|second" {
		t.Errorf("second prompt = %v", got)
	}
	out := f.outputs(t)
	if len(out) != 2 || out[1].Text != "Two." {
		t.Errorf("outputs = %+v", out)
	}
}

func TestTurn_IgnoresAudioWhilePlaying(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(f *fixture, _ *Config) {
		f.stt.Default = types.Transcript{Text: "hello"}
		f.llm.StreamChunks = []llm.Chunk{{Text: "Hi."}}
	})
	f.utter(t)
	scored := f.vad.Scored()

	_ = f.send(t, protocol.TypeAudio, protocol.AudioData{Buffer: filled(chunkLen, 0.5)})
	if f.vad.Scored() != scored {
		t.Error("audio was scored while playing")
	}

	_ = f.send(t, protocol.TypePlaybackEnded, nil)
	_ = f.send(t, protocol.TypeAudio, protocol.AudioData{Buffer: filled(chunkLen, 0.5)})
	if f.vad.Scored() != scored+1 {
		t.Error("audio was not scored after playback_ended")
	}
}

func TestTurn_BlankTranscriptEndsTurn(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"", "[BLANK_AUDIO]"} {
		f := newFixture(t, func(f *fixture, _ *Config) {
			f.stt.Default = types.Transcript{Text: text}
		})
		f.utter(t)
		if n := f.llm.StreamCallCount(); n != 0 {
			t.Errorf("%q: LLM called %d times", text, n)
		}
		if f.w.Playing() {
			t.Errorf("%q: playback flag left set", text)
		}
		if n := len(f.w.History()); n != 1 {
			t.Errorf("%q: history has %d messages, want 1", text, n)
		}
	}
}

func TestTurn_InterruptKeepsPartialReply(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	f := newFixture(t, func(f *fixture, _ *Config) {
		f.stt.Default = types.Transcript{Text: "tell me a story"}
		f.llm.StreamChunks = []llm.Chunk{{Text: "Once upon a time. "}, {Text: "The end."}}
		f.llm.StreamGate = gate
	})

	for range 10 {
		_ = f.send(t, protocol.TypeAudio, protocol.AudioData{Buffer: filled(chunkLen, 0.5)})
	}
	for range 13 {
		_ = f.send(t, protocol.TypeAudio, protocol.AudioData{Buffer: filled(chunkLen, 0)})
	}
	gate <- struct{}{}
	deadline := time.Now().Add(2 * time.Second)
	for len(f.tts.SentencesSeen()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first sentence never reached TTS")
		}
		time.Sleep(5 * time.Millisecond)
	}
	_ = f.send(t, protocol.TypeInterrupt, nil)
	f.w.turns.Wait()

	h := f.w.History()
	if last := h[len(h)-1]; last.Role != types.RoleAssistant || last.Content != "Once upon a time." {
		t.Errorf("last message = %+v, want partial reply", last)
	}
	out := f.outputs(t)
	if len(out) != 1 || out[0].Text != "Once upon a time." {
		t.Errorf("outputs = %+v", out)
	}
}

func TestStartCall_Greets(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	if err := f.send(t, protocol.TypeStartCall, nil); err != nil {
		t.Fatal(err)
	}
	f.w.turns.Wait()

	want := "Hey there, my name is Heart! How can I help you today?"
	h := f.w.History()
	if h[len(h)-1].Content != want {
		t.Errorf("history = %+v", h)
	}
	out := f.outputs(t)
	if len(out) != 2 || out[0].Text != "Hey there, my name is Heart!" {
		t.Errorf("outputs = %+v", out)
	}
	if !f.w.Playing() {
		t.Error("greeting did not set the playback flag")
	}
}

func TestSetVoice(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	if err := f.send(t, protocol.TypeSetVoice, protocol.SetVoiceData{Voice: "Micheal"}); err != nil {
		t.Fatal(err)
	}
	if err := f.send(t, protocol.TypeSetVoice, protocol.SetVoiceData{Voice: "nobody"}); err != nil {
		t.Fatal(err)
	}

	resp := f.emit.OfType(protocol.TypeSetVoiceResponse)
	if len(resp) != 2 {
		t.Fatalf("got %d responses, want 2", len(resp))
	}
	var ok, miss protocol.SetVoiceResponseData
	_ = resp[0].Decode(&ok)
	_ = resp[1].Decode(&miss)
	if !ok.OK || ok.Voice == nil || ok.Voice.ID != "am_michael" {
		t.Errorf("first response = %+v", ok)
	}
	if miss.OK {
		t.Error("unknown voice reported ok")
	}

	_ = f.send(t, protocol.TypeStartCall, nil)
	f.w.turns.Wait()
	if got := f.tts.SynthesizeStreamCalls[0].Voice.ID; got != "am_michael" {
		t.Errorf("greeting voice = %q, want am_michael", got)
	}
}

func TestEndCall_ResetsHistory(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	_ = f.send(t, protocol.TypeStartCall, nil)
	f.w.turns.Wait()
	_ = f.send(t, protocol.TypeEndCall, nil)

	if h := f.w.History(); len(h) != 1 || h[0].Role != types.RoleSystem {
		t.Errorf("history after end_call = %+v", h)
	}
	if f.vad.ResetCallCount != 1 {
		t.Errorf("vad reset %d times, want 1", f.vad.ResetCallCount)
	}
}

func TestSynthesizeText(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	_ = f.send(t, protocol.TypeSynthesizeText, protocol.SynthesizeTextData{Text: "Read this. And this."})
	f.w.turns.Wait()

	if got := f.tts.SentencesSeen(); len(got) != 2 || got[1] != "And this." {
		t.Errorf("sentences = %q", got)
	}
	if n := len(f.w.History()); n != 1 {
		t.Errorf("synthesize_text changed history: %d messages", n)
	}
}

func TestCombinedMode_AnswersWithVision(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(f *fixture, c *Config) {
		f.vlm = &vlmmock.Provider{Answer: "A red mug."}
		c.VLM = f.vlm
		f.stt.Default = types.Transcript{Text: "what am I holding"}
	})

	img := protocol.ImageFrom(image.NewNRGBA(image.Rect(0, 0, 2, 2)))
	if err := f.send(t, protocol.TypeImage, protocol.ImageData{Image: img}); err != nil {
		t.Fatal(err)
	}
	f.utter(t)

	if f.vlm.CallCount() != 1 {
		t.Fatalf("VLM called %d times, want 1", f.vlm.CallCount())
	}
	req := f.vlm.Requests[0]
	if req.Instruction != "what am I holding" || req.MaxTokens != DefaultVLMMaxTokens {
		t.Errorf("request = %+v", req)
	}
	if f.llm.StreamCallCount() != 0 {
		t.Error("LLM used in combined mode")
	}
	if out := f.outputs(t); len(out) != 1 || out[0].Text != "A red mug." {
		t.Errorf("outputs = %+v", out)
	}
}

func TestCombinedMode_WithoutFrameUsesLLM(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(f *fixture, c *Config) {
		f.vlm = &vlmmock.Provider{Answer: "unused"}
		c.VLM = f.vlm
		f.stt.Default = types.Transcript{Text: "hi"}
		f.llm.StreamChunks = []llm.Chunk{{Text: "Hello!"}}
	})
	f.utter(t)

	if f.vlm.CallCount() != 0 || f.llm.StreamCallCount() != 1 {
		t.Errorf("vlm=%d llm=%d, want 0 and 1", f.vlm.CallCount(), f.llm.StreamCallCount())
	}
}

func TestHandle_UnknownType(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	if err := f.send(t, protocol.Type("dance"), nil); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestClose_WaitsForTurns(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(f *fixture, _ *Config) {
		f.tts.Gate = make(chan struct{})
	})
	ctx, cancel := context.WithCancel(context.Background())
	msg, _ := protocol.New(protocol.TypeSynthesizeText, protocol.SynthesizeTextData{Text: "Hold on."})
	_ = f.w.Handle(ctx, msg, f.emit)

	done := make(chan struct{})
	go func() {
		cancel()
		_ = f.w.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after the context was cancelled")
	}
	if f.vad.CloseCallCount == 0 {
		t.Error("vad session not closed")
	}
}
