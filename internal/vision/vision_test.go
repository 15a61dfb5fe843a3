package vision

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/corona10/goimagehash"

	"github.com/MrWong99/webai/internal/protocol"
	wmock "github.com/MrWong99/webai/internal/worker/mock"
	detectmock "github.com/MrWong99/webai/pkg/provider/detect/mock"
	vlmmock "github.com/MrWong99/webai/pkg/provider/vlm/mock"
	"github.com/MrWong99/webai/pkg/types"
)

func testFrame() *protocol.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for y := range 16 {
		for x := range 16 {
			img.Set(x, y, color.NRGBA{R: uint8(x * 16), G: uint8(y * 16), B: 128, A: 255})
		}
	}
	f := protocol.ImageFrom(img)
	return &f
}

func process(t *testing.T, data protocol.ProcessData) protocol.Message {
	t.Helper()
	msg, err := protocol.New(protocol.TypeProcess, data)
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

func results(t *testing.T, e *wmock.Emitter) []json.RawMessage {
	t.Helper()
	var out []json.RawMessage
	for _, m := range e.OfType(protocol.TypeProcessResult) {
		var r struct {
			Input  json.RawMessage `json:"input"`
			Output struct {
				Data json.RawMessage `json:"data"`
			} `json:"output"`
		}
		if err := json.Unmarshal(m.Data, &r); err != nil {
			t.Fatal(err)
		}
		out = append(out, r.Output.Data)
	}
	return out
}

func TestFrameCache_Distance(t *testing.T) {
	t.Parallel()

	c := NewFrameCache(DefaultCacheDistance, 4)
	base := goimagehash.NewImageHash(0, goimagehash.PHash)
	c.Store(base, "what is this?", "a cat")

	tests := []struct {
		name  string
		hash  uint64
		instr string
		hit   bool
	}{
		{name: "same frame", hash: 0, instr: "what is this?", hit: true},
		{name: "five bits off", hash: 0b11111, instr: "what is this?", hit: true},
		{name: "six bits off", hash: 0b111111, instr: "what is this?", hit: false},
		{name: "other instruction", hash: 0, instr: "count the cats", hit: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			answer, ok := c.Lookup(goimagehash.NewImageHash(tt.hash, goimagehash.PHash), tt.instr)
			if ok != tt.hit {
				t.Fatalf("hit = %v, want %v", ok, tt.hit)
			}
			if ok && answer != "a cat" {
				t.Errorf("answer = %q", answer)
			}
		})
	}
}

func TestFrameCache_EvictsOldest(t *testing.T) {
	t.Parallel()

	c := NewFrameCache(0, 2)
	for i := range 3 {
		c.Store(goimagehash.NewImageHash(uint64(1)<<(i*10), goimagehash.PHash), "q", string(rune('a'+i)))
	}
	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}
	if _, ok := c.Lookup(goimagehash.NewImageHash(1, goimagehash.PHash), "q"); ok {
		t.Error("oldest entry survived eviction")
	}
}

func TestVLMWorker_AnswersAndCaches(t *testing.T) {
	t.Parallel()

	p := &vlmmock.Provider{Answer: "A colourful gradient."}
	w, err := NewVLM(VLMConfig{Provider: p})
	if err != nil {
		t.Fatal(err)
	}
	e := &wmock.Emitter{}
	ctx := context.Background()
	frame := testFrame()

	for range 2 {
		if err := w.Handle(ctx, process(t, protocol.ProcessData{Instruction: "Describe.", Image: frame}), e); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}
	if n := p.CallCount(); n != 1 {
		t.Errorf("provider called %d times, want 1", n)
	}
	if p.Requests[0].MaxTokens != VLMMaxTokens || p.Requests[0].Image.Bounds().Dx() != 16 {
		t.Errorf("request = %+v", p.Requests[0])
	}

	res := results(t, e)
	if len(res) != 2 || string(res[1]) != `"A colourful gradient."` {
		t.Errorf("results = %s", res)
	}

	var r protocol.ProcessResultData
	var in vlmInput
	r.Input = &in
	if err := e.OfType(protocol.TypeProcessResult)[0].Decode(&r); err != nil {
		t.Fatal(err)
	}
	if in != (vlmInput{Instruction: "Describe.", Width: 16, Height: 16, Channels: 4}) {
		t.Errorf("input echo = %+v", in)
	}

	if err := w.Handle(ctx, process(t, protocol.ProcessData{Instruction: "Any people?", Image: frame}), e); err != nil {
		t.Fatal(err)
	}
	if n := p.CallCount(); n != 2 {
		t.Errorf("new instruction served from cache")
	}
}

func TestVLMWorker_CacheDisabled(t *testing.T) {
	t.Parallel()

	p := &vlmmock.Provider{Answer: "x"}
	w, _ := NewVLM(VLMConfig{Provider: p, CacheDistance: -1})
	e := &wmock.Emitter{}
	for range 2 {
		_ = w.Handle(context.Background(), process(t, protocol.ProcessData{Instruction: "q", Image: testFrame()}), e)
	}
	if n := p.CallCount(); n != 2 {
		t.Errorf("provider called %d times, want 2", n)
	}
}

func TestVLMWorker_Errors(t *testing.T) {
	t.Parallel()

	bad := &protocol.Image{Data: []byte{1, 2, 3}, Width: 2, Height: 2, Channels: 3}
	tests := []struct {
		name    string
		msg     protocol.Message
		provErr error
		wantIs  error
	}{
		{name: "wrong type", msg: protocol.Message{Type: protocol.TypeAudio}},
		{name: "no image", msg: process(t, protocol.ProcessData{Instruction: "q"}), wantIs: ErrNoImage},
		{name: "bad image", msg: process(t, protocol.ProcessData{Instruction: "q", Image: bad}), wantIs: protocol.ErrInvalidImage},
		{name: "provider", msg: process(t, protocol.ProcessData{Instruction: "q", Image: testFrame()}), provErr: errors.New("oom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w, _ := NewVLM(VLMConfig{Provider: &vlmmock.Provider{DescribeErr: tt.provErr}})
			err := w.Handle(context.Background(), tt.msg, &wmock.Emitter{})
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("err = %v, want %v", err, tt.wantIs)
			}
		})
	}

	if _, err := NewVLM(VLMConfig{}); err == nil {
		t.Error("NewVLM without provider succeeded")
	}
}

func TestDetectWorker_Filters(t *testing.T) {
	t.Parallel()

	p := &detectmock.Provider{Detections: []types.Detection{
		{Label: "person", Score: 0.97},
		{Label: "cup", Score: 0.5},
		{Label: "ghost", Score: 0.05},
	}}
	w, err := NewDetect(DetectConfig{Provider: p})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	high, zero := 0.6, 0.0
	tests := []struct {
		name      string
		threshold *float64
		want      int
	}{
		{name: "default threshold", want: 2},
		{name: "client threshold", threshold: &high, want: 1},
		{name: "explicit zero keeps everything", threshold: &zero, want: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &wmock.Emitter{}
			if err := w.Handle(ctx, process(t, protocol.ProcessData{Image: testFrame(), Threshold: tt.threshold}), e); err != nil {
				t.Fatalf("Handle: %v", err)
			}
			var dets []types.Detection
			if err := json.Unmarshal(results(t, e)[0], &dets); err != nil {
				t.Fatal(err)
			}
			if len(dets) != tt.want {
				t.Errorf("got %d detections, want %d", len(dets), tt.want)
			}
		})
	}

	if got := p.Calls[0].Threshold; got != ProviderThreshold {
		t.Errorf("provider threshold = %v, want %v", got, ProviderThreshold)
	}
}

func TestDetectWorker_RejectsOutOfRangeThreshold(t *testing.T) {
	t.Parallel()

	p := &detectmock.Provider{}
	w, err := NewDetect(DetectConfig{Provider: p})
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range []float64{-0.1, 1.5} {
		err := w.Handle(context.Background(), process(t, protocol.ProcessData{Image: testFrame(), Threshold: &v}), &wmock.Emitter{})
		if !errors.Is(err, ErrInvalidThreshold) {
			t.Errorf("threshold %v: err = %v, want ErrInvalidThreshold", v, err)
		}
	}
	if len(p.Calls) != 0 {
		t.Errorf("provider called %d times for invalid thresholds", len(p.Calls))
	}
}

func TestDetectWorker_EmptyResultIsArray(t *testing.T) {
	t.Parallel()

	w, _ := NewDetect(DetectConfig{Provider: &detectmock.Provider{}})
	e := &wmock.Emitter{}
	if err := w.Handle(context.Background(), process(t, protocol.ProcessData{Image: testFrame()}), e); err != nil {
		t.Fatal(err)
	}
	if got := string(results(t, e)[0]); got != "[]" {
		t.Errorf("data = %s, want []", got)
	}
}

func TestDetectWorker_ProviderError(t *testing.T) {
	t.Parallel()

	w, _ := NewDetect(DetectConfig{Provider: &detectmock.Provider{DetectErr: errors.New("503")}})
	if err := w.Handle(context.Background(), process(t, protocol.ProcessData{Image: testFrame()}), &wmock.Emitter{}); err == nil {
		t.Error("expected error")
	}
}

func TestLoad_ForwardsProgress(t *testing.T) {
	t.Parallel()

	prep := func(_ context.Context, progress func(protocol.ProgressInfo)) error {
		progress(protocol.ProgressInfo{Status: protocol.ProgressDone, File: "model.onnx"})
		return nil
	}
	w, _ := NewDetect(DetectConfig{Provider: &detectmock.Provider{}, Prepare: prep})
	e := &wmock.Emitter{}
	if err := w.Load(context.Background(), protocol.LoadOptions{}, e); err != nil {
		t.Fatal(err)
	}
	if n := len(e.OfType(protocol.TypeProgress)); n != 1 {
		t.Errorf("got %d progress messages, want 1", n)
	}
}
