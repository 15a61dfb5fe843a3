package voice

import (
	"context"
	"slices"
	"testing"

	"github.com/MrWong99/webai/pkg/provider/llm"
)

func TestSplitSentences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty", in: "  ", want: nil},
		{name: "single without terminator", in: "hello there", want: []string{"hello there"}},
		{name: "greeting", in: "Hey there, my name is Heart! How can I help you today?", want: []string{"Hey there, my name is Heart!", "How can I help you today?"}},
		{name: "semicolon", in: "First; second.", want: []string{"First;", "second."}},
		{name: "newline", in: "line one\nline two", want: []string{"line one", "line two"}},
		{name: "decimal stays", in: "It costs 3.50 today. Bye.", want: []string{"It costs 3.50 today.", "Bye."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := SplitSentences(tt.in); !slices.Equal(got, tt.want) {
				t.Errorf("SplitSentences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func feed(chunks ...llm.Chunk) <-chan llm.Chunk {
	ch := make(chan llm.Chunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

func TestForwardSentences(t *testing.T) {
	t.Parallel()

	ch := feed(
		llm.Chunk{Text: "Sure"},
		llm.Chunk{Text: "! I can"},
		llm.Chunk{Text: " help. What"},
		llm.Chunk{Text: " now", FinishReason: "stop"},
	)
	out := make(chan string, 8)
	first := 0
	full, err := forwardSentences(context.Background(), ch, out, nil, func() { first++ })
	close(out)
	if err != nil {
		t.Fatalf("forwardSentences: %v", err)
	}

	var got []string
	for s := range out {
		got = append(got, s)
	}
	if want := []string{"Sure!", "I can help.", "What now"}; !slices.Equal(got, want) {
		t.Errorf("sentences = %q, want %q", got, want)
	}
	if full != "Sure! I can help. What now" {
		t.Errorf("full = %q", full)
	}
	if first != 1 {
		t.Errorf("onFirst called %d times, want 1", first)
	}
}

func TestForwardSentences_ErrorChunk(t *testing.T) {
	t.Parallel()

	ch := feed(llm.Chunk{Text: "Partial."}, llm.Chunk{Text: "rate limited", FinishReason: llm.FinishReasonError})
	out := make(chan string, 4)
	full, err := forwardSentences(context.Background(), ch, out, nil, nil)
	if err == nil || err.Error() != "rate limited" {
		t.Errorf("err = %v, want rate limited", err)
	}
	if full != "Partial." {
		t.Errorf("full = %q", full)
	}
}

func TestForwardSentences_DropsAfterSinkDone(t *testing.T) {
	t.Parallel()

	sinkDone := make(chan struct{})
	close(sinkDone)
	// Unbuffered and never read: sends must not block once the sink is gone.
	out := make(chan string)
	full, err := forwardSentences(context.Background(), feed(llm.Chunk{Text: "One. Two. Three."}), out, sinkDone, nil)
	if err != nil {
		t.Fatal(err)
	}
	if full != "One. Two. Three." {
		t.Errorf("full = %q", full)
	}
}
