package voice

import (
	"context"
	"errors"
	"strings"

	"github.com/MrWong99/webai/pkg/provider/llm"
)

// sentenceEnd returns the length of the first complete sentence in s, or -1.
// A sentence ends at '.', '!', '?' or ';' followed by whitespace, or at a
// newline.
func sentenceEnd(s string) int {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\n':
			return i + 1
		case '.', '!', '?', ';':
			if i+1 < len(s) {
				switch s[i+1] {
				case ' ', '\n', '\r', '\t':
					return i + 1
				}
			}
		}
	}
	return -1
}

// SplitSentences splits complete text into trimmed, non-empty sentences.
func SplitSentences(text string) []string {
	var out []string
	for {
		n := sentenceEnd(text)
		if n < 0 {
			break
		}
		if s := strings.TrimSpace(text[:n]); s != "" {
			out = append(out, s)
		}
		text = text[n:]
	}
	if s := strings.TrimSpace(text); s != "" {
		out = append(out, s)
	}
	return out
}

// forwardSentences reads token chunks from ch until it is closed, writes each
// complete sentence to out, and flushes the remainder at the end. It returns
// the full generated text. Sentences are dropped once sinkDone is closed so
// a failed synthesiser cannot stall generation. onFirst, if non-nil, runs
// when the first non-empty token arrives.
func forwardSentences(ctx context.Context, ch <-chan llm.Chunk, out chan<- string, sinkDone <-chan struct{}, onFirst func()) (string, error) {
	var full, pending strings.Builder
	var streamErr error

	send := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		select {
		case out <- s:
		case <-sinkDone:
		case <-ctx.Done():
		}
	}

	for chunk := range ch {
		if chunk.FinishReason == llm.FinishReasonError {
			streamErr = errors.New(chunk.Text)
			continue
		}
		if chunk.Text == "" {
			continue
		}
		if full.Len() == 0 && onFirst != nil {
			onFirst()
		}
		full.WriteString(chunk.Text)
		pending.WriteString(chunk.Text)

		for {
			p := pending.String()
			n := sentenceEnd(p)
			if n < 0 {
				break
			}
			send(p[:n])
			pending.Reset()
			pending.WriteString(p[n:])
		}
	}
	send(pending.String())
	return strings.TrimSpace(full.String()), streamErr
}
