package openai

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/webai/pkg/provider/vlm"
)

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	return img
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	var body struct {
		Model               string `json:"model"`
		MaxCompletionTokens int    `json:"max_completion_tokens"`
		Messages            []struct {
			Role    string `json:"role"`
			Content []struct {
				Type     string `json:"type"`
				Text     string `json:"text"`
				ImageURL struct {
					URL string `json:"url"`
				} `json:"image_url"`
			} `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","created":0,"model":"smolvlm","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"  A red pixel.  "}}]}`))
	}))
	defer srv.Close()

	p, err := New("local", "smolvlm", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := p.Describe(context.Background(), vlm.Request{Instruction: "What do you see?", Image: testImage(), MaxTokens: 100})
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if got != "A red pixel." {
		t.Errorf("answer = %q, want trimmed text", got)
	}

	if body.Model != "smolvlm" || body.MaxCompletionTokens != 100 {
		t.Errorf("model=%q max=%d", body.Model, body.MaxCompletionTokens)
	}
	if len(body.Messages) != 1 || len(body.Messages[0].Content) != 2 {
		t.Fatalf("unexpected messages: %+v", body.Messages)
	}
	parts := body.Messages[0].Content
	if parts[0].Type != "image_url" || !strings.HasPrefix(parts[0].ImageURL.URL, "data:image/png;base64,") {
		t.Errorf("first part should be a PNG data URL, got %+v", parts[0])
	}
	if parts[1].Type != "text" || parts[1].Text != "What do you see?" {
		t.Errorf("second part should be the instruction, got %+v", parts[1])
	}
}

func TestDescribe_NilImage(t *testing.T) {
	t.Parallel()

	p, _ := New("local", "smolvlm")
	if _, err := p.Describe(context.Background(), vlm.Request{Instruction: "hi"}); err == nil {
		t.Fatal("expected error for nil image")
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "m"); err == nil {
		t.Error("expected error for empty key")
	}
	if _, err := New("k", ""); err == nil {
		t.Error("expected error for empty model")
	}
}
