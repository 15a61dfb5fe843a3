package whisper_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/webai/pkg/audio"
	"github.com/MrWong99/webai/pkg/provider/stt"
	"github.com/MrWong99/webai/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// newMockServer creates a test server that responds to POST /inference with a
// JSON body containing responseText. It records the language field of the
// last request in *lang.
func newMockServer(t *testing.T, responseText string, callCount *atomic.Int32, lang *atomic.Value) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		wav, _ := io.ReadAll(f)
		if _, err := audio.ParseWAV(wav); err != nil {
			http.Error(w, "bad wav", http.StatusBadRequest)
			return
		}
		if callCount != nil {
			callCount.Add(1)
		}
		if lang != nil {
			lang.Store(r.FormValue("language"))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func speech(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = 0.3
		} else {
			out[i] = -0.3
		}
	}
	return out
}

// ---- construction -----------------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestNew_WithOptions_DoesNotError(t *testing.T) {
	t.Parallel()
	_, err := whisper.New("http://localhost:8080/",
		whisper.WithModel("base.en"),
		whisper.WithLanguage("de"),
		whisper.WithHTTPClient(&http.Client{Timeout: time.Second}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// ---- Transcribe --------------------------------------------------------------

func TestTranscribe_ReturnsTrimmedFinalText(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newMockServer(t, "  hello world \n", &calls, nil)
	p, err := whisper.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tr, err := p.Transcribe(context.Background(), stt.Request{Audio: speech(16000)}, nil)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "hello world" {
		t.Errorf("Text = %q, want %q", tr.Text, "hello world")
	}
	if !tr.IsFinal {
		t.Error("expected IsFinal")
	}
	if tr.Duration != time.Second {
		t.Errorf("Duration = %v, want 1s", tr.Duration)
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1", calls.Load())
	}
}

func TestTranscribe_RequestLanguageOverridesDefault(t *testing.T) {
	t.Parallel()

	var lang atomic.Value
	srv := newMockServer(t, "bonjour", nil, &lang)
	p, _ := whisper.New(srv.URL, whisper.WithLanguage("en"))

	if _, err := p.Transcribe(context.Background(), stt.Request{Audio: speech(160), Language: "fr"}, nil); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got := lang.Load(); got != "fr" {
		t.Errorf("language = %v, want fr", got)
	}

	if _, err := p.Transcribe(context.Background(), stt.Request{Audio: speech(160)}, nil); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got := lang.Load(); got != "en" {
		t.Errorf("language = %v, want en", got)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	if _, err := p.Transcribe(context.Background(), stt.Request{Audio: speech(160)}, nil); err == nil {
		t.Fatal("expected error on HTTP 500")
	}
}

func TestTranscribe_CancelledContext(t *testing.T) {
	t.Parallel()

	p, _ := whisper.New("http://127.0.0.1:1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Transcribe(ctx, stt.Request{Audio: speech(160)}, nil); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestTranscribe_MalformedJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	if _, err := p.Transcribe(context.Background(), stt.Request{Audio: speech(160)}, nil); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestNewNative_EmptyModelPath(t *testing.T) {
	t.Parallel()
	if _, err := whisper.NewNative(""); err == nil {
		t.Fatal("expected error for empty modelPath")
	}
}
