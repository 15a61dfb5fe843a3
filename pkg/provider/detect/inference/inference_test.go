package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDetect(t *testing.T) {
	t.Parallel()

	var got request
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`[{"label":"person","score":0.97,"box":{"xmin":1,"ymin":2,"xmax":30,"ymax":40}}]`))
	}))
	defer srv.Close()

	p, err := New(srv.URL, WithToken("secret"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	dets, err := p.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 3)), 0.9)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(dets) != 1 || dets[0].Label != "person" || dets[0].Box.XMax != 30 {
		t.Fatalf("unexpected detections: %+v", dets)
	}
	if auth != "Bearer secret" {
		t.Errorf("Authorization = %q", auth)
	}
	if got.Parameters.Threshold != 0.9 {
		t.Errorf("threshold = %v, want 0.9", got.Parameters.Threshold)
	}

	raw, err := base64.StdEncoding.DecodeString(got.Inputs)
	if err != nil {
		t.Fatalf("inputs not base64: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("inputs not png: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 3 {
		t.Errorf("decoded bounds = %v", b)
	}
}

func TestDetect_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	if _, err := p.Detect(context.Background(), image.NewGray(image.Rect(0, 0, 1, 1)), 0.5); err == nil {
		t.Fatal("expected error for 503")
	}
}

func TestNew_EmptyEndpoint(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("expected error")
	}
}
