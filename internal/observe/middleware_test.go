package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type harness struct {
	m      *Metrics
	reader *sdkmetric.ManualReader
	spans  *tracetest.InMemoryExporter
	router chi.Router
}

// newHarness installs an in-memory tracer and the W3C propagator globally and
// returns a chi router wrapped in Middleware. Tests using it must not run in
// parallel.
func newHarness(t *testing.T) *harness {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))

	origTP, origProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		otel.SetTextMapPropagator(origProp)
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})

	r := chi.NewRouter()
	r.Use(Middleware(m))
	return &harness{m: m, reader: reader, spans: exp, router: r}
}

func (h *harness) durations(t *testing.T) []metricdata.HistogramDataPoint[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "webai.http.request.duration")
	if met == nil {
		return nil
	}
	return met.Data.(metricdata.Histogram[float64]).DataPoints
}

func TestMiddleware_Requests(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		status     int
		wantSpan   string
		wantErrSet bool
	}{
		{name: "ok", target: "/health/live", status: http.StatusOK, wantSpan: "GET /health/live"},
		{name: "route pattern", target: "/v1/workers/vlm", status: http.StatusNoContent, wantSpan: "GET /v1/workers/{kind}"},
		{name: "not found", target: "/health/live?x=404", status: http.StatusNotFound, wantSpan: "GET /health/live"},
		{name: "server error", target: "/v1/workers/boom", status: http.StatusInternalServerError, wantSpan: "GET /v1/workers/{kind}", wantErrSet: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			write := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(tt.status) }
			h.router.Get("/health/live", write)
			h.router.Get("/v1/workers/{kind}", write)

			rec := httptest.NewRecorder()
			h.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if cid := rec.Header().Get(HeaderCorrelationID); len(cid) != 32 {
				t.Errorf("correlation ID = %q", cid)
			}
			spans := h.spans.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("spans = %d, want 1", len(spans))
			}
			s := spans[0]
			if s.Name != tt.wantSpan {
				t.Errorf("span name = %q, want %q", s.Name, tt.wantSpan)
			}
			if (s.Status.Code == codes.Error) != tt.wantErrSet {
				t.Errorf("span status = %v", s.Status)
			}
			var code int64
			for _, a := range s.Attributes {
				if a.Key == "http.response.status_code" {
					code = a.Value.AsInt64()
				}
			}
			if code != int64(tt.status) {
				t.Errorf("span status code = %d", code)
			}
			if dps := h.durations(t); len(dps) != 1 || dps[0].Count != 1 {
				t.Errorf("duration points = %+v", dps)
			}
		})
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	h := newHarness(t)
	var seen string
	h.router.Get("/", func(_ http.ResponseWriter, r *http.Request) { seen = CorrelationID(r.Context()) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	const want = "4bf92f3577b34da6a3ce929d0e0e4736"
	if seen != want || rec.Header().Get(HeaderCorrelationID) != want {
		t.Errorf("handler saw %q, header %q, want %q", seen, rec.Header().Get(HeaderCorrelationID), want)
	}
	if rec.Header().Get("traceparent") == "" {
		t.Error("trace context not injected into the response")
	}
}

func TestMiddleware_RouteSharesSeries(t *testing.T) {
	h := newHarness(t)
	h.router.Get("/v1/workers/{kind}", func(http.ResponseWriter, *http.Request) {})
	for _, kind := range []string{"vlm", "detect", "transcribe"} {
		h.router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/workers/"+kind, nil))
	}

	dps := h.durations(t)
	if len(dps) != 1 || dps[0].Count != 3 {
		t.Fatalf("duration points = %+v, want one series with 3 samples", dps)
	}
	if path, _ := dps[0].Attributes.Value("path"); path.AsString() != "/v1/workers/{kind}" {
		t.Errorf("path = %q", path.AsString())
	}
}

func TestMiddleware_WebSocketIsNotTimed(t *testing.T) {
	h := newHarness(t)
	h.router.Get("/ws/{kind}", func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_, _, _ = c.Read(r.Context())
		_ = c.CloseNow()
	})
	srv := httptest.NewServer(h.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):]+"/ws/vlm", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	_ = c.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(2 * time.Second)
	for len(h.spans.GetSpans()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("upgrade span never ended")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if s := h.spans.GetSpans()[0]; s.Name != "GET /ws/{kind}" {
		t.Errorf("span name = %q", s.Name)
	}
	if dps := h.durations(t); len(dps) != 0 {
		t.Errorf("websocket session recorded as request duration: %+v", dps)
	}
}
