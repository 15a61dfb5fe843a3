package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName is the service name reported in telemetry. Default: "webai".
	ServiceName string

	ServiceVersion string

	// InstanceID distinguishes replicas. Default: a random UUID.
	InstanceID string

	// TraceExporter receives finished spans. When nil, spans are sampled and
	// recorded but never leave the process.
	TraceExporter sdktrace.SpanExporter

	// SampleRatio is the fraction of new traces that are sampled, in (0, 1].
	// Zero samples everything. Incoming sampled parents are always honoured.
	SampleRatio float64
}

// Resource builds the telemetry resource for cfg.
func (cfg ProviderConfig) Resource() (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "webai"
	}
	id := cfg.InstanceID
	if id == "" {
		id = uuid.NewString()
	}
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(name),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.ServiceInstanceID(id),
		),
	)
}

func (cfg ProviderConfig) sampler() sdktrace.Sampler {
	if cfg.SampleRatio <= 0 || cfg.SampleRatio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
}

// InitProvider installs global meter and tracer providers and the W3C trace
// context propagator. Metrics are served by the Prometheus exporter on the
// default registry, which /metrics scrapes.
//
// The returned function flushes and stops both providers.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	if cfg.SampleRatio < 0 || cfg.SampleRatio > 1 {
		return nil, fmt.Errorf("observe: sample ratio %v is out of range [0, 1]", cfg.SampleRatio)
	}
	res, err := cfg.Resource()
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}

	promExp, err := promexporter.New()
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.sampler()),
	}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
