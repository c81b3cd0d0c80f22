package otel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultEndpoint = "localhost:4318"
	batchTimeout    = 2 * time.Second
	maxExportBatch  = 512
	metricInterval  = 15 * time.Second
)

// Config selects which signals escrowd exports and where the collector
// lives.
type Config struct {
	ServiceName string
	Environment string
	Endpoint    string
	Insecure    bool
	Headers     map[string]string
	Metrics     bool
	Traces      bool
	// SampleRatio bounds the fraction of root spans exported. Values outside
	// (0,1) sample every span.
	SampleRatio float64
}

// Providers is what Init installed globally.
type Providers struct {
	traces  *sdktrace.TracerProvider
	metrics *sdkmetric.MeterProvider
}

// Shutdown flushes pending spans and metric points, metrics first. It is safe
// on a nil receiver and on providers that were never enabled.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.metrics != nil {
		errs = append(errs, p.metrics.Shutdown(ctx))
	}
	if p.traces != nil {
		errs = append(errs, p.traces.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// Init installs W3C trace-context propagation and, when enabled, OTLP/HTTP
// exporters for spans and metrics tagged with the escrowd service identity.
func Init(ctx context.Context, cfg Config) (*Providers, error) {
	if strings.TrimSpace(cfg.ServiceName) == "" {
		return nil, errors.New("telemetry: service name required")
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	if !cfg.Traces && !cfg.Metrics {
		return &Providers{}, nil
	}

	res, err := cfg.resource()
	if err != nil {
		return nil, err
	}
	p := &Providers{}
	if cfg.Traces {
		exporter, err := otlptracehttp.New(ctx, exporterOptions(cfg,
			otlptracehttp.WithEndpoint, otlptracehttp.WithInsecure, otlptracehttp.WithHeaders)...)
		if err != nil {
			return nil, fmt.Errorf("telemetry: span exporter: %w", err)
		}
		p.traces = sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithSampler(cfg.sampler()),
			sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(batchTimeout), sdktrace.WithMaxExportBatchSize(maxExportBatch)),
		)
		otel.SetTracerProvider(p.traces)
	}
	if cfg.Metrics {
		exporter, err := otlpmetrichttp.New(ctx, exporterOptions(cfg,
			otlpmetrichttp.WithEndpoint, otlpmetrichttp.WithInsecure, otlpmetrichttp.WithHeaders)...)
		if err != nil {
			_ = p.Shutdown(ctx)
			return nil, fmt.Errorf("telemetry: metric exporter: %w", err)
		}
		p.metrics = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(metricInterval))),
		)
		otel.SetMeterProvider(p.metrics)
	}
	return p, nil
}

func (c Config) resource() (*resource.Resource, error) {
	identity := []attribute.KeyValue{semconv.ServiceName(c.ServiceName)}
	if env := strings.TrimSpace(c.Environment); env != "" {
		identity = append(identity, semconv.DeploymentEnvironment(env))
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(identity...))
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}
	return res, nil
}

func (c Config) sampler() sdktrace.Sampler {
	if c.SampleRatio <= 0 || c.SampleRatio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRatio))
}

// exporterOptions builds the shared endpoint, transport and header options
// for either OTLP exporter.
func exporterOptions[O any](c Config, endpoint func(string) O, insecure func() O, headers func(map[string]string) O) []O {
	target := strings.TrimSpace(c.Endpoint)
	if target == "" {
		target = defaultEndpoint
	}
	opts := []O{endpoint(target)}
	if c.Insecure {
		opts = append(opts, insecure())
	}
	if len(c.Headers) > 0 {
		opts = append(opts, headers(c.Headers))
	}
	return opts
}

// Tracer returns a named tracer from the global provider. Before Init it is
// a no-op tracer.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// ParseHeaders decodes the OTEL_EXPORTER_OTLP_HEADERS format: comma separated
// key=value pairs with percent-encoded values. Empty entries are skipped; a
// pair without a key or an undecodable value is an error.
func ParseHeaders(raw string) (map[string]string, error) {
	headers := make(map[string]string)
	for i, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, value, ok := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("telemetry: header %d: want key=value, got %q", i, entry)
		}
		decoded, err := url.PathUnescape(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("telemetry: header %q: %w", key, err)
		}
		headers[key] = decoded
	}
	return headers, nil
}
