// Package telemetry initializes OpenTelemetry logging, metrics and tracing.
// Metrics are always readable through a Prometheus registry so they can be
// scraped; when OTLP export is enabled, traces, metrics and logs are also
// shipped over gRPC. Init registers the global providers and returns a
// ShutdownFunc that flushes and stops every pipeline it created.
package telemetry

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"go.opentelemetry.io/otel/trace"
)

// ScopeName is the instrumentation scope used for every tracer, meter and
// logger created by this module.
const ScopeName = "github.com/gabapcia/addresswatch"

// loggerProvider is set by Init when OTLP log export is enabled.
var loggerProvider *sdklog.LoggerProvider

// LoggerProvider returns the registered OTEL LoggerProvider, or nil when
// log export is disabled or Init has not been called.
func LoggerProvider() *sdklog.LoggerProvider {
	return loggerProvider
}

// Tracer returns the module tracer from the global TracerProvider.
func Tracer() trace.Tracer {
	return otel.Tracer(ScopeName)
}

// Meter returns the module meter from the global MeterProvider.
func Meter() metric.Meter {
	return otel.Meter(ScopeName)
}

type config struct {
	otlp       bool
	registerer prometheus.Registerer
}

// Option customizes Init.
type Option func(*config)

// WithOTLP enables or disables the OTLP gRPC exporters. The exporters read
// their endpoint and credentials from the standard OTEL_EXPORTER_OTLP_*
// environment variables.
func WithOTLP(enabled bool) Option {
	return func(c *config) {
		c.otlp = enabled
	}
}

// WithPrometheusRegisterer sets the registry the Prometheus metric reader
// registers its collector with. Defaults to prometheus.DefaultRegisterer.
func WithPrometheusRegisterer(r prometheus.Registerer) Option {
	return func(c *config) {
		c.registerer = r
	}
}

// initMeterProvider builds a MeterProvider exposing every instrument through
// the Prometheus reader and, when OTLP is enabled, through a periodic OTLP
// reader as well. It registers the provider globally.
func initMeterProvider(ctx context.Context, res *sdkresource.Resource, cfg config) (*sdkmetric.MeterProvider, error) {
	promExporter, err := otelprom.New(otelprom.WithRegisterer(cfg.registerer))
	if err != nil {
		return nil, err
	}

	opts := []sdkmetric.Option{
		sdkmetric.WithReader(promExporter),
		sdkmetric.WithResource(res),
	}

	if cfg.otlp {
		exporter, err := otlpmetricgrpc.New(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)
	return mp, nil
}

// initTracerProvider builds a TracerProvider. Spans are always sampled so log
// lines can be correlated, but they are only exported when OTLP is enabled.
func initTracerProvider(ctx context.Context, res *sdkresource.Resource, cfg config) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	if cfg.otlp {
		exporter, err := otlptracegrpc.New(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// initLoggerProvider builds an OTLP LoggerProvider used by the zap bridge.
func initLoggerProvider(ctx context.Context, res *sdkresource.Resource) (*sdklog.LoggerProvider, error) {
	exporter, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, err
	}

	return sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
		sdklog.WithResource(res),
	), nil
}

// newResource constructs an OpenTelemetry Resource by merging the default
// system resource with a ServiceName attribute for the given service.
func newResource(serviceName string) (*sdkresource.Resource, error) {
	return sdkresource.Merge(
		sdkresource.Default(),
		sdkresource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
}

// ShutdownFunc flushes and stops all telemetry providers created by Init.
type ShutdownFunc func(ctx context.Context) error

// Init configures OpenTelemetry for the service.
//
// Parameters:
//   - ctx: context for exporter construction.
//   - serviceName: logical service name attached to every signal.
//   - opts: WithOTLP, WithPrometheusRegisterer.
//
// Returns:
//   - ShutdownFunc: call on shutdown to flush pending telemetry.
//   - error: if any provider could not be created.
//
// Init must run before logger.Init for the log bridge to be installed.
func Init(ctx context.Context, serviceName string, opts ...Option) (ShutdownFunc, error) {
	cfg := config{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&cfg)
	}

	res, err := newResource(serviceName)
	if err != nil {
		return nil, err
	}

	mp, err := initMeterProvider(ctx, res, cfg)
	if err != nil {
		return nil, err
	}

	tp, err := initTracerProvider(ctx, res, cfg)
	if err != nil {
		return nil, errors.Join(err, mp.Shutdown(ctx))
	}

	shutdowns := []func(context.Context) error{mp.Shutdown, tp.Shutdown}

	if cfg.otlp {
		lp, err := initLoggerProvider(ctx, res)
		if err != nil {
			return nil, errors.Join(err, mp.Shutdown(ctx), tp.Shutdown(ctx))
		}
		loggerProvider = lp
		shutdowns = append(shutdowns, lp.Shutdown)
	}

	return func(ctx context.Context) error {
		errs := make([]error, 0, len(shutdowns))
		for _, shutdown := range shutdowns {
			errs = append(errs, shutdown(ctx))
		}
		return errors.Join(errs...)
	}, nil
}
