// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ServiceName identifies this process in exported telemetry.
const ServiceName = "phasegate"

// Config selects where audit records and SDK telemetry go. The JSONL audit
// streams and the OTEL SDK are independent: the streams are the audit trail
// of record, the SDK mirrors them onto dashboards.
type Config struct {
	// SpanPath and CounterPath locate the JSONL audit streams. Records are
	// discarded unless both are set.
	SpanPath    string
	CounterPath string

	// SDK toggles the OTEL exporters.
	SDK          bool
	Exporter     string // stdout, otlp
	OTLPEndpoint string
	OTLPInsecure bool
}

// Pipeline is the wired audit stack for one process: the emitter the
// enforcer appends spans and counters to, the OTEL mirror of the counter
// stream, and the teardown for both.
type Pipeline struct {
	// Emitter receives every audit span and counter.
	Emitter Emitter

	// Metrics mirrors the counters onto OTEL instruments. Nil when the
	// instruments could not be created; the enforcer tolerates that.
	Metrics *GateMetrics

	file *FileEmitter
	tp   *sdktrace.TracerProvider
	mp   *sdkmetric.MeterProvider
}

// Bootstrap builds the audit pipeline from config. Callers own the returned
// pipeline and must Close it to flush the exporters and the JSONL streams.
func Bootstrap(version string, cfg Config) (*Pipeline, error) {
	p := &Pipeline{Emitter: NopEmitter{}}

	if cfg.SpanPath != "" && cfg.CounterPath != "" {
		fe, err := NewFileEmitter(cfg.SpanPath, cfg.CounterPath)
		if err != nil {
			return nil, err
		}
		p.Emitter = fe
		p.file = fe
	}

	if cfg.SDK {
		if err := p.installSDK(version, cfg); err != nil {
			if p.file != nil {
				p.file.Close()
			}
			return nil, err
		}
	}

	// The instruments bind to the global meter, so this happens after the
	// SDK install.
	gm, err := NewGateMetrics()
	if err != nil {
		slog.Warn("gate metrics unavailable", "error", err)
	} else {
		p.Metrics = gm
	}
	return p, nil
}

// Close flushes the SDK providers and closes the audit streams.
func (p *Pipeline) Close(ctx context.Context) error {
	var errs []error
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if p.file != nil {
		if err := p.file.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("telemetry close: %v", errs)
	}
	return nil
}

func (p *Pipeline) installSDK(version string, cfg Config) error {
	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return fmt.Errorf("build telemetry resource: %w", err)
	}

	spanExp, metricExp, err := newExporters(cfg)
	if err != nil {
		return err
	}

	p.tp = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spanExp, sdktrace.WithBatchTimeout(time.Second)),
		sdktrace.WithResource(res),
	)
	p.mp = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(time.Minute))),
		sdkmetric.WithResource(res),
	)

	otel.SetTracerProvider(p.tp)
	otel.SetMeterProvider(p.mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func newExporters(cfg Config) (sdktrace.SpanExporter, sdkmetric.Exporter, error) {
	switch cfg.Exporter {
	case "", "stdout":
		spanExp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, nil, fmt.Errorf("create stdout trace exporter: %w", err)
		}
		metricExp, err := stdoutmetric.New()
		if err != nil {
			return nil, nil, fmt.Errorf("create stdout metric exporter: %w", err)
		}
		return spanExp, metricExp, nil
	case "otlp":
		if cfg.OTLPEndpoint == "" {
			return nil, nil, fmt.Errorf("otlp endpoint is required")
		}
		traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
			metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
		}
		spanExp, err := otlptracegrpc.New(context.Background(), traceOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("create otlp trace exporter: %w", err)
		}
		metricExp, err := otlpmetricgrpc.New(context.Background(), metricOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("create otlp metric exporter: %w", err)
		}
		return spanExp, metricExp, nil
	default:
		return nil, nil, fmt.Errorf("unknown telemetry exporter: %s", cfg.Exporter)
	}
}
