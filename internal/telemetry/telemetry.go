// Package telemetry wires OpenTelemetry metrics to a Prometheus scrape
// endpoint and defines the pipeline instruments.
package telemetry

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "github.com/lipschultz/hwinarion"

// Metrics holds the pipeline instruments.
type Metrics struct {
	FramesCaptured     metric.Int64Counter
	FramesDropped      metric.Int64Counter
	Utterances         metric.Int64Counter
	Partials           metric.Int64Counter
	RecognitionErrors  metric.Int64Counter
	RecognitionSeconds metric.Float64Histogram
	Dispatched         metric.Int64Counter
}

// Setup builds a meter provider backed by a Prometheus exporter and returns
// the instruments, the scrape handler and a shutdown hook.
func Setup(service string, logger *slog.Logger) (*Metrics, http.Handler, func(context.Context) error, error) {
	res := resource.NewSchemaless(attribute.String("service.name", service))

	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, nil, err
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	m, err := newMetrics(provider.Meter(meterName))
	if err != nil {
		provider.Shutdown(context.Background())
		return nil, nil, nil, err
	}

	logger.Info("metrics initialized", "exporter", "prometheus")
	return m, promhttp.Handler(), provider.Shutdown, nil
}

// Noop returns instruments backed by a provider with no reader, for tests
// and for runs with telemetry disabled.
func Noop() *Metrics {
	m, _ := newMetrics(sdkmetric.NewMeterProvider().Meter(meterName))
	return m
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.FramesCaptured, err = meter.Int64Counter("hwinarion.audio.frames_captured",
		metric.WithDescription("Audio frames read from the source")); err != nil {
		return nil, err
	}
	if m.FramesDropped, err = meter.Int64Counter("hwinarion.audio.frames_dropped",
		metric.WithDescription("Frames evicted from the capture queue under backpressure")); err != nil {
		return nil, err
	}
	if m.Utterances, err = meter.Int64Counter("hwinarion.vad.utterances",
		metric.WithDescription("Utterances the segmenter closed")); err != nil {
		return nil, err
	}
	if m.Partials, err = meter.Int64Counter("hwinarion.stt.partials",
		metric.WithDescription("Interim hypotheses delivered")); err != nil {
		return nil, err
	}
	if m.RecognitionErrors, err = meter.Int64Counter("hwinarion.stt.errors",
		metric.WithDescription("Utterances that failed recognition")); err != nil {
		return nil, err
	}
	if m.RecognitionSeconds, err = meter.Float64Histogram("hwinarion.stt.finalize_seconds",
		metric.WithDescription("Wall time from utterance end to final result")); err != nil {
		return nil, err
	}
	if m.Dispatched, err = meter.Int64Counter("hwinarion.dispatch.transcripts",
		metric.WithDescription("Final transcripts offered to actions")); err != nil {
		return nil, err
	}
	return m, nil
}

// Handled is the dispatch counter attribute for consumed transcripts.
func Handled(ok bool) metric.MeasurementOption {
	return metric.WithAttributes(attribute.Bool("handled", ok))
}

// Engine tags a measurement with the recognizer that produced it.
func Engine(id string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("engine", id))
}
