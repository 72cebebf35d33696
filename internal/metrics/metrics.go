// Package metrics records narration engine instruments through OpenTelemetry
// and exposes them to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

// Recorder holds the engine's instruments. A nil *Recorder records nothing.
type Recorder struct {
	chunks      metric.Int64Counter
	transitions metric.Int64Counter
	finalize    metric.Float64Histogram
}

// New creates the instruments on mp.
func New(mp metric.MeterProvider) (*Recorder, error) {
	meter := mp.Meter("github.com/satindergrewal/narrator")

	chunks, err := meter.Int64Counter("narrator.chunks.ingested",
		metric.WithDescription("Narration chunks received, by result"))
	if err != nil {
		return nil, err
	}
	transitions, err := meter.Int64Counter("narrator.transitions",
		metric.WithDescription("Transport state transitions, by target state"))
	if err != nil {
		return nil, err
	}
	finalize, err := meter.Float64Histogram("narrator.mp3.finalize.duration",
		metric.WithDescription("Time spent waiting for MP3 finalization"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &Recorder{chunks: chunks, transitions: transitions, finalize: finalize}, nil
}

// ChunkIngested counts one chunk arrival. result is "ok", "absent" or an
// error class.
func (r *Recorder) ChunkIngested(result string) {
	if r == nil {
		return
	}
	r.chunks.Add(context.Background(), 1, metric.WithAttributes(attribute.String("result", result)))
}

// Transition counts a state change into state to.
func (r *Recorder) Transition(to string) {
	if r == nil {
		return
	}
	r.transitions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("to", to)))
}

// Finalized records how long an MP3 finalize took.
func (r *Recorder) Finalized(d time.Duration, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.finalize.Record(context.Background(), d.Seconds(), metric.WithAttributes(attribute.String("result", result)))
}

// Setup builds a meter provider backed by a Prometheus exporter and returns
// the provider with its scrape handler.
func Setup(serviceName string) (*sdkmetric.MeterProvider, http.Handler, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, nil, err
	}
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	return mp, promhttp.Handler(), nil
}
