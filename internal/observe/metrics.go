// Package observe provides application-wide observability primitives for
// voiceguide: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voiceguide metrics.
const meterName = "github.com/MrWong99/voiceguide"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Session lifecycle ---

	// ActiveSessions tracks the number of open voice sessions (0 or 1 per
	// assistant).
	ActiveSessions metric.Int64UpDownCounter

	// SessionsStarted counts session start attempts. Use with attribute:
	//   attribute.String("status", "ok"|"error"|"rejected")
	SessionsStarted metric.Int64Counter

	// SessionSetupDuration tracks the time from Start to the open state.
	SessionSetupDuration metric.Float64Histogram

	// --- Audio paths ---

	// FramesSent counts capture frames delivered to the session channel.
	FramesSent metric.Int64Counter

	// FramesDropped counts capture frames discarded because the sender fell
	// behind or the session was closing.
	FramesDropped metric.Int64Counter

	// SendErrors counts failed capture frame sends.
	SendErrors metric.Int64Counter

	// ChunksScheduled counts audio chunks scheduled for playback.
	ChunksScheduled metric.Int64Counter

	// DecodeErrors counts inbound audio chunks that could not be decoded.
	DecodeErrors metric.Int64Counter

	// Interruptions counts barge-in events that flushed playback.
	Interruptions metric.Int64Counter

	// --- Tools ---

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for session setup latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Session lifecycle.
	if met.ActiveSessions, err = m.Int64UpDownCounter("voiceguide.sessions.active",
		metric.WithDescription("Number of open voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.SessionsStarted, err = m.Int64Counter("voiceguide.sessions.started",
		metric.WithDescription("Total voice session start attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.SessionSetupDuration, err = m.Float64Histogram("voiceguide.session.setup.duration",
		metric.WithDescription("Latency from start request to open session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Audio paths.
	if met.FramesSent, err = m.Int64Counter("voiceguide.audio.frames_sent",
		metric.WithDescription("Total capture frames sent to the model."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voiceguide.audio.frames_dropped",
		metric.WithDescription("Total capture frames discarded before sending."),
	); err != nil {
		return nil, err
	}
	if met.SendErrors, err = m.Int64Counter("voiceguide.audio.send_errors",
		metric.WithDescription("Total capture frames the session channel rejected."),
	); err != nil {
		return nil, err
	}
	if met.ChunksScheduled, err = m.Int64Counter("voiceguide.audio.chunks_scheduled",
		metric.WithDescription("Total model audio chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("voiceguide.audio.decode_errors",
		metric.WithDescription("Total model audio chunks that failed to decode."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("voiceguide.interruptions",
		metric.WithDescription("Total barge-in interruptions."),
	); err != nil {
		return nil, err
	}

	// Tools.
	if met.ToolCalls, err = m.Int64Counter("voiceguide.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voiceguide.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSessionStart records a start attempt with its outcome and, for
// successful starts, the setup latency.
func (m *Metrics) RecordSessionStart(ctx context.Context, status string, setup time.Duration) {
	m.SessionsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	if status == "ok" {
		m.SessionSetupDuration.Record(ctx, setup.Seconds())
	}
}

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}
