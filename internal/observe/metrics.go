// Package observe instruments hush with OpenTelemetry.
//
// [Metrics] carries the detector, analysis and HTTP instruments. [InitProvider]
// installs the SDK providers and bridges every instrument into a Prometheus
// registry for GET /metrics. [Middleware] gives each request a span, a
// correlation ID and a latency sample. Tests build their own [Metrics] with
// [NewMetrics] over a manual reader instead of sharing [DefaultMetrics].
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/hush/pkg/silence"
)

// meterName is the instrumentation scope name used for all hush metrics.
const meterName = "github.com/MrWong99/hush"

// Metrics groups the instruments recorded by hush. Instruments are safe for
// concurrent use.
type Metrics struct {
	// --- Detector ---

	// BlocksProcessed counts analysed blocks. Use with attributes:
	//   attribute.String("source", ...), attribute.String("verdict", "silent"|"signal")
	BlocksProcessed metric.Int64Counter

	// Transitions counts reported transitions. Use with attributes:
	//   attribute.String("source", ...), attribute.String("kind", ...)
	Transitions metric.Int64Counter

	// RefinementFallbacks counts refinements that located no edge.
	RefinementFallbacks metric.Int64Counter

	// RefinementOffset tracks refined edge offsets in samples relative to
	// the reporting block. Negative values lie in the previous block.
	RefinementOffset metric.Int64Histogram

	// --- Batch analysis ---

	// AnalysisDuration tracks wall-clock time per analysed input. Use with
	// attribute:
	//   attribute.String("status", ...)
	AnalysisDuration metric.Float64Histogram

	// ActiveStreams counts open WebSocket sessions.
	ActiveStreams metric.Int64UpDownCounter

	// HTTPRequestDuration is recorded by [Middleware] with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...),
	//   attribute.String("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for whole
// file analysis, which ranges from milliseconds to tens of seconds.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// offsetBuckets covers the reachable refinement offsets for the preferred
// step size of 1024 samples.
var offsetBuckets = []float64{
	-1024, -512, -256, -128, -64, -16, 0, 16, 64, 128, 256, 512, 1024,
}

// NewMetrics registers the hush instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var errs []error
	check := func(name string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("observe: instrument %s: %w", name, err))
		}
	}

	var err error
	met.BlocksProcessed, err = m.Int64Counter("hush.blocks.processed",
		metric.WithDescription("Total analysed blocks by source and verdict."))
	check("hush.blocks.processed", err)
	met.Transitions, err = m.Int64Counter("hush.transitions",
		metric.WithDescription("Total silence transitions by source and kind."))
	check("hush.transitions", err)
	met.RefinementFallbacks, err = m.Int64Counter("hush.refinement.fallbacks",
		metric.WithDescription("Total refinements that fell back to the block start."))
	check("hush.refinement.fallbacks", err)
	met.RefinementOffset, err = m.Int64Histogram("hush.refinement.offset",
		metric.WithDescription("Refined transition offset relative to the reporting block."),
		metric.WithUnit("{sample}"),
		metric.WithExplicitBucketBoundaries(offsetBuckets...))
	check("hush.refinement.offset", err)
	met.AnalysisDuration, err = m.Float64Histogram("hush.analysis.duration",
		metric.WithDescription("Latency of whole-input analysis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...))
	check("hush.analysis.duration", err)
	met.ActiveStreams, err = m.Int64UpDownCounter("hush.active_streams",
		metric.WithDescription("Number of live streaming sessions."))
	check("hush.active_streams", err)
	met.HTTPRequestDuration, err = m.Float64Histogram("hush.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"))
	check("hush.http.request.duration", err)

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns metrics registered once on the global meter
// provider. It is the fallback for callers that were given no [Metrics].
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic(err)
		}
	})
	return defaultMetrics
}

// RecordAnalysis records the duration of one analysed input.
func (m *Metrics) RecordAnalysis(ctx context.Context, d time.Duration, status string) {
	m.AnalysisDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// DetectorObserver returns a [silence.Observer] that records detector
// activity for one stream under the given source label ("analyze",
// "stream", ...). ctx is used for every recording and should outlive the
// detector.
func (m *Metrics) DetectorObserver(ctx context.Context, source string) *DetectorObserver {
	src := attribute.String("source", source)
	return &DetectorObserver{
		ctx:    ctx,
		m:      m,
		silent: metric.WithAttributeSet(attribute.NewSet(src, attribute.String("verdict", "silent"))),
		signal: metric.WithAttributeSet(attribute.NewSet(src, attribute.String("verdict", "signal"))),
		enter:  metric.WithAttributeSet(attribute.NewSet(src, attribute.String("kind", silence.KindEnterSilence.String()))),
		exit:   metric.WithAttributeSet(attribute.NewSet(src, attribute.String("kind", silence.KindExitSilence.String()))),
		source: metric.WithAttributeSet(attribute.NewSet(src)),
	}
}

// DetectorObserver feeds detector events into [Metrics]. Attribute sets are
// built once so the per-block path does not allocate.
type DetectorObserver struct {
	ctx context.Context
	m   *Metrics

	silent, signal metric.MeasurementOption
	enter, exit    metric.MeasurementOption
	source         metric.MeasurementOption
}

// BlockProcessed implements [silence.Observer].
func (o *DetectorObserver) BlockProcessed(silent bool) {
	if silent {
		o.m.BlocksProcessed.Add(o.ctx, 1, o.silent)
		return
	}
	o.m.BlocksProcessed.Add(o.ctx, 1, o.signal)
}

// TransitionDetected implements [silence.Observer].
func (o *DetectorObserver) TransitionDetected(tr silence.Transition, _ int) {
	kind := o.exit
	if tr.Kind == silence.KindEnterSilence {
		kind = o.enter
	}
	o.m.Transitions.Add(o.ctx, 1, kind)
	if tr.Initial {
		return
	}
	o.m.RefinementOffset.Record(o.ctx, int64(tr.Offset), o.source)
	if tr.Fallback {
		o.m.RefinementFallbacks.Add(o.ctx, 1, o.source)
	}
}

var _ silence.Observer = (*DetectorObserver)(nil)
