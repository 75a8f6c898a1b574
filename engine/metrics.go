package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// engineMetrics counts engine activity. With a nil registerer the
// collectors exist but register nowhere, which keeps the call sites
// unconditional. Metric names are shared across engines; the engine kind
// is a constant label, so register at most one engine per kind on a
// registerer.
type engineMetrics struct {
	compiles       prometheus.Counter
	compileSeconds prometheus.Histogram
	serializes     prometheus.Counter
	deserializes   prometheus.Counter
	artifactsLive  prometheus.Gauge
	instancesLive  prometheus.Gauge
	instances      prometheus.Counter
	linkFailures   prometheus.Counter
	traps          *prometheus.CounterVec
}

func newEngineMetrics(r prometheus.Registerer, kind string) *engineMetrics {
	factory := promauto.With(r)
	labels := prometheus.Labels{"engine": kind}

	return &engineMetrics{
		compiles: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "wasmer",
			Name:        "compiles_total",
			Help:        "Modules compiled into artifacts.",
			ConstLabels: labels,
		}),
		compileSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "wasmer",
			Name:        "compile_duration_seconds",
			Help:        "Time spent compiling a module.",
			Buckets:     prometheus.ExponentialBuckets(0.001, 4, 10),
			ConstLabels: labels,
		}),
		serializes: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "wasmer",
			Name:        "serializes_total",
			Help:        "Artifacts encoded to their portable form.",
			ConstLabels: labels,
		}),
		deserializes: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "wasmer",
			Name:        "deserializes_total",
			Help:        "Artifacts loaded from their portable form.",
			ConstLabels: labels,
		}),
		artifactsLive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "wasmer",
			Name:        "artifacts_live",
			Help:        "Artifacts currently holding loaded code.",
			ConstLabels: labels,
		}),
		instancesLive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "wasmer",
			Name:        "instances_live",
			Help:        "Instances currently open.",
			ConstLabels: labels,
		}),
		instances: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "wasmer",
			Name:        "instances_total",
			Help:        "Instances created.",
			ConstLabels: labels,
		}),
		linkFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "wasmer",
			Name:        "link_failures_total",
			Help:        "Instantiations rejected for unsatisfied imports.",
			ConstLabels: labels,
		}),
		traps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "wasmer",
			Name:        "traps_total",
			Help:        "Runtime traps by kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
	}
}
