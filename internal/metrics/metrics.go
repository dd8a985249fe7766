// Package metrics exposes the Supervisor's Prometheus counters and
// gauges. Metrics are explicitly excluded from spec.md's scope as an
// "observability layer" feature-wise, but the ambient stack (structured
// logging, metrics) is carried regardless, matching the teacher's own
// instrumentation of every long-lived worker loop.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every counter/gauge the pulse pipeline touches.
type Metrics struct {
	PulsesPublished prometheus.Counter
	PulsesSkipped   *prometheus.CounterVec
	SignerErrors    prometheus.Counter
	StitchOmissions prometheus.Counter
	CommitRetries   prometheus.Counter
	CurrentTip      prometheus.Gauge
	PulseLatency    prometheus.Histogram
}

// New registers and returns a fresh Metrics bundle on reg. Passing a
// dedicated *prometheus.Registry (rather than the global default) keeps
// repeated construction in tests side-effect free.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PulsesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "twine_beacon",
			Name:      "pulses_published_total",
			Help:      "Total number of tixels successfully committed and released.",
		}),
		PulsesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "twine_beacon",
			Name:      "pulses_skipped_total",
			Help:      "Total number of slots skipped, labeled by the error kind that caused the skip.",
		}, []string{"kind"}),
		SignerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "twine_beacon",
			Name:      "signer_errors_total",
			Help:      "Total number of signer failures (transient or fatal).",
		}),
		StitchOmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "twine_beacon",
			Name:      "stitch_omissions_total",
			Help:      "Total number of stitch entries omitted due to a failed fetch.",
		}),
		CommitRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "twine_beacon",
			Name:      "chain_store_commit_retries_total",
			Help:      "Total number of Chain Store Append retries after a transient failure.",
		}),
		CurrentTip: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "twine_beacon",
			Name:      "current_tip_index",
			Help:      "The index of the most recently committed tixel.",
		}),
		PulseLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "twine_beacon",
			Name:      "pulse_assembly_seconds",
			Help:      "Wall-clock time spent gathering, signing and committing one pulse.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.PulsesPublished,
		m.PulsesSkipped,
		m.SignerErrors,
		m.StitchOmissions,
		m.CommitRetries,
		m.CurrentTip,
		m.PulseLatency,
	)
	return m
}
