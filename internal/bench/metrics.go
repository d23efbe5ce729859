package bench

import (
	"github.com/prometheus/client_golang/prometheus"

	"discobench/internal/measure"
)

// Metrics exports sample and trial counters to Prometheus.
type Metrics struct {
	samples    *prometheus.CounterVec
	trials     *prometheus.CounterVec
	elapsed    *prometheus.HistogramVec
	discovered prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discobench_samples_total",
			Help: "Samples recorded, by measurement kind.",
		}, []string{"kind"}),
		trials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discobench_trials_total",
			Help: "Finished trials, by outcome.",
		}, []string{"outcome"}),
		elapsed: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "discobench_elapsed_seconds",
			Help:    "Elapsed time from perturbation to observed discovery.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
		}, []string{"kind"}),
		discovered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "discobench_run_discovered_peers",
			Help: "Distinct peers found by the last scalability run.",
		}),
	}
	reg.MustRegister(m.samples, m.trials, m.elapsed, m.discovered)
	return m
}

// WriteSample counts a sample and observes its elapsed time.
func (m *Metrics) WriteSample(s measure.Sample) error {
	m.samples.WithLabelValues(string(s.Kind)).Inc()
	m.elapsed.WithLabelValues(string(s.Kind)).Observe(s.Seconds())
	return nil
}

// WriteTrial counts a finished trial.
func (m *Metrics) WriteTrial(t measure.TrialRecord) error {
	m.trials.WithLabelValues(string(t.Outcome)).Inc()
	return nil
}

// WriteRunEnd records the peers found by a scalability run.
func (m *Metrics) WriteRunEnd(e measure.RunEnd) error {
	m.discovered.Set(float64(e.Discovered))
	return nil
}
