package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hmcal"

// Proposal outcomes recorded by the refocusing sampler.
const (
	Accepted    = "accepted"
	Implausible = "implausible"
	TooClose    = "too_close"
	OutOfRange  = "out_of_range"
)

// Metrics holds the pipeline collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	emulatorFits   *prometheus.CounterVec
	evaluations    prometheus.Counter
	proposals      *prometheus.CounterVec
	simulatorRuns  *prometheus.CounterVec
	waveSeconds    prometheus.Histogram
	nonImplausible *prometheus.GaugeVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		emulatorFits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emulator_fits_total",
			Help:      "Emulator fits by output and outcome.",
		}, []string{"output", "outcome"}),
		evaluations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "implausibility_evaluations_total",
			Help:      "Combined implausibility evaluations.",
		}),
		proposals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refocus_proposals_total",
			Help:      "Candidate points proposed by the refocusing sampler, by outcome.",
		}, []string{"outcome"}),
		simulatorRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "simulator_runs_total",
			Help:      "Simulator invocations by outcome.",
		}, []string{"outcome"}),
		waveSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "wave_build_seconds",
			Help:      "Time to fit, adjust and validate one wave.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		nonImplausible: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "non_implausible_fraction",
			Help:      "Fraction of the reference grid that is non-implausible after each wave.",
		}, []string{"wave"}),
	}
}

func (m *Metrics) EmulatorFit(output string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.emulatorFits.WithLabelValues(output, outcome).Inc()
}

func (m *Metrics) Evaluated(n int) {
	if m == nil {
		return
	}
	m.evaluations.Add(float64(n))
}

func (m *Metrics) Proposal(outcome string) {
	if m == nil {
		return
	}
	m.proposals.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SimulatorRun(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.simulatorRuns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) WaveBuilt(d time.Duration) {
	if m == nil {
		return
	}
	m.waveSeconds.Observe(d.Seconds())
}

func (m *Metrics) NonImplausible(wave string, frac float64) {
	if m == nil {
		return
	}
	m.nonImplausible.WithLabelValues(wave).Set(frac)
}
