package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.EmulatorFit("I20", nil)
	m.Evaluated(3)
	m.Proposal(Accepted)
	m.SimulatorRun(nil)
	m.WaveBuilt(time.Second)
	m.NonImplausible("1", 0.5)
}

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.EmulatorFit("I20", nil)
	m.EmulatorFit("I20", errors.New("boom"))
	m.EmulatorFit("R20", nil)
	m.Evaluated(10)
	m.Evaluated(5)
	m.Proposal(Accepted)
	m.Proposal(TooClose)
	m.Proposal(TooClose)
	m.NonImplausible("2", 0.125)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.emulatorFits.WithLabelValues("I20", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.emulatorFits.WithLabelValues("R20", "ok")))
	assert.Equal(t, 15.0, testutil.ToFloat64(m.evaluations))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.proposals.WithLabelValues(TooClose)))
	assert.Equal(t, 0.125, testutil.ToFloat64(m.nonImplausible.WithLabelValues("2")))
	assert.Equal(t, 4, testutil.CollectAndCount(m.emulatorFits)+testutil.CollectAndCount(m.nonImplausible))
}
