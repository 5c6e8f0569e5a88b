package histmatch

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/observe-l/hmcal/emulator"
)

var epiRanges = emulator.Ranges{
	{Name: "beta", Min: 0.2, Max: 0.8},
	{Name: "gamma", Min: 0.2, Max: 1},
	{Name: "delta", Min: 0.1, Max: 0.5},
	{Name: "mu", Min: 0.1, Max: 0.5},
}

func toyI20(p emulator.Point) float64 {
	beta, gamma, delta, mu := p[0], p[1], p[2], p[3]
	return 300 + 400*beta - 150*gamma + 200*delta*mu + 50*beta*gamma + 30*math.Sin(6*beta)
}

func toyR20(p emulator.Point) float64 {
	return 100 + 250*p[1]*p[0] + 80*math.Cos(3*p[2])
}

func uniform(r emulator.Ranges, n int, rng *rand.Rand) []emulator.Point {
	pts := make([]emulator.Point, n)
	for i := range pts {
		p := make(emulator.Point, len(r))
		for k, d := range r {
			p[k] = d.Min + rng.Float64()*(d.Max-d.Min)
		}
		pts[i] = p
	}
	return pts
}

func toyRun(p emulator.Point, noise float64, rng *rand.Rand) emulator.Run {
	return emulator.Run{
		Point: p,
		Outputs: map[emulator.OutputID]emulator.Observation{
			"I20": {Mean: toyI20(p) + noise*rng.NormFloat64(), Variability: noise},
			"R20": {Mean: toyR20(p) + noise*rng.NormFloat64(), Variability: noise},
		},
	}
}

func toyDesignAt(t *testing.T, pts []emulator.Point, seed int64) emulator.Design {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	runs := make([]emulator.Run, len(pts))
	for i, p := range pts {
		runs[i] = toyRun(p, 1, rng)
	}
	d, err := emulator.NewDesign(epiRanges, []emulator.OutputID{"I20", "R20"}, runs)
	require.NoError(t, err)
	return d
}

func toyDesign(t *testing.T, n int, seed int64) emulator.Design {
	t.Helper()
	return toyDesignAt(t, uniform(epiRanges, n, rand.New(rand.NewSource(seed))), seed+100)
}

func adjusted(t *testing.T, id emulator.OutputID, d emulator.Design) *emulator.Adjusted {
	t.Helper()
	e, err := emulator.Fit(id, d, emulator.DefaultFitOptions())
	require.NoError(t, err)
	a, err := emulator.Adjust(e, d)
	require.NoError(t, err)
	return a
}

var scenarioTarget = Target{Value: 453, Sigma: 46.48}

func toyWave(t *testing.T, index int, d emulator.Design) *Wave {
	t.Helper()
	ems := map[emulator.OutputID]*emulator.Adjusted{
		"I20": adjusted(t, "I20", d),
		"R20": adjusted(t, "R20", d),
	}
	targets := Targets{"I20": scenarioTarget, "R20": {Value: 200, Sigma: 20}}
	w, err := NewWave(index, ems, targets, d, emulator.Design{})
	require.NoError(t, err)
	return w
}

type fixedPrediction struct{ mean, variance float64 }

func (f fixedPrediction) Predict(emulator.Point) (float64, float64) { return f.mean, f.variance }
