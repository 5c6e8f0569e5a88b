package histmatch

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/observe-l/hmcal/emulator"
)

func TestImplausibilityFormula(t *testing.T) {
	p := emulator.Point{0.5, 0.5, 0.3, 0.3}
	got := Implausibility(fixedPrediction{mean: 10, variance: 3}, p, Target{Value: 4, Sigma: 2}, 9)
	assert.InDelta(t, 6/math.Sqrt(3+4+9), got, 1e-12)

	assert.Equal(t, 0.0, Implausibility(fixedPrediction{mean: 4}, p, Target{Value: 4}, 0))
	assert.True(t, math.IsInf(Implausibility(fixedPrediction{mean: 5}, p, Target{Value: 4}, 0), 1))
}

func TestImplausibilitySymmetry(t *testing.T) {
	p := emulator.Point{0.5, 0.5, 0.3, 0.3}
	pred := fixedPrediction{mean: 100, variance: 25}
	for _, d := range []float64{0.5, 7, 40} {
		above := Implausibility(pred, p, Target{Value: 100 + d, Sigma: 3}, 1)
		below := Implausibility(pred, p, Target{Value: 100 - d, Sigma: 3}, 1)
		assert.InDelta(t, above, below, 1e-12)
	}
}

func TestImplausibilityAtTrainingPoint(t *testing.T) {
	d := toyDesign(t, 40, 1)
	a := adjusted(t, "I20", d)
	for _, run := range d.Runs[:5] {
		y := run.Outputs["I20"].Mean
		got := Implausibility(a, run.Point, scenarioTarget, 4)
		want := math.Abs(y-scenarioTarget.Value) / math.Sqrt(scenarioTarget.Sigma*scenarioTarget.Sigma+4)
		assert.InDelta(t, want, got, 1e-6)
	}
}

func TestImplausibilitySwappingIdenticalEmulators(t *testing.T) {
	d := toyDesign(t, 40, 6)
	em, err := emulator.Fit("I20", d, emulator.DefaultFitOptions())
	require.NoError(t, err)
	twin := func() *emulator.Adjusted {
		r, err := emulator.Restore(em.State())
		require.NoError(t, err)
		a, err := emulator.Adjust(r, r.TrainingDesign())
		require.NoError(t, err)
		return a
	}
	a, b := twin(), twin()
	require.NotSame(t, a, b)

	low := Target{Value: 380, Sigma: 30}
	rule := Rule{Cutoff: 3, Nth: 2, MethodVariance: 4}
	ab := &Evaluator{Terms: []Term{{Emulator: a, Target: scenarioTarget}, {Emulator: b, Target: low}}, Rule: rule, Workers: 3}
	ba := &Evaluator{Terms: []Term{{Emulator: b, Target: scenarioTarget}, {Emulator: a, Target: low}}, Rule: rule, Workers: 3}
	reversed := &Evaluator{Terms: []Term{{Emulator: b, Target: low}, {Emulator: a, Target: scenarioTarget}}, Rule: rule, Workers: 3}

	pts := uniform(epiRanges, 200, rand.New(rand.NewSource(17)))
	for _, p := range pts {
		s := ab.Scores(p)
		assert.Equal(t, s, ba.Scores(p))
		assert.Equal(t, []float64{s[1], s[0]}, reversed.Scores(p))
		assert.Equal(t, ab.Score(p), ba.Score(p))
		assert.Equal(t, ab.Score(p), reversed.Score(p))
	}

	ctx := context.Background()
	want, err := ab.ScoreAll(ctx, pts)
	require.NoError(t, err)
	for _, ev := range []*Evaluator{ba, reversed} {
		got, err := ev.ScoreAll(ctx, pts)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestNthMax(t *testing.T) {
	vals := []float64{1, 5, 3}
	assert.Equal(t, 5.0, NthMax(vals, 0))
	assert.Equal(t, 5.0, NthMax(vals, 1))
	assert.Equal(t, 3.0, NthMax(vals, 2))
	assert.Equal(t, 1.0, NthMax(vals, 3))
	assert.Equal(t, 1.0, NthMax(vals, 10))
	assert.Equal(t, 0.0, NthMax(nil, 1))
	assert.Equal(t, []float64{1, 5, 3}, vals)
}

func TestNthMaxNeverIncreasesWithN(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	vals := make([]float64, 7)
	for i := range vals {
		vals[i] = 10 * rng.Float64()
	}
	prev := math.Inf(1)
	for n := 1; n <= len(vals); n++ {
		v := NthMax(vals, n)
		assert.LessOrEqual(t, v, prev)
		prev = v
	}
}

func TestScoreAllMatchesScore(t *testing.T) {
	w := toyWave(t, 0, toyDesign(t, 40, 2))
	ev := &Evaluator{Terms: w.Terms(), Rule: DefaultRule(), Workers: 3}
	pts := uniform(epiRanges, 50, rand.New(rand.NewSource(5)))
	got, err := ev.ScoreAll(context.Background(), pts)
	require.NoError(t, err)
	require.Len(t, got, len(pts))
	for i, p := range pts {
		assert.Equal(t, ev.Score(p), got[i])
		assert.Equal(t, got[i] <= 3, ev.Plausible(p))
	}
}

func TestScoreAllCancelled(t *testing.T) {
	w := toyWave(t, 0, toyDesign(t, 40, 2))
	ev := &Evaluator{Terms: w.Terms(), Rule: DefaultRule()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ev.ScoreAll(ctx, uniform(epiRanges, 10, rand.New(rand.NewSource(1))))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMonotoneShrinkageAcrossWaves(t *testing.T) {
	w1 := toyWave(t, 0, toyDesign(t, 40, 11))
	w2 := toyWave(t, 1, toyDesign(t, 40, 12))
	h1 := History{}.Append(w1)
	h2 := h1.Append(w2)
	require.Len(t, h1, 1)

	grid, err := GridPoints(epiRanges, 5)
	require.NoError(t, err)
	ctx := context.Background()
	for _, nth := range []int{1, 2} {
		rule := Rule{Cutoff: 3, Nth: nth}
		f1, err := (&Evaluator{Terms: h1.Terms(), Rule: rule}).Fraction(ctx, grid)
		require.NoError(t, err)
		f2, err := (&Evaluator{Terms: h2.Terms(), Rule: rule}).Fraction(ctx, grid)
		require.NoError(t, err)
		assert.LessOrEqual(t, f2, f1, "nth=%d", nth)
	}
}

func TestScenarioOptimumIsPlausible(t *testing.T) {
	d := toyDesign(t, 40, 21)
	a := adjusted(t, "I20", d)
	best, bestScore := emulator.Point(nil), math.Inf(1)
	for _, p := range uniform(epiRanges, 2000, rand.New(rand.NewSource(22))) {
		if s := Implausibility(a, p, scenarioTarget, 0); s < bestScore {
			best, bestScore = p, s
		}
	}
	require.NotNil(t, best)
	assert.Less(t, bestScore, 3.0)
}
