package histmatch

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/observe-l/hmcal/emulator"
)

func TestValidateFlagsCorruptedRun(t *testing.T) {
	train := toyDesign(t, 50, 31)
	ems := map[emulator.OutputID]*emulator.Adjusted{
		"I20": adjusted(t, "I20", train),
		"R20": adjusted(t, "R20", train),
	}
	held := toyDesign(t, 10, 32)
	bad := held.Runs[4].Outputs["I20"]
	bad.Mean += 1e5
	held.Runs[4].Outputs = map[emulator.OutputID]emulator.Observation{"I20": bad, "R20": held.Runs[4].Outputs["R20"]}

	targets := Targets{"I20": scenarioTarget, "R20": {Value: 200, Sigma: 20}}
	rep, err := Validate(context.Background(), ems, held, targets, DefaultRule())
	require.NoError(t, err)
	require.Len(t, rep.Points, 10)
	assert.Contains(t, rep.Invalid, 4)
	assert.False(t, rep.Valid())
	pr := rep.Points[4]
	assert.True(t, pr.Invalid)
	require.Len(t, pr.Checks, 2)
	assert.Equal(t, emulator.OutputID("I20"), pr.Checks[0].Output)
	assert.Greater(t, pr.Checks[0].StdError, 3.0)
}

func TestValidateMisclassification(t *testing.T) {
	train := toyDesign(t, 40, 33)
	ems := map[emulator.OutputID]*emulator.Adjusted{"I20": adjusted(t, "I20", train)}
	held := toyDesign(t, 8, 34)
	// A target placed on a held-out run's observed value with a tiny sigma
	// makes that run non-implausible for the simulator; any emulator error
	// larger than the cutoff allowance then misclassifies it.
	obs := held.Runs[0].Outputs["I20"].Mean
	mean, v := ems["I20"].Predict(held.Runs[0].Point)
	targets := Targets{"I20": {Value: obs, Sigma: 1e-3}}
	rep, err := Validate(context.Background(), ems, held, targets, DefaultRule())
	require.NoError(t, err)
	emulated := implausibility(mean, v, targets["I20"], 0)
	assert.Equal(t, emulated > 3, rep.Points[0].Misclassified)
	assert.Equal(t, 0.0, rep.Points[0].Checks[0].Simulated)
}

func TestValidateRejectsMissingOutput(t *testing.T) {
	train := toyDesign(t, 30, 35)
	ems := map[emulator.OutputID]*emulator.Adjusted{"I20": adjusted(t, "I20", train)}
	_, err := Validate(context.Background(), ems, train, Targets{"R20": {Value: 1, Sigma: 1}}, DefaultRule())
	assert.ErrorIs(t, err, ErrInvalidTarget)
	_, err = Validate(context.Background(), ems, train, Targets{"X": {Value: 1, Sigma: 1}}, DefaultRule())
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestPairwiseGrid(t *testing.T) {
	w := toyWave(t, 0, toyDesign(t, 40, 36))
	ev := &Evaluator{Terms: w.Terms(), Rule: DefaultRule()}
	pts := uniform(epiRanges, 30, rand.New(rand.NewSource(37)))
	g, err := NewPairwiseGrid(context.Background(), ev, epiRanges, pts, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"beta", "gamma", "delta", "mu"}, g.Inputs)
	assert.Len(t, g.Rows, 6*len(pts))

	counts := map[[2]string]int{}
	for _, c := range g.Cells {
		assert.GreaterOrEqual(t, c.OpticalDepth, 0.0)
		assert.LessOrEqual(t, c.OpticalDepth, 1.0)
		assert.Less(t, c.BinA, 4)
		assert.Less(t, c.BinB, 4)
		counts[[2]string{c.A, c.B}] += c.Count
	}
	assert.Len(t, counts, 6)
	for pair, n := range counts {
		assert.Equal(t, len(pts), n, "%v", pair)
	}
	for _, r := range g.Rows {
		if r.A == "beta" && r.B == "gamma" {
			assert.Equal(t, ev.Score(pts[r.Index]), r.Implausibility)
		}
	}
}
