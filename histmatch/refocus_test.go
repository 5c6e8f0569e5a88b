package histmatch

import (
	"context"
	"math/rand"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/observe-l/hmcal/internal/metrics"
)

func TestGenerateRunsContract(t *testing.T) {
	w := toyWave(t, 0, toyDesign(t, 40, 51))
	terms := w.Terms()
	opts := DefaultRefocusOptions()
	opts.Seed = 52
	opts.Existing = w.Train.Points()
	opts.Metrics = metrics.New(prometheus.NewRegistry())

	pts, err := GenerateRuns(context.Background(), terms, epiRanges, 25, opts)
	require.NoError(t, err)
	require.Len(t, pts, 25)
	ev := &Evaluator{Terms: terms, Rule: opts.Rule}
	for _, p := range pts {
		assert.True(t, epiRanges.Contains(p))
		assert.LessOrEqual(t, ev.Score(p), opts.Rule.Cutoff)
	}
	for i := range pts {
		ui := epiRanges.Scale(nil, pts[i])
		for j := i + 1; j < len(pts); j++ {
			assert.GreaterOrEqual(t, floats.Distance(ui, epiRanges.Scale(nil, pts[j]), 2), opts.MinDistance)
		}
	}
}

func TestGenerateRunsDeterministic(t *testing.T) {
	w := toyWave(t, 0, toyDesign(t, 40, 53))
	opts := DefaultRefocusOptions()
	opts.Seed = 9
	opts.Workers = 4
	a, err := GenerateRuns(context.Background(), w.Terms(), epiRanges, 10, opts)
	require.NoError(t, err)
	opts.Workers = 1
	b, err := GenerateRuns(context.Background(), w.Terms(), epiRanges, 10, opts)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGenerateRunsInsufficient(t *testing.T) {
	d := toyDesign(t, 40, 54)
	terms := []Term{{Emulator: adjusted(t, "I20", d), Target: Target{Value: 1e6, Sigma: 1}}}
	opts := DefaultRefocusOptions()
	opts.MaxAttempts = 3
	opts.BatchSize = 50
	pts, err := GenerateRuns(context.Background(), terms, epiRanges, 10, opts)
	assert.ErrorIs(t, err, ErrInsufficientAcceptedPoints)
	assert.Empty(t, pts)
}

func TestGenerateRunsWithoutTermsAcceptsEverything(t *testing.T) {
	opts := DefaultRefocusOptions()
	opts.MaxAttempts = 1
	opts.BatchSize = 30
	opts.MinDistance = 0
	pts, err := GenerateRuns(context.Background(), nil, epiRanges, 12, opts)
	require.NoError(t, err)
	assert.Len(t, pts, 12)
}

func TestThinPicksDistinctSpreadPoints(t *testing.T) {
	u := [][]float64{{0, 0}, {0, 0}, {1, 1}, {0.01, 0}, {-1, 1}}
	idx := thin(u, 3)
	require.Len(t, idx, 3)
	assert.ElementsMatch(t, []int{0, 2, 4}, idx)
	assert.Len(t, thin(u, 5), 5)
}

func TestBoundingBoxStaysInRanges(t *testing.T) {
	pts := uniform(epiRanges, 5, rand.New(rand.NewSource(3)))
	box := boundingBox(pts, epiRanges)
	require.NoError(t, box.Validate())
	for k, r := range box {
		assert.GreaterOrEqual(t, r.Min, epiRanges[k].Min)
		assert.LessOrEqual(t, r.Max, epiRanges[k].Max)
	}
	for _, p := range pts {
		assert.True(t, box.Contains(p))
	}
}
