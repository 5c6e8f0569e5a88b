package emulator

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var epiRanges = Ranges{
	{Name: "beta", Min: 0.2, Max: 0.8},
	{Name: "gamma", Min: 0.2, Max: 1},
	{Name: "delta", Min: 0.1, Max: 0.5},
	{Name: "mu", Min: 0.1, Max: 0.5},
}

func toyI20(p Point) float64 {
	beta, gamma, delta, mu := p[0], p[1], p[2], p[3]
	return 300 + 400*beta - 150*gamma + 200*delta*mu + 50*beta*gamma + 30*math.Sin(6*beta)
}

func toyR20(p Point) float64 {
	return 100 + 250*p[1]*p[0] + 80*math.Cos(3*p[2])
}

func uniformPoints(r Ranges, n int, rng *rand.Rand) []Point {
	pts := make([]Point, n)
	for i := range pts {
		p := make(Point, len(r))
		for k, d := range r {
			p[k] = d.Min + rng.Float64()*(d.Max-d.Min)
		}
		pts[i] = p
	}
	return pts
}

func toyDesign(t *testing.T, n int, seed int64, noise float64) Design {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	runs := make([]Run, n)
	for i, p := range uniformPoints(epiRanges, n, rng) {
		runs[i] = Run{
			Point: p,
			Outputs: map[OutputID]Observation{
				"I20": {Mean: toyI20(p) + noise*rng.NormFloat64(), Variability: noise},
				"R20": {Mean: toyR20(p) + noise*rng.NormFloat64(), Variability: noise},
			},
		}
	}
	d, err := NewDesign(epiRanges, []OutputID{"I20", "R20"}, runs)
	require.NoError(t, err)
	return d
}

func TestNewBasisTermCounts(t *testing.T) {
	assert.Equal(t, 5, NewBasis(4, Linear).Len())
	assert.Equal(t, 15, NewBasis(4, Quadratic).Len())
	b := NewBasis(2, Quadratic)
	labels := make([]string, b.Len())
	for i, term := range b.Terms {
		labels[i] = term.Label([]string{"beta", "gamma"})
	}
	assert.Equal(t, []string{"(Intercept)", "beta", "gamma", "I(beta^2)", "beta:gamma", "I(gamma^2)"}, labels)
}

func TestFitRegressionRecoversQuadratic(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	n := 60
	u := make([][]float64, n)
	y := make([]float64, n)
	for i := range u {
		u[i] = []float64{2*rng.Float64() - 1, 2*rng.Float64() - 1}
		y[i] = 1 + 2*u[i][0] - 3*u[i][1] + 0.5*u[i][0]*u[i][1] + 1e-3*rng.NormFloat64()
	}
	reg, err := FitRegression(u, y, Quadratic, 0.05)
	require.NoError(t, err)
	want := []float64{1, 2, -3, 0, 0.5, 0}
	for k, b := range reg.Beta {
		assert.InDelta(t, want[k], b, 1e-2, "term %s", reg.Basis.Terms[k].Label(nil))
	}
	assert.Equal(t, n-6, reg.DF)
	assert.Equal(t, []bool{true, true}, reg.Active)
	assert.InDelta(t, 1e-6, reg.ResidualVar, 1e-6)
}

func TestFitRegressionDegenerate(t *testing.T) {
	for _, n := range []int{5, 14, 15} {
		d := toyDesign(t, n, 1, 1)
		_, err := Fit("I20", d, DefaultFitOptions())
		require.ErrorIs(t, err, ErrDegenerateRegression, "n=%d", n)
	}

	// 30 runs on only 6 distinct points cannot support 15 terms.
	base := toyDesign(t, 6, 2, 1)
	var runs []Run
	for i := 0; i < 5; i++ {
		runs = append(runs, base.Runs...)
	}
	d, err := NewDesign(epiRanges, base.Outputs, runs)
	require.NoError(t, err)
	_, err = Fit("I20", d, DefaultFitOptions())
	require.ErrorIs(t, err, ErrDegenerateRegression)
}

func TestFitFlagsInactiveInputs(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	runs := make([]Run, 50)
	for i, p := range uniformPoints(epiRanges, len(runs), rng) {
		runs[i] = Run{Point: p, Outputs: map[OutputID]Observation{
			"I20": {Mean: 100 + 500*p[0] - 300*p[1] + 0.01*rng.NormFloat64(), Variability: 0.01},
		}}
	}
	d, err := NewDesign(epiRanges, []OutputID{"I20"}, runs)
	require.NoError(t, err)
	opts := DefaultFitOptions()
	opts.Significance = 1e-6
	em, err := Fit("I20", d, opts)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, false, false}, em.Active())
}

func TestAdjustExactAtTrainingPoints(t *testing.T) {
	for _, randomBeta := range []bool{false, true} {
		d := toyDesign(t, 40, 7, 2)
		opts := DefaultFitOptions()
		opts.RandomBeta = randomBeta
		em, err := Fit("I20", d, opts)
		require.NoError(t, err)
		adj, err := Adjust(em, d)
		require.NoError(t, err)
		require.Zero(t, adj.Ridge())
		y, _ := d.Column("I20")
		for i, p := range d.Points() {
			mean, v := adj.Predict(p)
			assert.Less(t, math.Abs(mean-y[i]), 1e-8*(1+math.Abs(y[i])), "randomBeta=%v point %d", randomBeta, i)
			assert.Less(t, v, 1e-8*em.PriorVariance(p), "randomBeta=%v point %d", randomBeta, i)
		}
	}
}

func TestAdjustedMeanComesFromWeights(t *testing.T) {
	d := toyDesign(t, 40, 7, 2)
	em, err := Fit("I20", d, DefaultFitOptions())
	require.NoError(t, err)
	adj, err := Adjust(em, d)
	require.NoError(t, err)

	prior := *adj
	prior.w = mat.NewVecDense(d.Len(), nil)
	y, _ := d.Column("I20")
	moved := 0
	for i, p := range d.Points() {
		assert.InDelta(t, em.PriorMean(p), prior.Expectation(p), 1e-9, "point %d", i)
		if math.Abs(prior.Expectation(p)-y[i]) > 1e-3 {
			moved++
		}
	}
	assert.Greater(t, moved, d.Len()/2)

	// The training values are recovered as prior mean plus kᵢᵀw.
	for i, p := range d.Points() {
		u := em.ranges.Scale(nil, p)
		got := em.PriorMean(p)
		for j, uj := range adj.u {
			got += em.covariance(u, uj, i == j) * adj.w.AtVec(j)
		}
		assert.InDelta(t, y[i], got, 1e-8*(1+math.Abs(y[i])), "point %d", i)
	}
}

func TestAdjustShrinksVariance(t *testing.T) {
	d := toyDesign(t, 40, 8, 1)
	em, err := Fit("I20", d, DefaultFitOptions())
	require.NoError(t, err)
	adj, err := Adjust(em, d)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(9))
	for _, p := range uniformPoints(epiRanges, 200, rng) {
		v := adj.Variance(p)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, em.PriorVariance(p)+1e-9)
		assert.False(t, math.IsNaN(adj.Expectation(p)))
	}
}

func TestAdjustPredictsHeldOutPoints(t *testing.T) {
	d := toyDesign(t, 60, 12, 0.5)
	em, err := Fit("I20", d, DefaultFitOptions())
	require.NoError(t, err)
	adj, err := Adjust(em, d)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(13))
	outside := 0
	pts := uniformPoints(epiRanges, 100, rng)
	for _, p := range pts {
		mean, v := adj.Predict(p)
		if math.Abs(mean-toyI20(p)) > 3*math.Sqrt(v)+1 {
			outside++
		}
	}
	assert.LessOrEqual(t, outside, 10)
}

func TestAdjustSingularCovariance(t *testing.T) {
	d := toyDesign(t, 30, 4, 1)
	opts := DefaultFitOptions()
	opts.Ridge = 0
	em, err := Fit("I20", d, opts)
	require.NoError(t, err)
	h := em.Hyper()
	h.Sigma2, h.Nugget = 0, 0
	flat, err := em.WithHyper(h)
	require.NoError(t, err)
	_, err = Adjust(flat, d)
	require.ErrorIs(t, err, ErrSingularCovariance)

	opts.Ridge = 1e-8
	em, err = Fit("I20", d, opts)
	require.NoError(t, err)
	flat, err = em.WithHyper(h)
	require.NoError(t, err)
	adj, err := Adjust(flat, d)
	require.NoError(t, err)
	assert.Greater(t, adj.Ridge(), 0.0)
}

func TestPerturbLeavesOriginalUntouched(t *testing.T) {
	d := toyDesign(t, 40, 5, 1)
	em, err := Fit("I20", d, DefaultFitOptions())
	require.NoError(t, err)
	adj, err := Adjust(em, d)
	require.NoError(t, err)

	p := Point{0.41, 0.63, 0.27, 0.33}
	before := em.Hyper()
	mean, v := adj.Predict(p)

	wide, err := adj.Perturb(4, 1)
	require.NoError(t, err)
	_, vw := wide.Predict(p)
	assert.Greater(t, vw, v)
	assert.InDelta(t, 4*before.Sigma2, wide.Base().Hyper().Sigma2, 1e-12*before.Sigma2)

	mean2, v2 := adj.Predict(p)
	assert.Equal(t, mean, mean2)
	assert.Equal(t, v, v2)
	assert.Equal(t, before, em.Hyper())
}

func TestWithHyperRejectsBadValues(t *testing.T) {
	d := toyDesign(t, 40, 6, 1)
	em, err := Fit("R20", d, DefaultFitOptions())
	require.NoError(t, err)
	h := em.Hyper()
	h.Theta[0] = -1
	_, err = em.WithHyper(h)
	require.Error(t, err)
	h = em.Hyper()
	h.Theta = h.Theta[:2]
	_, err = em.WithHyper(h)
	require.Error(t, err)
}

func TestFitOverridesHyper(t *testing.T) {
	d := toyDesign(t, 40, 6, 1)
	opts := DefaultFitOptions()
	opts.Theta = []float64{0.3, 0.4, 0.5, 0.6}
	opts.Sigma2 = 12.5
	opts.Nugget = 0.25
	em, err := Fit("R20", d, opts)
	require.NoError(t, err)
	h := em.Hyper()
	assert.Equal(t, opts.Theta, h.Theta)
	assert.Equal(t, 12.5, h.Sigma2)
	assert.Equal(t, 0.25, h.Nugget)
	assert.InDelta(t, 12.75, em.PriorVariance(Point{0.5, 0.5, 0.3, 0.3}), 1e-12)
}

func TestStateRestoreReproducesPredictions(t *testing.T) {
	d := toyDesign(t, 40, 10, 1)
	opts := DefaultFitOptions()
	opts.RandomBeta = true
	em, err := Fit("R20", d, opts)
	require.NoError(t, err)
	adj, err := Adjust(em, d)
	require.NoError(t, err)

	restored, err := Restore(em.State())
	require.NoError(t, err)
	adj2, err := Adjust(restored, restored.TrainingDesign())
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(21))
	for _, p := range uniformPoints(epiRanges, 50, rng) {
		m1, v1 := adj.Predict(p)
		m2, v2 := adj2.Predict(p)
		assert.InDelta(t, m1, m2, 1e-9)
		assert.InDelta(t, v1, v2, 1e-9)
	}
}

func TestLeaveOneOutIsStandardised(t *testing.T) {
	d := toyDesign(t, 50, 14, 2)
	em, err := Fit("I20", d, DefaultFitOptions())
	require.NoError(t, err)
	adj, err := Adjust(em, d)
	require.NoError(t, err)
	loo, err := adj.LeaveOneOut()
	require.NoError(t, err)
	require.Len(t, loo, 50)
	big := 0
	for _, z := range loo {
		require.False(t, math.IsNaN(z))
		if math.Abs(z) > 3 {
			big++
		}
	}
	assert.LessOrEqual(t, big, 5)
}
