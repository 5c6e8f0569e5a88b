package histmatch

import (
	"context"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/observe-l/hmcal/emulator"
	"github.com/observe-l/hmcal/internal/metrics"
)

// Predictor is anything that yields an adjusted mean and variance.
type Predictor interface {
	Predict(p emulator.Point) (mean, variance float64)
}

// Term pairs an adjusted emulator with the target of its output.
type Term struct {
	Emulator *emulator.Adjusted
	Target   Target
}

// Implausibility is |E[f(x)] - z| / sqrt(Var[f(x)] + sigma_z^2 + methodVar).
// A zero denominator gives 0 for an exact match and +Inf otherwise.
func Implausibility(em Predictor, x emulator.Point, t Target, methodVar float64) float64 {
	mean, v := em.Predict(x)
	return implausibility(mean, v, t, methodVar)
}

func implausibility(mean, v float64, t Target, methodVar float64) float64 {
	diff := math.Abs(mean - t.Value)
	den := v + t.Sigma*t.Sigma + methodVar
	if den <= 0 {
		if diff == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return diff / math.Sqrt(den)
}

// NthMax returns the nth largest value. n is clamped to [1, len(vals)]; an
// empty slice gives 0, meaning nothing has been ruled out.
func NthMax(vals []float64, n int) float64 {
	if len(vals) == 0 {
		return 0
	}
	s := append([]float64(nil), vals...)
	sort.Sort(sort.Reverse(sort.Float64Slice(s)))
	if n < 1 {
		n = 1
	}
	if n > len(s) {
		n = len(s)
	}
	return s[n-1]
}

// Rule is the implausibility decision rule.
type Rule struct {
	Cutoff float64
	// Nth selects which order statistic of the per-output implausibilities
	// is compared to Cutoff; 1 is the maximum.
	Nth            int
	MethodVariance float64
}

func DefaultRule() Rule {
	return Rule{Cutoff: 3, Nth: 1}
}

// Evaluator combines the implausibilities of a set of terms.
type Evaluator struct {
	Terms   []Term
	Rule    Rule
	Workers int
	Metrics *metrics.Metrics
}

// Scores returns the implausibility of x under every term, in term order.
func (e *Evaluator) Scores(x emulator.Point) []float64 {
	out := make([]float64, len(e.Terms))
	for i, t := range e.Terms {
		out[i] = Implausibility(t.Emulator, x, t.Target, e.Rule.MethodVariance)
	}
	return out
}

// Score is the combined (nth maximum) implausibility of x.
func (e *Evaluator) Score(x emulator.Point) float64 {
	e.Metrics.Evaluated(1)
	return NthMax(e.Scores(x), e.Rule.Nth)
}

// Plausible reports whether x survives the cutoff.
func (e *Evaluator) Plausible(x emulator.Point) bool {
	return e.Score(x) <= e.Rule.Cutoff
}

// ScoreAll evaluates the combined implausibility of pts in parallel. The
// result is indexed like pts and does not depend on scheduling.
func (e *Evaluator) ScoreAll(ctx context.Context, pts []emulator.Point) ([]float64, error) {
	out := make([]float64, len(pts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers())
	for i := range pts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = NthMax(e.Scores(pts[i]), e.Rule.Nth)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	e.Metrics.Evaluated(len(pts))
	return out, nil
}

// Fraction returns the share of pts that are non-implausible.
func (e *Evaluator) Fraction(ctx context.Context, pts []emulator.Point) (float64, error) {
	if len(pts) == 0 {
		return 0, nil
	}
	scores, err := e.ScoreAll(ctx, pts)
	if err != nil {
		return 0, err
	}
	ok := 0
	for _, s := range scores {
		if s <= e.Rule.Cutoff {
			ok++
		}
	}
	return float64(ok) / float64(len(pts)), nil
}

func (e *Evaluator) workers() int {
	if e.Workers > 0 {
		return e.Workers
	}
	return runtime.GOMAXPROCS(0)
}
