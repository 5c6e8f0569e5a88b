package histmatch

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/observe-l/hmcal/emulator"
	"github.com/observe-l/hmcal/internal/lhs"
	"github.com/observe-l/hmcal/internal/metrics"
)

const (
	boxPad      = 0.1
	minProposal = 0.05
)

type RefocusOptions struct {
	Rule Rule
	// MaxAttempts bounds the number of proposal batches.
	MaxAttempts int
	// BatchSize is the number of candidates per batch; 0 means 10·n.
	BatchSize int
	// MinDistance rejects candidates closer than this, in scaled [-1,1]
	// units, to an accepted or existing point.
	MinDistance float64
	// Existing points, usually earlier waves' runs, to keep away from.
	Existing []emulator.Point
	Seed     int64
	Workers  int
	// Sampler proposes the space-filling batches; nil means maximin LHS.
	Sampler Sampler
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

func DefaultRefocusOptions() RefocusOptions {
	return RefocusOptions{
		Rule:        DefaultRule(),
		MaxAttempts: 20,
		MinDistance: 0.01,
	}
}

// GenerateRuns returns n non-implausible points inside ranges. Batches
// alternate between space-filling proposals in the padded bounding box of
// the points accepted so far and Gaussian proposals around them. When the
// attempt budget runs out, the accepted points are returned together with
// ErrInsufficientAcceptedPoints.
func GenerateRuns(ctx context.Context, terms []Term, ranges emulator.Ranges, n int, opts RefocusOptions) ([]emulator.Point, error) {
	if err := ranges.Validate(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = 20
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = 10 * n
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	sampler := opts.Sampler
	if sampler == nil {
		sampler = lhs.New(rng, 1)
	}
	ev := &Evaluator{Terms: terms, Rule: opts.Rule, Workers: opts.Workers, Metrics: opts.Metrics}

	avoid := make([][]float64, 0, len(opts.Existing))
	for _, p := range opts.Existing {
		if len(p) == ranges.Dim() {
			avoid = append(avoid, ranges.Scale(nil, p))
		}
	}
	var accepted []emulator.Point
	var scaled [][]float64
	box := ranges
	for attempt := 0; attempt < attempts && len(accepted) < n; attempt++ {
		var cands []emulator.Point
		if attempt%2 == 1 && len(scaled) >= 2 {
			cands = propose(rng, scaled, ranges, batch)
		} else {
			cands = sampler.Sample(batch, box)
		}
		scores, err := ev.ScoreAll(ctx, cands)
		if err != nil {
			return accepted, err
		}
		before := len(accepted)
		for i, c := range cands {
			if !ranges.Contains(c) {
				opts.Metrics.Proposal(metrics.OutOfRange)
				continue
			}
			if scores[i] > opts.Rule.Cutoff {
				opts.Metrics.Proposal(metrics.Implausible)
				continue
			}
			u := ranges.Scale(nil, c)
			if tooClose(u, scaled, opts.MinDistance) || tooClose(u, avoid, opts.MinDistance) {
				opts.Metrics.Proposal(metrics.TooClose)
				continue
			}
			opts.Metrics.Proposal(metrics.Accepted)
			accepted = append(accepted, c)
			scaled = append(scaled, u)
		}
		log.Debug("refocus batch",
			zap.Int("attempt", attempt),
			zap.Int("proposed", len(cands)),
			zap.Int("accepted", len(accepted)-before),
			zap.Int("total", len(accepted)))
		if len(accepted) > 0 {
			box = boundingBox(accepted, ranges)
		}
	}
	if len(accepted) > n {
		idx := thin(scaled, n)
		out := make([]emulator.Point, n)
		for i, j := range idx {
			out[i] = accepted[j]
		}
		accepted = out
	}
	if len(accepted) < n {
		log.Warn("refocus budget exhausted", zap.Int("accepted", len(accepted)), zap.Int("wanted", n))
		return accepted, fmt.Errorf("%w: %d of %d after %d attempts", ErrInsufficientAcceptedPoints, len(accepted), n, attempts)
	}
	return accepted, nil
}

// propose draws Gaussian perturbations of accepted points, with per-input
// spread equal to the sample standard deviation of the accepted set.
func propose(rng *rand.Rand, scaled [][]float64, ranges emulator.Ranges, n int) []emulator.Point {
	d := ranges.Dim()
	sd := make([]float64, d)
	col := make([]float64, len(scaled))
	for k := 0; k < d; k++ {
		for i, u := range scaled {
			col[i] = u[k]
		}
		sd[k] = math.Max(stat.StdDev(col, nil), minProposal)
	}
	out := make([]emulator.Point, n)
	u := make([]float64, d)
	for i := range out {
		c := scaled[rng.Intn(len(scaled))]
		for k := range u {
			u[k] = c[k] + sd[k]*rng.NormFloat64()
		}
		out[i] = ranges.Unscale(u)
	}
	return out
}

func boundingBox(pts []emulator.Point, ranges emulator.Ranges) emulator.Ranges {
	box := make(emulator.Ranges, len(ranges))
	for k, r := range ranges {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, p := range pts {
			lo = math.Min(lo, p[k])
			hi = math.Max(hi, p[k])
		}
		pad := boxPad * (r.Max - r.Min)
		box[k] = emulator.Range{Name: r.Name, Min: math.Max(r.Min, lo-pad), Max: math.Min(r.Max, hi+pad)}
	}
	return box
}

func tooClose(u []float64, set [][]float64, minDist float64) bool {
	if minDist <= 0 {
		return false
	}
	for _, v := range set {
		if floats.Distance(u, v, 2) < minDist {
			return true
		}
	}
	return false
}

// thin greedily picks n of the points, each time taking the one farthest
// from those already picked.
func thin(u [][]float64, n int) []int {
	picked := []int{0}
	taken := make([]bool, len(u))
	taken[0] = true
	dist := make([]float64, len(u))
	for i := range u {
		dist[i] = floats.Distance(u[i], u[0], 2)
	}
	for len(picked) < n {
		best := -1
		for i, d := range dist {
			if !taken[i] && (best < 0 || d > dist[best]) {
				best = i
			}
		}
		picked = append(picked, best)
		taken[best] = true
		for i := range u {
			dist[i] = math.Min(dist[i], floats.Distance(u[i], u[best], 2))
		}
	}
	return picked
}
