package histmatch

import (
	"context"
	"fmt"
	"math"

	"github.com/observe-l/hmcal/emulator"
)

// OutputCheck compares one emulator prediction with the observed output.
type OutputCheck struct {
	Output      emulator.OutputID
	Observed    float64
	Expectation float64
	Variance    float64
	// StdError is (Observed - Expectation) / sqrt(Variance + sigma_z^2).
	StdError float64
	// Emulated is the emulator implausibility against the target.
	Emulated float64
	// Simulated is the implausibility of the observed value itself.
	Simulated float64
}

// PointReport is the diagnostic outcome for one held-out run.
type PointReport struct {
	Index  int
	Point  emulator.Point
	Checks []OutputCheck
	// Combined is the nth-maximum of |StdError|.
	Combined float64
	Invalid  bool
	// Misclassified marks a run whose simulated output is non-implausible
	// but which the emulators would rule out.
	Misclassified bool
}

// Report is the result of Validate. Invalid and Misclassified hold indices
// into the held-out design.
type Report struct {
	Points        []PointReport
	Invalid       []int
	Misclassified []int
}

// Valid reports whether no held-out run was flagged.
func (r *Report) Valid() bool {
	return len(r.Invalid) == 0
}

// Validate checks the emulators against the held-out design. A run is
// invalid when any observed output falls outside
// E ± cutoff·sqrt(Var + sigma_z^2), or when the combined standardised error
// exceeds the cutoff. Flagged runs are an outcome, not an error; errors only
// report inconsistent inputs.
func Validate(ctx context.Context, ems map[emulator.OutputID]*emulator.Adjusted, held emulator.Design, targets Targets, rule Rule) (*Report, error) {
	if err := targets.Validate(); err != nil {
		return nil, err
	}
	if err := targets.CheckDesign(held); err != nil {
		return nil, err
	}
	ids := targets.Outputs()
	for _, id := range ids {
		if ems[id] == nil {
			return nil, fmt.Errorf("%w: no emulator for output %q", ErrInvalidTarget, id)
		}
	}

	rep := &Report{Points: make([]PointReport, held.Len())}
	for i, run := range held.Runs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pr := PointReport{Index: i, Point: run.Point}
		std := make([]float64, 0, len(ids))
		emu := make([]float64, 0, len(ids))
		simu := make([]float64, 0, len(ids))
		outside := false
		for _, id := range ids {
			t := targets[id]
			obs := run.Outputs[id].Mean
			mean, v := ems[id].Predict(run.Point)
			c := OutputCheck{
				Output:      id,
				Observed:    obs,
				Expectation: mean,
				Variance:    v,
				Emulated:    implausibility(mean, v, t, rule.MethodVariance),
				Simulated:   implausibility(obs, 0, t, rule.MethodVariance),
			}
			c.StdError = standardised(obs, mean, v+t.Sigma*t.Sigma)
			if math.Abs(c.StdError) > rule.Cutoff {
				outside = true
			}
			std = append(std, math.Abs(c.StdError))
			emu = append(emu, c.Emulated)
			simu = append(simu, c.Simulated)
			pr.Checks = append(pr.Checks, c)
		}
		pr.Combined = NthMax(std, rule.Nth)
		pr.Invalid = outside || pr.Combined > rule.Cutoff
		pr.Misclassified = NthMax(simu, rule.Nth) <= rule.Cutoff && NthMax(emu, rule.Nth) > rule.Cutoff
		if pr.Invalid {
			rep.Invalid = append(rep.Invalid, i)
		}
		if pr.Misclassified {
			rep.Misclassified = append(rep.Misclassified, i)
		}
		rep.Points[i] = pr
	}
	return rep, nil
}

func standardised(obs, mean, v float64) float64 {
	d := obs - mean
	if v <= 0 {
		if d == 0 {
			return 0
		}
		return math.Copysign(math.Inf(1), d)
	}
	return d / math.Sqrt(v)
}

// PairRow is the implausibility of one point projected on one input pair.
type PairRow struct {
	A, B           string
	Index          int
	XA, XB         float64
	Implausibility float64
}

// PairCell summarises the points falling in one 2-D bin of an input pair.
// OpticalDepth is the non-implausible share of those points.
type PairCell struct {
	A, B              string
	BinA, BinB        int
	Count             int
	MinImplausibility float64
	OpticalDepth      float64
}

// PairwiseGrid is the data behind a pairs plot coloured by implausibility.
type PairwiseGrid struct {
	Inputs []string
	Bins   int
	Cutoff float64
	Rows   []PairRow
	// Cells lists only non-empty bins.
	Cells []PairCell
}

// NewPairwiseGrid scores pts and lays the scores out for every input pair
// (a, b) with a before b.
func NewPairwiseGrid(ctx context.Context, ev *Evaluator, ranges emulator.Ranges, pts []emulator.Point, bins int) (*PairwiseGrid, error) {
	if err := ranges.Validate(); err != nil {
		return nil, err
	}
	if bins < 1 {
		bins = 1
	}
	scores, err := ev.ScoreAll(ctx, pts)
	if err != nil {
		return nil, err
	}
	names := ranges.Names()
	g := &PairwiseGrid{Inputs: names, Bins: bins, Cutoff: ev.Rule.Cutoff}
	type cellKey struct{ a, b, i, j int }
	type acc struct {
		n, ok int
		lo    float64
	}
	for a := 0; a < len(names); a++ {
		for b := a + 1; b < len(names); b++ {
			cells := make(map[cellKey]*acc)
			for k, p := range pts {
				g.Rows = append(g.Rows, PairRow{A: names[a], B: names[b], Index: k, XA: p[a], XB: p[b], Implausibility: scores[k]})
				key := cellKey{a, b, bin(p[a], ranges[a], bins), bin(p[b], ranges[b], bins)}
				c := cells[key]
				if c == nil {
					c = &acc{lo: math.Inf(1)}
					cells[key] = c
				}
				c.n++
				if scores[k] <= ev.Rule.Cutoff {
					c.ok++
				}
				c.lo = math.Min(c.lo, scores[k])
			}
			for i := 0; i < bins; i++ {
				for j := 0; j < bins; j++ {
					c := cells[cellKey{a, b, i, j}]
					if c == nil {
						continue
					}
					g.Cells = append(g.Cells, PairCell{
						A: names[a], B: names[b], BinA: i, BinB: j,
						Count:             c.n,
						MinImplausibility: c.lo,
						OpticalDepth:      float64(c.ok) / float64(c.n),
					})
				}
			}
		}
	}
	return g, nil
}

func bin(x float64, r emulator.Range, bins int) int {
	k := int(math.Floor((x - r.Min) / (r.Max - r.Min) * float64(bins)))
	if k < 0 {
		return 0
	}
	if k >= bins {
		return bins - 1
	}
	return k
}
