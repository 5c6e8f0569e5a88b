package histmatch

import (
	"context"
	"fmt"
	"math"

	"github.com/observe-l/hmcal/emulator"
)

const maxGridPoints = 1 << 20

// Perturbation selects what a sensitivity level scales.
type Perturbation int

const (
	// PerturbVariance scales σ_u².
	PerturbVariance Perturbation = iota
	// PerturbCorrelation scales every correlation length.
	PerturbCorrelation
	// PerturbObservation scales every target sigma.
	PerturbObservation
)

func (p Perturbation) String() string {
	switch p {
	case PerturbVariance:
		return "variance"
	case PerturbCorrelation:
		return "correlation"
	case PerturbObservation:
		return "observation"
	}
	return fmt.Sprintf("Perturbation(%d)", int(p))
}

func ParsePerturbation(s string) (Perturbation, error) {
	switch s {
	case "variance", "var":
		return PerturbVariance, nil
	case "correlation", "corr", "theta":
		return PerturbCorrelation, nil
	case "observation", "obs", "target":
		return PerturbObservation, nil
	}
	return 0, fmt.Errorf("unknown perturbation %q", s)
}

type SpaceRemovedOptions struct {
	Mode Perturbation
	// Levels are the scale factors to try; default {0.9, 1, 1.1}.
	Levels []float64
	// PointsPerDim is the reference grid resolution per input; default 10.
	PointsPerDim int
	Rule         Rule
	Workers      int
}

// SpaceRemovedLevel is the outcome at one perturbation level.
type SpaceRemovedLevel struct {
	Level     float64
	Remaining float64
	Removed   float64
}

// SpaceRemoved re-scores a fixed grid over ranges with each term
// perturbed at every level and reports the non-implausible share. The terms
// and their emulators are left untouched.
func SpaceRemoved(ctx context.Context, terms []Term, ranges emulator.Ranges, opts SpaceRemovedOptions) ([]SpaceRemovedLevel, error) {
	levels := opts.Levels
	if len(levels) == 0 {
		levels = []float64{0.9, 1, 1.1}
	}
	ppd := opts.PointsPerDim
	if ppd <= 0 {
		ppd = 10
	}
	grid, err := GridPoints(ranges, ppd)
	if err != nil {
		return nil, err
	}
	out := make([]SpaceRemovedLevel, 0, len(levels))
	for _, lvl := range levels {
		if !(lvl > 0) || math.IsInf(lvl, 0) {
			return nil, fmt.Errorf("perturbation level %v must be positive", lvl)
		}
		perturbed, err := perturbTerms(terms, opts.Mode, lvl)
		if err != nil {
			return nil, fmt.Errorf("%s level %v: %w", opts.Mode, lvl, err)
		}
		ev := &Evaluator{Terms: perturbed, Rule: opts.Rule, Workers: opts.Workers}
		frac, err := ev.Fraction(ctx, grid)
		if err != nil {
			return nil, err
		}
		out = append(out, SpaceRemovedLevel{Level: lvl, Remaining: frac, Removed: 1 - frac})
	}
	return out, nil
}

func perturbTerms(terms []Term, mode Perturbation, lvl float64) ([]Term, error) {
	out := make([]Term, len(terms))
	cache := make(map[*emulator.Adjusted]*emulator.Adjusted)
	for i, t := range terms {
		out[i] = t
		switch mode {
		case PerturbObservation:
			out[i].Target.Sigma *= lvl
		case PerturbVariance, PerturbCorrelation:
			if p, ok := cache[t.Emulator]; ok {
				out[i].Emulator = p
				continue
			}
			vs, ts := lvl, 1.0
			if mode == PerturbCorrelation {
				vs, ts = 1, lvl
			}
			p, err := t.Emulator.Perturb(vs, ts)
			if err != nil {
				return nil, err
			}
			cache[t.Emulator] = p
			out[i].Emulator = p
		default:
			return nil, fmt.Errorf("unknown perturbation %d", int(mode))
		}
	}
	return out, nil
}

// GridPoints returns the ppd^d regular grid spanning ranges, endpoints
// included.
func GridPoints(ranges emulator.Ranges, ppd int) ([]emulator.Point, error) {
	if err := ranges.Validate(); err != nil {
		return nil, err
	}
	if ppd < 2 {
		return nil, fmt.Errorf("grid needs at least 2 points per input, got %d", ppd)
	}
	d := ranges.Dim()
	total := 1
	for k := 0; k < d; k++ {
		total *= ppd
		if total > maxGridPoints {
			return nil, fmt.Errorf("grid of %d^%d points is too large", ppd, d)
		}
	}
	out := make([]emulator.Point, total)
	idx := make([]int, d)
	for n := 0; n < total; n++ {
		p := make(emulator.Point, d)
		for k, r := range ranges {
			p[k] = r.Min + (r.Max-r.Min)*float64(idx[k])/float64(ppd-1)
			if idx[k] == ppd-1 {
				p[k] = r.Max
			}
		}
		out[n] = p
		for k := d - 1; k >= 0; k-- {
			idx[k]++
			if idx[k] < ppd {
				break
			}
			idx[k] = 0
		}
	}
	return out, nil
}
