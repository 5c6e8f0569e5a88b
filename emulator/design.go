package emulator

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// OutputID names one simulator output statistic (e.g. "I20").
type OutputID string

// Range bounds one named input dimension.
type Range struct {
	Name string
	Min  float64
	Max  float64
}

// Ranges is the ordered set of input dimensions. A Point stores its
// coordinates in the same order.
type Ranges []Range

// Point is a parameter set in Ranges order.
type Point []float64

func (r Ranges) Dim() int { return len(r) }

func (r Ranges) Names() []string {
	out := make([]string, len(r))
	for i, d := range r {
		out[i] = d.Name
	}
	return out
}

// Validate checks names are unique and every interval is non-empty.
func (r Ranges) Validate() error {
	if len(r) == 0 {
		return fmt.Errorf("%w: no input dimensions", ErrInvalidDesign)
	}
	seen := make(map[string]bool, len(r))
	for _, d := range r {
		if d.Name == "" {
			return fmt.Errorf("%w: unnamed input dimension", ErrInvalidDesign)
		}
		if seen[d.Name] {
			return fmt.Errorf("%w: duplicate input %q", ErrInvalidDesign, d.Name)
		}
		seen[d.Name] = true
		if !(d.Max > d.Min) || math.IsInf(d.Min, 0) || math.IsInf(d.Max, 0) {
			return fmt.Errorf("%w: bad range for %q: [%g,%g]", ErrInvalidDesign, d.Name, d.Min, d.Max)
		}
	}
	return nil
}

// Contains reports whether p has the right dimension and lies inside every interval.
func (r Ranges) Contains(p Point) bool {
	if len(p) != len(r) {
		return false
	}
	for i, d := range r {
		if math.IsNaN(p[i]) || p[i] < d.Min || p[i] > d.Max {
			return false
		}
	}
	return true
}

// Scale maps p into [-1,1]^d. dst is reused when it has the right length.
func (r Ranges) Scale(dst []float64, p Point) []float64 {
	if len(dst) != len(r) {
		dst = make([]float64, len(r))
	}
	for i, d := range r {
		dst[i] = 2*(p[i]-d.Min)/(d.Max-d.Min) - 1
	}
	return dst
}

// Unscale is the inverse of Scale.
func (r Ranges) Unscale(u []float64) Point {
	p := make(Point, len(r))
	for i, d := range r {
		p[i] = d.Min + (u[i]+1)/2*(d.Max-d.Min)
	}
	return p
}

// Point builds a Point from a name->value mapping.
func (r Ranges) Point(named map[string]float64) (Point, error) {
	p := make(Point, len(r))
	for i, d := range r {
		v, ok := named[d.Name]
		if !ok {
			return nil, fmt.Errorf("%w: missing input %q", ErrInvalidDesign, d.Name)
		}
		p[i] = v
	}
	if len(named) != len(r) {
		return nil, fmt.Errorf("%w: %d inputs given, want %d", ErrInvalidDesign, len(named), len(r))
	}
	return p, nil
}

// Named returns p keyed by input name.
func (r Ranges) Named(p Point) map[string]float64 {
	out := make(map[string]float64, len(r))
	for i, d := range r {
		out[d.Name] = p[i]
	}
	return out
}

// Clamp pulls p back into the box.
func (r Ranges) Clamp(p Point) Point {
	out := make(Point, len(p))
	for i, d := range r {
		out[i] = math.Min(math.Max(p[i], d.Min), d.Max)
	}
	return out
}

// Observation is one output of one simulator run: ensemble mean and
// ensemble variability.
type Observation struct {
	Mean        float64
	Variability float64
}

// Run is one row of a Design.
type Run struct {
	Point   Point
	Outputs map[OutputID]Observation
}

// Design is a wave's simulator data.
type Design struct {
	Ranges  Ranges
	Outputs []OutputID
	Runs    []Run
}

// NewDesign validates and returns a design. Every run must carry a finite
// value for every declared output and lie inside the ranges.
func NewDesign(ranges Ranges, outputs []OutputID, runs []Run) (Design, error) {
	d := Design{Ranges: ranges, Outputs: outputs, Runs: runs}
	return d, d.Validate()
}

func (d Design) Len() int { return len(d.Runs) }

// Validate enforces the design invariants.
func (d Design) Validate() error {
	if err := d.Ranges.Validate(); err != nil {
		return err
	}
	if len(d.Outputs) == 0 {
		return fmt.Errorf("%w: no outputs declared", ErrInvalidDesign)
	}
	seen := make(map[OutputID]bool, len(d.Outputs))
	for _, o := range d.Outputs {
		if seen[o] {
			return fmt.Errorf("%w: duplicate output %q", ErrInvalidDesign, o)
		}
		seen[o] = true
	}
	for i, run := range d.Runs {
		if !d.Ranges.Contains(run.Point) {
			return fmt.Errorf("%w: run %d outside ranges: %v", ErrInvalidDesign, i, run.Point)
		}
		for _, o := range d.Outputs {
			obs, ok := run.Outputs[o]
			if !ok {
				return fmt.Errorf("%w: run %d missing output %q", ErrInvalidDesign, i, o)
			}
			if !finite(obs.Mean) || !finite(obs.Variability) || obs.Variability < 0 {
				return fmt.Errorf("%w: run %d output %q not finite: %+v", ErrInvalidDesign, i, o, obs)
			}
		}
	}
	return nil
}

// Points returns the run inputs.
func (d Design) Points() []Point {
	out := make([]Point, len(d.Runs))
	for i, r := range d.Runs {
		out[i] = r.Point
	}
	return out
}

// Column returns the means and variabilities of one output.
func (d Design) Column(id OutputID) (mean, variability []float64) {
	mean = make([]float64, len(d.Runs))
	variability = make([]float64, len(d.Runs))
	for i, r := range d.Runs {
		obs := r.Outputs[id]
		mean[i] = obs.Mean
		variability[i] = obs.Variability
	}
	return mean, variability
}

// Subset returns the runs at idx, in idx order.
func (d Design) Subset(idx []int) Design {
	runs := make([]Run, len(idx))
	for i, j := range idx {
		runs[i] = d.Runs[j]
	}
	return Design{Ranges: d.Ranges, Outputs: d.Outputs, Runs: runs}
}

// Split partitions the runs into training and validation sets. frac is the
// training share; the shuffle is driven by rng.
func (d Design) Split(frac float64, rng *rand.Rand) (train, valid Design) {
	n := len(d.Runs)
	perm := rng.Perm(n)
	nTrain := int(math.Round(frac * float64(n)))
	if nTrain > n {
		nTrain = n
	}
	if nTrain < 0 {
		nTrain = 0
	}
	tr := append([]int(nil), perm[:nTrain]...)
	va := append([]int(nil), perm[nTrain:]...)
	sort.Ints(tr)
	sort.Ints(va)
	return d.Subset(tr), d.Subset(va)
}

// Append concatenates two designs over the same ranges and outputs.
func (d Design) Append(other Design) (Design, error) {
	if len(d.Runs) == 0 && len(d.Outputs) == 0 {
		return other, nil
	}
	if len(other.Ranges) != len(d.Ranges) || len(other.Outputs) != len(d.Outputs) {
		return Design{}, fmt.Errorf("%w: designs have different shape", ErrInvalidDesign)
	}
	for i, o := range d.Outputs {
		if other.Outputs[i] != o {
			return Design{}, fmt.Errorf("%w: output %d is %q, want %q", ErrInvalidDesign, i, other.Outputs[i], o)
		}
	}
	runs := make([]Run, 0, len(d.Runs)+len(other.Runs))
	runs = append(runs, d.Runs...)
	runs = append(runs, other.Runs...)
	return Design{Ranges: d.Ranges, Outputs: d.Outputs, Runs: runs}, nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
