package histmatch

import (
	"fmt"
	"math"
	"sort"

	"github.com/observe-l/hmcal/emulator"
)

// Target is the observed value of one output and its standard deviation.
type Target struct {
	Value float64
	Sigma float64
}

// Targets maps outputs to their observations.
type Targets map[emulator.OutputID]Target

func (t Targets) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("%w: no targets", ErrInvalidTarget)
	}
	for id, tg := range t {
		if math.IsNaN(tg.Value) || math.IsInf(tg.Value, 0) {
			return fmt.Errorf("%w: %s value is %v", ErrInvalidTarget, id, tg.Value)
		}
		if !(tg.Sigma >= 0) || math.IsInf(tg.Sigma, 0) {
			return fmt.Errorf("%w: %s sigma is %v", ErrInvalidTarget, id, tg.Sigma)
		}
	}
	return nil
}

// Outputs returns the target outputs in sorted order.
func (t Targets) Outputs() []emulator.OutputID {
	out := make([]emulator.OutputID, 0, len(t))
	for id := range t {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CheckDesign fails when a target names an output the design lacks.
func (t Targets) CheckDesign(d emulator.Design) error {
	have := make(map[emulator.OutputID]bool, len(d.Outputs))
	for _, o := range d.Outputs {
		have[o] = true
	}
	for _, id := range t.Outputs() {
		if !have[id] {
			return fmt.Errorf("%w: output %q not produced by the simulator", ErrInvalidTarget, id)
		}
	}
	return nil
}
