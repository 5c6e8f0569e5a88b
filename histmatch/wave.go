package histmatch

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/observe-l/hmcal/emulator"
)

// Wave is one round of history matching: the adjusted emulators, the
// targets they are matched against and the designs used to build and check
// them. A Wave is not modified after NewWave returns.
type Wave struct {
	ID        string
	Index     int
	Emulators map[emulator.OutputID]*emulator.Adjusted
	Targets   Targets
	Train     emulator.Design
	Valid     emulator.Design
	// Diagnostics is the validation report on Valid, nil when Valid is empty.
	Diagnostics *Report
}

// NewWave checks that every target has an emulator and every emulator is
// keyed by its own output.
func NewWave(index int, ems map[emulator.OutputID]*emulator.Adjusted, targets Targets, train, valid emulator.Design) (*Wave, error) {
	if err := targets.Validate(); err != nil {
		return nil, err
	}
	for id, em := range ems {
		if em == nil || em.Output() != id {
			return nil, fmt.Errorf("%w: emulator keyed %q does not emulate it", ErrInvalidTarget, id)
		}
	}
	for _, id := range targets.Outputs() {
		if _, ok := ems[id]; !ok {
			return nil, fmt.Errorf("%w: no emulator for output %q", ErrInvalidTarget, id)
		}
	}
	return &Wave{
		ID:        uuid.NewString(),
		Index:     index,
		Emulators: ems,
		Targets:   targets,
		Train:     train,
		Valid:     valid,
	}, nil
}

// Outputs lists the matched outputs in sorted order.
func (w *Wave) Outputs() []emulator.OutputID {
	return w.Targets.Outputs()
}

// Terms pairs each matched emulator with its target.
func (w *Wave) Terms() []Term {
	ids := w.Outputs()
	out := make([]Term, 0, len(ids))
	for _, id := range ids {
		out = append(out, Term{Emulator: w.Emulators[id], Target: w.Targets[id]})
	}
	return out
}

// History is the caller-owned, ordered list of completed waves.
type History []*Wave

// Append returns a new History ending with w; h is not modified.
func (h History) Append(w *Wave) History {
	out := make(History, 0, len(h)+1)
	out = append(out, h...)
	return append(out, w)
}

// Terms returns the emulator/target pairs of every wave so far.
func (h History) Terms() []Term {
	var out []Term
	for _, w := range h {
		out = append(out, w.Terms()...)
	}
	return out
}

// Points returns every simulated input across all waves.
func (h History) Points() []emulator.Point {
	var out []emulator.Point
	for _, w := range h {
		out = append(out, w.Train.Points()...)
		out = append(out, w.Valid.Points()...)
	}
	return out
}

// Sorted returns the waves ordered by Index.
func (h History) Sorted() History {
	out := append(History(nil), h...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
