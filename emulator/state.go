package emulator

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// State is the serialisable fitted state of an Emulator. Restoring a State
// and adjusting it with the stored training design reproduces the adjusted
// emulator exactly.
type State struct {
	Output      OutputID
	Ranges      Ranges
	Degree      Degree
	Beta        []float64
	StdErr      []float64
	PValue      []float64
	BetaCov     []float64 // row-major p×p
	ResidualVar float64
	DF          int
	Active      []bool
	Sigma2      float64
	Theta       []float64
	Nugget      float64
	RandomBeta  bool
	Ridge       float64
	Training    Design
}

func (e *Emulator) State() State {
	p := e.reg.Basis.Len()
	cov := make([]float64, 0, p*p)
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			cov = append(cov, e.reg.BetaCov.At(i, j))
		}
	}
	return State{
		Output:      e.output,
		Ranges:      append(Ranges(nil), e.ranges...),
		Degree:      e.degree,
		Beta:        append([]float64(nil), e.reg.Beta...),
		StdErr:      append([]float64(nil), e.reg.StdErr...),
		PValue:      append([]float64(nil), e.reg.PValue...),
		BetaCov:     cov,
		ResidualVar: e.reg.ResidualVar,
		DF:          e.reg.DF,
		Active:      append([]bool(nil), e.reg.Active...),
		Sigma2:      e.hyper.Sigma2,
		Theta:       append([]float64(nil), e.hyper.Theta...),
		Nugget:      e.hyper.Nugget,
		RandomBeta:  e.randomBeta,
		Ridge:       e.ridge,
		Training:    e.train,
	}
}

// Restore rebuilds an Emulator from s without refitting.
func Restore(s State) (*Emulator, error) {
	if err := s.Ranges.Validate(); err != nil {
		return nil, err
	}
	dim := s.Ranges.Dim()
	basis := NewBasis(dim, s.Degree)
	p := basis.Len()
	if len(s.Beta) != p || len(s.StdErr) != p || len(s.PValue) != p || len(s.BetaCov) != p*p {
		return nil, fmt.Errorf("%w: state for %q has %d coefficients, want %d", ErrInvalidDesign, s.Output, len(s.Beta), p)
	}
	if len(s.Active) != dim {
		return nil, fmt.Errorf("%w: state for %q has %d active flags, want %d", ErrInvalidDesign, s.Output, len(s.Active), dim)
	}
	h := Hyper{Sigma2: s.Sigma2, Theta: append([]float64(nil), s.Theta...), Nugget: s.Nugget}
	if err := h.validate(dim); err != nil {
		return nil, err
	}
	cov := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			cov.SetSym(i, j, s.BetaCov[i*p+j])
		}
	}
	reg := &Regression{
		Basis:       basis,
		Beta:        append([]float64(nil), s.Beta...),
		StdErr:      append([]float64(nil), s.StdErr...),
		PValue:      append([]float64(nil), s.PValue...),
		ResidualVar: s.ResidualVar,
		DF:          s.DF,
		BetaCov:     cov,
		Active:      append([]bool(nil), s.Active...),
	}
	return &Emulator{
		output:     s.Output,
		ranges:     append(Ranges(nil), s.Ranges...),
		degree:     s.Degree,
		reg:        reg,
		hyper:      h,
		randomBeta: s.RandomBeta,
		ridge:      s.Ridge,
		train:      s.Training,
	}, nil
}
