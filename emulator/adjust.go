package emulator

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const maxRidgeSteps = 5

// Adjusted is an emulator after Bayes linear adjustment by its training
// design. It is immutable and safe for concurrent use.
type Adjusted struct {
	base  *Emulator
	train Design
	u     [][]float64
	chol  mat.Cholesky
	// w is K⁻¹(y - E[y]).
	w     *mat.VecDense
	ridge float64
}

// Adjust conditions e on the observed outputs of d. The adjusted
// expectation reproduces every training value and the adjusted variance
// vanishes at the training points.
func Adjust(e *Emulator, d Design) (*Adjusted, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if !hasOutput(d, e.output) {
		return nil, fmt.Errorf("%w: output %q not in design", ErrInvalidDesign, e.output)
	}
	n := d.Len()
	if n == 0 {
		return nil, fmt.Errorf("%w: empty design", ErrInvalidDesign)
	}
	u := scaleAll(e.ranges, d.Points())
	y, _ := d.Column(e.output)

	k := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			c := e.covariance(u[i], u[j], i == j)
			if !finite(c) {
				return nil, fmt.Errorf("%w: covariance (%d,%d) is %v", ErrSingularCovariance, i, j, c)
			}
			k.SetSym(i, j, c)
		}
	}

	a := &Adjusted{base: e, train: d, u: u}
	ok := a.chol.Factorize(k)
	if !ok {
		if e.ridge <= 0 {
			return nil, fmt.Errorf("adjust %s: %w", e.output, ErrSingularCovariance)
		}
		scale := e.hyper.Sigma2 + e.hyper.Nugget
		if scale <= 0 {
			scale = 1
		}
		jitter := e.ridge * scale
		for step := 0; step < maxRidgeSteps && !ok; step++ {
			kr := mat.NewSymDense(n, nil)
			kr.CopySym(k)
			for i := 0; i < n; i++ {
				kr.SetSym(i, i, k.At(i, i)+jitter)
			}
			ok = a.chol.Factorize(kr)
			if ok {
				a.ridge = jitter
			}
			jitter *= 10
		}
		if !ok {
			return nil, fmt.Errorf("adjust %s: %w after ridge %.3g", e.output, ErrSingularCovariance, jitter/10)
		}
	}

	r := mat.NewVecDense(n, nil)
	for i := range y {
		r.SetVec(i, y[i]-e.reg.Mean(u[i]))
	}
	a.w = mat.NewVecDense(n, nil)
	if err := a.chol.SolveVecTo(a.w, r); err != nil {
		return nil, fmt.Errorf("adjust %s: %w: %v", e.output, ErrSingularCovariance, err)
	}
	for i := 0; i < n; i++ {
		if !finite(a.w.AtVec(i)) {
			return nil, fmt.Errorf("adjust %s: %w: non-finite weights", e.output, ErrSingularCovariance)
		}
	}
	return a, nil
}

func (a *Adjusted) Output() OutputID { return a.base.output }

// Base returns the unadjusted emulator.
func (a *Adjusted) Base() *Emulator { return a.base }

func (a *Adjusted) Training() Design { return a.train }

func (a *Adjusted) Ranges() Ranges { return a.base.ranges }

// Ridge is the diagonal jitter used to factorise the training covariance.
func (a *Adjusted) Ridge() float64 { return a.ridge }

// Expectation is the adjusted expectation at p.
func (a *Adjusted) Expectation(p Point) float64 {
	m, _ := a.predict(p, false)
	return m
}

// Variance is the adjusted variance at p.
func (a *Adjusted) Variance(p Point) float64 {
	_, v := a.predict(p, true)
	return v
}

// Predict returns the adjusted expectation and variance at p.
func (a *Adjusted) Predict(p Point) (mean, variance float64) {
	return a.predict(p, true)
}

func (a *Adjusted) predict(p Point, wantVar bool) (float64, float64) {
	e := a.base
	x := e.ranges.Scale(nil, p)
	n := len(a.u)
	kx := mat.NewVecDense(n, nil)
	// At a training input kx is a column of K, so K⁻¹kx is a unit vector.
	for i, ui := range a.u {
		kx.SetVec(i, e.covariance(x, ui, coincident(x, ui)))
	}
	mean := e.reg.Mean(x) + mat.Dot(kx, a.w)
	if !wantVar {
		return mean, 0
	}
	var s mat.VecDense
	if err := a.chol.SolveVecTo(&s, kx); err != nil {
		return mean, e.covariance(x, x, true)
	}
	v := e.covariance(x, x, true) - mat.Dot(kx, &s)
	return mean, math.Max(v, 0)
}

// Perturb re-adjusts a variant with σ_u² scaled by varScale and every
// correlation length scaled by thetaScale. a is unchanged.
func (a *Adjusted) Perturb(varScale, thetaScale float64) (*Adjusted, error) {
	h := a.base.Hyper()
	h.Sigma2 *= varScale
	for i := range h.Theta {
		h.Theta[i] *= thetaScale
	}
	e, err := a.base.WithHyper(h)
	if err != nil {
		return nil, err
	}
	return Adjust(e, a.train)
}

// LeaveOneOut returns the standardised leave-one-out residual of every
// training point: (y_i - E_{-i}[y_i]) / sqrt(Var_{-i}[y_i]).
func (a *Adjusted) LeaveOneOut() ([]float64, error) {
	var inv mat.SymDense
	if err := a.chol.InverseTo(&inv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingularCovariance, err)
	}
	n := len(a.u)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		d := inv.At(i, i)
		if !(d > 0) {
			return nil, fmt.Errorf("%w: precision %d is %v", ErrSingularCovariance, i, d)
		}
		out[i] = a.w.AtVec(i) / math.Sqrt(d)
	}
	return out, nil
}
