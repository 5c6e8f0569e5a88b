package emulator

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// coincideTol is the squared scaled distance below which two inputs are the
// same point for the nugget term.
const coincideTol = 1e-24

// Hyper holds the residual process hyperparameters.
type Hyper struct {
	// Sigma2 is the process variance σ_u².
	Sigma2 float64
	// Theta is the correlation length per input, in scaled [-1,1] units.
	// Entries for inactive inputs are ignored.
	Theta []float64
	// Nugget is the variance δ of the independent ensemble noise.
	Nugget float64
}

func (h Hyper) clone() Hyper {
	h.Theta = append([]float64(nil), h.Theta...)
	return h
}

func (h Hyper) validate(dim int) error {
	if len(h.Theta) != dim {
		return fmt.Errorf("%w: %d correlation lengths for %d inputs", ErrInvalidDesign, len(h.Theta), dim)
	}
	for i, t := range h.Theta {
		if !(t > 0) || !finite(t) {
			return fmt.Errorf("%w: correlation length %d is %v", ErrSingularCovariance, i, t)
		}
	}
	if !(h.Sigma2 >= 0) || !finite(h.Sigma2) {
		return fmt.Errorf("%w: process variance %v", ErrSingularCovariance, h.Sigma2)
	}
	if !(h.Nugget >= 0) || !finite(h.Nugget) {
		return fmt.Errorf("%w: nugget %v", ErrSingularCovariance, h.Nugget)
	}
	return nil
}

// FitOptions configures Fit.
type FitOptions struct {
	Degree Degree
	// Significance is the p-value threshold for active inputs.
	Significance float64
	// Nugget is δ. Negative means the mean squared ensemble variability of
	// the training runs.
	Nugget float64
	// Theta and Sigma2 override the heuristic or estimated values when set.
	Theta  []float64
	Sigma2 float64
	// EstimateHyper maximises the residual likelihood over θ and σ_u².
	EstimateHyper bool
	// RandomBeta treats the regression coefficients as uncertain, adding
	// g(x)ᵀV_βg(x') to the prior covariance.
	RandomBeta bool
	// Ridge is the relative diagonal jitter tried when the training
	// covariance is singular. Zero disables regularisation.
	Ridge  float64
	Logger *zap.Logger
}

func DefaultFitOptions() FitOptions {
	return FitOptions{
		Degree:        Quadratic,
		Significance:  0.05,
		Nugget:        -1,
		EstimateHyper: true,
		Ridge:         1e-8,
	}
}

// Emulator is a fitted, unadjusted emulator for one output. It is
// immutable; WithHyper returns modified copies.
type Emulator struct {
	output     OutputID
	ranges     Ranges
	degree     Degree
	reg        *Regression
	hyper      Hyper
	randomBeta bool
	ridge      float64
	train      Design
}

// Fit builds the emulator for output from the training design.
func Fit(output OutputID, d Design, opts FitOptions) (*Emulator, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if !hasOutput(d, output) {
		return nil, fmt.Errorf("%w: output %q not in design", ErrInvalidDesign, output)
	}
	if opts.Degree == 0 {
		opts.Degree = Quadratic
	}
	if opts.Significance <= 0 {
		opts.Significance = 0.05
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("output", string(output)))

	u := scaleAll(d.Ranges, d.Points())
	y, variability := d.Column(output)
	reg, err := FitRegression(u, y, opts.Degree, opts.Significance)
	if err != nil {
		return nil, fmt.Errorf("fit %s: %w", output, err)
	}

	nugget := opts.Nugget
	if nugget < 0 {
		sq := make([]float64, len(variability))
		for i, v := range variability {
			sq[i] = v * v
		}
		nugget = stat.Mean(sq, nil)
	}
	dim := d.Ranges.Dim()
	h := Hyper{
		Sigma2: defaultSigma2(reg.ResidualVar, nugget, y),
		Theta:  defaultTheta(dim, opts.Degree),
		Nugget: nugget,
	}
	if opts.EstimateHyper {
		resid := make([]float64, len(y))
		for i := range y {
			resid[i] = y[i] - reg.Mean(u[i])
		}
		h = estimateHyper(u, resid, reg.Active, h, log)
	}
	if len(opts.Theta) > 0 {
		h.Theta = append([]float64(nil), opts.Theta...)
	}
	if opts.Sigma2 > 0 {
		h.Sigma2 = opts.Sigma2
	}
	if err := h.validate(dim); err != nil {
		return nil, fmt.Errorf("fit %s: %w", output, err)
	}
	log.Debug("emulator fitted",
		zap.Int("points", d.Len()),
		zap.Stringer("degree", opts.Degree),
		zap.Float64("sigma2", h.Sigma2),
		zap.Float64("nugget", h.Nugget),
		zap.Float64s("theta", h.Theta),
		zap.Int("active", countTrue(reg.Active)),
	)
	return &Emulator{
		output:     output,
		ranges:     append(Ranges(nil), d.Ranges...),
		degree:     opts.Degree,
		reg:        reg,
		hyper:      h,
		randomBeta: opts.RandomBeta,
		ridge:      opts.Ridge,
		train:      d,
	}, nil
}

func defaultTheta(dim int, deg Degree) []float64 {
	t := make([]float64, dim)
	for i := range t {
		t[i] = 2 / float64(int(deg)+1)
	}
	return t
}

// defaultSigma2 attributes the residual variance not explained by the
// nugget to the correlated process, with a floor so the process never
// vanishes.
func defaultSigma2(residualVar, nugget float64, y []float64) float64 {
	s := residualVar - nugget
	floor := 0.1 * residualVar
	if s < floor {
		s = floor
	}
	if lo := 1e-10 * (1 + stat.Variance(y, nil)); s < lo || math.IsNaN(s) {
		s = lo
	}
	return s
}

func (e *Emulator) Output() OutputID { return e.output }
func (e *Emulator) Ranges() Ranges { return e.ranges }
func (e *Emulator) Degree() Degree { return e.degree }
func (e *Emulator) Regression() *Regression { return e.reg }
func (e *Emulator) Hyper() Hyper { return e.hyper.clone() }
func (e *Emulator) RandomBeta() bool { return e.randomBeta }
func (e *Emulator) TrainingDesign() Design { return e.train }
func (e *Emulator) Active() []bool { return append([]bool(nil), e.reg.Active...) }

// WithHyper returns a copy of e using h.
func (e *Emulator) WithHyper(h Hyper) (*Emulator, error) {
	if err := h.validate(e.ranges.Dim()); err != nil {
		return nil, err
	}
	c := *e
	c.hyper = h.clone()
	return &c, nil
}

// PriorMean is the trend g(x)ᵀβ before adjustment.
func (e *Emulator) PriorMean(p Point) float64 {
	return e.reg.Mean(e.ranges.Scale(nil, p))
}

// PriorVariance is σ_u² + δ, plus the trend uncertainty for random β.
func (e *Emulator) PriorVariance(p Point) float64 {
	u := e.ranges.Scale(nil, p)
	return e.covariance(u, u, true)
}

// Covariance is the prior covariance between the outputs at p and q.
func (e *Emulator) Covariance(p, q Point) float64 {
	u := e.ranges.Scale(nil, p)
	v := e.ranges.Scale(nil, q)
	return e.covariance(u, v, coincident(u, v))
}

func (e *Emulator) covariance(u, v []float64, same bool) float64 {
	c := e.hyper.Sigma2 * e.correlation(u, v)
	if same {
		c += e.hyper.Nugget
	}
	if e.randomBeta {
		c += e.reg.TrendCovariance(u, v)
	}
	return c
}

// correlation is the squared-exponential correlation over active inputs.
func (e *Emulator) correlation(u, v []float64) float64 {
	return sqExp(u, v, e.hyper.Theta, e.reg.Active)
}

func sqExp(u, v, theta []float64, active []bool) float64 {
	s := 0.0
	for k := range u {
		if !active[k] {
			continue
		}
		d := (u[k] - v[k]) / theta[k]
		s += d * d
	}
	return math.Exp(-s)
}

func coincident(u, v []float64) bool {
	s := 0.0
	for k := range u {
		d := u[k] - v[k]
		s += d * d
	}
	return s < coincideTol
}

func scaleAll(r Ranges, pts []Point) [][]float64 {
	out := make([][]float64, len(pts))
	for i, p := range pts {
		out[i] = r.Scale(nil, p)
	}
	return out
}

func hasOutput(d Design, id OutputID) bool {
	for _, o := range d.Outputs {
		if o == id {
			return true
		}
	}
	return false
}

func countTrue(b []bool) int {
	n := 0
	for _, v := range b {
		if v {
			n++
		}
	}
	return n
}
