package emulator

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Degree selects the regression surface.
type Degree int

const (
	Linear    Degree = 1
	Quadratic Degree = 2
)

func (d Degree) String() string {
	switch d {
	case Linear:
		return "linear"
	case Quadratic:
		return "quadratic"
	default:
		return fmt.Sprintf("degree(%d)", int(d))
	}
}

func ParseDegree(s string) (Degree, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "linear", "1":
		return Linear, nil
	case "quadratic", "2":
		return Quadratic, nil
	}
	return 0, fmt.Errorf("unknown degree %q", s)
}

// maxCond bounds the condition number of GᵀG before the fit is declared
// rank deficient.
const maxCond = 1e13

// Term is a monomial in the scaled inputs. A and B are input indices, -1
// when absent: {-1,-1} is the intercept, {i,-1} is x_i, {i,j} is x_i·x_j.
type Term struct {
	A, B int
}

func (t Term) Uses(i int) bool { return t.A == i || t.B == i }

func (t Term) IsIntercept() bool { return t.A < 0 && t.B < 0 }

func (t Term) Label(names []string) string {
	name := func(i int) string {
		if i < len(names) {
			return names[i]
		}
		return fmt.Sprintf("x%d", i)
	}
	switch {
	case t.IsIntercept():
		return "(Intercept)"
	case t.B < 0:
		return name(t.A)
	case t.A == t.B:
		return "I(" + name(t.A) + "^2)"
	default:
		return name(t.A) + ":" + name(t.B)
	}
}

// Basis is the ordered list of regression terms g(x).
type Basis struct {
	Dim   int
	Terms []Term
}

// NewBasis returns {1, x_1..x_d} and, for Quadratic, every square and
// pairwise product.
func NewBasis(dim int, deg Degree) Basis {
	terms := []Term{{-1, -1}}
	for i := 0; i < dim; i++ {
		terms = append(terms, Term{i, -1})
	}
	if deg == Quadratic {
		for i := 0; i < dim; i++ {
			for j := i; j < dim; j++ {
				terms = append(terms, Term{i, j})
			}
		}
	}
	return Basis{Dim: dim, Terms: terms}
}

func (b Basis) Len() int { return len(b.Terms) }

// Eval writes g(u) into dst and returns it.
func (b Basis) Eval(dst, u []float64) []float64 {
	if len(dst) != len(b.Terms) {
		dst = make([]float64, len(b.Terms))
	}
	for k, t := range b.Terms {
		v := 1.0
		if t.A >= 0 {
			v *= u[t.A]
		}
		if t.B >= 0 {
			v *= u[t.B]
		}
		dst[k] = v
	}
	return dst
}

// Regression is an ordinary least squares fit of one output on a Basis.
type Regression struct {
	Basis       Basis
	Beta        []float64
	StdErr      []float64
	PValue      []float64
	ResidualVar float64
	DF          int
	// BetaCov is ResidualVar·(GᵀG)⁻¹.
	BetaCov *mat.SymDense
	// Active marks inputs with at least one significant term.
	Active []bool
}

// FitRegression regresses y on the basis evaluated at the scaled inputs u.
// At least one residual degree of freedom is required.
func FitRegression(u [][]float64, y []float64, deg Degree, significance float64) (*Regression, error) {
	if len(u) != len(y) {
		return nil, fmt.Errorf("%w: %d inputs, %d outputs", ErrInvalidDesign, len(u), len(y))
	}
	if len(u) == 0 {
		return nil, fmt.Errorf("%w: no training points", ErrDegenerateRegression)
	}
	basis := NewBasis(len(u[0]), deg)
	n, p := len(u), basis.Len()
	if n <= p {
		return nil, fmt.Errorf("%w: %d points for %d %s terms leaves no residual degree of freedom", ErrDegenerateRegression, n, p, deg)
	}

	g := mat.NewDense(n, p, nil)
	row := make([]float64, p)
	for i := range u {
		row = basis.Eval(row, u[i])
		g.SetRow(i, row)
	}
	var gtg mat.SymDense
	gtg.SymOuterK(1, g.T())
	var chol mat.Cholesky
	if ok := chol.Factorize(&gtg); !ok {
		return nil, fmt.Errorf("%w: normal equations not positive definite", ErrDegenerateRegression)
	}
	if c := chol.Cond(); c > maxCond || math.IsNaN(c) {
		return nil, fmt.Errorf("%w: condition number %.3g", ErrDegenerateRegression, c)
	}

	yv := mat.NewVecDense(n, append([]float64(nil), y...))
	var gty mat.VecDense
	gty.MulVec(g.T(), yv)
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &gty); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDegenerateRegression, err)
	}

	var fitted mat.VecDense
	fitted.MulVec(g, &beta)
	rss := 0.0
	for i := 0; i < n; i++ {
		r := y[i] - fitted.AtVec(i)
		rss += r * r
	}
	df := n - p
	s2 := rss / float64(df)

	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDegenerateRegression, err)
	}
	cov := mat.NewSymDense(p, nil)
	cov.ScaleSym(s2, &inv)

	reg := &Regression{
		Basis:       basis,
		Beta:        make([]float64, p),
		StdErr:      make([]float64, p),
		PValue:      make([]float64, p),
		ResidualVar: s2,
		DF:          df,
		BetaCov:     cov,
	}
	tdist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(df)}
	for j := 0; j < p; j++ {
		b := beta.AtVec(j)
		if !finite(b) {
			return nil, fmt.Errorf("%w: coefficient %s is %v", ErrDegenerateRegression, basis.Terms[j].Label(nil), b)
		}
		reg.Beta[j] = b
		se := math.Sqrt(math.Max(cov.At(j, j), 0))
		reg.StdErr[j] = se
		switch {
		case se == 0 && b == 0:
			reg.PValue[j] = 1
		case se == 0:
			reg.PValue[j] = 0
		default:
			reg.PValue[j] = 2 * tdist.Survival(math.Abs(b/se))
		}
	}
	if !finite(s2) {
		return nil, fmt.Errorf("%w: residual variance %v", ErrDegenerateRegression, s2)
	}
	reg.Active = activeInputs(basis, reg.PValue, significance)
	return reg, nil
}

// activeInputs flags inputs with any significant non-intercept term. When
// nothing is significant every input stays active.
func activeInputs(b Basis, pvals []float64, significance float64) []bool {
	active := make([]bool, b.Dim)
	found := false
	for k, t := range b.Terms {
		if t.IsIntercept() || pvals[k] >= significance {
			continue
		}
		for i := 0; i < b.Dim; i++ {
			if t.Uses(i) {
				active[i] = true
				found = true
			}
		}
	}
	if !found {
		for i := range active {
			active[i] = true
		}
	}
	return active
}

// Mean returns g(u)ᵀβ.
func (r *Regression) Mean(u []float64) float64 {
	g := r.Basis.Eval(nil, u)
	m := 0.0
	for k, v := range g {
		m += v * r.Beta[k]
	}
	return m
}

// TrendCovariance returns g(u)ᵀ V_β g(u').
func (r *Regression) TrendCovariance(u, v []float64) float64 {
	if r.BetaCov == nil {
		return 0
	}
	gu := mat.NewVecDense(r.Basis.Len(), r.Basis.Eval(nil, u))
	gv := mat.NewVecDense(r.Basis.Len(), r.Basis.Eval(nil, v))
	return mat.Inner(gu, r.BetaCov, gv)
}
