package emulator

import (
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

const (
	minTheta      = 0.05
	maxTheta      = 5.0
	maxHyperEvals = 2000
)

// estimateHyper maximises the Gaussian log-likelihood of the regression
// residuals over log θ (active inputs only) and log σ_u², holding the nugget
// fixed. It falls back to start when the optimiser does not improve on it.
func estimateHyper(u [][]float64, resid []float64, active []bool, start Hyper, log *zap.Logger) Hyper {
	var idx []int
	for k, a := range active {
		if a {
			idx = append(idx, k)
		}
	}
	scale := stat.Variance(resid, nil)
	if scale <= 0 {
		return start
	}
	loS, hiS := math.Log(1e-8*scale), math.Log(100*scale)
	loT, hiT := math.Log(minTheta), math.Log(maxTheta)

	decode := func(x []float64) Hyper {
		h := start.clone()
		for j, k := range idx {
			h.Theta[k] = math.Exp(clamp(x[j], loT, hiT))
		}
		h.Sigma2 = math.Exp(clamp(x[len(idx)], loS, hiS))
		return h
	}
	nll := func(x []float64) float64 {
		return negLogLik(u, resid, active, decode(x))
	}

	x0 := make([]float64, len(idx)+1)
	for j, k := range idx {
		x0[j] = math.Log(start.Theta[k])
	}
	x0[len(idx)] = math.Log(math.Max(start.Sigma2, math.Exp(loS)))
	f0 := nll(x0)

	res, err := optimize.Minimize(optimize.Problem{Func: nll}, x0, &optimize.Settings{FuncEvaluations: maxHyperEvals}, &optimize.NelderMead{})
	if res == nil || math.IsNaN(res.F) || math.IsInf(res.F, 0) || !(res.F < f0 || math.IsInf(f0, 1)) {
		log.Debug("hyperparameter search kept defaults", zap.Error(err), zap.Float64("nll0", f0))
		return start
	}
	h := decode(res.X)
	log.Debug("hyperparameters estimated",
		zap.Float64("nll0", f0),
		zap.Float64("nll", res.F),
		zap.Int("evals", res.Stats.FuncEvaluations),
	)
	return h
}

// negLogLik is ½(rᵀK⁻¹r + log|K|) for K = σ_u²C(θ) + δI.
func negLogLik(u [][]float64, r []float64, active []bool, h Hyper) float64 {
	n := len(u)
	k := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		k.SetSym(i, i, h.Sigma2+h.Nugget)
		for j := i + 1; j < n; j++ {
			k.SetSym(i, j, h.Sigma2*sqExp(u[i], u[j], h.Theta, active))
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(k); !ok {
		return math.Inf(1)
	}
	rv := mat.NewVecDense(n, append([]float64(nil), r...))
	var a mat.VecDense
	if err := chol.SolveVecTo(&a, rv); err != nil {
		return math.Inf(1)
	}
	v := 0.5 * (mat.Dot(rv, &a) + chol.LogDet())
	if math.IsNaN(v) {
		return math.Inf(1)
	}
	return v
}

func clamp(x, lo, hi float64) float64 {
	return math.Min(math.Max(x, lo), hi)
}
