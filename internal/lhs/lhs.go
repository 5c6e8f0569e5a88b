package lhs

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"github.com/observe-l/hmcal/emulator"
)

// Maximin draws Latin hypercube designs and keeps the candidate with the
// largest minimum pairwise distance (in scaled units). Not safe for
// concurrent use: it owns rng.
type Maximin struct {
	rng        *rand.Rand
	candidates int
}

func New(rng *rand.Rand, candidates int) *Maximin {
	if candidates <= 0 {
		candidates = 10
	}
	return &Maximin{rng: rng, candidates: candidates}
}

// Sample returns n points covering r.
func (m *Maximin) Sample(n int, r emulator.Ranges) []emulator.Point {
	if n <= 0 {
		return nil
	}
	var best [][]float64
	bestD := -1.0
	for c := 0; c < m.candidates; c++ {
		u := m.latin(n, r.Dim())
		d := minDistance(u)
		if d > bestD {
			best, bestD = u, d
		}
	}
	out := make([]emulator.Point, n)
	for i, ui := range best {
		out[i] = r.Unscale(ui)
	}
	return out
}

// latin returns n points in [-1,1]^dim with exactly one point per stratum
// in every dimension.
func (m *Maximin) latin(n, dim int) [][]float64 {
	u := make([][]float64, n)
	for i := range u {
		u[i] = make([]float64, dim)
	}
	for k := 0; k < dim; k++ {
		perm := m.rng.Perm(n)
		for i := 0; i < n; i++ {
			v := (float64(perm[i]) + m.rng.Float64()) / float64(n)
			u[i][k] = 2*v - 1
		}
	}
	return u
}

func minDistance(u [][]float64) float64 {
	d := math.Inf(1)
	for i := range u {
		for j := i + 1; j < len(u); j++ {
			if v := floats.Distance(u[i], u[j], 2); v < d {
				d = v
			}
		}
	}
	return d
}
