package sim

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/observe-l/hmcal/emulator"
)

// Summarize reduces replicate values to an observation: the ensemble mean
// and a variability of sd/sqrt(n) + k·(max-min).
func Summarize(reps []float64, k float64) emulator.Observation {
	switch len(reps) {
	case 0:
		return emulator.Observation{}
	case 1:
		return emulator.Observation{Mean: reps[0]}
	}
	mean, sd := stat.MeanStdDev(reps, nil)
	spread := floats.Max(reps) - floats.Min(reps)
	return emulator.Observation{
		Mean:        mean,
		Variability: sd/math.Sqrt(float64(len(reps))) + k*spread,
	}
}
