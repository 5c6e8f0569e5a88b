package sim

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"strconv"

	"github.com/observe-l/hmcal/emulator"
)

const maxEvents = 50_000_000

var errTooManyEvents = errors.New("sirs: event budget exhausted")

// Params are the SIRS rates: infection, recovery, waning immunity and
// per-capita birth/death.
type Params struct {
	Beta  float64
	Gamma float64
	Delta float64
	Mu    float64
}

// ParamNames is the input order expected by SIRS.Run.
var ParamNames = []string{"beta", "gamma", "delta", "mu"}

func ParamsFrom(p emulator.Point) (Params, error) {
	if len(p) != len(ParamNames) {
		return Params{}, fmt.Errorf("sirs: want %d parameters %v, got %d", len(ParamNames), ParamNames, len(p))
	}
	for i, v := range p {
		if !(v >= 0) || math.IsInf(v, 0) {
			return Params{}, fmt.Errorf("sirs: %s = %v", ParamNames[i], v)
		}
	}
	return Params{Beta: p[0], Gamma: p[1], Delta: p[2], Mu: p[3]}, nil
}

// Scenario is the fixed part of an epidemic experiment.
type Scenario struct {
	Population int
	Infected0  int
	Recovered0 int
	// Times are the observation times; outputs are named I<t> and R<t>.
	Times []float64
	Reps  int
	// SpreadFactor is k in sd/sqrt(reps) + k·(max-min).
	SpreadFactor float64
	Seed         int64
}

func DefaultScenario() Scenario {
	return Scenario{
		Population:   1000,
		Infected0:    50,
		Times:        []float64{20, 40, 100},
		Reps:         10,
		SpreadFactor: 0.03,
	}
}

func (s Scenario) Validate() error {
	if s.Population <= 0 {
		return fmt.Errorf("sirs: population %d", s.Population)
	}
	if s.Infected0 < 0 || s.Recovered0 < 0 || s.Infected0+s.Recovered0 > s.Population {
		return fmt.Errorf("sirs: initial state I=%d R=%d exceeds population %d", s.Infected0, s.Recovered0, s.Population)
	}
	if len(s.Times) == 0 {
		return fmt.Errorf("sirs: no observation times")
	}
	for i, t := range s.Times {
		if !(t >= 0) || (i > 0 && t <= s.Times[i-1]) {
			return fmt.Errorf("sirs: observation times must be increasing and non-negative: %v", s.Times)
		}
	}
	if s.Reps <= 0 {
		return fmt.Errorf("sirs: reps %d", s.Reps)
	}
	if s.SpreadFactor < 0 {
		return fmt.Errorf("sirs: spread factor %v", s.SpreadFactor)
	}
	return nil
}

// InfectedID and RecoveredID name the outputs observed at time t.
func InfectedID(t float64) emulator.OutputID {
	return emulator.OutputID("I" + strconv.FormatFloat(t, 'g', -1, 64))
}

func RecoveredID(t float64) emulator.OutputID {
	return emulator.OutputID("R" + strconv.FormatFloat(t, 'g', -1, 64))
}

// SIRS is a stochastic SIRS model with births and deaths simulated with
// Gillespie's direct method. Each Run is an ensemble of Reps replicates
// seeded from the point and Scenario.Seed, so it is reproducible and safe
// for concurrent use.
type SIRS struct {
	sc      Scenario
	outputs []emulator.OutputID
}

func NewSIRS(sc Scenario) (*SIRS, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	s := &SIRS{sc: sc}
	for _, t := range sc.Times {
		s.outputs = append(s.outputs, InfectedID(t))
	}
	for _, t := range sc.Times {
		s.outputs = append(s.outputs, RecoveredID(t))
	}
	return s, nil
}

func (s *SIRS) Scenario() Scenario { return s.sc }

func (s *SIRS) Outputs() []emulator.OutputID {
	return append([]emulator.OutputID(nil), s.outputs...)
}

// Run simulates the ensemble at p and summarises every output.
func (s *SIRS) Run(ctx context.Context, p emulator.Point) (map[emulator.OutputID]emulator.Observation, error) {
	par, err := ParamsFrom(p)
	if err != nil {
		return nil, err
	}
	nt := len(s.sc.Times)
	reps := make([][]float64, len(s.outputs))
	for i := range reps {
		reps[i] = make([]float64, s.sc.Reps)
	}
	seed := pointSeed(p, s.sc.Seed)
	for r := 0; r < s.sc.Reps; r++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rng := rand.New(rand.NewSource(seed + int64(r)))
		inf, rec, err := s.trajectory(par, rng)
		if err != nil {
			return nil, fmt.Errorf("replicate %d at %v: %w", r, p, err)
		}
		for k := 0; k < nt; k++ {
			reps[k][r] = inf[k]
			reps[nt+k][r] = rec[k]
		}
	}
	out := make(map[emulator.OutputID]emulator.Observation, len(s.outputs))
	for i, id := range s.outputs {
		out[id] = Summarize(reps[i], s.sc.SpreadFactor)
	}
	return out, nil
}

// trajectory runs one replicate and returns I and R at every observation
// time.
func (s *SIRS) trajectory(p Params, rng *rand.Rand) (inf, rec []float64, err error) {
	S := float64(s.sc.Population - s.sc.Infected0 - s.sc.Recovered0)
	I := float64(s.sc.Infected0)
	R := float64(s.sc.Recovered0)
	times := s.sc.Times
	inf = make([]float64, len(times))
	rec = make([]float64, len(times))

	t, next := 0.0, 0
	for events := 0; next < len(times); events++ {
		if events > maxEvents {
			return nil, nil, errTooManyEvents
		}
		N := S + I + R
		var infection float64
		if N > 0 {
			infection = p.Beta * S * I / N
		}
		rates := [...]float64{
			infection,   // S -> I
			p.Gamma * I, // I -> R
			p.Delta * R, // R -> S
			p.Mu * N,    // birth into S
			p.Mu * S,    // death from S
			p.Mu * I,    // death from I
			p.Mu * R,    // death from R
		}
		total := 0.0
		for _, r := range rates {
			total += r
		}
		dt := math.Inf(1)
		if total > 0 {
			dt = rng.ExpFloat64() / total
		}
		for next < len(times) && times[next] < t+dt {
			inf[next], rec[next] = I, R
			next++
		}
		if math.IsInf(dt, 1) {
			break
		}
		t += dt

		u := rng.Float64() * total
		ev := 0
		for ev < len(rates)-1 && u >= rates[ev] {
			u -= rates[ev]
			ev++
		}
		for ev > 0 && rates[ev] == 0 {
			ev--
		}
		switch ev {
		case 0:
			S, I = S-1, I+1
		case 1:
			I, R = I-1, R+1
		case 2:
			R, S = R-1, S+1
		case 3:
			S++
		case 4:
			S--
		case 5:
			I--
		case 6:
			R--
		}
	}
	return inf, rec, nil
}

// pointSeed hashes the exact bits of p together with base.
func pointSeed(p emulator.Point, base int64) int64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, v := range p {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	return int64(h.Sum64()>>1) ^ base
}
