// Package rpc serves read-only queries against a persisted wave history:
// emulator predictions and implausibility of arbitrary points.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/observe-l/hmcal/emulator"
	"github.com/observe-l/hmcal/histmatch"
)

var (
	ErrNoHistory = errors.New("no waves loaded")
	ErrNoWave    = errors.New("unknown wave")
	ErrBadPoint  = errors.New("bad point")
)

type Prediction struct {
	Output   emulator.OutputID
	Mean     float64
	Variance float64
}

type WaveScore struct {
	Index     int
	ID        string
	Score     float64
	Plausible bool
	// Scores is per output, in the order of Outputs.
	Outputs []emulator.OutputID
	Scores  []float64
}

// Verdict is the implausibility of one point under every wave up to and
// including the last one requested. Score pools the terms of all those waves
// into one nth maximum, the same rule that refocuses designs; Waves is the
// per-wave breakdown.
type Verdict struct {
	Waves     []WaveScore
	Score     float64
	Plausible bool
}

type WaveInfo struct {
	Index   int
	ID      string
	Outputs []emulator.OutputID
	Train   int
	Valid   int
}

// HistoryServer answers queries over a History. The history can be swapped
// at runtime; queries in flight keep the snapshot they started with.
type HistoryServer struct {
	rule histmatch.Rule
	log  *zap.Logger

	mu     sync.RWMutex
	h      histmatch.History
	ranges emulator.Ranges
	evals  []*histmatch.Evaluator
	// pooled[i] holds the terms of waves 0..i.
	pooled []*histmatch.Evaluator
}

func NewHistoryServer(h histmatch.History, rule histmatch.Rule, log *zap.Logger) *HistoryServer {
	if log == nil {
		log = zap.NewNop()
	}
	s := &HistoryServer{rule: rule, log: log}
	s.Swap(h)
	return s
}

// Swap replaces the served history.
func (s *HistoryServer) Swap(h histmatch.History) {
	h = h.Sorted()
	evals := make([]*histmatch.Evaluator, len(h))
	pooled := make([]*histmatch.Evaluator, len(h))
	for i, w := range h {
		evals[i] = &histmatch.Evaluator{Terms: w.Terms(), Rule: s.rule, Workers: 1}
		pooled[i] = &histmatch.Evaluator{Terms: h[:i+1].Terms(), Rule: s.rule, Workers: 1}
	}
	var ranges emulator.Ranges
	if len(h) > 0 {
		ranges = h[0].Train.Ranges
	}
	s.mu.Lock()
	s.h, s.evals, s.pooled, s.ranges = h, evals, pooled, ranges
	s.mu.Unlock()
	s.log.Info("history loaded", zap.Int("waves", len(h)))
}

type served struct {
	h      histmatch.History
	evals  []*histmatch.Evaluator
	pooled []*histmatch.Evaluator
	ranges emulator.Ranges
}

func (s *HistoryServer) snapshot() served {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return served{h: s.h, evals: s.evals, pooled: s.pooled, ranges: s.ranges}
}

func (s *HistoryServer) Rule() histmatch.Rule { return s.rule }

func (s *HistoryServer) Ranges() emulator.Ranges {
	return s.snapshot().ranges
}

func (s *HistoryServer) Info(ctx context.Context) ([]WaveInfo, error) {
	h := s.snapshot().h
	out := make([]WaveInfo, len(h))
	for i, w := range h {
		out[i] = WaveInfo{Index: w.Index, ID: w.ID, Outputs: w.Outputs(), Train: w.Train.Len(), Valid: w.Valid.Len()}
	}
	return out, nil
}

func (s *HistoryServer) point(ranges emulator.Ranges, named map[string]float64) (emulator.Point, error) {
	p, err := ranges.Point(named)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPoint, err)
	}
	if !ranges.Contains(p) {
		return nil, fmt.Errorf("%w: %v outside the input space", ErrBadPoint, named)
	}
	return p, nil
}

// position maps a wave index to its slot; a negative index selects the
// latest wave.
func position(h histmatch.History, index int) (int, error) {
	if len(h) == 0 {
		return 0, ErrNoHistory
	}
	if index < 0 {
		return len(h) - 1, nil
	}
	for i, w := range h {
		if w.Index == index {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %d", ErrNoWave, index)
}

// Predict returns every emulator's adjusted mean and variance at the named
// point for one wave.
func (s *HistoryServer) Predict(ctx context.Context, wave int, named map[string]float64) (int, []Prediction, error) {
	snap := s.snapshot()
	h := snap.h
	pos, err := position(h, wave)
	if err != nil {
		return 0, nil, err
	}
	p, err := s.point(snap.ranges, named)
	if err != nil {
		return 0, nil, err
	}
	w := h[pos]
	var out []Prediction
	for _, id := range w.Outputs() {
		if err := ctx.Err(); err != nil {
			return 0, nil, err
		}
		m, v := w.Emulators[id].Predict(p)
		out = append(out, Prediction{Output: id, Mean: m, Variance: v})
	}
	return w.Index, out, nil
}

// Implausibility scores the named point under waves up to upTo (negative
// for all of them).
func (s *HistoryServer) Implausibility(ctx context.Context, upTo int, named map[string]float64) (*Verdict, error) {
	snap := s.snapshot()
	h, evals := snap.h, snap.evals
	last, err := position(h, upTo)
	if err != nil {
		return nil, err
	}
	p, err := s.point(snap.ranges, named)
	if err != nil {
		return nil, err
	}
	v := &Verdict{Score: snap.pooled[last].Score(p)}
	v.Plausible = v.Score <= s.rule.Cutoff
	for i := 0; i <= last; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		scores := evals[i].Scores(p)
		outputs := make([]emulator.OutputID, len(evals[i].Terms))
		for k, t := range evals[i].Terms {
			outputs[k] = t.Emulator.Output()
		}
		score := histmatch.NthMax(scores, s.rule.Nth)
		v.Waves = append(v.Waves, WaveScore{
			Index:     h[i].Index,
			ID:        h[i].ID,
			Score:     score,
			Plausible: score <= s.rule.Cutoff,
			Outputs:   outputs,
			Scores:    scores,
		})
	}
	return v, nil
}
