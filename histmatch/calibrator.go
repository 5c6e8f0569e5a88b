package histmatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/observe-l/hmcal/emulator"
	"github.com/observe-l/hmcal/internal/lhs"
	"github.com/observe-l/hmcal/internal/metrics"
)

// Options configures a Calibrator.
type Options struct {
	Fit  emulator.FitOptions
	Rule Rule
	// Nuggets overrides the derived nugget per output.
	Nuggets       map[emulator.OutputID]float64
	TrainFraction float64
	Refocus       RefocusOptions
	Seed          int64
	Workers       int
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
}

func DefaultOptions() Options {
	return Options{
		Fit:           emulator.DefaultFitOptions(),
		Rule:          DefaultRule(),
		TrainFraction: 0.75,
		Refocus:       DefaultRefocusOptions(),
	}
}

// Calibrator drives the wave loop: simulate, fit, adjust, validate and
// refocus. It holds no per-run state; the History is owned by the caller.
type Calibrator struct {
	opts Options
	log  *zap.Logger
}

func NewCalibrator(opts Options) *Calibrator {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.TrainFraction <= 0 || opts.TrainFraction > 1 {
		opts.TrainFraction = 0.75
	}
	return &Calibrator{opts: opts, log: log}
}

func (c *Calibrator) Options() Options { return c.opts }

// Simulate runs sim at pts.
func (c *Calibrator) Simulate(ctx context.Context, sim Simulator, ranges emulator.Ranges, pts []emulator.Point) (emulator.Design, error) {
	start := time.Now()
	d, err := Simulate(ctx, sim, ranges, pts, c.opts.Workers, c.opts.Metrics)
	if err != nil {
		return d, err
	}
	c.log.Info("simulated", zap.Int("runs", d.Len()), zap.Duration("took", time.Since(start)))
	return d, nil
}

// RunWave splits design into training and validation runs, fits and
// adjusts one emulator per target output in parallel, and validates them on
// the held-out runs.
func (c *Calibrator) RunWave(ctx context.Context, index int, design emulator.Design, targets Targets) (*Wave, error) {
	start := time.Now()
	if err := targets.Validate(); err != nil {
		return nil, err
	}
	if err := targets.CheckDesign(design); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(c.opts.Seed + int64(index)))
	train, valid := design.Split(c.opts.TrainFraction, rng)

	ids := targets.Outputs()
	adjusted := make([]*emulator.Adjusted, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			a, err := c.fit(id, train)
			c.opts.Metrics.EmulatorFit(string(id), err)
			if err != nil {
				return fmt.Errorf("wave %d output %s: %w", index, id, err)
			}
			adjusted[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	ems := make(map[emulator.OutputID]*emulator.Adjusted, len(ids))
	for i, id := range ids {
		ems[id] = adjusted[i]
	}

	w, err := NewWave(index, ems, targets, train, valid)
	if err != nil {
		return nil, err
	}
	if valid.Len() > 0 {
		rep, err := Validate(ctx, ems, valid, targets, c.opts.Rule)
		if err != nil {
			return nil, err
		}
		w.Diagnostics = rep
		if !rep.Valid() {
			c.log.Warn("emulator diagnostics flagged held-out runs",
				zap.Int("wave", index),
				zap.Ints("invalid", rep.Invalid),
				zap.Ints("misclassified", rep.Misclassified))
		}
	}
	c.opts.Metrics.WaveBuilt(time.Since(start))
	c.log.Info("wave built",
		zap.Int("wave", index),
		zap.String("id", w.ID),
		zap.Int("train", train.Len()),
		zap.Int("valid", valid.Len()),
		zap.Duration("took", time.Since(start)))
	return w, nil
}

func (c *Calibrator) fit(id emulator.OutputID, train emulator.Design) (*emulator.Adjusted, error) {
	opts := c.opts.Fit
	opts.Logger = c.log.With(zap.String("output", string(id)))
	if v, ok := c.opts.Nuggets[id]; ok {
		opts.Nugget = v
	}
	e, err := emulator.Fit(id, train, opts)
	if err != nil {
		return nil, err
	}
	return emulator.Adjust(e, train)
}

// NextDesign draws n new non-implausible points using every wave of h.
// Errors wrapping ErrInsufficientAcceptedPoints come with the partial set.
func (c *Calibrator) NextDesign(ctx context.Context, h History, ranges emulator.Ranges, n int) ([]emulator.Point, error) {
	ro := c.opts.Refocus
	ro.Rule = c.opts.Rule
	ro.Existing = append(append([]emulator.Point(nil), ro.Existing...), h.Points()...)
	ro.Seed = c.opts.Seed + int64(len(h))*7919
	if ro.Workers <= 0 {
		ro.Workers = c.opts.Workers
	}
	if ro.Logger == nil {
		ro.Logger = c.log.Named("refocus")
	}
	if ro.Metrics == nil {
		ro.Metrics = c.opts.Metrics
	}
	return GenerateRuns(ctx, h.Terms(), ranges, n, ro)
}

// InitialDesign is the space-filling first-wave design.
func (c *Calibrator) InitialDesign(ranges emulator.Ranges, n int) []emulator.Point {
	return lhs.New(rand.New(rand.NewSource(c.opts.Seed)), 10).Sample(n, ranges)
}

// Run performs waves rounds starting from initial points and returns the
// history. A refocus shortfall is tolerated while enough points remain to
// fit the next wave; otherwise the history so far is returned with the
// error.
func (c *Calibrator) Run(ctx context.Context, sim Simulator, ranges emulator.Ranges, targets Targets, initial []emulator.Point, waves, perWave int) (History, error) {
	return c.run(ctx, sim, ranges, targets, nil, initial, waves, perWave, nil)
}

// Continue extends h until it holds waves waves, calling checkpoint after
// each new one. An empty h starts from InitialDesign.
func (c *Calibrator) Continue(ctx context.Context, sim Simulator, ranges emulator.Ranges, targets Targets, h History, waves, perWave int, checkpoint func(History) error) (History, error) {
	return c.run(ctx, sim, ranges, targets, h.Sorted(), nil, waves, perWave, checkpoint)
}

func (c *Calibrator) run(ctx context.Context, sim Simulator, ranges emulator.Ranges, targets Targets, h History, pts []emulator.Point, waves, perWave int, checkpoint func(History) error) (History, error) {
	deg := c.opts.Fit.Degree
	if deg == 0 {
		deg = emulator.Quadratic
	}
	minRuns := emulator.NewBasis(ranges.Dim(), deg).Len() + 1
	for len(h) < waves {
		index := 0
		if len(h) > 0 {
			index = h[len(h)-1].Index + 1
		}
		if pts == nil {
			if len(h) == 0 {
				pts = c.InitialDesign(ranges, perWave)
			} else {
				var err error
				pts, err = c.NextDesign(ctx, h, ranges, perWave)
				switch {
				case errors.Is(err, ErrInsufficientAcceptedPoints) && float64(len(pts))*c.opts.TrainFraction >= float64(minRuns):
					c.log.Warn("continuing with fewer points", zap.Int("wave", index), zap.Int("points", len(pts)), zap.Error(err))
				case err != nil:
					return h, err
				}
			}
		}
		design, err := c.Simulate(ctx, sim, ranges, pts)
		if err != nil {
			return h, err
		}
		wave, err := c.RunWave(ctx, index, design, targets)
		if err != nil {
			return h, err
		}
		h = h.Append(wave)
		pts = nil
		if checkpoint != nil {
			if err := checkpoint(h); err != nil {
				return h, err
			}
		}
	}
	return h, nil
}
