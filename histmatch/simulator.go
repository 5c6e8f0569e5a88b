package histmatch

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/observe-l/hmcal/emulator"
	"github.com/observe-l/hmcal/internal/metrics"
)

//go:generate mockgen -destination ../internal/mocks/simulator.go -package mocks github.com/observe-l/hmcal/histmatch Simulator,Sampler

// Simulator is the black-box model being calibrated. Run must be safe for
// concurrent use and return a summary for every output it declares.
type Simulator interface {
	Outputs() []emulator.OutputID
	Run(ctx context.Context, p emulator.Point) (map[emulator.OutputID]emulator.Observation, error)
}

// Sampler generates space-filling designs over ranges.
type Sampler interface {
	Sample(n int, r emulator.Ranges) []emulator.Point
}

// Simulate runs sim at every point in parallel and collects a design whose
// runs follow the order of pts. The first simulator error cancels the rest.
func Simulate(ctx context.Context, sim Simulator, ranges emulator.Ranges, pts []emulator.Point, workers int, m *metrics.Metrics) (emulator.Design, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	runs := make([]emulator.Run, len(pts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, p := range pts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := sim.Run(gctx, p)
			m.SimulatorRun(err)
			if err != nil {
				return fmt.Errorf("simulate point %d %v: %w", i, p, err)
			}
			runs[i] = emulator.Run{Point: p, Outputs: out}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return emulator.Design{}, err
	}
	return emulator.NewDesign(ranges, sim.Outputs(), runs)
}
