package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/observe-l/hmcal/emulator"
	"github.com/observe-l/hmcal/histmatch"
	"github.com/observe-l/hmcal/internal/config"
	"github.com/observe-l/hmcal/internal/lhs"
	"github.com/observe-l/hmcal/internal/logging"
	"github.com/observe-l/hmcal/internal/metrics"
	"github.com/observe-l/hmcal/internal/report"
	"github.com/observe-l/hmcal/internal/sim"
	"github.com/observe-l/hmcal/internal/wavecodec"
)

func main() {
	fs := flag.NewFlagSet("hmcal", flag.ExitOnError)
	config.RegisterFlags(fs)
	resume := fs.Bool("resume", false, "continue from <out>/history.json when present")
	simCmd := fs.String("sim-cmd", "", "external simulator executable (default: built-in SIRS)")
	simArgs := fs.StringSlice("sim-arg", nil, "leading arguments for --sim-cmd")
	simTimeout := fs.Duration("sim-timeout", 0, "per-run timeout for --sim-cmd")
	refPoints := fs.Int("reference-points", 2000, "Latin hypercube points used to measure the non-implausible fraction")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs, "")
	if err != nil {
		fatalf("%v", err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		fatalf("%v", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", zap.Error(err))
			}
		}()
		defer srv.Close()
		log.Info("serving metrics", zap.String("addr", cfg.MetricsAddr))
	}

	ranges := cfg.InputRanges()
	targets := cfg.TargetSet()
	simulator, err := newSimulator(cfg, *simCmd, *simArgs, *simTimeout)
	if err != nil {
		fatalf("%v", err)
	}

	if err := report.WriteFile(filepath.Join(cfg.Out, "config.yaml"), cfg.WriteYAML); err != nil {
		fatalf("%v", err)
	}

	histPath := filepath.Join(cfg.Out, "history.json")
	var h histmatch.History
	if *resume {
		h, err = wavecodec.Load(histPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.Info("no history to resume, starting fresh", zap.String("path", histPath))
		case err != nil:
			fatalf("resume: %v", err)
		default:
			log.Info("resuming", zap.Int("waves", len(h)))
		}
	}

	rule := cfg.Rule()
	ref := lhs.New(rand.New(rand.NewSource(cfg.Seed+1)), 1).Sample(*refPoints, ranges)
	fractions := map[int]float64{}
	checkpoint := func(h histmatch.History) error {
		if err := wavecodec.Save(histPath, h); err != nil {
			return fmt.Errorf("save history: %w", err)
		}
		last := h[len(h)-1]
		fr, err := report.Fractions(ctx, h, ref, rule, cfg.Workers, m)
		if err != nil {
			return err
		}
		fractions = fr
		log.Info("wave done",
			zap.Int("wave", last.Index),
			zap.String("id", last.ID),
			zap.Int("train", last.Train.Len()),
			zap.Float64("non_implausible", fr[last.Index]))
		return nil
	}

	c := histmatch.NewCalibrator(cfg.CalibratorOptions(log, m))
	h, runErr := c.Continue(ctx, simulator, ranges, targets, h, cfg.Waves, cfg.PointsPerWave, checkpoint)
	if runErr != nil {
		log.Error("calibration stopped", zap.Int("waves", len(h)), zap.Error(runErr))
	}
	if len(fractions) < len(h) {
		if fr, err := report.Fractions(ctx, h, ref, rule, cfg.Workers, m); err == nil {
			fractions = fr
		}
	}

	mdPath := filepath.Join(cfg.Out, "report.md")
	err = report.WriteFile(mdPath, func(w io.Writer) error {
		return report.Waves(ctx, w, h, rule, fractions)
	})
	if err != nil {
		fatalf("write report: %v", err)
	}
	fmt.Printf("History: %s\nReport written: %s\n", histPath, mdPath)
	if runErr != nil {
		os.Exit(1)
	}
}

func newSimulator(cfg *config.Config, path string, args []string, timeout time.Duration) (histmatch.Simulator, error) {
	if path == "" {
		return sim.NewSIRS(cfg.Scenario())
	}
	ids := cfg.TargetSet().Outputs()
	return &sim.Command{
		Path:         path,
		Args:         args,
		Names:        cfg.InputRanges().Names(),
		OutputIDs:    append([]emulator.OutputID(nil), ids...),
		SpreadFactor: cfg.Simulator.SpreadFactor,
		Timeout:      timeout,
	}, nil
}

func fatalf(f string, a ...any) {
	fmt.Fprintf(os.Stderr, f+"\n", a...)
	os.Exit(1)
}
