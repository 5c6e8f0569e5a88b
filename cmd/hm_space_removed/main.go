package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/observe-l/hmcal/histmatch"
	"github.com/observe-l/hmcal/internal/config"
	"github.com/observe-l/hmcal/internal/report"
	"github.com/observe-l/hmcal/internal/wavecodec"
)

func main() {
	fs := flag.NewFlagSet("hm_space_removed", flag.ExitOnError)
	config.RegisterFlags(fs)
	histPath := fs.String("history", "", "history file (default <out>/history.json)")
	outPath := fs.String("report", "", "markdown output (default <out>/space_removed.md)")
	allModes := fs.Bool("all-modes", false, "report every perturbation mode, not only sensitivity_mode")
	upTo := fs.Int("wave", -1, "use waves up to this index (-1 = all)")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs, "")
	if err != nil {
		fatalf("%v", err)
	}
	if *histPath == "" {
		*histPath = filepath.Join(cfg.Out, "history.json")
	}
	if *outPath == "" {
		*outPath = filepath.Join(cfg.Out, "space_removed.md")
	}

	h, err := wavecodec.Load(*histPath)
	if err != nil {
		fatalf("load %s: %v", *histPath, err)
	}
	h = h.Sorted()
	if *upTo >= 0 {
		var kept histmatch.History
		for _, w := range h {
			if w.Index <= *upTo {
				kept = kept.Append(w)
			}
		}
		h = kept
	}
	if len(h) == 0 {
		fatalf("no waves in %s", *histPath)
	}

	opts, err := cfg.SpaceRemovedOptions()
	if err != nil {
		fatalf("%v", err)
	}
	modes := []histmatch.Perturbation{opts.Mode}
	if *allModes {
		modes = []histmatch.Perturbation{histmatch.PerturbVariance, histmatch.PerturbCorrelation, histmatch.PerturbObservation}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ranges := h[0].Train.Ranges
	results := make([][]histmatch.SpaceRemovedLevel, len(modes))
	for i, mode := range modes {
		opts.Mode = mode
		res, err := histmatch.SpaceRemoved(ctx, h.Terms(), ranges, opts)
		if err != nil {
			fatalf("space removed (%s): %v", mode, err)
		}
		results[i] = res
	}

	err = report.WriteFile(*outPath, func(w io.Writer) error {
		fmt.Fprintf(w, "# Space removed after %d wave(s)\n\n", len(h))
		fmt.Fprintf(w, "Grid of %d points per input over %d inputs, cutoff %.3g, nth maximum %d.\n\n",
			opts.PointsPerDim, len(ranges), opts.Rule.Cutoff, opts.Rule.Nth)
		for i, mode := range modes {
			if err := report.SpaceRemoved(w, mode, results[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		fatalf("write report: %v", err)
	}
	fmt.Printf("Report written: %s\n", *outPath)
}

func fatalf(f string, a ...any) {
	fmt.Fprintf(os.Stderr, f+"\n", a...)
	os.Exit(1)
}
