package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"

	"github.com/observe-l/hmcal/histmatch"
	"github.com/observe-l/hmcal/internal/lhs"
	"github.com/observe-l/hmcal/internal/report"
	"github.com/observe-l/hmcal/internal/wavecodec"
)

func main() {
	var histPath, outPath string
	var cutoff, methodVar float64
	var nth, points int
	var seed int64
	flag.StringVar(&histPath, "history", "hmcal-out/history.json", "history file written by hmcal")
	flag.StringVar(&outPath, "out", "docs/reports/waves.md", "output markdown path")
	flag.Float64Var(&cutoff, "cutoff", 3, "implausibility cutoff")
	flag.IntVar(&nth, "nth", 1, "nth-maximum implausibility rule")
	flag.Float64Var(&methodVar, "method-variance", 0, "model discrepancy variance")
	flag.IntVar(&points, "reference-points", 2000, "Latin hypercube points for the non-implausible fraction (0 to skip)")
	flag.Int64Var(&seed, "seed", 1, "reference sample seed")
	flag.Parse()

	h, err := wavecodec.Load(histPath)
	if err != nil {
		fatalf("load %s: %v", histPath, err)
	}
	rule := histmatch.Rule{Cutoff: cutoff, Nth: nth, MethodVariance: methodVar}
	ctx := context.Background()

	var fractions map[int]float64
	if points > 0 && len(h) > 0 {
		ref := lhs.New(rand.New(rand.NewSource(seed)), 1).Sample(points, h[0].Train.Ranges)
		fractions, err = report.Fractions(ctx, h, ref, rule, 0, nil)
		if err != nil {
			fatalf("fractions: %v", err)
		}
	}
	err = report.WriteFile(outPath, func(w io.Writer) error {
		return report.Waves(ctx, w, h, rule, fractions)
	})
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("wrote %s\n", outPath)
}

func fatalf(f string, a ...any) { fmt.Fprintf(os.Stderr, f+"\n", a...); os.Exit(1) }
