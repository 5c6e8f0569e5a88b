// Package report renders wave histories and sensitivity results as markdown.
package report

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/observe-l/hmcal/emulator"
	"github.com/observe-l/hmcal/histmatch"
	"github.com/observe-l/hmcal/internal/metrics"
)

// Fractions returns, per wave index, the share of ref that stays
// non-implausible under all waves up to and including it, and records it on m.
func Fractions(ctx context.Context, h histmatch.History, ref []emulator.Point, rule histmatch.Rule, workers int, m *metrics.Metrics) (map[int]float64, error) {
	h = h.Sorted()
	out := make(map[int]float64, len(h))
	for i, w := range h {
		ev := &histmatch.Evaluator{Terms: h[:i+1].Terms(), Rule: rule, Workers: workers, Metrics: m}
		frac, err := ev.Fraction(ctx, ref)
		if err != nil {
			return nil, err
		}
		out[w.Index] = frac
		m.NonImplausible(strconv.Itoa(w.Index), frac)
	}
	return out, nil
}

// Waves writes the per-wave summary. Waves without diagnostics (loaded from
// disk) are re-validated on their held-out runs. fractions may be nil.
func Waves(ctx context.Context, w io.Writer, h histmatch.History, rule histmatch.Rule, fractions map[int]float64) error {
	h = h.Sorted()
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "# History matching summary")
	fmt.Fprintln(bw, "")
	fmt.Fprintf(bw, "Cutoff %.3g, nth maximum %d, method variance %.4g.\n", rule.Cutoff, rule.Nth, rule.MethodVariance)
	fmt.Fprintln(bw, "")
	if len(h) == 0 {
		fmt.Fprintln(bw, "No waves.")
		return bw.Flush()
	}

	reports := make([]*histmatch.Report, len(h))
	for i, wave := range h {
		r := wave.Diagnostics
		if r == nil && wave.Valid.Len() > 0 {
			var err error
			r, err = histmatch.Validate(ctx, wave.Emulators, wave.Valid, wave.Targets, rule)
			if err != nil {
				return fmt.Errorf("wave %d: %w", wave.Index, err)
			}
		}
		reports[i] = r
	}

	fmt.Fprintln(bw, "| wave | id | outputs | train | valid | invalid | misclassified | non-implausible |")
	fmt.Fprintln(bw, "|---:|---|---|---:|---:|---:|---:|---:|")
	for i, wave := range h {
		invalid, miscl := "-", "-"
		if r := reports[i]; r != nil {
			invalid = strconv.Itoa(len(r.Invalid))
			miscl = strconv.Itoa(len(r.Misclassified))
		}
		frac := "-"
		if f, ok := fractions[wave.Index]; ok {
			frac = fmt.Sprintf("%.4f", f)
		}
		fmt.Fprintf(bw, "| %d | %s | %s | %d | %d | %s | %s | %s |\n",
			wave.Index, shortID(wave.ID), joinIDs(wave.Outputs()), wave.Train.Len(), wave.Valid.Len(), invalid, miscl, frac)
	}
	fmt.Fprintln(bw, "")

	for _, wave := range h {
		fmt.Fprintf(bw, "## Wave %d emulators\n\n", wave.Index)
		fmt.Fprintln(bw, "| output | target | sigma | active inputs | sigma2 | theta | nugget | residual var |")
		fmt.Fprintln(bw, "|---|---:|---:|---|---:|---|---:|---:|")
		for _, id := range wave.Outputs() {
			a := wave.Emulators[id]
			e := a.Base()
			hy := e.Hyper()
			names := e.Ranges().Names()
			var active, theta []string
			for k, on := range e.Active() {
				if on {
					active = append(active, names[k])
					theta = append(theta, fmt.Sprintf("%.3g", hy.Theta[k]))
				}
			}
			t := wave.Targets[id]
			fmt.Fprintf(bw, "| %s | %.4g | %.4g | %s | %.4g | %s | %.4g | %.4g |\n",
				id, t.Value, t.Sigma, orDash(strings.Join(active, ", ")), hy.Sigma2,
				orDash(strings.Join(theta, ", ")), hy.Nugget, e.Regression().ResidualVar)
		}
		fmt.Fprintln(bw, "")
	}
	return bw.Flush()
}

// SpaceRemoved writes the sensitivity table of one perturbation mode.
func SpaceRemoved(w io.Writer, mode histmatch.Perturbation, levels []histmatch.SpaceRemovedLevel) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "## Space removed (%s)\n\n", mode)
	fmt.Fprintln(bw, "| level | remaining | removed |")
	fmt.Fprintln(bw, "|---:|---:|---:|")
	for _, l := range levels {
		fmt.Fprintf(bw, "| %.3g | %.4f | %.4f |\n", l.Level, l.Remaining, l.Removed)
	}
	fmt.Fprintln(bw, "")
	return bw.Flush()
}

// WriteFile creates path and its directory and hands the file to fn.
func WriteFile(path string, fn func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func joinIDs(ids []emulator.OutputID) string {
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = string(id)
	}
	return strings.Join(s, ", ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
