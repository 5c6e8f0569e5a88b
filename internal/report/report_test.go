package report

import (
	"bytes"
	"context"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/observe-l/hmcal/emulator"
	"github.com/observe-l/hmcal/histmatch"
	"github.com/observe-l/hmcal/internal/lhs"
	"github.com/observe-l/hmcal/internal/metrics"
)

var ranges = emulator.Ranges{
	{Name: "beta", Min: 0.2, Max: 0.8},
	{Name: "gamma", Min: 0.2, Max: 1},
}

func twoWaves(t *testing.T) histmatch.History {
	t.Helper()
	f := func(p emulator.Point) float64 { return 150 + 600*p[0] - 120*p[1] + 80*p[0]*p[1] + 25*math.Sin(5*p[1]) }
	var h histmatch.History
	for w := 0; w < 2; w++ {
		pts := lhs.New(rand.New(rand.NewSource(int64(w+1))), 5).Sample(24, ranges)
		runs := make([]emulator.Run, len(pts))
		for i, p := range pts {
			runs[i] = emulator.Run{Point: p, Outputs: map[emulator.OutputID]emulator.Observation{"I20": {Mean: f(p), Variability: 1}}}
		}
		d, err := emulator.NewDesign(ranges, []emulator.OutputID{"I20"}, runs)
		require.NoError(t, err)
		train, valid := d.Split(0.75, rand.New(rand.NewSource(3)))
		e, err := emulator.Fit("I20", train, emulator.DefaultFitOptions())
		require.NoError(t, err)
		a, err := emulator.Adjust(e, train)
		require.NoError(t, err)
		wave, err := histmatch.NewWave(w, map[emulator.OutputID]*emulator.Adjusted{"I20": a},
			histmatch.Targets{"I20": {Value: 453, Sigma: 46.48}}, train, valid)
		require.NoError(t, err)
		h = h.Append(wave)
	}
	return h
}

func TestFractionsShrinkAndRecord(t *testing.T) {
	h := twoWaves(t)
	reg := prometheus.NewRegistry()
	ref := lhs.New(rand.New(rand.NewSource(9)), 1).Sample(400, ranges)

	fr, err := Fractions(context.Background(), h, ref, histmatch.DefaultRule(), 2, metrics.New(reg))
	require.NoError(t, err)
	require.Len(t, fr, 2)
	assert.Greater(t, fr[0], 0.0)
	assert.Less(t, fr[0], 1.0)
	assert.LessOrEqual(t, fr[1], fr[0])
	assert.Equal(t, 2, testutil.CollectAndCount(reg, "hmcal_non_implausible_fraction"))
}

func TestWavesMarkdown(t *testing.T) {
	h := twoWaves(t)
	var buf bytes.Buffer
	require.NoError(t, Waves(context.Background(), &buf, h, histmatch.DefaultRule(), map[int]float64{0: 0.25}))
	out := buf.String()

	assert.Contains(t, out, "# History matching summary")
	assert.Contains(t, out, "| 0 | "+h[0].ID[:8]+" | I20 | 18 | 6 |")
	assert.Contains(t, out, "| 0.2500 |")
	assert.Contains(t, out, "## Wave 1 emulators")
	assert.Contains(t, out, "| I20 | 453 | 46.48 |")
}

func TestWavesEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Waves(context.Background(), &buf, nil, histmatch.DefaultRule(), nil))
	assert.Contains(t, buf.String(), "No waves.")
}

func TestSpaceRemovedAndWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "sr.md")
	err := WriteFile(path, func(w io.Writer) error {
		return SpaceRemoved(w, histmatch.PerturbVariance, []histmatch.SpaceRemovedLevel{{Level: 0.9, Remaining: 0.3, Removed: 0.7}})
	})
	require.NoError(t, err)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "## Space removed (variance)")
	assert.Contains(t, string(b), "| 0.9 | 0.3000 | 0.7000 |")
}
