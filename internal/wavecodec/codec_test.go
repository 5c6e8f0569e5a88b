package wavecodec

import (
	"bytes"
	"math"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/observe-l/hmcal/emulator"
	"github.com/observe-l/hmcal/histmatch"
)

var ranges = emulator.Ranges{
	{Name: "beta", Min: 0.2, Max: 0.8},
	{Name: "gamma", Min: 0.2, Max: 1},
	{Name: "delta", Min: 0.1, Max: 0.5},
	{Name: "mu", Min: 0.1, Max: 0.5},
}

func design(t *testing.T, n int, seed int64) emulator.Design {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	runs := make([]emulator.Run, n)
	for i := range runs {
		p := make(emulator.Point, len(ranges))
		for k, r := range ranges {
			p[k] = r.Min + rng.Float64()*(r.Max-r.Min)
		}
		runs[i] = emulator.Run{Point: p, Outputs: map[emulator.OutputID]emulator.Observation{
			"I20": {Mean: 300 + 400*p[0] - 150*p[1] + 200*p[2]*p[3] + 30*math.Sin(6*p[0]), Variability: 1.5},
			"R20": {Mean: 100 + 250*p[0]*p[1] + 80*math.Cos(3*p[2]), Variability: 0.5},
		}}
	}
	d, err := emulator.NewDesign(ranges, []emulator.OutputID{"I20", "R20"}, runs)
	require.NoError(t, err)
	return d
}

func history(t *testing.T) histmatch.History {
	t.Helper()
	var h histmatch.History
	for w := 0; w < 2; w++ {
		d := design(t, 40, int64(w+1))
		train, valid := d.Split(0.75, rand.New(rand.NewSource(int64(w))))
		ems := map[emulator.OutputID]*emulator.Adjusted{}
		for _, id := range []emulator.OutputID{"I20", "R20"} {
			opts := emulator.DefaultFitOptions()
			opts.RandomBeta = w == 1
			e, err := emulator.Fit(id, train, opts)
			require.NoError(t, err)
			a, err := emulator.Adjust(e, train)
			require.NoError(t, err)
			ems[id] = a
		}
		wave, err := histmatch.NewWave(w, ems, histmatch.Targets{"I20": {Value: 453, Sigma: 46.48}, "R20": {Value: 200, Sigma: 20}}, train, valid)
		require.NoError(t, err)
		h = h.Append(wave)
	}
	return h
}

func TestRoundTripPreservesPredictions(t *testing.T) {
	h := history(t)
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, h))
	got, err := Decode(&buf)
	require.NoError(t, err)
	require.Len(t, got, len(h))

	probe := design(t, 15, 99).Points()
	for i := range h {
		assert.Equal(t, h[i].ID, got[i].ID)
		assert.Equal(t, h[i].Index, got[i].Index)
		for id, tg := range h[i].Targets {
			assert.InDelta(t, tg.Value, got[i].Targets[id].Value, 1e-9)
			assert.InDelta(t, tg.Sigma, got[i].Targets[id].Sigma, 1e-9)
		}
		sameDesign(t, h[i].Train, got[i].Train)
		sameDesign(t, h[i].Valid, got[i].Valid)
		for id, a := range h[i].Emulators {
			b := got[i].Emulators[id]
			require.NotNil(t, b, id)
			assert.Equal(t, a.Base().RandomBeta(), b.Base().RandomBeta())
			for _, p := range probe {
				ma, va := a.Predict(p)
				mb, vb := b.Predict(p)
				assert.InDelta(t, ma, mb, 1e-6*(1+math.Abs(ma)))
				assert.InDelta(t, va, vb, 1e-6*(1+va))
			}
		}
	}
}

func sameDesign(t *testing.T, want, got emulator.Design) {
	t.Helper()
	require.Len(t, got.Ranges, len(want.Ranges))
	for k, r := range want.Ranges {
		assert.Equal(t, r.Name, got.Ranges[k].Name)
		assert.InDelta(t, r.Min, got.Ranges[k].Min, 1e-12)
		assert.InDelta(t, r.Max, got.Ranges[k].Max, 1e-12)
	}
	assert.Equal(t, want.Outputs, got.Outputs)
	require.Len(t, got.Runs, len(want.Runs))
	for i, run := range want.Runs {
		assert.InDeltaSlice(t, run.Point, got.Runs[i].Point, 1e-12)
		for id, obs := range run.Outputs {
			assert.InDelta(t, obs.Mean, got.Runs[i].Outputs[id].Mean, 1e-9)
			assert.InDelta(t, obs.Variability, got.Runs[i].Outputs[id].Variability, 1e-9)
		}
	}
}

func TestSaveLoad(t *testing.T) {
	h := history(t)[:1]
	path := filepath.Join(t.TempDir(), "out", "history.json")
	require.NoError(t, Save(path, h))
	got, err := Load(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, h[0].ID, got[0].ID)
}

func TestDecodeRejectsBadInput(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"version": 7, "waves": []}`))
	assert.ErrorIs(t, err, ErrVersion)

	_, err = Decode(strings.NewReader(`{"version": 1, "waves": [`))
	assert.Error(t, err)

	_, err = Decode(strings.NewReader(`{"version": 1, "waves": [{"index": 0, "targets": {"I20": {"value": 1, "sigma": 1}}}]}`))
	assert.ErrorIs(t, err, histmatch.ErrInvalidTarget)
}

func TestEmptyHistory(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, nil))
	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Empty(t, got)
}
