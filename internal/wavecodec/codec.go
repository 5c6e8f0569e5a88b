// Package wavecodec persists a wave history as JSON so a calibration can be
// resumed or queried later. Emulators are stored as their fitted state and
// re-adjusted on load; diagnostics are not stored.
package wavecodec

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/francoispqt/gojay"

	"github.com/observe-l/hmcal/emulator"
	"github.com/observe-l/hmcal/histmatch"
)

const version = 1

var ErrVersion = errors.New("unsupported history version")

// Encode writes h to w.
func Encode(w io.Writer, h histmatch.History) error {
	doc := &historyJSON{version: version}
	for _, wave := range h {
		wj := &waveJSON{
			id:      wave.ID,
			index:   wave.Index,
			targets: targetsJSON(wave.Targets),
			train:   designJSON(wave.Train),
			valid:   designJSON(wave.Valid),
		}
		for _, id := range sortedIDs(wave.Emulators) {
			st := stateJSON(wave.Emulators[id].Base().State())
			wj.emulators = append(wj.emulators, &st)
		}
		doc.waves = append(doc.waves, wj)
	}
	bw := bufio.NewWriter(w)
	enc := gojay.BorrowEncoder(bw)
	defer enc.Release()
	if err := enc.EncodeObject(doc); err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	return bw.Flush()
}

// Decode reads a history written by Encode and re-adjusts every emulator.
func Decode(r io.Reader) (histmatch.History, error) {
	doc := &historyJSON{}
	dec := gojay.BorrowDecoder(r)
	defer dec.Release()
	if err := dec.DecodeObject(doc); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if doc.version != version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, doc.version)
	}
	var h histmatch.History
	for i, wj := range doc.waves {
		ems := make(map[emulator.OutputID]*emulator.Adjusted, len(wj.emulators))
		for _, sj := range wj.emulators {
			st := emulator.State(*sj)
			e, err := emulator.Restore(st)
			if err != nil {
				return nil, fmt.Errorf("wave %d output %s: %w", i, st.Output, err)
			}
			a, err := emulator.Adjust(e, st.Training)
			if err != nil {
				return nil, fmt.Errorf("wave %d output %s: %w", i, st.Output, err)
			}
			ems[st.Output] = a
		}
		w, err := histmatch.NewWave(wj.index, ems, histmatch.Targets(wj.targets), emulator.Design(wj.train), emulator.Design(wj.valid))
		if err != nil {
			return nil, fmt.Errorf("wave %d: %w", i, err)
		}
		if wj.id != "" {
			w.ID = wj.id
		}
		h = h.Append(w)
	}
	return h, nil
}

// Save writes h to path through a temporary file and a rename.
func Save(path string, h histmatch.History) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if err := Encode(f, h); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func Load(path string) (histmatch.History, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(bufio.NewReader(f))
}

func sortedIDs(m map[emulator.OutputID]*emulator.Adjusted) []emulator.OutputID {
	ids := make([]emulator.OutputID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
