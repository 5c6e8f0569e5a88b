package wavecodec

import (
	"sort"

	"github.com/francoispqt/gojay"

	"github.com/observe-l/hmcal/emulator"
	"github.com/observe-l/hmcal/histmatch"
)

// gojay adapters for the persisted types. Encoding uses value receivers,
// decoding pointer receivers.

type historyJSON struct {
	version int
	waves   waveList
}

func (h *historyJSON) MarshalJSONObject(enc *gojay.Encoder) {
	enc.IntKey("version", h.version)
	enc.ArrayKey("waves", h.waves)
}

func (h *historyJSON) IsNil() bool { return h == nil }

func (h *historyJSON) UnmarshalJSONObject(dec *gojay.Decoder, key string) error {
	switch key {
	case "version":
		return dec.Int(&h.version)
	case "waves":
		return dec.Array(&h.waves)
	}
	return nil
}

func (h *historyJSON) NKeys() int { return 0 }

type waveList []*waveJSON

func (l waveList) MarshalJSONArray(enc *gojay.Encoder) {
	for _, w := range l {
		enc.Object(w)
	}
}

func (l waveList) IsNil() bool { return len(l) == 0 }

func (l *waveList) UnmarshalJSONArray(dec *gojay.Decoder) error {
	w := &waveJSON{}
	if err := dec.Object(w); err != nil {
		return err
	}
	*l = append(*l, w)
	return nil
}

type waveJSON struct {
	id        string
	index     int
	targets   targetsJSON
	train     designJSON
	valid     designJSON
	emulators stateList
}

func (w *waveJSON) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("id", w.id)
	enc.IntKey("index", w.index)
	enc.ObjectKey("targets", w.targets)
	enc.ObjectKey("train", &w.train)
	enc.ObjectKey("valid", &w.valid)
	enc.ArrayKey("emulators", w.emulators)
}

func (w *waveJSON) IsNil() bool { return w == nil }

func (w *waveJSON) UnmarshalJSONObject(dec *gojay.Decoder, key string) error {
	switch key {
	case "id":
		return dec.String(&w.id)
	case "index":
		return dec.Int(&w.index)
	case "targets":
		if w.targets == nil {
			w.targets = targetsJSON{}
		}
		return dec.Object(w.targets)
	case "train":
		return dec.Object(&w.train)
	case "valid":
		return dec.Object(&w.valid)
	case "emulators":
		return dec.Array(&w.emulators)
	}
	return nil
}

func (w *waveJSON) NKeys() int { return 0 }

type targetsJSON histmatch.Targets

func (t targetsJSON) MarshalJSONObject(enc *gojay.Encoder) {
	for _, id := range histmatch.Targets(t).Outputs() {
		tg := targetJSON(t[id])
		enc.ObjectKey(string(id), &tg)
	}
}

func (t targetsJSON) IsNil() bool { return t == nil }

func (t targetsJSON) UnmarshalJSONObject(dec *gojay.Decoder, key string) error {
	var tg targetJSON
	if err := dec.Object(&tg); err != nil {
		return err
	}
	t[emulator.OutputID(key)] = histmatch.Target(tg)
	return nil
}

func (t targetsJSON) NKeys() int { return 0 }

type targetJSON histmatch.Target

func (t *targetJSON) MarshalJSONObject(enc *gojay.Encoder) {
	enc.Float64Key("value", t.Value)
	enc.Float64Key("sigma", t.Sigma)
}

func (t *targetJSON) IsNil() bool { return t == nil }

func (t *targetJSON) UnmarshalJSONObject(dec *gojay.Decoder, key string) error {
	switch key {
	case "value":
		return dec.Float64(&t.Value)
	case "sigma":
		return dec.Float64(&t.Sigma)
	}
	return nil
}

func (t *targetJSON) NKeys() int { return 2 }

type designJSON emulator.Design

func (d *designJSON) MarshalJSONObject(enc *gojay.Encoder) {
	enc.ArrayKey("ranges", rangesJSON(d.Ranges))
	enc.ArrayKey("outputs", outputsJSON(d.Outputs))
	enc.ArrayKey("runs", runsJSON(d.Runs))
}

func (d *designJSON) IsNil() bool { return d == nil }

func (d *designJSON) UnmarshalJSONObject(dec *gojay.Decoder, key string) error {
	switch key {
	case "ranges":
		return dec.Array((*rangesJSON)(&d.Ranges))
	case "outputs":
		return dec.Array((*outputsJSON)(&d.Outputs))
	case "runs":
		return dec.Array((*runsJSON)(&d.Runs))
	}
	return nil
}

func (d *designJSON) NKeys() int { return 0 }

type rangesJSON emulator.Ranges

func (r rangesJSON) MarshalJSONArray(enc *gojay.Encoder) {
	for i := range r {
		enc.Object((*rangeJSON)(&r[i]))
	}
}

func (r rangesJSON) IsNil() bool { return len(r) == 0 }

func (r *rangesJSON) UnmarshalJSONArray(dec *gojay.Decoder) error {
	var rg rangeJSON
	if err := dec.Object(&rg); err != nil {
		return err
	}
	*r = append(*r, emulator.Range(rg))
	return nil
}

type rangeJSON emulator.Range

func (r *rangeJSON) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("name", r.Name)
	enc.Float64Key("min", r.Min)
	enc.Float64Key("max", r.Max)
}

func (r *rangeJSON) IsNil() bool { return r == nil }

func (r *rangeJSON) UnmarshalJSONObject(dec *gojay.Decoder, key string) error {
	switch key {
	case "name":
		return dec.String(&r.Name)
	case "min":
		return dec.Float64(&r.Min)
	case "max":
		return dec.Float64(&r.Max)
	}
	return nil
}

func (r *rangeJSON) NKeys() int { return 3 }

type outputsJSON []emulator.OutputID

func (o outputsJSON) MarshalJSONArray(enc *gojay.Encoder) {
	for _, id := range o {
		enc.String(string(id))
	}
}

func (o outputsJSON) IsNil() bool { return len(o) == 0 }

func (o *outputsJSON) UnmarshalJSONArray(dec *gojay.Decoder) error {
	var s string
	if err := dec.String(&s); err != nil {
		return err
	}
	*o = append(*o, emulator.OutputID(s))
	return nil
}

type runsJSON []emulator.Run

func (r runsJSON) MarshalJSONArray(enc *gojay.Encoder) {
	for i := range r {
		enc.Object((*runJSON)(&r[i]))
	}
}

func (r runsJSON) IsNil() bool { return len(r) == 0 }

func (r *runsJSON) UnmarshalJSONArray(dec *gojay.Decoder) error {
	var run runJSON
	if err := dec.Object(&run); err != nil {
		return err
	}
	*r = append(*r, emulator.Run(run))
	return nil
}

type runJSON emulator.Run

func (r *runJSON) MarshalJSONObject(enc *gojay.Encoder) {
	enc.ArrayKey("point", floatsJSON(r.Point))
	enc.ObjectKey("outputs", observationsJSON(r.Outputs))
}

func (r *runJSON) IsNil() bool { return r == nil }

func (r *runJSON) UnmarshalJSONObject(dec *gojay.Decoder, key string) error {
	switch key {
	case "point":
		var f floatsJSON
		if err := dec.Array(&f); err != nil {
			return err
		}
		r.Point = emulator.Point(f)
	case "outputs":
		r.Outputs = map[emulator.OutputID]emulator.Observation{}
		return dec.Object(observationsJSON(r.Outputs))
	}
	return nil
}

func (r *runJSON) NKeys() int { return 2 }

type observationsJSON map[emulator.OutputID]emulator.Observation

func (o observationsJSON) MarshalJSONObject(enc *gojay.Encoder) {
	ids := make([]emulator.OutputID, 0, len(o))
	for id := range o {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		obs := observationJSON(o[id])
		enc.ObjectKey(string(id), &obs)
	}
}

func (o observationsJSON) IsNil() bool { return o == nil }

func (o observationsJSON) UnmarshalJSONObject(dec *gojay.Decoder, key string) error {
	var obs observationJSON
	if err := dec.Object(&obs); err != nil {
		return err
	}
	o[emulator.OutputID(key)] = emulator.Observation(obs)
	return nil
}

func (o observationsJSON) NKeys() int { return 0 }

type observationJSON emulator.Observation

func (o *observationJSON) MarshalJSONObject(enc *gojay.Encoder) {
	enc.Float64Key("mean", o.Mean)
	enc.Float64Key("variability", o.Variability)
}

func (o *observationJSON) IsNil() bool { return o == nil }

func (o *observationJSON) UnmarshalJSONObject(dec *gojay.Decoder, key string) error {
	switch key {
	case "mean":
		return dec.Float64(&o.Mean)
	case "variability":
		return dec.Float64(&o.Variability)
	}
	return nil
}

func (o *observationJSON) NKeys() int { return 2 }

type floatsJSON []float64

func (f floatsJSON) MarshalJSONArray(enc *gojay.Encoder) {
	for _, v := range f {
		enc.Float64(v)
	}
}

func (f floatsJSON) IsNil() bool { return len(f) == 0 }

func (f *floatsJSON) UnmarshalJSONArray(dec *gojay.Decoder) error {
	var v float64
	if err := dec.Float64(&v); err != nil {
		return err
	}
	*f = append(*f, v)
	return nil
}

type boolsJSON []bool

func (b boolsJSON) MarshalJSONArray(enc *gojay.Encoder) {
	for _, v := range b {
		enc.Bool(v)
	}
}

func (b boolsJSON) IsNil() bool { return len(b) == 0 }

func (b *boolsJSON) UnmarshalJSONArray(dec *gojay.Decoder) error {
	var v bool
	if err := dec.Bool(&v); err != nil {
		return err
	}
	*b = append(*b, v)
	return nil
}

type stateList []*stateJSON

func (l stateList) MarshalJSONArray(enc *gojay.Encoder) {
	for _, s := range l {
		enc.Object(s)
	}
}

func (l stateList) IsNil() bool { return len(l) == 0 }

func (l *stateList) UnmarshalJSONArray(dec *gojay.Decoder) error {
	s := &stateJSON{}
	if err := dec.Object(s); err != nil {
		return err
	}
	*l = append(*l, s)
	return nil
}

type stateJSON emulator.State

func (s *stateJSON) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("output", string(s.Output))
	enc.ArrayKey("ranges", rangesJSON(s.Ranges))
	enc.StringKey("degree", s.Degree.String())
	enc.ArrayKey("beta", floatsJSON(s.Beta))
	enc.ArrayKey("std_err", floatsJSON(s.StdErr))
	enc.ArrayKey("p_value", floatsJSON(s.PValue))
	enc.ArrayKey("beta_cov", floatsJSON(s.BetaCov))
	enc.Float64Key("residual_var", s.ResidualVar)
	enc.IntKey("df", s.DF)
	enc.ArrayKey("active", boolsJSON(s.Active))
	enc.Float64Key("sigma2", s.Sigma2)
	enc.ArrayKey("theta", floatsJSON(s.Theta))
	enc.Float64Key("nugget", s.Nugget)
	enc.BoolKey("random_beta", s.RandomBeta)
	enc.Float64Key("ridge", s.Ridge)
	train := designJSON(s.Training)
	enc.ObjectKey("training", &train)
}

func (s *stateJSON) IsNil() bool { return s == nil }

func (s *stateJSON) UnmarshalJSONObject(dec *gojay.Decoder, key string) error {
	switch key {
	case "output":
		var v string
		if err := dec.String(&v); err != nil {
			return err
		}
		s.Output = emulator.OutputID(v)
	case "ranges":
		return dec.Array((*rangesJSON)(&s.Ranges))
	case "degree":
		var v string
		if err := dec.String(&v); err != nil {
			return err
		}
		deg, err := emulator.ParseDegree(v)
		if err != nil {
			return err
		}
		s.Degree = deg
	case "beta":
		return dec.Array((*floatsJSON)(&s.Beta))
	case "std_err":
		return dec.Array((*floatsJSON)(&s.StdErr))
	case "p_value":
		return dec.Array((*floatsJSON)(&s.PValue))
	case "beta_cov":
		return dec.Array((*floatsJSON)(&s.BetaCov))
	case "residual_var":
		return dec.Float64(&s.ResidualVar)
	case "df":
		return dec.Int(&s.DF)
	case "active":
		return dec.Array((*boolsJSON)(&s.Active))
	case "sigma2":
		return dec.Float64(&s.Sigma2)
	case "theta":
		return dec.Array((*floatsJSON)(&s.Theta))
	case "nugget":
		return dec.Float64(&s.Nugget)
	case "random_beta":
		return dec.Bool(&s.RandomBeta)
	case "ridge":
		return dec.Float64(&s.Ridge)
	case "training":
		return dec.Object((*designJSON)(&s.Training))
	}
	return nil
}

func (s *stateJSON) NKeys() int { return 0 }
