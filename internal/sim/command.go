package sim

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/francoispqt/gojay"

	"github.com/observe-l/hmcal/emulator"
)

// Command runs an external simulator once per point. The process receives
// the inputs as name=value arguments after Args and must print a JSON object
// mapping every output to its replicate values, e.g. {"I20":[431,460,447]}.
type Command struct {
	Path         string
	Args         []string
	Names        []string
	OutputIDs    []emulator.OutputID
	SpreadFactor float64
	// Timeout bounds one invocation; 0 means no limit beyond ctx.
	Timeout time.Duration
}

func (c *Command) Outputs() []emulator.OutputID {
	return append([]emulator.OutputID(nil), c.OutputIDs...)
}

func (c *Command) Run(ctx context.Context, p emulator.Point) (map[emulator.OutputID]emulator.Observation, error) {
	if len(p) != len(c.Names) {
		return nil, fmt.Errorf("command simulator: want %d inputs, got %d", len(c.Names), len(p))
	}
	args := append([]string(nil), c.Args...)
	for i, name := range c.Names {
		args = append(args, name+"="+strconv.FormatFloat(p[i], 'g', -1, 64))
	}
	out, err := run(ctx, c.Timeout, c.Path, args...)
	if err != nil {
		return nil, err
	}
	reps := replicates{}
	if err := gojay.UnmarshalJSONObject(bytes.TrimSpace(out), reps); err != nil {
		return nil, fmt.Errorf("%s: decode output: %w", c.Path, err)
	}
	res := make(map[emulator.OutputID]emulator.Observation, len(c.OutputIDs))
	for _, id := range c.OutputIDs {
		vals, ok := reps[id]
		if !ok || len(vals) == 0 {
			return nil, fmt.Errorf("%s: no replicates for output %q", c.Path, id)
		}
		res[id] = Summarize(vals, c.SpreadFactor)
	}
	return res, nil
}

func run(ctx context.Context, timeout time.Duration, cmd string, args ...string) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	c := exec.CommandContext(ctx, cmd, args...)
	var stderr bytes.Buffer
	c.Stderr = &stderr
	out, err := c.Output()
	if err != nil {
		return nil, fmt.Errorf("%s %v: %v\n%s", cmd, args, err, stderr.String())
	}
	return out, nil
}

type replicates map[emulator.OutputID][]float64

func (r replicates) UnmarshalJSONObject(dec *gojay.Decoder, key string) error {
	var vals floatList
	if err := dec.Array(&vals); err != nil {
		return err
	}
	r[emulator.OutputID(key)] = vals
	return nil
}

func (r replicates) NKeys() int { return 0 }

type floatList []float64

func (f *floatList) UnmarshalJSONArray(dec *gojay.Decoder) error {
	var v float64
	if err := dec.Float64(&v); err != nil {
		return err
	}
	*f = append(*f, v)
	return nil
}
