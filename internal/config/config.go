package config

import (
	"io"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/observe-l/hmcal/emulator"
	"github.com/observe-l/hmcal/histmatch"
	"github.com/observe-l/hmcal/internal/metrics"
	"github.com/observe-l/hmcal/internal/sim"
)

type RangeConfig struct {
	Name string  `yaml:"name" mapstructure:"name"`
	Min  float64 `yaml:"min" mapstructure:"min"`
	Max  float64 `yaml:"max" mapstructure:"max"`
}

// TargetConfig and NuggetConfig are lists rather than maps because viper
// lower-cases map keys and output names are case sensitive.
type TargetConfig struct {
	Output string  `yaml:"output" mapstructure:"output"`
	Value  float64 `yaml:"value" mapstructure:"value"`
	Sigma  float64 `yaml:"sigma" mapstructure:"sigma"`
}

type NuggetConfig struct {
	Output string  `yaml:"output" mapstructure:"output"`
	Value  float64 `yaml:"value" mapstructure:"value"`
}

type SimulatorConfig struct {
	Reps         int       `yaml:"reps" mapstructure:"reps"`
	SpreadFactor float64   `yaml:"spread_factor" mapstructure:"spread_factor"`
	Population   int       `yaml:"population" mapstructure:"population"`
	Infected0    int       `yaml:"infected0" mapstructure:"infected0"`
	Recovered0   int       `yaml:"recovered0" mapstructure:"recovered0"`
	Times        []float64 `yaml:"times" mapstructure:"times"`
}

// Config is the resolved calibration configuration.
type Config struct {
	Degree             string          `yaml:"degree" mapstructure:"degree"`
	Significance       float64         `yaml:"significance" mapstructure:"significance"`
	Nuggets            []NuggetConfig  `yaml:"nuggets" mapstructure:"nuggets"`
	Cutoff             float64         `yaml:"cutoff" mapstructure:"cutoff"`
	Nth                int             `yaml:"nth" mapstructure:"nth"`
	MethodVariance     float64         `yaml:"method_variance" mapstructure:"method_variance"`
	SensitivityLevels  []float64       `yaml:"sensitivity_levels" mapstructure:"sensitivity_levels"`
	SensitivityMode    string          `yaml:"sensitivity_mode" mapstructure:"sensitivity_mode"`
	GridPoints         int             `yaml:"grid_points" mapstructure:"grid_points"`
	RefocusMaxAttempts int             `yaml:"refocus_max_attempts" mapstructure:"refocus_max_attempts"`
	RefocusBatch       int             `yaml:"refocus_batch" mapstructure:"refocus_batch"`
	MinDistance        float64         `yaml:"min_distance" mapstructure:"min_distance"`
	PointsPerWave      int             `yaml:"points_per_wave" mapstructure:"points_per_wave"`
	Waves              int             `yaml:"waves" mapstructure:"waves"`
	TrainFraction      float64         `yaml:"train_fraction" mapstructure:"train_fraction"`
	Seed               int64           `yaml:"seed" mapstructure:"seed"`
	RandomBeta         bool            `yaml:"random_beta" mapstructure:"random_beta"`
	EstimateHyper      bool            `yaml:"estimate_hyper" mapstructure:"estimate_hyper"`
	Ridge              float64         `yaml:"ridge" mapstructure:"ridge"`
	Workers            int             `yaml:"workers" mapstructure:"workers"`
	Simulator          SimulatorConfig `yaml:"simulator" mapstructure:"simulator"`
	Ranges             []RangeConfig   `yaml:"ranges" mapstructure:"ranges"`
	Targets            []TargetConfig  `yaml:"targets" mapstructure:"targets"`
	MetricsAddr        string          `yaml:"metrics_addr" mapstructure:"metrics_addr"`
	LogLevel           string          `yaml:"log_level" mapstructure:"log_level"`
	LogDevelopment     bool            `yaml:"log_development" mapstructure:"log_development"`
	Out                string          `yaml:"out" mapstructure:"out"`
}

// WriteYAML dumps the effective configuration.
func (c *Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}

func (c *Config) InputRanges() emulator.Ranges {
	out := make(emulator.Ranges, len(c.Ranges))
	for i, r := range c.Ranges {
		out[i] = emulator.Range{Name: r.Name, Min: r.Min, Max: r.Max}
	}
	return out
}

func (c *Config) TargetSet() histmatch.Targets {
	out := make(histmatch.Targets, len(c.Targets))
	for _, t := range c.Targets {
		out[emulator.OutputID(t.Output)] = histmatch.Target{Value: t.Value, Sigma: t.Sigma}
	}
	return out
}

func (c *Config) Rule() histmatch.Rule {
	return histmatch.Rule{Cutoff: c.Cutoff, Nth: c.Nth, MethodVariance: c.MethodVariance}
}

func (c *Config) FitOptions() emulator.FitOptions {
	opts := emulator.DefaultFitOptions()
	if deg, err := emulator.ParseDegree(c.Degree); err == nil {
		opts.Degree = deg
	}
	opts.Significance = c.Significance
	opts.EstimateHyper = c.EstimateHyper
	opts.RandomBeta = c.RandomBeta
	opts.Ridge = c.Ridge
	return opts
}

func (c *Config) Scenario() sim.Scenario {
	return sim.Scenario{
		Population:   c.Simulator.Population,
		Infected0:    c.Simulator.Infected0,
		Recovered0:   c.Simulator.Recovered0,
		Times:        append([]float64(nil), c.Simulator.Times...),
		Reps:         c.Simulator.Reps,
		SpreadFactor: c.Simulator.SpreadFactor,
		Seed:         c.Seed,
	}
}

// CalibratorOptions maps the configuration onto the pipeline options.
func (c *Config) CalibratorOptions(log *zap.Logger, m *metrics.Metrics) histmatch.Options {
	opts := histmatch.DefaultOptions()
	opts.Fit = c.FitOptions()
	opts.Rule = c.Rule()
	opts.TrainFraction = c.TrainFraction
	opts.Seed = c.Seed
	opts.Workers = c.Workers
	opts.Logger = log
	opts.Metrics = m
	opts.Refocus.MaxAttempts = c.RefocusMaxAttempts
	opts.Refocus.BatchSize = c.RefocusBatch
	opts.Refocus.MinDistance = c.MinDistance
	if len(c.Nuggets) > 0 {
		opts.Nuggets = make(map[emulator.OutputID]float64, len(c.Nuggets))
		for _, n := range c.Nuggets {
			opts.Nuggets[emulator.OutputID(n.Output)] = n.Value
		}
	}
	return opts
}

func (c *Config) SpaceRemovedOptions() (histmatch.SpaceRemovedOptions, error) {
	mode, err := histmatch.ParsePerturbation(c.SensitivityMode)
	if err != nil {
		return histmatch.SpaceRemovedOptions{}, err
	}
	return histmatch.SpaceRemovedOptions{
		Mode:         mode,
		Levels:       append([]float64(nil), c.SensitivityLevels...),
		PointsPerDim: c.GridPoints,
		Rule:         c.Rule(),
		Workers:      c.Workers,
	}, nil
}
