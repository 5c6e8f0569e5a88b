package config

import (
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/observe-l/hmcal/internal/sim"
)

// EnvPrefix prefixes every environment override, e.g. HMCAL_CUTOFF or
// HMCAL_SIMULATOR_REPS.
const EnvPrefix = "HMCAL"

// flagBindings maps viper keys to pflag names.
var flagBindings = map[string]string{
	"degree":               "degree",
	"significance":         "significance",
	"cutoff":               "cutoff",
	"nth":                  "nth",
	"method_variance":      "method-variance",
	"sensitivity_mode":     "sensitivity-mode",
	"grid_points":          "grid-points",
	"refocus_max_attempts": "refocus-max-attempts",
	"refocus_batch":        "refocus-batch",
	"min_distance":         "min-distance",
	"points_per_wave":      "points-per-wave",
	"waves":                "waves",
	"train_fraction":       "train-fraction",
	"seed":                 "seed",
	"random_beta":          "random-beta",
	"estimate_hyper":       "estimate-hyper",
	"ridge":                "ridge",
	"workers":              "workers",
	"simulator.reps":       "reps",
	"metrics_addr":         "metrics-addr",
	"log_level":            "log-level",
	"log_development":      "log-development",
	"out":                  "out",
}

// RegisterFlags adds the overridable options to fs. Unchanged flags never
// shadow file or environment values.
func RegisterFlags(fs *flag.FlagSet) {
	fs.String("config", "", "YAML configuration file")
	fs.String("degree", "quadratic", "regression degree (linear|quadratic)")
	fs.Float64("significance", 0.05, "p-value threshold for active inputs")
	fs.Float64("cutoff", 3, "implausibility cutoff")
	fs.Int("nth", 1, "nth-maximum implausibility rule")
	fs.Float64("method-variance", 0, "model discrepancy variance added to every output")
	fs.String("sensitivity-mode", "variance", "space-removed perturbation (variance|correlation|observation)")
	fs.Int("grid-points", 10, "space-removed grid points per input")
	fs.Int("refocus-max-attempts", 20, "refocusing proposal batches")
	fs.Int("refocus-batch", 0, "proposals per batch (0 = 10 per requested point)")
	fs.Float64("min-distance", 0.01, "minimum scaled distance between new and existing points")
	fs.Int("points-per-wave", 40, "simulator runs per wave")
	fs.Int("waves", 3, "number of waves")
	fs.Float64("train-fraction", 0.75, "fraction of each wave used for training")
	fs.Int64("seed", 1, "random seed")
	fs.Bool("random-beta", false, "treat regression coefficients as random")
	fs.Bool("estimate-hyper", true, "estimate correlation lengths by maximum likelihood")
	fs.Float64("ridge", 1e-8, "initial ridge for non positive definite covariances")
	fs.Int("workers", 0, "parallel workers (0 = GOMAXPROCS)")
	fs.Int("reps", 10, "simulator replicates per run")
	fs.String("metrics-addr", "", "serve Prometheus metrics on this address")
	fs.String("log-level", "info", "log level")
	fs.Bool("log-development", false, "human readable logs")
	fs.String("out", "hmcal-out", "output directory")
}

func setDefaults(v *viper.Viper) {
	sc := sim.DefaultScenario()
	v.SetDefault("degree", "quadratic")
	v.SetDefault("significance", 0.05)
	v.SetDefault("nuggets", []NuggetConfig{})
	v.SetDefault("cutoff", 3.0)
	v.SetDefault("nth", 1)
	v.SetDefault("method_variance", 0.0)
	v.SetDefault("sensitivity_levels", []float64{0.9, 1, 1.1})
	v.SetDefault("sensitivity_mode", "variance")
	v.SetDefault("grid_points", 10)
	v.SetDefault("refocus_max_attempts", 20)
	v.SetDefault("refocus_batch", 0)
	v.SetDefault("min_distance", 0.01)
	v.SetDefault("points_per_wave", 40)
	v.SetDefault("waves", 3)
	v.SetDefault("train_fraction", 0.75)
	v.SetDefault("seed", int64(1))
	v.SetDefault("random_beta", false)
	v.SetDefault("estimate_hyper", true)
	v.SetDefault("ridge", 1e-8)
	v.SetDefault("workers", 0)
	v.SetDefault("simulator.reps", sc.Reps)
	v.SetDefault("simulator.spread_factor", sc.SpreadFactor)
	v.SetDefault("simulator.population", sc.Population)
	v.SetDefault("simulator.infected0", sc.Infected0)
	v.SetDefault("simulator.recovered0", sc.Recovered0)
	v.SetDefault("simulator.times", sc.Times)
	v.SetDefault("ranges", []RangeConfig{
		{Name: "beta", Min: 0.2, Max: 0.8},
		{Name: "gamma", Min: 0.2, Max: 1},
		{Name: "delta", Min: 0.1, Max: 0.5},
		{Name: "mu", Min: 0.1, Max: 0.5},
	})
	v.SetDefault("targets", []TargetConfig{{Output: "I20", Value: 453, Sigma: 46.48}})
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_development", false)
	v.SetDefault("out", "hmcal-out")
}

// Load resolves the configuration and validates it.
// Precedence: flags > env > file > defaults. fs and path may be empty; when
// path is empty the --config flag, if registered and set, is used instead.
func Load(fs *flag.FlagSet, path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" && fs != nil {
		if f := fs.Lookup("config"); f != nil {
			path = f.Value.String()
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for key, name := range flagBindings {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
