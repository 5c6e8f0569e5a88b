package config

import (
	"fmt"
	"math"

	"github.com/observe-l/hmcal/emulator"
	"github.com/observe-l/hmcal/histmatch"
	"github.com/observe-l/hmcal/internal/sim"
)

// Validate fails fast on values the pipeline cannot run with.
func Validate(cfg *Config) error {
	if _, err := emulator.ParseDegree(cfg.Degree); err != nil {
		return err
	}
	if !(cfg.Significance > 0 && cfg.Significance < 1) {
		return fmt.Errorf("significance must be in (0,1), got %v", cfg.Significance)
	}
	if !(cfg.Cutoff > 0) {
		return fmt.Errorf("cutoff must be positive, got %v", cfg.Cutoff)
	}
	if cfg.Nth < 1 {
		return fmt.Errorf("nth must be at least 1, got %d", cfg.Nth)
	}
	if !(cfg.MethodVariance >= 0) {
		return fmt.Errorf("method variance must be non-negative, got %v", cfg.MethodVariance)
	}
	if len(cfg.SensitivityLevels) == 0 {
		return fmt.Errorf("at least one sensitivity level is required")
	}
	for _, l := range cfg.SensitivityLevels {
		if !(l > 0) || math.IsInf(l, 0) {
			return fmt.Errorf("sensitivity level must be positive, got %v", l)
		}
	}
	if _, err := histmatch.ParsePerturbation(cfg.SensitivityMode); err != nil {
		return err
	}
	if cfg.GridPoints < 2 {
		return fmt.Errorf("grid points must be at least 2, got %d", cfg.GridPoints)
	}
	if cfg.RefocusMaxAttempts < 1 {
		return fmt.Errorf("refocus max attempts must be at least 1, got %d", cfg.RefocusMaxAttempts)
	}
	if cfg.RefocusBatch < 0 {
		return fmt.Errorf("refocus batch must be non-negative, got %d", cfg.RefocusBatch)
	}
	if !(cfg.MinDistance >= 0) {
		return fmt.Errorf("min distance must be non-negative, got %v", cfg.MinDistance)
	}
	if cfg.PointsPerWave <= 0 {
		return fmt.Errorf("points per wave must be positive, got %d", cfg.PointsPerWave)
	}
	if cfg.Waves < 1 {
		return fmt.Errorf("waves must be at least 1, got %d", cfg.Waves)
	}
	if !(cfg.TrainFraction > 0 && cfg.TrainFraction <= 1) {
		return fmt.Errorf("train fraction must be in (0,1], got %v", cfg.TrainFraction)
	}
	if !(cfg.Ridge >= 0) {
		return fmt.Errorf("ridge must be non-negative, got %v", cfg.Ridge)
	}
	if cfg.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", cfg.Workers)
	}
	for _, n := range cfg.Nuggets {
		if !(n.Value >= 0) || math.IsInf(n.Value, 0) {
			return fmt.Errorf("nugget for %s must be non-negative, got %v", n.Output, n.Value)
		}
	}
	if err := cfg.InputRanges().Validate(); err != nil {
		return err
	}
	sc := cfg.Scenario()
	if err := sc.Validate(); err != nil {
		return err
	}
	if len(cfg.Ranges) != len(sim.ParamNames) {
		return fmt.Errorf("simulator takes %d inputs %v, got %d ranges", len(sim.ParamNames), sim.ParamNames, len(cfg.Ranges))
	}
	return validateTargets(cfg, sc)
}

func validateTargets(cfg *Config, sc sim.Scenario) error {
	if len(cfg.Targets) == 0 {
		return fmt.Errorf("%w: no targets", histmatch.ErrInvalidTarget)
	}
	known := make(map[emulator.OutputID]bool, 2*len(sc.Times))
	for _, t := range sc.Times {
		known[sim.InfectedID(t)] = true
		known[sim.RecoveredID(t)] = true
	}
	seen := make(map[string]bool, len(cfg.Targets))
	for _, t := range cfg.Targets {
		if seen[t.Output] {
			return fmt.Errorf("%w: duplicate target %s", histmatch.ErrInvalidTarget, t.Output)
		}
		seen[t.Output] = true
		if !known[emulator.OutputID(t.Output)] {
			return fmt.Errorf("%w: %s is not a simulator output", histmatch.ErrInvalidTarget, t.Output)
		}
	}
	return cfg.TargetSet().Validate()
}
