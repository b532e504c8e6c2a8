package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// FleetPlan describes which processes the master spawns. Loaded from a YAML
// file so a simulation run can be reshaped without recompiling.
type FleetPlan struct {
	Workers    int    `yaml:"workers"`
	Trucks     int    `yaml:"trucks"`
	Dispatcher bool   `yaml:"dispatcher"`
	Express    bool   `yaml:"express"`
	BinDir     string `yaml:"bin_dir"`
}

// DefaultPlan returns the plan used when no file is given: a full pipeline
// with the worker cap saturated and two competing trucks.
func DefaultPlan() *FleetPlan {
	return &FleetPlan{
		Workers:    3,
		Trucks:     2,
		Dispatcher: true,
		Express:    true,
		BinDir:     ".",
	}
}

// LoadPlan reads a fleet plan from a YAML file.
func LoadPlan(path string) (*FleetPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fleet plan: %w", err)
	}

	plan := DefaultPlan()
	if err := yaml.Unmarshal(data, plan); err != nil {
		return nil, fmt.Errorf("failed to parse fleet plan %s: %w", path, err)
	}

	if plan.Workers < 0 || plan.Trucks < 0 {
		return nil, fmt.Errorf("fleet plan %s: negative process counts", path)
	}
	if plan.BinDir == "" {
		plan.BinDir = "."
	}
	return plan, nil
}
