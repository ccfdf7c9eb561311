package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gridsynapse/placement/libs/xklib/kcommon"
	"github.com/gridsynapse/placement/libs/xklib/kerror"
	"github.com/gridsynapse/placement/placementjson"
)

// LoadConfigFile reads a yaml (or json, which yaml accepts) config file. Missing fields take defaults.
func LoadConfigFile(path string) (*PlacementConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, kerror.Wrap(err, "ConfigLoadError", "failed to read config file", false).With("path", path)
	}
	return ParseConfigYaml(data)
}

func ParseConfigYaml(data []byte) (*PlacementConfig, error) {
	pc := &placementjson.PlacementConfigJson{}
	if err := yaml.Unmarshal(data, pc); err != nil {
		return nil, kerror.Wrap(err, "ConfigLoadError", "failed to parse config", false).
			WithErrorCode(kerror.EC_INVALID_PARAMETER)
	}
	cfg := PlacementConfigJsonToConfig(pc)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides lets a deployment tune the two knobs most often changed without a file.
func ApplyEnvOverrides(cfg *PlacementConfig) *PlacementConfig {
	next := *cfg
	next.SolverConfig.TimeBudgetMs = int32(kcommon.GetEnvInt("PLACEMENT_TIME_BUDGET_MS", int(cfg.SolverConfig.TimeBudgetMs)))
	next.ScheduleConfig.SolveCadenceSec = int32(kcommon.GetEnvInt("PLACEMENT_SOLVE_CADENCE_S", int(cfg.ScheduleConfig.SolveCadenceSec)))
	return &next
}
