package config

import (
	"encoding/json"

	"github.com/gridsynapse/placement/libs/xklib/kerror"
	"github.com/gridsynapse/placement/placementjson"
)

func ParsePlacementConfigFromJson(data string) *PlacementConfig {
	pc := &placementjson.PlacementConfigJson{}
	if data != "" {
		err := json.Unmarshal([]byte(data), pc)
		if err != nil {
			ke := kerror.Wrap(err, "UnmarshalError", "failed to unmarshal PlacementConfigJson", false)
			panic(ke)
		}
	}
	return PlacementConfigJsonToConfig(pc)
}

// PlacementConfig is the typed, bounded config of the placement core. Agents may only propose one of these (see ProposeConfig).
type PlacementConfig struct {
	SolverConfig    SolverConfig
	CostFuncCfg     CostfuncConfig
	ScheduleConfig  ScheduleConfig
	ValidatorConfig ValidatorConfig
}

type SolverConfig struct {
	TimeBudgetMs       int32   // hard wall clock budget per solve (default 100)
	CheckpointInterval int32   // branch and bound nodes between budget/cancel checks (default 256)
	LpBoundMaxCells    int64   // skip LP bound when rows*cols exceeds this (default 20000)
	UnplacedPenalty    float64 // base cost of leaving a job unplaced, scaled by priority (default 1e6)
}

type ScheduleConfig struct {
	SolveCadenceSec               int32   // periodic solve (default 5)
	DebounceMs                    int32   // on-demand triggers within this window collapse into one solve (default 200)
	ForecastSignificanceThreshold float64 // relative price/carbon move that triggers a solve (default 0.1)
}

type ValidatorConfig struct {
	MaxInvalidFractionBeforeDiscard float64 // default 0.1
}

func DefaultPlacementConfig() *PlacementConfig {
	return PlacementConfigJsonToConfig(&placementjson.PlacementConfigJson{})
}

func PlacementConfigJsonToConfig(pc *placementjson.PlacementConfigJson) *PlacementConfig {
	return MergePlacementConfig(&PlacementConfig{
		SolverConfig:    defaultSolverConfig(),
		CostFuncCfg:     defaultCostfuncConfig(),
		ScheduleConfig:  defaultScheduleConfig(),
		ValidatorConfig: defaultValidatorConfig(),
	}, pc)
}

// MergePlacementConfig returns a copy of base with every non-nil field of pc applied.
func MergePlacementConfig(base *PlacementConfig, pc *placementjson.PlacementConfigJson) *PlacementConfig {
	cfg := *base
	if pc == nil {
		return &cfg
	}
	cfg.SolverConfig = mergeSolverConfig(cfg.SolverConfig, pc.Solver)
	cfg.CostFuncCfg = mergeCostfuncConfig(cfg.CostFuncCfg, pc.CostFunc)
	cfg.ScheduleConfig = mergeScheduleConfig(cfg.ScheduleConfig, pc.Schedule)
	cfg.ValidatorConfig = mergeValidatorConfig(cfg.ValidatorConfig, pc.Validator)
	return &cfg
}

func defaultSolverConfig() SolverConfig {
	return SolverConfig{
		TimeBudgetMs:       100,
		CheckpointInterval: 256,
		LpBoundMaxCells:    20000,
		UnplacedPenalty:    1e6,
	}
}

func mergeSolverConfig(cfg SolverConfig, sc *placementjson.SolverConfigJson) SolverConfig {
	if sc == nil {
		return cfg
	}
	if sc.TimeBudgetMs != nil {
		cfg.TimeBudgetMs = *sc.TimeBudgetMs
	}
	if sc.CheckpointInterval != nil {
		cfg.CheckpointInterval = *sc.CheckpointInterval
	}
	if sc.LpBoundMaxCells != nil {
		cfg.LpBoundMaxCells = *sc.LpBoundMaxCells
	}
	if sc.UnplacedPenalty != nil {
		cfg.UnplacedPenalty = *sc.UnplacedPenalty
	}
	return cfg
}

func defaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{
		SolveCadenceSec:               5,
		DebounceMs:                    200,
		ForecastSignificanceThreshold: 0.1,
	}
}

func mergeScheduleConfig(cfg ScheduleConfig, sc *placementjson.ScheduleConfigJson) ScheduleConfig {
	if sc == nil {
		return cfg
	}
	if sc.SolveCadenceSec != nil {
		cfg.SolveCadenceSec = *sc.SolveCadenceSec
	}
	if sc.DebounceMs != nil {
		cfg.DebounceMs = *sc.DebounceMs
	}
	if sc.ForecastSignificanceThreshold != nil {
		cfg.ForecastSignificanceThreshold = *sc.ForecastSignificanceThreshold
	}
	return cfg
}

func defaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxInvalidFractionBeforeDiscard: 0.1,
	}
}

func mergeValidatorConfig(cfg ValidatorConfig, vc *placementjson.ValidatorConfigJson) ValidatorConfig {
	if vc == nil {
		return cfg
	}
	if vc.MaxInvalidFractionBeforeDiscard != nil {
		cfg.MaxInvalidFractionBeforeDiscard = *vc.MaxInvalidFractionBeforeDiscard
	}
	return cfg
}

// ToJson renders the full effective config, every field set.
func (cfg *PlacementConfig) ToJson() *placementjson.PlacementConfigJson {
	sc := cfg.SolverConfig
	cf := cfg.CostFuncCfg
	sch := cfg.ScheduleConfig
	return &placementjson.PlacementConfigJson{
		Solver: &placementjson.SolverConfigJson{
			TimeBudgetMs:       placementjson.NewInt32Pointer(sc.TimeBudgetMs),
			CheckpointInterval: placementjson.NewInt32Pointer(sc.CheckpointInterval),
			LpBoundMaxCells:    placementjson.NewInt64Pointer(sc.LpBoundMaxCells),
			UnplacedPenalty:    placementjson.NewFloat64Pointer(sc.UnplacedPenalty),
		},
		CostFunc: &placementjson.CostFuncConfigJson{
			WeightPrice:               placementjson.NewFloat64Pointer(cf.WeightPrice),
			WeightCarbon:              placementjson.NewFloat64Pointer(cf.WeightCarbon),
			WeightMigration:           placementjson.NewFloat64Pointer(cf.WeightMigration),
			MigrationHysteresisFactor: placementjson.NewFloat64Pointer(cf.MigrationHysteresisFactor),
			MigrationDowntimePenalty:  placementjson.NewFloat64Pointer(cf.MigrationDowntimePenalty),
			MigrationRiskWeight:       placementjson.NewFloat64Pointer(cf.MigrationRiskWeight),
			MigrationRiskHorizonSec:   placementjson.NewInt64Pointer(cf.MigrationRiskHorizonSec),
			DefaultNetworkCostPerGb:   placementjson.NewFloat64Pointer(cf.DefaultNetworkCostPerGb),
			KwPerGpu:                  placementjson.NewFloat64Pointer(cf.KwPerGpu),
			StalenessThresholdSec:     placementjson.NewInt64Pointer(cf.StalenessThresholdSec),
			StalePenaltyFactor:        placementjson.NewFloat64Pointer(cf.StalePenaltyFactor),
			CarbonNeutralCapGPerKwh:   placementjson.NewFloat64Pointer(cf.CarbonNeutralCapGPerKwh),
		},
		Schedule: &placementjson.ScheduleConfigJson{
			SolveCadenceSec:               placementjson.NewInt32Pointer(sch.SolveCadenceSec),
			DebounceMs:                    placementjson.NewInt32Pointer(sch.DebounceMs),
			ForecastSignificanceThreshold: placementjson.NewFloat64Pointer(sch.ForecastSignificanceThreshold),
		},
		Validator: &placementjson.ValidatorConfigJson{
			MaxInvalidFractionBeforeDiscard: placementjson.NewFloat64Pointer(cfg.ValidatorConfig.MaxInvalidFractionBeforeDiscard),
		},
	}
}
