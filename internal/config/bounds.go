package config

import (
	"github.com/gridsynapse/placement/libs/xklib/kerror"
)

type floatBound struct {
	name     string
	val      float64
	min, max float64
}

type intBound struct {
	name     string
	val      int64
	min, max int64
}

// Validate checks every field against its allowed range. The first violation is returned as a ConfigOutOfBounds error.
func Validate(cfg *PlacementConfig) error {
	sc := cfg.SolverConfig
	cf := cfg.CostFuncCfg
	sch := cfg.ScheduleConfig
	ints := []intBound{
		{"time_budget_ms", int64(sc.TimeBudgetMs), 1, 60000},
		{"checkpoint_interval", int64(sc.CheckpointInterval), 1, 1 << 20},
		{"lp_bound_max_cells", sc.LpBoundMaxCells, 0, 100000000},
		{"migration_risk_horizon_s", cf.MigrationRiskHorizonSec, 1, 7 * 86400},
		{"staleness_threshold_s", cf.StalenessThresholdSec, 1, 86400},
		{"solve_cadence_s", int64(sch.SolveCadenceSec), 1, 3600},
		{"debounce_ms", int64(sch.DebounceMs), 0, 60000},
	}
	for _, b := range ints {
		if b.val < b.min || b.val > b.max {
			return outOfBounds(b.name, b.val, b.min, b.max)
		}
	}
	floats := []floatBound{
		{"unplaced_penalty", sc.UnplacedPenalty, 1, 1e12},
		{"weight_price", cf.WeightPrice, 0, 100},
		{"weight_carbon", cf.WeightCarbon, 0, 100},
		{"weight_migration", cf.WeightMigration, 0, 100},
		{"migration_hysteresis_factor", cf.MigrationHysteresisFactor, 0.2, 5},
		{"migration_downtime_penalty", cf.MigrationDowntimePenalty, 0, 1e6},
		{"migration_risk_weight", cf.MigrationRiskWeight, 0, 1e6},
		{"default_network_cost_per_gb", cf.DefaultNetworkCostPerGb, 0, 100},
		{"kw_per_gpu", cf.KwPerGpu, 0.01, 10},
		{"stale_penalty_factor", cf.StalePenaltyFactor, 1, 10},
		{"carbon_neutral_cap_g_per_kwh", cf.CarbonNeutralCapGPerKwh, 0, 2000},
		{"forecast_significance_threshold", sch.ForecastSignificanceThreshold, 0, 10},
		{"max_invalid_fraction_before_discard", cfg.ValidatorConfig.MaxInvalidFractionBeforeDiscard, 0, 1},
	}
	for _, b := range floats {
		// NaN fails both comparisons, so test for the in-range case
		if !(b.val >= b.min && b.val <= b.max) {
			return outOfBounds(b.name, b.val, b.min, b.max)
		}
	}
	if cf.WeightPrice+cf.WeightCarbon <= 0 {
		return kerror.Create("ConfigOutOfBounds", "weight_price and weight_carbon cannot both be zero").
			WithErrorCode(kerror.EC_INVALID_PARAMETER).WithoutStack()
	}
	return nil
}

func outOfBounds(name string, val, lo, hi interface{}) *kerror.Kerror {
	return kerror.Create("ConfigOutOfBounds", "config field out of bounds").
		With("field", name).
		With("value", val).
		With("min", lo).
		With("max", hi).
		WithErrorCode(kerror.EC_INVALID_PARAMETER).
		WithoutStack()
}
