package placementjson

import (
	"encoding/json"

	"github.com/gridsynapse/placement/libs/xklib/kerror"
)

// PlacementConfigJson: every field is optional, missing ones take the default.
// The same shape is used for config files (json or yaml) and for agent proposals.
type PlacementConfigJson struct {
	Solver    *SolverConfigJson    `json:"solver,omitempty" yaml:"solver,omitempty"`
	CostFunc  *CostFuncConfigJson  `json:"cost_func,omitempty" yaml:"cost_func,omitempty"`
	Schedule  *ScheduleConfigJson  `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Validator *ValidatorConfigJson `json:"validator,omitempty" yaml:"validator,omitempty"`
}

type SolverConfigJson struct {
	TimeBudgetMs       *int32   `json:"time_budget_ms,omitempty" yaml:"time_budget_ms,omitempty"`
	CheckpointInterval *int32   `json:"checkpoint_interval,omitempty" yaml:"checkpoint_interval,omitempty"`
	LpBoundMaxCells    *int64   `json:"lp_bound_max_cells,omitempty" yaml:"lp_bound_max_cells,omitempty"`
	UnplacedPenalty    *float64 `json:"unplaced_penalty,omitempty" yaml:"unplaced_penalty,omitempty"`
}

type CostFuncConfigJson struct {
	WeightPrice               *float64 `json:"weight_price,omitempty" yaml:"weight_price,omitempty"`
	WeightCarbon              *float64 `json:"weight_carbon,omitempty" yaml:"weight_carbon,omitempty"`
	WeightMigration           *float64 `json:"weight_migration,omitempty" yaml:"weight_migration,omitempty"`
	MigrationHysteresisFactor *float64 `json:"migration_hysteresis_factor,omitempty" yaml:"migration_hysteresis_factor,omitempty"`
	MigrationDowntimePenalty  *float64 `json:"migration_downtime_penalty,omitempty" yaml:"migration_downtime_penalty,omitempty"`
	MigrationRiskWeight       *float64 `json:"migration_risk_weight,omitempty" yaml:"migration_risk_weight,omitempty"`
	MigrationRiskHorizonSec   *int64   `json:"migration_risk_horizon_s,omitempty" yaml:"migration_risk_horizon_s,omitempty"`
	DefaultNetworkCostPerGb   *float64 `json:"default_network_cost_per_gb,omitempty" yaml:"default_network_cost_per_gb,omitempty"`
	KwPerGpu                  *float64 `json:"kw_per_gpu,omitempty" yaml:"kw_per_gpu,omitempty"`
	StalenessThresholdSec     *int64   `json:"staleness_threshold_s,omitempty" yaml:"staleness_threshold_s,omitempty"`
	StalePenaltyFactor        *float64 `json:"stale_penalty_factor,omitempty" yaml:"stale_penalty_factor,omitempty"`
	CarbonNeutralCapGPerKwh   *float64 `json:"carbon_neutral_cap_g_per_kwh,omitempty" yaml:"carbon_neutral_cap_g_per_kwh,omitempty"`
}

type ScheduleConfigJson struct {
	SolveCadenceSec               *int32   `json:"solve_cadence_s,omitempty" yaml:"solve_cadence_s,omitempty"`
	DebounceMs                    *int32   `json:"debounce_ms,omitempty" yaml:"debounce_ms,omitempty"`
	ForecastSignificanceThreshold *float64 `json:"forecast_significance_threshold,omitempty" yaml:"forecast_significance_threshold,omitempty"`
}

type ValidatorConfigJson struct {
	MaxInvalidFractionBeforeDiscard *float64 `json:"max_invalid_fraction_before_discard,omitempty" yaml:"max_invalid_fraction_before_discard,omitempty"`
}

func ParsePlacementConfigJson(data string) (*PlacementConfigJson, error) {
	pc := &PlacementConfigJson{}
	if data == "" {
		return pc, nil
	}
	if err := json.Unmarshal([]byte(data), pc); err != nil {
		return nil, kerror.Wrap(err, "UnmarshalError", "failed to unmarshal PlacementConfigJson", false).
			WithErrorCode(kerror.EC_INVALID_PARAMETER)
	}
	return pc, nil
}

func (pc *PlacementConfigJson) ToJson() string {
	return mustMarshal(pc, "PlacementConfigJson")
}
