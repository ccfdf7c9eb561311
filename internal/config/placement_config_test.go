package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gridsynapse/placement/libs/xklib/kerror"
	"github.com/gridsynapse/placement/placementjson"
)

func TestDefaultPlacementConfig(t *testing.T) {
	cfg := DefaultPlacementConfig()
	assert.Equal(t, int32(100), cfg.SolverConfig.TimeBudgetMs)
	assert.Equal(t, 0.2, cfg.CostFuncCfg.MigrationHysteresisFactor)
	assert.Equal(t, 0.1, cfg.ValidatorConfig.MaxInvalidFractionBeforeDiscard)
	assert.Equal(t, 0.7, cfg.CostFuncCfg.KwPerGpu)
	assert.Nil(t, Validate(cfg))
}

func TestParsePlacementConfigFromJson(t *testing.T) {
	cfg := ParsePlacementConfigFromJson(`{"solver": {"time_budget_ms": 20}, "cost_func": {"weight_carbon": 2.5}}`)
	assert.Equal(t, int32(20), cfg.SolverConfig.TimeBudgetMs)
	assert.Equal(t, int32(256), cfg.SolverConfig.CheckpointInterval)
	assert.Equal(t, 2.5, cfg.CostFuncCfg.WeightCarbon)
	assert.Equal(t, 1.0, cfg.CostFuncCfg.WeightPrice)

	assert.Panics(t, func() { ParsePlacementConfigFromJson("{oops") })
}

func TestToJsonRoundTripsEffectiveConfig(t *testing.T) {
	cfg := ParsePlacementConfigFromJson(`{"schedule": {"solve_cadence_s": 9}}`)
	again := PlacementConfigJsonToConfig(cfg.ToJson())
	assert.Equal(t, cfg, again)
}

func TestValidateBounds(t *testing.T) {
	cfg := DefaultPlacementConfig()
	cfg.CostFuncCfg.MigrationHysteresisFactor = 0.1
	err := Validate(cfg)
	assert.NotNil(t, err)
	assert.True(t, kerror.IsType(err, "ConfigOutOfBounds"))
	field, _ := err.(*kerror.Kerror).GetDetail("field")
	assert.Equal(t, "migration_hysteresis_factor", field)

	cfg = DefaultPlacementConfig()
	cfg.CostFuncCfg.MigrationHysteresisFactor = 5.5
	assert.NotNil(t, Validate(cfg))

	cfg = DefaultPlacementConfig()
	cfg.SolverConfig.TimeBudgetMs = 0
	assert.NotNil(t, Validate(cfg))

	cfg = DefaultPlacementConfig()
	cfg.CostFuncCfg.WeightPrice = 0
	cfg.CostFuncCfg.WeightCarbon = 0
	assert.NotNil(t, Validate(cfg))
}

func TestProposeConfig(t *testing.T) {
	ctx := context.Background()
	provider := NewDefaultConfigProvider(DefaultPlacementConfig())

	// accepted: merged onto current
	next, err := ProposeConfig(ctx, provider, &placementjson.PlacementConfigJson{
		CostFunc: &placementjson.CostFuncConfigJson{WeightCarbon: placementjson.NewFloat64Pointer(0.8)},
	})
	assert.Nil(t, err)
	assert.Equal(t, 0.8, next.CostFuncCfg.WeightCarbon)
	assert.Equal(t, 0.8, provider.GetConfig().CostFuncCfg.WeightCarbon)

	// second proposal keeps the first one's change
	_, err = ProposeConfig(ctx, provider, &placementjson.PlacementConfigJson{
		Solver: &placementjson.SolverConfigJson{TimeBudgetMs: placementjson.NewInt32Pointer(50)},
	})
	assert.Nil(t, err)
	assert.Equal(t, 0.8, provider.GetConfig().CostFuncCfg.WeightCarbon)
	assert.Equal(t, int32(50), provider.GetConfig().SolverConfig.TimeBudgetMs)

	// rejected: nothing changes
	_, err = ProposeConfig(ctx, provider, &placementjson.PlacementConfigJson{
		CostFunc: &placementjson.CostFuncConfigJson{MigrationHysteresisFactor: placementjson.NewFloat64Pointer(0.05)},
	})
	assert.NotNil(t, err)
	assert.Equal(t, 0.2, provider.GetConfig().CostFuncCfg.MigrationHysteresisFactor)
}

func TestRunWithConfigProvider(t *testing.T) {
	cfg := DefaultPlacementConfig()
	cfg.SolverConfig.TimeBudgetMs = 7
	RunWithConfigProvider(NewDefaultConfigProvider(cfg), func() {
		assert.Equal(t, int32(7), GetCurrentConfigProvider().GetConfig().SolverConfig.TimeBudgetMs)
	})
	assert.Equal(t, int32(100), GetCurrentConfigProvider().GetConfig().SolverConfig.TimeBudgetMs)
}

func TestParseConfigYaml(t *testing.T) {
	cfg, err := ParseConfigYaml([]byte("solver:\n  time_budget_ms: 80\ncost_func:\n  migration_hysteresis_factor: 0.5\n"))
	assert.Nil(t, err)
	assert.Equal(t, int32(80), cfg.SolverConfig.TimeBudgetMs)
	assert.Equal(t, 0.5, cfg.CostFuncCfg.MigrationHysteresisFactor)

	// json is valid yaml
	cfg, err = ParseConfigYaml([]byte(`{"validator": {"max_invalid_fraction_before_discard": 0.3}}`))
	assert.Nil(t, err)
	assert.Equal(t, 0.3, cfg.ValidatorConfig.MaxInvalidFractionBeforeDiscard)

	_, err = ParseConfigYaml([]byte("cost_func:\n  migration_hysteresis_factor: 9\n"))
	assert.NotNil(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("PLACEMENT_TIME_BUDGET_MS", "250")
	cfg := ApplyEnvOverrides(DefaultPlacementConfig())
	assert.Equal(t, int32(250), cfg.SolverConfig.TimeBudgetMs)
	assert.Equal(t, int32(5), cfg.ScheduleConfig.SolveCadenceSec)
}
