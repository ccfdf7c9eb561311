package config

import "github.com/gridsynapse/placement/placementjson"

type CostfuncConfig struct {
	WeightPrice     float64 // alpha
	WeightCarbon    float64 // beta, per kg CO2
	WeightMigration float64 // gamma

	// migration cost model
	MigrationHysteresisFactor float64 // a move must save more than factor * migration cost (default 0.2)
	MigrationDowntimePenalty  float64 // fixed cost per move (default 5)
	MigrationRiskWeight       float64 // risk term weight (default 10)
	MigrationRiskHorizonSec   int64   // jobs with less remaining time than this carry risk (default 3600)
	DefaultNetworkCostPerGb   float64 // used when no link is known between two datacenters (default 0.02)

	KwPerGpu float64 // power draw used to turn GPU hours into kWh (default 0.7)

	// forecast staleness
	StalenessThresholdSec int64   // freshest forecast point older than this marks the datacenter stale (default 300)
	StalePenaltyFactor    float64 // price and carbon cost of a stale datacenter are multiplied by this (default 1.25)

	CarbonNeutralCapGPerKwh float64 // carbon cap applied to jobs flagged carbon neutral (default 100)
}

func defaultCostfuncConfig() CostfuncConfig {
	return CostfuncConfig{
		WeightPrice:     1.0,
		WeightCarbon:    0.1,
		WeightMigration: 0.5,

		MigrationHysteresisFactor: 0.2,
		MigrationDowntimePenalty:  5,
		MigrationRiskWeight:       10,
		MigrationRiskHorizonSec:   3600,
		DefaultNetworkCostPerGb:   0.02,

		KwPerGpu: 0.7,

		StalenessThresholdSec: 300,
		StalePenaltyFactor:    1.25,

		CarbonNeutralCapGPerKwh: 100,
	}
}

func CostFuncConfigJsonToConfig(cfc *placementjson.CostFuncConfigJson) CostfuncConfig {
	return mergeCostfuncConfig(defaultCostfuncConfig(), cfc)
}

func mergeCostfuncConfig(cfg CostfuncConfig, cfc *placementjson.CostFuncConfigJson) CostfuncConfig {
	if cfc == nil {
		return cfg
	}
	if cfc.WeightPrice != nil {
		cfg.WeightPrice = *cfc.WeightPrice
	}
	if cfc.WeightCarbon != nil {
		cfg.WeightCarbon = *cfc.WeightCarbon
	}
	if cfc.WeightMigration != nil {
		cfg.WeightMigration = *cfc.WeightMigration
	}
	if cfc.MigrationHysteresisFactor != nil {
		cfg.MigrationHysteresisFactor = *cfc.MigrationHysteresisFactor
	}
	if cfc.MigrationDowntimePenalty != nil {
		cfg.MigrationDowntimePenalty = *cfc.MigrationDowntimePenalty
	}
	if cfc.MigrationRiskWeight != nil {
		cfg.MigrationRiskWeight = *cfc.MigrationRiskWeight
	}
	if cfc.MigrationRiskHorizonSec != nil {
		cfg.MigrationRiskHorizonSec = *cfc.MigrationRiskHorizonSec
	}
	if cfc.DefaultNetworkCostPerGb != nil {
		cfg.DefaultNetworkCostPerGb = *cfc.DefaultNetworkCostPerGb
	}
	if cfc.KwPerGpu != nil {
		cfg.KwPerGpu = *cfc.KwPerGpu
	}
	if cfc.StalenessThresholdSec != nil {
		cfg.StalenessThresholdSec = *cfc.StalenessThresholdSec
	}
	if cfc.StalePenaltyFactor != nil {
		cfg.StalePenaltyFactor = *cfc.StalePenaltyFactor
	}
	if cfc.CarbonNeutralCapGPerKwh != nil {
		cfg.CarbonNeutralCapGPerKwh = *cfc.CarbonNeutralCapGPerKwh
	}
	return cfg
}
