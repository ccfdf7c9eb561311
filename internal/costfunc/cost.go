package costfunc

import (
	"fmt"

	"github.com/gridsynapse/placement/internal/config"
	"github.com/gridsynapse/placement/internal/data"
)

// PlacementCost is the projected cost of running one job in one datacenter for its remaining duration.
type PlacementCost struct {
	PriceCost     float64 // USD
	CarbonKg      float64 // kg CO2
	MigrationCost float64 // 0 unless the option moves a running job
}

func NewPlacementCost(priceCost, carbonKg, migrationCost float64) PlacementCost {
	return PlacementCost{
		PriceCost:     priceCost,
		CarbonKg:      carbonKg,
		MigrationCost: migrationCost,
	}
}

// Operating is alpha*price + beta*carbon, the part of the cost that hysteresis compares.
func (pc PlacementCost) Operating(cfg *config.CostfuncConfig) float64 {
	return cfg.WeightPrice*pc.PriceCost + cfg.WeightCarbon*pc.CarbonKg
}

// Weighted is the objective coefficient: alpha*price + beta*carbon + gamma*migration.
func (pc PlacementCost) Weighted(cfg *config.CostfuncConfig) float64 {
	return pc.Operating(cfg) + cfg.WeightMigration*pc.MigrationCost
}

func (pc PlacementCost) String() string {
	return fmt.Sprintf("{price=%.3f, carbonKg=%.3f, mig=%.3f}", pc.PriceCost, pc.CarbonKg, pc.MigrationCost)
}

// EstimatePlacement turns window average price (USD per GPU hour) and carbon (g/kWh) into a cost.
// carbon kg = gpu * hours * kw_per_gpu * g_per_kwh / 1000
func EstimatePlacement(job *data.Job, avgPrice, avgCarbon float64, cfg *config.CostfuncConfig) PlacementCost {
	gpuHours := float64(job.GpuDemand) * job.RemainingHours()
	return PlacementCost{
		PriceCost: gpuHours * avgPrice,
		CarbonKg:  gpuHours * cfg.KwPerGpu * avgCarbon / 1000.0,
	}
}

// Inflate scales price and carbon, used for datacenters whose forecast is stale.
func (pc PlacementCost) Inflate(factor float64) PlacementCost {
	return PlacementCost{
		PriceCost:     pc.PriceCost * factor,
		CarbonKg:      pc.CarbonKg * factor,
		MigrationCost: pc.MigrationCost,
	}
}
