package costfunc

import (
	"github.com/gridsynapse/placement/internal/config"
	"github.com/gridsynapse/placement/internal/data"
)

type MigrationEstimate struct {
	Transfer float64 // memory_gb * network cost per GB
	Downtime float64 // fixed
	Risk     float64 // grows as the job nears completion
}

func (me MigrationEstimate) Total() float64 {
	return me.Transfer + me.Downtime + me.Risk
}

// MigrationCost estimates moving a running job from one datacenter to another. Moving to the same datacenter costs nothing.
func MigrationCost(job *data.Job, from *data.Datacenter, to *data.Datacenter, cfg *config.CostfuncConfig) MigrationEstimate {
	if from == nil || from.DatacenterId == to.DatacenterId {
		return MigrationEstimate{}
	}
	costPerGb := cfg.DefaultNetworkCostPerGb
	if link, ok := from.Links[to.DatacenterId]; ok {
		costPerGb = link.CostPerGb
	}
	est := MigrationEstimate{
		Transfer: job.MemoryGb() * costPerGb,
		Downtime: cfg.MigrationDowntimePenalty,
	}
	if cfg.MigrationRiskHorizonSec > 0 {
		frac := 1.0 - float64(job.RemainingDurationSec)/float64(cfg.MigrationRiskHorizonSec)
		if frac > 0 {
			est.Risk = cfg.MigrationRiskWeight * frac
		}
	}
	return est
}

// ShouldMigrate: a move is confirmed only when the saving beats factor * migrationCost (strictly).
func ShouldMigrate(oldCost, newCost, migrationCost, factor float64) bool {
	return (oldCost - newCost) > factor*migrationCost
}
