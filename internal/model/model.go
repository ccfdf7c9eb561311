package model

import (
	"fmt"

	"github.com/gridsynapse/placement/internal/config"
	"github.com/gridsynapse/placement/internal/costfunc"
	"github.com/gridsynapse/placement/internal/data"
	"github.com/gridsynapse/placement/internal/snapshot"
)

// Unplaced is the choice index meaning "job left out this cycle".
const Unplaced = -1

// Option is one binary variable: job j placed in datacenter d.
type Option struct {
	DatacenterId data.DatacenterId
	DcIdx        int   // index into Model.Datacenters
	Demand       int64 // capacity consumed, 0 for a stay
	Cost         costfunc.PlacementCost
	Coef         float64 // objective coefficient
	Operating    float64 // alpha*price + beta*carbon, compared by hysteresis
	Stay         bool
	Migration    bool
}

type JobVar struct {
	Job             *data.Job
	Options         []Option // in datacenter id order
	StayIdx         int      // index of the stay option, -1 if none
	UnplacedPenalty float64
}

// MinCoef is the cheapest option coefficient (UnplacedPenalty if there are no options).
func (jv *JobVar) MinCoef() float64 {
	lowest := jv.UnplacedPenalty
	for _, opt := range jv.Options {
		if opt.Coef < lowest {
			lowest = opt.Coef
		}
	}
	return lowest
}

type DcRow struct {
	Datacenter *data.Datacenter
	Capacity   int64 // free capacity at snapshot time
	Stale      bool
}

// Model is the placement problem of one snapshot. Built once, read only afterwards.
type Model struct {
	Snapshot         *snapshot.Snapshot
	CostCfg          config.CostfuncConfig
	NowMs            int64
	Jobs             []*JobVar // job id order, only jobs with at least one option
	Datacenters      []*DcRow  // datacenter id order
	StaleDatacenters []data.DatacenterId
	Unschedulable    []data.JobId // job id order
	Reasons          map[data.JobId]data.ReasonCode

	ceiling forecastCeiling
}

// forecastCeiling is the highest price and carbon of any forecast point in the scope. A stay in a
// datacenter with no forecast is priced there, inflated like a stale one.
type forecastCeiling struct {
	price  float64
	carbon float64
	ok     bool
}

func newForecastCeiling(snap *snapshot.Snapshot) forecastCeiling {
	var fc forecastCeiling
	for _, dc := range snap.Datacenters {
		for _, p := range snap.GetForecast(dc.DatacenterId) {
			if !fc.ok || p.PricePerGpuHour > fc.price {
				fc.price = p.PricePerGpuHour
			}
			if !fc.ok || p.CarbonGPerKwh > fc.carbon {
				fc.carbon = p.CarbonGPerKwh
			}
			fc.ok = true
		}
	}
	return fc
}

func (m *Model) NumVars() int {
	n := 0
	for _, jv := range m.Jobs {
		n += len(jv.Options)
	}
	return n
}

// Objective evaluates a full choice vector (one entry per Jobs, option index or Unplaced).
// Penalties of unplaced jobs are included.
func (m *Model) Objective(choice []int) float64 {
	total := 0.0
	for j, c := range choice {
		if c == Unplaced {
			total += m.Jobs[j].UnplacedPenalty
		} else {
			total += m.Jobs[j].Options[c].Coef
		}
	}
	return total
}

// PlacedObjective is Objective without unplaced penalties, the value reported to callers.
func (m *Model) PlacedObjective(choice []int) float64 {
	total := 0.0
	for j, c := range choice {
		if c != Unplaced {
			total += m.Jobs[j].Options[c].Coef
		}
	}
	return total
}

// Feasible reports whether the choice fits every datacenter's capacity.
func (m *Model) Feasible(choice []int) bool {
	used := make([]int64, len(m.Datacenters))
	for j, c := range choice {
		if c == Unplaced {
			continue
		}
		opt := m.Jobs[j].Options[c]
		used[opt.DcIdx] += opt.Demand
		if used[opt.DcIdx] > m.Datacenters[opt.DcIdx].Capacity {
			return false
		}
	}
	return true
}

func (m *Model) String() string {
	return fmt.Sprintf("{jobs=%d, dcs=%d, vars=%d, unschedulable=%d, stale=%d}",
		len(m.Jobs), len(m.Datacenters), m.NumVars(), len(m.Unschedulable), len(m.StaleDatacenters))
}
