package model

import (
	"github.com/gridsynapse/placement/internal/config"
	"github.com/gridsynapse/placement/internal/costfunc"
	"github.com/gridsynapse/placement/internal/data"
	"github.com/gridsynapse/placement/internal/snapshot"
)

// Build turns a frozen snapshot into the placement model. The snapshot's TakenAtMs is "now", so
// the same snapshot and config always give the same model.
// Jobs with no eligible datacenter are returned as unschedulable (ModelInfeasible); that is not an error.
func Build(snap *snapshot.Snapshot, cfg *config.PlacementConfig) (*Model, []data.JobId) {
	costCfg := cfg.CostFuncCfg
	m := &Model{
		Snapshot: snap,
		CostCfg:  costCfg,
		NowMs:    snap.TakenAtMs,
		Reasons:  map[data.JobId]data.ReasonCode{},
		ceiling:  newForecastCeiling(snap),
	}
	dcIdx := make(map[data.DatacenterId]int, len(snap.Datacenters))
	for i, dc := range snap.Datacenters {
		stale := snap.IsStale(dc.DatacenterId, m.NowMs, costCfg.StalenessThresholdSec)
		m.Datacenters = append(m.Datacenters, &DcRow{Datacenter: dc, Capacity: dc.FreeCapacityGpu, Stale: stale})
		dcIdx[dc.DatacenterId] = i
		if stale {
			m.StaleDatacenters = append(m.StaleDatacenters, dc.DatacenterId)
		}
	}

	for _, job := range snap.Jobs {
		jv := &JobVar{Job: job, StayIdx: -1}
		var from *data.Datacenter
		if job.IsRunning() {
			if i, ok := dcIdx[job.CurrentDatacenter]; ok {
				from = m.Datacenters[i].Datacenter
			}
		}
		capacityBlocked := false
		maxCoef := 0.0
		for i, row := range m.Datacenters {
			dc := row.Datacenter
			stay := from != nil && dc.DatacenterId == from.DatacenterId
			verdict := m.eligible(job, row, stay)
			if verdict == elCapacity {
				capacityBlocked = true
			}
			if verdict != elOk {
				continue
			}
			opt := m.option(job, row, i, from, stay)
			if opt.Coef > maxCoef {
				maxCoef = opt.Coef
			}
			if stay {
				jv.StayIdx = len(jv.Options)
			}
			jv.Options = append(jv.Options, opt)
		}
		if len(jv.Options) == 0 {
			reason := data.RC_NoEligibleDc
			if capacityBlocked {
				reason = data.RC_CapacityExhausted
			}
			m.Unschedulable = append(m.Unschedulable, job.JobId)
			m.Reasons[job.JobId] = reason
			continue
		}
		// unplaced always costs more than any placement, higher priority and value cost more
		priority := job.Priority
		if priority < 0 {
			priority = 0
		}
		jv.UnplacedPenalty = cfg.SolverConfig.UnplacedPenalty*float64(1+priority) + job.Value + maxCoef
		m.Jobs = append(m.Jobs, jv)
	}
	return m, m.Unschedulable
}

type eligibility int

const (
	elOk eligibility = iota
	elUnavailable
	elCapacity
	elConstraint
	elNoForecast
	elSla
)

// eligible: staying put needs nothing but an available datacenter. A new placement needs an
// available datacenter with room, a forecast, matching region and tags, the carbon cap, and the deadline.
func (m *Model) eligible(job *data.Job, row *DcRow, stay bool) eligibility {
	dc := row.Datacenter
	if !dc.Available {
		return elUnavailable
	}
	if stay {
		return elOk
	}
	if !job.AllowsRegion(dc.Region) || !dc.HasAllTags(job.RequiredComplianceTags) {
		return elConstraint
	}
	points := m.Snapshot.GetForecast(dc.DatacenterId)
	if len(points) == 0 {
		return elNoForecast
	}
	if job.CarbonCapGPerKwh > 0 {
		_, carbon, _ := costfunc.WindowAverage(points, m.NowMs, m.windowEnd(job))
		if carbon > job.CarbonCapGPerKwh {
			return elConstraint
		}
	}
	if job.HasDeadline() {
		finishMs := m.NowMs + (dc.EstimatedQueueDelaySec+job.RemainingDurationSec)*1000
		if finishMs > job.DeadlineMs {
			return elSla
		}
	}
	if row.Capacity <= 0 || job.GpuDemand > row.Capacity {
		return elCapacity
	}
	return elOk
}

func (m *Model) windowEnd(job *data.Job) int64 {
	return m.NowMs + job.RemainingDurationSec*1000
}

func (m *Model) option(job *data.Job, row *DcRow, idx int, from *data.Datacenter, stay bool) Option {
	dc := row.Datacenter
	opt := Option{
		DatacenterId: dc.DatacenterId,
		DcIdx:        idx,
		Demand:       job.GpuDemand,
		Stay:         stay,
	}
	if stay {
		opt.Demand = 0
	}
	if price, carbon, ok := costfunc.WindowAverage(m.Snapshot.GetForecast(dc.DatacenterId), m.NowMs, m.windowEnd(job)); ok {
		opt.Cost = costfunc.EstimatePlacement(job, price, carbon, &m.CostCfg)
		if row.Stale {
			opt.Cost = opt.Cost.Inflate(m.CostCfg.StalePenaltyFactor)
		}
	} else if m.ceiling.ok {
		// Build only gets here for a stay, new placements need a forecast
		opt.Cost = costfunc.EstimatePlacement(job, m.ceiling.price, m.ceiling.carbon, &m.CostCfg).Inflate(m.CostCfg.StalePenaltyFactor)
	}
	if from != nil && !stay {
		opt.Migration = true
		opt.Cost.MigrationCost = costfunc.MigrationCost(job, from, dc, &m.CostCfg).Total()
	}
	opt.Operating = opt.Cost.Operating(&m.CostCfg)
	opt.Coef = opt.Cost.Weighted(&m.CostCfg)
	return opt
}

// EvaluateOption prices one (job, datacenter) pair the way Build does, skipping eligibility.
// ok is false when the datacenter is not in the snapshot.
func EvaluateOption(snap *snapshot.Snapshot, cfg *config.PlacementConfig, job *data.Job, dcId data.DatacenterId) (Option, bool) {
	dc, ok := snap.GetDatacenter(dcId)
	if !ok {
		return Option{}, false
	}
	m := &Model{Snapshot: snap, CostCfg: cfg.CostFuncCfg, NowMs: snap.TakenAtMs, ceiling: newForecastCeiling(snap)}
	var from *data.Datacenter
	if job.IsRunning() {
		from, _ = snap.GetDatacenter(job.CurrentDatacenter)
	}
	stay := from != nil && from.DatacenterId == dcId
	row := &DcRow{Datacenter: dc, Capacity: dc.FreeCapacityGpu, Stale: snap.IsStale(dcId, m.NowMs, cfg.CostFuncCfg.StalenessThresholdSec)}
	return m.option(job, row, -1, from, stay), true
}
