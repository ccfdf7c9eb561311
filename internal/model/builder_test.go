package model

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"

	"github.com/gridsynapse/placement/internal/config"
	"github.com/gridsynapse/placement/internal/data"
	"github.com/gridsynapse/placement/internal/snapshot"
)

const nowMs = int64(1_000_000)

func dc(id string, free int64, price, carbon float64) (*data.Datacenter, data.ForecastPoint) {
	return &data.Datacenter{
			DatacenterId:     data.DatacenterId(id),
			Region:           "r1",
			TotalCapacityGpu: free,
			FreeCapacityGpu:  free,
			Available:        true,
		}, data.ForecastPoint{
			DatacenterId:    data.DatacenterId(id),
			TimestampMs:     nowMs,
			PricePerGpuHour: price,
			CarbonGPerKwh:   carbon,
		}
}

func build(jobs []*data.Job, dcs ...func() (*data.Datacenter, data.ForecastPoint)) *snapshot.Snapshot {
	snap := snapshot.NewSnapshot("test", 1, nowMs)
	for _, job := range jobs {
		snap.AddJob(job)
	}
	for _, fn := range dcs {
		d, p := fn()
		snap.AddDatacenter(d)
		snap.AddForecast(p)
	}
	return snap.Freeze()
}

func dcFn(id string, free int64, price, carbon float64) func() (*data.Datacenter, data.ForecastPoint) {
	return func() (*data.Datacenter, data.ForecastPoint) { return dc(id, free, price, carbon) }
}

func TestBuild_optionsAndOrdering(t *testing.T) {
	cfg := config.DefaultPlacementConfig()
	snap := build([]*data.Job{
		{JobId: "j2", GpuDemand: 5, RemainingDurationSec: 3600},
		{JobId: "j1", GpuDemand: 20, RemainingDurationSec: 3600},
	}, dcFn("b", 10, 0.05, 200), dcFn("a", 25, 0.10, 50))

	m, unschedulable := Build(snap, cfg)
	assert.Empty(t, unschedulable)
	assert.Len(t, m.Jobs, 2)
	assert.Equal(t, data.JobId("j1"), m.Jobs[0].Job.JobId)
	// j1 (20 GPUs) only fits in a
	assert.Len(t, m.Jobs[0].Options, 1)
	assert.Equal(t, data.DatacenterId("a"), m.Jobs[0].Options[0].DatacenterId)
	// j2 fits both, in id order
	assert.Equal(t, data.DatacenterId("a"), m.Jobs[1].Options[0].DatacenterId)
	assert.Equal(t, data.DatacenterId("b"), m.Jobs[1].Options[1].DatacenterId)
	assert.Equal(t, 3, m.NumVars())

	// 20 gpu-h at $0.10 + 0.1 * (20 * 0.7 * 50 / 1000) kg
	assert.InDelta(t, 2.0+0.1*0.7, m.Jobs[0].Options[0].Coef, 1e-9)
	assert.Greater(t, m.Jobs[0].UnplacedPenalty, m.Jobs[0].Options[0].Coef)
}

func TestBuild_infeasibleJob(t *testing.T) {
	cfg := config.DefaultPlacementConfig()
	snap := build([]*data.Job{
		{JobId: "big", GpuDemand: 50, RemainingDurationSec: 3600},
		{JobId: "eu-only", GpuDemand: 1, RemainingDurationSec: 3600, AllowedRegions: []data.Region{"eu"}},
	}, dcFn("a", 25, 0.10, 50), dcFn("b", 10, 0.05, 200))

	m, unschedulable := Build(snap, cfg)
	assert.Equal(t, []data.JobId{"big", "eu-only"}, unschedulable)
	assert.Equal(t, data.RC_CapacityExhausted, m.Reasons["big"])
	assert.Equal(t, data.RC_NoEligibleDc, m.Reasons["eu-only"])
	assert.Empty(t, m.Jobs)
}

func TestBuild_constraints(t *testing.T) {
	cfg := config.DefaultPlacementConfig()
	tagged := func() (*data.Datacenter, data.ForecastPoint) {
		d, p := dc("tagged", 10, 1, 50)
		d.ComplianceTags = []data.ComplianceTag{"hipaa", "soc2"}
		return d, p
	}
	down := func() (*data.Datacenter, data.ForecastPoint) {
		d, p := dc("down", 10, 0.01, 10)
		d.Available = false
		return d, p
	}
	slow := func() (*data.Datacenter, data.ForecastPoint) {
		d, p := dc("slow", 10, 0.01, 10)
		d.EstimatedQueueDelaySec = 600
		return d, p
	}
	snap := build([]*data.Job{
		{JobId: "compliant", GpuDemand: 1, RemainingDurationSec: 60, RequiredComplianceTags: []data.ComplianceTag{"hipaa"}},
		{JobId: "green", GpuDemand: 1, RemainingDurationSec: 60, CarbonCapGPerKwh: 100},
		{JobId: "urgent", GpuDemand: 1, RemainingDurationSec: 60, DeadlineMs: nowMs + 120_000},
	}, tagged, down, slow, dcFn("dirty", 10, 0.01, 400))

	m, unschedulable := Build(snap, cfg)
	assert.Empty(t, unschedulable)
	optionIds := func(jv *JobVar) []data.DatacenterId {
		var ids []data.DatacenterId
		for _, opt := range jv.Options {
			ids = append(ids, opt.DatacenterId)
		}
		return ids
	}
	assert.Equal(t, []data.DatacenterId{"tagged"}, optionIds(m.Jobs[0]))
	assert.Equal(t, []data.DatacenterId{"slow", "tagged"}, optionIds(m.Jobs[1]))
	// 600s queue + 60s run misses a 120s deadline
	assert.Equal(t, []data.DatacenterId{"dirty", "tagged"}, optionIds(m.Jobs[2]))
}

func TestBuild_stayAndMigration(t *testing.T) {
	cfg := config.DefaultPlacementConfig()
	// the current datacenter is full but staying needs no new capacity
	snap := build([]*data.Job{
		{JobId: "run", GpuDemand: 4, MemoryMb: 10 * 1024, RemainingDurationSec: 7200, CurrentDatacenter: "a"},
	}, dcFn("a", 0, 1.0, 100), dcFn("b", 10, 0.5, 100))

	m, _ := Build(snap, cfg)
	jv := m.Jobs[0]
	assert.Len(t, jv.Options, 2)
	assert.Equal(t, 0, jv.StayIdx)
	stay := jv.Options[0]
	assert.True(t, stay.Stay)
	assert.Equal(t, int64(0), stay.Demand)
	assert.Equal(t, 0.0, stay.Cost.MigrationCost)

	move := jv.Options[1]
	assert.True(t, move.Migration)
	assert.Equal(t, int64(4), move.Demand)
	// 10 GB * 0.02 + 5 downtime, no risk for a 2h job
	assert.InDelta(t, 5.2, move.Cost.MigrationCost, 1e-9)
	assert.InDelta(t, move.Operating+0.5*5.2, move.Coef, 1e-9)
}

func TestBuild_staleDatacenter(t *testing.T) {
	cfg := config.DefaultPlacementConfig()
	old := func() (*data.Datacenter, data.ForecastPoint) {
		d, p := dc("old", 10, 1.0, 0)
		p.TimestampMs = nowMs - 3600_000
		return d, p
	}
	snap := build([]*data.Job{{JobId: "j", GpuDemand: 1, RemainingDurationSec: 3600}}, old, dcFn("fresh", 10, 1.0, 0))

	m, _ := Build(snap, cfg)
	assert.Equal(t, []data.DatacenterId{"old"}, m.StaleDatacenters)
	assert.InDelta(t, 1.25, m.Jobs[0].Options[0].Coef, 1e-9)
	assert.InDelta(t, 1.0, m.Jobs[0].Options[1].Coef, 1e-9)
}

func TestBuild_priorityScalesPenalty(t *testing.T) {
	cfg := config.DefaultPlacementConfig()
	snap := build([]*data.Job{
		{JobId: "hi", GpuDemand: 1, RemainingDurationSec: 60, Priority: 3},
		{JobId: "lo", GpuDemand: 1, RemainingDurationSec: 60, Priority: 0},
	}, dcFn("a", 1, 1, 1))
	m, _ := Build(snap, cfg)
	assert.Greater(t, m.Jobs[0].UnplacedPenalty, m.Jobs[1].UnplacedPenalty)
}

func TestBuild_deterministic(t *testing.T) {
	cfg := config.DefaultPlacementConfig()
	jobs := func() []*data.Job {
		return []*data.Job{
			{JobId: "c", GpuDemand: 3, RemainingDurationSec: 100},
			{JobId: "a", GpuDemand: 1, RemainingDurationSec: 200, CurrentDatacenter: "y"},
			{JobId: "b", GpuDemand: 2, RemainingDurationSec: 300},
		}
	}
	m1, _ := Build(build(jobs(), dcFn("y", 5, 1, 10), dcFn("x", 5, 2, 20)), cfg)
	m2, _ := Build(build(jobs(), dcFn("x", 5, 2, 20), dcFn("y", 5, 1, 10)), cfg)
	opts := cmpopts.IgnoreFields(Model{}, "Snapshot")
	if diff := cmp.Diff(m1, m2, opts, cmp.AllowUnexported(Model{}, forecastCeiling{}), cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("models differ (-first +second):\n%s", diff)
	}
}

// a running job whose datacenter lost its forecast feed is priced at the scope's highest point, not at zero
func TestBuild_stayWithoutForecast(t *testing.T) {
	cfg := config.DefaultPlacementConfig()
	snap := snapshot.NewSnapshot("test", 1, nowMs)
	snap.AddJob(&data.Job{JobId: "run", GpuDemand: 4, MemoryMb: 10 * 1024, RemainingDurationSec: 7200, CurrentDatacenter: "a"})
	snap.AddDatacenter(&data.Datacenter{DatacenterId: "a", Region: "r1", TotalCapacityGpu: 8, FreeCapacityGpu: 0, Available: true})
	for _, fn := range []func() (*data.Datacenter, data.ForecastPoint){dcFn("b", 10, 0.01, 100), dcFn("c", 0, 2.0, 300)} {
		d, p := fn()
		snap.AddDatacenter(d)
		snap.AddForecast(p)
	}
	snap = snap.Freeze()

	m, _ := Build(snap, cfg)
	jv := m.Jobs[0]
	assert.Len(t, jv.Options, 2)
	stay := jv.Options[jv.StayIdx]
	assert.Equal(t, data.DatacenterId("a"), stay.DatacenterId)
	// 8 gpu-h at $2.0 and 300 g/kWh, inflated by 1.25
	assert.InDelta(t, 20.0, stay.Cost.PriceCost, 1e-9)
	assert.InDelta(t, 2.1, stay.Cost.CarbonKg, 1e-9)
	assert.InDelta(t, 20.21, stay.Coef, 1e-9)

	move := jv.Options[1-jv.StayIdx]
	assert.Equal(t, data.DatacenterId("b"), move.DatacenterId)
	assert.Less(t, move.Coef, stay.Coef)

	opt, ok := EvaluateOption(snap, cfg, snap.Jobs[0], "a")
	assert.True(t, ok)
	assert.InDelta(t, stay.Coef, opt.Coef, 1e-9)
}
