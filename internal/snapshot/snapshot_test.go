package snapshot

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gridsynapse/placement/internal/data"
	"github.com/gridsynapse/placement/libs/xklib/kerror"
	"github.com/gridsynapse/placement/placementjson"
)

func newTestSnapshot() *Snapshot {
	snap := NewSnapshot("us", 3, 10000)
	snap.AddJob(&data.Job{JobId: "j2", GpuDemand: 4, RemainingDurationSec: 3600})
	snap.AddJob(&data.Job{JobId: "j1", GpuDemand: 8, RemainingDurationSec: 3600, CurrentDatacenter: "dc-b"})
	snap.AddDatacenter(&data.Datacenter{DatacenterId: "dc-b", TotalCapacityGpu: 100, FreeCapacityGpu: 10, CapacityVersion: 1, Available: true})
	snap.AddDatacenter(&data.Datacenter{DatacenterId: "dc-a", TotalCapacityGpu: 100, FreeCapacityGpu: 20, CapacityVersion: 1, Available: true})
	snap.AddForecast(
		data.ForecastPoint{DatacenterId: "dc-a", TimestampMs: 9000, PricePerGpuHour: 2},
		data.ForecastPoint{DatacenterId: "dc-a", TimestampMs: 1000, PricePerGpuHour: 1},
		data.ForecastPoint{DatacenterId: "dc-b", TimestampMs: 1000, PricePerGpuHour: 1},
	)
	return snap
}

func TestFreezeSortsAndIndexes(t *testing.T) {
	snap := newTestSnapshot().Freeze()
	assert.Equal(t, data.JobId("j1"), snap.Jobs[0].JobId)
	assert.Equal(t, data.DatacenterId("dc-a"), snap.Datacenters[0].DatacenterId)
	assert.Equal(t, int64(1000), snap.GetForecast("dc-a")[0].TimestampMs)
	job, ok := snap.GetJob("j2")
	assert.True(t, ok)
	assert.Equal(t, int64(4), job.GpuDemand)
	_, ok = snap.GetDatacenter("dc-z")
	assert.False(t, ok)
	assert.NotEmpty(t, snap.SnapshotId)

	assert.Panics(t, func() { snap.AddJob(&data.Job{JobId: "j3", GpuDemand: 1}) })
	assert.Nil(t, Validate(snap))
}

func TestValidateMalformed(t *testing.T) {
	// duplicate job id
	snap := newTestSnapshot()
	snap.AddJob(&data.Job{JobId: "j1", GpuDemand: 1})
	err := Validate(snap.Freeze())
	assert.True(t, kerror.IsType(err, "MalformedSnapshot"))

	// negative capacity
	snap = newTestSnapshot()
	snap.AddDatacenter(&data.Datacenter{DatacenterId: "dc-c", FreeCapacityGpu: -1})
	err = Validate(snap.Freeze())
	assert.True(t, kerror.IsType(err, "MalformedSnapshot"))
	dc, _ := err.(*kerror.Kerror).GetDetail("datacenter")
	assert.Equal(t, data.DatacenterId("dc-c"), dc)

	// job running in a datacenter nobody knows
	snap = newTestSnapshot()
	snap.AddJob(&data.Job{JobId: "j9", GpuDemand: 1, CurrentDatacenter: "dc-x"})
	assert.NotNil(t, Validate(snap.Freeze()))

	// forecast for unknown datacenter
	snap = newTestSnapshot()
	snap.AddForecast(data.ForecastPoint{DatacenterId: "dc-x", TimestampMs: 1})
	assert.NotNil(t, Validate(snap.Freeze()))

	// not frozen
	assert.NotNil(t, Validate(newTestSnapshot()))
}

func TestValidateRejectsNonFiniteNumbers(t *testing.T) {
	for _, bad := range []float64{-1, math.NaN(), math.Inf(1), math.Inf(-1)} {
		snap := newTestSnapshot()
		snap.AddForecast(data.ForecastPoint{DatacenterId: "dc-a", TimestampMs: 2, PricePerGpuHour: bad})
		assert.True(t, kerror.IsType(Validate(snap.Freeze()), "MalformedSnapshot"), "price %v", bad)

		snap = newTestSnapshot()
		snap.AddForecast(data.ForecastPoint{DatacenterId: "dc-a", TimestampMs: 2, CarbonGPerKwh: bad})
		assert.True(t, kerror.IsType(Validate(snap.Freeze()), "MalformedSnapshot"), "carbon %v", bad)

		snap = newTestSnapshot()
		snap.AddJob(&data.Job{JobId: "jv", GpuDemand: 1, Value: bad})
		assert.True(t, kerror.IsType(Validate(snap.Freeze()), "MalformedSnapshot"), "value %v", bad)

		snap = newTestSnapshot()
		snap.AddJob(&data.Job{JobId: "jc", GpuDemand: 1, CarbonCapGPerKwh: bad})
		assert.True(t, kerror.IsType(Validate(snap.Freeze()), "MalformedSnapshot"), "carbon cap %v", bad)
	}
	assert.Nil(t, Validate(newTestSnapshot().Freeze()))
}

func TestStaleDatacenters(t *testing.T) {
	snap := newTestSnapshot().Freeze()
	// now = 10s, threshold 5s: dc-a freshest at 9s is fine, dc-b at 1s is stale
	assert.Equal(t, []data.DatacenterId{"dc-b"}, snap.StaleDatacenters(10000, 5))
	assert.False(t, snap.IsStale("dc-a", 10000, 5))
	assert.True(t, snap.IsStale("dc-nope", 10000, 5))
}

func TestWithCapacity(t *testing.T) {
	snap := newTestSnapshot().Freeze()
	next := snap.WithCapacity(func(dcId data.DatacenterId) (int64, int64, bool) {
		if dcId == "dc-a" {
			return 5, 42, true
		}
		return 0, 0, false
	})
	a, _ := next.GetDatacenter("dc-a")
	assert.Equal(t, int64(5), a.FreeCapacityGpu)
	assert.Equal(t, int64(42), a.CapacityVersion)
	b, _ := next.GetDatacenter("dc-b")
	assert.Equal(t, int64(10), b.FreeCapacityGpu)
	// original untouched
	orig, _ := snap.GetDatacenter("dc-a")
	assert.Equal(t, int64(20), orig.FreeCapacityGpu)
	assert.Equal(t, snap.Version, next.Version)
	assert.True(t, next.Frozen)
}

func TestFromJson(t *testing.T) {
	sj := &placementjson.SnapshotJson{
		ScopeId: "eu",
		Version: 9,
		Jobs: []*placementjson.JobJson{
			{JobId: "j1", GpuDemand: 2, CarbonNeutral: true},
			{JobId: "j2", GpuDemand: 2, CarbonNeutral: true, CarbonCapGPerKwh: placementjson.NewFloat64Pointer(50)},
		},
		Datacenters: []*placementjson.DatacenterJson{
			{DatacenterId: "d1", FreeCapacityGpu: 4, Available: placementjson.NewBoolPointer(false),
				Links: map[string]*placementjson.NetworkLinkJson{"d2": {CostPerGb: 0.3}}},
			{DatacenterId: "d2", FreeCapacityGpu: 4},
		},
	}
	snap := FromJson(sj, 100)
	assert.Equal(t, int64(9), snap.Version)
	j1, _ := snap.GetJob("j1")
	assert.Equal(t, 100.0, j1.CarbonCapGPerKwh)
	j2, _ := snap.GetJob("j2")
	assert.Equal(t, 50.0, j2.CarbonCapGPerKwh)
	d1, _ := snap.GetDatacenter("d1")
	assert.False(t, d1.Available)
	assert.Equal(t, 0.3, d1.Links["d2"].CostPerGb)
	d2, _ := snap.GetDatacenter("d2")
	assert.True(t, d2.Available)
}

func TestForecastMovedSignificantly(t *testing.T) {
	old := []data.ForecastPoint{{TimestampMs: 0, PricePerGpuHour: 1.0, CarbonGPerKwh: 100}}
	small := []data.ForecastPoint{{TimestampMs: 0, PricePerGpuHour: 1.05, CarbonGPerKwh: 100}}
	big := []data.ForecastPoint{{TimestampMs: 0, PricePerGpuHour: 1.0, CarbonGPerKwh: 130}}
	assert.False(t, ForecastMovedSignificantly(old, small, 500, 0.1))
	assert.True(t, ForecastMovedSignificantly(old, big, 500, 0.1))
	assert.True(t, ForecastMovedSignificantly(nil, old, 500, 0.1))
	assert.False(t, ForecastMovedSignificantly(nil, nil, 500, 0.1))
	// only the point in force matters
	future := []data.ForecastPoint{{TimestampMs: 0, PricePerGpuHour: 1.0, CarbonGPerKwh: 100}, {TimestampMs: 1000, PricePerGpuHour: 9, CarbonGPerKwh: 900}}
	assert.False(t, ForecastMovedSignificantly(old, future, 500, 0.1))
}
