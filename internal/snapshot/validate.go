package snapshot

import (
	"math"

	"github.com/gridsynapse/placement/internal/data"
	"github.com/gridsynapse/placement/libs/xklib/kerror"
)

func malformed(msg string) *kerror.Kerror {
	return kerror.Create("MalformedSnapshot", msg).WithErrorCode(kerror.EC_INVALID_PARAMETER).WithoutStack()
}

// nonNegative is false for negatives, NaN and +Inf.
func nonNegative(v float64) bool {
	return v >= 0 && v <= math.MaxFloat64
}

// Validate is the structural check that runs before any solve. It returns (never panics) a
// MalformedSnapshot error for the first problem found.
func Validate(snap *Snapshot) error {
	if !snap.Frozen {
		return malformed("snapshot not frozen").With("snapshotId", snap.SnapshotId)
	}
	if snap.ScopeId == "" {
		return malformed("empty scope id")
	}
	dcs := make(map[data.DatacenterId]bool, len(snap.Datacenters))
	for _, dc := range snap.Datacenters {
		if dc.DatacenterId == "" {
			return malformed("empty datacenter id")
		}
		if dcs[dc.DatacenterId] {
			return malformed("duplicate datacenter id").With("datacenter", dc.DatacenterId)
		}
		dcs[dc.DatacenterId] = true
		if dc.FreeCapacityGpu < 0 || dc.TotalCapacityGpu < 0 {
			return malformed("negative capacity").
				With("datacenter", dc.DatacenterId).
				With("free", dc.FreeCapacityGpu).
				With("total", dc.TotalCapacityGpu)
		}
		if dc.TotalCapacityGpu > 0 && dc.FreeCapacityGpu > dc.TotalCapacityGpu {
			return malformed("free capacity exceeds total").
				With("datacenter", dc.DatacenterId).
				With("free", dc.FreeCapacityGpu).
				With("total", dc.TotalCapacityGpu)
		}
		if dc.EstimatedQueueDelaySec < 0 {
			return malformed("negative queue delay").With("datacenter", dc.DatacenterId)
		}
		for to, link := range dc.Links {
			if !nonNegative(link.CostPerGb) {
				return malformed("bad link cost").With("datacenter", dc.DatacenterId).With("to", to).With("costPerGb", link.CostPerGb)
			}
		}
	}
	jobs := make(map[data.JobId]bool, len(snap.Jobs))
	for _, job := range snap.Jobs {
		if job.JobId == "" {
			return malformed("empty job id")
		}
		if jobs[job.JobId] {
			return malformed("duplicate job id").With("job", job.JobId)
		}
		jobs[job.JobId] = true
		if job.GpuDemand <= 0 {
			return malformed("gpu demand must be positive").With("job", job.JobId).With("gpuDemand", job.GpuDemand)
		}
		if job.MemoryMb < 0 || job.RemainingDurationSec < 0 {
			return malformed("negative job resource").With("job", job.JobId)
		}
		if !nonNegative(job.CarbonCapGPerKwh) {
			return malformed("bad carbon cap").With("job", job.JobId).With("carbonCap", job.CarbonCapGPerKwh)
		}
		if !nonNegative(job.Value) {
			return malformed("bad job value").With("job", job.JobId).With("value", job.Value)
		}
		if job.IsRunning() && !dcs[job.CurrentDatacenter] {
			return malformed("job runs in unknown datacenter").With("job", job.JobId).With("datacenter", job.CurrentDatacenter)
		}
	}
	for dcId, points := range snap.Forecasts {
		if !dcs[dcId] {
			return malformed("forecast for unknown datacenter").With("datacenter", dcId)
		}
		for _, p := range points {
			if !nonNegative(p.PricePerGpuHour) || !nonNegative(p.CarbonGPerKwh) {
				return malformed("bad forecast value").
					With("datacenter", dcId).
					With("timestampMs", p.TimestampMs).
					With("price", p.PricePerGpuHour).
					With("carbon", p.CarbonGPerKwh)
			}
		}
	}
	return nil
}
