package snapshot

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/gridsynapse/placement/internal/data"
	"github.com/gridsynapse/placement/libs/xklib/kerror"
)

// Snapshot is the immutable input of one solve cycle. Build it with the Add* methods, then Freeze.
// After Freeze nothing may change it; readers share it across goroutines.
type Snapshot struct {
	SnapshotId  string
	ScopeId     data.ScopeId
	Version     int64 // monotonically increasing per scope
	TakenAtMs   int64
	Jobs        []*data.Job                                // sorted by id after Freeze
	Datacenters []*data.Datacenter                         // sorted by id after Freeze
	Forecasts   map[data.DatacenterId][]data.ForecastPoint // sorted by timestamp after Freeze
	Frozen      bool

	jobIdx map[data.JobId]*data.Job
	dcIdx  map[data.DatacenterId]*data.Datacenter
}

func NewSnapshot(scopeId data.ScopeId, version int64, takenAtMs int64) *Snapshot {
	return &Snapshot{
		SnapshotId: uuid.New().String(),
		ScopeId:    scopeId,
		Version:    version,
		TakenAtMs:  takenAtMs,
		Forecasts:  map[data.DatacenterId][]data.ForecastPoint{},
	}
}

func (snap *Snapshot) mustNotFrozen() {
	if snap.Frozen {
		panic(kerror.Create("SnapshotAlreadyFrozen", "snapshot already frozen").With("snapshotId", snap.SnapshotId))
	}
}

func (snap *Snapshot) AddJob(job *data.Job) *Snapshot {
	snap.mustNotFrozen()
	snap.Jobs = append(snap.Jobs, job)
	return snap
}

func (snap *Snapshot) AddDatacenter(dc *data.Datacenter) *Snapshot {
	snap.mustNotFrozen()
	snap.Datacenters = append(snap.Datacenters, dc)
	return snap
}

func (snap *Snapshot) AddForecast(points ...data.ForecastPoint) *Snapshot {
	snap.mustNotFrozen()
	for _, p := range points {
		snap.Forecasts[p.DatacenterId] = append(snap.Forecasts[p.DatacenterId], p)
	}
	return snap
}

// Freeze sorts jobs and datacenters by id and forecasts by time. Duplicate ids are kept (for Validate to report); lookups return the first.
func (snap *Snapshot) Freeze() *Snapshot {
	snap.mustNotFrozen()
	sort.SliceStable(snap.Jobs, func(i, j int) bool {
		return snap.Jobs[i].JobId < snap.Jobs[j].JobId
	})
	sort.SliceStable(snap.Datacenters, func(i, j int) bool {
		return snap.Datacenters[i].DatacenterId < snap.Datacenters[j].DatacenterId
	})
	for _, points := range snap.Forecasts {
		sort.SliceStable(points, func(i, j int) bool {
			return points[i].TimestampMs < points[j].TimestampMs
		})
	}
	snap.jobIdx = make(map[data.JobId]*data.Job, len(snap.Jobs))
	for _, job := range snap.Jobs {
		if _, ok := snap.jobIdx[job.JobId]; !ok {
			snap.jobIdx[job.JobId] = job
		}
	}
	snap.dcIdx = make(map[data.DatacenterId]*data.Datacenter, len(snap.Datacenters))
	for _, dc := range snap.Datacenters {
		if _, ok := snap.dcIdx[dc.DatacenterId]; !ok {
			snap.dcIdx[dc.DatacenterId] = dc
		}
	}
	snap.Frozen = true
	return snap
}

func (snap *Snapshot) GetJob(jobId data.JobId) (*data.Job, bool) {
	job, ok := snap.jobIdx[jobId]
	return job, ok
}

func (snap *Snapshot) GetDatacenter(dcId data.DatacenterId) (*data.Datacenter, bool) {
	dc, ok := snap.dcIdx[dcId]
	return dc, ok
}

func (snap *Snapshot) GetForecast(dcId data.DatacenterId) []data.ForecastPoint {
	return snap.Forecasts[dcId]
}

// IsStale: the freshest forecast point is older than thresholdSec (or there is none).
func (snap *Snapshot) IsStale(dcId data.DatacenterId, nowMs int64, thresholdSec int64) bool {
	points := snap.Forecasts[dcId]
	if len(points) == 0 {
		return true
	}
	freshest := points[len(points)-1].TimestampMs
	return nowMs-freshest > thresholdSec*1000
}

// StaleDatacenters lists stale datacenters in id order.
func (snap *Snapshot) StaleDatacenters(nowMs int64, thresholdSec int64) []data.DatacenterId {
	var list []data.DatacenterId
	for _, dc := range snap.Datacenters {
		if snap.IsStale(dc.DatacenterId, nowMs, thresholdSec) {
			list = append(list, dc.DatacenterId)
		}
	}
	return list
}

// CapacityFn returns (free, version) for a datacenter; ok=false keeps the snapshot's own numbers.
type CapacityFn func(dcId data.DatacenterId) (free int64, version int64, ok bool)

// WithCapacity returns a new frozen snapshot (same id and version) whose datacenter capacity comes from fn.
func (snap *Snapshot) WithCapacity(fn CapacityFn) *Snapshot {
	next := &Snapshot{
		SnapshotId: snap.SnapshotId,
		ScopeId:    snap.ScopeId,
		Version:    snap.Version,
		TakenAtMs:  snap.TakenAtMs,
		Jobs:       snap.Jobs,
		Forecasts:  snap.Forecasts,
	}
	for _, dc := range snap.Datacenters {
		if free, version, ok := fn(dc.DatacenterId); ok {
			dc = dc.Clone()
			dc.FreeCapacityGpu = free
			dc.CapacityVersion = version
		}
		next.Datacenters = append(next.Datacenters, dc)
	}
	next.Freeze()
	return next
}

func (snap *Snapshot) ToShortString() string {
	return fmt.Sprintf("{scope=%s, v=%d, jobs=%d, dcs=%d}", snap.ScopeId, snap.Version, len(snap.Jobs), len(snap.Datacenters))
}
