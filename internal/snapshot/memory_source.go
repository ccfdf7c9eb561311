package snapshot

import (
	"context"
	"sort"
	"sync"

	"github.com/gridsynapse/placement/internal/config"
	"github.com/gridsynapse/placement/internal/data"
	"github.com/gridsynapse/placement/libs/xklib/kcommon"
	"github.com/gridsynapse/placement/libs/xklib/kerror"
	"github.com/gridsynapse/placement/placementjson"
)

// MemorySource keeps scope inputs in memory. It stands in for the job registry and capacity
// reporters in the dry run daemon and in tests.
type MemorySource struct {
	mu          sync.Mutex
	cfgProvider config.ConfigProvider
	scopes      map[data.ScopeId]*memScope
	watchers    map[data.ScopeId][]chan Change
}

type memScope struct {
	version   int64
	jobs      map[data.JobId]*data.Job
	dcs       map[data.DatacenterId]*data.Datacenter
	forecasts map[data.DatacenterId][]data.ForecastPoint
}

func NewMemorySource(cfgProvider config.ConfigProvider) *MemorySource {
	return &MemorySource{
		cfgProvider: cfgProvider,
		scopes:      map[data.ScopeId]*memScope{},
		watchers:    map[data.ScopeId][]chan Change{},
	}
}

func (ms *MemorySource) getScopeLocked(scopeId data.ScopeId) *memScope {
	scope, ok := ms.scopes[scopeId]
	if !ok {
		scope = &memScope{
			jobs:      map[data.JobId]*data.Job{},
			dcs:       map[data.DatacenterId]*data.Datacenter{},
			forecasts: map[data.DatacenterId][]data.ForecastPoint{},
		}
		ms.scopes[scopeId] = scope
	}
	return scope
}

// LoadJson replaces one scope with the content of a snapshot json.
func (ms *MemorySource) LoadJson(sj *placementjson.SnapshotJson) {
	neutralCap := ms.cfgProvider.GetConfig().CostFuncCfg.CarbonNeutralCapGPerKwh
	scopeId := data.ScopeId(sj.ScopeId)
	ms.mu.Lock()
	delete(ms.scopes, scopeId)
	scope := ms.getScopeLocked(scopeId)
	for _, jj := range sj.Jobs {
		job := JobJsonToJob(jj, neutralCap)
		scope.jobs[job.JobId] = job
	}
	for _, dj := range sj.Datacenters {
		dc := DatacenterJsonToDatacenter(dj)
		scope.dcs[dc.DatacenterId] = dc
	}
	for _, fj := range sj.Forecasts {
		p := ForecastJsonToPoint(fj)
		scope.forecasts[p.DatacenterId] = append(scope.forecasts[p.DatacenterId], p)
	}
	ms.mu.Unlock()
	ms.notify(Change{ScopeId: scopeId, Kind: CK_JobArrived, Significant: true})
}

func (ms *MemorySource) UpsertJob(scopeId data.ScopeId, job *data.Job) {
	ms.mu.Lock()
	scope := ms.getScopeLocked(scopeId)
	_, existed := scope.jobs[job.JobId]
	scope.jobs[job.JobId] = job.Clone()
	ms.mu.Unlock()
	if existed {
		ms.notify(Change{ScopeId: scopeId, Kind: CK_JobUpdated})
	} else {
		ms.notify(Change{ScopeId: scopeId, Kind: CK_JobArrived, Significant: true})
	}
}

func (ms *MemorySource) RemoveJob(scopeId data.ScopeId, jobId data.JobId) {
	ms.mu.Lock()
	delete(ms.getScopeLocked(scopeId).jobs, jobId)
	ms.mu.Unlock()
	ms.notify(Change{ScopeId: scopeId, Kind: CK_JobRemoved})
}

func (ms *MemorySource) UpsertDatacenter(scopeId data.ScopeId, dc *data.Datacenter) {
	ms.mu.Lock()
	ms.getScopeLocked(scopeId).dcs[dc.DatacenterId] = dc.Clone()
	ms.mu.Unlock()
	ms.notify(Change{ScopeId: scopeId, Kind: CK_Capacity})
}

// SetForecast replaces the forecast series of one datacenter.
func (ms *MemorySource) SetForecast(scopeId data.ScopeId, dcId data.DatacenterId, points []data.ForecastPoint) {
	latest := append([]data.ForecastPoint(nil), points...)
	sort.SliceStable(latest, func(i, j int) bool {
		return latest[i].TimestampMs < latest[j].TimestampMs
	})
	threshold := ms.cfgProvider.GetConfig().ScheduleConfig.ForecastSignificanceThreshold
	ms.mu.Lock()
	scope := ms.getScopeLocked(scopeId)
	significant := ForecastMovedSignificantly(scope.forecasts[dcId], latest, kcommon.GetWallTimeMs(), threshold)
	scope.forecasts[dcId] = latest
	ms.mu.Unlock()
	ms.notify(Change{ScopeId: scopeId, Kind: CK_ForecastUpdate, Significant: significant})
}

// ApplyCommitted plays the orchestrator: committed jobs are now running where they were placed.
func (ms *MemorySource) ApplyCommitted(scopeId data.ScopeId, assignments []*data.Assignment) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	scope := ms.getScopeLocked(scopeId)
	for _, a := range assignments {
		if job, ok := scope.jobs[a.JobId]; ok {
			job.CurrentDatacenter = a.DatacenterId
		}
	}
}

func (ms *MemorySource) Take(ctx context.Context, scopeId data.ScopeId) (*Snapshot, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	scope, ok := ms.scopes[scopeId]
	if !ok {
		return nil, kerror.Create("ScopeNotFound", "unknown scope").With("scope", scopeId).WithErrorCode(kerror.EC_NOT_FOUND)
	}
	scope.version++
	snap := NewSnapshot(scopeId, scope.version, kcommon.GetWallTimeMs())
	for _, job := range scope.jobs {
		j := job.Clone()
		j.State = data.JS_Pending
		snap.AddJob(j)
	}
	for _, dc := range scope.dcs {
		snap.AddDatacenter(dc.Clone())
	}
	for _, points := range scope.forecasts {
		snap.AddForecast(points...)
	}
	return snap.Freeze(), nil
}

func (ms *MemorySource) ListScopes(ctx context.Context) []data.ScopeId {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	var list []data.ScopeId
	for scopeId := range ms.scopes {
		list = append(list, scopeId)
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	return list
}

func (ms *MemorySource) Watch(ctx context.Context, scopeId data.ScopeId) <-chan Change {
	ch := make(chan Change, 100)
	ms.mu.Lock()
	ms.watchers[scopeId] = append(ms.watchers[scopeId], ch)
	ms.mu.Unlock()
	go func() {
		<-ctx.Done()
		ms.mu.Lock()
		defer ms.mu.Unlock()
		list := ms.watchers[scopeId]
		for i, c := range list {
			if c == ch {
				ms.watchers[scopeId] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

// notify never blocks; a slow watcher misses hints and catches up on the next periodic solve.
func (ms *MemorySource) notify(change Change) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, ch := range ms.watchers[change.ScopeId] {
		select {
		case ch <- change:
		default:
		}
	}
}
