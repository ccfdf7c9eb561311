package snapshot

import (
	"context"
	"strings"
	"sync"

	"github.com/gridsynapse/placement/internal/config"
	"github.com/gridsynapse/placement/internal/data"
	"github.com/gridsynapse/placement/internal/etcdprov"
	"github.com/gridsynapse/placement/libs/xklib/kcommon"
	"github.com/gridsynapse/placement/libs/xklib/kerror"
	"github.com/gridsynapse/placement/libs/xklib/klogging"
	"github.com/gridsynapse/placement/placementjson"
)

// EtcdSource reads scope inputs written by the job registry and capacity reporters under
// PathManager.GetScopePrefix. A snapshot's version is the etcd revision it was read at, or one
// past the previous version when the revision did not move.
type EtcdSource struct {
	pm          *config.PathManager
	cfgProvider config.ConfigProvider

	mu          sync.Mutex
	lastVersion map[data.ScopeId]int64
	knownJobs   map[data.ScopeId]map[string]bool
	forecasts   map[data.ScopeId]map[string][]data.ForecastPoint // last seen, for significance
}

func NewEtcdSource(pm *config.PathManager, cfgProvider config.ConfigProvider) *EtcdSource {
	return &EtcdSource{
		pm:          pm,
		cfgProvider: cfgProvider,
		lastVersion: map[data.ScopeId]int64{},
		knownJobs:   map[data.ScopeId]map[string]bool{},
		forecasts:   map[data.ScopeId]map[string][]data.ForecastPoint{},
	}
}

func (es *EtcdSource) Take(ctx context.Context, scopeId data.ScopeId) (*Snapshot, error) {
	var items []etcdprov.EtcdKvItem
	var rev etcdprov.EtcdRevision
	ke := kcommon.TryCatchRun(ctx, func() {
		items, rev = etcdprov.GetCurrentEtcdProvider(ctx).LoadAllByPrefix(ctx, es.pm.GetScopePrefix(scopeId))
	})
	if ke != nil {
		return nil, ke
	}
	jobPrefix := es.pm.GetJobPathPrefix(scopeId)
	dcPrefix := es.pm.GetDatacenterPathPrefix(scopeId)
	forecastPrefix := es.pm.GetForecastPathPrefix(scopeId)
	neutralCap := es.cfgProvider.GetConfig().CostFuncCfg.CarbonNeutralCapGPerKwh

	es.mu.Lock()
	defer es.mu.Unlock()
	version := int64(rev)
	if last := es.lastVersion[scopeId]; version <= last {
		version = last + 1
	}
	snap := NewSnapshot(scopeId, version, kcommon.GetWallTimeMs())
	jobs := map[string]bool{}
	forecasts := map[string][]data.ForecastPoint{}
	for _, item := range items {
		switch {
		case strings.HasPrefix(item.Key, jobPrefix):
			jj, err := placementjson.ParseJobJson(item.Value)
			if err != nil {
				return nil, malformedItem(err, item.Key)
			}
			jobs[item.Key] = true
			snap.AddJob(JobJsonToJob(jj, neutralCap))
		case strings.HasPrefix(item.Key, dcPrefix):
			dj, err := placementjson.ParseDatacenterJson(item.Value)
			if err != nil {
				return nil, malformedItem(err, item.Key)
			}
			snap.AddDatacenter(DatacenterJsonToDatacenter(dj))
		case strings.HasPrefix(item.Key, forecastPrefix):
			list, err := placementjson.ParseForecastListJson(item.Value)
			if err != nil {
				return nil, malformedItem(err, item.Key)
			}
			for _, fj := range list {
				p := ForecastJsonToPoint(fj)
				snap.AddForecast(p)
				forecasts[item.Key] = append(forecasts[item.Key], p)
			}
		}
	}
	snap.Freeze()
	for key := range forecasts {
		forecasts[key] = sortedPoints(forecasts[key])
	}
	es.lastVersion[scopeId] = version
	es.knownJobs[scopeId] = jobs
	es.forecasts[scopeId] = forecasts
	return snap, nil
}

func malformedItem(err error, key string) *kerror.Kerror {
	return kerror.Wrap(err, "MalformedSnapshot", "failed to parse snapshot item", false).
		With("key", key).
		WithErrorCode(kerror.EC_INVALID_PARAMETER)
}

func (es *EtcdSource) ListScopes(ctx context.Context) []data.ScopeId {
	prefix := es.pm.GetScopesPrefix()
	var items []etcdprov.EtcdKvItem
	ke := kcommon.TryCatchRun(ctx, func() {
		items, _ = etcdprov.GetCurrentEtcdProvider(ctx).LoadAllByPrefix(ctx, prefix)
	})
	if ke != nil {
		klogging.Error(ctx).WithError(ke).Log("ListScopesFailed", "")
		return nil
	}
	var list []data.ScopeId
	seen := map[string]bool{}
	for _, item := range items {
		rest := strings.TrimPrefix(item.Key, prefix)
		idx := strings.Index(rest, "/")
		if idx <= 0 {
			continue
		}
		name := rest[:idx]
		if !seen[name] {
			seen[name] = true
			list = append(list, data.ScopeId(name))
		}
	}
	// items come sorted by key, so list is sorted too
	return list
}

func (es *EtcdSource) Watch(ctx context.Context, scopeId data.ScopeId) <-chan Change {
	out := make(chan Change, 100)
	in := etcdprov.GetCurrentEtcdProvider(ctx).WatchByPrefix(ctx, es.pm.GetScopePrefix(scopeId), 0)
	go func() {
		defer close(out)
		for item := range in {
			change, ok := es.classify(scopeId, item)
			if !ok {
				continue
			}
			select {
			case out <- change:
			default:
			}
		}
	}()
	return out
}

func (es *EtcdSource) classify(scopeId data.ScopeId, item etcdprov.EtcdKvItem) (Change, bool) {
	es.mu.Lock()
	defer es.mu.Unlock()
	change := Change{ScopeId: scopeId}
	switch {
	case strings.HasPrefix(item.Key, es.pm.GetJobPathPrefix(scopeId)):
		known := es.knownJobs[scopeId]
		if known == nil {
			known = map[string]bool{}
			es.knownJobs[scopeId] = known
		}
		switch {
		case item.Deleted:
			delete(known, item.Key)
			change.Kind = CK_JobRemoved
		case known[item.Key]:
			change.Kind = CK_JobUpdated
		default:
			known[item.Key] = true
			change.Kind = CK_JobArrived
			change.Significant = true
		}
	case strings.HasPrefix(item.Key, es.pm.GetDatacenterPathPrefix(scopeId)):
		change.Kind = CK_Capacity
	case strings.HasPrefix(item.Key, es.pm.GetForecastPathPrefix(scopeId)):
		change.Kind = CK_ForecastUpdate
		var latest []data.ForecastPoint
		if !item.Deleted {
			list, err := placementjson.ParseForecastListJson(item.Value)
			if err != nil {
				// a broken forecast fails the next Take loudly; solve now so it surfaces
				change.Significant = true
				return change, true
			}
			for _, fj := range list {
				latest = append(latest, ForecastJsonToPoint(fj))
			}
			latest = sortedPoints(latest)
		}
		cache := es.forecasts[scopeId]
		if cache == nil {
			cache = map[string][]data.ForecastPoint{}
			es.forecasts[scopeId] = cache
		}
		threshold := es.cfgProvider.GetConfig().ScheduleConfig.ForecastSignificanceThreshold
		change.Significant = ForecastMovedSignificantly(cache[item.Key], latest, kcommon.GetWallTimeMs(), threshold)
		cache[item.Key] = latest
	default:
		// assignments and anything else written under the scope are our own output
		return change, false
	}
	return change, true
}

// WriteScopeJson stores a snapshot json under the scope prefix, the way a registry would.
func (es *EtcdSource) WriteScopeJson(ctx context.Context, sj *placementjson.SnapshotJson) {
	provider := etcdprov.GetCurrentEtcdProvider(ctx)
	scopeId := data.ScopeId(sj.ScopeId)
	for _, jj := range sj.Jobs {
		provider.Set(ctx, es.pm.GetJobPathPrefix(scopeId)+jj.JobId, jj.ToJson())
	}
	for _, dj := range sj.Datacenters {
		provider.Set(ctx, es.pm.GetDatacenterPathPrefix(scopeId)+dj.DatacenterId, dj.ToJson())
	}
	byDc := map[string][]*placementjson.ForecastJson{}
	var order []string
	for _, fj := range sj.Forecasts {
		if _, ok := byDc[fj.DatacenterId]; !ok {
			order = append(order, fj.DatacenterId)
		}
		byDc[fj.DatacenterId] = append(byDc[fj.DatacenterId], fj)
	}
	for _, dcId := range order {
		provider.Set(ctx, es.pm.GetForecastPathPrefix(scopeId)+dcId, placementjson.ForecastListToJson(byDc[dcId]))
	}
}
