package dispatch

import (
	"context"
	"sort"
	"sync"

	"github.com/gridsynapse/placement/internal/config"
	"github.com/gridsynapse/placement/internal/data"
	"github.com/gridsynapse/placement/internal/etcdprov"
	"github.com/gridsynapse/placement/internal/solver"
	"github.com/gridsynapse/placement/libs/xklib/kcommon"
	"github.com/gridsynapse/placement/libs/xklib/kerror"
	"github.com/gridsynapse/placement/libs/xklib/klogging"
	"github.com/gridsynapse/placement/placementjson"
)

// casRetries bounds how often Commit re-reads a key after losing a compare-and-set.
const casRetries = 3

// EtcdDispatcher writes one key per job under PathManager.GetAssignmentPath. The executor side
// watches the prefix. The version gate is enforced against the stored record with a
// compare-and-set on its mod revision, so two writers cannot both win.
type EtcdDispatcher struct {
	pm *config.PathManager

	mu   sync.Mutex
	last map[data.JobId]int64
}

func NewEtcdDispatcher(pm *config.PathManager) *EtcdDispatcher {
	return &EtcdDispatcher{pm: pm, last: map[data.JobId]int64{}}
}

func (ed *EtcdDispatcher) Commit(ctx context.Context, scopeId data.ScopeId, a *data.Assignment) error {
	key := ed.pm.GetAssignmentPath(scopeId, a.JobId)
	value := solver.AssignmentToJson(a).ToJson()
	var result error
	ke := kcommon.TryCatchRun(ctx, func() {
		etcd := etcdprov.GetCurrentEtcdProvider(ctx)
		for attempt := 0; attempt < casRetries; attempt++ {
			item := etcd.Get(ctx, key)
			if item.Value != "" {
				stored, err := placementjson.ParseAssignmentJson(item.Value)
				if err != nil {
					klogging.Warning(ctx).WithError(err).With("key", key).Log("BadAssignmentRecord", "overwriting")
				} else if a.Version <= stored.Version {
					ed.remember(a.JobId, stored.Version)
					result = staleVersionError(a, stored.Version)
					return
				}
			}
			if etcd.CompareAndSet(ctx, key, item.ModRevision, value) {
				ed.remember(a.JobId, a.Version)
				return
			}
			klogging.Debug(ctx).With("key", key).With("attempt", attempt).Log("AssignmentCasLost", "retry")
		}
		result = kerror.Create("CommitContended", "assignment key kept changing").
			WithErrorCode(kerror.EC_RETRYABLE).
			With("key", key)
	})
	if ke != nil {
		return ke
	}
	return result
}

func (ed *EtcdDispatcher) remember(jobId data.JobId, version int64) {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	if version > ed.last[jobId] {
		ed.last[jobId] = version
	}
}

// LastVersion answers from what this process has seen (commits and LoadCommitted). The
// compare-and-set in Commit is the authoritative gate.
func (ed *EtcdDispatcher) LastVersion(jobId data.JobId) (int64, bool) {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	v, ok := ed.last[jobId]
	return v, ok
}

func (ed *EtcdDispatcher) LoadCommitted(ctx context.Context, scopeId data.ScopeId) ([]*data.Assignment, error) {
	var items []etcdprov.EtcdKvItem
	ke := kcommon.TryCatchRun(ctx, func() {
		items, _ = etcdprov.GetCurrentEtcdProvider(ctx).LoadAllByPrefix(ctx, ed.pm.GetAssignmentPathPrefix(scopeId))
	})
	if ke != nil {
		return nil, ke
	}
	var list []*data.Assignment
	for _, item := range items {
		aj, err := placementjson.ParseAssignmentJson(item.Value)
		if err != nil {
			klogging.Warning(ctx).WithError(err).With("key", item.Key).Log("BadAssignmentRecord", "skipped")
			continue
		}
		a := AssignmentFromJson(aj)
		ed.remember(a.JobId, a.Version)
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].JobId < list[j].JobId })
	return list, nil
}

func AssignmentFromJson(aj *placementjson.AssignmentJson) *data.Assignment {
	return &data.Assignment{
		JobId:             data.JobId(aj.JobId),
		DatacenterId:      data.DatacenterId(aj.DatacenterId),
		GpuDemand:         aj.GpuDemand,
		ProjectedCost:     aj.ProjectedCost,
		ProjectedCarbonKg: aj.ProjectedCarbonKg,
		MigrationCost:     aj.MigrationCost,
		Migration:         aj.Migration,
		FromDatacenter:    data.DatacenterId(aj.FromDatacenter),
		Version:           aj.Version,
	}
}
