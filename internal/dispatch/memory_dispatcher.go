package dispatch

import (
	"context"
	"sort"
	"sync"

	"github.com/gridsynapse/placement/internal/data"
)

// CommitListener is told about every assignment a MemoryDispatcher accepts.
type CommitListener func(scopeId data.ScopeId, a *data.Assignment)

// MemoryDispatcher keeps committed assignments in memory. Used by the dry runs and tests, and as
// the in-process hook towards an orchestrator (see CommitListener).
type MemoryDispatcher struct {
	mu        sync.Mutex
	last      map[data.JobId]int64
	committed map[data.ScopeId]map[data.JobId]*data.Assignment
	listener  CommitListener
}

func NewMemoryDispatcher(listener CommitListener) *MemoryDispatcher {
	return &MemoryDispatcher{
		last:      map[data.JobId]int64{},
		committed: map[data.ScopeId]map[data.JobId]*data.Assignment{},
		listener:  listener,
	}
}

func (md *MemoryDispatcher) Commit(ctx context.Context, scopeId data.ScopeId, a *data.Assignment) error {
	md.mu.Lock()
	if last, ok := md.last[a.JobId]; ok && a.Version <= last {
		md.mu.Unlock()
		return staleVersionError(a, last)
	}
	md.last[a.JobId] = a.Version
	scope, ok := md.committed[scopeId]
	if !ok {
		scope = map[data.JobId]*data.Assignment{}
		md.committed[scopeId] = scope
	}
	scope[a.JobId] = a
	md.mu.Unlock()

	if md.listener != nil {
		md.listener(scopeId, a)
	}
	return nil
}

func (md *MemoryDispatcher) LastVersion(jobId data.JobId) (int64, bool) {
	md.mu.Lock()
	defer md.mu.Unlock()
	v, ok := md.last[jobId]
	return v, ok
}

func (md *MemoryDispatcher) LoadCommitted(ctx context.Context, scopeId data.ScopeId) ([]*data.Assignment, error) {
	md.mu.Lock()
	defer md.mu.Unlock()
	var list []*data.Assignment
	for _, a := range md.committed[scopeId] {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].JobId < list[j].JobId })
	return list, nil
}

// Forget drops a finished job, so a new run of the same id starts from version 0.
func (md *MemoryDispatcher) Forget(scopeId data.ScopeId, jobId data.JobId) {
	md.mu.Lock()
	defer md.mu.Unlock()
	delete(md.last, jobId)
	delete(md.committed[scopeId], jobId)
}
