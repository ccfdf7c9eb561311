package validator

import (
	"context"
	"sort"
	"sync"

	"github.com/gridsynapse/placement/internal/data"
	"github.com/gridsynapse/placement/internal/snapshot"
	"github.com/gridsynapse/placement/libs/xklib/klogging"
	"github.com/gridsynapse/placement/libs/xklib/kmetrics"
)

// dcCounter is the live capacity of one datacenter. Version moves on every mutation.
type dcCounter struct {
	Free      int64
	Version   int64
	reportSeq int64 // CapacityVersion of the last inventory report applied
}

// CapacityLedger holds the authoritative free capacity per datacenter of one scope. Every
// mutation bumps the datacenter's version; reservations are compare-and-swap on that version.
// Thread safe.
type CapacityLedger struct {
	scopeId  data.ScopeId // metrics label only
	mu       sync.Mutex
	counters map[data.DatacenterId]*dcCounter
}

func NewCapacityLedger() *CapacityLedger {
	return NewScopeLedger("")
}

func NewScopeLedger(scopeId data.ScopeId) *CapacityLedger {
	return &CapacityLedger{scopeId: scopeId, counters: map[data.DatacenterId]*dcCounter{}}
}

// Read matches snapshot.CapacityFn.
func (l *CapacityLedger) Read(dcId data.DatacenterId) (free int64, version int64, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.counters[dcId]
	if !ok {
		return 0, 0, false
	}
	return c.Free, c.Version, true
}

// TryReserve takes gpus from the datacenter if its version is still expectedVersion and the
// capacity is there. Returns false (and changes nothing) otherwise.
func (l *CapacityLedger) TryReserve(dcId data.DatacenterId, expectedVersion int64, gpus int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.counters[dcId]
	if !ok || c.Version != expectedVersion || c.Free < gpus {
		return false
	}
	c.Free -= gpus
	c.Version++
	return true
}

// Release gives gpus back, called when a job completes or a committed assignment is undone.
func (l *CapacityLedger) Release(dcId data.DatacenterId, gpus int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.counters[dcId]
	if !ok {
		return
	}
	c.Free += gpus
	c.Version++
}

// Observe applies an inventory report. Reports carry a sequence (the datacenter's
// CapacityVersion); a report not newer than the last applied one is ignored.
// Returns true when the report was applied.
func (l *CapacityLedger) Observe(ctx context.Context, dcId data.DatacenterId, free int64, reportSeq int64) bool {
	l.mu.Lock()
	c, ok := l.counters[dcId]
	if !ok {
		c = &dcCounter{Free: free, Version: 1, reportSeq: reportSeq}
		l.counters[dcId] = c
		l.mu.Unlock()
		kmetrics.UpsertInt64DerivedGauge(ctx, "ledger_free_gpu", "free gpus per datacenter as seen by the capacity ledger", []string{"scope", "datacenter"}, func() int64 {
			free, _, _ := l.Read(dcId)
			return free
		}, string(l.scopeId), string(dcId))
		return true
	}
	defer l.mu.Unlock()
	if reportSeq <= c.reportSeq {
		return false
	}
	klogging.Verbose(ctx).With("datacenter", dcId).With("free", free).With("prevFree", c.Free).With("reportSeq", reportSeq).Log("LedgerObserve", "")
	c.Free = free
	c.reportSeq = reportSeq
	c.Version++
	return true
}

// Sync feeds the snapshot's inventory reports into the ledger and returns the snapshot as the
// solver must see it: free capacity and capacity version taken from the ledger.
func (l *CapacityLedger) Sync(ctx context.Context, snap *snapshot.Snapshot) *snapshot.Snapshot {
	for _, dc := range snap.Datacenters {
		l.Observe(ctx, dc.DatacenterId, dc.FreeCapacityGpu, dc.CapacityVersion)
	}
	return snap.WithCapacity(l.Read)
}

// Datacenters lists the tracked datacenters in id order.
func (l *CapacityLedger) Datacenters() []data.DatacenterId {
	l.mu.Lock()
	defer l.mu.Unlock()
	list := make([]data.DatacenterId, 0, len(l.counters))
	for dcId := range l.counters {
		list = append(list, dcId)
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	return list
}
