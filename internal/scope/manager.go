package scope

import (
	"context"
	"sort"
	"sync"

	"github.com/gridsynapse/placement/internal/config"
	"github.com/gridsynapse/placement/internal/data"
	"github.com/gridsynapse/placement/internal/dispatch"
	"github.com/gridsynapse/placement/internal/snapshot"
	"github.com/gridsynapse/placement/internal/validator"
	"github.com/gridsynapse/placement/libs/xklib/kerror"
	"github.com/gridsynapse/placement/libs/xklib/klogging"
	"github.com/gridsynapse/placement/libs/xklib/krunloop"
)

// Manager owns one runloop and one capacity ledger per scope. Scopes never share mutable state;
// Deps holds only the dispatcher, source and config, which are safe for concurrent use.
type Manager struct {
	deps *Deps

	mu     sync.Mutex
	ctx    context.Context
	scopes map[data.ScopeId]*scopeHandle
}

type scopeHandle struct {
	ss     *ScopeState
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager fills in defaults for the optional deps: the current config provider, a ledger per
// scope, an in-memory dispatcher.
func NewManager(deps *Deps) *Manager {
	if deps.CfgProvider == nil {
		deps.CfgProvider = config.GetCurrentConfigProvider()
	}
	if deps.NewLedger == nil {
		deps.NewLedger = validator.NewScopeLedger
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = dispatch.NewMemoryDispatcher(nil)
	}
	return &Manager{deps: deps, scopes: map[data.ScopeId]*scopeHandle{}}
}

// Start opens a runloop for every scope the source knows. Scopes created later (submitted
// snapshots, EnsureScope) join the same ctx.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()
	if m.deps.Source == nil {
		return
	}
	for _, scopeId := range m.deps.Source.ListScopes(ctx) {
		m.EnsureScope(scopeId)
	}
}

// EnsureScope returns the scope's state, starting its runloop, cadence, and source watch on first use.
func (m *Manager) EnsureScope(scopeId data.ScopeId) *ScopeState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.scopes[scopeId]; ok {
		return h.ss
	}
	parent := m.ctx
	if parent == nil {
		parent = context.Background()
	}
	ctx, info := klogging.CreateCtxInfo(parent)
	info.With("scope", string(scopeId))
	ctx, cancel := context.WithCancel(ctx)

	ss := &ScopeState{
		ScopeId:   scopeId,
		deps:      m.deps,
		ledger:    m.deps.NewLedger(scopeId),
		warmStart: map[data.JobId]*data.Assignment{},
	}
	ss.runloop = krunloop.NewRunLoop(ctx, ss, "scope_"+string(scopeId))
	debounceMs := int(m.deps.CfgProvider.GetConfig().ScheduleConfig.DebounceMs)
	ss.solveBatch = NewBatchManager(ss, debounceMs, "SolveBatchEvent", func(ctx context.Context, ss *ScopeState, triggers []string) {
		ss.requestSolve(ctx, joinTriggers(triggers), nil, nil)
	})
	m.warmFromDispatcher(ctx, ss)
	ss.publish()

	h := &scopeHandle{ss: ss, cancel: cancel, done: make(chan struct{})}
	m.scopes[scopeId] = h
	go func() {
		defer close(h.done)
		ss.runloop.Run(ctx)
	}()
	if m.deps.Source != nil {
		ss.scheduleTick()
		go m.watch(ctx, ss)
	}
	klogging.Info(ctx).With("scope", scopeId).Log("ScopeStarted", "")
	return ss
}

// warmFromDispatcher seeds the warm start with what was committed before a restart.
func (m *Manager) warmFromDispatcher(ctx context.Context, ss *ScopeState) {
	if m.deps.Dispatcher == nil {
		return
	}
	list, err := m.deps.Dispatcher.LoadCommitted(ctx, ss.ScopeId)
	if err != nil {
		klogging.Warning(ctx).WithError(err).With("scope", ss.ScopeId).Log("WarmStartLoadFailed", "starting cold")
		return
	}
	for _, a := range list {
		ss.warmStart[a.JobId] = a
		if a.Version > ss.lastCommittedVersion {
			ss.lastCommittedVersion = a.Version
		}
	}
}

func (m *Manager) watch(ctx context.Context, ss *ScopeState) {
	for change := range m.deps.Source.Watch(ctx, ss.ScopeId) {
		ss.PostEvent(&ChangeEvent{change: change})
	}
}

// Ledger returns the scope's capacity ledger, the target of completion Release calls.
func (m *Manager) Ledger(scopeId data.ScopeId) (*validator.CapacityLedger, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.scopes[scopeId]
	if !ok {
		return nil, false
	}
	return h.ss.ledger, true
}

// Trigger asks for a solve of a fresh snapshot from the source.
func (m *Manager) Trigger(scopeId data.ScopeId, trigger string) {
	m.EnsureScope(scopeId).PostEvent(NewSolveTriggerEvent(trigger))
}

// Solve runs one cycle on the submitted snapshot and waits for its report. A newer snapshot or
// Cancel for the same scope ends it early with a Cancelled report.
func (m *Manager) Solve(ctx context.Context, snap *snapshot.Snapshot) (*CycleReport, error) {
	if err := snapshot.Validate(snap); err != nil {
		return nil, err
	}
	reply := make(chan *CycleReport, 1)
	m.EnsureScope(snap.ScopeId).PostEvent(&SolveTriggerEvent{Trigger: "submit", Snap: snap, Reply: reply})
	select {
	case report := <-reply:
		return report, report.Err
	case <-ctx.Done():
		return nil, kerror.Wrap(ctx.Err(), "SolveWaitAborted", "caller gave up waiting", false).WithErrorCode(kerror.EC_TIMEOUT)
	}
}

// Cancel aborts the scope's in-flight solve at its next checkpoint, and drops a queued one.
func (m *Manager) Cancel(scopeId data.ScopeId) {
	m.mu.Lock()
	h, ok := m.scopes[scopeId]
	m.mu.Unlock()
	if ok {
		h.ss.PostEvent(&CancelEvent{})
	}
}

func (m *Manager) Summaries() []*ScopeSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]*ScopeSummary, 0, len(m.scopes))
	for _, h := range m.scopes {
		list = append(list, h.ss.Summary())
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ScopeId < list[j].ScopeId })
	return list
}

// Stop ends every runloop and waits for them.
func (m *Manager) Stop() {
	m.mu.Lock()
	handles := make([]*scopeHandle, 0, len(m.scopes))
	for _, h := range m.scopes {
		handles = append(handles, h)
	}
	m.mu.Unlock()
	for _, h := range handles {
		h.ss.stopped.Store(true)
		h.cancel()
		h.ss.runloop.StopAndWaitForExit()
		<-h.done
	}
}
