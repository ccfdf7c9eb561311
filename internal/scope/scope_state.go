package scope

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/gridsynapse/placement/internal/config"
	"github.com/gridsynapse/placement/internal/data"
	"github.com/gridsynapse/placement/internal/dispatch"
	"github.com/gridsynapse/placement/internal/snapshot"
	"github.com/gridsynapse/placement/internal/solver"
	"github.com/gridsynapse/placement/internal/validator"
	"github.com/gridsynapse/placement/libs/xklib/kcommon"
	"github.com/gridsynapse/placement/libs/xklib/kerror"
	"github.com/gridsynapse/placement/libs/xklib/klogging"
	"github.com/gridsynapse/placement/libs/xklib/krunloop"
)

// maxBatchStaleResolves caps back to back re-solves after BatchStale; past it the scope waits
// for the next cadence tick or trigger.
const maxBatchStaleResolves = 3

// Deps are shared by every scope of a Manager.
type Deps struct {
	Source      snapshot.Source // nil: only submitted snapshots are solved
	Dispatcher  dispatch.Dispatcher
	NewLedger   func(scopeId data.ScopeId) *validator.CapacityLedger // nil: validator.NewScopeLedger
	CfgProvider config.ConfigProvider
	OnCycle     func(report *CycleReport) // called on the scope's runloop; optional
}

// CycleReport is the outcome of one solve cycle.
type CycleReport struct {
	ScopeId         data.ScopeId
	SnapshotVersion int64
	Trigger         string
	Result          *solver.SolveResult
	Validation      *validator.ValidationReport
	Committed       []*data.Assignment
	Refused         []*data.Assignment
	Tracker         *data.JobStateTracker
	Cancelled       bool
	Err             error // set when the cycle never got to solve (bad snapshot, source error)
}

// inFlightSolve is the one solve a scope may run at a time.
type inFlightSolve struct {
	token   int64
	snap    *snapshot.Snapshot
	trigger string
	cancel  context.CancelFunc
	waiters []chan *CycleReport
}

// pendingSolve waits for the in-flight solve to exit. snap nil means "take from the source".
type pendingSolve struct {
	snap    *snapshot.Snapshot
	trigger string
	waiters []chan *CycleReport
}

// ScopeState is owned by the scope's runloop. Only events touch it.
type ScopeState struct {
	ScopeId data.ScopeId
	deps    *Deps
	ledger  *validator.CapacityLedger
	runloop *krunloop.RunLoop[*ScopeState]
	stopped atomic.Bool

	solveBatch *BatchManager

	nextToken            int64
	inFlight             *inFlightSolve
	pending              *pendingSolve
	warmStart            map[data.JobId]*data.Assignment
	lastCommittedVersion int64
	staleStreak          int
	cycles               int64

	summary atomic.Pointer[ScopeSummary]
}

// IsResource implements krunloop.CriticalResource
func (ss *ScopeState) IsResource() {}

func (ss *ScopeState) PostEvent(event krunloop.IEvent[*ScopeState]) {
	if ss.stopped.Load() {
		return
	}
	ss.runloop.PostEvent(event)
}

// requestSolve starts a solve, or queues it behind the in-flight one after cancelling that.
func (ss *ScopeState) requestSolve(ctx context.Context, trigger string, snap *snapshot.Snapshot, waiter chan *CycleReport) {
	var waiters []chan *CycleReport
	if waiter != nil {
		waiters = append(waiters, waiter)
	}
	if ss.inFlight == nil {
		ss.startSolve(ctx, trigger, snap, waiters)
		return
	}
	switch {
	case ss.pending == nil:
		ss.pending = &pendingSolve{snap: snap, trigger: trigger, waiters: waiters}
	case snap != nil:
		// a submitted snapshot replaces whatever was queued
		ss.notify(ss.pending.waiters, &CycleReport{ScopeId: ss.ScopeId, Trigger: ss.pending.trigger, Cancelled: true})
		ss.pending = &pendingSolve{snap: snap, trigger: trigger, waiters: waiters}
	default:
		ss.pending.trigger += "," + trigger
	}
	klogging.Info(ctx).With("scope", ss.ScopeId).With("inFlightVersion", ss.inFlight.snap.Version).With("trigger", trigger).Log("SolveSuperseded", "cancelling in-flight solve")
	ss.inFlight.cancel()
}

func (ss *ScopeState) startSolve(ctx context.Context, trigger string, snap *snapshot.Snapshot, waiters []chan *CycleReport) {
	if snap == nil {
		if ss.deps.Source == nil {
			return
		}
		var err error
		snap, err = ss.deps.Source.Take(ctx, ss.ScopeId)
		if err != nil {
			takeErrorMetric.GetTimeSequence(ctx, string(ss.ScopeId)).Add(1)
			klogging.Error(ctx).WithError(err).With("scope", ss.ScopeId).Log("SnapshotTakeFailed", "")
			ss.notify(waiters, &CycleReport{ScopeId: ss.ScopeId, Trigger: trigger, Err: err})
			return
		}
	}
	if err := ss.admit(snap); err != nil {
		klogging.Error(ctx).WithError(err).With("scope", ss.ScopeId).Log("SnapshotRefused", "")
		ss.notify(waiters, &CycleReport{ScopeId: ss.ScopeId, SnapshotVersion: snap.Version, Trigger: trigger, Err: err})
		return
	}
	snap = ss.ledger.Sync(ctx, snap)
	cfg := ss.deps.CfgProvider.GetConfig()
	warm := ss.warmList()

	ss.nextToken++
	token := ss.nextToken
	solveCtx, cancel := context.WithCancel(ctx)
	ss.inFlight = &inFlightSolve{token: token, snap: snap, trigger: trigger, cancel: cancel, waiters: waiters}
	go func() {
		var result *solver.SolveResult
		ke := kcommon.TryCatchRun(solveCtx, func() {
			result = solver.Solve(solveCtx, snap, solver.SolveOptions{Config: cfg, WarmStart: warm})
		})
		ss.PostEvent(NewSolveDoneEvent(token, result, ke))
	}()
	ss.publish()
}

// admit rejects malformed snapshots and snapshots not newer than the last committed one.
func (ss *ScopeState) admit(snap *snapshot.Snapshot) error {
	if snap.ScopeId != ss.ScopeId {
		return kerror.Create("MalformedSnapshot", "snapshot belongs to another scope").
			WithErrorCode(kerror.EC_INVALID_PARAMETER).
			With("scope", ss.ScopeId).
			With("snapshotScope", snap.ScopeId)
	}
	if err := snapshot.Validate(snap); err != nil {
		return err
	}
	if snap.Version <= ss.lastCommittedVersion {
		return kerror.Create("StaleSnapshot", "snapshot version not newer than last committed").
			WithErrorCode(kerror.EC_CONFLICT).
			With("version", snap.Version).
			With("lastCommitted", ss.lastCommittedVersion)
	}
	return nil
}

// solveDone runs on the loop when a solve goroutine returns.
func (ss *ScopeState) solveDone(ctx context.Context, token int64, result *solver.SolveResult, ke *kerror.Kerror) {
	fl := ss.inFlight
	if fl == nil || fl.token != token {
		klogging.Warning(ctx).With("scope", ss.ScopeId).With("token", token).Log("SolveDoneIgnored", "not the in-flight solve")
		return
	}
	ss.inFlight = nil
	fl.cancel()
	ss.cycles++

	report := &CycleReport{ScopeId: ss.ScopeId, SnapshotVersion: fl.snap.Version, Trigger: fl.trigger, Result: result}
	switch {
	case ke != nil:
		report.Err = ke
		klogging.Error(ctx).WithError(ke).With("scope", ss.ScopeId).With("version", fl.snap.Version).Log("SolvePanic", "cycle dropped")
	case result.Cancelled || ss.pending != nil:
		// a finished result whose snapshot was superseded is dropped like a cancelled one
		report.Cancelled = true
		cycleMetric.GetTimeSequence(ctx, string(ss.ScopeId), "cancelled").Add(1)
	default:
		ss.commit(ctx, fl.snap, report)
	}
	ss.recordResult(report.Result)
	ss.notify(fl.waiters, report)
	if ss.deps.OnCycle != nil {
		ss.deps.OnCycle(report)
	}

	if p := ss.pending; p != nil {
		ss.pending = nil
		ss.startSolve(ctx, p.trigger, p.snap, p.waiters)
	} else if report.Validation != nil && report.Validation.BatchStale {
		if ss.staleStreak <= maxBatchStaleResolves && ss.deps.Source != nil {
			ss.startSolve(ctx, "batch_stale", nil, nil)
		} else {
			klogging.Warning(ctx).With("scope", ss.ScopeId).With("streak", ss.staleStreak).Log("BatchStaleGiveUp", "waiting for next trigger")
		}
	}
	ss.publish()
}

func (ss *ScopeState) commit(ctx context.Context, snap *snapshot.Snapshot, report *CycleReport) {
	result := report.Result
	cfg := ss.deps.CfgProvider.GetConfig()
	tracker := data.NewJobStateTracker()
	result.RecordTransitions(tracker)
	report.Tracker = tracker

	report.Validation = validator.Validate(ctx, result, ss.ledger, snap, validator.Options{Config: cfg, Gate: ss.deps.Dispatcher, Tracker: tracker})
	if report.Validation.BatchStale {
		ss.staleStreak++
		cycleMetric.GetTimeSequence(ctx, string(ss.ScopeId), "batch_stale").Add(1)
		return
	}
	ss.staleStreak = 0

	report.Committed, report.Refused = dispatch.CommitBatch(ctx, ss.deps.Dispatcher, ss.ScopeId, report.Validation.Accepted, tracker)
	for _, a := range report.Refused {
		if a.ConsumesCapacity() {
			ss.ledger.Release(a.DatacenterId, a.GpuDemand)
		}
	}

	// the warm start follows the snapshot: finished jobs drop out, committed ones overwrite
	next := map[data.JobId]*data.Assignment{}
	for _, job := range snap.Jobs {
		if a, ok := ss.warmStart[job.JobId]; ok {
			next[job.JobId] = a
		}
	}
	for _, a := range report.Committed {
		next[a.JobId] = a
	}
	ss.warmStart = next
	ss.lastCommittedVersion = snap.Version
	cycleMetric.GetTimeSequence(ctx, string(ss.ScopeId), "committed").Add(1)
	klogging.Info(ctx).
		With("scope", ss.ScopeId).
		With("version", snap.Version).
		With("committed", len(report.Committed)).
		With("conflicts", len(report.Validation.Conflicts)).
		With("unschedulable", len(result.UnschedulableJobs)).
		With("degraded", result.Degraded).
		Log("CycleCommitted", "")
}

func (ss *ScopeState) cancel(ctx context.Context) {
	if ss.pending != nil {
		ss.notify(ss.pending.waiters, &CycleReport{ScopeId: ss.ScopeId, Trigger: ss.pending.trigger, Cancelled: true})
		ss.pending = nil
	}
	if ss.inFlight != nil {
		klogging.Info(ctx).With("scope", ss.ScopeId).With("version", ss.inFlight.snap.Version).Log("SolveCancel", "")
		ss.inFlight.cancel()
	}
}

func (ss *ScopeState) notify(waiters []chan *CycleReport, report *CycleReport) {
	for _, ch := range waiters {
		select {
		case ch <- report:
		default:
		}
	}
}

func (ss *ScopeState) warmList() []*data.Assignment {
	list := make([]*data.Assignment, 0, len(ss.warmStart))
	for _, a := range ss.warmStart {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].JobId < list[j].JobId })
	return list
}

func joinTriggers(triggers []string) string {
	seen := map[string]bool{}
	var uniq []string
	for _, t := range triggers {
		if !seen[t] {
			seen[t] = true
			uniq = append(uniq, t)
		}
	}
	return strings.Join(uniq, ",")
}
