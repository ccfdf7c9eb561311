package scope

import (
	"context"

	"github.com/gridsynapse/placement/internal/snapshot"
	"github.com/gridsynapse/placement/internal/solver"
	"github.com/gridsynapse/placement/libs/xklib/kcommon"
	"github.com/gridsynapse/placement/libs/xklib/kerror"
	"github.com/gridsynapse/placement/libs/xklib/klogging"
)

// SolveTriggerEvent implements krunloop.IEvent[*ScopeState]. A nil Snap takes a fresh snapshot from the source.
type SolveTriggerEvent struct {
	Trigger string
	Snap    *snapshot.Snapshot
	Reply   chan *CycleReport // optional, buffered
}

func NewSolveTriggerEvent(trigger string) *SolveTriggerEvent {
	return &SolveTriggerEvent{Trigger: trigger}
}

func (ste *SolveTriggerEvent) GetName() string {
	return "SolveTriggerEvent"
}

func (ste *SolveTriggerEvent) Process(ctx context.Context, ss *ScopeState) {
	ss.requestSolve(ctx, ste.Trigger, ste.Snap, ste.Reply)
}

// SolveDoneEvent implements krunloop.IEvent[*ScopeState]
type SolveDoneEvent struct {
	token  int64
	result *solver.SolveResult
	ke     *kerror.Kerror
}

func NewSolveDoneEvent(token int64, result *solver.SolveResult, ke *kerror.Kerror) *SolveDoneEvent {
	return &SolveDoneEvent{token: token, result: result, ke: ke}
}

func (sde *SolveDoneEvent) GetName() string {
	return "SolveDoneEvent"
}

func (sde *SolveDoneEvent) Process(ctx context.Context, ss *ScopeState) {
	ss.solveDone(ctx, sde.token, sde.result, sde.ke)
}

// CancelEvent implements krunloop.IEvent[*ScopeState]
type CancelEvent struct {
}

func (ce *CancelEvent) GetName() string {
	return "CancelEvent"
}

func (ce *CancelEvent) Process(ctx context.Context, ss *ScopeState) {
	ss.cancel(ctx)
}

// CadenceTickEvent implements krunloop.IEvent[*ScopeState]. It re-arms itself.
type CadenceTickEvent struct {
}

func (cte *CadenceTickEvent) GetName() string {
	return "CadenceTickEvent"
}

func (cte *CadenceTickEvent) Process(ctx context.Context, ss *ScopeState) {
	ss.requestSolve(ctx, "cadence", nil, nil)
	ss.scheduleTick()
}

func (ss *ScopeState) scheduleTick() {
	cadenceMs := int(ss.deps.CfgProvider.GetConfig().ScheduleConfig.SolveCadenceSec) * 1000
	kcommon.ScheduleRun(cadenceMs, func() {
		ss.PostEvent(&CadenceTickEvent{})
	})
}

// ChangeEvent implements krunloop.IEvent[*ScopeState]. Significant changes (job arrival, a
// forecast move over the threshold) schedule a debounced solve; the rest wait for the cadence.
type ChangeEvent struct {
	change snapshot.Change
}

func (ce *ChangeEvent) GetName() string {
	return "ChangeEvent"
}

func (ce *ChangeEvent) Process(ctx context.Context, ss *ScopeState) {
	if !ce.change.Significant {
		klogging.Verbose(ctx).With("scope", ss.ScopeId).With("kind", ce.change.Kind).Log("ChangeIgnored", "below threshold")
		return
	}
	ss.solveBatch.TrySchedule(string(ce.change.Kind))
}
