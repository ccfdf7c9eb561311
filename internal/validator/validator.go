package validator

import (
	"context"
	"fmt"
	"sort"

	"github.com/gridsynapse/placement/internal/config"
	"github.com/gridsynapse/placement/internal/costfunc"
	"github.com/gridsynapse/placement/internal/data"
	"github.com/gridsynapse/placement/internal/model"
	"github.com/gridsynapse/placement/internal/snapshot"
	"github.com/gridsynapse/placement/internal/solver"
	"github.com/gridsynapse/placement/libs/xklib/kerror"
	"github.com/gridsynapse/placement/libs/xklib/klogging"
	"github.com/gridsynapse/placement/libs/xklib/kmetrics"
)

var (
	conflictMetric   = kmetrics.CreateKmetric(context.Background(), "validation_conflict", "assignments dropped by the validator", []string{"scope", "reason"}).CountOnly()
	batchStaleMetric = kmetrics.CreateKmetric(context.Background(), "batch_stale", "solve results discarded as stale", []string{"scope"}).CountOnly()
	rederiveMetric   = kmetrics.CreateKmetric(context.Background(), "ledger_rederive", "datacenters re-derived after a capacity version change", []string{"scope"}).CountOnly()
)

// maxReserveAttempts bounds the CAS retry per datacenter.
const maxReserveAttempts = 3

// VersionGate answers the last committed assignment version of a job. The dispatcher implements it.
type VersionGate interface {
	LastVersion(jobId data.JobId) (int64, bool)
}

type Options struct {
	Config  *config.PlacementConfig
	Gate    VersionGate           // optional
	Tracker *data.JobStateTracker // optional; jobs must be CandidateAssigned already
}

type Conflict struct {
	Assignment *data.Assignment
	Reason     data.ReasonCode
	Msg        string
}

// ToError gives the conflict its kerror form (ValidationConflict), for logs and the ops API.
func (c *Conflict) ToError() *kerror.Kerror {
	return kerror.Create("ValidationConflict", c.Msg).
		WithErrorCode(kerror.EC_CONFLICT).
		With("job", c.Assignment.JobId).
		With("datacenter", c.Assignment.DatacenterId).
		With("reason", c.Reason)
}

type ValidationReport struct {
	ScopeId         data.ScopeId
	SnapshotVersion int64
	Accepted        []*data.Assignment // capacity reserved, ready for dispatch; job id order
	Conflicts       []*Conflict
	Requeued        []data.JobId // job id order
	BatchStale      bool
	FailedFraction  float64
	Rederived       []data.DatacenterId // datacenters whose ledger version moved since the snapshot
}

// BatchStaleError is nil unless the whole batch was discarded.
func (vr *ValidationReport) BatchStaleError() *kerror.Kerror {
	if !vr.BatchStale {
		return nil
	}
	return kerror.Create("BatchStale", "too many assignments failed validation, batch discarded").
		WithErrorCode(kerror.EC_RETRYABLE).
		With("scope", vr.ScopeId).
		With("version", vr.SnapshotVersion).
		With("failedFraction", vr.FailedFraction)
}

// Validate re-checks a solve result against the live ledger and reserves capacity for what
// survives. snap is the snapshot the result was solved on (after ledger Sync).
//
// Phase 1 drops individual assignments (duplicate job, stale version, unknown job or datacenter,
// hysteresis). Phase 2 plans capacity per datacenter: when the ledger version still matches the
// snapshot the plan is the solver's; otherwise it is re-derived greedily against the fresh
// counter. If the failed fraction exceeds max_invalid_fraction_before_discard the batch is stale
// and nothing is reserved. Otherwise each datacenter is reserved with one CAS.
func Validate(ctx context.Context, result *solver.SolveResult, ledger *CapacityLedger, snap *snapshot.Snapshot, opts Options) *ValidationReport {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.GetCurrentConfigProvider().GetConfig()
	}
	report := &ValidationReport{ScopeId: result.ScopeId, SnapshotVersion: result.SnapshotVersion}
	total := len(result.Assignments)
	if result.Cancelled || total == 0 {
		return report
	}

	v := &validation{ctx: ctx, cfg: cfg, snap: snap, ledger: ledger, gate: opts.Gate, report: report}
	candidates := v.phase1(result.Assignments)
	plans := v.planAll(candidates)

	report.FailedFraction = float64(len(report.Conflicts)) / float64(total)
	if report.FailedFraction > cfg.ValidatorConfig.MaxInvalidFractionBeforeDiscard {
		report.BatchStale = true
		batchStaleMetric.GetTimeSequence(ctx, string(report.ScopeId)).Add(1)
		klogging.Warning(ctx).WithError(report.BatchStaleError()).With("conflicts", len(report.Conflicts)).With("total", total).Log("BatchStale", "nothing committed")
		v.finish(result.Assignments, nil, opts.Tracker)
		return report
	}

	var accepted []*data.Assignment
	for _, p := range plans {
		accepted = append(accepted, v.reserve(p)...)
	}
	v.finish(result.Assignments, accepted, opts.Tracker)
	return report
}

type validation struct {
	ctx    context.Context
	cfg    *config.PlacementConfig
	snap   *snapshot.Snapshot
	ledger *CapacityLedger
	gate   VersionGate
	report *ValidationReport
}

func (v *validation) conflict(a *data.Assignment, reason data.ReasonCode, msg string) {
	c := &Conflict{Assignment: a, Reason: reason, Msg: msg}
	v.report.Conflicts = append(v.report.Conflicts, c)
	conflictMetric.GetTimeSequence(v.ctx, string(v.report.ScopeId), string(reason)).Add(1)
	klogging.Info(v.ctx).WithError(c.ToError()).Log("ValidationConflict", "assignment dropped")
}

func (v *validation) phase1(assignments []*data.Assignment) []*data.Assignment {
	seen := map[data.JobId]bool{}
	var out []*data.Assignment
	for _, a := range assignments {
		if seen[a.JobId] {
			v.conflict(a, data.RC_DuplicateJob, "job assigned more than once")
			continue
		}
		seen[a.JobId] = true
		if msg := v.check(a); msg != "" {
			reason := data.RC_ValidationConflict
			switch msg {
			case msgStaleVersion:
				reason = data.RC_StaleVersion
			case msgDamped:
				reason = data.RC_MigrationDamped
			}
			v.conflict(a, reason, msg)
			continue
		}
		out = append(out, a)
	}
	return out
}

const (
	msgStaleVersion = "version not newer than last committed"
	msgDamped       = "migration saving below hysteresis margin"
)

// check returns "" when the assignment passes the per-assignment invariants.
func (v *validation) check(a *data.Assignment) string {
	if a.Version != v.snap.Version {
		return msgStaleVersion
	}
	if v.gate != nil {
		if last, ok := v.gate.LastVersion(a.JobId); ok && a.Version <= last {
			return msgStaleVersion
		}
	}
	job, ok := v.snap.GetJob(a.JobId)
	if !ok {
		return "job not in snapshot"
	}
	if a.GpuDemand != job.GpuDemand {
		return "gpu demand does not match the job"
	}
	if a.FromDatacenter != job.CurrentDatacenter {
		return "job moved since the solve"
	}
	dc, ok := v.snap.GetDatacenter(a.DatacenterId)
	if !ok {
		return "unknown datacenter"
	}
	if a.ConsumesCapacity() && !dc.Available {
		return "datacenter unavailable"
	}
	if a.Migration {
		from, ok := v.snap.GetDatacenter(a.FromDatacenter)
		if ok && from.Available && !v.migrationPays(job, a.DatacenterId) {
			return msgDamped
		}
	}
	return ""
}

func (v *validation) migrationPays(job *data.Job, to data.DatacenterId) bool {
	stay, ok1 := model.EvaluateOption(v.snap, v.cfg, job, job.CurrentDatacenter)
	move, ok2 := model.EvaluateOption(v.snap, v.cfg, job, to)
	if !ok1 || !ok2 {
		return false
	}
	return costfunc.ShouldMigrate(stay.Operating, move.Operating, move.Cost.MigrationCost, v.cfg.CostFuncCfg.MigrationHysteresisFactor)
}

// dcPlan is what one datacenter will take.
type dcPlan struct {
	dcId    data.DatacenterId
	version int64 // ledger version the plan was derived against
	take    []*data.Assignment
	gpus    int64
}

// planAll groups capacity consuming assignments per datacenter (datacenter id order). Stays go
// through without a plan.
func (v *validation) planAll(candidates []*data.Assignment) []*dcPlan {
	byDc := map[data.DatacenterId][]*data.Assignment{}
	var stays []*data.Assignment
	for _, a := range candidates {
		if !a.ConsumesCapacity() {
			stays = append(stays, a)
			continue
		}
		byDc[a.DatacenterId] = append(byDc[a.DatacenterId], a)
	}
	var plans []*dcPlan
	if len(stays) > 0 {
		plans = append(plans, &dcPlan{take: stays})
	}
	var dcIds []data.DatacenterId
	for dcId := range byDc {
		dcIds = append(dcIds, dcId)
	}
	sort.Slice(dcIds, func(i, j int) bool { return dcIds[i] < dcIds[j] })
	for _, dcId := range dcIds {
		dc, _ := v.snap.GetDatacenter(dcId)
		plans = append(plans, v.plan(dcId, dc.CapacityVersion, byDc[dcId]))
	}
	return plans
}

// plan fits list into the datacenter's fresh free capacity, in job id order. A version change
// since the snapshot is recorded as a re-derive.
func (v *validation) plan(dcId data.DatacenterId, snapVersion int64, list []*data.Assignment) *dcPlan {
	free, version, ok := v.ledger.Read(dcId)
	p := &dcPlan{dcId: dcId, version: version}
	if !ok {
		for _, a := range list {
			v.conflict(a, data.RC_ValidationConflict, "datacenter not in capacity ledger")
		}
		return p
	}
	if version != snapVersion {
		v.noteRederive(dcId)
	}
	for _, a := range list {
		if p.gpus+a.GpuDemand > free {
			v.conflict(a, data.RC_ValidationConflict, fmt.Sprintf("capacity exhausted in %s (free=%d, planned=%d, need=%d)", dcId, free, p.gpus, a.GpuDemand))
			continue
		}
		p.take = append(p.take, a)
		p.gpus += a.GpuDemand
	}
	return p
}

func (v *validation) noteRederive(dcId data.DatacenterId) {
	if n := len(v.report.Rederived); n > 0 && v.report.Rederived[n-1] == dcId {
		return
	}
	v.report.Rederived = append(v.report.Rederived, dcId)
	rederiveMetric.GetTimeSequence(v.ctx, string(v.report.ScopeId)).Add(1)
}

// reserve commits one plan to the ledger. A lost CAS re-plans against the fresh counter.
func (v *validation) reserve(p *dcPlan) []*data.Assignment {
	if p.dcId == "" || p.gpus == 0 {
		return p.take
	}
	for attempt := 1; ; attempt++ {
		if v.ledger.TryReserve(p.dcId, p.version, p.gpus) {
			return p.take
		}
		if attempt == maxReserveAttempts {
			for _, a := range p.take {
				v.conflict(a, data.RC_ValidationConflict, "capacity ledger kept changing")
			}
			return nil
		}
		klogging.Debug(v.ctx).With("datacenter", p.dcId).With("attempt", attempt).Log("ReserveRetry", "ledger version moved")
		p = v.plan(p.dcId, p.version, p.take)
		if p.gpus == 0 {
			return p.take
		}
	}
}

// finish sorts the report and records job state transitions.
func (v *validation) finish(all []*data.Assignment, accepted []*data.Assignment, tracker *data.JobStateTracker) {
	sort.Slice(accepted, func(i, j int) bool { return accepted[i].JobId < accepted[j].JobId })
	v.report.Accepted = accepted
	ok := map[data.JobId]bool{}
	for _, a := range accepted {
		ok[a.JobId] = true
	}
	reasons := map[data.JobId]data.ReasonCode{}
	for _, c := range v.report.Conflicts {
		if _, dup := reasons[c.Assignment.JobId]; !dup {
			reasons[c.Assignment.JobId] = c.Reason
		}
	}
	requeued := map[data.JobId]bool{}
	for _, a := range all {
		if ok[a.JobId] || requeued[a.JobId] {
			continue
		}
		requeued[a.JobId] = true
		v.report.Requeued = append(v.report.Requeued, a.JobId)
	}
	sort.Slice(v.report.Requeued, func(i, j int) bool { return v.report.Requeued[i] < v.report.Requeued[j] })
	if tracker == nil {
		return
	}
	for _, a := range accepted {
		tracker.Transition(a.JobId, data.JS_Validated, a, data.RC_None)
	}
	for _, jobId := range v.report.Requeued {
		reason := reasons[jobId]
		if reason == data.RC_None {
			reason = data.RC_BatchStale
		}
		tracker.Transition(jobId, data.JS_Rejected, nil, reason)
		tracker.Transition(jobId, data.JS_Pending, nil, data.RC_Requeued)
	}
}
