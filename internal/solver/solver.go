package solver

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/gridsynapse/placement/internal/config"
	"github.com/gridsynapse/placement/internal/data"
	"github.com/gridsynapse/placement/internal/model"
	"github.com/gridsynapse/placement/internal/snapshot"
	"github.com/gridsynapse/placement/libs/xklib/kcommon"
	"github.com/gridsynapse/placement/libs/xklib/klogging"
)

type SolveOptions struct {
	Config      *config.PlacementConfig
	WarmStart   []*data.Assignment // previous committed set of the scope
	ForceGreedy bool               // skip the exact search (dry runs, comparisons)
}

// ValidateAndSolve rejects a malformed snapshot before any solve work. It is the only error path.
func ValidateAndSolve(ctx context.Context, snap *snapshot.Snapshot, opts SolveOptions) (*SolveResult, error) {
	if err := snapshot.Validate(snap); err != nil {
		klogging.Error(ctx).WithError(err).With("scope", snap.ScopeId).With("version", snap.Version).Log("MalformedSnapshot", "solve refused")
		return nil, err
	}
	return Solve(ctx, snap, opts), nil
}

// Solve places the snapshot's jobs within the configured time budget. The snapshot must be valid
// (see snapshot.Validate). It always returns a result; a cancelled solve returns one with
// Cancelled set and no assignments.
func Solve(ctx context.Context, snap *snapshot.Snapshot, opts SolveOptions) *SolveResult {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.GetCurrentConfigProvider().GetConfig()
	}
	startMs := kcommon.GetMonoTimeMs()
	deadlineMs := startMs + int64(cfg.SolverConfig.TimeBudgetMs)
	result := &SolveResult{
		SolveId:         data.SolveId(uuid.New().String()),
		ScopeId:         snap.ScopeId,
		SnapshotVersion: snap.Version,
		JobReasons:      map[data.JobId]data.ReasonCode{},
	}
	ctx, info := klogging.CreateCtxInfo(ctx)
	info.With("solveId", string(result.SolveId))

	m, _ := model.Build(snap, cfg)
	result.StaleDatacenters = m.StaleDatacenters
	if len(m.StaleDatacenters) > 0 {
		result.addReason(RK_StaleSnapshot, "", fmt.Sprintf("%d datacenter(s) with stale forecast, costs inflated", len(m.StaleDatacenters)))
	}
	hints := buildHints(m, opts.WarmStart)

	var choice []int
	switch {
	case ctx.Err() != nil:
		return finishCancelled(ctx, result, startMs)
	case opts.ForceGreedy:
		choice = greedyChoice(m, hints)
		result.Mode = SM_Greedy
		result.Degraded = true
		result.addReason(RK_GreedyFallback, "", "greedy requested")
	default:
		bb := newBranchAndBound(ctx, m, hints, cfg.SolverConfig.CheckpointInterval, deadlineMs)
		if bound, ok := lpBound(ctx, m, cfg.SolverConfig.LpBoundMaxCells, deadlineMs); ok {
			bb.setLpBound(bound)
			result.LpBound = bound
			result.HasLpBound = true
		}
		if warm, ok := warmIncumbent(m, hints); ok {
			bb.seed(warm)
		}
		bb.run()
		result.NodesExplored = bb.nodes
		switch {
		case bb.stop == stopCancelled:
			return finishCancelled(ctx, result, startMs)
		case bb.stop == stopTimeout && !bb.hasBest:
			choice = greedyChoice(m, hints)
			result.Mode = SM_Greedy
			result.Degraded = true
			result.addReason(RK_SolveTimeout, "", "no feasible placement within budget, greedy fallback")
		case bb.stop == stopTimeout:
			choice = bb.best
			result.Mode = SM_Exact
			result.Degraded = true
			result.addReason(RK_SolveTimeout, "", "budget exhausted, best found placement returned")
		default:
			// tree exhausted or incumbent meets the LP bound
			choice = bb.best
			result.Mode = SM_Exact
		}
	}

	for _, jobId := range applyHysteresis(m, choice, cfg.CostFuncCfg.MigrationHysteresisFactor) {
		result.addReason(RK_MigrationDamped, jobId, "saving below hysteresis margin, job stays")
		result.JobReasons[jobId] = data.RC_MigrationDamped
	}
	fillUnplaced(m, choice, hints)
	collect(m, choice, snap, result)

	result.SolveDurationMs = uint32(kcommon.GetMonoTimeMs() - startMs)
	report(ctx, result)
	return result
}

// collect turns the choice vector into assignments and unschedulable jobs, both in job id order.
func collect(m *model.Model, choice []int, snap *snapshot.Snapshot, result *SolveResult) {
	unschedulable := map[data.JobId]data.ReasonCode{}
	for jobId, reason := range m.Reasons {
		unschedulable[jobId] = reason
		result.addReason(RK_ModelInfeasible, jobId, string(reason))
	}
	for j, c := range choice {
		jv := m.Jobs[j]
		if c == model.Unplaced {
			unschedulable[jv.Job.JobId] = data.RC_CapacityExhausted
			result.addReason(RK_CapacityContended, jv.Job.JobId, "lost capacity contention")
			continue
		}
		opt := jv.Options[c]
		a := &data.Assignment{
			JobId:             jv.Job.JobId,
			DatacenterId:      opt.DatacenterId,
			GpuDemand:         jv.Job.GpuDemand,
			ProjectedCost:     opt.Cost.PriceCost,
			ProjectedCarbonKg: opt.Cost.CarbonKg,
			Migration:         opt.Migration,
			FromDatacenter:    jv.Job.CurrentDatacenter,
			Version:           snap.Version,
		}
		if opt.Migration {
			a.MigrationCost = opt.Cost.MigrationCost
		}
		result.Assignments = append(result.Assignments, a)
	}
	result.ObjectiveValue = m.PlacedObjective(choice)
	// snapshot jobs are in id order, so walking them keeps the list sorted
	for _, job := range snap.Jobs {
		if reason, ok := unschedulable[job.JobId]; ok {
			result.UnschedulableJobs = append(result.UnschedulableJobs, job.JobId)
			result.JobReasons[job.JobId] = reason
		}
	}
}

func finishCancelled(ctx context.Context, result *SolveResult, startMs int64) *SolveResult {
	result.Cancelled = true
	result.Mode = SM_Cancelled
	result.addReason(RK_SolveCancelled, "", "cancelled, partial result discarded")
	result.SolveDurationMs = uint32(kcommon.GetMonoTimeMs() - startMs)
	klogging.Info(ctx).With("scope", result.ScopeId).With("version", result.SnapshotVersion).With("elapsedMs", result.SolveDurationMs).Log("SolveCancelled", "")
	return result
}

func report(ctx context.Context, result *SolveResult) {
	scope := string(result.ScopeId)
	solveMetric.GetTimeSequence(ctx, scope, string(result.Mode), fmt.Sprint(result.Degraded)).Add(1)
	solveDurationHisto.GetHistoSequence(ctx, scope, string(result.Mode)).Add(int64(result.SolveDurationMs))
	unschedulableMetric.GetTimeSequence(ctx, scope).Add(int64(len(result.UnschedulableJobs)))
	bnbNodesMetric.GetTimeSequence(ctx, scope).Add(result.NodesExplored)
	klogging.Info(ctx).
		With("scope", result.ScopeId).
		With("version", result.SnapshotVersion).
		With("mode", result.Mode).
		With("degraded", result.Degraded).
		With("assignments", len(result.Assignments)).
		With("unschedulable", len(result.UnschedulableJobs)).
		With("objective", result.ObjectiveValue).
		With("lpBound", result.LpBound).
		With("nodes", result.NodesExplored).
		With("elapsedMs", result.SolveDurationMs).
		Log("SolveDone", "")
}
