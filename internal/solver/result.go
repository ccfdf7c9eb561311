package solver

import (
	"github.com/gridsynapse/placement/internal/data"
	"github.com/gridsynapse/placement/placementjson"
)

type SolveMode string

const (
	SM_Exact     SolveMode = "exact"
	SM_Greedy    SolveMode = "greedy"
	SM_Cancelled SolveMode = "cancelled"
)

// ReasonKind values match the kerror types of the same names.
type ReasonKind string

const (
	RK_ModelInfeasible   ReasonKind = "ModelInfeasible"
	RK_SolveTimeout      ReasonKind = "SolveTimeout"
	RK_StaleSnapshot     ReasonKind = "StaleSnapshot"
	RK_MigrationDamped   ReasonKind = "MigrationDamped"
	RK_SolveCancelled    ReasonKind = "SolveCancelled"
	RK_GreedyFallback    ReasonKind = "GreedyFallback"
	RK_CapacityContended ReasonKind = "CapacityContended"
)

type Reason struct {
	Kind  ReasonKind
	JobId data.JobId // empty for solve level reasons
	Msg   string
}

// SolveResult never carries an error: every recoverable condition is a Reason.
type SolveResult struct {
	SolveId           data.SolveId
	ScopeId           data.ScopeId
	SnapshotVersion   int64
	Assignments       []*data.Assignment // job id order
	UnschedulableJobs []data.JobId       // job id order
	JobReasons        map[data.JobId]data.ReasonCode
	Degraded          bool
	Cancelled         bool
	ObjectiveValue    float64 // weighted cost of placed jobs, unplaced penalties excluded
	SolveDurationMs   uint32
	Mode              SolveMode
	StaleDatacenters  []data.DatacenterId
	Reasons           []Reason
	LpBound           float64
	HasLpBound        bool
	NodesExplored     int64
}

func (sr *SolveResult) addReason(kind ReasonKind, jobId data.JobId, msg string) {
	sr.Reasons = append(sr.Reasons, Reason{Kind: kind, JobId: jobId, Msg: msg})
}

// HasReason is mostly for tests.
func (sr *SolveResult) HasReason(kind ReasonKind) bool {
	for _, r := range sr.Reasons {
		if r.Kind == kind {
			return true
		}
	}
	return false
}

func (sr *SolveResult) ToJson() *placementjson.SolveResultJson {
	sj := &placementjson.SolveResultJson{
		SolveId:         string(sr.SolveId),
		ScopeId:         string(sr.ScopeId),
		SnapshotVersion: sr.SnapshotVersion,
		Degraded:        sr.Degraded,
		Cancelled:       sr.Cancelled,
		ObjectiveValue:  sr.ObjectiveValue,
		SolveDurationMs: sr.SolveDurationMs,
		Mode:            string(sr.Mode),
	}
	sj.Assignments = []*placementjson.AssignmentJson{}
	for _, a := range sr.Assignments {
		sj.Assignments = append(sj.Assignments, AssignmentToJson(a))
	}
	sj.UnschedulableJobs = []string{}
	for _, jobId := range sr.UnschedulableJobs {
		sj.UnschedulableJobs = append(sj.UnschedulableJobs, string(jobId))
	}
	for _, dcId := range sr.StaleDatacenters {
		sj.StaleDatacenters = append(sj.StaleDatacenters, string(dcId))
	}
	for _, r := range sr.Reasons {
		sj.Reasons = append(sj.Reasons, &placementjson.ReasonJson{Kind: string(r.Kind), JobId: string(r.JobId), Msg: r.Msg})
	}
	return sj
}

func AssignmentToJson(a *data.Assignment) *placementjson.AssignmentJson {
	return &placementjson.AssignmentJson{
		JobId:             string(a.JobId),
		DatacenterId:      string(a.DatacenterId),
		GpuDemand:         a.GpuDemand,
		ProjectedCost:     a.ProjectedCost,
		ProjectedCarbonKg: a.ProjectedCarbonKg,
		Migration:         a.Migration,
		FromDatacenter:    string(a.FromDatacenter),
		MigrationCost:     a.MigrationCost,
		Version:           a.Version,
	}
}

// RecordTransitions moves every job the solve decided out of Pending: CandidateAssigned for
// assignments, Unschedulable for the rest. A cancelled result records nothing.
func (sr *SolveResult) RecordTransitions(tracker *data.JobStateTracker) {
	if sr.Cancelled {
		return
	}
	for _, a := range sr.Assignments {
		tracker.Transition(a.JobId, data.JS_CandidateAssigned, a, data.RC_None)
	}
	for _, jobId := range sr.UnschedulableJobs {
		reason := sr.JobReasons[jobId]
		if reason == data.RC_None {
			reason = data.RC_NoEligibleDc
		}
		tracker.Transition(jobId, data.JS_Unschedulable, nil, reason)
	}
}
