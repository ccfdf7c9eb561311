package scope

import (
	"github.com/gridsynapse/placement/internal/data"
	"github.com/gridsynapse/placement/internal/solver"
)

// ScopeSummary is a read only view of a scope, refreshed by the runloop after every solve event.
type ScopeSummary struct {
	ScopeId              data.ScopeId              `json:"scope_id"`
	Cycles               int64                     `json:"cycles"`
	InFlightVersion      int64                     `json:"in_flight_version,omitempty"`
	LastCommittedVersion int64                     `json:"last_committed_version"`
	StaleStreak          int                       `json:"stale_streak"`
	CommittedJobs        int                       `json:"committed_jobs"`
	Placements           map[data.DatacenterId]int `json:"placements"`
	LastMode             solver.SolveMode          `json:"last_mode,omitempty"`
	LastDegraded         bool                      `json:"last_degraded"`
	LastObjective        float64                   `json:"last_objective"`
	LastUnschedulable    int                       `json:"last_unschedulable"`
}

func (ss *ScopeState) publish() {
	prev := ss.summary.Load()
	sum := &ScopeSummary{
		ScopeId:              ss.ScopeId,
		Cycles:               ss.cycles,
		LastCommittedVersion: ss.lastCommittedVersion,
		StaleStreak:          ss.staleStreak,
		CommittedJobs:        len(ss.warmStart),
		Placements:           map[data.DatacenterId]int{},
	}
	if prev != nil {
		sum.LastMode = prev.LastMode
		sum.LastDegraded = prev.LastDegraded
		sum.LastObjective = prev.LastObjective
		sum.LastUnschedulable = prev.LastUnschedulable
	}
	if ss.inFlight != nil {
		sum.InFlightVersion = ss.inFlight.snap.Version
	}
	for _, a := range ss.warmStart {
		sum.Placements[a.DatacenterId]++
	}
	ss.summary.Store(sum)
}

// recordResult notes the last finished solve for the summary.
func (ss *ScopeState) recordResult(result *solver.SolveResult) {
	if result == nil || result.Cancelled {
		return
	}
	ss.publish()
	sum := *ss.summary.Load()
	sum.LastMode = result.Mode
	sum.LastDegraded = result.Degraded
	sum.LastObjective = result.ObjectiveValue
	sum.LastUnschedulable = len(result.UnschedulableJobs)
	ss.summary.Store(&sum)
}

func (ss *ScopeState) Summary() *ScopeSummary {
	if sum := ss.summary.Load(); sum != nil {
		return sum
	}
	return &ScopeSummary{ScopeId: ss.ScopeId, Placements: map[data.DatacenterId]int{}}
}
