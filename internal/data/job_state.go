package data

import "github.com/gridsynapse/placement/libs/xklib/kerror"

// JobState is the core's view of a job during a cycle.
type JobState string

const (
	JS_Pending           JobState = "pending"
	JS_CandidateAssigned JobState = "candidate_assigned"
	JS_Validated         JobState = "validated"
	JS_Committed         JobState = "committed"
	JS_Unschedulable     JobState = "unschedulable"
	JS_Rejected          JobState = "rejected"
)

func (s JobState) IsExit() bool {
	return s == JS_Unschedulable || s == JS_Rejected
}

var jobStateNext = map[JobState][]JobState{
	JS_Pending:           {JS_CandidateAssigned},
	JS_CandidateAssigned: {JS_Validated},
	JS_Validated:         {JS_Committed},
}

// CanTransition: the forward chain, plus any non-exit state to an exit state. Exit states and
// Committed may go back to Pending (re-queued for next cycle).
func CanTransition(from, to JobState) bool {
	if to == JS_Pending {
		return from.IsExit() || from == JS_Committed || from == JS_Pending
	}
	if to.IsExit() {
		return !from.IsExit()
	}
	for _, next := range jobStateNext[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ReasonCode explains a transition that carries no Assignment.
type ReasonCode string

const (
	RC_None               ReasonCode = ""
	RC_NoEligibleDc       ReasonCode = "no_eligible_datacenter"
	RC_CapacityExhausted  ReasonCode = "capacity_exhausted"
	RC_ValidationConflict ReasonCode = "validation_conflict"
	RC_StaleVersion       ReasonCode = "stale_version"
	RC_DuplicateJob       ReasonCode = "duplicate_assignment"
	RC_MigrationDamped    ReasonCode = "migration_damped"
	RC_BatchStale         ReasonCode = "batch_stale"
	RC_Requeued           ReasonCode = "requeued"
)

// JobTransition records one state change. Either Assignment or Reason is set.
type JobTransition struct {
	JobId      JobId
	From       JobState
	To         JobState
	Assignment *Assignment
	Reason     ReasonCode
}

// JobStateTracker holds the state of every job one cycle touched. Not thread safe.
type JobStateTracker struct {
	states  map[JobId]JobState
	history []JobTransition
}

func NewJobStateTracker() *JobStateTracker {
	return &JobStateTracker{states: map[JobId]JobState{}}
}

// Get returns Pending for jobs never seen.
func (t *JobStateTracker) Get(jobId JobId) JobState {
	if s, ok := t.states[jobId]; ok {
		return s
	}
	return JS_Pending
}

// Transition panics on an illegal transition or when neither assignment nor reason is given.
func (t *JobStateTracker) Transition(jobId JobId, to JobState, assignment *Assignment, reason ReasonCode) {
	from := t.Get(jobId)
	if !CanTransition(from, to) {
		panic(kerror.Create("IllegalJobTransition", "job state transition not allowed").
			WithErrorCode(kerror.EC_INTERNAL_ERROR).
			With("jobId", jobId).
			With("from", from).
			With("to", to))
	}
	if assignment == nil && reason == RC_None {
		panic(kerror.Create("TransitionWithoutReason", "transition needs an assignment or a reason").
			WithErrorCode(kerror.EC_INTERNAL_ERROR).
			With("jobId", jobId).
			With("to", to))
	}
	t.states[jobId] = to
	t.history = append(t.history, JobTransition{JobId: jobId, From: from, To: to, Assignment: assignment, Reason: reason})
}

func (t *JobStateTracker) History() []JobTransition {
	return t.history
}

// CountByState is used for the state endpoint and metrics.
func (t *JobStateTracker) CountByState() map[JobState]int {
	counts := map[JobState]int{}
	for _, s := range t.states {
		counts[s]++
	}
	return counts
}
