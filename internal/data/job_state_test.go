package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(JS_Pending, JS_CandidateAssigned))
	assert.True(t, CanTransition(JS_CandidateAssigned, JS_Validated))
	assert.True(t, CanTransition(JS_Validated, JS_Committed))
	assert.False(t, CanTransition(JS_Pending, JS_Committed))
	assert.False(t, CanTransition(JS_Committed, JS_Validated))

	for _, from := range []JobState{JS_Pending, JS_CandidateAssigned, JS_Validated, JS_Committed} {
		assert.True(t, CanTransition(from, JS_Unschedulable), from)
		assert.True(t, CanTransition(from, JS_Rejected), from)
	}
	assert.False(t, CanTransition(JS_Rejected, JS_Unschedulable))
	assert.True(t, CanTransition(JS_Rejected, JS_Pending))
	assert.True(t, CanTransition(JS_Committed, JS_Pending))
	assert.False(t, CanTransition(JS_Validated, JS_Pending))
}

func TestJobStateTracker(t *testing.T) {
	tracker := NewJobStateTracker()
	a := &Assignment{JobId: "j1", DatacenterId: "dc-a", Version: 3}
	tracker.Transition("j1", JS_CandidateAssigned, a, RC_None)
	tracker.Transition("j1", JS_Validated, a, RC_None)
	tracker.Transition("j1", JS_Committed, a, RC_None)
	tracker.Transition("j2", JS_Unschedulable, nil, RC_NoEligibleDc)

	assert.Equal(t, JS_Committed, tracker.Get("j1"))
	assert.Equal(t, JS_Unschedulable, tracker.Get("j2"))
	assert.Equal(t, JS_Pending, tracker.Get("never"))
	assert.Equal(t, 4, len(tracker.History()))
	assert.Equal(t, map[JobState]int{JS_Committed: 1, JS_Unschedulable: 1}, tracker.CountByState())

	assert.Panics(t, func() { tracker.Transition("j1", JS_Validated, a, RC_None) })
	assert.Panics(t, func() { tracker.Transition("j3", JS_Rejected, nil, RC_None) })
}

func TestAssignmentConsumesCapacity(t *testing.T) {
	fresh := &Assignment{JobId: "a", DatacenterId: "x"}
	stay := &Assignment{JobId: "b", DatacenterId: "x", FromDatacenter: "x"}
	move := &Assignment{JobId: "c", DatacenterId: "y", FromDatacenter: "x", Migration: true}
	assert.True(t, fresh.ConsumesCapacity())
	assert.False(t, stay.ConsumesCapacity())
	assert.True(t, move.ConsumesCapacity())
	assert.Equal(t, "c:x->y@v0", move.String())
}

func TestJobHelpers(t *testing.T) {
	job := &Job{JobId: "j", RemainingDurationSec: 5400, MemoryMb: 2048, AllowedRegions: []Region{"eu"}}
	assert.InDelta(t, 1.5, job.RemainingHours(), 1e-9)
	assert.InDelta(t, 2.0, job.MemoryGb(), 1e-9)
	assert.True(t, job.AllowsRegion("eu"))
	assert.False(t, job.AllowsRegion("us"))
	clone := job.Clone()
	clone.AllowedRegions[0] = "us"
	assert.Equal(t, Region("eu"), job.AllowedRegions[0])

	dc := &Datacenter{ComplianceTags: []ComplianceTag{"hipaa", "gdpr"}}
	assert.True(t, dc.HasAllTags([]ComplianceTag{"gdpr"}))
	assert.False(t, dc.HasAllTags([]ComplianceTag{"gdpr", "fedramp"}))
	assert.True(t, dc.HasAllTags(nil))
}
