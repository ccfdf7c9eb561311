package validator

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gridsynapse/placement/internal/config"
	"github.com/gridsynapse/placement/internal/data"
	"github.com/gridsynapse/placement/internal/snapshot"
	"github.com/gridsynapse/placement/internal/solver"
	"github.com/gridsynapse/placement/libs/xklib/kcommon"
)

const nowMs = int64(5_000_000)

type mockGate struct {
	mock.Mock
}

func (g *mockGate) LastVersion(jobId data.JobId) (int64, bool) {
	args := g.Called(jobId)
	return args.Get(0).(int64), args.Bool(1)
}

// fixture: numJobs one-GPU jobs solved onto datacenter "a".
type fixture struct {
	ledger  *CapacityLedger
	snap    *snapshot.Snapshot
	result  *solver.SolveResult
	tracker *data.JobStateTracker
	cfg     *config.PlacementConfig
}

func newFixture(t *testing.T, numJobs int, free int64) *fixture {
	ctx := context.Background()
	snap := snapshot.NewSnapshot("s1", 3, nowMs)
	for i := 0; i < numJobs; i++ {
		snap.AddJob(&data.Job{JobId: data.JobId(fmt.Sprintf("job%02d", i)), GpuDemand: 1, RemainingDurationSec: 3600})
	}
	snap.AddDatacenter(&data.Datacenter{DatacenterId: "a", Region: "r", TotalCapacityGpu: 100, FreeCapacityGpu: free, CapacityVersion: 1, Available: true})
	snap.AddForecast(data.ForecastPoint{DatacenterId: "a", TimestampMs: nowMs, PricePerGpuHour: 1, CarbonGPerKwh: 100})
	snap.Freeze()

	f := &fixture{ledger: NewCapacityLedger(), tracker: data.NewJobStateTracker(), cfg: config.DefaultPlacementConfig()}
	f.snap = f.ledger.Sync(ctx, snap)
	kcommon.RunWithTimeProvider(kcommon.NewFakeTimeProvider(nowMs), func() {
		f.result = solver.Solve(ctx, f.snap, solver.SolveOptions{Config: f.cfg})
	})
	require.Len(t, f.result.Assignments, numJobs)
	f.result.RecordTransitions(f.tracker)
	return f
}

func (f *fixture) validate(gate VersionGate) *ValidationReport {
	return Validate(context.Background(), f.result, f.ledger, f.snap, Options{Config: f.cfg, Gate: gate, Tracker: f.tracker})
}

func TestValidate_allAccepted(t *testing.T) {
	f := newFixture(t, 4, 10)
	report := f.validate(nil)

	assert.False(t, report.BatchStale)
	assert.Len(t, report.Accepted, 4)
	assert.Empty(t, report.Conflicts)
	assert.Empty(t, report.Rederived)
	free, version, _ := f.ledger.Read("a")
	assert.Equal(t, int64(6), free)
	assert.Equal(t, int64(2), version)
	assert.Equal(t, 4, f.tracker.CountByState()[data.JS_Validated])
}

func TestValidate_rederiveAfterVersionMove(t *testing.T) {
	f := newFixture(t, 4, 10)
	// a completion frees capacity between solve and validation
	f.ledger.Release("a", 2)
	report := f.validate(nil)

	assert.Equal(t, []data.DatacenterId{"a"}, report.Rederived)
	assert.Len(t, report.Accepted, 4)
	free, _, _ := f.ledger.Read("a")
	assert.Equal(t, int64(8), free)
}

func TestValidate_partialFailure(t *testing.T) {
	f := newFixture(t, 10, 10)
	// a newer inventory report takes one GPU away
	f.ledger.Observe(context.Background(), "a", 9, 2)
	report := f.validate(nil)

	assert.False(t, report.BatchStale)
	assert.InDelta(t, 0.1, report.FailedFraction, 1e-9)
	assert.Len(t, report.Accepted, 9)
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, data.JobId("job09"), report.Conflicts[0].Assignment.JobId)
	assert.Equal(t, data.RC_ValidationConflict, report.Conflicts[0].Reason)
	assert.Equal(t, "ValidationConflict", report.Conflicts[0].ToError().Type)
	assert.Equal(t, []data.JobId{"job09"}, report.Requeued)
	assert.Equal(t, data.JS_Pending, f.tracker.Get("job09"))
	assert.Equal(t, data.JS_Validated, f.tracker.Get("job00"))
	free, _, _ := f.ledger.Read("a")
	assert.Equal(t, int64(0), free)
}

func TestValidate_batchStale(t *testing.T) {
	f := newFixture(t, 10, 10)
	f.ledger.Observe(context.Background(), "a", 8, 2)
	_, versionBefore, _ := f.ledger.Read("a")
	report := f.validate(nil)

	assert.True(t, report.BatchStale)
	assert.NotNil(t, report.BatchStaleError())
	assert.Empty(t, report.Accepted)
	assert.Len(t, report.Requeued, 10)
	free, version, _ := f.ledger.Read("a")
	assert.Equal(t, int64(8), free, "nothing reserved")
	assert.Equal(t, versionBefore, version)

	assert.Equal(t, 10, f.tracker.CountByState()[data.JS_Pending])
	var batchStale int
	for _, tr := range f.tracker.History() {
		if tr.To == data.JS_Rejected && tr.Reason == data.RC_BatchStale {
			batchStale++
		}
	}
	assert.Equal(t, 8, batchStale, "the two capacity conflicts keep their own reason")
}

func TestValidate_versionGate(t *testing.T) {
	f := newFixture(t, 10, 10)
	gate := &mockGate{}
	gate.On("LastVersion", data.JobId("job03")).Return(int64(3), true)
	gate.On("LastVersion", mock.Anything).Return(int64(0), false)
	report := f.validate(gate)

	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, data.RC_StaleVersion, report.Conflicts[0].Reason)
	assert.Len(t, report.Accepted, 9)
	gate.AssertCalled(t, "LastVersion", data.JobId("job03"))
}

func TestValidate_duplicateAssignment(t *testing.T) {
	f := newFixture(t, 10, 10)
	dup := *f.result.Assignments[0]
	f.result.Assignments = append(f.result.Assignments, &dup)
	report := f.validate(nil)

	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, data.RC_DuplicateJob, report.Conflicts[0].Reason)
	assert.Len(t, report.Accepted, 10)
	assert.Empty(t, report.Requeued)
	free, _, _ := f.ledger.Read("a")
	assert.Equal(t, int64(0), free)
}

func TestValidate_cancelledResultIsIgnored(t *testing.T) {
	f := newFixture(t, 2, 10)
	f.result.Cancelled = true
	report := f.validate(nil)
	assert.Empty(t, report.Accepted)
	free, _, _ := f.ledger.Read("a")
	assert.Equal(t, int64(10), free)
}

func TestValidate_hysteresisRecheck(t *testing.T) {
	ctx := context.Background()
	snap := snapshot.NewSnapshot("s1", 9, nowMs)
	snap.AddJob(&data.Job{JobId: "run", GpuDemand: 1, RemainingDurationSec: 3600, CurrentDatacenter: "a"})
	snap.AddDatacenter(&data.Datacenter{DatacenterId: "a", Region: "r", TotalCapacityGpu: 10, FreeCapacityGpu: 0, CapacityVersion: 1, Available: true})
	snap.AddDatacenter(&data.Datacenter{DatacenterId: "b", Region: "r", TotalCapacityGpu: 10, FreeCapacityGpu: 5, CapacityVersion: 1, Available: true})
	snap.AddForecast(
		data.ForecastPoint{DatacenterId: "a", TimestampMs: nowMs, PricePerGpuHour: 100},
		data.ForecastPoint{DatacenterId: "b", TimestampMs: nowMs, PricePerGpuHour: 99})
	snap.Freeze()
	ledger := NewCapacityLedger()
	snap = ledger.Sync(ctx, snap)

	// a forged migration saving 1 against a migration cost of 5
	result := &solver.SolveResult{ScopeId: "s1", SnapshotVersion: 9, Assignments: []*data.Assignment{
		{JobId: "run", DatacenterId: "b", GpuDemand: 1, Migration: true, FromDatacenter: "a", Version: 9},
	}}
	report := Validate(ctx, result, ledger, snap, Options{Config: config.DefaultPlacementConfig()})
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, data.RC_MigrationDamped, report.Conflicts[0].Reason)
	assert.True(t, report.BatchStale)
}
