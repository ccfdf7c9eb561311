package scope

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gridsynapse/placement/internal/config"
	"github.com/gridsynapse/placement/internal/data"
	"github.com/gridsynapse/placement/internal/dispatch"
	"github.com/gridsynapse/placement/internal/snapshot"
	"github.com/gridsynapse/placement/libs/xklib/kcommon"
	"github.com/gridsynapse/placement/libs/xklib/kerror"
)

const startMs = int64(1_700_000_000_000)

func dc(id data.DatacenterId, free int64) *data.Datacenter {
	return &data.Datacenter{DatacenterId: id, Region: "r", TotalCapacityGpu: free + 10, FreeCapacityGpu: free, CapacityVersion: 1, Available: true}
}

func forecast(id data.DatacenterId, price float64) data.ForecastPoint {
	return data.ForecastPoint{DatacenterId: id, TimestampMs: startMs, PricePerGpuHour: price, CarbonGPerKwh: 100}
}

func job(id data.JobId, gpus int64) *data.Job {
	return &data.Job{JobId: id, GpuDemand: gpus, RemainingDurationSec: 3600}
}

func smallSnap(scopeId data.ScopeId, version int64, jobs ...*data.Job) *snapshot.Snapshot {
	snap := snapshot.NewSnapshot(scopeId, version, startMs)
	for _, j := range jobs {
		snap.AddJob(j)
	}
	snap.AddDatacenter(dc("a", 10)).AddDatacenter(dc("b", 10))
	snap.AddForecast(forecast("a", 1), forecast("b", 2))
	return snap.Freeze()
}

// contendedSnap never proves optimality under a frozen clock, so it stays in flight until cancelled.
func contendedSnap(scopeId data.ScopeId, version int64) *snapshot.Snapshot {
	snap := snapshot.NewSnapshot(scopeId, version, startMs)
	for i := 0; i < 2000; i++ {
		snap.AddJob(job(data.JobId(fmt.Sprintf("j%04d", i)), 1))
	}
	snap.AddDatacenter(dc("cheap", 1000)).AddDatacenter(dc("dear", 1000))
	snap.AddForecast(forecast("cheap", 1), forecast("dear", 2))
	return snap.Freeze()
}

func waitReport(t *testing.T, ch <-chan *CycleReport) *CycleReport {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		require.FailNow(t, "no cycle report")
		return nil
	}
}

func withFakeTime(fn func(fake *kcommon.FakeTimeProvider)) {
	fake := kcommon.NewFakeTimeProvider(startMs)
	kcommon.RunWithTimeProvider(fake, func() { fn(fake) })
}

func TestManager_submittedSnapshots(t *testing.T) {
	withFakeTime(func(fake *kcommon.FakeTimeProvider) {
		ctx := context.Background()
		md := dispatch.NewMemoryDispatcher(nil)
		m := NewManager(&Deps{Dispatcher: md, CfgProvider: config.NewDefaultConfigProvider(config.DefaultPlacementConfig())})
		m.Start(ctx)
		defer m.Stop()

		report, err := m.Solve(ctx, smallSnap("s", 1, job("j1", 4), job("j2", 4), job("j3", 4)))
		require.Nil(t, err)
		ledger, ok := m.Ledger("s")
		require.True(t, ok)
		assert.False(t, report.Cancelled)
		require.Len(t, report.Committed, 3)
		assert.Equal(t, data.JS_Committed, report.Tracker.Get("j1"))
		free, _, _ := ledger.Read("a")
		assert.Equal(t, int64(2), free)
		free, _, _ = ledger.Read("b")
		assert.Equal(t, int64(6), free)
		last, _ := md.LastVersion("j1")
		assert.Equal(t, int64(1), last)

		_, err = m.Solve(ctx, smallSnap("s", 1, job("j1", 4)))
		assert.True(t, kerror.IsType(err, "StaleSnapshot"))

		// the jobs now run where they were placed: staying takes no capacity
		var running []*data.Job
		for _, a := range report.Committed {
			j := job(a.JobId, 4)
			j.CurrentDatacenter = a.DatacenterId
			running = append(running, j)
		}
		report, err = m.Solve(ctx, smallSnap("s", 2, running...))
		require.Nil(t, err)
		require.Len(t, report.Committed, 3)
		for _, a := range report.Committed {
			assert.False(t, a.Migration, a.String())
			assert.False(t, a.ConsumesCapacity())
		}
		free, _, _ = ledger.Read("a")
		assert.Equal(t, int64(2), free)

		summaries := m.Summaries()
		require.Len(t, summaries, 1)
		assert.Equal(t, int64(2), summaries[0].LastCommittedVersion)
		assert.Equal(t, 3, summaries[0].CommittedJobs)
		assert.Equal(t, int64(2), summaries[0].Cycles)
	})
}

func TestManager_scopesKeepSeparateLedgers(t *testing.T) {
	withFakeTime(func(fake *kcommon.FakeTimeProvider) {
		ctx := context.Background()
		m := NewManager(&Deps{CfgProvider: config.NewDefaultConfigProvider(config.DefaultPlacementConfig())})
		m.Start(ctx)
		defer m.Stop()

		_, err := m.Solve(ctx, smallSnap("east", 1, job("e1", 8)))
		require.Nil(t, err)
		report, err := m.Solve(ctx, smallSnap("west", 1, job("w1", 8)))
		require.Nil(t, err)
		require.Len(t, report.Committed, 1)
		// west sees its own "a" with all 10 free, not what east left
		assert.Equal(t, data.DatacenterId("a"), report.Committed[0].DatacenterId)

		east, _ := m.Ledger("east")
		west, _ := m.Ledger("west")
		freeEast, _, _ := east.Read("a")
		freeWest, _, _ := west.Read("a")
		assert.Equal(t, int64(2), freeEast)
		assert.Equal(t, int64(2), freeWest)
		_, ok := m.Ledger("north")
		assert.False(t, ok)
	})
}

func TestManager_malformedSnapshotRefused(t *testing.T) {
	m := NewManager(&Deps{CfgProvider: config.NewDefaultConfigProvider(config.DefaultPlacementConfig())})
	m.Start(context.Background())
	defer m.Stop()
	snap := snapshot.NewSnapshot("s", 1, startMs)
	snap.AddJob(&data.Job{JobId: "j", GpuDemand: 1, CurrentDatacenter: "nowhere"})
	_, err := m.Solve(context.Background(), snap.Freeze())
	assert.True(t, kerror.IsType(err, "MalformedSnapshot"))
}

func TestManager_cadenceAndArrival(t *testing.T) {
	withFakeTime(func(fake *kcommon.FakeTimeProvider) {
		ctx := context.Background()
		cfgProvider := config.NewDefaultConfigProvider(config.DefaultPlacementConfig())
		ms := snapshot.NewMemorySource(cfgProvider)
		ms.UpsertDatacenter("s", dc("a", 10))
		ms.SetForecast("s", "a", []data.ForecastPoint{forecast("a", 1)})
		ms.UpsertJob("s", job("j1", 2))

		reports := make(chan *CycleReport, 16)
		m := NewManager(&Deps{Source: ms, CfgProvider: cfgProvider, OnCycle: func(r *CycleReport) {
			ms.ApplyCommitted(r.ScopeId, r.Committed)
			reports <- r
		}})
		m.Start(ctx)
		defer m.Stop()

		// first solve comes from the cadence
		fake.VirtualTimeForward(ctx, 5000)
		r := waitReport(t, reports)
		assert.Equal(t, "cadence", r.Trigger)
		require.Len(t, r.Committed, 1)
		assert.Equal(t, data.DatacenterId("a"), r.Committed[0].DatacenterId)

		// an arrival is debounced, then solved without waiting for the cadence
		ms.UpsertJob("s", job("j2", 3))
		ms.UpsertJob("s", job("j3", 1))
		time.Sleep(50 * time.Millisecond)
		fake.VirtualTimeForward(ctx, 300)
		r = waitReport(t, reports)
		assert.Equal(t, string(snapshot.CK_JobArrived), r.Trigger)
		require.Len(t, r.Committed, 3)
		assert.Equal(t, data.JobId("j1"), r.Committed[0].JobId)
		assert.Equal(t, data.DatacenterId("a"), r.Committed[0].FromDatacenter, "j1 runs in a now")
		assert.False(t, r.Committed[0].ConsumesCapacity())
		assert.Greater(t, r.SnapshotVersion, int64(1))
	})
}

func TestManager_cancelAndSupersede(t *testing.T) {
	withFakeTime(func(fake *kcommon.FakeTimeProvider) {
		ctx := context.Background()
		m := NewManager(&Deps{CfgProvider: config.NewDefaultConfigProvider(config.DefaultPlacementConfig())})
		m.Start(ctx)
		defer m.Stop()
		ss := m.EnsureScope("big")

		first := make(chan *CycleReport, 1)
		go func() {
			r, _ := m.Solve(ctx, contendedSnap("big", 1))
			first <- r
		}()
		require.Eventually(t, func() bool { return ss.Summary().InFlightVersion == 1 }, 5*time.Second, 5*time.Millisecond)
		m.Cancel("big")
		r := waitReport(t, first)
		assert.True(t, r.Cancelled)
		assert.Empty(t, r.Committed)

		second := make(chan *CycleReport, 1)
		go func() {
			r, _ := m.Solve(ctx, contendedSnap("big", 2))
			second <- r
		}()
		require.Eventually(t, func() bool { return ss.Summary().InFlightVersion == 2 }, 5*time.Second, 5*time.Millisecond)
		// a newer snapshot cancels the in-flight solve and runs after it
		r, err := m.Solve(ctx, smallSnap("big", 3, job("x", 1)))
		require.Nil(t, err)
		assert.Len(t, r.Committed, 1)
		r = waitReport(t, second)
		assert.True(t, r.Cancelled)
		assert.Equal(t, int64(3), ss.Summary().LastCommittedVersion)
	})
}

type staleDispatcher struct {
	mock.Mock
}

func (d *staleDispatcher) Commit(ctx context.Context, scopeId data.ScopeId, a *data.Assignment) error {
	return d.Called(scopeId, a).Error(0)
}

func (d *staleDispatcher) LastVersion(jobId data.JobId) (int64, bool) {
	args := d.Called(jobId)
	return args.Get(0).(int64), args.Bool(1)
}

func (d *staleDispatcher) LoadCommitted(ctx context.Context, scopeId data.ScopeId) ([]*data.Assignment, error) {
	args := d.Called(scopeId)
	return args.Get(0).([]*data.Assignment), args.Error(1)
}

func TestManager_batchStaleResolvesAreCapped(t *testing.T) {
	withFakeTime(func(fake *kcommon.FakeTimeProvider) {
		ctx := context.Background()
		cfgProvider := config.NewDefaultConfigProvider(config.DefaultPlacementConfig())
		ms := snapshot.NewMemorySource(cfgProvider)
		ms.UpsertDatacenter("s", dc("a", 10))
		ms.SetForecast("s", "a", []data.ForecastPoint{forecast("a", 1)})
		ms.UpsertJob("s", job("j1", 1))

		// every job looks committed far in the future, so every batch is stale
		d := &staleDispatcher{}
		d.On("LoadCommitted", mock.Anything).Return([]*data.Assignment{}, nil)
		d.On("LastVersion", mock.Anything).Return(int64(1<<40), true)

		reports := make(chan *CycleReport, 16)
		m := NewManager(&Deps{Source: ms, Dispatcher: d, CfgProvider: cfgProvider, OnCycle: func(r *CycleReport) { reports <- r }})
		m.Start(ctx)
		defer m.Stop()

		m.Trigger("s", "manual")
		var triggers []string
		for i := 0; i < 1+maxBatchStaleResolves; i++ {
			r := waitReport(t, reports)
			require.NotNil(t, r.Validation)
			assert.True(t, r.Validation.BatchStale)
			triggers = append(triggers, r.Trigger)
		}
		assert.Equal(t, []string{"manual", "batch_stale", "batch_stale", "batch_stale"}, triggers)
		select {
		case r := <-reports:
			assert.Fail(t, "unexpected cycle", r.Trigger)
		case <-time.After(200 * time.Millisecond):
		}
		assert.Equal(t, 1+maxBatchStaleResolves, m.EnsureScope("s").Summary().StaleStreak)
		d.AssertNotCalled(t, "Commit", mock.Anything, mock.Anything)
	})
}
