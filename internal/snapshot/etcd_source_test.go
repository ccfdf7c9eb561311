package snapshot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridsynapse/placement/internal/config"
	"github.com/gridsynapse/placement/internal/data"
	"github.com/gridsynapse/placement/internal/etcdprov"
	"github.com/gridsynapse/placement/placementjson"
)

func TestEtcdSource_takeAndWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake := etcdprov.NewFakeEtcdProvider()
	etcdprov.RunWithEtcdProvider(fake, func() {
		pm := config.NewPathManager("/test")
		es := NewEtcdSource(pm, config.NewDefaultConfigProvider(config.DefaultPlacementConfig()))
		es.WriteScopeJson(ctx, &placementjson.SnapshotJson{
			ScopeId: "us",
			Jobs:    []*placementjson.JobJson{{JobId: "j1", GpuDemand: 2, RemainingDurationSec: 60}},
			Datacenters: []*placementjson.DatacenterJson{
				{DatacenterId: "dc-a", TotalCapacityGpu: 10, FreeCapacityGpu: 10, CapacityVersion: 1},
			},
			Forecasts: []*placementjson.ForecastJson{{DatacenterId: "dc-a", TimestampMs: 0, PricePerGpuHour: 1, CarbonGPerKwh: 100}},
		})
		// our own output under the scope is ignored by Take
		fake.Set(ctx, pm.GetAssignmentPath("us", "j1"), `{"job_id":"j1"}`)

		snap1, err := es.Take(ctx, "us")
		require.Nil(t, err)
		assert.Len(t, snap1.Jobs, 1)
		assert.Len(t, snap1.Datacenters, 1)
		assert.Len(t, snap1.GetForecast("dc-a"), 1)
		assert.Equal(t, int64(fake.CurrentRevision()), snap1.Version)
		assert.Nil(t, Validate(snap1))

		// nothing changed, version still moves forward
		snap2, _ := es.Take(ctx, "us")
		assert.Equal(t, snap1.Version+1, snap2.Version)

		assert.Equal(t, []data.ScopeId{"us"}, es.ListScopes(ctx))

		changes := es.Watch(ctx, "us")
		fake.Set(ctx, pm.GetJobPathPrefix("us")+"j2", (&placementjson.JobJson{JobId: "j2", GpuDemand: 1}).ToJson())
		fake.Set(ctx, pm.GetJobPathPrefix("us")+"j1", (&placementjson.JobJson{JobId: "j1", GpuDemand: 3}).ToJson())
		fake.Set(ctx, pm.GetAssignmentPath("us", "j2"), `{"job_id":"j2"}`)
		fake.Set(ctx, pm.GetForecastPathPrefix("us")+"dc-a", placementjson.ForecastListToJson([]*placementjson.ForecastJson{
			{DatacenterId: "dc-a", TimestampMs: 0, PricePerGpuHour: 1.5, CarbonGPerKwh: 100},
		}))
		assert.Equal(t, Change{ScopeId: "us", Kind: CK_JobArrived, Significant: true}, <-changes)
		assert.Equal(t, Change{ScopeId: "us", Kind: CK_JobUpdated}, <-changes)
		assert.Equal(t, Change{ScopeId: "us", Kind: CK_ForecastUpdate, Significant: true}, <-changes)

		// malformed record fails the take
		fake.Set(ctx, pm.GetJobPathPrefix("us")+"bad", "{not json")
		_, err = es.Take(ctx, "us")
		assert.NotNil(t, err)
	})
}
