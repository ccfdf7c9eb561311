package main

import (
	"fmt"

	"github.com/gridsynapse/placement/placementjson"
)

type demoDc struct {
	id, region string
	gpus       int64
	price      []float64 // per GPU hour, one per hour, repeated over the day
	carbon     []float64 // g/kWh
}

var demoDatacenters = []demoDc{
	{"us-west-2a", "oregon", 300,
		[]float64{0.08, 0.09, 0.10, 0.12, 0.15, 0.14, 0.12, 0.10},
		[]float64{50, 60, 70, 80, 90, 85, 75, 65}},
	{"us-east-1a", "virginia", 250,
		[]float64{0.10, 0.11, 0.13, 0.15, 0.18, 0.17, 0.14, 0.12},
		[]float64{120, 130, 140, 150, 160, 155, 145, 135}},
	{"us-central-1a", "iowa", 200,
		[]float64{0.07, 0.08, 0.09, 0.11, 0.13, 0.12, 0.10, 0.09},
		[]float64{30, 35, 40, 45, 50, 48, 42, 38}},
}

type demoJob struct {
	id            string
	gpus          int64
	hours         int64
	carbonNeutral bool
	value         float64
}

var demoJobs = []demoJob{
	{"llm-training-1", 100, 12, true, 50},
	{"inference-batch-1", 50, 24, false, 30},
	{"fine-tuning-1", 75, 8, true, 40},
	{"embedding-gen-1", 25, 24, false, 20},
	{"model-serving-1", 150, 6, true, 60},
}

// demoSnapshot builds the three US datacenters with a 24 hour forecast starting at nowMs, and
// numJobs jobs: the named ones first, then generated batch jobs.
func demoSnapshot(nowMs int64, numJobs int) *placementjson.SnapshotJson {
	sj := &placementjson.SnapshotJson{ScopeId: "demo", Version: 1, TakenAtMs: nowMs}
	for _, dc := range demoDatacenters {
		sj.Datacenters = append(sj.Datacenters, &placementjson.DatacenterJson{
			DatacenterId:     dc.id,
			Region:           dc.region,
			TotalCapacityGpu: dc.gpus,
			FreeCapacityGpu:  dc.gpus,
			CapacityVersion:  1,
		})
		for hour := 0; hour < 24; hour++ {
			sj.Forecasts = append(sj.Forecasts, &placementjson.ForecastJson{
				DatacenterId:    dc.id,
				TimestampMs:     nowMs + int64(hour)*3600*1000,
				PricePerGpuHour: dc.price[hour%len(dc.price)],
				CarbonGPerKwh:   dc.carbon[hour%len(dc.carbon)],
			})
		}
	}
	for i := 0; i < numJobs; i++ {
		job := demoJob{id: fmt.Sprintf("batch-%02d", i), gpus: 8 * int64(1+i%4), hours: int64(1 + i%6), value: 10}
		if i < len(demoJobs) {
			job = demoJobs[i]
		}
		sj.Jobs = append(sj.Jobs, &placementjson.JobJson{
			JobId:                job.id,
			GpuDemand:            job.gpus,
			RemainingDurationSec: job.hours * 3600,
			CarbonNeutral:        job.carbonNeutral,
			Value:                job.value,
		})
	}
	return sj
}
