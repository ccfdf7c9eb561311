package snapshot

import (
	"github.com/gridsynapse/placement/internal/data"
	"github.com/gridsynapse/placement/placementjson"
)

// FromJson builds a frozen snapshot. carbonNeutralCap is the cap given to jobs flagged carbon_neutral without an explicit cap.
func FromJson(sj *placementjson.SnapshotJson, carbonNeutralCap float64) *Snapshot {
	snap := NewSnapshot(data.ScopeId(sj.ScopeId), sj.Version, sj.TakenAtMs)
	for _, jj := range sj.Jobs {
		snap.AddJob(JobJsonToJob(jj, carbonNeutralCap))
	}
	for _, dj := range sj.Datacenters {
		snap.AddDatacenter(DatacenterJsonToDatacenter(dj))
	}
	for _, fj := range sj.Forecasts {
		snap.AddForecast(ForecastJsonToPoint(fj))
	}
	return snap.Freeze()
}

func JobJsonToJob(jj *placementjson.JobJson, carbonNeutralCap float64) *data.Job {
	job := &data.Job{
		JobId:                data.JobId(jj.JobId),
		GpuDemand:            jj.GpuDemand,
		MemoryMb:             jj.MemoryMb,
		RemainingDurationSec: jj.RemainingDurationSec,
		Priority:             jj.Priority,
		Value:                jj.Value,
		State:                data.JS_Pending,
	}
	if jj.DeadlineMs != nil {
		job.DeadlineMs = *jj.DeadlineMs
	}
	if jj.CurrentDatacenter != nil {
		job.CurrentDatacenter = data.DatacenterId(*jj.CurrentDatacenter)
	}
	for _, r := range jj.AllowedRegions {
		job.AllowedRegions = append(job.AllowedRegions, data.Region(r))
	}
	for _, tag := range jj.ComplianceTags {
		job.RequiredComplianceTags = append(job.RequiredComplianceTags, data.ComplianceTag(tag))
	}
	if jj.CarbonCapGPerKwh != nil {
		job.CarbonCapGPerKwh = *jj.CarbonCapGPerKwh
	} else if jj.CarbonNeutral {
		job.CarbonCapGPerKwh = carbonNeutralCap
	}
	return job
}

func DatacenterJsonToDatacenter(dj *placementjson.DatacenterJson) *data.Datacenter {
	dc := &data.Datacenter{
		DatacenterId:           data.DatacenterId(dj.DatacenterId),
		Region:                 data.Region(dj.Region),
		TotalCapacityGpu:       dj.TotalCapacityGpu,
		FreeCapacityGpu:        dj.FreeCapacityGpu,
		CapacityVersion:        dj.CapacityVersion,
		Available:              true,
		EstimatedQueueDelaySec: dj.QueueDelaySec,
	}
	if dj.Available != nil {
		dc.Available = *dj.Available
	}
	for _, tag := range dj.ComplianceTags {
		dc.ComplianceTags = append(dc.ComplianceTags, data.ComplianceTag(tag))
	}
	if len(dj.Links) > 0 {
		dc.Links = make(map[data.DatacenterId]data.NetworkLink, len(dj.Links))
		for dst, link := range dj.Links {
			if link == nil {
				continue
			}
			dc.Links[data.DatacenterId(dst)] = data.NetworkLink{CostPerGb: link.CostPerGb, LatencyMs: link.LatencyMs}
		}
	}
	return dc
}

func ForecastJsonToPoint(fj *placementjson.ForecastJson) data.ForecastPoint {
	return data.ForecastPoint{
		DatacenterId:    data.DatacenterId(fj.DatacenterId),
		TimestampMs:     fj.TimestampMs,
		PricePerGpuHour: fj.PricePerGpuHour,
		CarbonGPerKwh:   fj.CarbonGPerKwh,
	}
}

func ForecastPointToJson(p data.ForecastPoint) *placementjson.ForecastJson {
	return &placementjson.ForecastJson{
		DatacenterId:    string(p.DatacenterId),
		TimestampMs:     p.TimestampMs,
		PricePerGpuHour: p.PricePerGpuHour,
		CarbonGPerKwh:   p.CarbonGPerKwh,
	}
}
