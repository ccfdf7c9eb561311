package data

// Job is the core's per-cycle view of a job. The authoritative record lives in the external
// job registry.
type Job struct {
	JobId                JobId
	GpuDemand            int64
	MemoryMb             int64
	RemainingDurationSec int64
	DeadlineMs           int64 // wall clock ms, 0 = no deadline
	Priority             int32 // higher is more important
	Value                float64
	CurrentDatacenter    DatacenterId // empty when not running
	State                JobState

	AllowedRegions         []Region        // empty = anywhere
	RequiredComplianceTags []ComplianceTag // datacenter must carry all of them
	CarbonCapGPerKwh       float64         // 0 = no cap
}

func (job *Job) IsRunning() bool {
	return job.CurrentDatacenter != ""
}

func (job *Job) HasDeadline() bool {
	return job.DeadlineMs > 0
}

func (job *Job) RemainingHours() float64 {
	return float64(job.RemainingDurationSec) / 3600.0
}

func (job *Job) MemoryGb() float64 {
	return float64(job.MemoryMb) / 1024.0
}

func (job *Job) AllowsRegion(region Region) bool {
	if len(job.AllowedRegions) == 0 {
		return true
	}
	for _, r := range job.AllowedRegions {
		if r == region {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (job *Job) Clone() *Job {
	c := *job
	c.AllowedRegions = append([]Region(nil), job.AllowedRegions...)
	c.RequiredComplianceTags = append([]ComplianceTag(nil), job.RequiredComplianceTags...)
	return &c
}
