package data

import "fmt"

// Assignment is the atomic unit handed to the dispatch layer.
type Assignment struct {
	JobId             JobId
	DatacenterId      DatacenterId
	GpuDemand         int64
	ProjectedCost     float64 // USD over the remaining duration
	ProjectedCarbonKg float64
	MigrationCost     float64 // 0 unless Migration
	Migration         bool
	FromDatacenter    DatacenterId // set when Migration
	Version           int64        // snapshot version of the solve cycle
}

// ConsumesCapacity: a running job that stays put does not take new capacity.
func (a *Assignment) ConsumesCapacity() bool {
	return a.Migration || a.FromDatacenter == ""
}

func (a *Assignment) String() string {
	if a.Migration {
		return fmt.Sprintf("%s:%s->%s@v%d", a.JobId, a.FromDatacenter, a.DatacenterId, a.Version)
	}
	return fmt.Sprintf("%s:%s@v%d", a.JobId, a.DatacenterId, a.Version)
}
