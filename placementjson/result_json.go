package placementjson

import "encoding/json"

type AssignmentJson struct {
	JobId             string  `json:"job_id"`
	DatacenterId      string  `json:"datacenter_id"`
	GpuDemand         int64   `json:"gpu_demand"`
	ProjectedCost     float64 `json:"projected_cost"`
	ProjectedCarbonKg float64 `json:"projected_carbon_kg"`
	Migration         bool    `json:"migration"`
	FromDatacenter    string  `json:"from_datacenter,omitempty"`
	MigrationCost     float64 `json:"migration_cost,omitempty"`
	Version           int64   `json:"version"`
}

// ParseAssignmentJson is used by the etcd dispatcher to read back the last committed record.
func ParseAssignmentJson(data string) (*AssignmentJson, error) {
	aj := &AssignmentJson{}
	if err := json.Unmarshal([]byte(data), aj); err != nil {
		return nil, err
	}
	return aj, nil
}

func (aj *AssignmentJson) ToJson() string {
	return mustMarshal(aj, "AssignmentJson")
}

type SolveResultJson struct {
	SolveId           string            `json:"solve_id"`
	ScopeId           string            `json:"scope_id"`
	SnapshotVersion   int64             `json:"snapshot_version"`
	Assignments       []*AssignmentJson `json:"assignments"`
	UnschedulableJobs []string          `json:"unschedulable_jobs"`
	Degraded          bool              `json:"degraded"`
	Cancelled         bool              `json:"cancelled,omitempty"`
	ObjectiveValue    float64           `json:"objective_value"`
	SolveDurationMs   uint32            `json:"solve_duration_ms"`
	Mode              string            `json:"mode"`
	StaleDatacenters  []string          `json:"stale_datacenters,omitempty"`
	Reasons           []*ReasonJson     `json:"reasons,omitempty"`
}

type ReasonJson struct {
	Kind  string `json:"kind"`
	JobId string `json:"job_id,omitempty"`
	Msg   string `json:"msg"`
}

func (sr *SolveResultJson) ToJson() string {
	return mustMarshal(sr, "SolveResultJson")
}
