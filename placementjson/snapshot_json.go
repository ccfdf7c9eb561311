package placementjson

import (
	"encoding/json"

	"github.com/gridsynapse/placement/libs/xklib/kerror"
)

// SnapshotJson is the wire shape of one scope's input, as stored in etcd or handed to the CLI.
type SnapshotJson struct {
	ScopeId     string            `json:"scope_id"`
	Version     int64             `json:"version,omitempty"`
	TakenAtMs   int64             `json:"taken_at_ms,omitempty"`
	Jobs        []*JobJson        `json:"jobs"`
	Datacenters []*DatacenterJson `json:"datacenters"`
	Forecasts   []*ForecastJson   `json:"forecasts"`
}

type JobJson struct {
	JobId                string   `json:"id"`
	GpuDemand            int64    `json:"gpu_demand"`
	MemoryMb             int64    `json:"memory_mb"`
	Priority             int32    `json:"priority"`
	DeadlineMs           *int64   `json:"deadline_ms,omitempty"`
	CurrentDatacenter    *string  `json:"current_datacenter,omitempty"`
	RemainingDurationSec int64    `json:"remaining_duration_sec"`
	AllowedRegions       []string `json:"allowed_regions,omitempty"`
	ComplianceTags       []string `json:"compliance_tags,omitempty"`
	CarbonCapGPerKwh     *float64 `json:"carbon_cap_g_per_kwh,omitempty"`
	CarbonNeutral        bool     `json:"carbon_neutral,omitempty"` // shorthand for the default carbon cap
	Value                float64  `json:"value,omitempty"`
}

type NetworkLinkJson struct {
	CostPerGb float64 `json:"cost_per_gb"`
	LatencyMs int64   `json:"latency_ms"`
}

type DatacenterJson struct {
	DatacenterId     string                      `json:"id"`
	Region           string                      `json:"region"`
	TotalCapacityGpu int64                       `json:"total_capacity_gpu"`
	FreeCapacityGpu  int64                       `json:"free_capacity_gpu"`
	CapacityVersion  int64                       `json:"capacity_version"`
	Available        *bool                       `json:"available,omitempty"` // default true
	ComplianceTags   []string                    `json:"compliance_tags,omitempty"`
	QueueDelaySec    int64                       `json:"queue_delay_sec,omitempty"`
	Links            map[string]*NetworkLinkJson `json:"links,omitempty"`
}

type ForecastJson struct {
	DatacenterId    string  `json:"datacenter_id"`
	TimestampMs     int64   `json:"timestamp_ms"`
	PricePerGpuHour float64 `json:"price_per_gpu_hour"`
	CarbonGPerKwh   float64 `json:"carbon_g_per_kwh"`
}

func ParseSnapshotJson(data string) (*SnapshotJson, error) {
	sj := &SnapshotJson{}
	if err := json.Unmarshal([]byte(data), sj); err != nil {
		return nil, kerror.Wrap(err, "UnmarshalError", "failed to unmarshal SnapshotJson", false).
			WithErrorCode(kerror.EC_INVALID_PARAMETER)
	}
	return sj, nil
}

func (sj *SnapshotJson) ToJson() string {
	return mustMarshal(sj, "SnapshotJson")
}

func ParseJobJson(data string) (*JobJson, error) {
	jj := &JobJson{}
	if err := json.Unmarshal([]byte(data), jj); err != nil {
		return nil, kerror.Wrap(err, "UnmarshalError", "failed to unmarshal JobJson", false).
			WithErrorCode(kerror.EC_INVALID_PARAMETER)
	}
	return jj, nil
}

func (jj *JobJson) ToJson() string {
	return mustMarshal(jj, "JobJson")
}

func ParseDatacenterJson(data string) (*DatacenterJson, error) {
	dj := &DatacenterJson{}
	if err := json.Unmarshal([]byte(data), dj); err != nil {
		return nil, kerror.Wrap(err, "UnmarshalError", "failed to unmarshal DatacenterJson", false).
			WithErrorCode(kerror.EC_INVALID_PARAMETER)
	}
	return dj, nil
}

func (dj *DatacenterJson) ToJson() string {
	return mustMarshal(dj, "DatacenterJson")
}

// ParseForecastListJson: forecasts are stored one list per datacenter.
func ParseForecastListJson(data string) ([]*ForecastJson, error) {
	var list []*ForecastJson
	if err := json.Unmarshal([]byte(data), &list); err != nil {
		return nil, kerror.Wrap(err, "UnmarshalError", "failed to unmarshal forecast list", false).
			WithErrorCode(kerror.EC_INVALID_PARAMETER)
	}
	return list, nil
}

func ForecastListToJson(list []*ForecastJson) string {
	return mustMarshal(list, "ForecastList")
}

func mustMarshal(v interface{}, what string) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(kerror.Wrap(err, "MarshalError", "failed to marshal "+what, false))
	}
	return string(data)
}
