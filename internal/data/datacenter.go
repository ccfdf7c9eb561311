package data

// NetworkLink is the cost of moving state from one datacenter to another.
type NetworkLink struct {
	CostPerGb float64
	LatencyMs int64
}

type Datacenter struct {
	DatacenterId           DatacenterId
	Region                 Region
	TotalCapacityGpu       int64
	FreeCapacityGpu        int64
	CapacityVersion        int64
	Available              bool
	ComplianceTags         []ComplianceTag
	EstimatedQueueDelaySec int64
	Links                  map[DatacenterId]NetworkLink // keyed by destination
}

func (dc *Datacenter) HasAllTags(tags []ComplianceTag) bool {
	for _, want := range tags {
		found := false
		for _, have := range dc.ComplianceTags {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (dc *Datacenter) Clone() *Datacenter {
	c := *dc
	c.ComplianceTags = append([]ComplianceTag(nil), dc.ComplianceTags...)
	if dc.Links != nil {
		c.Links = make(map[DatacenterId]NetworkLink, len(dc.Links))
		for k, v := range dc.Links {
			c.Links[k] = v
		}
	}
	return &c
}
