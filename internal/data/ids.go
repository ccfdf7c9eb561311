package data

type JobId string

type DatacenterId string

// ScopeId names a partition of datacenters that never compete for the same jobs.
type ScopeId string

type SolveId string

type Region string

type ComplianceTag string
