package snapshot

import (
	"context"

	"github.com/gridsynapse/placement/internal/data"
)

type ChangeKind string

const (
	CK_JobArrived     ChangeKind = "job_arrived"
	CK_JobUpdated     ChangeKind = "job_updated"
	CK_JobRemoved     ChangeKind = "job_removed"
	CK_ForecastUpdate ChangeKind = "forecast_update"
	CK_Capacity       ChangeKind = "capacity"
)

// Change is a hint that a scope's input moved. Significant changes trigger an on demand solve,
// the rest wait for the next periodic one.
type Change struct {
	ScopeId     data.ScopeId
	Kind        ChangeKind
	Significant bool
}

// Source is the external snapshot provider.
type Source interface {
	// Take returns a frozen snapshot whose version is greater than any earlier Take of the same scope.
	Take(ctx context.Context, scopeId data.ScopeId) (*Snapshot, error)

	ListScopes(ctx context.Context) []data.ScopeId

	// Watch streams changes of one scope until ctx is done. The channel is closed afterwards.
	Watch(ctx context.Context, scopeId data.ScopeId) <-chan Change
}
