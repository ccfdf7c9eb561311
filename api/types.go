package api

import (
	"github.com/gridsynapse/placement/internal/scope"
	"github.com/gridsynapse/placement/placementjson"
)

type PingResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	SessionId string `json:"session_id"`
}

// GetStateResponse lists every scope the daemon runs, in scope id order.
type GetStateResponse struct {
	Scopes []*scope.ScopeSummary `json:"scopes"`
}

// SolveRequest is a dry run: the snapshot is solved with the current config but nothing is
// validated against the ledger or committed.
type SolveRequest struct {
	Snapshot     *placementjson.SnapshotJson `json:"snapshot"`
	ForceGreedy  bool                        `json:"force_greedy,omitempty"`
	TimeBudgetMs *int32                      `json:"time_budget_ms,omitempty"` // overrides the config for this run
}
