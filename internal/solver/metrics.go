package solver

import (
	"context"

	"github.com/gridsynapse/placement/libs/xklib/kmetrics"
)

var (
	solveMetric = kmetrics.CreateKmetric(context.Background(), "solve_count", "solves by scope, mode and degraded flag", []string{"scope", "mode", "degraded"}).CountOnly()

	solveDurationHisto = kmetrics.CreateKhistogram(context.Background(), "solve_duration_ms", "wall clock duration of one solve", []string{"scope", "mode"},
		[]int64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000, 5000})

	unschedulableMetric = kmetrics.CreateKmetric(context.Background(), "unschedulable_jobs", "jobs left unschedulable by a solve", []string{"scope"})

	bnbNodesMetric = kmetrics.CreateKmetric(context.Background(), "bnb_nodes", "branch and bound nodes explored", []string{"scope"})
)
