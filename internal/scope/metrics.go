package scope

import (
	"context"

	"github.com/gridsynapse/placement/libs/xklib/kmetrics"
)

var (
	cycleMetric     = kmetrics.CreateKmetric(context.Background(), "scope_cycle", "solve cycles by outcome", []string{"scope", "outcome"}).CountOnly()
	takeErrorMetric = kmetrics.CreateKmetric(context.Background(), "snapshot_take_error", "failed snapshot reads", []string{"scope"}).CountOnly()
)
