package solver

import (
	"context"
	"math"
	"sort"

	"github.com/gridsynapse/placement/internal/data"
	"github.com/gridsynapse/placement/internal/model"
	"github.com/gridsynapse/placement/libs/xklib/kcommon"
)

type stopReason int

const (
	stopNone stopReason = iota
	stopTimeout
	stopCancelled
	stopProvenByBound
)

// branchAndBound is a depth first search over jobs (largest demand first), trying options
// cheapest first. A node is pruned when its cost plus the cheapest completion of the remaining
// jobs cannot beat the incumbent.
type branchAndBound struct {
	ctx        context.Context
	m          *model.Model
	order      []int   // job indices in branching order
	optOrder   [][]int // per job index
	suffixMin  []float64
	used       []int64
	choice     []int
	best       []int
	bestObj    float64
	hasBest    bool
	lpBound    float64
	hasLpBound bool

	nodes              int64
	checkpointInterval int64
	deadlineMs         int64
	stop               stopReason
}

func newBranchAndBound(ctx context.Context, m *model.Model, hints map[data.JobId]data.DatacenterId, checkpointInterval int32, deadlineMs int64) *branchAndBound {
	bb := &branchAndBound{
		ctx:                ctx,
		m:                  m,
		used:               make([]int64, len(m.Datacenters)),
		choice:             make([]int, len(m.Jobs)),
		bestObj:            math.Inf(1),
		checkpointInterval: int64(checkpointInterval),
		deadlineMs:         deadlineMs,
	}
	if bb.checkpointInterval <= 0 {
		bb.checkpointInterval = 1
	}
	bb.order = make([]int, len(m.Jobs))
	for i := range bb.order {
		bb.order[i] = i
		bb.choice[i] = model.Unplaced
	}
	sort.SliceStable(bb.order, func(a, b int) bool {
		da, db := m.Jobs[bb.order[a]].Job.GpuDemand, m.Jobs[bb.order[b]].Job.GpuDemand
		if da != db {
			return da > db
		}
		return bb.order[a] < bb.order[b]
	})
	bb.optOrder = make([][]int, len(m.Jobs))
	for j, jv := range m.Jobs {
		bb.optOrder[j] = optionOrder(jv, hintIndex(jv, hints))
	}
	bb.suffixMin = make([]float64, len(bb.order)+1)
	for k := len(bb.order) - 1; k >= 0; k-- {
		bb.suffixMin[k] = bb.suffixMin[k+1] + m.Jobs[bb.order[k]].MinCoef()
	}
	return bb
}

func (bb *branchAndBound) setLpBound(bound float64) {
	bb.lpBound = bound
	bb.hasLpBound = true
}

// seed installs a feasible incumbent (from the warm start).
func (bb *branchAndBound) seed(choice []int) {
	bb.best = append([]int(nil), choice...)
	bb.bestObj = bb.m.Objective(choice)
	bb.hasBest = true
	bb.checkBound()
}

func (bb *branchAndBound) checkBound() {
	if bb.hasLpBound && bb.hasBest && bb.bestObj <= bb.lpBound+tolerance(bb.lpBound) {
		bb.stop = stopProvenByBound
	}
}

func tolerance(v float64) float64 {
	return 1e-9 * math.Max(1, math.Abs(v))
}

// run returns after the tree is exhausted or a stop condition hits.
func (bb *branchAndBound) run() {
	if bb.stop != stopNone {
		return
	}
	bb.checkpoint()
	if bb.stop != stopNone {
		return
	}
	bb.dfs(0, 0)
}

func (bb *branchAndBound) checkpoint() {
	if bb.ctx.Err() != nil {
		bb.stop = stopCancelled
		return
	}
	if kcommon.GetMonoTimeMs() >= bb.deadlineMs {
		bb.stop = stopTimeout
	}
}

func (bb *branchAndBound) dfs(k int, cost float64) {
	bb.nodes++
	if bb.nodes%bb.checkpointInterval == 0 {
		bb.checkpoint()
		if bb.stop != stopNone {
			return
		}
	}
	if bb.hasBest && cost+bb.suffixMin[k] >= bb.bestObj-tolerance(bb.bestObj) {
		return
	}
	if k == len(bb.order) {
		bb.best = append(bb.best[:0], bb.choice...)
		bb.bestObj = cost
		bb.hasBest = true
		bb.checkBound()
		return
	}
	j := bb.order[k]
	jv := bb.m.Jobs[j]
	for _, o := range bb.optOrder[j] {
		opt := jv.Options[o]
		if bb.used[opt.DcIdx]+opt.Demand > bb.m.Datacenters[opt.DcIdx].Capacity {
			continue
		}
		bb.used[opt.DcIdx] += opt.Demand
		bb.choice[j] = o
		bb.dfs(k+1, cost+opt.Coef)
		bb.used[opt.DcIdx] -= opt.Demand
		bb.choice[j] = model.Unplaced
		if bb.stop != stopNone {
			return
		}
	}
	bb.dfs(k+1, cost+jv.UnplacedPenalty)
}
