package solver

import (
	"github.com/gridsynapse/placement/internal/data"
	"github.com/gridsynapse/placement/internal/model"
)

// greedyChoice is the fallback heuristic. It always terminates and never exceeds capacity.
func greedyChoice(m *model.Model, hints map[data.JobId]data.DatacenterId) []int {
	choice := make([]int, len(m.Jobs))
	for j := range choice {
		choice[j] = unset
	}
	greedyFill(m, choice, make([]int64, len(m.Datacenters)), hints)
	return choice
}

// greedyFill decides every unset entry of choice, in greedy order, against the capacity already in used.
func greedyFill(m *model.Model, choice []int, used []int64, hints map[data.JobId]data.DatacenterId) {
	for _, j := range greedyOrder(m) {
		if choice[j] != unset {
			continue
		}
		jv := m.Jobs[j]
		choice[j] = model.Unplaced
		for _, o := range optionOrder(jv, hintIndex(jv, hints)) {
			opt := jv.Options[o]
			if used[opt.DcIdx]+opt.Demand > m.Datacenters[opt.DcIdx].Capacity {
				continue
			}
			used[opt.DcIdx] += opt.Demand
			choice[j] = o
			break
		}
	}
}

// fillUnplaced gives jobs left out another chance at capacity freed after the main solve.
func fillUnplaced(m *model.Model, choice []int, hints map[data.JobId]data.DatacenterId) {
	used := make([]int64, len(m.Datacenters))
	anyUnplaced := false
	for j, c := range choice {
		if c == model.Unplaced {
			choice[j] = unset
			anyUnplaced = true
			continue
		}
		opt := m.Jobs[j].Options[c]
		used[opt.DcIdx] += opt.Demand
	}
	if anyUnplaced {
		greedyFill(m, choice, used, hints)
	}
}
