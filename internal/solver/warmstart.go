package solver

import (
	"sort"

	"github.com/gridsynapse/placement/internal/data"
	"github.com/gridsynapse/placement/internal/model"
)

// unset marks a job not decided yet while building a choice vector.
const unset = -2

// buildHints maps each job to the datacenter it should prefer: its previous committed
// assignment, or where it runs now.
func buildHints(m *model.Model, warm []*data.Assignment) map[data.JobId]data.DatacenterId {
	hints := map[data.JobId]data.DatacenterId{}
	for _, jv := range m.Jobs {
		if jv.Job.IsRunning() {
			hints[jv.Job.JobId] = jv.Job.CurrentDatacenter
		}
	}
	for _, a := range warm {
		if _, running := hints[a.JobId]; running {
			continue // where it runs now wins over what we asked for last time
		}
		hints[a.JobId] = a.DatacenterId
	}
	return hints
}

func hintIndex(jv *model.JobVar, hints map[data.JobId]data.DatacenterId) int {
	dcId, ok := hints[jv.Job.JobId]
	if !ok {
		return -1
	}
	for i, opt := range jv.Options {
		if opt.DatacenterId == dcId {
			return i
		}
	}
	return -1
}

// warmIncumbent keeps every hint that still fits, then completes the gaps greedily.
// ok is false when there is nothing to warm start from.
func warmIncumbent(m *model.Model, hints map[data.JobId]data.DatacenterId) ([]int, bool) {
	if len(hints) == 0 {
		return nil, false
	}
	choice := make([]int, len(m.Jobs))
	used := make([]int64, len(m.Datacenters))
	kept := 0
	for j, jv := range m.Jobs {
		choice[j] = unset
		h := hintIndex(jv, hints)
		if h < 0 {
			continue
		}
		opt := jv.Options[h]
		if used[opt.DcIdx]+opt.Demand > m.Datacenters[opt.DcIdx].Capacity {
			continue
		}
		used[opt.DcIdx] += opt.Demand
		choice[j] = h
		kept++
	}
	if kept == 0 {
		return nil, false
	}
	greedyFill(m, choice, used, hints)
	return choice, true
}

// greedyOrder: priority desc, then earliest deadline (none last), then job id.
func greedyOrder(m *model.Model) []int {
	order := make([]int, len(m.Jobs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ja, jb := m.Jobs[order[a]].Job, m.Jobs[order[b]].Job
		if ja.Priority != jb.Priority {
			return ja.Priority > jb.Priority
		}
		if ja.HasDeadline() != jb.HasDeadline() {
			return ja.HasDeadline()
		}
		if ja.DeadlineMs != jb.DeadlineMs {
			return ja.DeadlineMs < jb.DeadlineMs
		}
		return ja.JobId < jb.JobId
	})
	return order
}

// optionOrder: cheapest first, the hinted option first among equals, then datacenter id.
func optionOrder(jv *model.JobVar, hint int) []int {
	idx := make([]int, len(jv.Options))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		oa, ob := jv.Options[idx[a]], jv.Options[idx[b]]
		if oa.Coef != ob.Coef {
			return oa.Coef < ob.Coef
		}
		if (idx[a] == hint) != (idx[b] == hint) {
			return idx[a] == hint
		}
		return oa.DcIdx < ob.DcIdx
	})
	return idx
}
