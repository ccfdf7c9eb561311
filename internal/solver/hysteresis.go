package solver

import (
	"github.com/gridsynapse/placement/internal/costfunc"
	"github.com/gridsynapse/placement/internal/data"
	"github.com/gridsynapse/placement/internal/model"
)

// applyHysteresis turns every migration whose saving does not beat factor * migration cost back into a stay.
// A job whose current datacenter cannot take it anymore (no stay option) is free to move.
// Returns the damped jobs in job id order.
func applyHysteresis(m *model.Model, choice []int, factor float64) []data.JobId {
	var damped []data.JobId
	for j, c := range choice {
		if c == model.Unplaced {
			continue
		}
		jv := m.Jobs[j]
		opt := jv.Options[c]
		if !opt.Migration || jv.StayIdx < 0 {
			continue
		}
		stay := jv.Options[jv.StayIdx]
		if costfunc.ShouldMigrate(stay.Operating, opt.Operating, opt.Cost.MigrationCost, factor) {
			continue
		}
		choice[j] = jv.StayIdx
		damped = append(damped, jv.Job.JobId)
	}
	return damped
}
