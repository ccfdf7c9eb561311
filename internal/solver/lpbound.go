package solver

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/gridsynapse/placement/internal/model"
	"github.com/gridsynapse/placement/libs/xklib/kcommon"
	"github.com/gridsynapse/placement/libs/xklib/klogging"
)

// lpBudgetShare is the part of the remaining budget the LP may use before it is abandoned.
const lpBudgetShare = 0.3

var (
	// simplex cannot be interrupted; an abandoned one keeps its slot until it returns
	lpSlots = make(chan struct{}, 4)

	simplex = lp.Simplex
)

// lpProblem is the LP relaxation in standard form, one column per option plus one "unplaced"
// column per job and one slack per datacenter:
//
//	job j:  sum_d x_jd + u_j = 1
//	dc d:   sum_j g_j x_jd + s_d = free_d
//
// {u_j} and {s_d} form a feasible starting basis (identity columns).
type lpProblem struct {
	c     []float64
	A     *mat.Dense
	b     []float64
	basic []int
	rows  int
	cols  int
}

type lpOutcome struct {
	bound float64
	ok    bool
}

// buildLp copies what the LP needs out of the model. ok is false when rows*cols > maxCells.
func buildLp(m *model.Model, maxCells int64) (*lpProblem, bool) {
	numJobs := len(m.Jobs)
	numDcs := len(m.Datacenters)
	rows := numJobs + numDcs
	cols := m.NumVars() + numJobs + numDcs
	if int64(rows)*int64(cols) > maxCells {
		return nil, false
	}

	p := &lpProblem{
		c:     make([]float64, cols),
		A:     mat.NewDense(rows, cols, nil),
		b:     make([]float64, rows),
		basic: make([]int, 0, rows),
		rows:  rows,
		cols:  cols,
	}
	col := 0
	for j, jv := range m.Jobs {
		for _, opt := range jv.Options {
			p.c[col] = opt.Coef
			p.A.Set(j, col, 1)
			if opt.Demand > 0 {
				p.A.Set(numJobs+opt.DcIdx, col, float64(opt.Demand))
			}
			col++
		}
		p.b[j] = 1
	}
	for j, jv := range m.Jobs {
		p.c[col] = jv.UnplacedPenalty
		p.A.Set(j, col, 1)
		p.basic = append(p.basic, col)
		col++
	}
	for d, row := range m.Datacenters {
		p.A.Set(numJobs+d, col, 1)
		p.b[numJobs+d] = float64(row.Capacity)
		p.basic = append(p.basic, col)
		col++
	}
	return p, true
}

func (p *lpProblem) solve(ctx context.Context, fn func(c []float64, A mat.Matrix, b []float64, tol float64, initialBasic []int) (float64, []float64, error)) (out lpOutcome) {
	// gonum reports some degenerate inputs by panicking with a plain string
	defer func() {
		if r := recover(); r != nil {
			klogging.Warning(ctx).With("panic", fmt.Sprint(r)).With("rows", p.rows).With("cols", p.cols).Log("LpBoundPanic", "lp relaxation skipped")
			out = lpOutcome{}
		}
	}()
	optF, _, err := fn(p.c, p.A, p.b, 1e-10, p.basic)
	if err != nil {
		klogging.Debug(ctx).WithError(err).With("rows", p.rows).With("cols", p.cols).Log("LpBoundFailed", "lp relaxation skipped")
		return lpOutcome{}
	}
	return lpOutcome{bound: optF, ok: true}
}

// lpBound returns the optimum of the LP relaxation, a lower bound on any integer placement.
// ok is false when the model is too large, the LP fails, or it does not finish within
// lpBudgetShare of the time left before deadlineMs. The search then runs without a bound.
func lpBound(ctx context.Context, m *model.Model, maxCells int64, deadlineMs int64) (bound float64, ok bool) {
	if len(m.Jobs) == 0 {
		return 0, true
	}
	p, ok := buildLp(m, maxCells)
	if !ok {
		return 0, false
	}
	waitMs := int64(float64(deadlineMs-kcommon.GetMonoTimeMs()) * lpBudgetShare)
	if waitMs <= 0 {
		return 0, false
	}
	select {
	case lpSlots <- struct{}{}:
	default:
		klogging.Info(ctx).With("rows", p.rows).With("cols", p.cols).Log("LpBoundBusy", "abandoned lp solves still running, skipped")
		return 0, false
	}

	done := make(chan lpOutcome, 1)
	fn := simplex
	go func() {
		defer func() { <-lpSlots }()
		done <- p.solve(ctx, fn)
	}()

	// simplex burns real cpu, so the wait is on the real clock
	timer := time.NewTimer(time.Duration(waitMs) * time.Millisecond)
	defer timer.Stop()
	select {
	case out := <-done:
		return out.bound, out.ok
	case <-timer.C:
		klogging.Info(ctx).With("rows", p.rows).With("cols", p.cols).With("waitMs", waitMs).Log("LpBoundAbandoned", "searching without a bound")
		return 0, false
	case <-ctx.Done():
		return 0, false
	}
}
