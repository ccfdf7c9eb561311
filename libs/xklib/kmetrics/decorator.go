package kmetrics

import (
	"context"
	"time"

	"github.com/gridsynapse/placement/libs/xklib/kerror"
	"github.com/gridsynapse/placement/libs/xklib/klogging"
)

var (
	OpsLatencyMetric = CreateKmetric(context.Background(), "op_latency_ms", "latency of instrumented operations", []string{"method", "status", "error"})
)

// FuncTypeVoid reports failure by panicking with a *kerror.Kerror.
type FuncTypeVoid func()

func invokeFuncVoid(ctx context.Context, ef FuncTypeVoid) (ke *kerror.Kerror) {
	defer func() {
		if r := recover(); r != nil {
			switch v := r.(type) {
			case *kerror.Kerror:
				ke = v
			case error:
				ke = kerror.Wrap(v, "InternalServerError", v.Error(), true)
			default:
				klogging.Fatal(ctx).WithPanic(v).Log("InvalidPanic", "invalid panic with non-error value")
			}
		}
	}()
	ef()
	return
}

// InstrumentSummaryRunVoid records count/sum latency of ef under method. A panic from ef is
// recorded and re-thrown as *kerror.Kerror.
func InstrumentSummaryRunVoid(ctx context.Context, method string, ef FuncTypeVoid) {
	status := "OK"
	errType := ""
	start := time.Now()
	ke := invokeFuncVoid(ctx, ef)
	if ke != nil {
		status = "ERROR"
		errType = ke.Type
	}
	OpsLatencyMetric.GetTimeSequence(ctx, method, status, errType).Add(time.Since(start).Milliseconds())
	if ke != nil {
		panic(ke)
	}
}
