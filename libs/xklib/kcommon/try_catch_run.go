package kcommon

import (
	"context"

	"github.com/gridsynapse/placement/libs/xklib/kerror"
	"github.com/gridsynapse/placement/libs/xklib/klogging"
)

// TryCatchRun converts a panic inside fn into a returned *kerror.Kerror.
// Panicking with a non-error value is a programming bug and is fatal.
func TryCatchRun(ctx context.Context, fn func()) (ret *kerror.Kerror) {
	defer func() {
		switch r := recover().(type) {
		case nil:
		case *kerror.Kerror:
			ret = r
		case error:
			ret = kerror.Wrap(r, "UnknownError", r.Error(), true)
		default:
			klogging.Fatal(ctx).WithPanic(r).Log("NonErrorPanic", "")
		}
	}()
	fn()
	return
}
