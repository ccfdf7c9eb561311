package dispatch

import (
	"context"

	"github.com/gridsynapse/placement/internal/data"
	"github.com/gridsynapse/placement/libs/xklib/kerror"
	"github.com/gridsynapse/placement/libs/xklib/klogging"
	"github.com/gridsynapse/placement/libs/xklib/kmetrics"
)

var (
	commitMetric = kmetrics.CreateKmetric(context.Background(), "dispatch_commit", "assignments handed to dispatch", []string{"scope", "result"}).CountOnly()
)

// Dispatcher takes committed assignments to the execution side. Implementations gate on
// version: an assignment whose version is not greater than the job's last committed version is
// refused with a StaleVersion error.
type Dispatcher interface {
	Commit(ctx context.Context, scopeId data.ScopeId, a *data.Assignment) error

	// LastVersion is the version of the job's last committed assignment
	LastVersion(jobId data.JobId) (int64, bool)

	// LoadCommitted returns the scope's committed assignments in job id order (warm start after restart)
	LoadCommitted(ctx context.Context, scopeId data.ScopeId) ([]*data.Assignment, error)
}

func staleVersionError(a *data.Assignment, last int64) *kerror.Kerror {
	return kerror.Create("StaleVersion", "assignment version not newer than last committed").
		WithErrorCode(kerror.EC_CONFLICT).
		With("job", a.JobId).
		With("version", a.Version).
		With("lastVersion", last)
}

// CommitBatch commits validated assignments in order. Refused ones go back to Pending in the
// tracker (if given) and are returned so the caller can release their capacity.
func CommitBatch(ctx context.Context, d Dispatcher, scopeId data.ScopeId, list []*data.Assignment, tracker *data.JobStateTracker) (committed []*data.Assignment, refused []*data.Assignment) {
	for _, a := range list {
		err := d.Commit(ctx, scopeId, a)
		if err != nil {
			refused = append(refused, a)
			commitMetric.GetTimeSequence(ctx, string(scopeId), "refused").Add(1)
			klogging.Warning(ctx).WithError(err).With("scope", scopeId).With("assignment", a.String()).Log("CommitRefused", "")
			if tracker != nil {
				reason := data.RC_ValidationConflict
				if kerror.IsType(err, "StaleVersion") {
					reason = data.RC_StaleVersion
				}
				tracker.Transition(a.JobId, data.JS_Rejected, nil, reason)
				tracker.Transition(a.JobId, data.JS_Pending, nil, data.RC_Requeued)
			}
			continue
		}
		committed = append(committed, a)
		commitMetric.GetTimeSequence(ctx, string(scopeId), "ok").Add(1)
		if tracker != nil {
			tracker.Transition(a.JobId, data.JS_Committed, a, data.RC_None)
		}
	}
	if len(committed) > 0 {
		klogging.Info(ctx).With("scope", scopeId).With("committed", len(committed)).With("refused", len(refused)).Log("CommitBatch", "")
	}
	return committed, refused
}
