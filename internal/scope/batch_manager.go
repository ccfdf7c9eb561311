package scope

import (
	"context"
	"sync"

	"github.com/gridsynapse/placement/libs/xklib/kcommon"
	"github.com/gridsynapse/placement/libs/xklib/krunloop"
)

// BatchManager coalesces bursts of triggers into one event, posted maxDelayMs after the first
// trigger of the burst.
type BatchManager struct {
	mutex      sync.Mutex
	parent     krunloop.EventPoster[*ScopeState]
	maxDelayMs int
	name       string
	isInFlight bool // an event is already scheduled
	triggers   []string
	fn         func(ctx context.Context, ss *ScopeState, triggers []string)
}

func NewBatchManager(parent krunloop.EventPoster[*ScopeState], maxDelayMs int, name string, fn func(context.Context, *ScopeState, []string)) *BatchManager {
	return &BatchManager{
		parent:     parent,
		maxDelayMs: maxDelayMs,
		name:       name,
		fn:         fn,
	}
}

func (bm *BatchManager) TrySchedule(trigger string) {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()
	bm.triggers = append(bm.triggers, trigger)
	if bm.isInFlight {
		return
	}
	bm.isInFlight = true
	kcommon.ScheduleRun(bm.maxDelayMs, func() {
		bm.parent.PostEvent(NewBatchProcessEvent(bm))
	})
}

// BatchProcessEvent implements krunloop.IEvent[*ScopeState]
type BatchProcessEvent struct {
	parent *BatchManager
}

func NewBatchProcessEvent(parent *BatchManager) *BatchProcessEvent {
	return &BatchProcessEvent{parent: parent}
}

func (bpe *BatchProcessEvent) GetName() string {
	return bpe.parent.name
}

func (bpe *BatchProcessEvent) Process(ctx context.Context, ss *ScopeState) {
	bpe.parent.mutex.Lock()
	bpe.parent.isInFlight = false
	triggers := bpe.parent.triggers
	bpe.parent.triggers = nil
	bpe.parent.mutex.Unlock()

	bpe.parent.fn(ctx, ss, triggers)
}
