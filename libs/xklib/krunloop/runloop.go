package krunloop

import (
	"context"
	"sync"
	"time"

	"github.com/gridsynapse/placement/libs/xklib/kcommon"
	"github.com/gridsynapse/placement/libs/xklib/klogging"
	"github.com/gridsynapse/placement/libs/xklib/kmetrics"
)

var (
	RunLoopElapsedMsMetric = kmetrics.CreateKmetric(context.Background(), "runloop_elapsed_ms", "time spent per runloop event", []string{"name", "event"})
)

// CriticalResource marks the type a RunLoop owns. Only events running on the loop touch it.
type CriticalResource interface {
	IsResource()
}

type IEvent[T CriticalResource] interface {
	GetName() string
	Process(ctx context.Context, resource T)
}

type EventPoster[T CriticalResource] interface {
	PostEvent(event IEvent[T])
}

// RunLoop: implements EventPoster. Events are processed one at a time, in post order.
type RunLoop[T CriticalResource] struct {
	name     string // for logging/metrics
	resource T
	queue    *UnboundedQueue[T]

	mu     sync.Mutex
	cancel context.CancelFunc
	exited chan struct{}
}

func NewRunLoop[T CriticalResource](ctx context.Context, resource T, name string) *RunLoop[T] {
	return &RunLoop[T]{
		name:     name,
		resource: resource,
		queue:    NewUnboundedQueue[T](ctx),
		exited:   make(chan struct{}),
	}
}

// PostEvent never blocks.
func (rl *RunLoop[T]) PostEvent(event IEvent[T]) {
	rl.queue.Enqueue(event)
}

func (rl *RunLoop[T]) QueueSize() int64 {
	return rl.queue.GetSize()
}

// Run blocks until ctx is done or StopAndWaitForExit is called.
func (rl *RunLoop[T]) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	rl.mu.Lock()
	rl.cancel = cancel
	rl.mu.Unlock()
	defer func() {
		cancel()
		rl.queue.Close()
		close(rl.exited)
	}()

	for {
		select {
		case <-ctx.Done():
			klogging.Info(ctx).With("name", rl.name).Log("RunLoopExit", "run loop stopped")
			return
		case event, ok := <-rl.queue.GetOutputChan():
			if !ok {
				klogging.Info(ctx).With("name", rl.name).Log("EventQueueClosed", "event queue closed")
				return
			}
			rl.process(ctx, event)
		}
	}
}

func (rl *RunLoop[T]) process(ctx context.Context, event IEvent[T]) {
	start := kcommon.GetMonoTimeMs()
	name := event.GetName()
	defer func() {
		RunLoopElapsedMsMetric.GetTimeSequence(ctx, rl.name, name).Add(kcommon.GetMonoTimeMs() - start)
	}()
	event.Process(ctx, rl.resource)
}

func (rl *RunLoop[T]) StopAndWaitForExit() {
	rl.mu.Lock()
	cancel := rl.cancel
	rl.mu.Unlock()
	if cancel == nil {
		return // never started
	}
	cancel()
	select {
	case <-rl.exited:
	case <-time.After(time.Second):
		klogging.Warning(context.Background()).With("name", rl.name).Log("RunLoopStopTimeout", "runloop did not exit in time")
	}
}
