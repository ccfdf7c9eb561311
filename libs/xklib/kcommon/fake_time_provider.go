package kcommon

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// FakeTimeProvider: virtual clock. Time only moves inside VirtualTimeForward, which runs the
// scheduled tasks in time order.
type FakeTimeProvider struct {
	mu        sync.Mutex
	wallTime  int64
	monoTime  int64
	taskQueue *TaskQueue
}

func NewFakeTimeProvider(currentTime int64) *FakeTimeProvider {
	return &FakeTimeProvider{
		wallTime:  currentTime,
		monoTime:  currentTime,
		taskQueue: NewTaskQueue(),
	}
}

func (provider *FakeTimeProvider) GetWallTimeMs() int64 {
	provider.mu.Lock()
	defer provider.mu.Unlock()
	return provider.wallTime
}

func (provider *FakeTimeProvider) GetMonoTimeMs() int64 {
	provider.mu.Lock()
	defer provider.mu.Unlock()
	return provider.monoTime
}

func (provider *FakeTimeProvider) SleepMs(ctx context.Context, ms int) {
	provider.VirtualTimeForward(ctx, ms)
}

func (provider *FakeTimeProvider) ScheduleRun(delayMs int, fn func()) {
	RunWithLock(&provider.mu, func() {
		heap.Push(provider.taskQueue, &FakeTimerTask{
			TaskFunc:       fn,
			ScheduledForMs: provider.monoTime + int64(delayMs),
		})
	})
}

// VirtualTimeForward moves the clock forward by forwardMs, running due tasks as it goes.
// Before each jump the real goroutines get 1ms to react (runloops posting follow up tasks).
// Returns false when the deadline was not reached because nothing was scheduled for too long.
func (provider *FakeTimeProvider) VirtualTimeForward(ctx context.Context, forwardMs int) bool {
	reached := false
	provider.ScheduleRun(forwardMs, func() {
		reached = true
	})
	idle := 0
	settled := false
	for !reached && idle < 20 {
		var task *FakeTimerTask
		sleep := false
		RunWithLock(&provider.mu, func() {
			top := provider.taskQueue.Peek()
			switch {
			case top == nil:
				sleep = true
				idle++
			case top.ScheduledForMs <= provider.monoTime:
				task = heap.Pop(provider.taskQueue).(*FakeTimerTask)
			case !settled:
				sleep = true
				settled = true
			default:
				provider.monoTime = top.ScheduledForMs
				provider.wallTime = top.ScheduledForMs
				settled = false
				task = heap.Pop(provider.taskQueue).(*FakeTimerTask)
			}
		})
		if sleep {
			time.Sleep(time.Millisecond)
			continue
		}
		task.TaskFunc()
	}
	return reached
}
