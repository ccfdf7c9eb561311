package kcommon

import "container/heap"

// FakeTimerTask is one ScheduleRun on the fake clock.
type FakeTimerTask struct {
	ScheduledForMs int64
	TaskFunc       func()
	seq            uint64
}

// TaskQueue is a min-heap on (ScheduledForMs, push order): tasks due at the same ms run in the
// order they were scheduled. Use it through container/heap.
type TaskQueue struct {
	tasks  []*FakeTimerTask
	pushed  uint64
}

func NewTaskQueue() *TaskQueue {
	tq := &TaskQueue{}
	heap.Init(tq)
	return tq
}

func (tq *TaskQueue) Len() int { return len(tq.tasks) }

func (tq *TaskQueue) Less(i, j int) bool {
	a, b := tq.tasks[i], tq.tasks[j]
	if a.ScheduledForMs != b.ScheduledForMs {
		return a.ScheduledForMs < b.ScheduledForMs
	}
	return a.seq < b.seq
}

func (tq *TaskQueue) Swap(i, j int) { tq.tasks[i], tq.tasks[j] = tq.tasks[j], tq.tasks[i] }

func (tq *TaskQueue) Push(x interface{}) {
	task := x.(*FakeTimerTask)
	task.seq = tq.pushed
	tq.pushed++
	tq.tasks = append(tq.tasks, task)
}

func (tq *TaskQueue) Pop() interface{} {
	last := len(tq.tasks) - 1
	task := tq.tasks[last]
	tq.tasks[last] = nil
	tq.tasks = tq.tasks[:last]
	return task
}

// Peek returns nil when empty.
func (tq *TaskQueue) Peek() *FakeTimerTask {
	if len(tq.tasks) == 0 {
		return nil
	}
	return tq.tasks[0]
}
