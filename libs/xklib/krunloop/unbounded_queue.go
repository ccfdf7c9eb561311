package krunloop

import (
	"context"
	"sync/atomic"
)

// UnboundedQueue decouples posters from the loop: Enqueue never blocks on a busy consumer.
type UnboundedQueue[T CriticalResource] struct {
	input  chan IEvent[T]
	output chan IEvent[T]
	closed atomic.Bool
	size   atomic.Int64
}

func NewUnboundedQueue[T CriticalResource](ctx context.Context) *UnboundedQueue[T] {
	q := &UnboundedQueue[T]{
		input:  make(chan IEvent[T], 16),
		output: make(chan IEvent[T]),
	}
	go q.pump(ctx)
	return q
}

func (q *UnboundedQueue[T]) pump(ctx context.Context) {
	defer close(q.output)
	var buffer []IEvent[T]
	for {
		var out chan IEvent[T]
		var head IEvent[T]
		if len(buffer) > 0 {
			out = q.output
			head = buffer[0]
		}
		select {
		case item := <-q.input:
			buffer = append(buffer, item)
		case out <- head:
			buffer[0] = nil
			buffer = buffer[1:]
			q.size.Add(-1)
		case <-ctx.Done():
			q.closed.Store(true)
			return
		}
	}
}

// Enqueue drops the event once the queue is closed.
func (q *UnboundedQueue[T]) Enqueue(item IEvent[T]) {
	if q.closed.Load() {
		return
	}
	q.size.Add(1)
	q.input <- item
}

func (q *UnboundedQueue[T]) GetOutputChan() <-chan IEvent[T] {
	return q.output
}

func (q *UnboundedQueue[T]) GetSize() int64 {
	return q.size.Load()
}

func (q *UnboundedQueue[T]) Close() {
	q.closed.Store(true)
}
