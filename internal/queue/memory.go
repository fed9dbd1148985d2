package queue

import (
	"context"
	"sync"
	"time"
)

// Memory is an unbounded in-process queue used when Redis is not configured.
// Jobs are lost on process exit.
type Memory struct {
	mu     sync.Mutex
	items  []Job
	notify chan struct{}
	closed bool
}

func NewMemory() *Memory {
	return &Memory{notify: make(chan struct{}, 1)}
}

func (q *Memory) Push(ctx context.Context, j Job) error {
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = time.Now()
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, j)
	q.mu.Unlock()
	q.wake()
	return nil
}

func (q *Memory) Pop(ctx context.Context) (Job, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			j := q.items[0]
			q.items[0] = Job{}
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.wake()
			}
			return j, nil
		}
		if q.closed {
			q.mu.Unlock()
			q.wake()
			return Job{}, ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Job{}, ctx.Err()
		case <-q.notify:
		}
	}
}

// Len returns the number of queued jobs.
func (q *Memory) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further pushes; consumers drain what is left and then get ErrClosed.
func (q *Memory) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
	return nil
}

func (q *Memory) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
