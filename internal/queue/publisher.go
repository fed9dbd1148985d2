package queue

import (
	"context"
	"sync"
	"time"

	"github.com/park285/cheese-arena/internal/metrics"
	"github.com/park285/cheese-arena/internal/obslog"
	"go.uber.org/zap"
)

// pushTimeout bounds one push; jobs are never tied to a client's lifetime.
const pushTimeout = 5 * time.Second

// Publisher is the coordinator-side fire-and-forget enqueue. Publish never blocks:
// jobs go through a buffered hand-off drained by Run, and overflow is pushed from
// a detached goroutine.
type Publisher struct {
	q      Queue
	ch     chan Job
	rec    metrics.Recorder
	detach sync.WaitGroup
}

func NewPublisher(q Queue, buffer int, rec metrics.Recorder) *Publisher {
	if buffer <= 0 {
		buffer = 1024
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Publisher{q: q, ch: make(chan Job, buffer), rec: rec}
}

// Publish hands j off for asynchronous push.
func (p *Publisher) Publish(j Job) {
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = time.Now()
	}
	select {
	case p.ch <- j:
	default:
		p.detach.Add(1)
		go func() {
			defer p.detach.Done()
			p.push(j)
		}()
	}
}

// Run drains the hand-off until ctx ends, then flushes what is still buffered.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case j := <-p.ch:
			p.push(j)
		case <-ctx.Done():
			p.flush()
			return nil
		}
	}
}

func (p *Publisher) flush() {
	for {
		select {
		case j := <-p.ch:
			p.push(j)
		default:
			p.detach.Wait()
			return
		}
	}
}

func (p *Publisher) push(j Job) {
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()
	if err := p.q.Push(ctx, j); err != nil {
		p.rec.RecordEnqueueFailure(string(j.Kind))
		fields := []zap.Field{
			zap.String("kind", string(j.Kind)),
			zap.String("game_id", j.GameID),
			zap.Error(err),
		}
		if j.Move != nil {
			fields = append(fields, zap.Int("move_number", j.Move.Number))
		}
		obslog.L().Error("job_enqueue_failed", fields...)
		return
	}
	p.rec.RecordJobEnqueued(string(j.Kind))
}
