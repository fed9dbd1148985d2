package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/park285/cheese-arena/internal/metrics"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/queue"
	"go.uber.org/zap"
)

// jobTimeout bounds a single store write.
const jobTimeout = 10 * time.Second

type PoolConfig struct {
	Size         int
	RestartDelay time.Duration
}

// Pool runs Size workers, each popping and handling jobs until the context ends.
// A worker that exits with an error or panic is restarted after RestartDelay.
// Failed jobs are logged and dropped, never requeued.
type Pool struct {
	q     queue.Queue
	h     Handler
	size  int
	delay time.Duration
	rec   metrics.Recorder
}

func NewPool(q queue.Queue, h Handler, cfg PoolConfig, rec metrics.Recorder) *Pool {
	size := cfg.Size
	if size <= 0 {
		size = DefaultSize()
	}
	delay := cfg.RestartDelay
	if delay <= 0 {
		delay = time.Second
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Pool{q: q, h: h, size: size, delay: delay, rec: rec}
}

// DefaultSize is one worker per CPU.
func DefaultSize() int {
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return 1
}

func (p *Pool) Size() int { return p.size }

// Run blocks until ctx ends and every worker has returned.
func (p *Pool) Run(ctx context.Context) error {
	obslog.L().Info("worker_pool_start", zap.Int("size", p.size), zap.Duration("restart_delay", p.delay))
	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.supervise(ctx, id)
		}(i)
	}
	wg.Wait()
	obslog.L().Info("worker_pool_stop")
	return nil
}

func (p *Pool) supervise(ctx context.Context, id int) {
	for {
		err := p.runWorker(ctx, id)
		if ctx.Err() != nil {
			return
		}
		if err == nil || errors.Is(err, queue.ErrClosed) {
			obslog.L().Info("worker_stopped", zap.Int("worker", id))
			return
		}
		p.rec.RecordWorkerRestart()
		obslog.L().Warn("worker_exited",
			zap.Int("worker", id),
			zap.Duration("restart_in", p.delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.delay):
		}
	}
}

// runWorker is the pop-and-process loop. A panic is converted into an error so
// the supervisor can restart the slot.
func (p *Pool) runWorker(ctx context.Context, id int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker %d panic: %v", id, r)
		}
	}()
	for {
		j, err := p.q.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, queue.ErrMalformedJob) {
				p.rec.RecordJobFailure("malformed")
				obslog.L().Error("job_malformed", zap.Int("worker", id), zap.Error(err))
				continue
			}
			return err
		}
		p.process(id, j)
	}
}

func (p *Pool) process(id int, j queue.Job) {
	// 클라이언트나 종료 신호와 무관하게 끝까지 처리
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if err := p.h.Handle(ctx, j); err != nil {
		p.rec.RecordJobFailure(string(j.Kind))
		fields := []zap.Field{
			zap.Int("worker", id),
			zap.String("kind", string(j.Kind)),
			zap.String("game_id", j.GameID),
			zap.Error(err),
		}
		if j.Move != nil {
			fields = append(fields, zap.Int("move_number", j.Move.Number))
		}
		obslog.L().Error("job_failed", fields...)
		return
	}
	var latency time.Duration
	if !j.EnqueuedAt.IsZero() {
		latency = time.Since(j.EnqueuedAt)
	}
	p.rec.RecordJobProcessed(string(j.Kind), latency)
	obslog.L().Debug("job_applied",
		zap.Int("worker", id),
		zap.String("kind", string(j.Kind)),
		zap.String("game_id", j.GameID),
	)
}
