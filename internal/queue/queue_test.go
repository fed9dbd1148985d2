package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/park285/cheese-arena/internal/domain"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	q, err := NewRedis(fmt.Sprintf("redis://%s/0", mr.Addr()), "test:jobs")
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q, mr
}

func TestRedis_FIFO(t *testing.T) {
	q, mr := newTestRedis(t)
	ctx := context.Background()

	first := MoveJob("g1", domain.Move{Number: 1, From: "e2", To: "e4"})
	second := FinalizeJob("g1", domain.Result{Outcome: domain.Draw, Cause: domain.CauseDrawAgreement})
	if err := q.Push(ctx, first); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := q.Push(ctx, second); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if n, _ := q.Len(ctx); n != 2 {
		t.Fatalf("Len = %d, want 2", n)
	}
	if !mr.Exists("test:jobs") {
		t.Fatalf("expected list key in redis")
	}

	got, err := q.Pop(ctx)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if got.Kind != KindMove || got.Move == nil || got.Move.From != "e2" || got.EnqueuedAt.IsZero() {
		t.Fatalf("unexpected first job: %+v", got)
	}
	got, err = q.Pop(ctx)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if got.Kind != KindFinalize || got.Result == nil || got.Result.Outcome != domain.Draw {
		t.Fatalf("unexpected second job: %+v", got)
	}
}

func TestRedis_PopHonoursContext(t *testing.T) {
	q, _ := newTestRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := q.Pop(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRedis_PopBlocksUntilPush(t *testing.T) {
	q, _ := newTestRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan Job, 1)
	go func() {
		j, err := q.Pop(ctx)
		if err == nil {
			done <- j
		}
	}()
	time.Sleep(50 * time.Millisecond)
	if err := q.Push(ctx, MoveJob("g9", domain.Move{Number: 3})); err != nil {
		t.Fatalf("Push: %v", err)
	}
	select {
	case j := <-done:
		if j.GameID != "g9" {
			t.Fatalf("unexpected job %+v", j)
		}
	case <-ctx.Done():
		t.Fatalf("Pop never returned")
	}
}

func TestRedis_RejectsBadURL(t *testing.T) {
	if _, err := NewRedis("", "k"); err == nil {
		t.Fatalf("expected error for empty url")
	}
	if _, err := NewRedis("http://localhost:6379", "k"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}

func TestMemory_FIFOAndClose(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		_ = q.Push(ctx, MoveJob("g1", domain.Move{Number: i}))
	}
	for i := 1; i <= 3; i++ {
		j, err := q.Pop(ctx)
		if err != nil || j.Move.Number != i {
			t.Fatalf("pop %d: %+v %v", i, j, err)
		}
	}

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := q.Pop(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}

	_ = q.Push(ctx, MoveJob("g1", domain.Move{Number: 4}))
	_ = q.Close()
	if err := q.Push(ctx, MoveJob("g1", domain.Move{Number: 5})); !errors.Is(err, ErrClosed) {
		t.Fatalf("push after close: %v", err)
	}
	if j, err := q.Pop(ctx); err != nil || j.Move.Number != 4 {
		t.Fatalf("drain after close: %+v %v", j, err)
	}
	if _, err := q.Pop(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestMemory_ManyConsumers(t *testing.T) {
	q := NewMemory()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const jobs = 200
	var (
		mu   sync.Mutex
		seen = make(map[int]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j, err := q.Pop(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				seen[j.Move.Number]++
				mu.Unlock()
			}
		}()
	}
	for i := 1; i <= jobs; i++ {
		_ = q.Push(ctx, MoveJob("g", domain.Move{Number: i}))
	}
	_ = q.Close()
	wg.Wait()

	if len(seen) != jobs {
		t.Fatalf("consumed %d distinct jobs, want %d", len(seen), jobs)
	}
	for n, c := range seen {
		if c != 1 {
			t.Fatalf("job %d delivered %d times", n, c)
		}
	}
}

func TestJobValidate(t *testing.T) {
	cases := []struct {
		job Job
		ok  bool
	}{
		{MoveJob("g", domain.Move{Number: 1}), true},
		{FinalizeJob("g", domain.Result{}), true},
		{MoveJob("", domain.Move{Number: 1}), false},
		{MoveJob("g", domain.Move{}), false},
		{Job{Kind: KindFinalize, GameID: "g"}, false},
		{Job{Kind: "archive", GameID: "g"}, false},
	}
	for i, c := range cases {
		if err := c.job.Validate(); (err == nil) != c.ok {
			t.Fatalf("case %d: Validate() = %v, want ok=%v", i, err, c.ok)
		}
	}
}

type failingQueue struct{ Memory }

func (f *failingQueue) Push(context.Context, Job) error { return errors.New("down") }

func TestPublisher_DeliversAndOverflows(t *testing.T) {
	q := NewMemory()
	p := NewPublisher(q, 1, nil)

	// Run is not started yet: the first job fills the buffer and the rest overflow.
	for i := 1; i <= 5; i++ {
		p.Publish(MoveJob("g1", domain.Move{Number: i}))
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	if q.Len() != 5 {
		t.Fatalf("queue holds %d jobs, want 5", q.Len())
	}
}

func TestPublisher_PushFailureIsSwallowed(t *testing.T) {
	p := NewPublisher(&failingQueue{}, 4, nil)
	p.Publish(FinalizeJob("g1", domain.Result{}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
