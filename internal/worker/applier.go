// Package worker applies queued persistence jobs to the durable store with a
// fixed-size, supervised pool of goroutines.
package worker

import (
	"context"
	"fmt"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/queue"
)

// Store is the write side of the durable store used by workers.
type Store interface {
	AppendMove(ctx context.Context, id string, mv domain.Move) error
	Finalize(ctx context.Context, id string, res domain.Result) error
}

// Handler processes one job.
type Handler interface {
	Handle(ctx context.Context, j queue.Job) error
}

// Applier maps jobs to store writes.
type Applier struct {
	store Store
}

func NewApplier(s Store) *Applier { return &Applier{store: s} }

func (a *Applier) Handle(ctx context.Context, j queue.Job) error {
	if err := j.Validate(); err != nil {
		return err
	}
	switch j.Kind {
	case queue.KindMove:
		if err := a.store.AppendMove(ctx, j.GameID, *j.Move); err != nil {
			return domain.ErrPersistence.Wrap(fmt.Errorf("append move: %w", err))
		}
	case queue.KindFinalize:
		if err := a.store.Finalize(ctx, j.GameID, *j.Result); err != nil {
			return domain.ErrPersistence.Wrap(fmt.Errorf("finalize: %w", err))
		}
	}
	return nil
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, j queue.Job) error

func (f HandlerFunc) Handle(ctx context.Context, j queue.Job) error { return f(ctx, j) }
