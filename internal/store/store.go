// Package store is the durable source of truth for games and their move logs.
//
// Every write is an idempotent upsert whose effect does not depend on arrival
// order: status only moves forward (PENDING < IN_PROGRESS < COMPLETED), a move
// number is written once, and the first recorded result wins.
package store

import (
	"context"
	"time"

	"github.com/park285/cheese-arena/internal/domain"
)

// Store is the full durable store contract.
type Store interface {
	CreateGame(ctx context.Context, g domain.NewGame) (string, error)
	AttachSecondPlayer(ctx context.Context, id, userID string, at time.Time) error
	AppendMove(ctx context.Context, id string, mv domain.Move) error
	Finalize(ctx context.Context, id string, res domain.Result) error
	LoadGame(ctx context.Context, id string) (*domain.Game, error)
	ListInProgress(ctx context.Context) ([]domain.Game, error)
	Close() error
}

// ListLimit caps ListInProgress results.
const ListLimit = 200

func statusRank(s domain.Status) int {
	switch s {
	case domain.StatusInProgress:
		return 1
	case domain.StatusCompleted:
		return 2
	default:
		return 0
	}
}

// maxStatus merges two statuses without ever moving backwards.
func maxStatus(a, b domain.Status) domain.Status {
	if statusRank(b) > statusRank(a) {
		return b
	}
	if a == "" {
		return domain.StatusPending
	}
	return a
}
