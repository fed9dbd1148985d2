// Package queue carries write-behind persistence jobs from the coordinator to the worker pool.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/park285/cheese-arena/internal/domain"
)

var (
	ErrClosed       = errors.New("queue closed")
	ErrMalformedJob = errors.New("malformed job")
)

// Kind names the job type.
type Kind string

const (
	KindMove     Kind = "move"
	KindFinalize Kind = "finalize"
)

// Job is one unit of write-behind work. Application at the store is idempotent,
// so redelivery is harmless.
type Job struct {
	Kind       Kind           `json:"kind"`
	GameID     string         `json:"gameId"`
	Move       *domain.Move   `json:"move,omitempty"`
	Result     *domain.Result `json:"result,omitempty"`
	EnqueuedAt time.Time      `json:"enqueuedAt"`
}

func MoveJob(gameID string, mv domain.Move) Job {
	return Job{Kind: KindMove, GameID: gameID, Move: &mv}
}

func FinalizeJob(gameID string, res domain.Result) Job {
	return Job{Kind: KindFinalize, GameID: gameID, Result: &res}
}

// Validate reports whether the job carries the payload its kind needs.
func (j Job) Validate() error {
	if j.GameID == "" {
		return fmt.Errorf("job %s: missing game id", j.Kind)
	}
	switch j.Kind {
	case KindMove:
		if j.Move == nil || j.Move.Number < 1 {
			return fmt.Errorf("job %s %s: missing move", j.Kind, j.GameID)
		}
	case KindFinalize:
		if j.Result == nil {
			return fmt.Errorf("job %s %s: missing result", j.Kind, j.GameID)
		}
	default:
		return fmt.Errorf("job %q %s: unknown kind", j.Kind, j.GameID)
	}
	return nil
}

func encode(j Job) ([]byte, error) { return json.Marshal(j) }

func decode(b []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(b, &j); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	return j, nil
}

// Queue is a multi-consumer FIFO of jobs. Pop blocks until a job arrives or ctx ends.
type Queue interface {
	Push(ctx context.Context, j Job) error
	Pop(ctx context.Context) (Job, error)
}
