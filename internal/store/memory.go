package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/cheese-arena/internal/domain"
)

// Memory is a development-only in-process store used when no DB is configured.
type Memory struct {
	mu    sync.RWMutex
	games map[string]*memGame
}

type memGame struct {
	game  domain.Game
	moves map[int]domain.Move
}

func NewMemory() *Memory {
	return &Memory{games: make(map[string]*memGame)}
}

func (m *Memory) Close() error { return nil }

// ensure returns the row for id, inserting a placeholder when absent. Caller holds mu.
func (m *Memory) ensure(id string) *memGame {
	g, ok := m.games[id]
	if !ok {
		g = &memGame{
			game:  domain.Game{ID: id, Status: domain.StatusPending},
			moves: make(map[int]domain.Move),
		}
		m.games[id] = g
	}
	return g
}

func (m *Memory) CreateGame(ctx context.Context, ng domain.NewGame) (string, error) {
	id := strings.TrimSpace(ng.ID)
	if id == "" {
		id = uuid.NewString()
	}
	status := domain.StatusPending
	if ng.BlackID != "" {
		status = domain.StatusInProgress
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	_, existed := m.games[id]
	g := m.ensure(id)
	if g.game.WhiteID == "" {
		g.game.WhiteID = ng.WhiteID
	}
	if g.game.BlackID == "" {
		g.game.BlackID = ng.BlackID
	}
	if !existed || (!ng.CreatedAt.IsZero() && ng.CreatedAt.Before(g.game.CreatedAt)) {
		g.game.CreatedAt = ng.CreatedAt
	}
	g.game.Status = maxStatus(g.game.Status, status)
	return id, nil
}

func (m *Memory) AttachSecondPlayer(ctx context.Context, id, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.ensure(id)
	if g.game.BlackID == "" {
		g.game.BlackID = userID
	}
	if g.game.StartedAt == nil {
		t := at
		g.game.StartedAt = &t
	}
	if g.game.CreatedAt.IsZero() {
		g.game.CreatedAt = at
	}
	g.game.Status = maxStatus(g.game.Status, domain.StatusInProgress)
	return nil
}

func (m *Memory) AppendMove(ctx context.Context, id string, mv domain.Move) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.ensure(id)
	if _, ok := g.moves[mv.Number]; !ok {
		g.moves[mv.Number] = mv
	}
	if g.game.CreatedAt.IsZero() {
		g.game.CreatedAt = mv.PlayedAt
	}
	g.game.Status = maxStatus(g.game.Status, domain.StatusInProgress)
	return nil
}

func (m *Memory) Finalize(ctx context.Context, id string, res domain.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.ensure(id)
	if g.game.Result == nil {
		r := res
		g.game.Result = &r
		t := res.EndedAt
		g.game.EndedAt = &t
	}
	if g.game.CreatedAt.IsZero() {
		g.game.CreatedAt = res.EndedAt
	}
	g.game.Status = domain.StatusCompleted
	return nil
}

func (m *Memory) LoadGame(ctx context.Context, id string) (*domain.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[id]
	if !ok {
		return nil, domain.ErrGameNotFound
	}
	out := g.snapshot()
	return &out, nil
}

func (m *Memory) ListInProgress(ctx context.Context) ([]domain.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]domain.Game, 0)
	for _, g := range m.games {
		if g.game.Status != domain.StatusInProgress {
			continue
		}
		cp := g.game
		cp.Moves = nil
		items = append(items, cp)
	}
	// Newest first (fallback to ID)
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	if len(items) > ListLimit {
		items = items[:ListLimit]
	}
	return items, nil
}

func (g *memGame) snapshot() domain.Game {
	out := g.game
	if g.game.Result != nil {
		r := *g.game.Result
		out.Result = &r
	}
	nums := make([]int, 0, len(g.moves))
	for n := range g.moves {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	out.Moves = make([]domain.Move, 0, len(nums))
	for _, n := range nums {
		out.Moves = append(out.Moves, g.moves[n])
	}
	return out
}
