// Package session holds the authoritative state machine of one game room.
//
// A Room is mutated only from the coordinator goroutine and performs no locking.
package session

import (
	"errors"
	"strings"
	"time"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/rules"
)

// Board is the rules engine view a room plays moves against.
type Board interface {
	Apply(from, to, promotion string) (rules.Verdict, error)
	FEN() string
	Turn() domain.Color
}

// MoveRequest is a move as submitted by a client.
type MoveRequest struct {
	From      string
	To        string
	Promotion string
}

type Room struct {
	id      string
	whiteID string
	blackID string
	status  domain.Status
	board   Board
	moves   []domain.Move
	result  *domain.Result

	budget        time.Duration
	whiteUsed     time.Duration
	blackUsed     time.Duration
	lastAccounted time.Time

	createdAt time.Time
	startedAt time.Time
	endedAt   time.Time
}

// NewPending creates a room waiting for its second player.
func NewPending(id, whiteID string, board Board, budget time.Duration, now time.Time) *Room {
	return &Room{
		id:        id,
		whiteID:   whiteID,
		status:    domain.StatusPending,
		board:     board,
		budget:    budget,
		createdAt: now,
	}
}

// Restore rebuilds a room from a stored game whose moves were already replayed onto board.
// Clock accounting resumes at now; downtime is not charged to either side.
func Restore(g *domain.Game, board Board, budget time.Duration, now time.Time) *Room {
	r := &Room{
		id:            g.ID,
		whiteID:       g.WhiteID,
		blackID:       g.BlackID,
		status:        g.Status,
		board:         board,
		moves:         append([]domain.Move(nil), g.Moves...),
		budget:        budget,
		lastAccounted: now,
		createdAt:     g.CreatedAt,
	}
	if g.StartedAt != nil {
		r.startedAt = *g.StartedAt
	}
	for _, mv := range g.Moves {
		d := time.Duration(mv.ConsumedMs) * time.Millisecond
		if mv.Mover() == domain.White {
			r.whiteUsed = d
		} else {
			r.blackUsed = d
		}
	}
	if g.Result != nil {
		res := *g.Result
		r.result = &res
		r.status = domain.StatusCompleted
		r.whiteUsed = time.Duration(res.WhiteConsumedMs) * time.Millisecond
		r.blackUsed = time.Duration(res.BlackConsumedMs) * time.Millisecond
		r.endedAt = res.EndedAt
	}
	if g.EndedAt != nil {
		r.endedAt = *g.EndedAt
	}
	if r.status == domain.StatusPending && r.blackID != "" {
		r.status = domain.StatusInProgress
	}
	return r
}

func (r *Room) ID() string            { return r.id }
func (r *Room) WhiteID() string       { return r.whiteID }
func (r *Room) BlackID() string       { return r.blackID }
func (r *Room) Status() domain.Status { return r.status }

// ColorOf returns the seat userID occupies.
func (r *Room) ColorOf(userID string) (domain.Color, bool) {
	switch {
	case userID == "":
		return "", false
	case userID == r.whiteID:
		return domain.White, true
	case userID == r.blackID:
		return domain.Black, true
	}
	return "", false
}

// AttachSecondPlayer seats userID as black and starts the clocks.
func (r *Room) AttachSecondPlayer(userID string, now time.Time) error {
	if r.status != domain.StatusPending {
		return domain.ErrNotPending
	}
	if strings.TrimSpace(userID) == "" || userID == r.whiteID {
		return domain.ErrSelfMatch
	}
	r.blackID = userID
	r.status = domain.StatusInProgress
	r.startedAt = now
	r.lastAccounted = now
	return nil
}

// ApplyMove validates and plays a move for userID. When the mover's flag has
// already fallen the room completes by timeout and ErrTimeExpired is returned
// along with the result.
func (r *Room) ApplyMove(userID string, req MoveRequest, now time.Time) (domain.Move, *domain.Result, error) {
	color, ok := r.ColorOf(userID)
	if !ok {
		return domain.Move{}, nil, domain.ErrNotParticipant
	}
	switch r.status {
	case domain.StatusPending:
		return domain.Move{}, nil, domain.ErrNotStarted
	case domain.StatusCompleted:
		return domain.Move{}, nil, domain.ErrGameOver
	}
	if color != r.board.Turn() {
		return domain.Move{}, nil, domain.ErrWrongTurn
	}
	if r.used(color)+r.elapsed(now) >= r.budget {
		r.account(color, now)
		res := r.finish(domain.WinFor(color.Opponent()), domain.CauseTimeout, now)
		return domain.Move{}, res, domain.ErrTimeExpired
	}

	v, err := r.board.Apply(req.From, req.To, req.Promotion)
	if err != nil {
		return domain.Move{}, nil, domain.ErrIllegalMove.Wrap(err)
	}
	// Apply has already flipped the turn, so charge the mover explicitly.
	r.account(color, now)
	mv := domain.Move{
		Number:     len(r.moves) + 1,
		From:       strings.ToLower(strings.TrimSpace(req.From)),
		To:         strings.ToLower(strings.TrimSpace(req.To)),
		Promotion:  v.Promotion,
		SAN:        v.SAN,
		FEN:        v.FEN,
		PlayedAt:   now,
		ConsumedMs: r.used(color).Milliseconds(),
	}
	r.moves = append(r.moves, mv)

	var res *domain.Result
	if v.Terminal {
		res = r.finish(v.Outcome, v.Cause, now)
	}
	return mv, res, nil
}

// Tick charges elapsed time to the side on move. It returns the result when
// that side runs out of time.
func (r *Room) Tick(now time.Time) *domain.Result {
	if r.status != domain.StatusInProgress {
		return nil
	}
	turn := r.board.Turn()
	r.account(turn, now)
	if r.used(turn) >= r.budget {
		return r.finish(domain.WinFor(turn.Opponent()), domain.CauseTimeout, now)
	}
	return nil
}

// Resign ends the game in favour of userID's opponent.
func (r *Room) Resign(userID string, now time.Time) (*domain.Result, error) {
	color, ok := r.ColorOf(userID)
	if !ok {
		return nil, domain.ErrNotParticipant
	}
	if err := r.requireInProgress(); err != nil {
		return nil, err
	}
	r.account(r.board.Turn(), now)
	return r.finish(domain.WinFor(color.Opponent()), domain.CauseResignation, now), nil
}

// AcceptDraw ends the game as a draw by agreement.
func (r *Room) AcceptDraw(now time.Time) (*domain.Result, error) {
	if err := r.requireInProgress(); err != nil {
		return nil, err
	}
	r.account(r.board.Turn(), now)
	return r.finish(domain.Draw, domain.CauseDrawAgreement, now), nil
}

func (r *Room) requireInProgress() error {
	switch r.status {
	case domain.StatusPending:
		return domain.ErrNotStarted
	case domain.StatusCompleted:
		return domain.ErrGameOver
	}
	return nil
}

func (r *Room) elapsed(now time.Time) time.Duration {
	d := now.Sub(r.lastAccounted)
	if d < 0 {
		return 0
	}
	return d
}

func (r *Room) used(c domain.Color) time.Duration {
	if c == domain.White {
		return r.whiteUsed
	}
	return r.blackUsed
}

// account charges time since the last accounting to c, clamped to the budget.
func (r *Room) account(c domain.Color, now time.Time) {
	if r.status != domain.StatusInProgress {
		return
	}
	d := r.elapsed(now)
	if d > 0 {
		r.lastAccounted = now
	}
	if c == domain.White {
		r.whiteUsed = min(r.whiteUsed+d, r.budget)
	} else {
		r.blackUsed = min(r.blackUsed+d, r.budget)
	}
}

func (r *Room) finish(outcome domain.Outcome, cause domain.Cause, now time.Time) *domain.Result {
	r.status = domain.StatusCompleted
	r.endedAt = now
	r.result = &domain.Result{
		Outcome:         outcome,
		Cause:           cause,
		EndedAt:         now,
		WhiteConsumedMs: r.whiteUsed.Milliseconds(),
		BlackConsumedMs: r.blackUsed.Milliseconds(),
	}
	res := *r.result
	return &res
}

// Snapshot is a copy of the room state safe to hand outside the coordinator.
type Snapshot struct {
	ID              string
	WhiteID         string
	BlackID         string
	Status          domain.Status
	Moves           []domain.Move
	FEN             string
	Turn            domain.Color
	WhiteConsumedMs int64
	BlackConsumedMs int64
	BudgetMs        int64
	Result          *domain.Result
	CreatedAt       time.Time
	StartedAt       time.Time
	EndedAt         time.Time
}

func (r *Room) Snapshot() Snapshot {
	s := Snapshot{
		ID:              r.id,
		WhiteID:         r.whiteID,
		BlackID:         r.blackID,
		Status:          r.status,
		Moves:           append([]domain.Move(nil), r.moves...),
		FEN:             r.board.FEN(),
		Turn:            r.board.Turn(),
		WhiteConsumedMs: r.whiteUsed.Milliseconds(),
		BlackConsumedMs: r.blackUsed.Milliseconds(),
		BudgetMs:        r.budget.Milliseconds(),
		CreatedAt:       r.createdAt,
		StartedAt:       r.startedAt,
		EndedAt:         r.endedAt,
	}
	if r.result != nil {
		res := *r.result
		s.Result = &res
	}
	return s
}

// Game converts the snapshot to the stored game shape.
func (s Snapshot) Game() domain.Game {
	g := domain.Game{
		ID:        s.ID,
		WhiteID:   s.WhiteID,
		BlackID:   s.BlackID,
		Status:    s.Status,
		Result:    s.Result,
		CreatedAt: s.CreatedAt,
		Moves:     s.Moves,
	}
	if !s.StartedAt.IsZero() {
		t := s.StartedAt
		g.StartedAt = &t
	}
	if !s.EndedAt.IsZero() {
		t := s.EndedAt
		g.EndedAt = &t
	}
	return g
}

var errNoBoard = errors.New("session: nil board")

// Validate reports structural problems with a freshly built room.
func (r *Room) Validate() error {
	if r.board == nil {
		return errNoBoard
	}
	if r.status == domain.StatusInProgress && (r.blackID == "" || r.blackID == r.whiteID) {
		return domain.ErrSelfMatch
	}
	return nil
}
