package domain

import "time"

// Color identifies chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Opponent returns the other side.
func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// Status represents a room lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

// Outcome is the final score of a completed game.
type Outcome string

const (
	WhiteWins Outcome = "WHITE_WINS"
	BlackWins Outcome = "BLACK_WINS"
	Draw      Outcome = "DRAW"
)

// WinFor returns the outcome crediting c.
func WinFor(c Color) Outcome {
	if c == White {
		return WhiteWins
	}
	return BlackWins
}

// Cause explains how a game ended.
type Cause string

const (
	CauseCheckmate            Cause = "checkmate"
	CauseResignation          Cause = "resignation"
	CauseDrawAgreement        Cause = "draw_agreement"
	CauseTimeout              Cause = "timeout"
	CauseStalemate            Cause = "stalemate"
	CauseInsufficientMaterial Cause = "insufficient_material"
	CauseThreefoldRepetition  Cause = "threefold_repetition"
	CauseFivefoldRepetition   Cause = "fivefold_repetition"
	CauseFiftyMoveRule        Cause = "fifty_move_rule"
	CauseSeventyFiveMoveRule  Cause = "seventy_five_move_rule"
)

// Move is one persisted ply. Number starts at 1; odd numbers are white's.
type Move struct {
	Number     int       `json:"number"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Promotion  string    `json:"promotion,omitempty"`
	SAN        string    `json:"san"`
	FEN        string    `json:"fen"`
	PlayedAt   time.Time `json:"playedAt"`
	ConsumedMs int64     `json:"consumedMs"`
}

// Mover returns the side that played the move.
func (m Move) Mover() Color {
	if m.Number%2 == 1 {
		return White
	}
	return Black
}

// Result describes a terminal transition.
type Result struct {
	Outcome         Outcome   `json:"outcome"`
	Cause           Cause     `json:"cause"`
	EndedAt         time.Time `json:"endedAt"`
	WhiteConsumedMs int64     `json:"whiteConsumedMs"`
	BlackConsumedMs int64     `json:"blackConsumedMs"`
}

// Winner returns the winning side, or "" for draws.
func (r Result) Winner() Color {
	switch r.Outcome {
	case WhiteWins:
		return White
	case BlackWins:
		return Black
	default:
		return ""
	}
}

// NewGame is the payload for creating a stored game.
type NewGame struct {
	ID        string
	WhiteID   string
	BlackID   string
	CreatedAt time.Time
}

// Game is the stored view of a room, as loaded from the durable store.
type Game struct {
	ID        string     `json:"id"`
	WhiteID   string     `json:"whiteId"`
	BlackID   string     `json:"blackId,omitempty"`
	Status    Status     `json:"status"`
	Result    *Result    `json:"result,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
	Moves     []Move     `json:"moves"`
}
