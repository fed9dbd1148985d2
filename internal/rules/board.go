// Package rules adapts corentings/chess to the move-legality contract used by game rooms.
package rules

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/obslog"
	"go.uber.org/zap"
)

// DefaultPromotion is the piece used when a promotion move does not name one.
const DefaultPromotion = "q"

var ErrIllegalMove = errors.New("illegal move")

// Verdict is the rules engine report for an accepted move.
type Verdict struct {
	SAN       string
	FEN       string
	Promotion string
	Terminal  bool
	Outcome   domain.Outcome
	Cause     domain.Cause
}

// Board is a mutable position. Not safe for concurrent use.
type Board struct {
	game *nchess.Game
}

func NewBoard() *Board {
	return &Board{game: nchess.NewGame()}
}

// Replay rebuilds a board from a stored move log, in order.
func Replay(moves []domain.Move) (*Board, error) {
	b := NewBoard()
	for _, mv := range moves {
		promo := mv.Promotion
		if promo == "" && b.IsPromotion(mv.From, mv.To) {
			obslog.L().Warn("replay_promotion_defaulted",
				zap.Int("move_number", mv.Number),
				zap.String("from", mv.From),
				zap.String("to", mv.To),
				zap.String("promotion", DefaultPromotion),
			)
		}
		if _, err := b.Apply(mv.From, mv.To, promo); err != nil {
			return nil, fmt.Errorf("replay move %d (%s%s): %w", mv.Number, mv.From, mv.To, err)
		}
	}
	return b, nil
}

func (b *Board) Turn() domain.Color {
	if b.game.Position().Turn() == nchess.White {
		return domain.White
	}
	return domain.Black
}

func (b *Board) FEN() string { return b.game.FEN() }

// Plies returns the number of moves applied so far.
func (b *Board) Plies() int { return len(b.game.Moves()) }

// IsPromotion reports whether moving from→to is a pawn reaching the last rank.
func (b *Board) IsPromotion(from, to string) bool {
	sqFrom, _, ok := parseSquare(from)
	if !ok {
		return false
	}
	_, toRank, ok := parseSquare(to)
	if !ok {
		return false
	}
	piece := b.game.Position().Board().Piece(sqFrom)
	if piece == nchess.NoPiece || piece.Type() != nchess.Pawn {
		return false
	}
	if piece.Color() == nchess.White {
		return toRank == 7
	}
	return toRank == 0
}

// Apply validates and plays a move. On rejection the position is unchanged.
func (b *Board) Apply(from, to, promotion string) (Verdict, error) {
	from = strings.ToLower(strings.TrimSpace(from))
	to = strings.ToLower(strings.TrimSpace(to))
	if _, _, ok := parseSquare(from); !ok {
		return Verdict{}, fmt.Errorf("%w: bad square %q", ErrIllegalMove, from)
	}
	if _, _, ok := parseSquare(to); !ok {
		return Verdict{}, fmt.Errorf("%w: bad square %q", ErrIllegalMove, to)
	}

	promo := ""
	if b.IsPromotion(from, to) {
		promo = strings.ToLower(strings.TrimSpace(promotion))
		if promo == "" {
			promo = DefaultPromotion
		}
		if !strings.Contains("qrbn", promo) || len(promo) != 1 {
			return Verdict{}, fmt.Errorf("%w: bad promotion %q", ErrIllegalMove, promotion)
		}
	}

	pos := b.game.Position()
	mv, err := nchess.UCINotation{}.Decode(pos, from+to+promo)
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}
	if err := b.game.Move(mv, nil); err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}

	v := Verdict{
		SAN:       nchess.AlgebraicNotation{}.Encode(pos, mv),
		FEN:       b.game.FEN(),
		Promotion: promo,
	}
	if out := b.game.Outcome(); out != nchess.NoOutcome {
		v.Terminal = true
		v.Outcome = outcomeFrom(out)
		v.Cause = causeFrom(b.game.Method())
	}
	return v, nil
}

func outcomeFrom(o nchess.Outcome) domain.Outcome {
	switch o {
	case nchess.WhiteWon:
		return domain.WhiteWins
	case nchess.BlackWon:
		return domain.BlackWins
	default:
		return domain.Draw
	}
}

func causeFrom(m nchess.Method) domain.Cause {
	switch m {
	case nchess.Checkmate:
		return domain.CauseCheckmate
	case nchess.Stalemate:
		return domain.CauseStalemate
	case nchess.InsufficientMaterial:
		return domain.CauseInsufficientMaterial
	case nchess.ThreefoldRepetition:
		return domain.CauseThreefoldRepetition
	case nchess.FivefoldRepetition:
		return domain.CauseFivefoldRepetition
	case nchess.FiftyMoveRule:
		return domain.CauseFiftyMoveRule
	case nchess.SeventyFiveMoveRule:
		return domain.CauseSeventyFiveMoveRule
	default:
		return domain.Cause(strings.ToLower(m.String()))
	}
}

// parseSquare reads algebraic squares like "e4". Rank is returned zero-based.
func parseSquare(s string) (nchess.Square, int, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 2 {
		return 0, 0, false
	}
	f := int(s[0]) - 'a'
	r := int(s[1]) - '1'
	if f < 0 || f > 7 || r < 0 || r > 7 {
		return 0, 0, false
	}
	return nchess.NewSquare(nchess.File(f), nchess.Rank(r)), r, true
}
