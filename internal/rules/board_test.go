package rules

import (
	"errors"
	"testing"

	"github.com/park285/cheese-arena/internal/domain"
)

type uci struct{ from, to, promo string }

func play(t *testing.T, b *Board, moves ...uci) Verdict {
	t.Helper()
	var v Verdict
	for i, m := range moves {
		var err error
		v, err = b.Apply(m.from, m.to, m.promo)
		if err != nil {
			t.Fatalf("move %d %s%s: %v", i+1, m.from, m.to, err)
		}
	}
	return v
}

func TestApply_ScholarsMate(t *testing.T) {
	b := NewBoard()
	v := play(t, b,
		uci{"e2", "e4", ""},
		uci{"e7", "e5", ""},
		uci{"d1", "h5", ""},
		uci{"b8", "c6", ""},
		uci{"f1", "c4", ""},
		uci{"g8", "f6", ""},
		uci{"h5", "f7", ""},
	)
	if !v.Terminal {
		t.Fatalf("expected terminal verdict")
	}
	if v.Outcome != domain.WhiteWins || v.Cause != domain.CauseCheckmate {
		t.Fatalf("unexpected result: %s by %s", v.Outcome, v.Cause)
	}
	if v.SAN != "Qxf7#" {
		t.Fatalf("unexpected SAN: %q", v.SAN)
	}
}

func TestApply_QueenTakesF7IsNotMateWithoutBishop(t *testing.T) {
	b := NewBoard()
	v := play(t, b,
		uci{"e2", "e4", ""},
		uci{"e7", "e5", ""},
		uci{"d1", "h5", ""},
		uci{"b8", "c6", ""},
		uci{"h5", "f7", ""},
	)
	if v.Terminal {
		t.Fatalf("Qxf7+ without support should not end the game")
	}
	if b.Turn() != domain.Black {
		t.Fatalf("expected black to move, got %s", b.Turn())
	}
}

func TestApply_IllegalLeavesPositionUnchanged(t *testing.T) {
	b := NewBoard()
	before := b.FEN()
	cases := []uci{
		{"e2", "e5", ""},
		{"e7", "e5", ""},
		{"z9", "e4", ""},
		{"e2", "", ""},
	}
	for _, c := range cases {
		if _, err := b.Apply(c.from, c.to, c.promo); !errors.Is(err, ErrIllegalMove) {
			t.Fatalf("%s%s: expected ErrIllegalMove, got %v", c.from, c.to, err)
		}
	}
	if b.FEN() != before {
		t.Fatalf("position changed after rejected moves")
	}
	if b.Plies() != 0 {
		t.Fatalf("expected 0 plies, got %d", b.Plies())
	}
}

// promotionLine walks the a-pawn to a7 so that a7xb8 promotes.
var promotionLine = []uci{
	{"a2", "a4", ""},
	{"h7", "h6", ""},
	{"a4", "a5", ""},
	{"h6", "h5", ""},
	{"a5", "a6", ""},
	{"h5", "h4", ""},
	{"a6", "b7", ""},
	{"h4", "h3", ""},
}

func TestApply_PromotionDefaultsAndHonoursPiece(t *testing.T) {
	b := NewBoard()
	play(t, b, promotionLine...)
	if !b.IsPromotion("b7", "a8") {
		t.Fatalf("b7a8 should be a promotion")
	}
	if b.IsPromotion("g1", "f3") {
		t.Fatalf("knight move is not a promotion")
	}
	v, err := b.Apply("b7", "a8", "")
	if err != nil {
		t.Fatalf("promotion: %v", err)
	}
	if v.Promotion != DefaultPromotion {
		t.Fatalf("expected default promotion %q, got %q", DefaultPromotion, v.Promotion)
	}

	b2 := NewBoard()
	play(t, b2, promotionLine...)
	v2, err := b2.Apply("b7", "a8", "N")
	if err != nil {
		t.Fatalf("underpromotion: %v", err)
	}
	if v2.Promotion != "n" {
		t.Fatalf("expected knight promotion, got %q", v2.Promotion)
	}
	if v.FEN == v2.FEN {
		t.Fatalf("queen and knight promotions should differ")
	}

	b3 := NewBoard()
	play(t, b3, promotionLine...)
	if _, err := b3.Apply("b7", "a8", "k"); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("king promotion should be rejected, got %v", err)
	}
}

func TestReplay_ReproducesFinalPosition(t *testing.T) {
	live := NewBoard()
	line := append(append([]uci{}, promotionLine...), uci{"b7", "a8", "r"}, uci{"h3", "g2", ""})
	var log []domain.Move
	for i, m := range line {
		v, err := live.Apply(m.from, m.to, m.promo)
		if err != nil {
			t.Fatalf("live move %d: %v", i+1, err)
		}
		log = append(log, domain.Move{Number: i + 1, From: m.from, To: m.to, Promotion: v.Promotion, SAN: v.SAN, FEN: v.FEN})
	}

	replayed, err := Replay(log)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed.FEN() != log[len(log)-1].FEN {
		t.Fatalf("replayed FEN mismatch:\n got %s\nwant %s", replayed.FEN(), log[len(log)-1].FEN)
	}
	if replayed.Turn() != live.Turn() {
		t.Fatalf("turn mismatch after replay")
	}
}

func TestReplay_MissingPromotionUsesDefault(t *testing.T) {
	var log []domain.Move
	for i, m := range promotionLine {
		log = append(log, domain.Move{Number: i + 1, From: m.from, To: m.to})
	}
	log = append(log, domain.Move{Number: len(log) + 1, From: "b7", To: "a8"})

	b, err := Replay(log)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	want := NewBoard()
	play(t, want, promotionLine...)
	play(t, want, uci{"b7", "a8", DefaultPromotion})
	if b.FEN() != want.FEN() {
		t.Fatalf("expected default-promoted position")
	}
}

func TestReplay_IllegalLogFails(t *testing.T) {
	log := []domain.Move{
		{Number: 1, From: "e2", To: "e4"},
		{Number: 2, From: "e2", To: "e4"},
	}
	if _, err := Replay(log); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("expected ErrIllegalMove, got %v", err)
	}
}
