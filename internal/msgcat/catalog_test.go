package msgcat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/park285/cheese-arena/internal/domain"
)

func TestEmbeddedDefaults(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.Alert("SELF_MATCH", nil, "x"); got != "Trying to connect with yourself?" {
		t.Fatalf("self match text = %q", got)
	}
	if got := c.Alert("NOT_FOUND", map[string]any{"RoomID": "r1"}, "x"); got != "Room r1 was not found." {
		t.Fatalf("not found text = %q", got)
	}
	if got := c.Alert("NOT_FOUND", nil, "fallback"); got != "fallback" {
		t.Fatalf("missing data should fall back, got %q", got)
	}
	if got := c.Alert("NO_SUCH_CODE", nil, "fallback"); got != "fallback" {
		t.Fatalf("unknown code should fall back, got %q", got)
	}
}

func TestResultText(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cases := []struct {
		res  domain.Result
		want string
	}{
		{domain.Result{Outcome: domain.WhiteWins, Cause: domain.CauseCheckmate}, "Checkmate. White wins."},
		{domain.Result{Outcome: domain.BlackWins, Cause: domain.CauseResignation}, "White resigned. Black wins."},
		{domain.Result{Outcome: domain.WhiteWins, Cause: domain.CauseTimeout}, "Black ran out of time. White wins."},
		{domain.Result{Outcome: domain.Draw, Cause: domain.CauseDrawAgreement}, "Draw by agreement."},
		{domain.Result{Outcome: domain.Draw, Cause: domain.CauseThreefoldRepetition}, "Draw by threefold repetition."},
	}
	for _, tc := range cases {
		if got := c.ResultText(tc.res); got != tc.want {
			t.Errorf("ResultText(%s/%s) = %q, want %q", tc.res.Outcome, tc.res.Cause, got, tc.want)
		}
	}

	var nilCat *Catalog
	if got := nilCat.ResultText(domain.Result{Outcome: domain.BlackWins, Cause: domain.CauseCheckmate}); got != "Black wins." {
		t.Errorf("nil catalog fallback = %q", got)
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "10-alerts.yaml"), []byte("alert:\n  wrong_turn: \"Wait for {{.Color}}.\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.Alert("WRONG_TURN", map[string]any{"Color": "black"}, "x"); got != "Wait for black." {
		t.Fatalf("override not applied: %q", got)
	}

	if err := os.WriteFile(filepath.Join(dir, "20-dup.yml"), []byte("alert:\n  wrong_turn: dup\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(dir); err == nil || !strings.Contains(err.Error(), "duplicate override key") {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
}

func TestRejectsNonStringLeaves(t *testing.T) {
	if _, err := parseYAMLToFlat([]byte("alert:\n  count: 3\n")); err == nil {
		t.Fatalf("expected error for integer leaf")
	}
}
