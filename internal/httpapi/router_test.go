package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/park285/cheese-arena/internal/coordinator"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/protocol"
	"github.com/park285/cheese-arena/internal/store"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func seededStore(t *testing.T) *store.Memory {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	if _, err := st.CreateGame(ctx, domain.NewGame{ID: "g1", WhiteID: "alice", CreatedAt: t0}); err != nil {
		t.Fatal(err)
	}
	if err := st.AttachSecondPlayer(ctx, "g1", "bob", t0); err != nil {
		t.Fatal(err)
	}
	moves := []domain.Move{
		{Number: 1, From: "e2", To: "e4", SAN: "e4"},
		{Number: 2, From: "e7", To: "e5", SAN: "e5"},
		{Number: 3, From: "g1", To: "f3", SAN: "Nf3"},
	}
	for _, mv := range moves {
		if err := st.AppendMove(ctx, "g1", mv); err != nil {
			t.Fatal(err)
		}
	}
	return st
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestListGames(t *testing.T) {
	router := NewRouter(&RouterDeps{Games: seededStore(t)})
	w := get(t, router, "/v1/games")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var out gameList
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Games) != 1 || out.Games[0].ID != "g1" || out.Games[0].Status != domain.StatusInProgress {
		t.Fatalf("unexpected list: %+v", out)
	}
}

func TestGetGame(t *testing.T) {
	router := NewRouter(&RouterDeps{Games: seededStore(t)})

	w := get(t, router, "/v1/games/g1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var g domain.Game
	if err := json.NewDecoder(w.Body).Decode(&g); err != nil {
		t.Fatal(err)
	}
	if len(g.Moves) != 3 || g.BlackID != "bob" {
		t.Fatalf("unexpected game: %+v", g)
	}

	w = get(t, router, "/v1/games/missing")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing game status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"NOT_FOUND"`) {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestGamePGN(t *testing.T) {
	st := seededStore(t)
	ctx := context.Background()
	if err := st.Finalize(ctx, "g1", domain.Result{Outcome: domain.BlackWins, Cause: domain.CauseResignation, EndedAt: t0}); err != nil {
		t.Fatal(err)
	}
	router := NewRouter(&RouterDeps{Games: st})
	w := get(t, router, "/v1/games/g1/pgn")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/x-chess-pgn" {
		t.Fatalf("content type = %q", ct)
	}
	body := w.Body.String()
	for _, want := range []string{
		`[Date "2024.03.01"]`,
		`[White "alice"]`,
		`[Termination "resignation"]`,
		`[Result "0-1"]`,
		"1. e4 e5 2. Nf3 0-1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("pgn missing %q:\n%s", want, body)
		}
	}
}

func TestSanitizePGN(t *testing.T) {
	if got := sanitizePGN(` a"b\c `); got != "a'b c" {
		t.Fatalf("sanitizePGN = %q", got)
	}
	if got := buildPGN(&domain.Game{WhiteID: "w"}); !strings.HasSuffix(got, "\n\n*") {
		t.Fatalf("unfinished game pgn = %q", got)
	}
}

func TestHealthz(t *testing.T) {
	router := NewRouter(&RouterDeps{Checks: map[string]Check{
		"store": func(context.Context) error { return nil },
	}})
	if w := get(t, router, "/healthz"); w.Code != http.StatusOK {
		t.Fatalf("healthy status = %d", w.Code)
	}

	router = NewRouter(&RouterDeps{Checks: map[string]Check{
		"queue": func(context.Context) error { return errors.New("redis down") },
	}})
	w := get(t, router, "/healthz")
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), "redis down") {
		t.Fatalf("unhealthy response = %d %s", w.Code, w.Body.String())
	}
}

func TestMetricsAndWSMounted(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("arena_connections 0")) })
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	router := NewRouter(&RouterDeps{Metrics: metrics, WS: ws})

	if w := get(t, router, "/metrics"); !strings.Contains(w.Body.String(), "arena_connections") {
		t.Fatalf("metrics body = %q", w.Body.String())
	}
	if w := get(t, router, "/ws"); w.Code != http.StatusTeapot {
		t.Fatalf("ws status = %d", w.Code)
	}
}

type nopPeer struct{ id, user string }

func (p nopPeer) ID() string        { return p.id }
func (p nopPeer) UserID() string    { return p.user }
func (p nopPeer) Send([]byte) error { return nil }

func TestGetGame_PrefersResidentRoom(t *testing.T) {
	st := store.NewMemory()
	c := coordinator.New(coordinator.Config{}, coordinator.Deps{
		Store: st,
		NewID: func() string { return "live" },
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	p := nopPeer{id: "c1", user: "alice"}
	if err := c.Connect(p); err != nil {
		t.Fatal(err)
	}
	if err := c.Dispatch(p, protocol.MustEncode(protocol.RequestMatch, nil)); err != nil {
		t.Fatal(err)
	}

	router := NewRouter(&RouterDeps{Coordinator: c, Games: st})
	var g domain.Game
	deadline := time.Now().Add(2 * time.Second)
	for {
		w := get(t, router, "/v1/games/live")
		if w.Code == http.StatusOK {
			if err := json.NewDecoder(w.Body).Decode(&g); err != nil {
				t.Fatal(err)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("room never became visible: %d", w.Code)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if g.Status != domain.StatusPending || g.WhiteID != "alice" {
		t.Fatalf("unexpected resident game: %+v", g)
	}

	w := get(t, router, "/healthz")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"coordinator":"ok"`) {
		t.Fatalf("healthz = %d %s", w.Code, w.Body.String())
	}
}
