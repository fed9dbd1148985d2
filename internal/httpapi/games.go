package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/park285/cheese-arena/internal/coordinator"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/obslog"
	"go.uber.org/zap"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type gameList struct {
	Games []gameSummary `json:"games"`
}

type gameSummary struct {
	ID        string        `json:"id"`
	WhiteID   string        `json:"whiteId"`
	BlackID   string        `json:"blackId,omitempty"`
	Status    domain.Status `json:"status"`
	CreatedAt string        `json:"createdAt"`
}

type gameHandler struct {
	games GameReader
}

// List returns in-progress games, newest first, without move logs.
func (h *gameHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.games == nil {
		writeJSON(w, http.StatusOK, gameList{Games: []gameSummary{}})
		return
	}
	games, err := h.games.ListInProgress(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := gameList{Games: make([]gameSummary, 0, len(games))}
	for _, g := range games {
		out.Games = append(out.Games, gameSummary{
			ID:        g.ID,
			WhiteID:   g.WhiteID,
			BlackID:   g.BlackID,
			Status:    g.Status,
			CreatedAt: g.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// Get returns one game with its moves.
func (h *gameHandler) Get(w http.ResponseWriter, r *http.Request) {
	g, err := h.load(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// PGN renders one game as PGN text.
func (h *gameHandler) PGN(w http.ResponseWriter, r *http.Request) {
	g, err := h.load(r)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-chess-pgn")
	_, _ = w.Write([]byte(buildPGN(g)))
}

// load prefers the resident room, which is ahead of the store while writes drain.
func (h *gameHandler) load(r *http.Request) (*domain.Game, error) {
	id := chi.URLParam(r, "id")
	if c, ok := coordinator.FromContext(r.Context()); ok {
		snap, found, err := c.Snapshot(r.Context(), id)
		if err == nil && found {
			g := snap.Game()
			return &g, nil
		}
	}
	if h.games == nil {
		return nil, domain.ErrGameNotFound
	}
	return h.games.LoadGame(r.Context(), id)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrGameNotFound) {
		writeJSON(w, http.StatusNotFound, apiError{Code: domain.ErrGameNotFound.Code, Message: "game not found"})
		return
	}
	obslog.L().Error("http_store_error", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, apiError{Code: "INTERNAL", Message: "internal error"})
}
