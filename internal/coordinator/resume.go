package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/protocol"
	"github.com/park285/cheese-arena/internal/registry"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/internal/session"
	"go.uber.org/zap"
)

func (c *Coordinator) onJoinRoom(p registry.Peer, roomID string) {
	if roomID == "" {
		c.notFound(p, roomID)
		return
	}
	if r := c.rooms[roomID]; r != nil {
		c.attach(p, r.room)
		return
	}
	if c.store == nil {
		c.notFound(p, roomID)
		return
	}
	if ws, loading := c.loads[roomID]; loading {
		c.loads[roomID] = append(ws, p)
		return
	}
	c.loads[roomID] = []registry.Peer{p}
	obslog.L().Debug("room_load_started", zap.String("room_id", roomID))
	c.async(func(ctx context.Context) {
		g, err := c.store.LoadGame(ctx, roomID)
		_ = c.post(loadedEvent{roomID: roomID, game: g, err: err})
	})
}

func (c *Coordinator) onLoaded(e loadedEvent) {
	waiters := c.loads[e.roomID]
	delete(c.loads, e.roomID)

	if e.err != nil {
		if errors.Is(e.err, domain.ErrGameNotFound) {
			for _, p := range waiters {
				c.notFound(p, e.roomID)
			}
			return
		}
		obslog.L().Error("room_load_failed", zap.String("room_id", e.roomID), zap.Error(e.err))
		for _, p := range waiters {
			c.alert(p, e.roomID, domain.ErrPersistence.Wrap(e.err))
		}
		return
	}

	r := c.rooms[e.roomID]
	if r == nil {
		room, err := c.restore(e.game)
		if err != nil {
			obslog.L().Error("room_restore_failed", zap.String("room_id", e.roomID), zap.Error(err))
			for _, p := range waiters {
				c.alert(p, e.roomID, domain.ErrPersistence.Wrap(err))
			}
			return
		}
		r = &resident{room: room}
		c.rooms[e.roomID] = r
		c.rec.SetRoomsResident(len(c.rooms))
		obslog.L().Info("room_restored",
			zap.String("room_id", e.roomID),
			zap.String("status", string(room.Status())),
			zap.Int("moves", len(e.game.Moves)),
		)
	}
	for _, p := range waiters {
		c.attach(p, r.room)
	}
}

// restore rebuilds a room by replaying its persisted move log.
func (c *Coordinator) restore(g *domain.Game) (*session.Room, error) {
	board, err := rules.Replay(g.Moves)
	if err != nil {
		return nil, err
	}
	room := session.Restore(g, board, c.cfg.Budget, c.now())
	if err := room.Validate(); err != nil {
		return nil, err
	}
	return room, nil
}

// attach registers p in room, as a player when its user holds a seat, and sends the snapshot.
func (c *Coordinator) attach(p registry.Peer, room *session.Room) {
	role := registry.RoleSpectator
	if _, ok := room.ColorOf(p.UserID()); ok {
		role = registry.RolePlayer
		c.reg.RegisterPlayer(p, room.ID())
	} else {
		c.reg.RegisterSpectator(p, room.ID())
	}
	if r := c.rooms[room.ID()]; r != nil {
		r.idleSince = time.Time{}
	}

	s := room.Snapshot()
	moves := s.Moves
	if moves == nil {
		moves = []domain.Move{}
	}
	c.sendTo(p.ID(), protocol.RoomJoined, protocol.RoomJoinedPayload{
		RoomID:      s.ID,
		WhitePlayer: s.WhiteID,
		BlackPlayer: s.BlackID,
		Status:      s.Status,
		Moves:       moves,
		FEN:         s.FEN,
		Turn:        s.Turn,
		Clocks: protocol.Clocks{
			WhiteConsumedMs: s.WhiteConsumedMs,
			BlackConsumedMs: s.BlackConsumedMs,
			BudgetMs:        s.BudgetMs,
		},
		Result: s.Result,
		Role:   string(role),
	})
	obslog.L().Debug("room_joined",
		zap.String("room_id", s.ID),
		zap.String("conn_id", p.ID()),
		zap.String("role", string(role)),
	)
}

func (c *Coordinator) notFound(p registry.Peer, roomID string) {
	c.sendTo(p.ID(), protocol.RoomNotFound, protocol.AlertPayload{
		RoomID:  roomID,
		Code:    domain.ErrGameNotFound.Code,
		Message: c.cat.Alert(domain.ErrGameNotFound.Code, map[string]any{"RoomID": roomID}, "room not found"),
	})
}
