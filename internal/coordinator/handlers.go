package coordinator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/protocol"
	"github.com/park285/cheese-arena/internal/queue"
	"github.com/park285/cheese-arena/internal/registry"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/internal/session"
	"go.uber.org/zap"
)

func (c *Coordinator) onMessage(p registry.Peer, raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, domain.ErrUnknownMessage) {
			reason = "unknown_type"
		}
		c.rec.RecordMessageDropped(reason)
		obslog.L().Debug("message_dropped",
			zap.String("conn_id", p.ID()),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return
	}

	switch env.Type {
	case protocol.RequestMatch:
		c.onRequestMatch(p)
	case protocol.SubmitMove:
		var in protocol.SubmitMovePayload
		if c.decode(p, env, &in) {
			c.onSubmitMove(p, in)
		}
	case protocol.JoinRoom:
		var in protocol.RoomRef
		if c.decode(p, env, &in) {
			c.onJoinRoom(p, strings.TrimSpace(in.RoomID))
		}
	case protocol.Resign:
		var in protocol.RoomRef
		if c.decode(p, env, &in) {
			c.onResign(p, in.RoomID)
		}
	case protocol.OfferDraw:
		var in protocol.RoomRef
		if c.decode(p, env, &in) {
			c.onOfferDraw(p, in.RoomID)
		}
	case protocol.DrawAccepted:
		var in protocol.RoomRef
		if c.decode(p, env, &in) {
			c.onDrawAccepted(p, in.RoomID)
		}
	default:
		if protocol.IsSignaling(env.Type) {
			var in protocol.SignalPayload
			if c.decode(p, env, &in) {
				c.onSignal(p, env.Type, in)
			}
		}
	}
}

func (c *Coordinator) decode(p registry.Peer, env protocol.Envelope, v any) bool {
	if err := env.Decode(v); err != nil {
		c.rec.RecordMessageDropped("malformed")
		obslog.L().Debug("message_dropped",
			zap.String("conn_id", p.ID()),
			zap.String("type", string(env.Type)),
			zap.Error(err),
		)
		return false
	}
	return true
}

// resident returns the in-memory room, logging the drop when it is unknown.
func (c *Coordinator) resident(p registry.Peer, t protocol.Type, roomID string) *session.Room {
	if r := c.rooms[roomID]; r != nil {
		return r.room
	}
	c.rec.RecordMessageDropped("unknown_room")
	obslog.L().Debug("message_for_unknown_room",
		zap.String("type", string(t)),
		zap.String("room_id", roomID),
		zap.String("conn_id", p.ID()),
	)
	return nil
}

func (c *Coordinator) onRequestMatch(p registry.Peer) {
	now := c.now()
	user := p.UserID()

	if c.pendingID != "" {
		pr := c.rooms[c.pendingID]
		if pr == nil || pr.room.Status() != domain.StatusPending {
			c.pendingID = ""
		} else {
			room := pr.room
			if err := room.AttachSecondPlayer(user, now); err != nil {
				c.alert(p, room.ID(), err)
				return
			}
			c.pendingID = ""
			c.reg.RegisterPlayer(p, room.ID())
			for _, m := range c.reg.Players(room.ID()) {
				color, _ := room.ColorOf(m.UserID)
				c.sendTo(m.ConnID, protocol.Matched, protocol.MatchedPayload{
					RoomID:      room.ID(),
					WhitePlayer: room.WhiteID(),
					BlackPlayer: room.BlackID(),
					Color:       color,
				})
			}
			obslog.L().Info("room_matched",
				zap.String("room_id", room.ID()),
				zap.String("white_id", room.WhiteID()),
				zap.String("black_id", room.BlackID()),
			)
			c.persistAttach(room.ID(), user, now)
			return
		}
	}

	id := c.newID()
	room := session.NewPending(id, user, rules.NewBoard(), c.cfg.Budget, now)
	c.rooms[id] = &resident{room: room}
	c.pendingID = id
	c.reg.RegisterPlayer(p, id)
	c.rec.SetRoomsResident(len(c.rooms))
	c.sendTo(p.ID(), protocol.RoomCreated, protocol.RoomCreatedPayload{RoomID: id})
	obslog.L().Info("room_created", zap.String("room_id", id), zap.String("white_id", user))
	c.persistCreate(domain.NewGame{ID: id, WhiteID: user, CreatedAt: now})
}

func (c *Coordinator) onSubmitMove(p registry.Peer, in protocol.SubmitMovePayload) {
	room := c.resident(p, protocol.SubmitMove, in.RoomID)
	if room == nil {
		return
	}
	mv, res, err := room.ApplyMove(p.UserID(), session.MoveRequest{
		From:      in.Move.From,
		To:        in.Move.To,
		Promotion: in.Move.Promotion,
	}, c.now())
	if err != nil {
		c.rec.RecordMoveRejected(domain.CodeOf(err))
		obslog.L().Debug("move_rejected",
			zap.String("room_id", room.ID()),
			zap.String("user_id", p.UserID()),
			zap.String("from", in.Move.From),
			zap.String("to", in.Move.To),
			zap.String("kind", string(domain.KindOf(err))),
			zap.Error(err),
		)
		c.alert(p, room.ID(), err)
		if res != nil {
			c.finish(room, res)
		}
		return
	}

	c.rec.RecordMoveAccepted()
	snap := room.Snapshot()
	c.reg.Broadcast(room.ID(), protocol.MustEncode(protocol.MoveMade, protocol.MovePayload{
		RoomID:            room.ID(),
		Move:              mv,
		WhiteTimeConsumed: snap.WhiteConsumedMs,
		BlackTimeConsumed: snap.BlackConsumedMs,
	}))
	c.publish(queue.MoveJob(room.ID(), mv))
	obslog.L().Debug("move_applied",
		zap.String("room_id", room.ID()),
		zap.Int("move_number", mv.Number),
		zap.String("san", mv.SAN),
	)
	if res != nil {
		c.finish(room, res)
	}
}

func (c *Coordinator) onResign(p registry.Peer, roomID string) {
	room := c.resident(p, protocol.Resign, roomID)
	if room == nil {
		return
	}
	res, err := room.Resign(p.UserID(), c.now())
	if err != nil {
		c.alert(p, roomID, err)
		return
	}
	c.finish(room, res)
}

// onOfferDraw relays the offer to the room's players as is.
func (c *Coordinator) onOfferDraw(p registry.Peer, roomID string) {
	room := c.resident(p, protocol.OfferDraw, roomID)
	if room == nil {
		return
	}
	color, _ := room.ColorOf(p.UserID())
	c.reg.BroadcastToPlayers(roomID, protocol.MustEncode(protocol.OfferDraw, protocol.OfferDrawPayload{
		RoomID: roomID,
		From:   color,
		UserID: p.UserID(),
	}))
}

func (c *Coordinator) onDrawAccepted(p registry.Peer, roomID string) {
	room := c.resident(p, protocol.DrawAccepted, roomID)
	if room == nil {
		return
	}
	res, err := room.AcceptDraw(c.now())
	if err != nil {
		c.alert(p, roomID, err)
		return
	}
	c.finish(room, res)
}

// onSignal relays call-setup frames between connections of one room.
func (c *Coordinator) onSignal(p registry.Peer, t protocol.Type, in protocol.SignalPayload) {
	from, ok := c.reg.Lookup(p.ID())
	if !ok || from.RoomID != in.RoomID {
		c.rec.RecordMessageDropped("signal_outside_room")
		obslog.L().Debug("signal_dropped",
			zap.String("type", string(t)),
			zap.String("conn_id", p.ID()),
			zap.String("room_id", in.RoomID),
		)
		return
	}
	in.From = p.ID()
	msg := protocol.MustEncode(t, in)
	if in.To == "" {
		c.reg.BroadcastToOtherPlayers(in.RoomID, p.ID(), msg)
		return
	}
	if to, ok := c.reg.Lookup(in.To); !ok || to.RoomID != in.RoomID {
		c.rec.RecordMessageDropped("signal_target_unknown")
		obslog.L().Debug("signal_target_unknown", zap.String("type", string(t)), zap.String("to", in.To))
		return
	}
	if err := c.reg.SendTo(in.To, msg); err != nil {
		obslog.L().Warn("signal_send_failed", zap.String("to", in.To), zap.Error(err))
	}
}

// finish announces a terminal result and schedules its persistence.
func (c *Coordinator) finish(room *session.Room, res *domain.Result) {
	id := room.ID()
	if res.Cause == domain.CauseTimeout {
		if w := res.Winner(); w != "" {
			c.reg.Broadcast(id, protocol.MustEncode(protocol.PlayerTimeout, protocol.PlayerTimeoutPayload{
				RoomID: id,
				Color:  w.Opponent(),
			}))
		}
	}
	c.reg.Broadcast(id, protocol.MustEncode(protocol.GameOver, protocol.GameOverPayload{
		RoomID: id,
		Result: res.Outcome,
		By:     res.Cause,
		Text:   c.cat.ResultText(*res),
	}))
	c.publish(queue.FinalizeJob(id, *res))
	c.rec.RecordGameFinished(string(res.Cause))
	obslog.L().Info("game_finished",
		zap.String("room_id", id),
		zap.String("outcome", string(res.Outcome)),
		zap.String("cause", string(res.Cause)),
		zap.Int64("white_consumed_ms", res.WhiteConsumedMs),
		zap.Int64("black_consumed_ms", res.BlackConsumedMs),
	)
}

func (c *Coordinator) publish(j queue.Job) {
	if c.pub == nil {
		return
	}
	c.pub.Publish(j)
}

func (c *Coordinator) alert(p registry.Peer, roomID string, err error) {
	code := domain.CodeOf(err)
	fallback := err.Error()
	var de *domain.Error
	if errors.As(err, &de) && de.Message != "" {
		fallback = de.Message
	}
	c.sendTo(p.ID(), protocol.RoomAlert, protocol.AlertPayload{
		RoomID:  roomID,
		Code:    code,
		Message: c.cat.Alert(code, map[string]any{"RoomID": roomID}, fallback),
	})
}

// sendTo writes to a connection whether or not it is registered in a room.
func (c *Coordinator) sendTo(connID string, t protocol.Type, payload any) {
	msg := protocol.MustEncode(t, payload)
	err := c.reg.SendTo(connID, msg)
	if err == nil {
		return
	}
	if !errors.Is(err, registry.ErrUnknownConn) {
		obslog.L().Warn("send_failed", zap.String("conn_id", connID), zap.String("type", string(t)), zap.Error(err))
		return
	}
	p := c.conns[connID]
	if p == nil {
		obslog.L().Debug("send_to_unknown_conn", zap.String("conn_id", connID), zap.String("type", string(t)))
		return
	}
	if err := p.Send(msg); err != nil {
		obslog.L().Warn("send_failed", zap.String("conn_id", connID), zap.String("type", string(t)), zap.Error(err))
	}
}

func (c *Coordinator) persistCreate(g domain.NewGame) {
	if c.store == nil {
		return
	}
	c.async(func(ctx context.Context) {
		if _, err := c.store.CreateGame(ctx, g); err != nil {
			obslog.L().Error("game_create_failed", zap.String("room_id", g.ID), zap.Error(domain.ErrPersistence.Wrap(err)))
		}
	})
}

func (c *Coordinator) persistAttach(id, userID string, at time.Time) {
	if c.store == nil {
		return
	}
	c.async(func(ctx context.Context) {
		if err := c.store.AttachSecondPlayer(ctx, id, userID, at); err != nil {
			obslog.L().Error("game_attach_failed",
				zap.String("room_id", id),
				zap.String("user_id", userID),
				zap.Error(domain.ErrPersistence.Wrap(err)),
			)
		}
	})
}
