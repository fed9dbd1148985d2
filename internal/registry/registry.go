// Package registry tracks which connections are attached to which room.
//
// A Registry is owned by a single goroutine (the coordinator loop) and is not
// safe for concurrent use.
package registry

import (
	"errors"

	"github.com/park285/cheese-arena/internal/obslog"
	"go.uber.org/zap"
)

var ErrUnknownConn = errors.New("registry: unknown connection")

// Role tags a member as player or spectator.
type Role string

const (
	RolePlayer    Role = "player"
	RoleSpectator Role = "spectator"
)

// Peer is one live connection.
type Peer interface {
	ID() string
	UserID() string
	Send(msg []byte) error
}

// Member is a registered connection.
type Member struct {
	ConnID string
	UserID string
	RoomID string
	Role   Role
}

type roomSets struct {
	players    []Peer
	spectators []Peer
}

type entry struct {
	peer   Peer
	member Member
}

type Registry struct {
	rooms   map[string]*roomSets
	conns   map[string]entry
	players map[string]string // userID -> roomID
}

func New() *Registry {
	return &Registry{
		rooms:   make(map[string]*roomSets),
		conns:   make(map[string]entry),
		players: make(map[string]string),
	}
}

// RegisterPlayer attaches p to roomID as a player. A user holds at most one
// player set: their player connections in any previous room are detached.
func (r *Registry) RegisterPlayer(p Peer, roomID string) {
	if prev, ok := r.players[p.UserID()]; ok && prev != roomID {
		r.evictUser(p.UserID(), prev)
	}
	r.register(p, roomID, RolePlayer)
	r.players[p.UserID()] = roomID
}

// RegisterSpectator attaches p to roomID as a spectator.
func (r *Registry) RegisterSpectator(p Peer, roomID string) {
	r.register(p, roomID, RoleSpectator)
}

func (r *Registry) register(p Peer, roomID string, role Role) {
	if e, ok := r.conns[p.ID()]; ok {
		if e.member.RoomID == roomID && e.member.Role == role {
			return
		}
		r.remove(p.ID())
	}
	rs := r.rooms[roomID]
	if rs == nil {
		rs = &roomSets{}
		r.rooms[roomID] = rs
	}
	if role == RolePlayer {
		rs.players = append(rs.players, p)
	} else {
		rs.spectators = append(rs.spectators, p)
	}
	r.conns[p.ID()] = entry{peer: p, member: Member{ConnID: p.ID(), UserID: p.UserID(), RoomID: roomID, Role: role}}
}

func (r *Registry) evictUser(userID, roomID string) {
	rs := r.rooms[roomID]
	if rs == nil {
		delete(r.players, userID)
		return
	}
	var ids []string
	for _, p := range rs.players {
		if p.UserID() == userID {
			ids = append(ids, p.ID())
		}
	}
	for _, id := range ids {
		r.remove(id)
	}
	obslog.L().Info("registry_player_moved",
		zap.String("user_id", userID),
		zap.String("from_room", roomID),
		zap.Int("evicted", len(ids)),
	)
}

// Unregister detaches a connection whatever its role.
func (r *Registry) Unregister(p Peer) (Member, bool) {
	return r.remove(p.ID())
}

// UnregisterPlayer detaches p only if it is registered as a player.
func (r *Registry) UnregisterPlayer(p Peer) (Member, bool) {
	if e, ok := r.conns[p.ID()]; !ok || e.member.Role != RolePlayer {
		return Member{}, false
	}
	return r.remove(p.ID())
}

// UnregisterSpectator detaches p only if it is registered as a spectator.
func (r *Registry) UnregisterSpectator(p Peer) (Member, bool) {
	if e, ok := r.conns[p.ID()]; !ok || e.member.Role != RoleSpectator {
		return Member{}, false
	}
	return r.remove(p.ID())
}

func (r *Registry) remove(connID string) (Member, bool) {
	e, ok := r.conns[connID]
	if !ok {
		return Member{}, false
	}
	delete(r.conns, connID)
	m := e.member

	rs := r.rooms[m.RoomID]
	if rs != nil {
		if m.Role == RolePlayer {
			rs.players = without(rs.players, connID)
		} else {
			rs.spectators = without(rs.spectators, connID)
		}
	}
	if m.Role == RolePlayer && r.players[m.UserID] == m.RoomID {
		still := false
		if rs != nil {
			for _, p := range rs.players {
				if p.UserID() == m.UserID {
					still = true
					break
				}
			}
		}
		if !still {
			delete(r.players, m.UserID)
		}
	}
	if rs != nil && len(rs.players) == 0 && len(rs.spectators) == 0 {
		delete(r.rooms, m.RoomID)
	}
	return m, true
}

func without(set []Peer, connID string) []Peer {
	for i, p := range set {
		if p.ID() == connID {
			return append(set[:i:i], set[i+1:]...)
		}
	}
	return set
}

// Lookup returns the membership of a connection.
func (r *Registry) Lookup(connID string) (Member, bool) {
	e, ok := r.conns[connID]
	return e.member, ok
}

// PlayerRoom returns the room whose player set holds userID.
func (r *Registry) PlayerRoom(userID string) (string, bool) {
	id, ok := r.players[userID]
	return id, ok
}

// Counts returns the number of player and spectator connections in roomID.
func (r *Registry) Counts(roomID string) (players, spectators int) {
	rs := r.rooms[roomID]
	if rs == nil {
		return 0, 0
	}
	return len(rs.players), len(rs.spectators)
}

// Players returns the player memberships of roomID in registration order.
func (r *Registry) Players(roomID string) []Member {
	rs := r.rooms[roomID]
	if rs == nil {
		return nil
	}
	out := make([]Member, 0, len(rs.players))
	for _, p := range rs.players {
		out = append(out, r.conns[p.ID()].member)
	}
	return out
}

// Rooms returns the number of rooms with at least one connection.
func (r *Registry) Rooms() int { return len(r.rooms) }

// Conns returns the number of registered connections.
func (r *Registry) Conns() int { return len(r.conns) }

func (r *Registry) BroadcastToPlayers(roomID string, msg []byte) {
	rs := r.rooms[roomID]
	if rs == nil || len(rs.players) == 0 {
		obslog.L().Debug("broadcast_no_players", zap.String("room_id", roomID))
		return
	}
	sendAll(roomID, rs.players, "", msg)
}

func (r *Registry) BroadcastToSpectators(roomID string, msg []byte) {
	rs := r.rooms[roomID]
	if rs == nil || len(rs.spectators) == 0 {
		obslog.L().Debug("broadcast_no_spectators", zap.String("room_id", roomID))
		return
	}
	sendAll(roomID, rs.spectators, "", msg)
}

// Broadcast sends msg to players then spectators.
func (r *Registry) Broadcast(roomID string, msg []byte) {
	r.BroadcastToPlayers(roomID, msg)
	r.BroadcastToSpectators(roomID, msg)
}

// BroadcastToOtherPlayers sends msg to every player connection except exceptConnID.
func (r *Registry) BroadcastToOtherPlayers(roomID, exceptConnID string, msg []byte) {
	rs := r.rooms[roomID]
	if rs == nil {
		obslog.L().Debug("broadcast_no_players", zap.String("room_id", roomID))
		return
	}
	sendAll(roomID, rs.players, exceptConnID, msg)
}

// SendTo delivers msg to a single registered connection.
func (r *Registry) SendTo(connID string, msg []byte) error {
	e, ok := r.conns[connID]
	if !ok {
		return ErrUnknownConn
	}
	return e.peer.Send(msg)
}

func sendAll(roomID string, set []Peer, except string, msg []byte) {
	for _, p := range set {
		if p.ID() == except {
			continue
		}
		if err := p.Send(msg); err != nil {
			obslog.L().Warn("broadcast_send_failed",
				zap.String("room_id", roomID),
				zap.String("conn_id", p.ID()),
				zap.Error(err),
			)
		}
	}
}
