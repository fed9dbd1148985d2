// Package protocol defines the {type, payload} envelope exchanged over room connections.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/park285/cheese-arena/internal/domain"
)

type Type string

const (
	RequestMatch  Type = "REQUEST_MATCH"
	RoomCreated   Type = "ROOM_CREATED"
	Matched       Type = "MATCHED"
	SubmitMove    Type = "SUBMIT_MOVE"
	MoveMade      Type = "MOVE"
	JoinRoom      Type = "JOIN_ROOM"
	RoomJoined    Type = "ROOM_JOINED"
	RoomNotFound  Type = "ROOM_NOT_FOUND"
	RoomAlert     Type = "ROOM_ALERT"
	GameOver      Type = "GAME_OVER"
	Resign        Type = "RESIGN"
	OfferDraw     Type = "OFFER_DRAW"
	DrawAccepted  Type = "DRAW_ACCEPTED"
	PlayerTimeout Type = "PLAYER_TIMEOUT"

	CallRequest   Type = "CALL_REQUEST"
	CallAnswer    Type = "CALL_ANSWER"
	Offer         Type = "OFFER"
	Answer        Type = "ANSWER"
	IceCandidate  Type = "ICE_CANDIDATE"
	TerminateCall Type = "TERMINATE_CALL"
)

var inbound = map[Type]bool{
	RequestMatch:  true,
	SubmitMove:    true,
	JoinRoom:      true,
	Resign:        true,
	OfferDraw:     true,
	DrawAccepted:  true,
	CallRequest:   true,
	CallAnswer:    true,
	Offer:         true,
	Answer:        true,
	IceCandidate:  true,
	TerminateCall: true,
}

// IsSignaling reports whether t is relayed verbatim between peers.
func IsSignaling(t Type) bool {
	switch t {
	case CallRequest, CallAnswer, Offer, Answer, IceCandidate, TerminateCall:
		return true
	}
	return false
}

// Envelope is the frame on the wire.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound payloads.

type RoomRef struct {
	RoomID string `json:"roomId"`
}

type MoveInput struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

type SubmitMovePayload struct {
	RoomID string    `json:"roomId"`
	Move   MoveInput `json:"move"`
}

type SignalPayload struct {
	RoomID string          `json:"roomId"`
	To     string          `json:"to,omitempty"`
	From   string          `json:"from,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Outbound payloads.

type RoomCreatedPayload struct {
	RoomID string `json:"roomId"`
}

type MatchedPayload struct {
	RoomID      string       `json:"roomId"`
	WhitePlayer string       `json:"whitePlayer"`
	BlackPlayer string       `json:"blackPlayer"`
	Color       domain.Color `json:"color"`
}

type MovePayload struct {
	RoomID            string      `json:"roomId"`
	Move              domain.Move `json:"move"`
	WhiteTimeConsumed int64       `json:"whiteTimeConsumed"`
	BlackTimeConsumed int64       `json:"blackTimeConsumed"`
}

type Clocks struct {
	WhiteConsumedMs int64 `json:"whiteConsumedMs"`
	BlackConsumedMs int64 `json:"blackConsumedMs"`
	BudgetMs        int64 `json:"budgetMs"`
}

type RoomJoinedPayload struct {
	RoomID      string         `json:"roomId"`
	WhitePlayer string         `json:"whitePlayer"`
	BlackPlayer string         `json:"blackPlayer,omitempty"`
	Status      domain.Status  `json:"status"`
	Moves       []domain.Move  `json:"moves"`
	FEN         string         `json:"fen"`
	Turn        domain.Color   `json:"turn"`
	Clocks      Clocks         `json:"clocks"`
	Result      *domain.Result `json:"result,omitempty"`
	Role        string         `json:"role"`
}

type AlertPayload struct {
	RoomID  string `json:"roomId,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type GameOverPayload struct {
	RoomID string         `json:"roomId"`
	Result domain.Outcome `json:"result"`
	By     domain.Cause   `json:"by"`
	Text   string         `json:"text,omitempty"`
}

type OfferDrawPayload struct {
	RoomID string       `json:"roomId"`
	From   domain.Color `json:"from,omitempty"`
	UserID string       `json:"userId"`
}

type PlayerTimeoutPayload struct {
	RoomID string       `json:"roomId"`
	Color  domain.Color `json:"color"`
}

// Decode parses a raw frame. Unknown or outbound-only types yield ErrUnknownMessage.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, domain.ErrMalformed.Wrap(err)
	}
	env.Type = Type(strings.ToUpper(strings.TrimSpace(string(env.Type))))
	if env.Type == "" {
		return Envelope{}, domain.ErrMalformed.Wrap(fmt.Errorf("missing type"))
	}
	if !inbound[env.Type] {
		return env, domain.ErrUnknownMessage.Wrap(fmt.Errorf("type %q", env.Type))
	}
	return env, nil
}

// Decode unmarshals env's payload into v. An absent payload decodes as {}.
func (env Envelope) Decode(v any) error {
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return domain.ErrMalformed.Wrap(fmt.Errorf("%s payload: %w", env.Type, err))
	}
	return nil
}

// Encode builds a frame from a type and payload.
func Encode(t Type, payload any) ([]byte, error) {
	env := Envelope{Type: t}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", t, err)
		}
		env.Payload = b
	}
	return json.Marshal(env)
}

// MustEncode is Encode for payloads that cannot fail to marshal.
func MustEncode(t Type, payload any) []byte {
	b, err := Encode(t, payload)
	if err != nil {
		panic(err)
	}
	return b
}
