package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/park285/cheese-arena/internal/domain"
)

func TestDecode(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Type
		err  error
	}{
		{"request match", `{"type":"REQUEST_MATCH"}`, RequestMatch, nil},
		{"lowercase type", `{"type":"join_room","payload":{"roomId":"r1"}}`, JoinRoom, nil},
		{"signaling", `{"type":"ICE_CANDIDATE","payload":{"roomId":"r1","data":{"c":1}}}`, IceCandidate, nil},
		{"not json", `{"type":`, "", domain.ErrMalformed},
		{"missing type", `{"payload":{}}`, "", domain.ErrMalformed},
		{"unknown", `{"type":"HELLO"}`, "", domain.ErrUnknownMessage},
		{"outbound only", `{"type":"MATCHED"}`, "", domain.ErrUnknownMessage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env, err := Decode([]byte(tc.raw))
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("expected %v, got %v", tc.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if env.Type != tc.want {
				t.Fatalf("type = %s, want %s", env.Type, tc.want)
			}
		})
	}
}

func TestEnvelopeDecodePayload(t *testing.T) {
	env, err := Decode([]byte(`{"type":"SUBMIT_MOVE","payload":{"roomId":"r1","move":{"from":"e7","to":"e8","promotion":"q"}}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	var p SubmitMovePayload
	if err := env.Decode(&p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.RoomID != "r1" || p.Move.From != "e7" || p.Move.To != "e8" || p.Move.Promotion != "q" {
		t.Fatalf("unexpected payload: %+v", p)
	}

	bad := Envelope{Type: SubmitMove, Payload: json.RawMessage(`[1,2]`)}
	if err := bad.Decode(&p); !errors.Is(err, domain.ErrMalformed) {
		t.Fatalf("expected malformed, got %v", err)
	}

	var ref RoomRef
	if err := (Envelope{Type: RequestMatch}).Decode(&ref); err != nil {
		t.Fatalf("empty payload should decode: %v", err)
	}
}

func TestEncode(t *testing.T) {
	b, err := Encode(RoomCreated, RoomCreatedPayload{RoomID: "r1"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(b) != `{"type":"ROOM_CREATED","payload":{"roomId":"r1"}}` {
		t.Fatalf("unexpected frame: %s", b)
	}
	if !IsSignaling(Offer) || IsSignaling(SubmitMove) {
		t.Fatalf("IsSignaling misclassified")
	}
}
