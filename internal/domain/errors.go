package domain

import "errors"

// Kind groups errors by how they are surfaced.
type Kind string

const (
	KindProtocol    Kind = "protocol"
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindTerminal    Kind = "terminal"
	KindPersistence Kind = "persistence"
)

// Error is a coded domain error. Two errors match under errors.Is when their codes match.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if msg == "" {
		msg = "arena error"
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Cause = cause
	return &cp
}

var (
	ErrMalformed      = &Error{Kind: KindProtocol, Code: "MALFORMED", Message: "malformed message"}
	ErrUnknownMessage = &Error{Kind: KindProtocol, Code: "UNKNOWN_MESSAGE", Message: "unknown message type"}

	ErrIllegalMove    = &Error{Kind: KindValidation, Code: "ILLEGAL_MOVE", Message: "illegal move"}
	ErrWrongTurn      = &Error{Kind: KindValidation, Code: "WRONG_TURN", Message: "not your turn"}
	ErrSelfMatch      = &Error{Kind: KindValidation, Code: "SELF_MATCH", Message: "cannot match with yourself"}
	ErrNotParticipant = &Error{Kind: KindValidation, Code: "NOT_PARTICIPANT", Message: "user is not a player in this room"}
	ErrNotStarted     = &Error{Kind: KindValidation, Code: "NOT_STARTED", Message: "game has not started"}
	ErrNotPending     = &Error{Kind: KindValidation, Code: "NOT_PENDING", Message: "room is not waiting for an opponent"}

	ErrGameNotFound = &Error{Kind: KindNotFound, Code: "NOT_FOUND", Message: "game not found"}

	ErrGameOver    = &Error{Kind: KindTerminal, Code: "GAME_OVER", Message: "game is over"}
	ErrTimeExpired = &Error{Kind: KindTerminal, Code: "TIME_EXPIRED", Message: "clock budget exhausted"}

	ErrPersistence = &Error{Kind: KindPersistence, Code: "PERSISTENCE", Message: "durable write failed"}
)

// KindOf returns the kind of the first domain error in err's chain.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// CodeOf returns the code of the first domain error in err's chain.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
