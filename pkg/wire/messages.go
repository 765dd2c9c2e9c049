package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/park285/boardroom/pkg/board"
)

var ErrMalformed = errors.New("malformed message")

type Type string

const (
	TypeJoin    Type = "join"
	TypeLeave   Type = "leave"
	TypeMove    Type = "move"
	TypeSetTime Type = "setTime"
	TypeReset   Type = "reset"

	TypeSeats Type = "seats"
	TypeState Type = "state"
)

// Intent reports whether t is sent by clients.
func (t Type) Intent() bool {
	switch t {
	case TypeJoin, TypeLeave, TypeMove, TypeSetTime, TypeReset:
		return true
	}
	return false
}

// Event reports whether t is sent by the server.
func (t Type) Event() bool { return t == TypeSeats || t == TypeState }

// Message is the single frame shape; Type selects which fields are meaningful.
type Message struct {
	Type Type `json:"type"`

	Side     board.Side   `json:"side,omitempty"`
	PlayerID string       `json:"playerId,omitempty"`
	Name     string       `json:"name,omitempty"`
	From     board.Square `json:"from,omitempty"`
	To       board.Square `json:"to,omitempty"`

	BaseSeconds      *int `json:"baseSeconds,omitempty"`
	IncrementSeconds *int `json:"incrementSeconds,omitempty"`

	Seats *Seats     `json:"seats,omitempty"`
	Seq   int64      `json:"seq,omitempty"`
	State *GameState `json:"state,omitempty"`
}

func NewJoin(side board.Side, playerID, name string) Message {
	return Message{Type: TypeJoin, Side: side, PlayerID: playerID, Name: name}
}

func NewLeave(side board.Side) Message { return Message{Type: TypeLeave, Side: side} }

func NewMove(from, to board.Square) Message { return Message{Type: TypeMove, From: from, To: to} }

func NewSetTime(baseSeconds, incrementSeconds int) Message {
	return Message{Type: TypeSetTime, BaseSeconds: &baseSeconds, IncrementSeconds: &incrementSeconds}
}

func NewReset() Message { return Message{Type: TypeReset} }

func NewSeats(seats Seats, seq int64) Message {
	s := seats.Clone()
	return Message{Type: TypeSeats, Seats: &s, Seq: seq}
}

func NewState(st *GameState) Message { return Message{Type: TypeState, State: st} }

// Encode marshals m as one frame.
func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type, err)
	}
	return b, nil
}

// Decode parses and validates one frame. Any failure wraps ErrMalformed.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	m.Type = Type(strings.TrimSpace(string(m.Type)))
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Validate checks the fields required by the message type.
func (m Message) Validate() error {
	switch m.Type {
	case TypeJoin, TypeLeave:
		if !m.Side.Valid() {
			return fmt.Errorf("%w: %s: bad side %q", ErrMalformed, m.Type, m.Side)
		}
	case TypeMove:
		if !m.From.Valid() || !m.To.Valid() {
			return fmt.Errorf("%w: move: bad squares %q-%q", ErrMalformed, m.From, m.To)
		}
	case TypeSetTime:
		if m.BaseSeconds == nil {
			return fmt.Errorf("%w: setTime: baseSeconds required", ErrMalformed)
		}
	case TypeReset:
	case TypeSeats:
		if m.Seats == nil {
			return fmt.Errorf("%w: seats: payload missing", ErrMalformed)
		}
	case TypeState:
		if m.State == nil {
			return fmt.Errorf("%w: state: payload missing", ErrMalformed)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformed, m.Type)
	}
	return nil
}

// Increment returns IncrementSeconds or zero when omitted.
func (m Message) Increment() int {
	if m.IncrementSeconds == nil {
		return 0
	}
	return *m.IncrementSeconds
}
