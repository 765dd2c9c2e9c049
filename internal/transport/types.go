// Package transport is the client side of the board WebSocket: one
// connection per board session with ping and bounded reconnect.
package transport

import (
	"context"
	"errors"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

var (
	ErrNotConnected = errors.New("transport not connected")
	ErrClosed       = errors.New("transport closed")
)

// MessageCallback receives each text frame as read off the wire.
type MessageCallback func(data []byte)

type StateCallback func(state State)

// HeaderProvider injects headers at handshake.
type HeaderProvider func() map[string]string

// Client is what a board session needs from a connection.
type Client interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, data []byte) error
	OnMessage(cb MessageCallback) int
	RemoveMessageCallback(id int)
	OnStateChange(cb StateCallback) int
	RemoveStateCallback(id int)
	State() State
	Close(ctx context.Context) error
}
