package client

// Phase is the connection lifecycle of one board session.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseSpectating
	PhaseSeated
)

func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseSpectating:
		return "spectating"
	case PhaseSeated:
		return "seated"
	default:
		return "disconnected"
	}
}

// Mode is the interaction state.
type Mode int

const (
	ModeIdle Mode = iota
	ModePieceSelected
	ModeForcedContinuation
)

func (m Mode) String() string {
	switch m {
	case ModePieceSelected:
		return "piece-selected"
	case ModeForcedContinuation:
		return "forced-continuation"
	default:
		return "idle"
	}
}
