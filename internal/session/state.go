package session

import (
	"errors"
	"time"

	"github.com/danmuck/groundctl/internal/link"
)

// Phase is the connection lifecycle position.
type Phase int

const (
	Disconnected Phase = iota
	Connecting
	Connected
	HeartbeatVerified
	Failed
)

func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case HeartbeatVerified:
		return "heartbeat_verified"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	ErrNotConnected    = errors.New("session: not connected")
	ErrProtocolTimeout = errors.New("session: protocol timeout")
	ErrClosed          = errors.New("session: closed")
)

// State is one published connection state.
type State struct {
	Phase     Phase
	Err       error
	Transport link.Kind
	Target    string
	// SystemID and ComponentID of the remote, known once verified.
	SystemID    uint8
	ComponentID uint8
	Since       time.Time
}

// Active reports whether frames can be sent.
func (s State) Active() bool {
	return s.Phase == Connected || s.Phase == HeartbeatVerified
}

func (s State) Reason() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}
