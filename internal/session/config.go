package session

import (
	"time"

	"github.com/danmuck/groundctl/internal/protocol/frame"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines identity, signing and liveness settings for a session.
type Config struct {
	// SystemID and ComponentID stamp every outbound frame.
	SystemID    uint8
	ComponentID uint8
	SigningMode frame.SigningMode

	ConnectTimeout time.Duration
	// HeartbeatInterval paces our own heartbeat; zero disables it.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout fails the session after that long without a remote
	// heartbeat; zero disables the watchdog.
	HeartbeatTimeout time.Duration

	StateBuffer int
	FrameBuffer int
}

// DefaultConfig returns ground station defaults.
func DefaultConfig() Config {
	return Config{
		SystemID:          255,
		ComponentID:       190,
		SigningMode:       frame.UnsignedV2,
		ConnectTimeout:    10 * time.Second,
		HeartbeatInterval: time.Second,
		HeartbeatTimeout:  5 * time.Second,
		StateBuffer:       16,
		FrameBuffer:       1024,
	}
}

// WithDefaults fills zero identity and buffer fields. Zero durations are
// left alone since they disable the matching task.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.SystemID == 0 {
		c.SystemID = def.SystemID
	}
	if c.ComponentID == 0 {
		c.ComponentID = def.ComponentID
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.StateBuffer <= 0 {
		c.StateBuffer = def.StateBuffer
	}
	if c.FrameBuffer <= 0 {
		c.FrameBuffer = def.FrameBuffer
	}
	return c
}
