package params

import (
	"time"

	"github.com/danmuck/groundctl/internal/session"
)

// Config tunes loading and writing.
type Config struct {
	// QuiescenceTimeout is the silence after which missing slots are
	// re-requested.
	QuiescenceTimeout time.Duration
	// SettleWindow is the silence after the last slot before a load is
	// declared complete.
	SettleWindow time.Duration
	// MaxRetries bounds re-requests per slot, and list re-sends when nothing
	// arrives at all.
	MaxRetries int
	// RetryPacing spaces frames of one re-request round; the round number is
	// the backoff attempt.
	RetryPacing session.BackoffConfig

	AckTimeout     time.Duration
	MaxSetAttempts int
	// BatchPacing separates writes of SavePending.
	BatchPacing time.Duration

	Encoding Encoding
	Metadata map[string]Metadata
	// PublishEvery coalesces table broadcasts during a load.
	PublishEvery time.Duration
}

func DefaultConfig() Config {
	return Config{
		QuiescenceTimeout: time.Second,
		SettleWindow:      300 * time.Millisecond,
		MaxRetries:        3,
		RetryPacing: session.BackoffConfig{
			InitialDelay: 10 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     100 * time.Millisecond,
		},
		AckTimeout:     time.Second,
		MaxSetAttempts: 3,
		BatchPacing:    50 * time.Millisecond,
		Encoding:       EncodingCast,
		PublishEvery:   100 * time.Millisecond,
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.QuiescenceTimeout <= 0 {
		c.QuiescenceTimeout = def.QuiescenceTimeout
	}
	if c.SettleWindow <= 0 {
		c.SettleWindow = def.SettleWindow
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.RetryPacing == (session.BackoffConfig{}) {
		c.RetryPacing = def.RetryPacing
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = def.AckTimeout
	}
	if c.MaxSetAttempts <= 0 {
		c.MaxSetAttempts = def.MaxSetAttempts
	}
	if c.BatchPacing < 0 {
		c.BatchPacing = 0
	}
	if c.PublishEvery <= 0 {
		c.PublishEvery = def.PublishEvery
	}
	return c
}
