package link

import (
	"time"

	"github.com/danmuck/groundctl/internal/protocol/frame"
	"github.com/rs/zerolog"
)

// DefaultProvider builds StreamLinks for the three supported transports.
type DefaultProvider struct {
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	Signer       *frame.Signer
	VerifyKey    *frame.SigningKey
	Logger       zerolog.Logger
}

var _ Provider = (*DefaultProvider)(nil)

func NewProvider(logger zerolog.Logger) *DefaultProvider {
	return &DefaultProvider{
		DialTimeout:  5 * time.Second,
		WriteTimeout: 2 * time.Second,
		Logger:       logger,
	}
}

func (p *DefaultProvider) CreateLink(cfg Config) (Link, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var dial Dialer
	switch cfg.Kind {
	case KindTCP:
		dial = DialTCP(cfg.TCP, p.DialTimeout)
	case KindUSB:
		dial = DialUSB(cfg.USB)
	case KindBluetooth:
		p.Logger.Debug().
			Str("service", cfg.Bluetooth.Service.String()).
			Uint8("channel", cfg.Bluetooth.Channel).
			Msg("bluetooth serial service")
		dial = DialBluetooth(cfg.Bluetooth, p.DialTimeout)
	}
	return NewStreamLink(cfg.Kind, cfg.Target(), dial, Options{
		Signer:       p.Signer,
		VerifyKey:    p.VerifyKey,
		WriteTimeout: p.WriteTimeout,
		Logger:       p.Logger,
	}), nil
}
