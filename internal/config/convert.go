package config

import (
	"github.com/danmuck/groundctl/internal/link"
	"github.com/danmuck/groundctl/internal/params"
	"github.com/danmuck/groundctl/internal/protocol/frame"
	"github.com/danmuck/groundctl/internal/session"
	"github.com/rs/zerolog"
)

// SigningKey returns the configured key, or nil when none is set.
func (c Config) SigningKey() (*frame.SigningKey, error) {
	switch {
	case c.Signing.Key != "":
		key, err := frame.ParseSigningKey(c.Signing.Key)
		if err != nil {
			return nil, err
		}
		return &key, nil
	case c.Signing.Passphrase != "":
		key := frame.KeyFromPassphrase(c.Signing.Passphrase)
		return &key, nil
	default:
		return nil, nil
	}
}

// Provider builds the link provider. A configured key signs outbound frames
// in signed mode and verifies signed inbound frames in every mode.
func (c Config) Provider(logger zerolog.Logger) (*link.DefaultProvider, error) {
	p := link.NewProvider(logger)
	if c.DialTimeout > 0 {
		p.DialTimeout = c.DialTimeout
	}
	if c.WriteTimeout > 0 {
		p.WriteTimeout = c.WriteTimeout
	}
	key, err := c.SigningKey()
	if err != nil {
		return nil, err
	}
	if key != nil {
		p.VerifyKey = key
		p.Signer = frame.NewSigner(c.Signing.LinkID, *key)
	}
	return p, nil
}

func (c Config) SessionConfig() session.Config {
	s := c.Session
	s.SigningMode = c.Signing.Mode
	return s
}

// ParamsConfig attaches metadata from MetadataFile when one is set.
func (c Config) ParamsConfig() (params.Config, error) {
	p := c.Params
	if c.MetadataFile == "" {
		return p, nil
	}
	meta, err := params.LoadMetadata(c.MetadataFile)
	if err != nil {
		return params.Config{}, err
	}
	p.Metadata = meta
	return p, nil
}
