package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/danmuck/groundctl/internal/link"
	"github.com/danmuck/groundctl/internal/params"
	"github.com/danmuck/groundctl/internal/protocol/frame"
	"github.com/danmuck/groundctl/internal/session"
	"github.com/google/uuid"
)

const EnvPrefix = "GROUNDCTL_"

var (
	ErrMissingAPIAddr  = errors.New("config: api addr is required")
	ErrMissingStore    = errors.New("config: store path is required when the store is enabled")
	ErrSigningKey      = errors.New("config: signed mode needs signing.key or signing.passphrase")
	ErrInvalidDuration = errors.New("config: invalid duration")
)

type SigningConfig struct {
	Mode frame.SigningMode
	// Key is 64 hex characters; Passphrase is hashed into a key when Key is
	// empty.
	Key        string
	Passphrase string
	LinkID     uint8
}

type APIConfig struct {
	Addr           string
	CORSOrigins    []string
	RequestTimeout time.Duration
	// Token, when set, is required as a bearer token on mutating routes.
	Token string
}

type StoreConfig struct {
	Enabled bool
	Path    string
}

// Config is the resolved runtime configuration.
type Config struct {
	Link         link.Config
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	Session      session.Config
	Signing      SigningConfig
	Params       params.Config
	API          APIConfig
	Store        StoreConfig
	MetadataFile string
}

func Default() Config {
	return Config{
		Link:         link.TCP("127.0.0.1", 5760).WithDefaults(),
		DialTimeout:  5 * time.Second,
		WriteTimeout: 2 * time.Second,
		Session:      session.DefaultConfig(),
		Signing:      SigningConfig{Mode: frame.UnsignedV2},
		Params:       params.DefaultConfig(),
		API: APIConfig{
			Addr:           "127.0.0.1:8760",
			CORSOrigins:    []string{"http://localhost:3000"},
			RequestTimeout: 30 * time.Second,
		},
		Store: StoreConfig{Path: "groundctl.db"},
	}
}

// fileConfig mirrors the TOML layout. Durations are strings.
type fileConfig struct {
	MetadataFile string `toml:"metadata_file"`
	Link         struct {
		Kind         string `toml:"kind"`
		DialTimeout  string `toml:"dial_timeout"`
		WriteTimeout string `toml:"write_timeout"`
		TCP          struct {
			Host string `toml:"host"`
			Port int    `toml:"port"`
		} `toml:"tcp"`
		USB struct {
			Device      string `toml:"device"`
			Baud        int    `toml:"baud"`
			DataBits    int    `toml:"data_bits"`
			StopBits    int    `toml:"stop_bits"`
			Parity      string `toml:"parity"`
			ReadTimeout string `toml:"read_timeout"`
		} `toml:"usb"`
		Bluetooth struct {
			Address string `toml:"address"`
			Channel uint8  `toml:"channel"`
			Service string `toml:"service"`
		} `toml:"bluetooth"`
	} `toml:"link"`
	Session struct {
		SystemID          uint8  `toml:"system_id"`
		ComponentID       uint8  `toml:"component_id"`
		ConnectTimeout    string `toml:"connect_timeout"`
		HeartbeatInterval string `toml:"heartbeat_interval"`
		HeartbeatTimeout  string `toml:"heartbeat_timeout"`
	} `toml:"session"`
	Signing struct {
		Mode       string `toml:"mode"`
		Key        string `toml:"key"`
		Passphrase string `toml:"passphrase"`
		LinkID     uint8  `toml:"link_id"`
	} `toml:"signing"`
	Params struct {
		QuiescenceTimeout string `toml:"quiescence_timeout"`
		SettleWindow      string `toml:"settle_window"`
		MaxRetries        int    `toml:"max_retries"`
		AckTimeout        string `toml:"ack_timeout"`
		MaxSetAttempts    int    `toml:"max_set_attempts"`
		BatchPacing       string `toml:"batch_pacing"`
		RetryPacing       string `toml:"retry_pacing"`
		Encoding          string `toml:"encoding"`
	} `toml:"params"`
	API struct {
		Addr           string   `toml:"addr"`
		CORSOrigins    []string `toml:"cors_origins"`
		RequestTimeout string   `toml:"request_timeout"`
		Token          string   `toml:"token"`
	} `toml:"api"`
	Store struct {
		Enabled bool   `toml:"enabled"`
		Path    string `toml:"path"`
	} `toml:"store"`
}

// envConfig holds GROUNDCTL_* overrides. Empty values are ignored.
type envConfig struct {
	LinkKind          string `env:"LINK_KIND"`
	TCPHost           string `env:"TCP_HOST"`
	TCPPort           int    `env:"TCP_PORT"`
	USBDevice         string `env:"USB_DEVICE"`
	USBBaud           int    `env:"USB_BAUD"`
	BluetoothAddress  string `env:"BT_ADDRESS"`
	BluetoothChannel  uint8  `env:"BT_CHANNEL"`
	SigningMode       string `env:"SIGNING_MODE"`
	SigningKey        string `env:"SIGNING_KEY"`
	SigningPassphrase string `env:"SIGNING_PASSPHRASE"`
	APIAddr           string `env:"API_ADDR"`
	APIToken          string `env:"API_TOKEN"`
	StorePath         string `env:"STORE_PATH"`
	MetadataFile      string `env:"METADATA_FILE"`
}

// Load reads path (optional), applies environment overrides and validates.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	var raw envConfig
	if err := env.ParseWithOptions(&raw, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := applyEnv(&cfg, raw); err != nil {
		return Config{}, err
	}
	cfg.Link = cfg.Link.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load groundctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load groundctl config: unknown key %q", undecoded[0].String())
	}
	var errs []error
	duration := func(dst *time.Duration, raw string, key ...string) {
		if !meta.IsDefined(key...) {
			return
		}
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrInvalidDuration, strings.Join(key, "."), err))
			return
		}
		*dst = d
	}

	if meta.IsDefined("metadata_file") {
		cfg.MetadataFile = strings.TrimSpace(raw.MetadataFile)
	}

	l := &cfg.Link
	if meta.IsDefined("link", "kind") {
		l.Kind = link.Kind(raw.Link.Kind)
	}
	duration(&cfg.DialTimeout, raw.Link.DialTimeout, "link", "dial_timeout")
	duration(&cfg.WriteTimeout, raw.Link.WriteTimeout, "link", "write_timeout")
	if meta.IsDefined("link", "tcp", "host") {
		l.TCP.Host = strings.TrimSpace(raw.Link.TCP.Host)
	}
	if meta.IsDefined("link", "tcp", "port") {
		l.TCP.Port = raw.Link.TCP.Port
	}
	if meta.IsDefined("link", "usb", "device") {
		l.USB.Device = strings.TrimSpace(raw.Link.USB.Device)
	}
	if meta.IsDefined("link", "usb", "baud") {
		l.USB.Baud = raw.Link.USB.Baud
	}
	if meta.IsDefined("link", "usb", "data_bits") {
		l.USB.DataBits = raw.Link.USB.DataBits
	}
	if meta.IsDefined("link", "usb", "stop_bits") {
		l.USB.StopBits = raw.Link.USB.StopBits
	}
	if meta.IsDefined("link", "usb", "parity") {
		l.USB.Parity = raw.Link.USB.Parity
	}
	duration(&l.USB.ReadTimeout, raw.Link.USB.ReadTimeout, "link", "usb", "read_timeout")
	if meta.IsDefined("link", "bluetooth", "address") {
		l.Bluetooth.Address = strings.TrimSpace(raw.Link.Bluetooth.Address)
	}
	if meta.IsDefined("link", "bluetooth", "channel") {
		l.Bluetooth.Channel = raw.Link.Bluetooth.Channel
	}
	if meta.IsDefined("link", "bluetooth", "service") {
		id, err := uuid.Parse(strings.TrimSpace(raw.Link.Bluetooth.Service))
		if err != nil {
			errs = append(errs, fmt.Errorf("config: link.bluetooth.service: %w", err))
		}
		l.Bluetooth.Service = id
	}

	s := &cfg.Session
	if meta.IsDefined("session", "system_id") {
		s.SystemID = raw.Session.SystemID
	}
	if meta.IsDefined("session", "component_id") {
		s.ComponentID = raw.Session.ComponentID
	}
	duration(&s.ConnectTimeout, raw.Session.ConnectTimeout, "session", "connect_timeout")
	duration(&s.HeartbeatInterval, raw.Session.HeartbeatInterval, "session", "heartbeat_interval")
	duration(&s.HeartbeatTimeout, raw.Session.HeartbeatTimeout, "session", "heartbeat_timeout")

	if meta.IsDefined("signing", "mode") {
		mode, err := frame.ParseSigningMode(raw.Signing.Mode)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: signing.mode: %w", err))
		}
		cfg.Signing.Mode = mode
	}
	if meta.IsDefined("signing", "key") {
		cfg.Signing.Key = strings.TrimSpace(raw.Signing.Key)
	}
	if meta.IsDefined("signing", "passphrase") {
		cfg.Signing.Passphrase = raw.Signing.Passphrase
	}
	if meta.IsDefined("signing", "link_id") {
		cfg.Signing.LinkID = raw.Signing.LinkID
	}

	p := &cfg.Params
	duration(&p.QuiescenceTimeout, raw.Params.QuiescenceTimeout, "params", "quiescence_timeout")
	duration(&p.SettleWindow, raw.Params.SettleWindow, "params", "settle_window")
	duration(&p.AckTimeout, raw.Params.AckTimeout, "params", "ack_timeout")
	duration(&p.BatchPacing, raw.Params.BatchPacing, "params", "batch_pacing")
	duration(&p.RetryPacing.InitialDelay, raw.Params.RetryPacing, "params", "retry_pacing")
	if meta.IsDefined("params", "max_retries") {
		p.MaxRetries = raw.Params.MaxRetries
	}
	if meta.IsDefined("params", "max_set_attempts") {
		p.MaxSetAttempts = raw.Params.MaxSetAttempts
	}
	if meta.IsDefined("params", "encoding") {
		enc, err := params.ParseEncoding(raw.Params.Encoding)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: params.encoding: %w", err))
		}
		p.Encoding = enc
	}

	if meta.IsDefined("api", "addr") {
		cfg.API.Addr = strings.TrimSpace(raw.API.Addr)
	}
	if meta.IsDefined("api", "cors_origins") {
		cfg.API.CORSOrigins = normalizeList(raw.API.CORSOrigins)
	}
	duration(&cfg.API.RequestTimeout, raw.API.RequestTimeout, "api", "request_timeout")
	if meta.IsDefined("api", "token") {
		cfg.API.Token = strings.TrimSpace(raw.API.Token)
	}

	if meta.IsDefined("store", "enabled") {
		cfg.Store.Enabled = raw.Store.Enabled
	}
	if meta.IsDefined("store", "path") {
		cfg.Store.Path = strings.TrimSpace(raw.Store.Path)
	}
	return errors.Join(errs...)
}

func applyEnv(cfg *Config, raw envConfig) error {
	if raw.LinkKind != "" {
		cfg.Link.Kind = link.Kind(raw.LinkKind)
	}
	if raw.TCPHost != "" {
		cfg.Link.TCP.Host = raw.TCPHost
	}
	if raw.TCPPort != 0 {
		cfg.Link.TCP.Port = raw.TCPPort
	}
	if raw.USBDevice != "" {
		cfg.Link.USB.Device = raw.USBDevice
	}
	if raw.USBBaud != 0 {
		cfg.Link.USB.Baud = raw.USBBaud
	}
	if raw.BluetoothAddress != "" {
		cfg.Link.Bluetooth.Address = raw.BluetoothAddress
	}
	if raw.BluetoothChannel != 0 {
		cfg.Link.Bluetooth.Channel = raw.BluetoothChannel
	}
	if raw.SigningMode != "" {
		mode, err := frame.ParseSigningMode(raw.SigningMode)
		if err != nil {
			return fmt.Errorf("config: %sSIGNING_MODE: %w", EnvPrefix, err)
		}
		cfg.Signing.Mode = mode
	}
	if raw.SigningKey != "" {
		cfg.Signing.Key = raw.SigningKey
	}
	if raw.SigningPassphrase != "" {
		cfg.Signing.Passphrase = raw.SigningPassphrase
	}
	if raw.APIAddr != "" {
		cfg.API.Addr = raw.APIAddr
	}
	if raw.APIToken != "" {
		cfg.API.Token = raw.APIToken
	}
	if raw.StorePath != "" {
		cfg.Store.Enabled = true
		cfg.Store.Path = raw.StorePath
	}
	if raw.MetadataFile != "" {
		cfg.MetadataFile = raw.MetadataFile
	}
	return nil
}

// Validate checks cross-field rules the sections cannot check alone.
func (c Config) Validate() error {
	if err := c.Link.Validate(); err != nil {
		return fmt.Errorf("config: link: %w", err)
	}
	if c.Signing.Mode == frame.SignedV2 && c.Signing.Key == "" && c.Signing.Passphrase == "" {
		return ErrSigningKey
	}
	if c.Signing.Key != "" {
		if _, err := frame.ParseSigningKey(c.Signing.Key); err != nil {
			return fmt.Errorf("config: signing.key: %w", err)
		}
	}
	if strings.TrimSpace(c.API.Addr) == "" {
		return ErrMissingAPIAddr
	}
	if c.Store.Enabled && strings.TrimSpace(c.Store.Path) == "" {
		return ErrMissingStore
	}
	if c.Session.HeartbeatTimeout > 0 && c.Session.HeartbeatInterval > c.Session.HeartbeatTimeout {
		return fmt.Errorf("%w: session.heartbeat_interval %s exceeds heartbeat_timeout %s",
			ErrInvalidDuration, c.Session.HeartbeatInterval, c.Session.HeartbeatTimeout)
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
