package logging

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const envPrefix = "GROUNDCTL_LOG_"

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// overrides are read from GROUNDCTL_LOG_LEVEL, _TIMESTAMP, _NOCOLOR, _JSON, _BYPASS.
type overrides struct {
	Level     string `env:"LEVEL"`
	Timestamp string `env:"TIMESTAMP"`
	NoColor   string `env:"NOCOLOR"`
	JSON      string `env:"JSON"`
	Bypass    string `env:"BYPASS"`
}

type settings struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	JSON      bool
	Bypass    bool
}

var configureOnce sync.Once

func ConfigureRuntime() {
	Configure(ProfileRuntime)
}

func ConfigureTests() {
	Configure(ProfileTest)
}

// Configure installs the global zerolog logger once per process.
func Configure(profile Profile) {
	configureOnce.Do(func() {
		cfg := loadSettings(profile, env.Options{Prefix: envPrefix}, os.Stderr)
		apply(cfg, os.Stderr)
	})
}

// loadSettings applies environment overrides to the profile defaults. The
// logger is not installed yet, so problems are reported on warn.
func loadSettings(profile Profile, opts env.Options, warn io.Writer) settings {
	cfg := defaultSettings(profile)
	var raw overrides
	if err := env.ParseWithOptions(&raw, opts); err != nil {
		fmt.Fprintf(warn, "groundctl: ignoring log overrides: %v\n", err)
		return cfg
	}
	for _, bad := range applyOverrides(&cfg, raw) {
		fmt.Fprintf(warn, "groundctl: ignoring %s%s=%q\n", envPrefix, bad.name, bad.value)
	}
	return cfg
}

// Component returns the global logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}

func defaultSettings(profile Profile) settings {
	switch profile {
	case ProfileTest:
		return settings{Level: zerolog.DebugLevel, Timestamp: false}
	default:
		return settings{Level: zerolog.InfoLevel, Timestamp: true}
	}
}

func apply(cfg settings, out io.Writer) {
	zerolog.SetGlobalLevel(cfg.Level)
	if cfg.Bypass {
		log.Logger = zerolog.Nop()
		return
	}
	if !cfg.JSON {
		out = zerolog.ConsoleWriter{
			Out:        out,
			NoColor:    cfg.NoColor,
			TimeFormat: time.RFC3339,
		}
	}
	ctx := zerolog.New(out).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	log.Logger = ctx.Logger()
}

type rejected struct {
	name  string
	value string
}

// applyOverrides copies every recognized value into cfg and returns the
// non-empty ones it could not parse.
func applyOverrides(cfg *settings, raw overrides) []rejected {
	var bad []rejected
	if lvl, ok := parseLevel(raw.Level); ok {
		cfg.Level = lvl
	} else if strings.TrimSpace(raw.Level) != "" {
		bad = append(bad, rejected{"LEVEL", raw.Level})
	}
	for _, b := range []struct {
		name string
		raw  string
		dst  *bool
	}{
		{"TIMESTAMP", raw.Timestamp, &cfg.Timestamp},
		{"NOCOLOR", raw.NoColor, &cfg.NoColor},
		{"JSON", raw.JSON, &cfg.JSON},
		{"BYPASS", raw.Bypass, &cfg.Bypass},
	} {
		if v, ok := parseBool(b.raw); ok {
			*b.dst = v
		} else if strings.TrimSpace(b.raw) != "" {
			bad = append(bad, rejected{b.name, b.raw})
		}
	}
	return bad
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace", "diagnostics":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none", "inactive":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
