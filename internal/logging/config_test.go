package logging

import (
	"bytes"
	"testing"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevelAliases(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":       zerolog.TraceLevel,
		"diagnostics": zerolog.TraceLevel,
		" DEBUG ":     zerolog.DebugLevel,
		"warning":     zerolog.WarnLevel,
		"off":         zerolog.Disabled,
	}
	for raw, want := range cases {
		got, ok := parseLevel(raw)
		require.True(t, ok, "level %q", raw)
		assert.Equal(t, want, got, "level %q", raw)
	}
	_, ok := parseLevel("loud")
	assert.False(t, ok)
}

func TestApplyOverridesOnlyTouchesSetValues(t *testing.T) {
	cfg := defaultSettings(ProfileRuntime)
	bad := applyOverrides(&cfg, overrides{Level: "error", JSON: "true", NoColor: "nope"})
	assert.Equal(t, []rejected{{"NOCOLOR", "nope"}}, bad)
	assert.Equal(t, zerolog.ErrorLevel, cfg.Level)
	assert.True(t, cfg.JSON)
	assert.False(t, cfg.NoColor)
	assert.True(t, cfg.Timestamp)
}

func TestLoadSettingsReportsBadOverrides(t *testing.T) {
	var warn bytes.Buffer
	cfg := loadSettings(ProfileTest, env.Options{
		Prefix:      envPrefix,
		Environment: map[string]string{envPrefix + "LEVEL": "loud", envPrefix + "JSON": "1"},
	}, &warn)
	assert.Equal(t, zerolog.DebugLevel, cfg.Level)
	assert.True(t, cfg.JSON)
	assert.Contains(t, warn.String(), `ignoring GROUNDCTL_LOG_LEVEL="loud"`)
}

func TestLoadSettingsReportsParseFailure(t *testing.T) {
	var warn bytes.Buffer
	cfg := loadSettings(ProfileRuntime, env.Options{
		Prefix:          envPrefix,
		Environment:     map[string]string{},
		RequiredIfNoDef: true,
	}, &warn)
	assert.Equal(t, defaultSettings(ProfileRuntime), cfg)
	assert.Contains(t, warn.String(), "ignoring log overrides")
}

func TestApplyJSONWritesComponentField(t *testing.T) {
	prev := log.Logger
	prevLevel := zerolog.GlobalLevel()
	defer func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	}()

	var buf bytes.Buffer
	apply(settings{Level: zerolog.DebugLevel, JSON: true}, &buf)
	l := Component("session")
	l.Info().Msg("hello")
	assert.Contains(t, buf.String(), `"component":"session"`)
	assert.Contains(t, buf.String(), `"message":"hello"`)
}
