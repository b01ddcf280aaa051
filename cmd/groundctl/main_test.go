package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/groundctl/internal/sim"
	"github.com/danmuck/groundctl/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cliRig struct {
	vehicle *sim.Vehicle
	config  string
}

func newCLIRig(t *testing.T) *cliRig {
	t.Helper()
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	v := sim.New(sim.DefaultTable(), sim.DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = v.ServeTCP(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		_ = ln.Close()
		<-done
	})

	dir := t.TempDir()
	port := ln.Addr().(*net.TCPAddr).Port
	body := fmt.Sprintf(`[link]
kind = "tcp"
[link.tcp]
host = "127.0.0.1"
port = %d

[session]
heartbeat_interval = "500ms"
heartbeat_timeout = "2s"

[params]
quiescence_timeout = "150ms"
settle_window = "40ms"
ack_timeout = "250ms"
batch_pacing = "5ms"
retry_pacing = "1ms"

[store]
enabled = true
path = %q
`, port, filepath.Join(dir, "snapshots.db"))
	path := filepath.Join(dir, "groundctl.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return &cliRig{vehicle: v, config: path}
}

func (r *cliRig) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), append([]string{"-config", r.config}, args...), &out)
	return out.String(), err
}

func (r *cliRig) value(t *testing.T, name string) float32 {
	t.Helper()
	p, ok := r.vehicle.Param(name)
	require.True(t, ok, name)
	return p.Value
}

func TestRunRejectsBadArguments(t *testing.T) {
	testlog.Start(t)
	var out bytes.Buffer
	assert.ErrorIs(t, run(context.Background(), nil, &out), errUsage)
	assert.ErrorIs(t, run(context.Background(), []string{"config", "bogus"}, &out), errUsage)

	r := newCLIRig(t)
	_, err := r.run(t, "fly")
	assert.ErrorIs(t, err, errUsage)
	_, err = r.run(t, "params", "set", "RC1_MIN")
	assert.ErrorIs(t, err, errUsage)
	_, err = r.run(t, "snapshot", "diff", "one")
	assert.ErrorIs(t, err, errUsage)
}

func TestConfigInitWritesTemplate(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "usb.toml")
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"config", "init", "-kind", "usb", "-output", path}, &out))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `kind = "usb"`)

	err = run(context.Background(), []string{"config", "init", "-kind", "usb", "-output", path}, &out)
	assert.Error(t, err)
}

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{"rc1_min=1000", " RC1_MAX = 2000 "})
	require.NoError(t, err)
	assert.Equal(t, []assignment{{name: "RC1_MIN", raw: "1000"}, {name: "RC1_MAX", raw: "2000"}}, got)

	for _, bad := range [][]string{nil, {"RC1_MIN"}, {"=5"}, {"RC1_MIN="}} {
		_, err := parseAssignments(bad)
		assert.ErrorIs(t, err, errUsage, "%v", bad)
	}
}

func TestParamsCommands(t *testing.T) {
	r := newCLIRig(t)

	out, err := r.run(t, "params", "get", "RC1_MIN")
	require.NoError(t, err)
	assert.Contains(t, out, "RC1_MIN")
	assert.Contains(t, out, "1100")

	out, err = r.run(t, "params", "list", "-group", "serial4")
	require.NoError(t, err)
	assert.Contains(t, out, "SERIAL4_BAUD")
	assert.Contains(t, out, "SERIAL4_PROTOCOL")
	assert.NotContains(t, out, "SERIAL3_BAUD")
	assert.NotContains(t, out, "RC1_MIN")

	out, err = r.run(t, "params", "set", "RC1_MIN", "1200")
	require.NoError(t, err)
	assert.Contains(t, out, "ok")
	assert.Equal(t, float32(1200), r.value(t, "RC1_MIN"))

	_, err = r.run(t, "params", "set", "RC1_MIN", "12.5")
	assert.Error(t, err, "fractional value for an integer parameter")

	out, err = r.run(t, "params", "save", "RC1_MAX=1800", "SERVO1_TRIM=1450")
	require.NoError(t, err)
	assert.Contains(t, out, "SERVO1_TRIM")
	assert.Equal(t, float32(1800), r.value(t, "RC1_MAX"))
	assert.Equal(t, float32(1450), r.value(t, "SERVO1_TRIM"))

	out, err = r.run(t, "params", "refresh")
	require.NoError(t, err)
	total := len(sim.DefaultTable())
	assert.Contains(t, out, fmt.Sprintf("loaded %d/%d", total, total))
}

func TestSnapshotSaveDiffRestore(t *testing.T) {
	r := newCLIRig(t)

	out, err := r.run(t, "snapshot", "save", "baseline")
	require.NoError(t, err)
	assert.Contains(t, out, "saved snapshot 1")

	out, err = r.run(t, "snapshot", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "baseline")

	out, err = r.run(t, "snapshot", "diff", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "no differences")

	_, err = r.run(t, "params", "set", "RC1_MIN", "1300")
	require.NoError(t, err)

	out, err = r.run(t, "snapshot", "diff", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "RC1_MIN")
	assert.Contains(t, out, "changed")

	_, err = r.run(t, "snapshot", "restore", "1")
	require.NoError(t, err)
	assert.Equal(t, float32(1100), r.value(t, "RC1_MIN"))

	out, err = r.run(t, "snapshot", "restore", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "already matches")
}
