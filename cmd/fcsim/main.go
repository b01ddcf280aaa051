// Command fcsim serves a simulated flight controller parameter table over
// TCP so groundctl can be exercised without hardware.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/groundctl/internal/logging"
	"github.com/danmuck/groundctl/internal/protocol/frame"
	"github.com/danmuck/groundctl/internal/sim"
)

func main() {
	listen := flag.String("listen", "127.0.0.1:5760", "tcp listen address")
	count := flag.Int("count", 0, "serve this many numbered parameters instead of the default table")
	drop := flag.String("drop", "", "comma-separated indices omitted from list streams")
	reject := flag.String("reject", "", "comma-separated parameter names whose writes are refused")
	heartbeat := flag.Duration("heartbeat", time.Second, "heartbeat interval (0 disables)")
	pacing := flag.Duration("pacing", 2*time.Millisecond, "gap between streamed PARAM_VALUE frames")
	mode := flag.String("mode", "v2", "framing: v1|v2|v2-signed")
	passphrase := flag.String("passphrase", "", "signing passphrase (required for v2-signed)")
	flag.Parse()

	logging.ConfigureRuntime()
	logger := logging.Component("fcsim")

	opts, err := options(*drop, *reject, *mode, *passphrase)
	if err != nil {
		fatalf("%v", err)
	}
	opts.HeartbeatInterval = *heartbeat
	opts.ListPacing = *pacing
	opts.Logger = logger

	table := sim.DefaultTable()
	if *count > 0 {
		table = sim.Numbered(*count)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		fatalf("listen: %v", err)
	}
	logger.Info().Str("addr", ln.Addr().String()).Int("params", len(table)).Str("mode", opts.Mode.String()).Msg("vehicle ready")
	if err := sim.New(table, opts).ServeTCP(ctx, ln); err != nil {
		fatalf("serve: %v", err)
	}
}

func options(drop, reject, mode, passphrase string) (sim.Options, error) {
	opts := sim.DefaultOptions()
	m, err := frame.ParseSigningMode(mode)
	if err != nil {
		return opts, err
	}
	opts.Mode = m
	if passphrase != "" {
		opts.Signer = frame.NewSigner(0, frame.KeyFromPassphrase(passphrase))
	} else if m == frame.SignedV2 {
		return opts, fmt.Errorf("-mode %s needs -passphrase", mode)
	}
	for _, raw := range splitList(drop) {
		idx, err := strconv.ParseUint(raw, 10, 16)
		if err != nil {
			return opts, fmt.Errorf("bad -drop index %q", raw)
		}
		if opts.DropList == nil {
			opts.DropList = make(map[uint16]bool)
		}
		opts.DropList[uint16(idx)] = true
	}
	if names := splitList(reject); len(names) > 0 {
		opts.OnSet = sim.Reject(names...)
	}
	return opts, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "fcsim: "+format+"\n", args...)
	os.Exit(1)
}
