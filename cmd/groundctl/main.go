package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/groundctl/internal/config"
	"github.com/danmuck/groundctl/internal/logging"
	"github.com/rs/zerolog/log"
)

const usage = `usage: groundctl [-config path] <command> [args]

commands:
  params list [-group G]        load and print the parameter table
  params get NAME               print one parameter
  params set NAME VALUE [-type T]
  params refresh                force a full reload and print progress
  params save NAME=VALUE...     stage edits and write them in order
  snapshot save NAME            store the confirmed table
  snapshot list
  snapshot diff ID              compare a snapshot with the vehicle
  snapshot restore ID           write back every value that differs
  serve                         run the HTTP control API
  config init [-kind K] [-output path] [-force]
`

var errUsage = errors.New("invalid arguments")

func main() {
	logging.ConfigureRuntime()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
		}
		fmt.Fprintf(os.Stderr, "groundctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("groundctl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", os.Getenv(config.EnvPrefix+"CONFIG"), "config file (TOML)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return errUsage
	}

	if rest[0] == "config" {
		return runConfig(rest[1:], out)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	log.Debug().Str("path", *configPath).Str("target", cfg.Link.Target()).Msg("loaded config")

	switch rest[0] {
	case "params":
		return runParams(ctx, cfg, rest[1:], out)
	case "snapshot":
		return runSnapshot(ctx, cfg, rest[1:], out)
	case "serve":
		return runServe(ctx, cfg)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, rest[0])
	}
}

func runConfig(args []string, out io.Writer) error {
	if len(args) == 0 || args[0] != "init" {
		return fmt.Errorf("%w: config init", errUsage)
	}
	fs := flag.NewFlagSet("config init", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	kind := fs.String("kind", "tcp", "transport: tcp|usb|bluetooth")
	output := fs.String("output", "groundctl.toml", "output path")
	force := fs.Bool("force", false, "overwrite an existing file")
	if err := fs.Parse(args[1:]); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if err := config.WriteTemplate(*output, *kind, *force); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s config template to %s\n", *kind, *output)
	return nil
}
