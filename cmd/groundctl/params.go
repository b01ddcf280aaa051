package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/danmuck/groundctl/internal/config"
	"github.com/danmuck/groundctl/internal/params"
	"github.com/danmuck/groundctl/internal/protocol/dialect"
)

func runParams(ctx context.Context, cfg config.Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: params needs a subcommand", errUsage)
	}
	sub, args := args[0], args[1:]
	fs := flag.NewFlagSet("params "+sub, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	group := fs.String("group", "", "only list this group (list)")
	typeName := fs.String("type", "", "type tag for uncached parameters (set)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	args = fs.Args()

	switch sub {
	case "list", "get", "refresh", "save":
	case "set":
		if len(args) != 2 {
			return fmt.Errorf("%w: params set NAME VALUE", errUsage)
		}
	default:
		return fmt.Errorf("%w: unknown params command %q", errUsage, sub)
	}
	if sub == "get" && len(args) != 1 {
		return fmt.Errorf("%w: params get NAME", errUsage)
	}
	var edits []assignment
	if sub == "save" {
		var err error
		if edits, err = parseAssignments(args); err != nil {
			return err
		}
	}

	c, err := dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	switch sub {
	case "list":
		if _, err := c.load(ctx, false); err != nil {
			return err
		}
		printTable(out, filterGroup(c.sync.List(), *group))
		return nil

	case "get":
		if _, err := c.load(ctx, false); err != nil {
			return err
		}
		p, ok := c.sync.Get(args[0])
		if !ok {
			return fmt.Errorf("%w: %s", params.ErrUnknownParam, args[0])
		}
		printTable(out, []params.Parameter{p})
		return nil

	case "refresh":
		p, err := c.load(ctx, true)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "loaded %d/%d parameters\n", p.Current, p.Total)
		if p.ErrorMessage != "" {
			fmt.Fprintf(out, "incomplete: %s\n", p.ErrorMessage)
		}
		return nil

	case "set":
		var t dialect.ParamType
		if *typeName != "" {
			if t, err = dialect.ParseParamType(*typeName); err != nil {
				return err
			}
		} else {
			if _, err := c.load(ctx, false); err != nil {
				return err
			}
			p, ok := c.sync.Get(args[0])
			if !ok {
				return fmt.Errorf("%w: %s (pass -type to write it anyway)", params.ErrUnknownParam, args[0])
			}
			t = p.Type
		}
		value, err := params.ParseValue(args[0], args[1], t)
		if err != nil {
			return err
		}
		res := c.sync.Set(ctx, args[0], value, t)
		printResults(out, []params.Result{res})
		return res.Err

	default: // save
		if _, err := c.load(ctx, false); err != nil {
			return err
		}
		for _, e := range edits {
			p, ok := c.sync.Get(e.name)
			if !ok {
				return fmt.Errorf("%w: %s", params.ErrUnknownParam, e.name)
			}
			value, err := params.ParseValue(e.name, e.raw, p.Type)
			if err != nil {
				return err
			}
			if err := c.sync.Edit(e.name, value); err != nil {
				return err
			}
		}
		results := c.sync.SavePending(ctx)
		printResults(out, results)
		return firstFailure(results)
	}
}

type assignment struct {
	name string
	raw  string
}

func parseAssignments(args []string) ([]assignment, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: params save NAME=VALUE...", errUsage)
	}
	out := make([]assignment, 0, len(args))
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		name, raw = strings.TrimSpace(name), strings.TrimSpace(raw)
		if !ok || name == "" || raw == "" {
			return nil, fmt.Errorf("%w: %q is not NAME=VALUE", errUsage, arg)
		}
		out = append(out, assignment{name: strings.ToUpper(name), raw: raw})
	}
	return out, nil
}

func filterGroup(list []params.Parameter, group string) []params.Parameter {
	group = strings.ToUpper(strings.TrimSpace(group))
	if group == "" {
		return list
	}
	out := list[:0]
	for _, p := range list {
		if p.Group == group {
			out = append(out, p)
		}
	}
	return out
}

func printTable(out io.Writer, list []params.Parameter) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tVALUE\tINDEX")
	for _, p := range list {
		value := formatValue(p.Value)
		if p.Dirty() {
			value += " (was " + formatValue(p.Original) + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", p.Name, p.Type, value, p.Index)
	}
	_ = w.Flush()
}

func printResults(out io.Writer, results []params.Result) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tRESULT\tVALUE\tATTEMPTS")
	for _, r := range results {
		status := "ok"
		if !r.OK {
			status = "failed: " + r.Message()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", r.Name, status, formatValue(r.Value), r.Attempts)
	}
	_ = w.Flush()
}

func firstFailure(results []params.Result) error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Name, r.Err))
		}
	}
	return errors.Join(errs...)
}

func formatValue(v float64) string {
	return fmt.Sprintf("%g", v)
}
