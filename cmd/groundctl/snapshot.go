package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/danmuck/groundctl/internal/config"
	"github.com/danmuck/groundctl/internal/params"
	"github.com/danmuck/groundctl/internal/store"
)

func runSnapshot(ctx context.Context, cfg config.Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: snapshot needs a subcommand", errUsage)
	}
	sub, args := args[0], args[1:]

	var id int64
	switch sub {
	case "save":
		if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
			return fmt.Errorf("%w: snapshot save NAME", errUsage)
		}
	case "list":
	case "diff", "restore":
		if len(args) != 1 {
			return fmt.Errorf("%w: snapshot %s ID", errUsage, sub)
		}
		var err error
		if id, err = strconv.ParseInt(args[0], 10, 64); err != nil {
			return fmt.Errorf("%w: snapshot id %q", errUsage, args[0])
		}
	default:
		return fmt.Errorf("%w: unknown snapshot command %q", errUsage, sub)
	}

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	if sub == "list" {
		snaps, err := db.List(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTARGET\tPARAMS\tCREATED")
		for _, s := range snaps {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", s.ID, s.Name, s.Target, s.Count, s.CreatedAt.Local().Format(time.DateTime))
		}
		return w.Flush()
	}

	c, err := dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()
	p, err := c.load(ctx, false)
	if err != nil {
		return err
	}

	switch sub {
	case "save":
		if perr := p.Err(); perr != nil || p.Total == 0 {
			return fmt.Errorf("%w: refusing to store a partial table", params.ErrSyncIncomplete)
		}
		snap, err := db.Save(ctx, args[0], c.session.State().Target, c.sync.List())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "saved snapshot %d %q with %d parameters\n", snap.ID, snap.Name, snap.Count)
		return nil

	case "diff":
		changes, err := db.Diff(ctx, id, c.sync.Snapshot())
		if err != nil {
			return err
		}
		printChanges(out, changes)
		return nil

	default: // restore
		changes, err := db.Diff(ctx, id, c.sync.Snapshot())
		if err != nil {
			return err
		}
		staged := 0
		for _, ch := range changes {
			if ch.Kind != store.Changed {
				continue
			}
			if err := c.sync.Edit(ch.Name, ch.Saved); err != nil {
				return err
			}
			staged++
		}
		if staged == 0 {
			fmt.Fprintln(out, "vehicle already matches snapshot")
			return nil
		}
		results := c.sync.SavePending(ctx)
		printResults(out, results)
		return firstFailure(results)
	}
}

func printChanges(out io.Writer, changes []store.Change) {
	if len(changes) == 0 {
		fmt.Fprintln(out, "no differences")
		return
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCHANGE\tSAVED\tCURRENT")
	for _, ch := range changes {
		saved, current := formatValue(ch.Saved), formatValue(ch.Current)
		switch ch.Kind {
		case store.Added:
			saved = "-"
		case store.Removed:
			current = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ch.Name, ch.Kind, saved, current)
	}
	_ = w.Flush()
}
