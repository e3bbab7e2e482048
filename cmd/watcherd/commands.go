package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/goliatone/go-errors"

	watcher "github.com/goliatone/go-watcher"
	"github.com/goliatone/go-watcher/trigger"
)

type RunCmd struct {
	Seconds bool `help:"Accept a leading seconds field in schedules."`
}

func (c *RunCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx, g, os.Stderr)
	if err != nil {
		return err
	}

	parser := trigger.DefaultParser
	if c.Seconds {
		parser = trigger.SecondsParser
	}
	engine := trigger.NewScheduleEngine(func(ctx context.Context, events []watcher.TriggerEvent) {
		if err := a.service.ProcessEventsAsync(ctx, events); err != nil {
			a.logger.Warn("dropping [%d] trigger events: %v", len(events), err)
		}
	},
		trigger.WithLogger(a.logger),
		trigger.WithParser(parser),
	)
	if err := a.schedule(engine); err != nil {
		a.close(context.Background())
		return err
	}

	if err := a.service.Start(ctx); err != nil {
		a.close(context.Background())
		return err
	}
	if err := engine.Start(ctx); err != nil {
		a.close(context.Background())
		return err
	}
	a.logger.Info("watcherd running with [%d] scheduled watches", len(engine.Scheduled()))

	<-ctx.Done()
	a.logger.Info("shutting down")

	shutdown, cancel := context.WithTimeout(context.Background(), a.cfg.Execution.MaxStopTimeout+5*time.Second)
	defer cancel()

	var errs error
	if err := engine.Stop(shutdown); err != nil {
		errs = errors.Join(errs, err)
	}
	if err := a.close(shutdown); err != nil {
		errs = errors.Join(errs, err)
	}
	return errs
}

type FireCmd struct {
	IDs     []string      `arg:"" name:"watch" help:"Watch ids to trigger." optional:""`
	All     bool          `help:"Trigger every registered watch."`
	Timeout time.Duration `default:"1m" help:"How long to wait for the runs to finish."`
}

func (c *FireCmd) Run(g *Globals) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	a, err := bootstrap(ctx, g, os.Stderr)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	ids := c.IDs
	if c.All {
		ids = a.watches.IDs()
	}
	if len(ids) == 0 {
		return errors.New("no watches to fire, pass ids or --all", errors.CategoryBadInput).
			WithTextCode(watcher.ErrCodeInvalidConfig)
	}

	if err := a.service.Start(ctx); err != nil {
		return err
	}

	// pending entries were replayed by Start, fire on top of them
	now := time.Now()
	events := make([]watcher.TriggerEvent, 0, len(ids))
	for _, id := range ids {
		events = append(events, watcher.NewTriggerEvent(id, now, now, map[string]any{"manual": true}))
	}
	if err := a.service.ProcessEventsSync(ctx, events); err != nil {
		return err
	}
	return a.awaitIdle(ctx, 20*time.Millisecond)
}

type PendingCmd struct {
	JSON bool `help:"Print as JSON."`
}

func (c *PendingCmd) Run(g *Globals) error {
	ctx := context.Background()
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	a, err := openStores(cfg, newLogger(cfg.Log, os.Stderr))
	if err != nil {
		return err
	}
	defer a.close(ctx)

	if err := a.triggered.Start(ctx); err != nil {
		return err
	}
	defer a.triggered.Stop(ctx)

	pending, err := a.triggered.LoadTriggeredWatches(ctx)
	if err != nil {
		return err
	}
	return printPending(os.Stdout, pending, c.JSON)
}

type HistoryCmd struct {
	Watch string `arg:"" optional:"" help:"Only show records for this watch."`
	Limit int    `short:"n" default:"20" help:"Maximum number of records."`
	JSON  bool   `help:"Print as JSON."`
}

func (c *HistoryCmd) Run(g *Globals) error {
	ctx := context.Background()
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	a, err := openStores(cfg, newLogger(cfg.Log, os.Stderr))
	if err != nil {
		return err
	}
	defer a.close(ctx)

	if err := a.history.Start(ctx); err != nil {
		return err
	}
	defer a.history.Stop(ctx)

	records, err := a.history.List(ctx, c.Watch, c.Limit)
	if err != nil {
		return err
	}
	return printHistory(os.Stdout, records, c.JSON)
}

func printPending(out io.Writer, pending []watcher.TriggeredWatch, asJSON bool) error {
	if asJSON {
		return writeJSON(out, pending)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WATCH\tTRIGGERED\tID")
	for _, p := range pending {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.ID.WatchID(), p.TriggerEvent.TriggeredTime.Format(time.RFC3339), p.ID)
	}
	return tw.Flush()
}

func printHistory(out io.Writer, records []*watcher.WatchRecord, asJSON bool) error {
	if asJSON {
		return writeJSON(out, records)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WATCH\tSTATE\tEXECUTED\tDURATION\tACTIONS\tMESSAGE")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.WatchID,
			r.State,
			formatTime(r.ExecutionTime),
			r.Duration.Round(time.Millisecond),
			summarizeActions(r.Actions),
			r.Message,
		)
	}
	return tw.Flush()
}

func summarizeActions(actions []watcher.ActionResult) string {
	if len(actions) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(actions))
	for _, a := range actions {
		parts = append(parts, fmt.Sprintf("%s:%s", a.ID, a.Status))
	}
	return strings.Join(parts, ",")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
