// Command watcherd runs watches on their schedules and records every run.
package main

import (
	"github.com/alecthomas/kong"
)

// Globals are flags shared by every command. They override the config file.
type Globals struct {
	Config   string `short:"c" help:"Path to the engine config file." type:"path"`
	Store    string `help:"SQLite database path, overrides store.path."`
	Watches  string `help:"Watch definitions file, overrides watches.file."`
	LogLevel string `help:"Log level, overrides log.level."`
}

type CLI struct {
	Globals

	Run     RunCmd     `cmd:"" default:"withargs" help:"Start the engine and execute watches on their schedules."`
	Fire    FireCmd    `cmd:"" help:"Trigger watches once and wait for them to finish."`
	Pending PendingCmd `cmd:"" help:"List triggered watches that have not finished."`
	History HistoryCmd `cmd:"" help:"Show recorded watch executions."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("watcherd"),
		kong.Description("Trigger driven watch execution engine."),
		kong.UsageOnError(),
		kong.Bind(&cli.Globals),
	)
	ctx.FatalIfErrorf(ctx.Run())
}
