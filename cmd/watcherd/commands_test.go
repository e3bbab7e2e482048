package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	watcher "github.com/goliatone/go-watcher"
)

const testWatches = `
watches:
  - id: disk
    schedule: "@every 1h"
    input:
      type: simple
      payload: {used: 91}
    condition:
      type: compare
      path: used
      op: gt
      value: 90
    actions:
      - id: log
        type: logging
        text: "disk at {{ .payload.used }}"
  - id: quiet
    schedule: "@every 1h"
    condition:
      type: never
`

func testGlobals(t *testing.T) *Globals {
	t.Helper()
	dir := t.TempDir()
	watches := filepath.Join(dir, "watches.yaml")
	require.NoError(t, os.WriteFile(watches, []byte(testWatches), 0o600))
	return &Globals{
		Store:    filepath.Join(dir, "watcher.db"),
		Watches:  watches,
		LogLevel: "error",
	}
}

func TestCLIParse(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli, kong.Name("watcherd"), kong.Bind(&cli.Globals))
	require.NoError(t, err)

	_, err = parser.Parse([]string{"--store", "x.db", "fire", "disk", "quiet"})
	require.NoError(t, err)
	assert.Equal(t, "x.db", cli.Store)
	assert.Equal(t, []string{"disk", "quiet"}, cli.Fire.IDs)

	_, err = parser.Parse([]string{"history", "disk", "-n", "5"})
	require.NoError(t, err)
	assert.Equal(t, "disk", cli.History.Watch)
	assert.Equal(t, 5, cli.History.Limit)
}

func TestFireRecordsHistory(t *testing.T) {
	g := testGlobals(t)

	fire := &FireCmd{All: true, Timeout: 10 * time.Second}
	require.NoError(t, fire.Run(g))

	cfg, err := loadConfig(g)
	require.NoError(t, err)
	a, err := openStores(cfg, watcher.NopLogger{})
	require.NoError(t, err)
	defer a.close(context.Background())

	ctx := context.Background()
	require.NoError(t, a.history.Start(ctx))
	require.NoError(t, a.triggered.Start(ctx))

	records, err := a.history.List(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	states := map[string]watcher.ExecutionState{}
	for _, r := range records {
		states[r.WatchID] = r.State
	}
	assert.Equal(t, watcher.ExecutionStateExecuted, states["disk"])
	assert.Equal(t, watcher.ExecutionStateExecutionNotNeeded, states["quiet"])

	pending, err := a.triggered.LoadTriggeredWatches(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	buf := &bytes.Buffer{}
	require.NoError(t, printHistory(buf, records, false))
	assert.Contains(t, buf.String(), "log:success")
}

func TestFireWithoutIDs(t *testing.T) {
	g := testGlobals(t)
	err := (&FireCmd{Timeout: time.Second}).Run(g)
	require.Error(t, err)
	assert.True(t, watcher.HasCode(err, watcher.ErrCodeInvalidConfig))
}

func TestPrintPending(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	event := watcher.NewTriggerEvent("disk", now, now, nil)
	pending := []watcher.TriggeredWatch{{ID: watcher.NewWid("disk", now), TriggerEvent: event}}

	buf := &bytes.Buffer{}
	require.NoError(t, printPending(buf, pending, false))
	assert.Contains(t, buf.String(), "disk")
	assert.Contains(t, buf.String(), "2024-03-01T12:00:00Z")

	buf.Reset()
	require.NoError(t, printPending(buf, pending, true))
	assert.Contains(t, buf.String(), `"job_name": "disk"`)
}
