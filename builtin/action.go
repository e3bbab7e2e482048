package builtin

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	watcher "github.com/goliatone/go-watcher"
)

const TypeLogging = "logging"

// LoggingAction renders a template against the run and writes it to a logger.
type LoggingAction struct {
	tmpl   *template.Template
	level  string
	logger watcher.Logger
}

func (a *LoggingAction) Type() string { return TypeLogging }

func (a *LoggingAction) Execute(ctx context.Context, wctx *watcher.ExecutionContext) watcher.ActionResult {
	result := watcher.ActionResult{Type: TypeLogging, Status: watcher.StatusSuccess}

	data := map[string]any{
		"watch_id":       wctx.WatchID(),
		"execution_id":   wctx.ID().String(),
		"execution_time": wctx.ExecutionTime(),
		"trigger":        wctx.TriggerEvent(),
		"payload":        map[string]any(wctx.Payload()),
	}

	var out strings.Builder
	if err := a.tmpl.Execute(&out, data); err != nil {
		result.Status = watcher.StatusFailure
		result.Reason = fmt.Sprintf("render template: %v", err)
		return result
	}
	message := out.String()

	logger := watcher.WithLoggerFields(a.logger.WithContext(ctx), map[string]any{
		"watch_id":     wctx.WatchID(),
		"execution_id": wctx.ID().String(),
	})
	switch a.level {
	case "debug":
		logger.Debug("%s", message)
	case "warn":
		logger.Warn("%s", message)
	case "error":
		logger.Error("%s", message)
	default:
		logger.Info("%s", message)
	}

	result.Details = map[string]any{"message": message, "level": a.level}
	return result
}

func newLoggingAction(opts Options, logger watcher.Logger) (watcher.Action, error) {
	text, ok := opts.String("text")
	if !ok || text == "" {
		return nil, fmt.Errorf("logging action requires text")
	}
	tmpl, err := template.New(TypeLogging).Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse text template: %w", err)
	}
	level, _ := opts.String("level")
	level = strings.ToLower(level)
	switch level {
	case "":
		level = "info"
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	return &LoggingAction{tmpl: tmpl, level: level, logger: watcher.NormalizeLogger(logger)}, nil
}
