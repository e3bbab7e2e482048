package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/goliatone/go-logger/glog"

	watcher "github.com/goliatone/go-watcher"
	"github.com/goliatone/go-watcher/config"
)

// glogLogger adapts go-logger to the watcher contract. Engine messages are
// printf style, so they are rendered before reaching glog.
type glogLogger struct {
	logger glog.Logger
}

func newLogger(cfg config.LogConfig, out io.Writer) watcher.Logger {
	level := strings.ToLower(strings.TrimSpace(cfg.Level))
	if level == "" {
		level = "info"
	}
	var base glog.Logger
	if strings.EqualFold(cfg.Format, "json") {
		base = glog.NewLogger(
			glog.WithWriter(out),
			glog.WithLoggerTypeJSON(),
			glog.WithLevel(level),
		)
	} else {
		base = glog.NewLogger(
			glog.WithWriter(out),
			glog.WithLevel(level),
		)
	}
	return glogLogger{logger: base}
}

func (l glogLogger) Trace(msg string, args ...any) { l.logger.Trace(render(msg, args)) }
func (l glogLogger) Debug(msg string, args ...any) { l.logger.Debug(render(msg, args)) }
func (l glogLogger) Info(msg string, args ...any)  { l.logger.Info(render(msg, args)) }
func (l glogLogger) Warn(msg string, args ...any)  { l.logger.Warn(render(msg, args)) }
func (l glogLogger) Error(msg string, args ...any) { l.logger.Error(render(msg, args)) }
func (l glogLogger) Fatal(msg string, args ...any) { l.logger.Fatal(render(msg, args)) }

func (l glogLogger) WithContext(ctx context.Context) watcher.Logger {
	if l.logger == nil {
		return watcher.NewFmtLogger(nil).WithContext(ctx)
	}
	return glogLogger{logger: l.logger.WithContext(ctx)}
}

func (l glogLogger) WithFields(fields map[string]any) watcher.Logger {
	if l.logger == nil {
		return watcher.NewFmtLogger(nil).WithFields(fields)
	}
	if fl, ok := l.logger.(glog.FieldsLogger); ok {
		return glogLogger{logger: fl.WithFields(fields)}
	}
	return l
}

func render(msg string, args []any) string {
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}
