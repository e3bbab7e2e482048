package trigger

import (
	"time"

	rcron "github.com/robfig/cron/v3"

	watcher "github.com/goliatone/go-watcher"
)

// LogLevel controls how much of the cron runtime chatter is forwarded.
type LogLevel int

const (
	LogLevelSilent LogLevel = iota
	LogLevelError
	LogLevelInfo
	LogLevelDebug
)

// Parser selects the accepted cron expression syntax.
type Parser int

const (
	// DefaultParser accepts five fields plus descriptors such as @every.
	DefaultParser Parser = iota
	StandardParser
	// SecondsParser adds a leading seconds field.
	SecondsParser
)

type Option func(*ScheduleEngine)

// WithLocation sets the timezone schedules are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(e *ScheduleEngine) {
		if loc != nil {
			e.location = loc
		}
	}
}

func WithLogger(logger watcher.Logger) Option {
	return func(e *ScheduleEngine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithLogLevel(level LogLevel) Option {
	return func(e *ScheduleEngine) {
		e.logLevel = level
	}
}

func WithParser(p Parser) Option {
	return func(e *ScheduleEngine) {
		e.parser = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *ScheduleEngine) {
		if now != nil {
			e.now = now
		}
	}
}

func (p Parser) build() rcron.Parser {
	switch p {
	case SecondsParser:
		return rcron.NewParser(rcron.Second | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor)
	default:
		return rcron.NewParser(rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor)
	}
}

// loggerAdapter adapts watcher.Logger to the robfig/cron logger
type loggerAdapter struct {
	logger watcher.Logger
	level  LogLevel
}

func (l *loggerAdapter) Info(msg string, args ...any) {
	if l.level >= LogLevelInfo {
		l.logger.Debug("cron: "+msg+" %v", args)
	}
}

func (l *loggerAdapter) Error(err error, msg string, args ...any) {
	if l.level >= LogLevelError {
		l.logger.Error("cron: %s %v: %v", msg, args, err)
	}
}

var _ rcron.Logger = (*loggerAdapter)(nil)
