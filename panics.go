package watcher

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

type PanicLogger func(funcName string, err any, stack []byte, fields ...map[string]any)

// MakePanicHandler returns a function meant to be deferred directly. It
// recovers a panic and hands it to logger along with a trimmed stack.
func MakePanicHandler(logger PanicLogger) func(funcName string, fields ...map[string]any) {
	return func(funcName string, fields ...map[string]any) {
		if err := recover(); err != nil {
			logger(funcName, err, PanicStack(), fields...)
		}
	}
}

// LoggerPanicLogger reports recovered panics through logger at error level.
func LoggerPanicLogger(logger Logger) PanicLogger {
	logger = NormalizeLogger(logger)
	return func(funcName string, err any, stack []byte, fields ...map[string]any) {
		l := logger
		if len(fields) > 0 && fields[0] != nil {
			l = WithLoggerFields(logger, fields[0])
		}
		l.Error("recovered from panic in %s: %v (%T)\n%s", funcName, err, err, stack)
	}
}

// PanicError converts a recovered value into an error carrying the stack.
func PanicError(funcName string, recovered any) error {
	if err, ok := recovered.(error); ok {
		return CloneError(ErrUnexpectedFailure, fmt.Sprintf("panic in %s: %v", funcName, err), err, map[string]any{
			"stack": string(PanicStack()),
		})
	}
	return CloneError(ErrUnexpectedFailure, fmt.Sprintf("panic in %s: %v", funcName, recovered), nil, map[string]any{
		"stack": string(PanicStack()),
	})
}

// PanicStack captures the current goroutine stack without the panic frames.
func PanicStack() []byte {
	fullStack := make([]byte, 8096)
	n := runtime.Stack(fullStack, false)
	return cleanStackTrace(fullStack[:n])
}

func cleanStackTrace(stack []byte) []byte {
	lines := strings.Split(string(stack), "\n")

	// we find the index after the panic line
	panicLineIndex := -1
	for i, line := range lines {
		if strings.Contains(line, "panic(") {
			panicLineIndex = i
			break
		}
	}

	// remove the panic() call line & file reference line
	if panicLineIndex >= 0 && panicLineIndex+2 < len(lines) {
		lines = lines[panicLineIndex+2:]
	}

	return []byte(strings.Join(lines, "\n"))
}

// GetGoroutineID parses the id of the calling goroutine from its stack header.
func GetGoroutineID() uint64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	fields := strings.Fields(strings.TrimPrefix(string(buf), "goroutine "))
	if len(fields) == 0 {
		return 0
	}
	id, _ := strconv.ParseUint(fields[0], 10, 64)
	return id
}
