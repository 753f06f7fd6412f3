// Package logging provides levelled, component-scoped console logging for
// the message bus, the task manager and the applications built on them.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	agenterrors "github.com/vinayprograms/coordkit/errors"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel converts a case-insensitive level name into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO", "":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	default:
		return "", fmt.Errorf("unknown log level: %q", s)
	}
}

// sink is shared by a logger and everything derived from it, so that
// component loggers writing to the same output never interleave lines.
type sink struct {
	mu       sync.Mutex
	output   io.Writer
	minLevel Level
}

// Logger writes lines in the form: LEVEL TIMESTAMP [component] message key=value ...
type Logger struct {
	sink      *sink
	component string
	traceID   string
}

// New creates a new Logger writing INFO and above to stdout.
func New() *Logger {
	return &Logger{sink: &sink{output: os.Stdout, minLevel: LevelInfo}}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{sink: &sink{output: io.Discard, minLevel: LevelError}}
}

// WithComponent returns a logger sharing this logger's output, tagged with component.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{sink: l.sink, component: component, traceID: l.traceID}
}

// WithTraceID returns a logger that adds trace_id to every line.
func (l *Logger) WithTraceID(traceID string) *Logger {
	return &Logger{sink: l.sink, component: l.component, traceID: traceID}
}

// SetLevel sets the minimum log level for this logger and all loggers
// derived from the same root.
func (l *Logger) SetLevel(level Level) {
	l.sink.mu.Lock()
	l.sink.minLevel = level
	l.sink.mu.Unlock()
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	l.sink.output = w
	l.sink.mu.Unlock()
}

// Enabled reports whether a message at level would be written.
func (l *Logger) Enabled(level Level) bool {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return levelPriority[level] >= levelPriority[l.sink.minLevel]
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields renders fields as key=value pairs in key order.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}

func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if !l.Enabled(level) {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}
	if l.traceID != "" {
		fieldStr += " trace_id=" + l.traceID
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.output.Write([]byte(line))
}

// --- Coordination helpers ---

// MessageDropped logs a message that was discarded without delivery.
func (l *Logger) MessageDropped(messageID, messageType string, reason error) {
	fields := map[string]interface{}{
		"message_id": messageID,
		"type":       messageType,
		"reason":     reason.Error(),
	}
	addErrorCode(fields, reason)
	l.Debug("message_dropped", fields)
}

// CallbackFailed logs a subscriber that returned an error or panicked.
func (l *Logger) CallbackFailed(messageID, target string, err error) {
	fields := map[string]interface{}{
		"message_id": messageID,
		"target":     target,
		"error":      err.Error(),
	}
	addErrorCode(fields, err)
	l.Error("callback_failed", fields)
}

// TaskTransition logs a task status change.
func (l *Logger) TaskTransition(taskID, taskType, from, to string) {
	l.Debug("task_transition", map[string]interface{}{
		"task_id": taskID,
		"type":    taskType,
		"from":    from,
		"to":      to,
	})
}

// TaskFinished logs the outcome of a task handler.
func (l *Logger) TaskFinished(taskID, taskType string, duration time.Duration, err error) {
	fields := map[string]interface{}{
		"task_id":  taskID,
		"type":     taskType,
		"duration": duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		addErrorCode(fields, err)
		l.Error("task_failed", fields)
		return
	}
	l.Info("task_completed", fields)
}

// addErrorCode records the structured code of err, if any, and whether a
// retry could succeed.
func addErrorCode(fields map[string]interface{}, err error) {
	code := agenterrors.Code(err)
	if code == "" {
		return
	}
	fields["code"] = string(code)
	fields["retryable"] = agenterrors.IsRetryable(err)
}
