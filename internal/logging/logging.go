// Package logging provides structured, leveled logging.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
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

// Logger writes leveled key=value log lines.
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
}

// New creates a Logger writing to stderr at Info level.
func New() *Logger {
	return &Logger{
		output:   os.Stderr,
		minLevel: LevelInfo,
	}
}

// WithComponent returns a logger tagged with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stderr).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
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

func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

// log writes: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// InvokeStart logs the start of an agent invocation.
func (l *Logger) InvokeStart(agent, role, continuationID string) {
	l.Info("invoke_start", map[string]interface{}{
		"agent":        agent,
		"role":         role,
		"continuation": continuationID,
	})
}

// InvokeComplete logs the completion of an agent invocation.
func (l *Logger) InvokeComplete(agent, role, status string, duration time.Duration) {
	l.Info("invoke_complete", map[string]interface{}{
		"agent":    agent,
		"role":     role,
		"status":   status,
		"duration": duration.String(),
	})
}

// LaunchStart logs a subprocess launch.
func (l *Logger) LaunchStart(agent, executable string) {
	l.Debug("launch_start", map[string]interface{}{
		"agent":      agent,
		"executable": executable,
	})
}

// LaunchComplete logs a subprocess exit.
func (l *Logger) LaunchComplete(agent string, exitCode int, timedOut bool, duration time.Duration) {
	fields := map[string]interface{}{
		"agent":     agent,
		"exit_code": exitCode,
		"duration":  duration.String(),
	}
	if timedOut {
		fields["timed_out"] = true
		l.Warn("launch_timeout", fields)
		return
	}
	l.Debug("launch_complete", fields)
}

// ConversationEvicted logs removal of an inactive conversation.
func (l *Logger) ConversationEvicted(id string, idle time.Duration) {
	l.Debug("conversation_evicted", map[string]interface{}{
		"continuation": id,
		"idle":         idle.String(),
	})
}

// RegistryReloaded logs a configuration hot reload.
func (l *Logger) RegistryReloaded(agents int) {
	l.Info("registry_reloaded", map[string]interface{}{
		"agents": agents,
	})
}
