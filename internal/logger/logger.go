// Package logger is the process-wide levelled logger. Output goes to stdout,
// optionally to a rotated file under the log directory, and to any live
// subscribers (the websocket stream).
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the severity level of a log message.
type LogLevel string

const (
	Debug LogLevel = "DEBUG"
	Info  LogLevel = "INFO"
	Warn  LogLevel = "WARN"
	Error LogLevel = "ERROR"
)

// FileName is the name of the rotated log file inside the log directory.
const FileName = "repeatd.log"

var priorities = map[LogLevel]int{
	Debug: 0,
	Info:  1,
	Warn:  2,
	Error: 3,
}

// levelPriority returns the numeric priority of a level; unknown levels rank as Info.
func levelPriority(level LogLevel) int {
	if p, ok := priorities[level]; ok {
		return p
	}
	return priorities[Info]
}

// ParseLevel maps "debug", "info", "warn" and "error" (any case) to a LogLevel.
func ParseLevel(s string) (LogLevel, bool) {
	level := LogLevel(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := priorities[level]; ok {
		return level, true
	}
	return Info, false
}

// LogEntry is a single log message as streamed to subscribers.
type LogEntry struct {
	Timestamp string   `json:"timestamp"`
	Level     LogLevel `json:"level"`
	Message   string   `json:"message"`
}

var (
	mu         sync.Mutex
	minLevel   = Info
	listeners  []chan LogEntry
	fileLogger *lumberjack.Logger
)

func init() {
	log.SetOutput(os.Stdout)
	log.SetFlags(0) // timestamps are written by Log
}

// SetLevel sets the minimum level. Unrecognised values fall back to info.
func SetLevel(level string) {
	parsed, _ := ParseLevel(level)
	mu.Lock()
	minLevel = parsed
	mu.Unlock()
}

// CurrentLevel returns the minimum level currently written.
func CurrentLevel() LogLevel {
	mu.Lock()
	defer mu.Unlock()
	return minLevel
}

// Init adds a rotated log file in logDir alongside stdout.
func Init(logDir string) error {
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()

	if fileLogger != nil {
		_ = fileLogger.Close()
	}
	fileLogger = &lumberjack.Logger{
		Filename:   filepath.Join(logDir, FileName),
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, fileLogger))
	return nil
}

// Close flushes and detaches the log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	log.SetOutput(os.Stdout)
	if fileLogger == nil {
		return nil
	}
	err := fileLogger.Close()
	fileLogger = nil
	return err
}

// GetLogDir returns the directory log files are written to, or "" before Init.
func GetLogDir() string {
	mu.Lock()
	defer mu.Unlock()
	if fileLogger != nil {
		return filepath.Dir(fileLogger.Filename)
	}
	return ""
}

// Subscribe returns a channel receiving every entry written from now on.
func Subscribe() chan LogEntry {
	mu.Lock()
	defer mu.Unlock()
	ch := make(chan LogEntry, 100)
	listeners = append(listeners, ch)
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func Unsubscribe(ch chan LogEntry) {
	mu.Lock()
	defer mu.Unlock()
	for i, l := range listeners {
		if l == ch {
			listeners = append(listeners[:i], listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// Log writes a formatted message at the given level.
func Log(level LogLevel, format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if levelPriority(level) < levelPriority(minLevel) {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().Format(time.RFC3339),
		Level:     level,
		Message:   fmt.Sprintf(format, v...),
	}
	log.Printf("%s [%s] %s", entry.Timestamp, entry.Level, entry.Message)

	for _, ch := range listeners {
		select {
		case ch <- entry:
		default:
			// slow subscriber, drop
		}
	}
}

// Debugf logs a formatted message at DEBUG level.
func Debugf(format string, v ...interface{}) {
	Log(Debug, format, v...)
}

// Infof logs a formatted message at INFO level.
func Infof(format string, v ...interface{}) {
	Log(Info, format, v...)
}

// Warnf logs a formatted message at WARN level.
func Warnf(format string, v ...interface{}) {
	Log(Warn, format, v...)
}

// Errorf logs a formatted message at ERROR level.
func Errorf(format string, v ...interface{}) {
	Log(Error, format, v...)
}
