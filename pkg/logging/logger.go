package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// NewLogger creates a logger for the given format ("json" or "text")
func NewLogger(writer io.Writer, level Level, format string) Logger {
	if strings.EqualFold(format, FormatText) {
		return NewTextLogger(writer, level)
	}
	return NewJSONLogger(writer, level)
}

// NewJSONLogger creates a new JSON logger
func NewJSONLogger(writer io.Writer, level Level) *JSONLogger {
	return &JSONLogger{
		out:    newOutput(writer, level),
		fields: make([]Field, 0),
	}
}

func newOutput(writer io.Writer, level Level) *output {
	o := &output{writer: writer}
	o.level.Store(int32(level))
	return o
}

// NewDefaultLogger creates a logger that writes to stdout at INFO level
func NewDefaultLogger() *JSONLogger {
	return NewJSONLogger(os.Stdout, InfoLevel)
}

// log is the internal logging method
func (l *JSONLogger) log(level Level, msg string, fields ...Field) {
	if level < l.GetLevel() {
		return
	}

	// Build field map
	fieldMap := make(map[string]any)

	// Add pre-set fields
	for _, f := range l.fields {
		fieldMap[f.Key] = f.Value
	}

	// Add new fields
	for _, f := range fields {
		fieldMap[f.Key] = f.Value
	}

	entry := LogEntry{
		Time:    time.Now().Format(time.RFC3339Nano),
		Level:   level.String(),
		Message: msg,
	}

	// Only include fields if there are any
	if len(fieldMap) > 0 {
		entry.Fields = fieldMap
	}

	data, err := json.Marshal(entry)

	l.out.mu.Lock()
	defer l.out.mu.Unlock()

	if err != nil {
		// Fallback to simple text logging if JSON marshal fails
		fmt.Fprintf(l.out.writer, "[ERROR] Failed to marshal log entry: %v\n", err)
		return
	}

	l.out.writer.Write(append(data, '\n'))
}

// Debug logs a debug-level message
func (l *JSONLogger) Debug(msg string, fields ...Field) {
	l.log(DebugLevel, msg, fields...)
}

// Info logs an info-level message
func (l *JSONLogger) Info(msg string, fields ...Field) {
	l.log(InfoLevel, msg, fields...)
}

// Warn logs a warning-level message
func (l *JSONLogger) Warn(msg string, fields ...Field) {
	l.log(WarnLevel, msg, fields...)
}

// Error logs an error-level message
func (l *JSONLogger) Error(msg string, fields ...Field) {
	l.log(ErrorLevel, msg, fields...)
}

// With creates a child logger with the given fields pre-set
func (l *JSONLogger) With(fields ...Field) Logger {
	return &JSONLogger{
		out:    l.out,
		fields: mergeFields(l.fields, fields),
	}
}

// SetLevel sets the minimum log level
func (l *JSONLogger) SetLevel(level Level) {
	l.out.level.Store(int32(level))
}

// GetLevel returns the current log level
func (l *JSONLogger) GetLevel() Level {
	return Level(l.out.level.Load())
}

// NewTextLogger creates a logger writing `time LEVEL msg key=value ...` lines
func NewTextLogger(writer io.Writer, level Level) *TextLogger {
	return &TextLogger{
		out: newOutput(writer, level),
	}
}

func (l *TextLogger) log(level Level, msg string, fields ...Field) {
	if level < l.GetLevel() {
		return
	}

	all := mergeFields(l.fields, fields)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Key < all[j].Key })

	var b strings.Builder
	b.WriteString(time.Now().Format("15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(fmt.Sprintf("%-5s", level.String()))
	b.WriteByte(' ')
	b.WriteString(msg)
	for _, f := range all {
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	b.WriteByte('\n')

	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	io.WriteString(l.out.writer, b.String())
}

func (l *TextLogger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields...) }
func (l *TextLogger) Info(msg string, fields ...Field)  { l.log(InfoLevel, msg, fields...) }
func (l *TextLogger) Warn(msg string, fields ...Field)  { l.log(WarnLevel, msg, fields...) }
func (l *TextLogger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields...) }

// With creates a child logger with the given fields pre-set
func (l *TextLogger) With(fields ...Field) Logger {
	return &TextLogger{
		out:    l.out,
		fields: mergeFields(l.fields, fields),
	}
}

// SetLevel sets the minimum log level
func (l *TextLogger) SetLevel(level Level) {
	l.out.level.Store(int32(level))
}

// GetLevel returns the current log level
func (l *TextLogger) GetLevel() Level {
	return Level(l.out.level.Load())
}

func mergeFields(base, extra []Field) []Field {
	merged := make([]Field, len(base)+len(extra))
	copy(merged, base)
	copy(merged[len(base):], extra)
	return merged
}

// Global default logger
var (
	defaultLogger Logger
	defaultMu     sync.RWMutex
	once          sync.Once
)

// DefaultLogger returns the global default logger.
// LOG_LEVEL and LOG_FORMAT configure it on first use.
func DefaultLogger() Logger {
	once.Do(func() {
		level := InfoLevel
		if levelStr := os.Getenv("LOG_LEVEL"); levelStr != "" {
			level = ParseLevel(levelStr)
		}
		defaultMu.Lock()
		if defaultLogger == nil {
			defaultLogger = NewLogger(os.Stdout, level, os.Getenv("LOG_FORMAT"))
		}
		defaultMu.Unlock()
	})
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefaultLogger sets the global default logger
func SetDefaultLogger(logger Logger) {
	once.Do(func() {})
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = logger
}

// Helper functions that use the default logger

// Debug logs a debug-level message using the default logger
func Debug(msg string, fields ...Field) {
	DefaultLogger().Debug(msg, fields...)
}

// Info logs an info-level message using the default logger
func Info(msg string, fields ...Field) {
	DefaultLogger().Info(msg, fields...)
}

// Warn logs a warning-level message using the default logger
func Warn(msg string, fields ...Field) {
	DefaultLogger().Warn(msg, fields...)
}

// ErrorLog logs an error-level message using the default logger
// Named ErrorLog to avoid conflict with Error field constructor
func ErrorLog(msg string, fields ...Field) {
	DefaultLogger().Error(msg, fields...)
}

// With creates a child logger with the given fields pre-set using the default logger
func With(fields ...Field) Logger {
	return DefaultLogger().With(fields...)
}

// StartTimer begins timing an operation
func StartTimer(logger Logger, msg string, fields ...Field) *TimedOperation {
	return &TimedOperation{
		logger: logger,
		msg:    msg,
		start:  time.Now(),
		fields: fields,
	}
}

// Elapsed returns the time since the operation started
func (t *TimedOperation) Elapsed() time.Duration {
	return time.Since(t.start)
}

// End logs the operation with its duration
func (t *TimedOperation) End(fields ...Field) {
	t.logger.Info(t.msg, append(mergeFields(t.fields, fields), Latency(t.Elapsed()))...)
}

// EndWithLevel logs the operation at the specified level with its duration
func (t *TimedOperation) EndWithLevel(level Level, msg string, fields ...Field) {
	all := append(mergeFields(t.fields, fields), Latency(t.Elapsed()))
	switch level {
	case DebugLevel:
		t.logger.Debug(msg, all...)
	case InfoLevel:
		t.logger.Info(msg, all...)
	case WarnLevel:
		t.logger.Warn(msg, all...)
	case ErrorLevel:
		t.logger.Error(msg, all...)
	}
}

// EndError logs the operation as an error with its duration
func (t *TimedOperation) EndError(err error) {
	t.logger.Error(t.msg, append(mergeFields(t.fields, nil), Latency(t.Elapsed()), Error(err))...)
}
