package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level represents the logging level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps LOG_LEVEL values onto a Level, defaulting to INFO
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Config configures the logger with rotation settings
type Config struct {
	// Filename is the file to write logs to; "", "-" and "stdout" mean stdout
	Filename string

	MaxSize    int  // megabytes before rotation, default 100
	MaxBackups int  // rotated files kept, default 3
	MaxAge     int  // days to keep rotated files, default 28
	Compress   bool // gzip rotated files
	LocalTime  bool

	// Level is the minimum logging level
	Level Level

	// Output overrides the destination (tests)
	Output io.Writer
}

// DefaultConfig returns sensible defaults
func DefaultConfig(filename string) Config {
	return Config{
		Filename:   filename,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
		LocalTime:  true,
		Level:      INFO,
	}
}

// sink is shared by every Logger derived through WithField(s)
type sink struct {
	mu      sync.Mutex
	out     *log.Logger
	writer  io.Writer
	rotator *lumberjack.Logger
}

// Logger writes leveled lines with key=value fields
type Logger struct {
	sink   *sink
	level  Level
	fields map[string]any
}

// NewWithConfig creates a new logger with rotation configuration
func NewWithConfig(cfg Config) (*Logger, error) {
	s := &sink{}

	switch {
	case cfg.Output != nil:
		s.writer = cfg.Output
	case cfg.Filename == "" || cfg.Filename == "-" || cfg.Filename == "stdout":
		s.writer = os.Stdout
	default:
		logDir := filepath.Dir(cfg.Filename)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
		}
		s.rotator = &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
			LocalTime:  cfg.LocalTime,
		}
		s.writer = s.rotator
	}
	s.out = log.New(s.writer, "", 0)

	return &Logger{
		sink:   s,
		level:  cfg.Level,
		fields: make(map[string]any),
	}, nil
}

// New creates a logger for logfile, falling back to stdout when the file cannot be opened
func New(logfile string, level Level) *Logger {
	cfg := DefaultConfig(logfile)
	cfg.Level = level
	l, err := NewWithConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to create log file %s: %v. Falling back to stdout.\n", logfile, err)
		l, _ = NewWithConfig(Config{Output: os.Stdout, Level: level})
	}
	return l
}

// Writer exposes the destination so Fiber's access log can share it
func (l *Logger) Writer() io.Writer {
	return l.sink.writer
}

// Rotate triggers an immediate log rotation
func (l *Logger) Rotate() error {
	if l.sink.rotator != nil {
		return l.sink.rotator.Rotate()
	}
	return nil
}

// Close closes the log file if using rotation
func (l *Logger) Close() error {
	if l.sink.rotator != nil {
		return l.sink.rotator.Close()
	}
	return nil
}

func (l *Logger) SetLevel(level Level) {
	l.level = level
}

func (l *Logger) derive(extra map[string]any) *Logger {
	fields := make(map[string]any, len(l.fields)+len(extra))
	for k, v := range l.fields {
		fields[k] = v
	}
	for k, v := range extra {
		fields[k] = v
	}
	return &Logger{sink: l.sink, level: l.level, fields: fields}
}

// WithField adds a field to the logger
func (l *Logger) WithField(key string, value any) *Logger {
	return l.derive(map[string]any{key: value})
}

// WithFields adds multiple fields to the logger
func (l *Logger) WithFields(fields map[string]any) *Logger {
	return l.derive(fields)
}

func (l *Logger) WithError(err error) *Logger {
	return l.WithField("error", err)
}

// WithComponent tags lines with the subsystem emitting them
func (l *Logger) WithComponent(name string) *Logger {
	return l.WithField("component", name)
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case error:
		return val.Error()
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

func (l *Logger) log(level Level, msg string, args ...any) {
	if level < l.level {
		return
	}

	message := msg
	if len(args) > 0 {
		message = fmt.Sprintf(msg, args...)
	}

	var b strings.Builder
	b.WriteString("[")
	b.WriteString(time.Now().Format("2006-01-02 15:04:05.000"))
	b.WriteString("] ")
	b.WriteString(level.String())
	b.WriteString(": ")
	b.WriteString(message)

	if len(l.fields) > 0 {
		keys := make([]string, 0, len(l.fields))
		for k := range l.fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(" | ")
			b.WriteString(k)
			b.WriteString("=")
			b.WriteString(formatValue(l.fields[k]))
		}
	}

	l.sink.mu.Lock()
	l.sink.out.Println(b.String())
	l.sink.mu.Unlock()
}

func (l *Logger) Printf(format string, args ...any) {
	l.log(INFO, format, args...)
}

func (l *Logger) Debug(msg string, args ...any) {
	l.log(DEBUG, msg, args...)
}

func (l *Logger) Info(msg string, args ...any) {
	l.log(INFO, msg, args...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.log(WARN, msg, args...)
}

func (l *Logger) Error(msg string, args ...any) {
	l.log(ERROR, msg, args...)
}

// Fatal logs a fatal error and exits
func (l *Logger) Fatal(msg string, args ...any) {
	l.log(ERROR, msg, args...)
	os.Exit(1)
}

var defaultLogger *Logger

func init() {
	defaultLogger, _ = NewWithConfig(Config{Output: os.Stdout, Level: INFO})
}

// SetDefault sets the default global logger
func SetDefault(logger *Logger) {
	defaultLogger = logger
}

// GetDefault returns the default global logger
func GetDefault() *Logger {
	return defaultLogger
}

func Info(msg string, args ...any) {
	defaultLogger.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	defaultLogger.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
}

func Debug(msg string, args ...any) {
	defaultLogger.Debug(msg, args...)
}

func WithField(key string, value any) *Logger {
	return defaultLogger.WithField(key, value)
}

func WithFields(fields map[string]any) *Logger {
	return defaultLogger.WithFields(fields)
}

func WithError(err error) *Logger {
	return defaultLogger.WithError(err)
}

func WithComponent(name string) *Logger {
	return defaultLogger.WithComponent(name)
}
