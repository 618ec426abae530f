// Package logging provides structured logging for the go-tgtbs project
package logging

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with backing-store specific structured fields
type Logger struct {
	zlog   zerolog.Logger
	device string
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// LogLevel represents the available log levels
type LogLevel int

const (
	LevelDebug LogLevel = LogLevel(zerolog.DebugLevel)
	LevelInfo  LogLevel = LogLevel(zerolog.InfoLevel)
	LevelWarn  LogLevel = LogLevel(zerolog.WarnLevel)
	LevelError LogLevel = LogLevel(zerolog.ErrorLevel)
)

// ParseLevel maps a level name to a LogLevel, defaulting to info.
func ParseLevel(s string) LogLevel {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || lvl == zerolog.NoLevel {
		return LevelInfo
	}
	return LogLevel(lvl)
}

// Config holds logging configuration
type Config struct {
	Level   LogLevel
	Format  string // "json" or "text"
	Output  io.Writer
	Sync    bool // If true, writes are synchronous (useful for testing)
	NoColor bool // If true, disables ANSI color codes (useful for testing)
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// asyncWriter wraps an io.Writer with an async buffered channel so that
// worker goroutines never block on log output.
type asyncWriter struct {
	out    io.Writer
	ch     chan []byte
	done   chan struct{}
	closed bool
	mu     sync.Mutex
}

func newAsyncWriter(w io.Writer, bufferSize int) *asyncWriter {
	aw := &asyncWriter{
		out:  w,
		ch:   make(chan []byte, bufferSize),
		done: make(chan struct{}),
	}
	go aw.run()
	return aw
}

func (aw *asyncWriter) run() {
	defer close(aw.done)
	for msg := range aw.ch {
		aw.out.Write(msg)
	}
}

func (aw *asyncWriter) Write(p []byte) (n int, err error) {
	aw.mu.Lock()
	defer aw.mu.Unlock()
	if aw.closed {
		return 0, io.ErrClosedPipe
	}

	// p is reused by zerolog after Write returns
	msg := make([]byte, len(p))
	copy(msg, p)

	// Drop rather than block when the buffer is full
	select {
	case aw.ch <- msg:
	default:
	}
	return len(p), nil
}

func (aw *asyncWriter) Close() error {
	aw.mu.Lock()
	if !aw.closed {
		aw.closed = true
		close(aw.ch)
	}
	aw.mu.Unlock()
	<-aw.done
	return nil
}

// NewLogger creates a new structured logger
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Output == nil {
		config.Output = os.Stderr
	}

	var output io.Writer = config.Output
	if !config.Sync {
		output = newAsyncWriter(config.Output, 1000)
	}

	var zlog zerolog.Logger
	switch config.Format {
	case "json":
		zlog = zerolog.New(output).With().Timestamp().Logger()
	default:
		consoleWriter := zerolog.ConsoleWriter{Out: output, NoColor: config.NoColor}
		zlog = zerolog.New(consoleWriter).With().Timestamp().Logger()
	}

	zlog = zlog.Level(zerolog.Level(config.Level))

	return &Logger{
		zlog: zlog,
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// Default returns the default logger, creating it if necessary
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// WithDevice returns a logger with device context
func (l *Logger) WithDevice(name string) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Str("device", name).Logger(),
		device: name,
	}
}

// WithTemplate returns a logger with backing-store template context
func (l *Logger) WithTemplate(name string) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Str("template", name).Logger(),
		device: l.device,
	}
}

// WithWorker returns a logger with worker context
func (l *Logger) WithWorker(id int) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Int("worker", id).Logger(),
		device: l.device,
	}
}

// WithComponent returns a logger tagged with a pool component ("relay", "reactor")
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Str("component", name).Logger(),
		device: l.device,
	}
}

// WithCommand returns a logger with command context
func (l *Logger) WithCommand(tag uint64, op string) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Uint64("tag", tag).Str("op", op).Logger(),
		device: l.device,
	}
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Err(err).Logger(),
		device: l.device,
	}
}

// Device returns the device name attached with WithDevice, if any.
func (l *Logger) Device() string {
	return l.device
}

func withFields(event *zerolog.Event, args []any) *zerolog.Event {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		if err, isErr := args[i+1].(error); isErr {
			event = event.AnErr(key, err)
			continue
		}
		event = event.Interface(key, args[i+1])
	}
	return event
}

// Standard logging methods
func (l *Logger) Debug(msg string, args ...any) {
	withFields(l.zlog.Debug(), args).Msg(msg)
}

func (l *Logger) Info(msg string, args ...any) {
	withFields(l.zlog.Info(), args).Msg(msg)
}

func (l *Logger) Warn(msg string, args ...any) {
	withFields(l.zlog.Warn(), args).Msg(msg)
}

func (l *Logger) Error(msg string, args ...any) {
	withFields(l.zlog.Error(), args).Msg(msg)
}

// Context-aware logging
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.Debug(msg, args...)
}

func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.Info(msg, args...)
}

func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.Warn(msg, args...)
}

func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.Error(msg, args...)
}

// Convenience functions for global logger
func Debug(msg string, args ...any) {
	Default().Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	Default().Error(msg, args...)
}
