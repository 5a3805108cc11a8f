// Package logging provides component loggers for the scanshare worker.
// Records go to a rotating file, optionally to stderr, and to in-process
// subscribers such as the status TUI.
//
//	if err := logging.Init(logging.Config{Level: "info"}); err != nil {
//	    return err
//	}
//	defer logging.Close()
//
//	log := logging.Get("scheduler")
//	log.Debug("enqueue", "seq", t.Seq(), "chunk", t.ChunkID())
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
)

// Level is a record severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

func (l Level) charm() log.Level {
	switch l {
	case LevelDebug:
		return log.DebugLevel
	case LevelWarn:
		return log.WarnLevel
	case LevelError:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// ErrInvalidLevel is returned for an unknown level name.
var ErrInvalidLevel = errors.New("invalid log level")

// ParseLevel parses a level name. "warning" is accepted for warn.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("%w: %s", ErrInvalidLevel, s)
}

// Config configures the logging system.
type Config struct {
	// Level is the default level for every component.
	Level string

	// Path is the log file. Empty means DefaultLogPath().
	Path string

	Rotation RotationConfig

	// Components overrides the level per component, e.g. {"scheduler": "debug"}.
	Components map[string]string

	// ConsoleLevel mirrors records at or above this level to stderr.
	// Empty disables console output.
	ConsoleLevel string

	// TUIMode suppresses console output and keeps recent records in a
	// ring buffer for the status view.
	TUIMode bool
}

// LogEntry is a record delivered to subscribers.
type LogEntry struct {
	Time      time.Time
	Level     Level
	Component string
	Message   string

	// Fields holds the key/value pairs passed with the record.
	Fields []any
}

// Field returns the value logged under key, if present.
func (e LogEntry) Field(key string) (any, bool) {
	for i := 0; i+1 < len(e.Fields); i += 2 {
		if k, ok := e.Fields[i].(string); ok && k == key {
			return e.Fields[i+1], true
		}
	}
	return nil, false
}

// Logger writes records for one component.
type Logger struct {
	file      *log.Logger
	console   *log.Logger
	component string
	level     Level
	fields    []any
}

func (l *Logger) Debug(msg string, args ...any) { l.log(LevelDebug, msg, args) }
func (l *Logger) Info(msg string, args ...any)  { l.log(LevelInfo, msg, args) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(LevelWarn, msg, args) }
func (l *Logger) Error(msg string, args ...any) { l.log(LevelError, msg, args) }

// Enabled reports whether a record at level would reach the file or a
// subscriber. Hot paths use it to skip building arguments.
func (l *Logger) Enabled(level Level) bool {
	return level >= l.level || globalState.listening()
}

// Component returns the component name.
func (l *Logger) Component() string { return l.component }

// With returns a logger that adds args to every record.
func (l *Logger) With(args ...any) *Logger {
	nl := &Logger{
		file:      l.file.With(args...),
		component: l.component,
		level:     l.level,
		fields:    append(append([]any(nil), l.fields...), args...),
	}
	if l.console != nil {
		nl.console = l.console.With(args...)
	}
	return nl
}

func (l *Logger) log(level Level, msg string, args []any) {
	if level >= l.level {
		emit(l.file, level, msg, args)
		if l.console != nil {
			emit(l.console, level, msg, args)
		}
	}

	// Subscribers see every record regardless of the file level.
	if globalState.listening() {
		fields := args
		if len(l.fields) > 0 {
			fields = append(append([]any(nil), l.fields...), args...)
		}
		globalState.broadcast(LogEntry{
			Time:      time.Now(),
			Level:     level,
			Component: l.component,
			Message:   msg,
			Fields:    fields,
		})
	}
}

func emit(logger *log.Logger, level Level, msg string, args []any) {
	switch level {
	case LevelDebug:
		logger.Debug(msg, args...)
	case LevelInfo:
		logger.Info(msg, args...)
	case LevelWarn:
		logger.Warn(msg, args...)
	case LevelError:
		logger.Error(msg, args...)
	}
}

type state struct {
	mu          sync.RWMutex
	initialized bool
	writer      *RotatingWriter
	level       Level
	components  map[string]Level
	loggers     map[string]*Logger
	subscribers map[chan LogEntry]Level

	consoleEnabled bool
	consoleLevel   Level
	tuiMode        bool
	buffer         *LogBuffer

	// listeners counts subscribers plus the ring buffer so that loggers can
	// skip broadcasting without taking the lock.
	listeners atomic.Int32
}

var globalState = &state{
	components:  make(map[string]Level),
	loggers:     make(map[string]*Logger),
	subscribers: make(map[chan LogEntry]Level),
}

func (s *state) listening() bool { return s.listeners.Load() > 0 }

// Init (re)configures logging. Loggers obtained before Init discard file
// output but still feed subscribers; call Get again after Init.
func Init(cfg Config) error {
	globalState.mu.Lock()
	defer globalState.mu.Unlock()

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	components := make(map[string]Level, len(cfg.Components))
	for comp, name := range cfg.Components {
		lvl, err := ParseLevel(name)
		if err != nil {
			return fmt.Errorf("parsing level for component %s: %w", comp, err)
		}
		components[comp] = lvl
	}

	consoleEnabled := false
	var consoleLevel Level
	if cfg.ConsoleLevel != "" && !cfg.TUIMode {
		if consoleLevel, err = ParseLevel(cfg.ConsoleLevel); err != nil {
			return fmt.Errorf("parsing console level: %w", err)
		}
		consoleEnabled = true
	}

	path := cfg.Path
	if path == "" {
		path = DefaultLogPath()
	}
	writer, err := NewRotatingWriter(path, cfg.Rotation)
	if err != nil {
		return fmt.Errorf("creating log writer: %w", err)
	}

	if globalState.writer != nil {
		_ = globalState.writer.Close()
	}

	globalState.writer = writer
	globalState.level = level
	globalState.components = components
	globalState.consoleEnabled = consoleEnabled
	globalState.consoleLevel = consoleLevel
	globalState.tuiMode = cfg.TUIMode
	globalState.setBuffer(cfg.TUIMode)
	globalState.initialized = true

	for name := range globalState.loggers {
		globalState.loggers[name] = newLogger(name)
	}
	return nil
}

func (s *state) setBuffer(enabled bool) {
	had := s.buffer != nil
	switch {
	case enabled && !had:
		s.buffer = NewLogBuffer(DefaultBufferSize)
		s.listeners.Add(1)
	case !enabled && had:
		s.buffer = nil
		s.listeners.Add(-1)
	}
}

// Get returns the shared logger for component.
func Get(component string) *Logger {
	globalState.mu.RLock()
	l, ok := globalState.loggers[component]
	globalState.mu.RUnlock()
	if ok {
		return l
	}

	globalState.mu.Lock()
	defer globalState.mu.Unlock()
	if l, ok := globalState.loggers[component]; ok {
		return l
	}
	l = newLogger(component)
	globalState.loggers[component] = l
	return l
}

// newLogger must be called with globalState.mu held.
func newLogger(component string) *Logger {
	level := globalState.level
	if lvl, ok := globalState.components[component]; ok {
		level = lvl
	}

	if !globalState.initialized {
		return &Logger{
			file:      log.NewWithOptions(io.Discard, log.Options{Level: level.charm(), Prefix: component}),
			component: component,
			level:     level,
		}
	}

	l := &Logger{
		file: log.NewWithOptions(globalState.writer, log.Options{
			Level:           level.charm(),
			ReportTimestamp: true,
			TimeFormat:      time.RFC3339Nano,
			Prefix:          component,
		}),
		component: component,
		level:     level,
	}
	if globalState.consoleEnabled {
		l.console = log.NewWithOptions(os.Stderr, log.Options{
			Level:           globalState.consoleLevel.charm(),
			ReportTimestamp: true,
			TimeFormat:      "15:04:05.000",
			Prefix:          component,
		})
		if globalState.consoleLevel < l.level {
			l.level = globalState.consoleLevel
		}
	}
	return l
}

// Close flushes the log file and closes every subscription.
func Close() error {
	globalState.mu.Lock()
	defer globalState.mu.Unlock()

	if !globalState.initialized {
		return nil
	}

	for ch := range globalState.subscribers {
		close(ch)
		delete(globalState.subscribers, ch)
		globalState.listeners.Add(-1)
	}
	globalState.setBuffer(false)

	var err error
	if globalState.writer != nil {
		if cerr := globalState.writer.Close(); cerr != nil {
			err = fmt.Errorf("closing log writer: %w", cerr)
		}
		globalState.writer = nil
	}

	globalState.initialized = false
	globalState.level = LevelInfo
	globalState.components = make(map[string]Level)
	globalState.loggers = make(map[string]*Logger)
	return err
}

// Subscribe returns a channel receiving records at or above min. Records are
// dropped for a subscriber whose buffer is full.
func Subscribe(min Level) <-chan LogEntry {
	globalState.mu.Lock()
	defer globalState.mu.Unlock()

	ch := make(chan LogEntry, 256)
	globalState.subscribers[ch] = min
	globalState.listeners.Add(1)
	return ch
}

// Unsubscribe stops delivery to ch. The channel is left open.
func Unsubscribe(ch <-chan LogEntry) {
	globalState.mu.Lock()
	defer globalState.mu.Unlock()

	for sub := range globalState.subscribers {
		if sub == ch {
			delete(globalState.subscribers, sub)
			globalState.listeners.Add(-1)
			return
		}
	}
}

func (s *state) broadcast(e LogEntry) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.buffer != nil && e.Level >= LevelInfo {
		s.buffer.Add(e)
	}
	for ch, min := range s.subscribers {
		if e.Level < min {
			continue
		}
		select {
		case ch <- e:
		default:
		}
	}
}

// Buffer returns the TUI ring buffer, or nil outside TUI mode.
func Buffer() *LogBuffer {
	globalState.mu.RLock()
	defer globalState.mu.RUnlock()
	return globalState.buffer
}

// DefaultLogPath returns $XDG_STATE_HOME/scanshare/scanshare.log.
func DefaultLogPath() string {
	return filepath.Join(xdg.StateHome, "scanshare", "scanshare.log")
}

// DefaultConfig returns info level logging to DefaultLogPath.
func DefaultConfig() Config {
	return Config{
		Level:    "info",
		Path:     DefaultLogPath(),
		Rotation: DefaultRotationConfig(),
	}
}
