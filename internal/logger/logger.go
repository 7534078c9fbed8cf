// Package logger is the process-wide leveled logger. Lines look like
// "[2006-01-02 15:04:05] [LEVEL] [component] message".
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
)

// Level is the logging level.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "INFO"
	}
}

type sink struct {
	level  Level
	logger *log.Logger
	closer io.Closer
}

var global atomic.Pointer[sink]

// Init configures the global logger. A disabled logger drops everything.
// With no file, or with console set, lines also go to stdout.
func Init(enabled bool, levelStr, logFile string, console bool) error {
	if !enabled {
		swap(nil)
		return nil
	}

	var writers []io.Writer
	var closer io.Closer
	if logFile != "" {
		dir := filepath.Dir(logFile)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}
	if console || len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	swap(&sink{
		level:  ParseLevel(levelStr),
		logger: log.New(io.MultiWriter(writers...), "", 0),
		closer: closer,
	})
	return nil
}

// SetOutput routes the global logger to w. Tests use it to capture lines.
func SetOutput(w io.Writer, level Level) {
	swap(&sink{level: level, logger: log.New(w, "", 0)})
}

// Close releases the log file, if any, and disables logging.
func Close() error {
	return swap(nil)
}

func swap(next *sink) error {
	prev := global.Swap(next)
	if prev != nil && prev.closer != nil {
		return prev.closer.Close()
	}
	return nil
}

// ParseLevel maps a config string to a Level. Unknown strings mean Info.
func ParseLevel(levelStr string) Level {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return Debug
	case "warn", "warning":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

func emit(level Level, component, format string, args ...interface{}) {
	s := global.Load()
	if s == nil || level < s.level {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05")
	msg := fmt.Sprintf(format, args...)
	if component != "" {
		s.logger.Printf("[%s] [%s] [%s] %s", ts, level, component, msg)
		return
	}
	s.logger.Printf("[%s] [%s] %s", ts, level, msg)
}

// Enabled reports whether a line at level would be written.
func Enabled(level Level) bool {
	s := global.Load()
	return s != nil && level >= s.level
}

// Debugf logs a debug message.
func Debugf(format string, args ...interface{}) { emit(Debug, "", format, args...) }

// Infof logs an info message.
func Infof(format string, args ...interface{}) { emit(Info, "", format, args...) }

// Warnf logs a warning.
func Warnf(format string, args ...interface{}) { emit(Warn, "", format, args...) }

// Errorf logs an error message.
func Errorf(format string, args ...interface{}) { emit(Error, "", format, args...) }

// Component logs through the global logger with a fixed component tag.
type Component struct {
	name string
}

// Named returns a logger that tags every line with component.
func Named(component string) Component {
	return Component{name: component}
}

func (c Component) Debugf(format string, args ...interface{}) { emit(Debug, c.name, format, args...) }
func (c Component) Infof(format string, args ...interface{})  { emit(Info, c.name, format, args...) }
func (c Component) Warnf(format string, args ...interface{})  { emit(Warn, c.name, format, args...) }
func (c Component) Errorf(format string, args ...interface{}) { emit(Error, c.name, format, args...) }
