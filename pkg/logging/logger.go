// Package logging provides structured file logging for chatbridge
// components. All components of one process append to the same run-scoped
// file under ~/.chatbridge/logs/, each line tagged with its component and
// level.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger writes level-tagged lines for one component.
//
// All log methods (Debugf, Infof, Warnf, Errorf) write unconditionally;
// there is no level filtering.
type Logger struct {
	runID     string
	component string
	file      *os.File
	logger    *log.Logger
	mu        sync.Mutex
	logPath   string
	closeOnce sync.Once
}

var (
	// Run ID shared by every component logger of this process.
	runID     string
	runIDOnce sync.Once

	logDir   string
	initOnce sync.Once
	initErr  error
)

func getRunID() string {
	runIDOnce.Do(func() {
		runID = uuid.New().String()
	})
	return runID
}

func initLogDirectory() error {
	initOnce.Do(func() {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			initErr = fmt.Errorf("failed to get home directory: %w", err)
			return
		}

		logDir = filepath.Join(homeDir, ".chatbridge", "logs")
		if err := os.MkdirAll(logDir, 0750); err != nil {
			initErr = fmt.Errorf("failed to create log directory: %w", err)
			return
		}
	})
	return initErr
}

// NewLogger creates a logger for a specific component. The logger writes to
// ~/.chatbridge/logs/<run-id>-chatbridge.log.
//
// If the log directory or file cannot be set up, a fallback logger writing
// to stderr is returned along with the error, so callers never end up
// without a usable logger.
func NewLogger(component string) (*Logger, error) {
	if err := initLogDirectory(); err != nil {
		return newFallbackLogger(component, err), err
	}

	id := getRunID()
	logPath := filepath.Join(logDir, fmt.Sprintf("%s-chatbridge.log", id))

	// Append mode: multiple components share the run's file.
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		err = fmt.Errorf("failed to open log file: %w", err)
		return newFallbackLogger(component, err), err
	}

	return &Logger{
		runID:     id,
		component: component,
		file:      file,
		logger:    log.New(file, "", 0),
		logPath:   logPath,
	}, nil
}

// Discard returns a logger that drops everything it is given. Intended for
// tests and for components that have not been handed a real logger.
func Discard() *Logger {
	return &Logger{
		runID:     getRunID(),
		component: "discard",
		logger:    log.New(io.Discard, "", 0),
	}
}

func newFallbackLogger(component string, err error) *Logger {
	logger := log.New(os.Stderr, fmt.Sprintf("[%s] ", component), log.LstdFlags)
	logger.Printf("WARNING: failed to initialize file logging: %v", err)

	return &Logger{
		runID:     getRunID(),
		component: component,
		logger:    logger,
	}
}

func (l *Logger) formatEntry(level, message string) string {
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	return fmt.Sprintf("[%s] [%s] [%s] %s", timestamp, l.component, level, message)
}

func (l *Logger) write(level, format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Println(l.formatEntry(level, fmt.Sprintf(format, v...)))
}

// Debugf logs a debug-level message.
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.write("DEBUG", format, v...)
}

// Infof logs an info-level message.
func (l *Logger) Infof(format string, v ...interface{}) {
	l.write("INFO", format, v...)
}

// Warnf logs a warning-level message.
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.write("WARN", format, v...)
}

// Errorf logs an error-level message.
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.write("ERROR", format, v...)
}

// Writer returns an io.Writer targeting this logger's destination.
func (l *Logger) Writer() io.Writer {
	if l.file != nil {
		return l.file
	}
	return os.Stderr
}

// RunID returns the process-wide run identifier.
func (l *Logger) RunID() string {
	return l.runID
}

// LogPath returns the path of the log file, or "" for a fallback logger.
func (l *Logger) LogPath() string {
	return l.logPath
}

// Close closes the log file. Safe to call multiple times.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}
