// Package audit provides the buffered, append-only security audit log.
// Events are buffered in memory, flushed on a fixed interval, and forced
// to disk immediately for CRITICAL severities. Rotation is handled by
// lumberjack with a bounded set of rolled files.
package audit

import (
	"encoding/json"
	"os"
	"runtime"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mrz1836/statekit/internal/clock"
	"github.com/mrz1836/statekit/internal/constants"
	"github.com/mrz1836/statekit/internal/domain"
	"github.com/mrz1836/statekit/internal/errors"
)

// Options tune a Logger.
type Options struct {
	// FlushInterval is how often the buffer drains. Zero selects the default.
	FlushInterval time.Duration

	// MaxSizeMB and MaxBackups configure rotation. Zero selects defaults.
	MaxSizeMB  int
	MaxBackups int

	// Clock supplies timestamps; nil selects the real clock.
	Clock clock.Clock
}

// Logger buffers security events and appends them as JSON lines.
type Logger struct {
	path string
	clk  clock.Clock

	mu     sync.Mutex
	buf    []domain.SecurityEvent
	sink   *lumberjack.Logger
	closed bool

	stop chan struct{}
	done chan struct{}
}

// NewLogger creates a Logger writing to path and starts its flush loop.
func NewLogger(path string, opts Options) *Logger {
	interval := opts.FlushInterval
	if interval <= 0 {
		interval = constants.SecurityAuditFlushInterval
	}
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = constants.SecurityAuditMaxSizeMB
	}
	maxBackups := opts.MaxBackups
	if maxBackups <= 0 {
		maxBackups = constants.SecurityAuditMaxBackups
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}

	l := &Logger{
		path: path,
		clk:  clk,
		sink: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
		},
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	go l.flushLoop(interval)
	return l
}

// Log records an event with the default severity for its type.
func (l *Logger) Log(t domain.SecurityEventType, message string, details map[string]any) error {
	return l.LogWithSeverity(t, domain.DefaultSeverity(t), message, details)
}

// LogWithSeverity records an event at an explicit severity. ERROR and
// CRITICAL events capture a stack trace; CRITICAL forces an immediate
// flush.
func (l *Logger) LogWithSeverity(t domain.SecurityEventType, severity domain.Severity, message string, details map[string]any) error {
	hostname, _ := os.Hostname()
	event := domain.SecurityEvent{
		Timestamp: clock.Millis(l.clk.Now()),
		Type:      t,
		Severity:  severity,
		Message:   message,
		Details:   details,
		User:      auditUser(),
		PID:       os.Getpid(),
		Hostname:  hostname,
	}
	if severity == domain.SeverityError || severity == domain.SeverityCritical {
		event.StackTrace = captureStack()
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return errors.ErrAuditClosed
	}
	l.buf = append(l.buf, event)
	l.mu.Unlock()

	if severity == domain.SeverityCritical {
		return l.Flush()
	}
	return nil
}

// Flush drains the buffer to disk.
func (l *Logger) Flush() error {
	l.mu.Lock()
	pending := l.buf
	l.buf = nil
	l.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	for _, event := range pending {
		line, err := json.Marshal(event)
		if err != nil {
			return errors.Wrap(err, "failed to encode security event")
		}
		line = append(line, '\n')
		if _, err := l.sink.Write(line); err != nil {
			return errors.Wrap(err, "failed to write security event")
		}
	}
	return nil
}

// Close flushes remaining events and stops the flush loop.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.stop)
	<-l.done

	if err := l.Flush(); err != nil {
		return err
	}
	return l.sink.Close()
}

// Path returns the audit log file path.
func (l *Logger) Path() string { return l.path }

func (l *Logger) flushLoop(interval time.Duration) {
	defer close(l.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			_ = l.Flush()
		}
	}
}

// auditUser reads the audit identity from the environment.
func auditUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	if u := os.Getenv("USERNAME"); u != "" {
		return u
	}
	return "unknown"
}

// captureStack records the calling goroutine's stack.
func captureStack() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
