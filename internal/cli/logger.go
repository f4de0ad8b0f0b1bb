// Package cli provides the command-line interface for statekit.
package cli

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mrz1836/statekit/internal/constants"
	"github.com/mrz1836/statekit/internal/errors"
	"github.com/mrz1836/statekit/internal/logging"
)

// logFileWriter holds the log file writer for cleanup purposes.
var logFileWriter io.WriteCloser //nolint:gochecknoglobals // Needed for cleanup

// zerologConfigOnce ensures zerolog global settings are configured exactly once.
var zerologConfigOnce sync.Once //nolint:gochecknoglobals // One-time configuration

// configureZerologGlobals sets zerolog global field names to match the
// engine's log entry structure. Safe for concurrent use.
func configureZerologGlobals() {
	zerologConfigOnce.Do(func() {
		zerolog.TimestampFieldName = "ts"
		zerolog.MessageFieldName = "event"
	})
}

// InitLogger creates and configures a zerolog.Logger based on verbosity
// flags.
//
// Log levels:
//   - verbose=true: Debug level
//   - quiet=true: Warn level
//   - default: Info level
//
// Output format is determined by the terminal: console writer on a TTY
// without NO_COLOR, JSON to stderr otherwise. The logger also writes to
// <base>/logs/statekit.log with rotation; if the log file cannot be
// created, console-only logging continues.
func InitLogger(baseDir string, verbose, quiet bool) zerolog.Logger {
	configureZerologGlobals()

	level := selectLevel(verbose, quiet)
	hook := logging.NewSensitiveDataHook()
	console := selectOutput()

	var writer io.Writer = console
	if fileWriter, err := createLogFileWriter(baseDir); err == nil {
		logFileWriter = fileWriter
		writer = zerolog.MultiLevelWriter(console, fileWriter)
	}

	logger := zerolog.New(writer).Level(level).Hook(hook).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

// CloseLogFile closes the global log file writer if it was opened.
// Call during application shutdown.
func CloseLogFile() {
	if logFileWriter != nil {
		_ = logFileWriter.Close()
		logFileWriter = nil
	}
}

// selectLevel determines the log level from flags.
func selectLevel(verbose, quiet bool) zerolog.Level {
	switch {
	case verbose:
		return zerolog.DebugLevel
	case quiet:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}

// selectOutput picks console or JSON output based on terminal
// capabilities and NO_COLOR.
func selectOutput() io.Writer {
	if term.IsTerminal(int(os.Stderr.Fd())) && os.Getenv("NO_COLOR") == "" {
		return zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.Kitchen,
		}
	}
	return os.Stderr
}

// filteringWriteCloser wraps a WriteCloser with sensitive data filtering.
type filteringWriteCloser struct {
	filter *logging.FilteringWriter
	closer io.Closer
}

func (fwc *filteringWriteCloser) Write(p []byte) (n int, err error) {
	return fwc.filter.Write(p)
}

func (fwc *filteringWriteCloser) Close() error {
	return fwc.closer.Close()
}

// createLogFileWriter creates a rotating file writer for the engine log,
// wrapped with a filtering writer so sensitive data never reaches disk.
func createLogFileWriter(baseDir string) (io.WriteCloser, error) {
	if baseDir == "" {
		baseDir = constants.DefaultBaseDir
	}
	logDir := filepath.Join(baseDir, constants.LogsDir)
	if err := os.MkdirAll(logDir, constants.DirPerm); err != nil {
		return nil, errors.Wrap(err, "failed to create log directory")
	}

	lj := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, constants.EngineLogFileName),
		MaxSize:    constants.LogMaxSizeMB,
		MaxBackups: constants.LogMaxBackups,
		MaxAge:     constants.LogMaxAgeDays,
		Compress:   constants.LogCompress,
	}

	return &filteringWriteCloser{
		filter: logging.NewFilteringWriter(lj),
		closer: lj,
	}, nil
}
