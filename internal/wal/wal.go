// Package wal implements the append-only write-ahead log backing the
// transaction coordinator. Entries are JSON objects, one per line; a
// non-empty log means a transaction is in flight or was interrupted by a
// crash.
package wal

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mrz1836/statekit/internal/clock"
	"github.com/mrz1836/statekit/internal/constants"
	"github.com/mrz1836/statekit/internal/domain"
	"github.com/mrz1836/statekit/internal/errors"
)

// Options tune a Log.
type Options struct {
	// RateLimit is the number of appends allowed per RateWindow.
	// Zero selects the default.
	RateLimit int

	// RateWindow is the rolling window for the append rate limit.
	// Zero selects the default.
	RateWindow time.Duration

	// MaxSize is the rotation threshold in bytes. Zero selects the default.
	MaxSize int64

	// Clock supplies timestamps; nil selects the real clock.
	Clock clock.Clock
}

// Log is an append-only JSON-lines write-ahead log.
type Log struct {
	path    string
	maxSize int64
	clk     clock.Clock
	limiter *rate.Limiter

	mu        sync.Mutex
	cache     []domain.WALEntry
	replaying bool
}

// New constructs a Log at path. The log directory must lie under the
// process working directory, the system temp directory, or /tmp; any
// other location is rejected.
func New(path string, opts Options) (*Log, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve wal path")
	}
	if err := checkPathSafety(abs); err != nil {
		return nil, err
	}

	limit := opts.RateLimit
	if limit <= 0 {
		limit = constants.WALRateLimit
	}
	window := opts.RateWindow
	if window <= 0 {
		window = constants.WALRateWindow
	}
	maxSize := opts.MaxSize
	if maxSize <= 0 {
		maxSize = constants.WALMaxSize
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}

	return &Log{
		path:    abs,
		maxSize: maxSize,
		clk:     clk,
		limiter: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit),
	}, nil
}

// checkPathSafety rejects WAL locations outside the working directory,
// the system temp directory, and /tmp.
func checkPathSafety(path string) error {
	roots := []string{os.TempDir(), "/tmp"}
	if wd, err := os.Getwd(); err == nil {
		roots = append(roots, wd)
	}
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(abs, path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil
		}
	}
	return errors.Wrapf(errors.ErrWALPathUnsafe, "path %s", path)
}

// Append stamps the entry with the current time and durably writes it as
// one JSON line. The call backs off under the rate limit; a canceled
// context surfaces the limiter error.
func (l *Log) Append(ctx context.Context, entry domain.WALEntry) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return errors.Wrap(errors.ErrWALRateLimited, err.Error())
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry.Timestamp = clock.Millis(l.clk.Now())
	line, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "failed to encode wal entry")
	}
	line = append(line, '\n')

	if err := os.MkdirAll(filepath.Dir(l.path), constants.DirPerm); err != nil {
		return errors.Wrap(err, "failed to create wal directory")
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, constants.FilePerm) //#nosec G304 -- path validated at construction
	if err != nil {
		return errors.Wrap(err, "failed to open wal")
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(line); err != nil {
		return errors.Wrap(err, "failed to append wal entry")
	}
	if err := f.Sync(); err != nil {
		return errors.Wrap(err, "failed to sync wal")
	}

	l.cache = append(l.cache, entry)
	return nil
}

// Replay reads every entry in append order. Malformed lines (including a
// torn tail from a crash) are skipped. Concurrent replays short-circuit
// to an empty result.
func (l *Log) Replay() ([]domain.WALEntry, error) {
	l.mu.Lock()
	if l.replaying {
		l.mu.Unlock()
		return nil, nil
	}
	l.replaying = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.replaying = false
		l.mu.Unlock()
	}()

	f, err := os.Open(l.path) //#nosec G304 -- path validated at construction
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.WALEntry{}, nil
		}
		return nil, errors.Wrap(err, "failed to open wal")
	}
	defer func() { _ = f.Close() }()

	var entries []domain.WALEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry domain.WALEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			// Torn or garbage line; tolerate and continue.
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read wal")
	}
	return entries, nil
}

// Clear removes the log file and the in-memory cache.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cache = nil
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to clear wal")
	}
	return nil
}

// Exists reports whether the log file is present on disk.
func (l *Log) Exists() bool {
	_, err := os.Stat(l.path)
	return err == nil
}

// Size returns the log file size in bytes, zero when absent.
func (l *Log) Size() (int64, error) {
	info, err := os.Stat(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "failed to stat wal")
	}
	return info.Size(), nil
}

// CreateBackup copies the log to wal-<timestamp>.backup next to it and
// returns the backup path. A missing log is not an error.
func (l *Log) CreateBackup() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	src, err := os.Open(l.path) //#nosec G304 -- path validated at construction
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", errors.Wrap(err, "failed to open wal for backup")
	}
	defer func() { _ = src.Close() }()

	stamp := l.clk.Now().UTC().Format("2006-01-02T15-04-05.000Z")
	backupPath := filepath.Join(filepath.Dir(l.path), "wal-"+stamp+".backup")
	dst, err := os.OpenFile(backupPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, constants.FilePerm) //#nosec G304 -- derived from validated path
	if err != nil {
		return "", errors.Wrap(err, "failed to create wal backup")
	}
	defer func() { _ = dst.Close() }()

	if _, err := io.Copy(dst, src); err != nil {
		return "", errors.Wrap(err, "failed to copy wal backup")
	}
	if err := dst.Sync(); err != nil {
		return "", errors.Wrap(err, "failed to sync wal backup")
	}
	return backupPath, nil
}

// Rotate backs up and clears the log when it exceeds the size threshold.
// Returns true when a rotation happened.
func (l *Log) Rotate() (bool, error) {
	size, err := l.Size()
	if err != nil {
		return false, err
	}
	if size <= l.maxSize {
		return false, nil
	}
	if _, err := l.CreateBackup(); err != nil {
		return false, err
	}
	if err := l.Clear(); err != nil {
		return false, err
	}
	return true, nil
}

// Path returns the absolute log file path.
func (l *Log) Path() string { return l.path }
