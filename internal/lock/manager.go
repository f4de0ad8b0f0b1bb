// Package lock provides cross-process advisory locking via YAML lock
// files. Acquisition uses exclusive-create semantics with a read-back
// ownership check; held locks are renewed by a heartbeat and reclaimed
// by other processes once stale.
package lock

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/mrz1836/statekit/internal/clock"
	"github.com/mrz1836/statekit/internal/constants"
	"github.com/mrz1836/statekit/internal/domain"
	"github.com/mrz1836/statekit/internal/errors"
)

// Options tune a Manager.
type Options struct {
	// Timeout is the default acquisition deadline. Zero selects the default.
	Timeout time.Duration

	// RetryInterval is the sleep between acquisition attempts.
	// Zero selects the default.
	RetryInterval time.Duration

	// Expiry is how long a lock stays valid without renewal.
	// Zero selects the default. The heartbeat runs at Expiry/3.
	Expiry time.Duration

	// Clock supplies timestamps; nil selects the real clock.
	Clock clock.Clock
}

// Manager acquires and releases named advisory locks in one directory.
type Manager struct {
	dir           string
	pathFor       func(name string) string
	timeout       time.Duration
	retryInterval time.Duration
	expiry        time.Duration
	clk           clock.Clock

	mu   sync.Mutex
	held map[string]*heldLock
}

// heldLock tracks one lock this process owns.
type heldLock struct {
	lockID string
	path   string
	stop   chan struct{}
	done   chan struct{}
}

// NewManager creates a Manager storing lock files under dir as
// <name>.lock.
func NewManager(dir string, opts Options) *Manager {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultLockTimeout
	}
	retry := opts.RetryInterval
	if retry <= 0 {
		retry = constants.LockRetryInterval
	}
	expiry := opts.Expiry
	if expiry <= 0 {
		expiry = constants.LockExpiry
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Manager{
		dir:           dir,
		pathFor:       func(name string) string { return filepath.Join(dir, name+".lock") },
		timeout:       timeout,
		retryInterval: retry,
		expiry:        expiry,
		clk:           clk,
		held:          make(map[string]*heldLock),
	}
}

// Acquire obtains the named lock, waiting up to timeout (the manager
// default when zero). On success a heartbeat renews the lock at a third
// of its expiry until release.
func (m *Manager) Acquire(ctx context.Context, name string, timeout time.Duration) error {
	if name == "" {
		return errors.Wrap(errors.ErrEmptyValue, "lock name")
	}
	if timeout <= 0 {
		timeout = m.timeout
	}

	if err := os.MkdirAll(m.dir, constants.DirPerm); err != nil {
		return errors.Wrap(err, "failed to create lock directory")
	}

	deadline := m.clk.Now().Add(timeout)
	path := m.pathFor(name)
	waiterRecorded := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		acquired, lockID, err := m.tryAcquire(path, name)
		if err != nil {
			return err
		}
		if acquired {
			m.startHeartbeat(name, path, lockID)
			return nil
		}

		// Lock exists. Reclaim it if stale, otherwise queue up and wait.
		if m.reclaimIfStale(path) {
			continue
		}
		if !waiterRecorded {
			m.recordWaiter(path)
			waiterRecorded = true
		}

		if m.clk.Now().After(deadline) {
			return errors.Wrapf(errors.ErrLockTimeout, "lock %q not acquired within %s", name, timeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.retryInterval):
		}
	}
}

// tryAcquire attempts an exclusive create of the lock file and confirms
// ownership by reading back the persisted lock id.
func (m *Manager) tryAcquire(path, name string) (bool, string, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, constants.FilePerm) //#nosec G304 -- path derived from lock name under the managed dir
	if err != nil {
		if os.IsExist(err) {
			return false, "", nil
		}
		return false, "", errors.Wrap(err, "failed to create lock file")
	}

	lockID := uuid.NewString()
	lf := m.newLockFile(lockID, name)
	raw, err := yaml.Marshal(lf)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return false, "", errors.Wrap(err, "failed to encode lock file")
	}
	if _, err := f.Write(raw); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return false, "", errors.Wrap(err, "failed to write lock file")
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return false, "", errors.Wrap(err, "failed to sync lock file")
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return false, "", errors.Wrap(err, "failed to close lock file")
	}

	// Read-back check: a non-atomic store on an exotic filesystem could
	// interleave with another writer. The persisted lock id is the authority.
	persisted, err := readLockFile(path)
	if err != nil || persisted.LockID != lockID {
		return false, "", nil
	}
	return true, lockID, nil
}

// reclaimIfStale deletes the lock file when it is expired or its owner
// process is gone. Returns true when a reclaim happened.
func (m *Manager) reclaimIfStale(path string) bool {
	lf, err := readLockFile(path)
	if err != nil {
		// Unreadable lock files are treated as stale; a partially written
		// file from a crashed owner should not wedge every future writer.
		_ = os.Remove(path)
		return true
	}

	now := clock.Millis(m.clk.Now())
	expired := now > lf.Timing.ExpiresAt

	ownerGone := false
	if lf.Metadata.PID != os.Getpid() {
		if host, err := os.Hostname(); err == nil && host == lf.Metadata.Hostname {
			ownerGone = !processAlive(lf.Metadata.PID)
		}
	}

	if expired || ownerGone {
		_ = os.Remove(path)
		return true
	}
	return false
}

// recordWaiter appends this pid to the lock's waiting list, idempotently.
// Best effort: contention on the file is harmless.
func (m *Manager) recordWaiter(path string) {
	lf, err := readLockFile(path)
	if err != nil {
		return
	}
	pid := os.Getpid()
	for _, w := range lf.Concurrency.WaitingProcesses {
		if w.PID == pid {
			return
		}
	}
	lf.Concurrency.WaitingProcesses = append(lf.Concurrency.WaitingProcesses, domain.LockWaiter{
		PID:   pid,
		Since: clock.Millis(m.clk.Now()),
	})
	raw, err := yaml.Marshal(lf)
	if err != nil {
		return
	}
	_ = os.WriteFile(path, raw, constants.FilePerm)
}

// Release frees the named lock if this process owns it. Releasing a lock
// held by someone else, or not held at all, is a no-op.
func (m *Manager) Release(name string) error {
	m.mu.Lock()
	h, ok := m.held[name]
	if ok {
		delete(m.held, name)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	close(h.stop)
	<-h.done

	lf, err := readLockFile(h.path)
	if err == nil && lf.LockID == h.lockID {
		if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "failed to remove lock file")
		}
	}
	return nil
}

// ReleaseAll frees every lock this process holds. Used on shutdown paths.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	names := make([]string, 0, len(m.held))
	for name := range m.held {
		names = append(names, name)
	}
	m.mu.Unlock()
	for _, name := range names {
		_ = m.Release(name)
	}
}

// WithLock acquires the named lock, runs op, and releases on all exit
// paths.
func (m *Manager) WithLock(ctx context.Context, name string, timeout time.Duration, op func() error) error {
	if err := m.Acquire(ctx, name, timeout); err != nil {
		return err
	}
	defer func() { _ = m.Release(name) }()
	return op()
}

// Held reports whether this process currently holds the named lock.
func (m *Manager) Held(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[name]
	return ok
}

// startHeartbeat registers the lock as held and renews it at a third of
// the expiry interval until released.
func (m *Manager) startHeartbeat(name, path, lockID string) {
	h := &heldLock{
		lockID: lockID,
		path:   path,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	m.mu.Lock()
	m.held[name] = h
	m.mu.Unlock()

	interval := m.expiry / 3
	go func() {
		defer close(h.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-h.stop:
				return
			case <-ticker.C:
				m.renew(h)
			}
		}
	}()
}

// renew rewrites the lock's renewal and expiry timestamps. Ownership is
// re-checked so a reclaimed lock is never overwritten.
func (m *Manager) renew(h *heldLock) {
	lf, err := readLockFile(h.path)
	if err != nil || lf.LockID != h.lockID {
		return
	}
	now := m.clk.Now()
	lf.Timing.RenewedAt = clock.Millis(now)
	lf.Timing.ExpiresAt = clock.Millis(now.Add(m.expiry))
	raw, err := yaml.Marshal(lf)
	if err != nil {
		return
	}
	_ = os.WriteFile(h.path, raw, constants.FilePerm)
}

// newLockFile builds the YAML document describing this acquisition.
func (m *Manager) newLockFile(lockID, operation string) *domain.LockFile {
	now := m.clk.Now()
	hostname, _ := os.Hostname()
	return &domain.LockFile{
		Version: domain.LockFileVersion,
		LockID:  lockID,
		Metadata: domain.LockMetadata{
			PID:      os.Getpid(),
			PPID:     os.Getppid(),
			Hostname: hostname,
			User:     currentUser(),
		},
		Timing: domain.LockTiming{
			AcquiredAt: clock.Millis(now),
			ExpiresAt:  clock.Millis(now.Add(m.expiry)),
		},
		Operation: domain.LockOperation{
			Type:       operation,
			StackTrace: captureStack(),
		},
		Concurrency: domain.LockConcurrency{
			WaitingProcesses: []domain.LockWaiter{},
		},
	}
}

// readLockFile reads and decodes a lock file.
func readLockFile(path string) (*domain.LockFile, error) {
	raw, err := os.ReadFile(path) //#nosec G304 -- path derived from lock name under the managed dir
	if err != nil {
		return nil, err
	}
	var lf domain.LockFile
	if err := yaml.Unmarshal(raw, &lf); err != nil {
		return nil, err
	}
	if lf.LockID == "" {
		return nil, errors.Wrap(errors.ErrEmptyValue, "lock id")
	}
	return &lf, nil
}

// currentUser reads the audit identity from the environment.
func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	if u := os.Getenv("USERNAME"); u != "" {
		return u
	}
	return "unknown"
}

// captureStack records the acquiring goroutine's stack for diagnostics.
func captureStack() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
