package audit_test

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/statekit/internal/audit"
	"github.com/mrz1836/statekit/internal/domain"
)

func newLogger(t *testing.T) (*audit.Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "security-audit.log")
	l := audit.NewLogger(path, audit.Options{
		// Long interval so tests control flushing explicitly.
		FlushInterval: time.Hour,
	})
	t.Cleanup(func() { _ = l.Close() })
	return l, path
}

func readEvents(t *testing.T, path string) []domain.SecurityEvent {
	t.Helper()
	f, err := os.Open(path) //#nosec G304 -- test path
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	var events []domain.SecurityEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e domain.SecurityEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		events = append(events, e)
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestLog(t *testing.T) {
	t.Parallel()

	t.Run("buffers until flushed", func(t *testing.T) {
		t.Parallel()
		l, path := newLogger(t)
		require.NoError(t, l.Log(domain.EventStateRead, "read ok", nil))
		assert.Empty(t, readEvents(t, path), "event must stay buffered")

		require.NoError(t, l.Flush())
		events := readEvents(t, path)
		require.Len(t, events, 1)
		assert.Equal(t, domain.EventStateRead, events[0].Type)
		assert.Equal(t, domain.SeverityInfo, events[0].Severity)
		assert.Positive(t, events[0].PID)
		assert.NotEmpty(t, events[0].User)
	})

	t.Run("critical events flush immediately", func(t *testing.T) {
		t.Parallel()
		l, path := newLogger(t)
		require.NoError(t, l.Log(domain.EventSecretsDetected, "refused", map[string]any{"findings": 2}))

		events := readEvents(t, path)
		require.Len(t, events, 1)
		assert.Equal(t, domain.SeverityCritical, events[0].Severity)
		assert.NotEmpty(t, events[0].StackTrace, "critical events carry a stack trace")
	})

	t.Run("error severity captures a stack trace", func(t *testing.T) {
		t.Parallel()
		l, path := newLogger(t)
		require.NoError(t, l.Log(domain.EventPermissionChange, "chmod", nil))
		require.NoError(t, l.Flush())
		events := readEvents(t, path)
		require.Len(t, events, 1)
		assert.Equal(t, domain.SeverityError, events[0].Severity)
		assert.NotEmpty(t, events[0].StackTrace)
	})

	t.Run("info severity omits the stack trace", func(t *testing.T) {
		t.Parallel()
		l, path := newLogger(t)
		require.NoError(t, l.Log(domain.EventBackupCreated, "snapshot", nil))
		require.NoError(t, l.Flush())
		events := readEvents(t, path)
		require.Len(t, events, 1)
		assert.Empty(t, events[0].StackTrace)
	})

	t.Run("closed logger rejects events", func(t *testing.T) {
		t.Parallel()
		l, _ := newLogger(t)
		require.NoError(t, l.Close())
		err := l.Log(domain.EventStateRead, "too late", nil)
		assert.Error(t, err)
	})
}

func TestGetStatistics(t *testing.T) {
	t.Parallel()

	l, _ := newLogger(t)
	require.NoError(t, l.Log(domain.EventStateWrite, "w1", nil))
	require.NoError(t, l.Log(domain.EventStateWrite, "w2", nil))
	require.NoError(t, l.Log(domain.EventSuspicious, "odd", nil))
	require.NoError(t, l.Log(domain.EventDecryptionFailure, "bad tag", nil))
	require.NoError(t, l.Log(domain.EventLockTimeout, "slow", nil))
	require.NoError(t, l.Log(domain.EventAccessDenied, "nope", nil))

	stats, err := l.GetStatistics(nil)
	require.NoError(t, err)

	assert.Equal(t, 6, stats.Total)
	assert.Equal(t, 2, stats.ByType[domain.EventStateWrite])
	assert.Equal(t, 1, stats.SuspiciousActivities)
	// DECRYPTION_FAILURE + LOCK_TIMEOUT + ACCESS_DENIED
	assert.Equal(t, 3, stats.FailedOperations)
	assert.Equal(t, 1, stats.BySeverity[domain.SeverityCritical])

	t.Run("since filter excludes older events", func(t *testing.T) {
		future := time.Now().Add(time.Hour)
		filtered, err := l.GetStatistics(&future)
		require.NoError(t, err)
		assert.Zero(t, filtered.Total)
	})
}
