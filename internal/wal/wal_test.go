package wal_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/statekit/internal/domain"
	"github.com/mrz1836/statekit/internal/errors"
	"github.com/mrz1836/statekit/internal/wal"
)

func newLog(t *testing.T) *wal.Log {
	t.Helper()
	l, err := wal.New(filepath.Join(t.TempDir(), ".wal", "wal.log"), wal.Options{
		RateLimit: 10000,
	})
	require.NoError(t, err)
	return l
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("accepts paths under the temp directory", func(t *testing.T) {
		t.Parallel()
		_, err := wal.New(filepath.Join(t.TempDir(), "wal.log"), wal.Options{})
		assert.NoError(t, err)
	})

	t.Run("rejects paths outside allowed roots", func(t *testing.T) {
		t.Parallel()
		_, err := wal.New("/etc/statekit/wal.log", wal.Options{})
		assert.ErrorIs(t, err, errors.ErrWALPathUnsafe)
	})
}

func TestAppendReplay(t *testing.T) {
	t.Parallel()

	t.Run("replays entries in append order", func(t *testing.T) {
		t.Parallel()
		l := newLog(t)
		ctx := context.Background()

		require.NoError(t, l.Append(ctx, domain.WALEntry{Op: domain.WALOpWrite, Key: "/a", Value: map[string]any{"v": 1}}))
		require.NoError(t, l.Append(ctx, domain.WALEntry{Op: domain.WALOpWrite, Key: "/b", Value: map[string]any{"v": 2}}))
		require.NoError(t, l.Append(ctx, domain.WALEntry{Op: domain.WALOpDelete, Key: "/c"}))

		entries, err := l.Replay()
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, "/a", entries[0].Key)
		assert.Equal(t, "/b", entries[1].Key)
		assert.Equal(t, "/c", entries[2].Key)
		assert.Equal(t, domain.WALOpDelete, entries[2].Op)
		assert.Positive(t, entries[0].Timestamp)
	})

	t.Run("skips a torn tail line", func(t *testing.T) {
		t.Parallel()
		l := newLog(t)
		ctx := context.Background()
		require.NoError(t, l.Append(ctx, domain.WALEntry{Op: domain.WALOpWrite, Key: "/a"}))
		require.NoError(t, l.Append(ctx, domain.WALEntry{Op: domain.WALOpWrite, Key: "/b"}))

		// Simulate a crash mid-append.
		f, err := os.OpenFile(l.Path(), os.O_APPEND|os.O_WRONLY, 0o600)
		require.NoError(t, err)
		_, err = f.WriteString(`{"op":"write","key":"/torn","val`)
		require.NoError(t, err)
		require.NoError(t, f.Close())

		entries, err := l.Replay()
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "/b", entries[1].Key)
	})

	t.Run("replay of a missing file is empty", func(t *testing.T) {
		t.Parallel()
		l := newLog(t)
		entries, err := l.Replay()
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestClear(t *testing.T) {
	t.Parallel()

	l := newLog(t)
	ctx := context.Background()
	require.NoError(t, l.Append(ctx, domain.WALEntry{Op: domain.WALOpWrite, Key: "/a"}))
	require.True(t, l.Exists())

	require.NoError(t, l.Clear())
	assert.False(t, l.Exists())

	entries, err := l.Replay()
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Clearing an absent log is not an error.
	assert.NoError(t, l.Clear())
}

func TestSize(t *testing.T) {
	t.Parallel()

	l := newLog(t)
	size, err := l.Size()
	require.NoError(t, err)
	assert.Zero(t, size)

	require.NoError(t, l.Append(context.Background(), domain.WALEntry{Op: domain.WALOpWrite, Key: "/a"}))
	size, err = l.Size()
	require.NoError(t, err)
	assert.Positive(t, size)
}

func TestCreateBackup(t *testing.T) {
	t.Parallel()

	t.Run("copies the log aside", func(t *testing.T) {
		t.Parallel()
		l := newLog(t)
		require.NoError(t, l.Append(context.Background(), domain.WALEntry{Op: domain.WALOpWrite, Key: "/a"}))

		backupPath, err := l.CreateBackup()
		require.NoError(t, err)
		require.NotEmpty(t, backupPath)
		assert.True(t, strings.HasPrefix(filepath.Base(backupPath), "wal-"))
		assert.True(t, strings.HasSuffix(backupPath, ".backup"))

		original, err := os.ReadFile(l.Path())
		require.NoError(t, err)
		copied, err := os.ReadFile(backupPath)
		require.NoError(t, err)
		assert.Equal(t, original, copied)
	})

	t.Run("missing log is a no-op", func(t *testing.T) {
		t.Parallel()
		l := newLog(t)
		backupPath, err := l.CreateBackup()
		require.NoError(t, err)
		assert.Empty(t, backupPath)
	})
}

func TestRotate(t *testing.T) {
	t.Parallel()

	t.Run("below threshold does nothing", func(t *testing.T) {
		t.Parallel()
		l := newLog(t)
		require.NoError(t, l.Append(context.Background(), domain.WALEntry{Op: domain.WALOpWrite, Key: "/a"}))
		rotated, err := l.Rotate()
		require.NoError(t, err)
		assert.False(t, rotated)
		assert.True(t, l.Exists())
	})

	t.Run("above threshold backs up and clears", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		l, err := wal.New(filepath.Join(dir, "wal.log"), wal.Options{
			RateLimit: 10000,
			MaxSize:   64,
		})
		require.NoError(t, err)
		ctx := context.Background()
		for range 4 {
			require.NoError(t, l.Append(ctx, domain.WALEntry{Op: domain.WALOpWrite, Key: "/padding-padding-padding"}))
		}

		rotated, err := l.Rotate()
		require.NoError(t, err)
		assert.True(t, rotated)
		assert.False(t, l.Exists())

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		backups := 0
		for _, e := range entries {
			if strings.HasSuffix(e.Name(), ".backup") {
				backups++
			}
		}
		assert.Equal(t, 1, backups)
	})
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	// A tiny limit with an expired context surfaces the limiter error.
	l, err := wal.New(filepath.Join(t.TempDir(), "wal.log"), wal.Options{RateLimit: 1})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, l.Append(ctx, domain.WALEntry{Op: domain.WALOpWrite, Key: "/a"}))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	err = l.Append(canceled, domain.WALEntry{Op: domain.WALOpWrite, Key: "/b"})
	assert.ErrorIs(t, err, errors.ErrWALRateLimited)
}
