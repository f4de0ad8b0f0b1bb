package txn_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/statekit/internal/constants"
	"github.com/mrz1836/statekit/internal/domain"
	"github.com/mrz1836/statekit/internal/errors"
	"github.com/mrz1836/statekit/internal/testutil"
	"github.com/mrz1836/statekit/internal/txn"
	"github.com/mrz1836/statekit/internal/wal"
)

// harness wires a coordinator over a temp directory.
type harness struct {
	coord    *txn.Coordinator
	wal      *wal.Log
	auditLog string
	walPath  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	walPath := filepath.Join(dir, ".wal", "wal.log")
	journal, err := wal.New(walPath, wal.Options{RateLimit: 10000})
	require.NoError(t, err)

	auditPath := filepath.Join(dir, "logs", "audit.log")
	trail := txn.NewAuditTrail(auditPath, 0, nil)

	return &harness{
		coord:    txn.NewCoordinator(journal, trail, nil, zerolog.Nop()),
		wal:      journal,
		auditLog: auditPath,
		walPath:  walPath,
	}
}

func baseState(t *testing.T) *domain.State {
	t.Helper()
	s := domain.NewState()
	s.CompletedSteps = []domain.CompletedStep{{StepID: "existing", Result: constants.StepResultSuccess}}
	return s
}

func auditEvents(t *testing.T, h *harness) []string {
	t.Helper()
	raw, err := os.ReadFile(h.auditLog)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var events []string
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		events = append(events, rec["event"].(string))
	}
	return events
}

func TestBegin(t *testing.T) {
	t.Parallel()

	t.Run("returns a fresh transaction id and snapshots the state", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		s := baseState(t)

		txID, err := h.coord.Begin(s)
		require.NoError(t, err)
		require.NotEmpty(t, txID)

		// Mutating the live state must not reach the snapshot.
		s.CompletedSteps[0].StepID = "mutated"
		restored, err := h.coord.Rollback(txID)
		require.NoError(t, err)
		assert.Equal(t, "existing", restored.CompletedSteps[0].StepID)

		assert.Contains(t, auditEvents(t, h), "BEGIN")
	})

	t.Run("rejects nil state", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		_, err := h.coord.Begin(nil)
		assert.ErrorIs(t, err, errors.ErrEmptyValue)
	})
}

func TestAddOperation(t *testing.T) {
	t.Parallel()

	t.Run("journals before buffering", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := context.Background()
		txID, err := h.coord.Begin(baseState(t))
		require.NoError(t, err)

		require.NoError(t, h.coord.AddOperation(ctx, txID, "write", "/a", map[string]any{"v": 1}))
		require.NoError(t, h.coord.AddOperation(ctx, txID, "delete", "/c", nil))

		entries, err := h.wal.Replay()
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, domain.WALOpWrite, entries[0].Op)
		assert.Equal(t, "/a", entries[0].Key)
		assert.Equal(t, txID, entries[0].TransactionID)
		assert.Equal(t, domain.WALOpDelete, entries[1].Op)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		err := h.coord.AddOperation(context.Background(), "no-such-tx", "write", "/a", nil)
		assert.ErrorIs(t, err, errors.ErrTransactionNotFound)
	})
}

func TestValidate(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	t.Run("passes a clean validator", func(t *testing.T) {
		txID, err := h.coord.Begin(baseState(t))
		require.NoError(t, err)
		require.NoError(t, h.coord.AddOperation(ctx, txID, "write", "/a", nil))

		ok := h.coord.Validate(txID, func(snapshot *domain.State, ops []domain.TxOperation) (bool, error) {
			assert.NotNil(t, snapshot)
			assert.Len(t, ops, 1)
			return true, nil
		})
		assert.True(t, ok)
		_, _ = h.coord.Rollback(txID)
	})

	t.Run("false result is recorded", func(t *testing.T) {
		txID, err := h.coord.Begin(baseState(t))
		require.NoError(t, err)
		ok := h.coord.Validate(txID, func(_ *domain.State, _ []domain.TxOperation) (bool, error) {
			return false, nil
		})
		assert.False(t, ok)
		assert.Contains(t, auditEvents(t, h), "VALIDATION_FAILED")
		_, _ = h.coord.Rollback(txID)
	})

	t.Run("validator error is recorded", func(t *testing.T) {
		txID, err := h.coord.Begin(baseState(t))
		require.NoError(t, err)
		ok := h.coord.Validate(txID, func(_ *domain.State, _ []domain.TxOperation) (bool, error) {
			return false, testutil.ErrMockValidatorRejected
		})
		assert.False(t, ok)
		assert.Contains(t, auditEvents(t, h), "VALIDATION_ERROR")
		_, _ = h.coord.Rollback(txID)
	})
}

func TestCommit(t *testing.T) {
	t.Parallel()

	t.Run("applies, clears the wal, and forgets the transaction", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := context.Background()
		txID, err := h.coord.Begin(baseState(t))
		require.NoError(t, err)
		require.NoError(t, h.coord.AddOperation(ctx, txID, "write", "/a", map[string]any{"v": 1}))
		require.True(t, h.wal.Exists())

		want := domain.NewState()
		got, err := h.coord.Commit(txID, func(ops []domain.TxOperation) (*domain.State, error) {
			require.Len(t, ops, 1)
			return want, nil
		})
		require.NoError(t, err)
		assert.Same(t, want, got)
		assert.False(t, h.wal.Exists(), "commit must clear the wal")
		assert.False(t, h.coord.HasIncompleteTransactions())
		assert.Contains(t, auditEvents(t, h), "COMMIT")

		// The transaction is gone.
		_, err = h.coord.Rollback(txID)
		assert.ErrorIs(t, err, errors.ErrTransactionNotFound)
	})

	t.Run("failed apply rolls back and keeps the wal", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := context.Background()
		txID, err := h.coord.Begin(baseState(t))
		require.NoError(t, err)
		require.NoError(t, h.coord.AddOperation(ctx, txID, "write", "/a", nil))

		_, err = h.coord.Commit(txID, func(_ []domain.TxOperation) (*domain.State, error) {
			return nil, testutil.ErrMockApplyFailed
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrTransactionFailed)
		assert.ErrorIs(t, err, testutil.ErrMockApplyFailed)
		assert.True(t, h.wal.Exists(), "rollback must not clear the wal")
		assert.Contains(t, auditEvents(t, h), "ROLLBACK")
	})
}

func TestRollback(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	s := baseState(t)
	txID, err := h.coord.Begin(s)
	require.NoError(t, err)
	require.NoError(t, h.coord.AddOperation(ctx, txID, "write", "/a", nil))

	restored, err := h.coord.Rollback(txID)
	require.NoError(t, err)
	assert.Equal(t, s.CompletedSteps, restored.CompletedSteps)
	assert.True(t, h.wal.Exists(), "rollback leaves the wal for crash recovery")
}

func TestCleanup(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tx1, err := h.coord.Begin(baseState(t))
	require.NoError(t, err)
	tx2, err := h.coord.Begin(baseState(t))
	require.NoError(t, err)

	h.coord.Cleanup()

	_, err = h.coord.Rollback(tx1)
	assert.ErrorIs(t, err, errors.ErrTransactionNotFound)
	_, err = h.coord.Rollback(tx2)
	assert.ErrorIs(t, err, errors.ErrTransactionNotFound)
}

func TestRecoverFromWAL(t *testing.T) {
	t.Parallel()

	t.Run("no wal means nothing to recover", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		count, err := h.coord.RecoverFromWAL(func(_ domain.WALEntry) error { return nil })
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("delivers crash-interrupted operations in order exactly once", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := context.Background()

		// A transaction adds three operations and never commits.
		txID, err := h.coord.Begin(baseState(t))
		require.NoError(t, err)
		require.NoError(t, h.coord.AddOperation(ctx, txID, "write", "/a", map[string]any{"v": 1}))
		require.NoError(t, h.coord.AddOperation(ctx, txID, "write", "/b", map[string]any{"v": 2}))
		require.NoError(t, h.coord.AddOperation(ctx, txID, "delete", "/c", nil))

		// A fresh coordinator on the same base simulates the next start.
		journal, err := wal.New(h.walPath, wal.Options{RateLimit: 10000})
		require.NoError(t, err)
		fresh := txn.NewCoordinator(journal, txn.NewAuditTrail(h.auditLog, 0, nil), nil, zerolog.Nop())
		require.True(t, fresh.HasIncompleteTransactions())

		var seen []domain.WALEntry
		count, err := fresh.RecoverFromWAL(func(entry domain.WALEntry) error {
			seen = append(seen, entry)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, count)
		require.Len(t, seen, 3)
		assert.Equal(t, "/a", seen[0].Key)
		assert.Equal(t, "/b", seen[1].Key)
		assert.Equal(t, "/c", seen[2].Key)
		assert.Equal(t, domain.WALOpDelete, seen[2].Op)

		assert.False(t, journal.Exists(), "wal cleared after full recovery")
		assert.Contains(t, auditEvents(t, h), "RECOVERY")
	})

	t.Run("keeps the wal when an apply fails", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := context.Background()
		txID, err := h.coord.Begin(baseState(t))
		require.NoError(t, err)
		require.NoError(t, h.coord.AddOperation(ctx, txID, "write", "/a", nil))
		require.NoError(t, h.coord.AddOperation(ctx, txID, "write", "/b", nil))

		applied := 0
		count, err := h.coord.RecoverFromWAL(func(entry domain.WALEntry) error {
			if entry.Key == "/b" {
				return testutil.ErrMockReplayFailed
			}
			applied++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		assert.Equal(t, 1, applied)
		assert.True(t, h.wal.Exists(), "partial recovery must leave the wal")
	})

	t.Run("backs up the wal before replaying", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := context.Background()
		txID, err := h.coord.Begin(baseState(t))
		require.NoError(t, err)
		require.NoError(t, h.coord.AddOperation(ctx, txID, "write", "/a", nil))

		_, err = h.coord.RecoverFromWAL(func(_ domain.WALEntry) error { return nil })
		require.NoError(t, err)

		entries, err := os.ReadDir(filepath.Dir(h.walPath))
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

func TestWALRotationDelegates(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	txID, err := h.coord.Begin(baseState(t))
	require.NoError(t, err)
	require.NoError(t, h.coord.AddOperation(ctx, txID, "write", "/a", nil))

	size, err := h.coord.WALSize()
	require.NoError(t, err)
	assert.Positive(t, size)

	rotated, err := h.coord.RotateWAL()
	require.NoError(t, err)
	assert.False(t, rotated, "default threshold far above one entry")
}
