package txn

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/mrz1836/statekit/internal/clock"
	"github.com/mrz1836/statekit/internal/domain"
	"github.com/mrz1836/statekit/internal/errors"
	"github.com/mrz1836/statekit/internal/wal"
)

// ApplyFunc applies the buffered operations of a transaction and returns
// the resulting state.
type ApplyFunc func(ops []domain.TxOperation) (*domain.State, error)

// ValidateFunc checks a transaction's operations against its snapshot.
type ValidateFunc func(snapshot *domain.State, ops []domain.TxOperation) (bool, error)

// ReplayFunc applies one recovered WAL entry during crash recovery.
type ReplayFunc func(entry domain.WALEntry) error

// Coordinator orders validation, WAL append, apply, commit, and WAL
// clear for transactions over the state document. Transactions live in
// memory only; durability comes from the embedded WAL.
type Coordinator struct {
	wal    *wal.Log
	trail  *AuditTrail
	clk    clock.Clock
	logger zerolog.Logger

	mu  sync.Mutex
	txs map[string]*domain.Transaction

	recoverGroup singleflight.Group
}

// NewCoordinator creates a Coordinator over the given WAL and audit trail.
func NewCoordinator(w *wal.Log, trail *AuditTrail, clk clock.Clock, logger zerolog.Logger) *Coordinator {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Coordinator{
		wal:    w,
		trail:  trail,
		clk:    clk,
		logger: logger,
		txs:    make(map[string]*domain.Transaction),
	}
}

// Begin opens a transaction over a deep copy of the current state and
// returns its id.
func (c *Coordinator) Begin(currentState *domain.State) (string, error) {
	if currentState == nil {
		return "", errors.Wrap(errors.ErrEmptyValue, "current state")
	}

	tx := &domain.Transaction{
		ID:         uuid.NewString(),
		StartedAt:  clock.Millis(c.clk.Now()),
		Operations: []domain.TxOperation{},
		Snapshot:   currentState.Clone(),
		Status:     domain.TxStatusActive,
	}

	c.mu.Lock()
	c.txs[tx.ID] = tx
	c.mu.Unlock()

	if err := c.trail.Record(auditBegin, tx.ID, nil); err != nil {
		c.logger.Warn().Err(err).Str("tx_id", tx.ID).Msg("audit record failed")
	}
	c.logger.Debug().Str("tx_id", tx.ID).Msg("transaction started")
	return tx.ID, nil
}

// AddOperation appends an operation to an active transaction. The WAL
// entry is written and synced before the operation joins the in-memory
// list, so a crash after this call is recoverable.
func (c *Coordinator) AddOperation(ctx context.Context, txID, opType, path string, data any) error {
	tx, err := c.activeTx(txID)
	if err != nil {
		return err
	}

	op := domain.TxOperation{
		ID:        uuid.NewString(),
		Type:      opType,
		Path:      path,
		Data:      data,
		Timestamp: clock.Millis(c.clk.Now()),
	}

	walOp := domain.WALOpWrite
	if opType == "delete" {
		walOp = domain.WALOpDelete
	}
	entry := domain.WALEntry{
		Op:            walOp,
		Key:           path,
		Value:         data,
		TransactionID: txID,
	}
	if err := c.wal.Append(ctx, entry); err != nil {
		return errors.Wrapf(err, "failed to journal operation for transaction %s", txID)
	}

	c.mu.Lock()
	tx.Operations = append(tx.Operations, op)
	opCount := len(tx.Operations)
	c.mu.Unlock()

	if err := c.trail.Record(auditOperation, txID, map[string]any{
		"type": opType, "path": path, "count": opCount,
	}); err != nil {
		c.logger.Warn().Err(err).Str("tx_id", txID).Msg("audit record failed")
	}
	return nil
}

// Validate runs the caller's validator over the transaction. A false
// result or an error is recorded and reported as false.
func (c *Coordinator) Validate(txID string, validate ValidateFunc) bool {
	tx, err := c.activeTx(txID)
	if err != nil {
		return false
	}

	c.mu.Lock()
	snapshot := tx.Snapshot
	ops := append([]domain.TxOperation(nil), tx.Operations...)
	c.mu.Unlock()

	ok, err := validate(snapshot, ops)
	if err != nil {
		_ = c.trail.Record(auditValidationError, txID, map[string]any{"error": err.Error()})
		c.logger.Warn().Err(err).Str("tx_id", txID).Msg("transaction validation errored")
		return false
	}
	if !ok {
		_ = c.trail.Record(auditValidationFailed, txID, nil)
		c.logger.Warn().Str("tx_id", txID).Msg("transaction validation failed")
		return false
	}
	return true
}

// Commit applies the transaction. On success the WAL is cleared and the
// transaction forgotten; on failure the transaction is rolled back and a
// transaction error surfaced.
func (c *Coordinator) Commit(txID string, apply ApplyFunc) (*domain.State, error) {
	tx, err := c.activeTx(txID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	ops := append([]domain.TxOperation(nil), tx.Operations...)
	c.mu.Unlock()

	start := c.clk.Now()
	newState, err := apply(ops)
	if err != nil {
		if _, rbErr := c.Rollback(txID); rbErr != nil {
			c.logger.Error().Err(rbErr).Str("tx_id", txID).Msg("rollback after failed apply errored")
		}
		return nil, errors.NewTransactionError(txID, "apply failed", err)
	}

	c.mu.Lock()
	tx.Status = domain.TxStatusCommitted
	delete(c.txs, txID)
	c.mu.Unlock()

	duration := c.clk.Now().Sub(start)
	if err := c.trail.Record(auditCommit, txID, map[string]any{
		"operations": len(ops), "durationMs": duration.Milliseconds(),
	}); err != nil {
		c.logger.Warn().Err(err).Str("tx_id", txID).Msg("audit record failed")
	}

	if err := c.wal.Clear(); err != nil {
		// The commit itself succeeded; a WAL left behind replays
		// already-applied idempotent operations at next start.
		c.logger.Warn().Err(err).Str("tx_id", txID).Msg("wal clear after commit failed")
	}

	c.logger.Info().
		Str("tx_id", txID).
		Int("operations", len(ops)).
		Dur("duration", duration).
		Msg("transaction committed")
	return newState, nil
}

// Rollback restores the pre-transaction snapshot and forgets the
// transaction. The WAL is intentionally left in place so an interrupted
// process can recover at next start.
func (c *Coordinator) Rollback(txID string) (*domain.State, error) {
	c.mu.Lock()
	tx, ok := c.txs[txID]
	if !ok {
		c.mu.Unlock()
		return nil, errors.Wrapf(errors.ErrTransactionNotFound, "transaction %s", txID)
	}
	tx.Status = domain.TxStatusRolledBack
	snapshot := tx.Snapshot.Clone()
	delete(c.txs, txID)
	c.mu.Unlock()

	if err := c.trail.Record(auditRollback, txID, nil); err != nil {
		c.logger.Warn().Err(err).Str("tx_id", txID).Msg("audit record failed")
	}
	c.logger.Info().Str("tx_id", txID).Msg("transaction rolled back")
	return snapshot, nil
}

// Cleanup rolls back every active transaction.
func (c *Coordinator) Cleanup() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.txs))
	for id := range c.txs {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		_, _ = c.Rollback(id)
	}
}

// RecoverFromWAL replays journaled operations after a crash. The WAL is
// backed up before replay and cleared only when every entry applied
// successfully; otherwise it is left for a future attempt. Concurrent
// calls collapse into one recovery.
func (c *Coordinator) RecoverFromWAL(apply ReplayFunc) (int, error) {
	result, err, _ := c.recoverGroup.Do("recover", func() (any, error) {
		return c.recover(apply)
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

func (c *Coordinator) recover(apply ReplayFunc) (int, error) {
	if !c.wal.Exists() {
		return 0, nil
	}

	if _, err := c.wal.CreateBackup(); err != nil {
		return 0, errors.Wrap(err, "failed to back up wal before recovery")
	}

	entries, err := c.wal.Replay()
	if err != nil {
		return 0, errors.Wrap(err, "failed to replay wal")
	}

	applied := 0
	failed := 0
	for _, entry := range entries {
		if err := apply(entry); err != nil {
			failed++
			c.logger.Error().Err(err).
				Str("op", string(entry.Op)).
				Str("key", entry.Key).
				Msg("wal entry apply failed")
			continue
		}
		applied++
	}

	if failed == 0 {
		if err := c.wal.Clear(); err != nil {
			return applied, errors.Wrap(err, "failed to clear wal after recovery")
		}
	}

	if err := c.trail.Record(auditRecovery, "", map[string]any{
		"entries": len(entries), "applied": applied, "failed": failed,
	}); err != nil {
		c.logger.Warn().Err(err).Msg("audit record failed")
	}
	c.logger.Info().
		Int("entries", len(entries)).
		Int("applied", applied).
		Int("failed", failed).
		Msg("wal recovery finished")
	return applied, nil
}

// HasIncompleteTransactions reports whether a WAL is present, meaning a
// transaction is in flight or was interrupted by a crash.
func (c *Coordinator) HasIncompleteTransactions() bool {
	return c.wal.Exists()
}

// WALSize returns the current WAL size in bytes.
func (c *Coordinator) WALSize() (int64, error) {
	return c.wal.Size()
}

// RotateWAL rotates the WAL when it exceeds its size threshold.
func (c *Coordinator) RotateWAL() (bool, error) {
	return c.wal.Rotate()
}

// Trail exposes the audit trail for collaborators that record
// save-path events (encryption counts, state writes).
func (c *Coordinator) Trail() *AuditTrail {
	return c.trail
}

// activeTx fetches a transaction and checks it is active.
func (c *Coordinator) activeTx(txID string) (*domain.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, ok := c.txs[txID]
	if !ok {
		return nil, errors.Wrapf(errors.ErrTransactionNotFound, "transaction %s", txID)
	}
	if tx.Status != domain.TxStatusActive {
		return nil, errors.Wrapf(errors.ErrTransactionNotActive, "transaction %s is %s", txID, tx.Status)
	}
	return tx, nil
}
