// Package txn implements the transaction coordinator: BEGIN/ADD/
// VALIDATE/COMMIT/ROLLBACK over the state document with write-ahead
// logging and an append-only audit trail.
package txn

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mrz1836/statekit/internal/clock"
	"github.com/mrz1836/statekit/internal/constants"
	"github.com/mrz1836/statekit/internal/errors"
)

// Audit event names recorded in the trail.
const (
	auditBegin            = "BEGIN"
	auditOperation        = "OPERATION"
	auditValidationFailed = "VALIDATION_FAILED"
	auditValidationError  = "VALIDATION_ERROR"
	auditCommit           = "COMMIT"
	auditRollback         = "ROLLBACK"
	auditRecovery         = "RECOVERY"
	auditEncrypt          = "ENCRYPT"
	auditStateWrite       = "STATE_WRITE"
)

// auditRecord is one JSON line in the transaction audit log.
type auditRecord struct {
	Timestamp int64          `json:"timestamp"`
	Event     string         `json:"event"`
	TxID      string         `json:"transactionId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// AuditTrail is an append-only JSON-lines log with size-based rotation.
// Appends use open-for-append plus fsync; rotation renames the full file
// aside rather than rewriting it.
type AuditTrail struct {
	path    string
	maxSize int64
	clk     clock.Clock

	mu sync.Mutex
}

// NewAuditTrail creates a trail writing to path, rotating above maxSize
// bytes (the default threshold when zero).
func NewAuditTrail(path string, maxSize int64, clk clock.Clock) *AuditTrail {
	if maxSize <= 0 {
		maxSize = constants.AuditLogMaxSize
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &AuditTrail{path: path, maxSize: maxSize, clk: clk}
}

// Record appends one event to the trail.
func (t *AuditTrail) Record(event, txID string, details map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.rotateLocked(); err != nil {
		return err
	}

	rec := auditRecord{
		Timestamp: clock.Millis(t.clk.Now()),
		Event:     event,
		TxID:      txID,
		Details:   details,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "failed to encode audit record")
	}
	line = append(line, '\n')

	if err := os.MkdirAll(filepath.Dir(t.path), constants.DirPerm); err != nil {
		return errors.Wrap(err, "failed to create audit log directory")
	}
	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, constants.FilePerm) //#nosec G304 -- path constructed from the validated base
	if err != nil {
		return errors.Wrap(err, "failed to open audit log")
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(line); err != nil {
		return errors.Wrap(err, "failed to append audit record")
	}
	if err := f.Sync(); err != nil {
		return errors.Wrap(err, "failed to sync audit log")
	}
	return nil
}

// rotateLocked renames the trail aside once it exceeds the size
// threshold. Caller holds t.mu.
func (t *AuditTrail) rotateLocked() error {
	info, err := os.Stat(t.path)
	if err != nil || info.Size() <= t.maxSize {
		return nil
	}
	base := strings.TrimSuffix(t.path, filepath.Ext(t.path))
	rotated := fmt.Sprintf("%s-%d%s", base, clock.Millis(t.clk.Now()), filepath.Ext(t.path))
	if err := os.Rename(t.path, rotated); err != nil {
		return errors.Wrap(err, "failed to rotate audit log")
	}
	return nil
}
