// Package state implements the state manager, the orchestrator that runs
// every user operation under the state lock: initialize, load, save,
// update, export, import, archive, and corruption recovery.
package state

import (
	"encoding/json"

	"github.com/mrz1836/statekit/internal/domain"
	"github.com/mrz1836/statekit/internal/errors"
)

// stateFromWALValue rebuilds a state document from a WAL entry value,
// which was JSON-encoded when journaled.
func stateFromWALValue(value any) (*domain.State, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode wal value")
	}
	var s domain.State
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, errors.Wrap(err, "failed to decode wal state value")
	}
	return &s, nil
}
