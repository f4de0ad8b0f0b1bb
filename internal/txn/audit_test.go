package txn_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/statekit/internal/txn"
)

func TestAuditTrail(t *testing.T) {
	t.Parallel()

	t.Run("appends json lines", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "logs", "audit.log")
		trail := txn.NewAuditTrail(path, 0, nil)

		require.NoError(t, trail.Record("BEGIN", "tx-1", nil))
		require.NoError(t, trail.Record("COMMIT", "tx-1", map[string]any{"operations": 2}))

		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
		require.Len(t, lines, 2)
		assert.Contains(t, lines[0], `"event":"BEGIN"`)
		assert.Contains(t, lines[1], `"operations":2`)
	})

	t.Run("rotates above the size threshold", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		path := filepath.Join(dir, "audit.log")
		trail := txn.NewAuditTrail(path, 128, nil)

		for i := 0; i < 10; i++ {
			require.NoError(t, trail.Record("OPERATION", "tx-pad", map[string]any{
				"path": "/some/long/path/to/inflate/the/record/size",
			}))
		}

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		rotated := 0
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), "audit-") {
				rotated++
			}
		}
		assert.Positive(t, rotated, "expected at least one rotated audit file")
	})
}
