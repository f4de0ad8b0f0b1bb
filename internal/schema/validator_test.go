package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/statekit/internal/domain"
	"github.com/mrz1836/statekit/internal/errors"
	"github.com/mrz1836/statekit/internal/schema"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	v := schema.NewValidator()

	t.Run("accepts a fresh document", func(t *testing.T) {
		t.Parallel()
		raw := []byte("schemaVersion: \"1.0.0\"\nchecksum: \"sha256:0000000000000000000000000000000000000000000000000000000000000000\"\ncompletedSteps: []\nrecovery:\n  dataLoss: false\nconflicts: {}\n")
		s, err := v.Validate(raw)
		require.NoError(t, err)
		assert.Equal(t, "1.0.0", s.SchemaVersion)
	})

	t.Run("rejects malformed yaml as parse error", func(t *testing.T) {
		t.Parallel()
		_, err := v.Validate([]byte("schemaVersion: [unclosed"))
		require.Error(t, err)
		var ce *errors.CorruptionError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, errors.CorruptionParse, ce.Kind)
	})

	t.Run("rejects a missing schema version", func(t *testing.T) {
		t.Parallel()
		_, err := v.Validate([]byte("checksum: \"sha256:0000000000000000000000000000000000000000000000000000000000000000\"\ncompletedSteps: []\n"))
		require.Error(t, err)
		var ce *errors.CorruptionError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, errors.CorruptionSchema, ce.Kind)
	})

	t.Run("collects every violation", func(t *testing.T) {
		t.Parallel()
		s := &domain.State{
			SchemaVersion:  "not-a-version",
			Checksum:       "",
			CompletedSteps: nil,
		}
		err := v.ValidateState(s)
		require.Error(t, err)
		var ce *errors.CorruptionError
		require.ErrorAs(t, err, &ce)
		assert.GreaterOrEqual(t, len(ce.Details), 3)
	})

	t.Run("rejects a bad instance status", func(t *testing.T) {
		t.Parallel()
		s := domain.NewState()
		s.ActiveInstance = &domain.ActiveInstance{
			ID:         "0198d2f1-7c2a-4b11-9f5e-3d4c2b1a0f9e",
			TemplateID: "release",
			Status:     "exploded",
		}
		err := v.ValidateState(s)
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrStateCorrupted)
	})
}

func TestSchemaVersions(t *testing.T) {
	t.Parallel()

	t.Run("supported set membership", func(t *testing.T) {
		t.Parallel()
		assert.True(t, schema.IsValidSchemaVersion("1.0.0", []string{"1.0.0", "1.1.0"}))
		assert.False(t, schema.IsValidSchemaVersion("0.9.0", []string{"1.0.0"}))
	})

	t.Run("migration gates", func(t *testing.T) {
		t.Parallel()
		tests := []struct {
			name string
			from string
			to   string
			want bool
		}{
			{"same major", "1.0.0", "1.4.2", true},
			{"next major", "1.9.9", "2.0.0", true},
			{"two majors ahead", "1.0.0", "3.0.0", false},
			{"downgrade across majors", "2.0.0", "1.0.0", false},
			{"garbage from", "banana", "1.0.0", false},
			{"garbage to", "1.0.0", "", false},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				t.Parallel()
				assert.Equal(t, tc.want, schema.CanMigrate(tc.from, tc.to))
			})
		}
	})
}
