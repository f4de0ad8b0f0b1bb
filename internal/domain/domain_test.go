package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/statekit/internal/constants"
	"github.com/mrz1836/statekit/internal/domain"
)

func TestNewState(t *testing.T) {
	t.Parallel()

	s := domain.NewState()
	assert.Equal(t, constants.SchemaVersion, s.SchemaVersion)
	assert.Equal(t, constants.ZeroChecksum, s.Checksum)
	assert.NotNil(t, s.CompletedSteps)
	assert.Empty(t, s.CompletedSteps)
	assert.False(t, s.Recovery.DataLoss)
	assert.Nil(t, s.ActiveInstance)
}

func TestClone(t *testing.T) {
	t.Parallel()

	t.Run("nil state clones to nil", func(t *testing.T) {
		t.Parallel()
		var s *domain.State
		assert.Nil(t, s.Clone())
	})

	t.Run("clone shares no references", func(t *testing.T) {
		t.Parallel()
		completed := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
		s := domain.NewState()
		s.ActiveInstance = &domain.ActiveInstance{
			ID:          "0198d2f1-7c2a-4b11-9f5e-3d4c2b1a0f9e",
			TemplateID:  "release",
			Status:      constants.InstanceStatusActive,
			CompletedAt: &completed,
			Credentials: map[string]any{
				"registry": map[string]any{"user": "svc"},
			},
		}
		s.CompletedSteps = []domain.CompletedStep{{
			StepID:         "deploy",
			Result:         constants.StepResultSuccess,
			CommandResults: []domain.CommandResult{{Command: "kubectl apply"}},
			Secrets:        map[string]any{"token": "abc"},
		}}
		s.Config = map[string]any{"nested": []any{"a", "b"}}

		clone := s.Clone()
		require.NotNil(t, clone)
		assert.Equal(t, s, clone)

		// Mutations on the clone never reach the original.
		clone.ActiveInstance.Credentials["registry"].(map[string]any)["user"] = "evil"
		clone.CompletedSteps[0].CommandResults[0].Command = "rm -rf"
		clone.CompletedSteps[0].Secrets["token"] = "xyz"
		clone.Config["nested"].([]any)[0] = "z"
		*clone.ActiveInstance.CompletedAt = completed.Add(time.Hour)

		assert.Equal(t, "svc", s.ActiveInstance.Credentials["registry"].(map[string]any)["user"])
		assert.Equal(t, "kubectl apply", s.CompletedSteps[0].CommandResults[0].Command)
		assert.Equal(t, "abc", s.CompletedSteps[0].Secrets["token"])
		assert.Equal(t, "a", s.Config["nested"].([]any)[0])
		assert.Equal(t, completed, *s.ActiveInstance.CompletedAt)
	})
}

func TestDefaultSeverity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		event domain.SecurityEventType
		want  domain.Severity
	}{
		{domain.EventSecretsDetected, domain.SeverityCritical},
		{domain.EventEncryptionFailure, domain.SeverityCritical},
		{domain.EventDecryptionFailure, domain.SeverityCritical},
		{domain.EventAccessDenied, domain.SeverityWarning},
		{domain.EventLockDenied, domain.SeverityWarning},
		{domain.EventLockTimeout, domain.SeverityWarning},
		{domain.EventSuspicious, domain.SeverityWarning},
		{domain.EventRecoveryAttempt, domain.SeverityWarning},
		{domain.EventPermissionChange, domain.SeverityError},
		{domain.EventStateRead, domain.SeverityInfo},
		{domain.EventLockAcquired, domain.SeverityInfo},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, domain.DefaultSeverity(tc.event), string(tc.event))
	}
}
