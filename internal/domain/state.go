// Package domain provides shared domain types for the statekit state engine.
// These types are used across all internal packages to ensure consistent data
// structures.
//
// This package follows strict import rules:
//   - CAN import: internal/constants, internal/errors, standard library
//   - MUST NOT import: any other internal packages
//
// Field names use camelCase in both YAML and JSON, matching the on-disk
// state document format.
package domain

import (
	"time"

	"github.com/mrz1836/statekit/internal/constants"
)

// State is the single persisted checklist state document.
//
// A persisted state file either parses cleanly, validates against the
// schema, and carries a checksum matching the canonicalized document (or
// the zero sentinel), or it is treated as corrupt.
//
// Example YAML representation:
//
//	schemaVersion: "1.0.0"
//	checksum: "sha256:ab12..."
//	activeInstance:
//	  id: "0198d2f1-..."
//	  templateId: "release"
//	  status: active
//	completedSteps: []
//	recovery:
//	  dataLoss: false
//	conflicts: {}
type State struct {
	// SchemaVersion is the dotted version string of the document schema,
	// treated as semver for migration gating.
	SchemaVersion string `yaml:"schemaVersion" json:"schemaVersion" validate:"required"`

	// Checksum is "sha256:" + 64 hex chars over the canonicalized document
	// with this field removed. The zero sentinel disables verification for
	// freshly created documents.
	Checksum string `yaml:"checksum" json:"checksum" validate:"required"`

	// ActiveInstance is the currently running checklist instance, if any.
	ActiveInstance *ActiveInstance `yaml:"activeInstance,omitempty" json:"activeInstance,omitempty"`

	// CompletedSteps is the ordered record of finished steps.
	CompletedSteps []CompletedStep `yaml:"completedSteps" json:"completedSteps" validate:"dive"`

	// Recovery records the most recent corruption and how it was repaired.
	Recovery Recovery `yaml:"recovery" json:"recovery"`

	// Conflicts records detected conflicts and their resolution.
	Conflicts Conflicts `yaml:"conflicts" json:"conflicts"`

	// Config holds instance-level configuration, including fields that are
	// encrypted at rest (apiKey, databaseUrl, authToken).
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// ActiveInstance describes the checklist instance currently in progress.
type ActiveInstance struct {
	// ID is the UUID of this instance.
	ID string `yaml:"id" json:"id" validate:"required,uuid4"`

	// TemplateID identifies the checklist template this instance was created from.
	TemplateID string `yaml:"templateId" json:"templateId" validate:"required"`

	// TemplateVersion is the version of the template at instantiation time.
	TemplateVersion string `yaml:"templateVersion,omitempty" json:"templateVersion,omitempty"`

	// ProjectPath is the project directory this instance operates on.
	ProjectPath string `yaml:"projectPath,omitempty" json:"projectPath,omitempty"`

	// Status is the lifecycle state of the instance.
	Status constants.InstanceStatus `yaml:"status" json:"status" validate:"required,oneof=active paused completed failed"`

	// CurrentStepID is the identifier of the step being executed, if any.
	CurrentStepID string `yaml:"currentStepId,omitempty" json:"currentStepId,omitempty"`

	// StartedAt is when the instance began.
	StartedAt time.Time `yaml:"startedAt" json:"startedAt"`

	// LastModifiedAt is when the instance was last updated.
	LastModifiedAt time.Time `yaml:"lastModifiedAt" json:"lastModifiedAt"`

	// CompletedAt is when the instance finished (nil if still running).
	CompletedAt *time.Time `yaml:"completedAt,omitempty" json:"completedAt,omitempty"`

	// Sensitive material attached to the instance. These paths are encrypted
	// at rest and appear on disk as envelopes.
	APIKeys     map[string]any `yaml:"apiKeys,omitempty" json:"apiKeys,omitempty"`
	Credentials map[string]any `yaml:"credentials,omitempty" json:"credentials,omitempty"`
	Tokens      map[string]any `yaml:"tokens,omitempty" json:"tokens,omitempty"`
	Secrets     map[string]any `yaml:"secrets,omitempty" json:"secrets,omitempty"`
}

// CompletedStep records one finished checklist step.
type CompletedStep struct {
	// StepID identifies the step within the template.
	StepID string `yaml:"stepId" json:"stepId" validate:"required"`

	// CompletedAt is when the step finished.
	CompletedAt time.Time `yaml:"completedAt" json:"completedAt"`

	// ExecutionTime is the wall-clock duration of the step in milliseconds.
	ExecutionTime int64 `yaml:"executionTime" json:"executionTime"`

	// Result is the step outcome.
	Result constants.StepResult `yaml:"result" json:"result" validate:"required,oneof=success failure skipped"`

	// CommandResults holds the output of each command the step ran.
	CommandResults []CommandResult `yaml:"commandResults,omitempty" json:"commandResults,omitempty"`

	// Sensitive material captured by the step; encrypted at rest.
	Secrets     map[string]any `yaml:"secrets,omitempty" json:"secrets,omitempty"`
	Credentials map[string]any `yaml:"credentials,omitempty" json:"credentials,omitempty"`
}

// CommandResult captures a single command execution within a step.
type CommandResult struct {
	Command  string `yaml:"command" json:"command"`
	ExitCode int    `yaml:"exitCode" json:"exitCode"`
	Stdout   string `yaml:"stdout,omitempty" json:"stdout,omitempty"`
	Stderr   string `yaml:"stderr,omitempty" json:"stderr,omitempty"`
}

// Recovery records corruption incidents and how the engine repaired them.
type Recovery struct {
	// LastCorruption is when corruption was last detected.
	LastCorruption *time.Time `yaml:"lastCorruption,omitempty" json:"lastCorruption,omitempty"`

	// CorruptionType categorizes the last detected corruption.
	CorruptionType constants.CorruptionType `yaml:"corruptionType,omitempty" json:"corruptionType,omitempty" validate:"omitempty,oneof=checksum_mismatch schema_invalid parse_error"`

	// RecoveryMethod records how the state was repaired.
	RecoveryMethod constants.RecoveryMethod `yaml:"recoveryMethod,omitempty" json:"recoveryMethod,omitempty" validate:"omitempty,oneof=backup reset manual"`

	// DataLoss is true when recovery discarded committed data (reset).
	DataLoss bool `yaml:"dataLoss" json:"dataLoss"`

	// LastWALRecovery is when a WAL replay last restored operations.
	LastWALRecovery *time.Time `yaml:"lastWALRecovery,omitempty" json:"lastWALRecovery,omitempty"`

	// RecoveredOperations counts operations restored by the last WAL replay.
	RecoveredOperations int `yaml:"recoveredOperations,omitempty" json:"recoveredOperations,omitempty"`
}

// Conflicts records conflict detection state.
type Conflicts struct {
	// Detected is when a conflict was last detected.
	Detected *time.Time `yaml:"detected,omitempty" json:"detected,omitempty"`

	// Resolution records how the conflict was resolved.
	Resolution constants.ConflictResolution `yaml:"resolution,omitempty" json:"resolution,omitempty" validate:"omitempty,oneof=local remote merge"`
}

// NewState constructs a freshly initialized state document carrying the
// zero-sentinel checksum. Callers compute the real checksum before the
// first save.
func NewState() *State {
	return &State{
		SchemaVersion:  constants.SchemaVersion,
		Checksum:       constants.ZeroChecksum,
		CompletedSteps: []CompletedStep{},
		Recovery:       Recovery{DataLoss: false},
		Conflicts:      Conflicts{},
	}
}
