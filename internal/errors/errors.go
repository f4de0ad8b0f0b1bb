// Package errors provides centralized error handling for statekit.
//
// This package defines sentinel errors used for programmatic error categorization
// throughout the engine. All error types can be checked using errors.Is().
//
// IMPORTANT: This package MUST NOT import any other internal packages.
// Only standard library imports are allowed.
package errors

import "errors"

// Sentinel errors for error categorization.
// These allow callers to check error types with errors.Is().
// All errors use lowercase descriptions per Go conventions.
var (
	// ErrStateCorrupted indicates the persisted state document failed a parse,
	// schema, or checksum check. Wrap with a CorruptionError to carry the kind.
	ErrStateCorrupted = errors.New("state corrupted")

	// ErrLockTimeout indicates the state lock could not be acquired within the
	// configured deadline.
	ErrLockTimeout = errors.New("lock acquisition timeout")

	// ErrLockNotHeld indicates a lock operation that requires ownership was
	// attempted without holding the lock.
	ErrLockNotHeld = errors.New("lock not held")

	// ErrTransactionFailed indicates a transaction validate or apply step failed
	// and the transaction was rolled back.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrTransactionNotFound indicates an unknown transaction id.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrTransactionNotActive indicates an operation on a transaction that has
	// already been committed or rolled back.
	ErrTransactionNotActive = errors.New("transaction not active")

	// ErrBackupFailed indicates a snapshot could not be written or recorded.
	ErrBackupFailed = errors.New("backup failed")

	// ErrBackupNotFound indicates the named backup does not exist in the manifest
	// or on disk.
	ErrBackupNotFound = errors.New("backup not found")

	// ErrRecoveryFailed indicates recovery was attempted and exhausted every
	// candidate. Wrap with a RecoveryError to carry the data-loss flag.
	ErrRecoveryFailed = errors.New("recovery failed")

	// ErrSecretsDetected indicates serialized state contained credential-shaped
	// tokens and was refused persistence.
	ErrSecretsDetected = errors.New("secrets detected in state")

	// ErrValidationFailed indicates caller-provided state failed validation.
	ErrValidationFailed = errors.New("state validation failed")

	// ErrSchemaVersionMismatch indicates the document's schema version is not
	// supported and cannot be migrated.
	ErrSchemaVersionMismatch = errors.New("schema version mismatch")

	// ErrWriteFailed indicates the atomic save could not be completed or the
	// written file failed read-back verification.
	ErrWriteFailed = errors.New("state write failed")

	// ErrNoState indicates no state document exists for the requested operation.
	ErrNoState = errors.New("no state available")

	// ErrWALRateLimited indicates the WAL append rate limit was exceeded.
	ErrWALRateLimited = errors.New("wal append rate limited")

	// ErrWALPathUnsafe indicates the WAL directory lies outside the allowed
	// roots (working directory or system temp).
	ErrWALPathUnsafe = errors.New("wal path outside allowed roots")

	// ErrEncryptionFailed indicates a field could not be encrypted.
	ErrEncryptionFailed = errors.New("field encryption failed")

	// ErrDecryptionFailed indicates an encrypted envelope could not be opened,
	// including authentication failures on tampered ciphertext.
	ErrDecryptionFailed = errors.New("field decryption failed")

	// ErrInvalidKey indicates the encryption key file is missing, malformed, or
	// of the wrong length.
	ErrInvalidKey = errors.New("invalid encryption key")

	// ErrEmptyValue indicates that a required value was empty.
	ErrEmptyValue = errors.New("value cannot be empty")

	// ErrInvalidEnvelope indicates a value claimed to be an encrypted envelope
	// but was structurally invalid.
	ErrInvalidEnvelope = errors.New("invalid encrypted envelope")

	// ErrConfigInvalid indicates an invalid configuration value.
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrAuditClosed indicates an append to a closed audit logger.
	ErrAuditClosed = errors.New("audit logger closed")
)
