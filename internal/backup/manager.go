// Package backup manages manifest-driven state snapshots: rotation on
// every save and multi-candidate recovery when the live document is
// corrupt.
package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mrz1836/statekit/internal/clock"
	"github.com/mrz1836/statekit/internal/constants"
	"github.com/mrz1836/statekit/internal/domain"
	"github.com/mrz1836/statekit/internal/errors"
	"github.com/mrz1836/statekit/internal/fieldcrypt"
	"github.com/mrz1836/statekit/internal/schema"
)

// Options tune a Manager.
type Options struct {
	// MaxCount is the number of snapshots retained. Zero selects the default.
	MaxCount int

	// MaxAge, when non-zero, bounds snapshot age for CleanupOldBackups
	// callers that do not pass an explicit cutoff.
	MaxAge time.Duration

	// Clock supplies timestamps; nil selects the real clock.
	Clock clock.Clock
}

// Manager owns the backups directory and its manifest. Snapshots are
// written through the sealer, so they carry the same encrypted
// envelopes as the state file they mirror.
type Manager struct {
	dir          string
	manifestPath string
	maxCount     int
	maxAge       time.Duration
	clk          clock.Clock
	validator    *schema.Validator
	sealer       *fieldcrypt.Sealer
}

// NewManager creates a Manager over the given backups directory.
func NewManager(dir, manifestPath string, validator *schema.Validator, sealer *fieldcrypt.Sealer, opts Options) *Manager {
	maxCount := opts.MaxCount
	if maxCount <= 0 {
		maxCount = constants.DefaultBackupMaxCount
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Manager{
		dir:          dir,
		manifestPath: manifestPath,
		maxCount:     maxCount,
		maxAge:       opts.MaxAge,
		clk:          clk,
		validator:    validator,
		sealer:       sealer,
	}
}

// InitializeManifest writes an empty manifest if none exists.
func (m *Manager) InitializeManifest() error {
	if _, err := os.Stat(m.manifestPath); err == nil {
		return nil
	}
	return m.saveManifest(&domain.BackupManifest{
		Version: constants.ManifestVersion,
		Backups: []domain.BackupEntry{},
		RotationPolicy: domain.RotationPolicy{
			MaxCount: m.maxCount,
			MaxAge:   m.maxAge.Milliseconds(),
		},
	})
}

// CreateBackup snapshots the state into a timestamp-named file, records
// it in the manifest, and rotates snapshots beyond the retention count.
// The document is sealed first, so sensitive fields reach the snapshot
// as encrypted envelopes, never plaintext.
func (m *Manager) CreateBackup(state *domain.State) (string, error) {
	if state == nil {
		return "", errors.Wrap(errors.ErrEmptyValue, "state")
	}

	raw, _, err := m.sealer.Seal(state)
	if err != nil {
		return "", errors.Wrap(errors.ErrBackupFailed, err.Error())
	}

	now := m.clk.Now()
	filename := fmt.Sprintf("%s.%d", constants.StateFileName, clock.Millis(now))
	path := filepath.Join(m.dir, filename)

	if err := os.MkdirAll(m.dir, constants.DirPerm); err != nil {
		return "", errors.Wrap(errors.ErrBackupFailed, err.Error())
	}
	if err := os.WriteFile(path, raw, constants.FilePerm); err != nil {
		return "", errors.Wrap(errors.ErrBackupFailed, err.Error())
	}

	manifest, err := m.loadManifest()
	if err != nil {
		return "", err
	}
	manifest.Backups = append(manifest.Backups, domain.BackupEntry{
		Filename:      filename,
		CreatedAt:     now.UTC().Format(time.RFC3339),
		Checksum:      state.Checksum,
		Size:          int64(len(raw)),
		SchemaVersion: state.SchemaVersion,
	})
	sortNewestFirst(manifest.Backups)

	if err := m.rotate(manifest); err != nil {
		return "", err
	}
	if err := m.saveManifest(manifest); err != nil {
		return "", err
	}
	return filename, nil
}

// RecoverFromLatestBackup walks the manifest newest-first and returns the
// first snapshot that parses and validates. Exhausting every candidate is
// a data-loss recovery failure.
func (m *Manager) RecoverFromLatestBackup() (*domain.State, error) {
	manifest, err := m.loadManifest()
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, entry := range manifest.Backups {
		state, err := m.RecoverFromBackup(entry.Filename)
		if err != nil {
			lastErr = err
			continue
		}
		return state, nil
	}
	return nil, errors.NewRecoveryError(true, lastErr)
}

// RecoverFromBackup reads, opens, and validates one snapshot. Envelopes
// are decrypted before validation so the checksum verifies against the
// plaintext document. Failures are recovery errors without data loss:
// the caller can try the next candidate.
func (m *Manager) RecoverFromBackup(filename string) (*domain.State, error) {
	raw, err := os.ReadFile(filepath.Join(m.dir, filename)) //#nosec G304 -- filename comes from the manifest under the managed dir
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(errors.ErrBackupNotFound, "backup %s", filename)
		}
		return nil, errors.NewRecoveryError(false, err)
	}

	state, err := m.sealer.Open(raw)
	if err != nil {
		return nil, errors.NewRecoveryError(false, err)
	}
	if err := m.validator.ValidateState(state); err != nil {
		return nil, errors.NewRecoveryError(false, err)
	}
	if err := schema.VerifyChecksum(state); err != nil {
		return nil, errors.NewRecoveryError(false, err)
	}
	return state, nil
}

// CleanupOldBackups removes snapshots older than maxAge and returns how
// many were deleted.
func (m *Manager) CleanupOldBackups(maxAge time.Duration) (int, error) {
	manifest, err := m.loadManifest()
	if err != nil {
		return 0, err
	}

	cutoff := m.clk.Now().Add(-maxAge)
	kept := manifest.Backups[:0]
	removed := 0
	for _, entry := range manifest.Backups {
		createdAt, parseErr := time.Parse(time.RFC3339, entry.CreatedAt)
		if parseErr == nil && createdAt.Before(cutoff) {
			_ = os.Remove(filepath.Join(m.dir, entry.Filename))
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	manifest.Backups = kept

	if err := m.saveManifest(manifest); err != nil {
		return removed, err
	}
	return removed, nil
}

// VerifyBackup reports whether one snapshot parses and validates.
func (m *Manager) VerifyBackup(filename string) bool {
	_, err := m.RecoverFromBackup(filename)
	return err == nil
}

// VerifyAllBackups checks every manifest entry.
func (m *Manager) VerifyAllBackups() (map[string]bool, error) {
	manifest, err := m.loadManifest()
	if err != nil {
		return nil, err
	}
	results := make(map[string]bool, len(manifest.Backups))
	for _, entry := range manifest.Backups {
		results[entry.Filename] = m.VerifyBackup(entry.Filename)
	}
	return results, nil
}

// List returns the manifest entries, newest first.
func (m *Manager) List() ([]domain.BackupEntry, error) {
	manifest, err := m.loadManifest()
	if err != nil {
		return nil, err
	}
	return manifest.Backups, nil
}

// WriteArchive writes a manual archive of the state outside the rotation
// set and returns its filename. Archives are sealed like snapshots.
func (m *Manager) WriteArchive(state *domain.State) (string, error) {
	raw, _, err := m.sealer.Seal(state)
	if err != nil {
		return "", errors.Wrap(errors.ErrBackupFailed, err.Error())
	}
	filename := fmt.Sprintf("archive-%d.yaml", clock.Millis(m.clk.Now()))
	if err := os.MkdirAll(m.dir, constants.DirPerm); err != nil {
		return "", errors.Wrap(errors.ErrBackupFailed, err.Error())
	}
	if err := os.WriteFile(filepath.Join(m.dir, filename), raw, constants.FilePerm); err != nil {
		return "", errors.Wrap(errors.ErrBackupFailed, err.Error())
	}
	return filename, nil
}

// rotate deletes snapshot files beyond the retention count. The manifest
// is assumed sorted newest-first.
func (m *Manager) rotate(manifest *domain.BackupManifest) error {
	maxCount := manifest.RotationPolicy.MaxCount
	if maxCount <= 0 {
		maxCount = m.maxCount
	}
	if len(manifest.Backups) <= maxCount {
		return nil
	}
	for _, entry := range manifest.Backups[maxCount:] {
		if err := os.Remove(filepath.Join(m.dir, entry.Filename)); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(errors.ErrBackupFailed, err.Error())
		}
	}
	manifest.Backups = manifest.Backups[:maxCount]
	return nil
}

func (m *Manager) loadManifest() (*domain.BackupManifest, error) {
	raw, err := os.ReadFile(m.manifestPath) //#nosec G304 -- path constructed from the validated base
	if err != nil {
		if os.IsNotExist(err) {
			return &domain.BackupManifest{
				Version: constants.ManifestVersion,
				Backups: []domain.BackupEntry{},
				RotationPolicy: domain.RotationPolicy{
					MaxCount: m.maxCount,
					MaxAge:   m.maxAge.Milliseconds(),
				},
			}, nil
		}
		return nil, errors.Wrap(err, "failed to read backup manifest")
	}
	var manifest domain.BackupManifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return nil, errors.Wrap(err, "failed to parse backup manifest")
	}
	if manifest.Backups == nil {
		manifest.Backups = []domain.BackupEntry{}
	}
	sortNewestFirst(manifest.Backups)
	return &manifest, nil
}

func (m *Manager) saveManifest(manifest *domain.BackupManifest) error {
	raw, err := yaml.Marshal(manifest)
	if err != nil {
		return errors.Wrap(err, "failed to encode backup manifest")
	}
	if err := os.MkdirAll(m.dir, constants.DirPerm); err != nil {
		return errors.Wrap(err, "failed to create backups directory")
	}
	if err := os.WriteFile(m.manifestPath, raw, constants.FilePerm); err != nil {
		return errors.Wrap(err, "failed to write backup manifest")
	}
	return nil
}

// sortNewestFirst orders entries by creation time descending, breaking
// ties by filename (which embeds a millisecond timestamp).
func sortNewestFirst(entries []domain.BackupEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CreatedAt != entries[j].CreatedAt {
			return entries[i].CreatedAt > entries[j].CreatedAt
		}
		return entries[i].Filename > entries[j].Filename
	})
}
