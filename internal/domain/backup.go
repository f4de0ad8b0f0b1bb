package domain

// BackupEntry is one snapshot recorded in the backup manifest.
type BackupEntry struct {
	// Filename is the snapshot file name within the backups directory.
	Filename string `yaml:"filename"`

	// CreatedAt is the snapshot creation time in RFC 3339 format.
	CreatedAt string `yaml:"createdAt"`

	// Checksum is the state document checksum at snapshot time.
	Checksum string `yaml:"checksum"`

	// Size is the snapshot file size in bytes.
	Size int64 `yaml:"size"`

	// SchemaVersion is the document schema version at snapshot time.
	SchemaVersion string `yaml:"schemaVersion"`
}

// RotationPolicy bounds how many snapshots are retained.
type RotationPolicy struct {
	// MaxCount is the number of snapshots kept; older files are deleted.
	MaxCount int `yaml:"maxCount"`

	// MaxAge, when non-zero, is the maximum snapshot age in milliseconds.
	MaxAge int64 `yaml:"maxAge,omitempty"`
}

// BackupManifest is the YAML document at <base>/backups/manifest.yaml.
// Backups are ordered newest-first.
type BackupManifest struct {
	Version        string         `yaml:"version"`
	Backups        []BackupEntry  `yaml:"backups"`
	RotationPolicy RotationPolicy `yaml:"rotationPolicy"`
}

// EncryptionMetadata is the JSON document at <base>/.encryption-metadata.json.
// It tracks the active key and which document paths are stored encrypted.
type EncryptionMetadata struct {
	Version         string   `json:"version"`
	KeyID           string   `json:"keyId"`
	EncryptedFields []string `json:"encryptedFields"`
	CreatedAt       string   `json:"createdAt"`
	RotatedAt       string   `json:"rotatedAt,omitempty"`
}
