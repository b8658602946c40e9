package types

import "time"

// BackupTier selects the cadence and destination of a backup run.
type BackupTier string

// Backup tier constants
const (
	// TierPrimary is the frequent local tier
	TierPrimary BackupTier = "primary"

	// TierSecondary is the periodic tier, uploaded to durable storage
	TierSecondary BackupTier = "secondary"

	// TierArchive is the infrequent cold tier, uploaded to durable storage
	TierArchive BackupTier = "archive"
)

// ValidBackupTiers is a slice of all valid tiers for validation
var ValidBackupTiers = []BackupTier{
	TierPrimary,
	TierSecondary,
	TierArchive,
}

// IsValidBackupTier checks if the given tier is valid
func IsValidBackupTier(tier string) bool {
	for _, validTier := range ValidBackupTiers {
		if string(validTier) == tier {
			return true
		}
	}
	return false
}

// BackupStatus is the catalog state of one backup attempt. Rows are inserted
// running and finalized exactly once to success or failed.
type BackupStatus string

// Backup status constants
const (
	BackupRunning BackupStatus = "running"
	BackupSuccess BackupStatus = "success"
	BackupFailed  BackupStatus = "failed"
)

// BackupRecord is one append-only backup catalog row.
type BackupRecord struct {
	ID          string       `json:"id"`
	Tier        BackupTier   `json:"tier"`
	Path        string       `json:"path"`     // Local artifact path, "pending" while running
	Checksum    string       `json:"checksum"` // SHA-256 of the compressed artifact
	SizeBytes   int64        `json:"size_bytes"`
	RecordCount int          `json:"records_count"` // Entries + associations + sessions exported
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Status      BackupStatus `json:"status"`
	Error       string       `json:"error_message,omitempty"`
}
