package domain

import "time"

// CredentialType discriminates durable authentication factors.
type CredentialType string

const (
	CredentialTypePossession CredentialType = "possession"
	CredentialTypeTOTP       CredentialType = "totp"
	CredentialTypeBackupCode CredentialType = "backup_code"
)

// Credential is a durable enrollment record binding an identity to an
// authentication factor. CredentialID is unique within its factor type
// namespace.
type Credential struct {
	ID           string
	UserID       string
	CredentialID string
	Type         CredentialType
	PublicKey    string // opaque public-key or secret material
	DeviceName   string
	Transports   string
	IsPrimary    bool
	Counter      int64 // monotonically non-decreasing usage counter
	LastUsedAt   *time.Time
	CreatedAt    time.Time
}
