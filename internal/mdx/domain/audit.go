package domain

import "time"

// AuditSeverity grades audit events.
type AuditSeverity string

const (
	AuditSeverityInfo     AuditSeverity = "info"
	AuditSeverityCritical AuditSeverity = "critical"
)

// AuditEvent records a state-changing operation. Writes are best-effort:
// a failed audit write never rolls back the primary operation.
type AuditEvent struct {
	ID           string
	Action       string
	ResourceType string
	ResourceID   string
	UserID       string
	Severity     AuditSeverity
	Detail       string // JSON payload
	CreatedAt    time.Time
}
