package sqlite

import (
	"context"

	"github.com/tamv/mdx/internal/mdx/domain"
)

type auditEventsRepo struct {
	db dbtx
}

func (r *auditEventsRepo) CreateAuditEvent(ctx context.Context, e domain.AuditEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, action, resource_type, resource_id, user_id, severity, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action, e.ResourceType, e.ResourceID, e.UserID, string(e.Severity), e.Detail,
	)
	return err
}
