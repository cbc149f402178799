package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/tamv/mdx/internal/mdx/domain"
	"github.com/tamv/mdx/internal/mdx/store"
	"github.com/tamv/mdx/pkg/idx"
)

// AuditService appends audit rows for state-changing operations. Writes
// are best-effort: failures are logged and never propagate to the caller.
type AuditService struct {
	Store  store.Store
	Logger *slog.Logger
}

// Record writes an audit event. detail is marshalled to JSON; a nil detail
// records an empty object.
func (s *AuditService) Record(ctx context.Context, action, resourceType, resourceID, userID string, severity domain.AuditSeverity, detail any) {
	payload := []byte("{}")
	if detail != nil {
		b, err := json.Marshal(detail)
		if err != nil {
			s.Logger.Warn("audit: failed to marshal detail", "action", action, "err", err)
		} else {
			payload = b
		}
	}

	event := domain.AuditEvent{
		ID:           idx.New().String(),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		UserID:       userID,
		Severity:     severity,
		Detail:       string(payload),
	}

	if err := s.Store.AuditEvents().CreateAuditEvent(ctx, event); err != nil {
		s.Logger.Warn("audit: failed to record event",
			"action", action,
			"resource_type", resourceType,
			"resource_id", resourceID,
			"err", err,
		)
	}
}
