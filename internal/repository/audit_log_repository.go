package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/pipeline-engine/internal/domain"
	"gorm.io/gorm"
)

// AuditLogRepository is the append-only audit sink
type AuditLogRepository struct {
	db *gorm.DB
}

// NewAuditLogRepository creates a new audit log repository
func NewAuditLogRepository(db *gorm.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

// Create inserts a new audit log entry (append-only - no updates allowed)
func (r *AuditLogRepository) Create(ctx context.Context, log *domain.AuditLog) error {
	log.TenantID = tenantOf(ctx, log.TenantID)
	return r.db.WithContext(ctx).Create(log).Error
}

// Log records an action against an entity with a JSON payload
func (r *AuditLogRepository) Log(ctx context.Context, ref domain.EntityRef, action string, payload interface{}, actorID *uuid.UUID, at time.Time) error {
	var body string
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = string(raw)
	}
	return r.Create(ctx, &domain.AuditLog{
		EntityType:  ref.Type,
		EntityID:    ref.ID,
		Action:      action,
		Payload:     body,
		ActorID:     actorID,
		PerformedAt: at,
	})
}

// ListFor returns the audit trail of an entity, newest first
func (r *AuditLogRepository) ListFor(ctx context.Context, ref domain.EntityRef) ([]domain.AuditLog, error) {
	var logs []domain.AuditLog
	query := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", ref.Type, ref.ID)
	query = ApplyTenantFilter(ctx, query)
	err := query.Order("performed_at DESC").Find(&logs).Error
	return logs, err
}
