package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/straye-as/pipeline-engine/internal/domain"
	"gorm.io/gorm"
)

type StageHistoryRepository struct {
	db *gorm.DB
}

func NewStageHistoryRepository(db *gorm.DB) *StageHistoryRepository {
	return &StageHistoryRepository{db: db}
}

// Create records a new stage transition
func (r *StageHistoryRepository) Create(ctx context.Context, history *domain.StageHistory) error {
	history.TenantID = tenantOf(ctx, history.TenantID)
	return r.db.WithContext(ctx).Create(history).Error
}

// ListByOpportunity returns all stage history for an opportunity, newest first
func (r *StageHistoryRepository) ListByOpportunity(ctx context.Context, opportunityID uuid.UUID) ([]domain.StageHistory, error) {
	var history []domain.StageHistory
	query := r.db.WithContext(ctx).Where("opportunity_id = ?", opportunityID)
	query = ApplyTenantFilter(ctx, query)
	err := query.Order("changed_at DESC").Order("created_at DESC").Find(&history).Error
	return history, err
}
