package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/straye-as/pipeline-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LeadRepository struct {
	db *gorm.DB
}

func NewLeadRepository(db *gorm.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

func (r *LeadRepository) Create(ctx context.Context, lead *domain.Lead) error {
	lead.TenantID = tenantOf(ctx, lead.TenantID)
	if lead.Lifecycle == "" {
		lead.Lifecycle = domain.LifecycleActive
	}
	if lead.Status == "" {
		lead.Status = domain.LeadStatusNew
	}
	return r.db.WithContext(ctx).Create(lead).Error
}

func (r *LeadRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Lead, error) {
	var lead domain.Lead
	query := r.db.WithContext(ctx).Where("id = ? AND lifecycle <> ?", id, domain.LifecycleDeleted)
	query = ApplyTenantFilter(ctx, query)
	if err := query.First(&lead).Error; err != nil {
		return nil, err
	}
	return &lead, nil
}

// GetForUpdate reloads a lead with a row lock inside the caller's transaction
func (r *LeadRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Lead, error) {
	var lead domain.Lead
	query := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND lifecycle <> ?", id, domain.LifecycleDeleted)
	query = ApplyTenantFilter(ctx, query)
	if err := query.First(&lead).Error; err != nil {
		return nil, err
	}
	return &lead, nil
}

func (r *LeadRepository) Update(ctx context.Context, lead *domain.Lead) error {
	return r.db.WithContext(ctx).Save(lead).Error
}
