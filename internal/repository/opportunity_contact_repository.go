package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/straye-as/pipeline-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OpportunityContactRepository struct {
	db *gorm.DB
}

func NewOpportunityContactRepository(db *gorm.DB) *OpportunityContactRepository {
	return &OpportunityContactRepository{db: db}
}

func (r *OpportunityContactRepository) Create(ctx context.Context, link *domain.OpportunityContact) error {
	link.TenantID = tenantOf(ctx, link.TenantID)
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(link).Error
}

// Get returns the link between an opportunity and a contact
func (r *OpportunityContactRepository) Get(ctx context.Context, opportunityID, contactID uuid.UUID) (*domain.OpportunityContact, error) {
	var link domain.OpportunityContact
	query := r.db.WithContext(ctx).
		Where("opportunity_id = ? AND contact_id = ?", opportunityID, contactID)
	query = ApplyTenantFilter(ctx, query)
	if err := query.First(&link).Error; err != nil {
		return nil, err
	}
	return &link, nil
}

func (r *OpportunityContactRepository) Exists(ctx context.Context, opportunityID, contactID uuid.UUID) (bool, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&domain.OpportunityContact{}).
		Where("opportunity_id = ? AND contact_id = ?", opportunityID, contactID)
	query = ApplyTenantFilter(ctx, query)
	err := query.Count(&count).Error
	return count > 0, err
}

func (r *OpportunityContactRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&domain.OpportunityContact{}, "id = ?", id).Error
}

// ClearPrimary removes the primary flag from every contact of an opportunity
func (r *OpportunityContactRepository) ClearPrimary(ctx context.Context, opportunityID uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&domain.OpportunityContact{}).
		Where("opportunity_id = ? AND is_primary = ?", opportunityID, true).
		Update("is_primary", false).Error
}

// ContactIDs returns the ids of every contact linked to an opportunity in one query
func (r *OpportunityContactRepository) ContactIDs(ctx context.Context, opportunityID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	query := r.db.WithContext(ctx).Model(&domain.OpportunityContact{}).
		Where("opportunity_id = ?", opportunityID)
	query = ApplyTenantFilter(ctx, query)
	err := query.Pluck("contact_id", &ids).Error
	return ids, err
}
