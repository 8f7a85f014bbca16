package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/straye-as/pipeline-engine/internal/domain"
	"gorm.io/gorm"
)

type ContactRepository struct {
	db *gorm.DB
}

func NewContactRepository(db *gorm.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

func (r *ContactRepository) Create(ctx context.Context, contact *domain.Contact) error {
	contact.TenantID = tenantOf(ctx, contact.TenantID)
	if contact.Lifecycle == "" {
		contact.Lifecycle = domain.LifecycleActive
	}
	return r.db.WithContext(ctx).Create(contact).Error
}

func (r *ContactRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Contact, error) {
	var contact domain.Contact
	query := r.db.WithContext(ctx).Where("id = ? AND lifecycle <> ?", id, domain.LifecycleDeleted)
	query = ApplyTenantFilter(ctx, query)
	if err := query.First(&contact).Error; err != nil {
		return nil, err
	}
	return &contact, nil
}

// ListByIDs loads many contacts in a single query
func (r *ContactRepository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Contact, error) {
	var contacts []domain.Contact
	if len(ids) == 0 {
		return contacts, nil
	}
	query := r.db.WithContext(ctx).Where("id IN ?", ids)
	query = ApplyTenantFilter(ctx, query)
	err := query.Find(&contacts).Error
	return contacts, err
}

// SetLifecycleStage writes one lifecycle stage to many contacts in a single statement
func (r *ContactRepository) SetLifecycleStage(ctx context.Context, ids []uuid.UUID, stage domain.LifecycleStage) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&domain.Contact{}).
		Where("id IN ?", ids).
		Update("lifecycle_stage", stage).Error
}
