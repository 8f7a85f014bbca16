package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/straye-as/pipeline-engine/internal/domain"
	"gorm.io/gorm"
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) error {
	account.TenantID = tenantOf(ctx, account.TenantID)
	if account.Lifecycle == "" {
		account.Lifecycle = domain.LifecycleActive
	}
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	var account domain.Account
	query := r.db.WithContext(ctx).Where("id = ? AND lifecycle <> ?", id, domain.LifecycleDeleted)
	query = ApplyTenantFilter(ctx, query)
	if err := query.First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}
