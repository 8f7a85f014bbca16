package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/straye-as/pipeline-engine/internal/domain"
	"gorm.io/gorm"
)

// ActivityLinkRepository stores the (entity type, entity id) associations of activities
type ActivityLinkRepository struct {
	db *gorm.DB
}

func NewActivityLinkRepository(db *gorm.DB) *ActivityLinkRepository {
	return &ActivityLinkRepository{db: db}
}

// GetLinksFor returns every link that points at the given entity
func (r *ActivityLinkRepository) GetLinksFor(ctx context.Context, ref domain.EntityRef) ([]domain.ActivityLink, error) {
	var links []domain.ActivityLink
	query := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", ref.Type, ref.ID)
	query = ApplyTenantFilter(ctx, query)
	err := query.Order("created_at ASC").Find(&links).Error
	return links, err
}

// AddLink attaches an activity to an entity
func (r *ActivityLinkRepository) AddLink(ctx context.Context, activityID uuid.UUID, ref domain.EntityRef) (*domain.ActivityLink, error) {
	link := &domain.ActivityLink{
		ActivityID: activityID,
		EntityType: ref.Type,
		EntityID:   ref.ID,
	}
	link.TenantID = tenantOf(ctx, uuid.Nil)
	if err := r.db.WithContext(ctx).Create(link).Error; err != nil {
		return nil, err
	}
	return link, nil
}

// AddLinks inserts many links in one statement
func (r *ActivityLinkRepository) AddLinks(ctx context.Context, links []*domain.ActivityLink) error {
	if len(links) == 0 {
		return nil
	}
	for _, link := range links {
		link.TenantID = tenantOf(ctx, link.TenantID)
	}
	return r.db.WithContext(ctx).Create(links).Error
}
