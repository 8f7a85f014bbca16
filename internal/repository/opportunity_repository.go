package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/pipeline-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OpportunityListFilters contains all filter options for listing opportunities
type OpportunityListFilters struct {
	PipelineID *uuid.UUID
	StageID    *uuid.UUID
	Status     *domain.OpportunityStatus
	AccountID  *uuid.UUID
	// IsRotting filters by the rotting predicate built from RottingStages at Now
	IsRotting     *bool
	RottingStages []domain.PipelineStage
	Now           time.Time
}

// StageStat aggregates the open opportunities of one stage
type StageStat struct {
	StageID    uuid.UUID
	Count      int64
	TotalValue float64
}

var opportunitySortFields = map[string]string{
	"createdAt":         "created_at",
	"updatedAt":         "updated_at",
	"amount":            "amount",
	"probability":       "probability",
	"stageEnteredAt":    "stage_entered_at",
	"expectedCloseDate": "expected_close_date",
	"name":              "name",
}

type OpportunityRepository struct {
	db *gorm.DB
}

func NewOpportunityRepository(db *gorm.DB) *OpportunityRepository {
	return &OpportunityRepository{db: db}
}

func (r *OpportunityRepository) Create(ctx context.Context, opp *domain.Opportunity) error {
	opp.TenantID = tenantOf(ctx, opp.TenantID)
	if opp.Lifecycle == "" {
		opp.Lifecycle = domain.LifecycleActive
	}
	// Omit associations to avoid GORM trying to upsert the stage
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(opp).Error
}

func (r *OpportunityRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Opportunity, error) {
	var opp domain.Opportunity
	query := r.db.WithContext(ctx).
		Preload("Stage").
		Preload("Contacts", func(db *gorm.DB) *gorm.DB {
			return db.Order("is_primary DESC").Order("created_at ASC")
		}).
		Preload("Contacts.Contact").
		Where("id = ? AND lifecycle <> ?", id, domain.LifecycleDeleted)
	query = ApplyTenantFilter(ctx, query)
	if err := query.First(&opp).Error; err != nil {
		return nil, err
	}
	return &opp, nil
}

// GetForUpdate reloads an opportunity with a row lock inside the caller's transaction
func (r *OpportunityRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Opportunity, error) {
	var opp domain.Opportunity
	query := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND lifecycle <> ?", id, domain.LifecycleDeleted)
	query = ApplyTenantFilter(ctx, query)
	if err := query.First(&opp).Error; err != nil {
		return nil, err
	}
	return &opp, nil
}

func (r *OpportunityRepository) Update(ctx context.Context, opp *domain.Opportunity) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(opp).Error
}

// CountByPipeline counts non-deleted opportunities referencing a pipeline
func (r *OpportunityRepository) CountByPipeline(ctx context.Context, pipelineID uuid.UUID) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&domain.Opportunity{}).
		Where("pipeline_id = ? AND lifecycle <> ?", pipelineID, domain.LifecycleDeleted)
	query = ApplyTenantFilter(ctx, query)
	err := query.Count(&count).Error
	return count, err
}

// CountByPipelines returns non-deleted opportunity counts keyed by pipeline
func (r *OpportunityRepository) CountByPipelines(ctx context.Context, pipelineIDs []uuid.UUID) (map[uuid.UUID]int64, error) {
	counts := make(map[uuid.UUID]int64, len(pipelineIDs))
	if len(pipelineIDs) == 0 {
		return counts, nil
	}

	type result struct {
		PipelineID uuid.UUID
		Count      int64
	}
	var results []result
	query := r.db.WithContext(ctx).Model(&domain.Opportunity{}).
		Select("pipeline_id, COUNT(*) as count").
		Where("pipeline_id IN ? AND lifecycle <> ?", pipelineIDs, domain.LifecycleDeleted)
	query = ApplyTenantFilter(ctx, query)
	if err := query.Group("pipeline_id").Scan(&results).Error; err != nil {
		return nil, err
	}
	for _, res := range results {
		counts[res.PipelineID] = res.Count
	}
	return counts, nil
}

// StageStats returns count and value of open opportunities per stage of a pipeline.
// Totals cover the full set, independent of any page of cards.
func (r *OpportunityRepository) StageStats(ctx context.Context, pipelineID uuid.UUID) (map[uuid.UUID]StageStat, error) {
	var results []StageStat
	query := r.db.WithContext(ctx).Model(&domain.Opportunity{}).
		Select("stage_id, COUNT(*) as count, COALESCE(SUM(amount), 0) as total_value").
		Where("pipeline_id = ? AND status = ? AND lifecycle = ?", pipelineID, domain.OpportunityStatusOpen, domain.LifecycleActive)
	query = ApplyTenantFilter(ctx, query)
	if err := query.Group("stage_id").Scan(&results).Error; err != nil {
		return nil, err
	}

	stats := make(map[uuid.UUID]StageStat, len(results))
	for _, res := range results {
		stats[res.StageID] = res
	}
	return stats, nil
}

// ListByStage returns up to limit open opportunities in a stage, newest entries first
func (r *OpportunityRepository) ListByStage(ctx context.Context, stageID uuid.UUID, limit int) ([]domain.Opportunity, error) {
	var opps []domain.Opportunity
	if limit <= 0 {
		return opps, nil
	}
	query := r.db.WithContext(ctx).
		Where("stage_id = ? AND status = ? AND lifecycle = ?", stageID, domain.OpportunityStatusOpen, domain.LifecycleActive)
	query = ApplyTenantFilter(ctx, query)
	err := query.
		Order("stage_entered_at DESC").
		Order("created_at DESC").
		Limit(limit).
		Find(&opps).Error
	return opps, err
}

// List returns a filtered, sorted page of opportunities
func (r *OpportunityRepository) List(ctx context.Context, page, pageSize int, filters *OpportunityListFilters, sort SortConfig) ([]domain.Opportunity, int64, error) {
	var opps []domain.Opportunity
	var total int64

	query := r.db.WithContext(ctx).Model(&domain.Opportunity{}).
		Preload("Stage").
		Where("lifecycle = ?", domain.LifecycleActive)
	query = ApplyTenantFilter(ctx, query)
	query = r.applyFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize = NormalizePage(page, pageSize)
	offset := (page - 1) * pageSize
	err := query.
		Order(BuildOrderClause(sort, opportunitySortFields, "updated_at")).
		Offset(offset).
		Limit(pageSize).
		Find(&opps).Error

	return opps, total, err
}

func (r *OpportunityRepository) applyFilters(query *gorm.DB, filters *OpportunityListFilters) *gorm.DB {
	if filters == nil {
		return query
	}
	if filters.PipelineID != nil {
		query = query.Where("pipeline_id = ?", *filters.PipelineID)
	}
	if filters.StageID != nil {
		query = query.Where("stage_id = ?", *filters.StageID)
	}
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.AccountID != nil {
		query = query.Where("account_id = ?", *filters.AccountID)
	}
	if filters.IsRotting != nil {
		predicate, args := RottingPredicate(filters.RottingStages, filters.Now)
		rotting := "(status = ? AND " + predicate + ")"
		args = append([]interface{}{domain.OpportunityStatusOpen}, args...)
		if *filters.IsRotting {
			query = query.Where(rotting, args...)
		} else {
			query = query.Where("NOT "+rotting, args...)
		}
	}
	return query
}

// FindRottingCandidates returns open opportunities matching the rotting predicate.
// With onlyUnnotified set, opportunities already flagged since their last stage change are skipped.
func (r *OpportunityRepository) FindRottingCandidates(ctx context.Context, stages []domain.PipelineStage, now time.Time, onlyUnnotified bool) ([]domain.Opportunity, error) {
	var opps []domain.Opportunity
	predicate, args := RottingPredicate(stages, now)
	query := r.db.WithContext(ctx).
		Where("status = ? AND lifecycle = ?", domain.OpportunityStatusOpen, domain.LifecycleActive).
		Where(predicate, args...)
	if onlyUnnotified {
		query = query.Where("rotting_notified_at IS NULL")
	}
	query = ApplyTenantFilter(ctx, query)
	err := query.Order("stage_entered_at ASC").Find(&opps).Error
	return opps, err
}

// MarkRottingNotified stamps rotting_notified_at on the given opportunities
func (r *OpportunityRepository) MarkRottingNotified(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&domain.Opportunity{}).
		Where("id IN ?", ids).
		Update("rotting_notified_at", at).Error
}

// IDsInLifecycle returns which of ids are currently in the given lifecycle
func (r *OpportunityRepository) IDsInLifecycle(ctx context.Context, ids []uuid.UUID, lifecycle domain.Lifecycle) ([]uuid.UUID, error) {
	var found []uuid.UUID
	if len(ids) == 0 {
		return found, nil
	}
	query := r.db.WithContext(ctx).Model(&domain.Opportunity{}).
		Where("id IN ? AND lifecycle = ?", ids, lifecycle)
	query = ApplyTenantFilter(ctx, query)
	err := query.Pluck("id", &found).Error
	return found, err
}

// SetLifecycle moves the opportunities among ids that are in from to lifecycle to,
// in a single statement. Rows in any other lifecycle are left alone.
func (r *OpportunityRepository) SetLifecycle(ctx context.Context, ids []uuid.UUID, from, to domain.Lifecycle, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := r.db.WithContext(ctx).Model(&domain.Opportunity{}).
		Where("id IN ? AND lifecycle = ?", ids, from)
	query = ApplyTenantFilter(ctx, query)
	result := query.Updates(map[string]interface{}{"lifecycle": to, "updated_at": at})
	return result.RowsAffected, result.Error
}
