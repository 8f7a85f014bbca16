package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/straye-as/pipeline-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PipelineRepository struct {
	db *gorm.DB
}

func NewPipelineRepository(db *gorm.DB) *PipelineRepository {
	return &PipelineRepository{db: db}
}

// activeStages preloads only active stages in traversal order
func activeStages(db *gorm.DB) *gorm.DB {
	return db.Where("lifecycle = ?", domain.LifecycleActive).Order("display_order ASC")
}

// Create inserts the pipeline and its stages
func (r *PipelineRepository) Create(ctx context.Context, pipeline *domain.Pipeline) error {
	pipeline.TenantID = tenantOf(ctx, pipeline.TenantID)
	if pipeline.Lifecycle == "" {
		pipeline.Lifecycle = domain.LifecycleActive
	}
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(pipeline).Error; err != nil {
		return err
	}
	for i := range pipeline.Stages {
		stage := &pipeline.Stages[i]
		stage.PipelineID = pipeline.ID
		stage.TenantID = pipeline.TenantID
		if err := r.CreateStage(ctx, stage); err != nil {
			return err
		}
	}
	return nil
}

// GetByID returns an active pipeline with its active stages
func (r *PipelineRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Pipeline, error) {
	var pipeline domain.Pipeline
	query := r.db.WithContext(ctx).
		Preload("Stages", activeStages).
		Where("id = ? AND lifecycle = ?", id, domain.LifecycleActive)
	query = ApplyTenantFilter(ctx, query)
	if err := query.First(&pipeline).Error; err != nil {
		return nil, err
	}
	return &pipeline, nil
}

// GetDefault returns the tenant's default pipeline
func (r *PipelineRepository) GetDefault(ctx context.Context) (*domain.Pipeline, error) {
	var pipeline domain.Pipeline
	query := r.db.WithContext(ctx).
		Preload("Stages", activeStages).
		Where("is_default = ? AND lifecycle = ?", true, domain.LifecycleActive)
	query = ApplyTenantFilter(ctx, query)
	if err := query.First(&pipeline).Error; err != nil {
		return nil, err
	}
	return &pipeline, nil
}

// GetFallback returns the best available pipeline: the default first, then the newest
func (r *PipelineRepository) GetFallback(ctx context.Context) (*domain.Pipeline, error) {
	var pipeline domain.Pipeline
	query := r.db.WithContext(ctx).
		Preload("Stages", activeStages).
		Where("lifecycle = ?", domain.LifecycleActive)
	query = ApplyTenantFilter(ctx, query)
	err := query.
		Order("is_default DESC").
		Order("created_at DESC").
		First(&pipeline).Error
	if err != nil {
		return nil, err
	}
	return &pipeline, nil
}

// List returns active pipelines, default first then by name
func (r *PipelineRepository) List(ctx context.Context) ([]domain.Pipeline, error) {
	var pipelines []domain.Pipeline
	query := r.db.WithContext(ctx).
		Preload("Stages", activeStages).
		Where("lifecycle = ?", domain.LifecycleActive)
	query = ApplyTenantFilter(ctx, query)
	err := query.Order("is_default DESC").Order("name ASC").Find(&pipelines).Error
	return pipelines, err
}

// Update saves pipeline columns without touching stages
func (r *PipelineRepository) Update(ctx context.Context, pipeline *domain.Pipeline) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(pipeline).Error
}

// ClearDefault unsets the default flag on every pipeline of the tenant except keepID.
// The tenant is explicit so an unscoped caller can never touch another tenant's default.
func (r *PipelineRepository) ClearDefault(ctx context.Context, tenantID, keepID uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&domain.Pipeline{}).
		Where("tenant_id = ? AND is_default = ? AND id <> ?", tenantID, true, keepID).
		Update("is_default", false).Error
}

// CountActive returns the number of active pipelines in the tenant
func (r *PipelineRepository) CountActive(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Pipeline{}).
		Where("tenant_id = ? AND lifecycle = ?", tenantID, domain.LifecycleActive).
		Count(&count).Error
	return count, err
}

// CountOtherDefaults counts the tenant's active default pipelines other than excludeID
func (r *PipelineRepository) CountOtherDefaults(ctx context.Context, tenantID, excludeID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Pipeline{}).
		Where("tenant_id = ? AND is_default = ? AND lifecycle = ? AND id <> ?", tenantID, true, domain.LifecycleActive, excludeID).
		Count(&count).Error
	return count, err
}

// Stages

func (r *PipelineRepository) CreateStage(ctx context.Context, stage *domain.PipelineStage) error {
	stage.TenantID = tenantOf(ctx, stage.TenantID)
	if stage.Lifecycle == "" {
		stage.Lifecycle = domain.LifecycleActive
	}
	return r.db.WithContext(ctx).Create(stage).Error
}

func (r *PipelineRepository) UpdateStage(ctx context.Context, stage *domain.PipelineStage) error {
	return r.db.WithContext(ctx).Save(stage).Error
}

// GetStage returns an active stage that belongs to the given pipeline
func (r *PipelineRepository) GetStage(ctx context.Context, pipelineID, stageID uuid.UUID) (*domain.PipelineStage, error) {
	var stage domain.PipelineStage
	query := r.db.WithContext(ctx).
		Where("id = ? AND pipeline_id = ? AND lifecycle = ?", stageID, pipelineID, domain.LifecycleActive)
	query = ApplyTenantFilter(ctx, query)
	if err := query.First(&stage).Error; err != nil {
		return nil, err
	}
	return &stage, nil
}

// GetFirstStage returns the active stage with the lowest display order
func (r *PipelineRepository) GetFirstStage(ctx context.Context, pipelineID uuid.UUID) (*domain.PipelineStage, error) {
	var stage domain.PipelineStage
	query := r.db.WithContext(ctx).
		Where("pipeline_id = ? AND lifecycle = ?", pipelineID, domain.LifecycleActive)
	query = ApplyTenantFilter(ctx, query)
	if err := query.Order("display_order ASC").First(&stage).Error; err != nil {
		return nil, err
	}
	return &stage, nil
}

// GetTerminalStage returns the first active won (or lost) stage of a pipeline
func (r *PipelineRepository) GetTerminalStage(ctx context.Context, pipelineID uuid.UUID, won bool) (*domain.PipelineStage, error) {
	column := "is_lost_stage"
	if won {
		column = "is_won_stage"
	}
	var stage domain.PipelineStage
	query := r.db.WithContext(ctx).
		Where("pipeline_id = ? AND lifecycle = ?", pipelineID, domain.LifecycleActive).
		Where(column+" = ?", true)
	query = ApplyTenantFilter(ctx, query)
	if err := query.Order("display_order ASC").First(&stage).Error; err != nil {
		return nil, err
	}
	return &stage, nil
}

// ListStages returns every stage of a pipeline including inactive ones
func (r *PipelineRepository) ListStages(ctx context.Context, pipelineID uuid.UUID) ([]domain.PipelineStage, error) {
	var stages []domain.PipelineStage
	query := r.db.WithContext(ctx).Where("pipeline_id = ?", pipelineID)
	query = ApplyTenantFilter(ctx, query)
	err := query.Order("display_order ASC").Find(&stages).Error
	return stages, err
}

// ListRottableStages returns active, non-terminal stages with a rot threshold.
// A nil pipelineID spans all active pipelines of the tenant.
func (r *PipelineRepository) ListRottableStages(ctx context.Context, pipelineID *uuid.UUID) ([]domain.PipelineStage, error) {
	var stages []domain.PipelineStage
	query := r.db.WithContext(ctx).
		Where("lifecycle = ? AND default_days_to_rot > 0", domain.LifecycleActive).
		Where("is_won_stage = ? AND is_lost_stage = ?", false, false).
		Where("pipeline_id IN (?)", r.db.Model(&domain.Pipeline{}).Select("id").Where("lifecycle = ?", domain.LifecycleActive))
	if pipelineID != nil {
		query = query.Where("pipeline_id = ?", *pipelineID)
	}
	query = ApplyTenantFilter(ctx, query)
	err := query.Order("display_order ASC").Find(&stages).Error
	return stages, err
}
