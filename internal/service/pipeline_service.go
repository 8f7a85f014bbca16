package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/straye-as/pipeline-engine/internal/auth"
	"github.com/straye-as/pipeline-engine/internal/domain"
	"github.com/straye-as/pipeline-engine/internal/mapper"
	"github.com/straye-as/pipeline-engine/internal/repository"
	"go.uber.org/zap"
)

// PipelineService owns pipeline and stage configuration
type PipelineService struct {
	uow    *repository.UnitOfWork
	cache  PipelineCache
	logger *zap.Logger
	now    Clock
}

// NewPipelineService creates a pipeline service. cache may be nil.
func NewPipelineService(uow *repository.UnitOfWork, cache PipelineCache, logger *zap.Logger, clock Clock) *PipelineService {
	if clock == nil {
		clock = UTCNow
	}
	return &PipelineService{
		uow:    uow,
		cache:  cache,
		logger: logger,
		now:    clock,
	}
}

// GetDefaultPipeline returns the tenant's default pipeline with its active stages
func (s *PipelineService) GetDefaultPipeline(ctx context.Context) (*domain.Pipeline, error) {
	tenantID, hasTenant := auth.TenantFromContext(ctx)
	if s.cache != nil && hasTenant {
		pipeline, ok, err := s.cache.GetDefault(ctx, tenantID)
		if err != nil {
			s.logger.Warn("pipeline cache read failed", zap.Error(err))
		} else if ok {
			return pipeline, nil
		}
	}

	pipeline, err := s.uow.Repos().Pipelines.GetDefault(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, domain.NewNotFoundError(domain.CodePipelineNotFound, "default pipeline", nil)
		}
		return nil, fmt.Errorf("failed to load default pipeline: %w", err)
	}

	if s.cache != nil && hasTenant {
		if err := s.cache.SetDefault(ctx, tenantID, pipeline); err != nil {
			s.logger.Warn("pipeline cache write failed", zap.Error(err))
		}
	}
	return pipeline, nil
}

// GetPipeline returns a pipeline with its active stages ordered by display order
func (s *PipelineService) GetPipeline(ctx context.Context, id uuid.UUID) (*domain.PipelineDTO, error) {
	repos := s.uow.Repos()
	pipeline, err := repos.Pipelines.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, domain.CodePipelineNotFound, "pipeline", id)
	}
	count, err := repos.Opportunities.CountByPipeline(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to count opportunities: %w", err)
	}
	dto := mapper.ToPipelineDTO(pipeline, count)
	return &dto, nil
}

// GetStage returns an active stage of the given pipeline
func (s *PipelineService) GetStage(ctx context.Context, pipelineID, stageID uuid.UUID) (*domain.PipelineStage, error) {
	stage, err := s.uow.Repos().Pipelines.GetStage(ctx, pipelineID, stageID)
	if err != nil {
		return nil, notFoundOr(err, domain.CodeStageNotFound, "stage", stageID)
	}
	return stage, nil
}

// GetFirstStage returns the active stage with the lowest display order
func (s *PipelineService) GetFirstStage(ctx context.Context, pipelineID uuid.UUID) (*domain.PipelineStage, error) {
	stage, err := s.uow.Repos().Pipelines.GetFirstStage(ctx, pipelineID)
	if err != nil {
		return nil, notFoundOr(err, domain.CodeStageNotFound, "first stage of pipeline", pipelineID)
	}
	return stage, nil
}

// List returns active pipelines, default first, with stage and opportunity counts
func (s *PipelineService) List(ctx context.Context) ([]domain.PipelineDTO, error) {
	repos := s.uow.Repos()
	pipelines, err := repos.Pipelines.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pipelines: %w", err)
	}

	ids := make([]uuid.UUID, len(pipelines))
	for i := range pipelines {
		ids[i] = pipelines[i].ID
	}
	counts, err := repos.Opportunities.CountByPipelines(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to count opportunities: %w", err)
	}

	dtos := make([]domain.PipelineDTO, len(pipelines))
	for i := range pipelines {
		dtos[i] = mapper.ToPipelineDTO(&pipelines[i], counts[pipelines[i].ID])
	}
	return dtos, nil
}

// Create adds a pipeline with its stages. The tenant's first pipeline always becomes the default.
func (s *PipelineService) Create(ctx context.Context, req *domain.CreatePipelineRequest) (*domain.PipelineDTO, error) {
	name := strings.TrimSpace(req.Name)
	if err := validatePipeline(name, req.Stages); err != nil {
		return nil, err
	}

	pipeline := &domain.Pipeline{
		Name:        name,
		Description: req.Description,
		IsDefault:   req.IsDefault,
		Lifecycle:   domain.LifecycleActive,
	}
	pipeline.TenantID, _ = auth.TenantFromContext(ctx)
	for _, in := range req.Stages {
		pipeline.Stages = append(pipeline.Stages, stageFromInput(in))
	}

	err := s.uow.Do(ctx, func(tx *repository.Tx) error {
		existing, err := tx.Pipelines.CountActive(ctx, pipeline.TenantID)
		if err != nil {
			return fmt.Errorf("failed to count pipelines: %w", err)
		}
		if existing == 0 {
			pipeline.IsDefault = true
		}

		// The previous default is cleared first so at most one default row exists at any point.
		if pipeline.IsDefault {
			if err := tx.Pipelines.ClearDefault(ctx, pipeline.TenantID, uuid.Nil); err != nil {
				return fmt.Errorf("failed to clear previous default: %w", err)
			}
		}
		if err := tx.Pipelines.Create(ctx, pipeline); err != nil {
			return fmt.Errorf("failed to create pipeline: %w", err)
		}

		return tx.AuditLogs.Log(ctx, pipelineRef(pipeline.ID), "Create", map[string]interface{}{
			"name":      pipeline.Name,
			"isDefault": pipeline.IsDefault,
			"stages":    len(pipeline.Stages),
		}, auth.ActorFromContext(ctx), s.now())
	})
	if err != nil {
		return nil, err
	}

	if pipeline.IsDefault {
		s.invalidate(ctx, pipeline.TenantID)
	}

	s.logger.Info("pipeline created",
		zap.String("pipeline_id", pipeline.ID.String()),
		zap.Bool("is_default", pipeline.IsDefault))

	dto := mapper.ToPipelineDTO(pipeline, 0)
	return &dto, nil
}

// Update replaces pipeline settings and reconciles stages by name.
// Existing stages missing from the request are deactivated, never removed.
func (s *PipelineService) Update(ctx context.Context, id uuid.UUID, req *domain.UpdatePipelineRequest) (*domain.PipelineDTO, error) {
	name := strings.TrimSpace(req.Name)
	if err := validatePipeline(name, req.Stages); err != nil {
		return nil, err
	}

	var pipeline *domain.Pipeline
	err := s.uow.Do(ctx, func(tx *repository.Tx) error {
		var err error
		pipeline, err = tx.Pipelines.GetByID(ctx, id)
		if err != nil {
			return notFoundOr(err, domain.CodePipelineNotFound, "pipeline", id)
		}

		if pipeline.IsDefault && !req.IsDefault {
			others, err := tx.Pipelines.CountOtherDefaults(ctx, pipeline.TenantID, id)
			if err != nil {
				return fmt.Errorf("failed to count default pipelines: %w", err)
			}
			if others == 0 {
				return domain.NewBusinessError(domain.CodeMustHaveDefault, "a default pipeline is required; set another pipeline as default first")
			}
		}
		if req.IsDefault {
			if err := tx.Pipelines.ClearDefault(ctx, pipeline.TenantID, id); err != nil {
				return fmt.Errorf("failed to clear previous default: %w", err)
			}
		}

		pipeline.Name = name
		pipeline.Description = req.Description
		pipeline.IsDefault = req.IsDefault
		if err := tx.Pipelines.Update(ctx, pipeline); err != nil {
			return fmt.Errorf("failed to update pipeline: %w", err)
		}

		stages, err := s.reconcileStages(ctx, tx, pipeline, req.Stages)
		if err != nil {
			return err
		}
		pipeline.Stages = stages

		return tx.AuditLogs.Log(ctx, pipelineRef(pipeline.ID), "Update", map[string]interface{}{
			"name":      pipeline.Name,
			"isDefault": pipeline.IsDefault,
			"stages":    len(req.Stages),
		}, auth.ActorFromContext(ctx), s.now())
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, pipeline.TenantID)

	count, err := s.uow.Repos().Opportunities.CountByPipeline(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to count opportunities: %w", err)
	}
	dto := mapper.ToPipelineDTO(pipeline, count)
	return &dto, nil
}

// reconcileStages applies the requested stage list onto the stored stages of a pipeline
// and returns the resulting active stages in display order.
func (s *PipelineService) reconcileStages(ctx context.Context, tx *repository.Tx, pipeline *domain.Pipeline, inputs []domain.PipelineStageInput) ([]domain.PipelineStage, error) {
	existing, err := tx.Pipelines.ListStages(ctx, pipeline.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stages: %w", err)
	}
	byName := make(map[string]*domain.PipelineStage, len(existing))
	for i := range existing {
		byName[stageKey(existing[i].Name)] = &existing[i]
	}

	seen := make(map[string]bool, len(inputs))
	active := make([]domain.PipelineStage, 0, len(inputs))
	for _, in := range inputs {
		k := stageKey(in.Name)
		seen[k] = true

		if stage, ok := byName[k]; ok {
			stage.Name = strings.TrimSpace(in.Name)
			stage.DisplayOrder = in.DisplayOrder
			stage.ProbabilityPercent = in.ProbabilityPercent
			stage.DefaultDaysToRot = in.DefaultDaysToRot
			stage.IsWonStage = in.IsWonStage
			stage.IsLostStage = in.IsLostStage
			stage.Lifecycle = domain.LifecycleActive
			if err := tx.Pipelines.UpdateStage(ctx, stage); err != nil {
				return nil, fmt.Errorf("failed to update stage %q: %w", stage.Name, err)
			}
			active = append(active, *stage)
			continue
		}

		stage := stageFromInput(in)
		stage.PipelineID = pipeline.ID
		stage.TenantID = pipeline.TenantID
		if err := tx.Pipelines.CreateStage(ctx, &stage); err != nil {
			return nil, fmt.Errorf("failed to create stage %q: %w", stage.Name, err)
		}
		active = append(active, stage)
	}

	for i := range existing {
		stage := &existing[i]
		if seen[stageKey(stage.Name)] || stage.Lifecycle != domain.LifecycleActive {
			continue
		}
		stage.Lifecycle = domain.LifecycleInactive
		if err := tx.Pipelines.UpdateStage(ctx, stage); err != nil {
			return nil, fmt.Errorf("failed to deactivate stage %q: %w", stage.Name, err)
		}
	}

	sortStages(active)
	return active, nil
}

// Delete soft-deletes a pipeline that no opportunity references
func (s *PipelineService) Delete(ctx context.Context, id uuid.UUID) error {
	var tenantID uuid.UUID
	err := s.uow.Do(ctx, func(tx *repository.Tx) error {
		pipeline, err := tx.Pipelines.GetByID(ctx, id)
		if err != nil {
			return notFoundOr(err, domain.CodePipelineNotFound, "pipeline", id)
		}

		inUse, err := tx.Opportunities.CountByPipeline(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to count opportunities: %w", err)
		}
		if inUse > 0 {
			return domain.NewBusinessError(domain.CodePipelineHasOpportunities,
				"pipeline is used by %d opportunities", inUse)
		}

		if pipeline.IsDefault {
			active, err := tx.Pipelines.CountActive(ctx, pipeline.TenantID)
			if err != nil {
				return fmt.Errorf("failed to count pipelines: %w", err)
			}
			if active > 1 {
				return domain.NewBusinessError(domain.CodeMustHaveDefault,
					"cannot delete the default pipeline; set another pipeline as default first")
			}
		}

		tenantID = pipeline.TenantID
		pipeline.Lifecycle = domain.LifecycleDeleted
		pipeline.IsDefault = false
		if err := tx.Pipelines.Update(ctx, pipeline); err != nil {
			return fmt.Errorf("failed to delete pipeline: %w", err)
		}

		return tx.AuditLogs.Log(ctx, pipelineRef(id), "Delete", map[string]interface{}{
			"name": pipeline.Name,
		}, auth.ActorFromContext(ctx), s.now())
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, tenantID)
	s.logger.Info("pipeline deleted", zap.String("pipeline_id", id.String()))
	return nil
}

// SetDefault makes the pipeline the tenant default and unsets the previous one atomically
func (s *PipelineService) SetDefault(ctx context.Context, id uuid.UUID) (*domain.PipelineDTO, error) {
	var pipeline *domain.Pipeline
	err := s.uow.Do(ctx, func(tx *repository.Tx) error {
		var err error
		pipeline, err = tx.Pipelines.GetByID(ctx, id)
		if err != nil {
			return notFoundOr(err, domain.CodePipelineNotFound, "pipeline", id)
		}

		if err := tx.Pipelines.ClearDefault(ctx, pipeline.TenantID, id); err != nil {
			return fmt.Errorf("failed to clear previous default: %w", err)
		}
		if !pipeline.IsDefault {
			pipeline.IsDefault = true
			if err := tx.Pipelines.Update(ctx, pipeline); err != nil {
				return fmt.Errorf("failed to set default pipeline: %w", err)
			}
		}

		return tx.AuditLogs.Log(ctx, pipelineRef(id), "SetDefault", nil, auth.ActorFromContext(ctx), s.now())
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, pipeline.TenantID)

	count, err := s.uow.Repos().Opportunities.CountByPipeline(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to count opportunities: %w", err)
	}
	dto := mapper.ToPipelineDTO(pipeline, count)
	return &dto, nil
}

func (s *PipelineService) invalidate(ctx context.Context, tenantID uuid.UUID) {
	if s.cache == nil || tenantID == uuid.Nil {
		return
	}
	if err := s.cache.Invalidate(ctx, tenantID); err != nil {
		s.logger.Warn("pipeline cache invalidation failed", zap.String("tenant_id", tenantID.String()), zap.Error(err))
	}
}

func pipelineRef(id uuid.UUID) domain.EntityRef {
	return domain.EntityRef{Type: domain.EntityTypePipeline, ID: id}
}

func stageKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func stageFromInput(in domain.PipelineStageInput) domain.PipelineStage {
	return domain.PipelineStage{
		Name:               strings.TrimSpace(in.Name),
		DisplayOrder:       in.DisplayOrder,
		ProbabilityPercent: in.ProbabilityPercent,
		DefaultDaysToRot:   in.DefaultDaysToRot,
		IsWonStage:         in.IsWonStage,
		IsLostStage:        in.IsLostStage,
		Lifecycle:          domain.LifecycleActive,
	}
}

func sortStages(stages []domain.PipelineStage) {
	sort.SliceStable(stages, func(i, j int) bool {
		return stages[i].DisplayOrder < stages[j].DisplayOrder
	})
}

// validatePipeline checks name and stage rules before anything is written.
// Several won or lost stages are allowed.
func validatePipeline(name string, stages []domain.PipelineStageInput) error {
	if name == "" {
		return domain.NewBusinessError(domain.CodeInvalidPipeline, "pipeline name is required")
	}
	if len(stages) == 0 {
		return domain.NewBusinessError(domain.CodeInvalidPipeline, "a pipeline needs at least one stage")
	}

	names := make(map[string]bool, len(stages))
	orders := make(map[int]bool, len(stages))
	for _, st := range stages {
		k := stageKey(st.Name)
		switch {
		case k == "":
			return domain.NewBusinessError(domain.CodeInvalidPipeline, "stage name is required")
		case names[k]:
			return domain.NewBusinessError(domain.CodeInvalidPipeline, "duplicate stage name %q", strings.TrimSpace(st.Name))
		case st.DisplayOrder <= 0:
			return domain.NewBusinessError(domain.CodeInvalidPipeline, "stage %q must have a positive display order", st.Name)
		case orders[st.DisplayOrder]:
			return domain.NewBusinessError(domain.CodeInvalidPipeline, "display order %d is used by more than one stage", st.DisplayOrder)
		case st.ProbabilityPercent < 0 || st.ProbabilityPercent > 100:
			return domain.NewBusinessError(domain.CodeInvalidPipeline, "stage %q probability must be between 0 and 100", st.Name)
		case st.DefaultDaysToRot < 0:
			return domain.NewBusinessError(domain.CodeInvalidPipeline, "stage %q days to rot cannot be negative", st.Name)
		case st.IsWonStage && st.IsLostStage:
			return domain.NewBusinessError(domain.CodeInvalidPipeline, "stage %q cannot be both won and lost", st.Name)
		}
		names[k] = true
		orders[st.DisplayOrder] = true
	}
	return nil
}
