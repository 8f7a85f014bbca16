package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/pipeline-engine/internal/auth"
	"github.com/straye-as/pipeline-engine/internal/domain"
	"github.com/straye-as/pipeline-engine/internal/mapper"
	"github.com/straye-as/pipeline-engine/internal/metrics"
	"github.com/straye-as/pipeline-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	// MaxTakePerStage caps the cards returned per board column
	MaxTakePerStage = 500
	// DefaultTakePerStage is used by the board endpoint when no value is given
	DefaultTakePerStage = 50
	// MaxBulkIDs caps the ids accepted by one bulk archive or restore
	MaxBulkIDs = 200

	defaultContactRole = "Stakeholder"
	defaultLostReason  = "Moved to lost stage"
	fallbackCurrency   = "USD"
)

// OpportunityService runs the opportunity stage state machine
type OpportunityService struct {
	uow             *repository.UnitOfWork
	pipelines       *PipelineService
	sync            LifecycleSynchronizer
	notifier        *notifier
	metrics         *metrics.Metrics
	logger          *zap.Logger
	now             Clock
	defaultCurrency string
}

func NewOpportunityService(
	uow *repository.UnitOfWork,
	pipelines *PipelineService,
	trigger WorkflowTrigger,
	m *metrics.Metrics,
	logger *zap.Logger,
	clock Clock,
	defaultCurrency string,
) *OpportunityService {
	if clock == nil {
		clock = UTCNow
	}
	if defaultCurrency == "" {
		defaultCurrency = fallbackCurrency
	}
	return &OpportunityService{
		uow:             uow,
		pipelines:       pipelines,
		notifier:        &notifier{trigger: trigger, metrics: m, logger: logger},
		metrics:         m,
		logger:          logger,
		now:             clock,
		defaultCurrency: strings.ToUpper(defaultCurrency),
	}
}

func (s *OpportunityService) toDTO(opp *domain.Opportunity, now time.Time) domain.OpportunityDTO {
	return mapper.ToOpportunityDTO(opp, isOpportunityRotting(opp, opp.Stage, now), DaysInStage(opp.StageEnteredAt, now))
}

// Get returns an opportunity with its stage, contacts and computed rotting state
func (s *OpportunityService) Get(ctx context.Context, id uuid.UUID) (*domain.OpportunityDTO, error) {
	opp, err := s.uow.Repos().Opportunities.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, domain.CodeOpportunityNotFound, "opportunity", id)
	}
	dto := s.toDTO(opp, s.now())
	return &dto, nil
}

// Create opens a new opportunity in the first (or the requested) open stage of a pipeline
func (s *OpportunityService) Create(ctx context.Context, req *domain.CreateOpportunityRequest) (*domain.OpportunityDTO, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.NewBusinessError(domain.CodeInvalidOpportunity, "opportunity name is required")
	}

	repos := s.uow.Repos()

	var pipelineID uuid.UUID
	if req.PipelineID != nil {
		pipeline, err := repos.Pipelines.GetByID(ctx, *req.PipelineID)
		if err != nil {
			return nil, notFoundOr(err, domain.CodePipelineNotFound, "pipeline", *req.PipelineID)
		}
		pipelineID = pipeline.ID
	} else {
		pipeline, err := s.pipelines.GetDefaultPipeline(ctx)
		if err != nil {
			return nil, err
		}
		pipelineID = pipeline.ID
	}

	var stage *domain.PipelineStage
	var err error
	if req.StageID != nil {
		stage, err = repos.Pipelines.GetStage(ctx, pipelineID, *req.StageID)
		if err != nil {
			return nil, notFoundOr(err, domain.CodeStageNotFound, "stage", *req.StageID)
		}
	} else {
		stage, err = repos.Pipelines.GetFirstStage(ctx, pipelineID)
		if err != nil {
			return nil, notFoundOr(err, domain.CodeStageNotFound, "first stage of pipeline", pipelineID)
		}
	}
	if stage.IsTerminal() {
		return nil, domain.NewBusinessError(domain.CodeInvalidStageTransition,
			"opportunities cannot be created in closed stage %q", stage.Name)
	}

	if req.AccountID != nil {
		if _, err := repos.Accounts.GetByID(ctx, *req.AccountID); err != nil {
			return nil, notFoundOr(err, domain.CodeAccountNotFound, "account", *req.AccountID)
		}
	}
	if req.PrimaryContactID != nil {
		if _, err := repos.Contacts.GetByID(ctx, *req.PrimaryContactID); err != nil {
			return nil, notFoundOr(err, domain.CodeContactNotFound, "contact", *req.PrimaryContactID)
		}
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}

	now := s.now()
	actor := auth.ActorFromContext(ctx)
	opp := &domain.Opportunity{
		Name:              name,
		Description:       req.Description,
		PipelineID:        pipelineID,
		StageID:           stage.ID,
		Status:            domain.OpportunityStatusOpen,
		Amount:            req.Amount,
		Currency:          currency,
		Probability:       stage.ProbabilityPercent,
		StageEnteredAt:    now,
		ExpectedCloseDate: utcPtr(req.ExpectedCloseDate),
		AccountID:         req.AccountID,
		AssignedTo:        req.AssignedTo,
		Lifecycle:         domain.LifecycleActive,
	}
	if opp.AssignedTo == nil {
		opp.AssignedTo = actor
	}

	err = s.uow.Do(ctx, func(tx *repository.Tx) error {
		if err := tx.Opportunities.Create(ctx, opp); err != nil {
			return fmt.Errorf("failed to create opportunity: %w", err)
		}

		if req.PrimaryContactID != nil {
			link := &domain.OpportunityContact{
				OpportunityID: opp.ID,
				ContactID:     *req.PrimaryContactID,
				Role:          defaultContactRole,
				IsPrimary:     true,
			}
			link.TenantID = opp.TenantID
			if err := tx.OpportunityContacts.Create(ctx, link); err != nil {
				return fmt.Errorf("failed to link primary contact: %w", err)
			}
		}

		if err := tx.StageHistory.Create(ctx, &domain.StageHistory{
			OpportunityID: opp.ID,
			ToStageID:     stage.ID,
			Status:        opp.Status,
			ChangedByID:   actor,
			Note:          "Opportunity created",
			ChangedAt:     now,
		}); err != nil {
			return fmt.Errorf("failed to record stage history: %w", err)
		}

		return tx.AuditLogs.Log(ctx, domain.OpportunityRef(opp.ID), "Create", map[string]interface{}{
			"name":       opp.Name,
			"pipelineId": opp.PipelineID,
			"stageId":    opp.StageID,
			"amount":     opp.Amount,
		}, actor, now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("opportunity created",
		zap.String("opportunity_id", opp.ID.String()),
		zap.String("stage_id", stage.ID.String()))

	s.notifier.fire(ctx, pendingEvent{
		ref:  domain.OpportunityRef(opp.ID),
		name: EventOpportunityCreated,
		payload: map[string]interface{}{
			"pipelineId": opp.PipelineID,
			"stageId":    opp.StageID,
			"amount":     opp.Amount,
			"currency":   opp.Currency,
		},
	})

	return s.Get(ctx, opp.ID)
}

// applyStage moves opp into stage at now. A stage change always clears the rotting notice.
func applyStage(opp *domain.Opportunity, stage *domain.PipelineStage, now time.Time) {
	opp.StageID = stage.ID
	opp.Stage = stage
	opp.Probability = stage.ProbabilityPercent
	opp.StageEnteredAt = now
	opp.RottingNotifiedAt = nil
}

// MoveStage moves an open opportunity to another stage of its pipeline.
// Entering a won or lost stage closes the opportunity.
func (s *OpportunityService) MoveStage(ctx context.Context, id uuid.UUID, req *domain.MoveStageRequest) (*domain.OpportunityDTO, error) {
	now := s.now()
	actor := auth.ActorFromContext(ctx)

	var (
		opp       *domain.Opportunity
		target    *domain.PipelineStage
		fromStage uuid.UUID
	)
	err := s.uow.Do(ctx, func(tx *repository.Tx) error {
		var err error
		opp, err = tx.Opportunities.GetForUpdate(ctx, id)
		if err != nil {
			return notFoundOr(err, domain.CodeOpportunityNotFound, "opportunity", id)
		}
		if opp.Status != domain.OpportunityStatusOpen {
			return domain.NewBusinessError(domain.CodeOpportunityAlreadyClosed,
				"only open opportunities can be moved; opportunity is %s", opp.Status)
		}

		target, err = targetStage(ctx, tx, opp, req.StageID)
		if err != nil {
			return err
		}
		fromStage, err = s.enterStage(ctx, tx, opp, target, req.LossReason, actor, now)
		if err != nil {
			return err
		}

		return tx.AuditLogs.Log(ctx, domain.OpportunityRef(opp.ID), moveAuditAction(opp.Status), map[string]interface{}{
			"oldStageId": fromStage,
			"newStageId": target.ID,
			"status":     opp.Status,
		}, actor, now)
	})
	if err != nil {
		return nil, err
	}

	s.notifier.fire(ctx, s.stageMoved(opp, fromStage, target)...)
	return s.Get(ctx, opp.ID)
}

func targetStage(ctx context.Context, tx *repository.Tx, opp *domain.Opportunity, stageID uuid.UUID) (*domain.PipelineStage, error) {
	stage, err := tx.Pipelines.GetStage(ctx, opp.PipelineID, stageID)
	if err != nil {
		if isNotFound(err) {
			return nil, domain.NewBusinessError(domain.CodeInvalidStageTransition,
				"stage %s is not an active stage of the opportunity's pipeline", stageID)
		}
		return nil, fmt.Errorf("failed to load target stage: %w", err)
	}
	return stage, nil
}

// enterStage puts opp into target and persists it together with the stage history row and the
// contact lifecycle sync. Any failure aborts the caller's transaction. Returns the previous stage.
func (s *OpportunityService) enterStage(
	ctx context.Context,
	tx *repository.Tx,
	opp *domain.Opportunity,
	target *domain.PipelineStage,
	lossReason *string,
	actor *uuid.UUID,
	now time.Time,
) (uuid.UUID, error) {
	fromStage := opp.StageID
	applyStage(opp, target, now)
	opp.Status = domain.StatusForStage(target)
	switch opp.Status {
	case domain.OpportunityStatusWon:
		opp.ActualCloseDate = &now
	case domain.OpportunityStatusLost:
		opp.ActualCloseDate = &now
		opp.LossReason = defaultLostReason
		if lossReason != nil && strings.TrimSpace(*lossReason) != "" {
			opp.LossReason = strings.TrimSpace(*lossReason)
		}
	}

	if err := tx.Opportunities.Update(ctx, opp); err != nil {
		return fromStage, fmt.Errorf("failed to update opportunity: %w", err)
	}

	if err := tx.StageHistory.Create(ctx, &domain.StageHistory{
		OpportunityID: opp.ID,
		FromStageID:   &fromStage,
		ToStageID:     target.ID,
		Status:        opp.Status,
		ChangedByID:   actor,
		Note:          opp.LossReason,
		ChangedAt:     now,
	}); err != nil {
		return fromStage, fmt.Errorf("failed to record stage history: %w", err)
	}

	var err error
	if target.IsWonStage {
		_, err = s.sync.SyncOnWon(ctx, tx, opp.ID)
	} else {
		_, err = s.sync.SyncOnStageChange(ctx, tx, opp.ID, target)
	}
	return fromStage, err
}

// stageMoved records a committed stage move and returns the events to fire for it
func (s *OpportunityService) stageMoved(opp *domain.Opportunity, fromStage uuid.UUID, target *domain.PipelineStage) []pendingEvent {
	s.metrics.RecordStageMove(string(opp.Status))
	s.logger.Info("opportunity stage changed",
		zap.String("opportunity_id", opp.ID.String()),
		zap.String("from_stage_id", fromStage.String()),
		zap.String("to_stage_id", target.ID.String()),
		zap.String("status", string(opp.Status)))

	events := []pendingEvent{{
		ref:  domain.OpportunityRef(opp.ID),
		name: EventOpportunityStageChanged,
		payload: map[string]interface{}{
			"fromStageId": fromStage,
			"toStageId":   target.ID,
			"status":      opp.Status,
		},
	}}
	if ev, ok := closeEvent(opp); ok {
		events = append(events, ev)
	}
	return events
}

// Update edits an open opportunity. A new stageId takes the same path as MoveStage,
// so probability, stageEnteredAt, history and contact lifecycles follow the stage.
func (s *OpportunityService) Update(ctx context.Context, id uuid.UUID, req *domain.UpdateOpportunityRequest) (*domain.OpportunityDTO, error) {
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return nil, domain.NewBusinessError(domain.CodeInvalidOpportunity, "opportunity name cannot be empty")
	}
	if req.AccountID != nil {
		if _, err := s.uow.Repos().Accounts.GetByID(ctx, *req.AccountID); err != nil {
			return nil, notFoundOr(err, domain.CodeAccountNotFound, "account", *req.AccountID)
		}
	}

	now := s.now()
	actor := auth.ActorFromContext(ctx)

	var (
		opp       *domain.Opportunity
		target    *domain.PipelineStage
		fromStage uuid.UUID
		changes   map[string]interface{}
	)
	err := s.uow.Do(ctx, func(tx *repository.Tx) error {
		var err error
		opp, err = tx.Opportunities.GetForUpdate(ctx, id)
		if err != nil {
			return notFoundOr(err, domain.CodeOpportunityNotFound, "opportunity", id)
		}
		if opp.Status != domain.OpportunityStatusOpen {
			return domain.NewBusinessError(domain.CodeOpportunityAlreadyClosed,
				"only open opportunities can be edited; opportunity is %s", opp.Status)
		}

		changes = applyEdits(opp, req)

		if req.StageID != nil && *req.StageID != opp.StageID {
			target, err = targetStage(ctx, tx, opp, *req.StageID)
			if err != nil {
				return err
			}
			fromStage, err = s.enterStage(ctx, tx, opp, target, nil, actor, now)
			if err != nil {
				return err
			}
			changes["oldStageId"] = fromStage
			changes["newStageId"] = target.ID
			changes["status"] = opp.Status
		} else if len(changes) > 0 {
			if err := tx.Opportunities.Update(ctx, opp); err != nil {
				return fmt.Errorf("failed to update opportunity: %w", err)
			}
		}

		if len(changes) == 0 {
			return nil
		}
		return tx.AuditLogs.Log(ctx, domain.OpportunityRef(opp.ID), "Update", changes, actor, now)
	})
	if err != nil {
		return nil, err
	}

	if len(changes) > 0 {
		s.logger.Info("opportunity updated",
			zap.String("opportunity_id", opp.ID.String()),
			zap.Int("fields", len(changes)))

		events := []pendingEvent{{
			ref:     domain.OpportunityRef(opp.ID),
			name:    EventOpportunityUpdated,
			payload: changes,
		}}
		if target != nil {
			events = append(events, s.stageMoved(opp, fromStage, target)...)
		}
		s.notifier.fire(ctx, events...)
	}

	return s.Get(ctx, opp.ID)
}

// applyEdits copies the non-stage fields of req onto opp and returns what actually changed
func applyEdits(opp *domain.Opportunity, req *domain.UpdateOpportunityRequest) map[string]interface{} {
	changes := make(map[string]interface{})
	if req.Name != nil {
		if name := strings.TrimSpace(*req.Name); name != opp.Name {
			opp.Name = name
			changes["name"] = name
		}
	}
	if req.Description != nil && *req.Description != opp.Description {
		opp.Description = *req.Description
		changes["description"] = opp.Description
	}
	if req.AccountID != nil && !sameID(req.AccountID, opp.AccountID) {
		opp.AccountID = req.AccountID
		changes["accountId"] = *req.AccountID
	}
	if req.Amount != nil && *req.Amount != opp.Amount {
		opp.Amount = *req.Amount
		changes["amount"] = opp.Amount
	}
	if req.Currency != nil {
		if currency := strings.ToUpper(strings.TrimSpace(*req.Currency)); currency != "" && currency != opp.Currency {
			opp.Currency = currency
			changes["currency"] = currency
		}
	}
	if req.ExpectedCloseDate != nil {
		closeDate := req.ExpectedCloseDate.UTC()
		if opp.ExpectedCloseDate == nil || !opp.ExpectedCloseDate.Equal(closeDate) {
			opp.ExpectedCloseDate = &closeDate
			changes["expectedCloseDate"] = closeDate
		}
	}
	if req.AssignedTo != nil && !sameID(req.AssignedTo, opp.AssignedTo) {
		opp.AssignedTo = req.AssignedTo
		changes["assignedTo"] = *req.AssignedTo
	}
	return changes
}

func sameID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// BulkArchive moves active opportunities to inactive. Ids that are not active are skipped.
func (s *OpportunityService) BulkArchive(ctx context.Context, ids []uuid.UUID) (int64, error) {
	return s.setLifecycle(ctx, ids, domain.LifecycleActive, domain.LifecycleInactive, "Archive")
}

// BulkRestore moves inactive opportunities back to active
func (s *OpportunityService) BulkRestore(ctx context.Context, ids []uuid.UUID) (int64, error) {
	return s.setLifecycle(ctx, ids, domain.LifecycleInactive, domain.LifecycleActive, "Restore")
}

func (s *OpportunityService) setLifecycle(ctx context.Context, ids []uuid.UUID, from, to domain.Lifecycle, action string) (int64, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	if len(ids) > MaxBulkIDs {
		return 0, domain.NewBusinessError(domain.CodeInvalidOpportunity, "at most %d opportunities per request", MaxBulkIDs)
	}

	now := s.now()
	actor := auth.ActorFromContext(ctx)

	var affected int64
	err := s.uow.Do(ctx, func(tx *repository.Tx) error {
		matched, err := tx.Opportunities.IDsInLifecycle(ctx, ids, from)
		if err != nil {
			return fmt.Errorf("failed to load opportunities: %w", err)
		}
		if len(matched) == 0 {
			return nil
		}

		affected, err = tx.Opportunities.SetLifecycle(ctx, matched, from, to, now)
		if err != nil {
			return fmt.Errorf("failed to %s opportunities: %w", strings.ToLower(action), err)
		}

		for _, id := range matched {
			if err := tx.AuditLogs.Log(ctx, domain.OpportunityRef(id), action, map[string]interface{}{
				"from": from,
				"to":   to,
			}, actor, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("opportunity lifecycle changed",
		zap.String("action", action),
		zap.Int("requested", len(ids)),
		zap.Int64("affected", affected))
	return affected, nil
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == uuid.Nil {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func moveAuditAction(status domain.OpportunityStatus) string {
	switch status {
	case domain.OpportunityStatusWon:
		return "CloseWon"
	case domain.OpportunityStatusLost:
		return "CloseLost"
	default:
		return "MoveStage"
	}
}

func closeEvent(opp *domain.Opportunity) (pendingEvent, bool) {
	var name string
	switch opp.Status {
	case domain.OpportunityStatusWon:
		name = EventOpportunityWon
	case domain.OpportunityStatusLost:
		name = EventOpportunityLost
	default:
		return pendingEvent{}, false
	}
	return pendingEvent{
		ref:  domain.OpportunityRef(opp.ID),
		name: name,
		payload: map[string]interface{}{
			"amount":     opp.Amount,
			"currency":   opp.Currency,
			"lossReason": opp.LossReason,
		},
	}, true
}

// Close closes an open opportunity as won or lost without walking the intermediate stages.
// The opportunity moves to the pipeline's matching terminal stage when one exists.
func (s *OpportunityService) Close(ctx context.Context, id uuid.UUID, req *domain.CloseOpportunityRequest) (*domain.OpportunityDTO, error) {
	if req.Status != domain.OpportunityStatusWon && req.Status != domain.OpportunityStatusLost {
		return nil, domain.NewBusinessError(domain.CodeInvalidCloseStatus, "close status must be won or lost")
	}
	var lossReason string
	if req.LossReason != nil {
		lossReason = strings.TrimSpace(*req.LossReason)
	}
	if req.Status == domain.OpportunityStatusLost && lossReason == "" {
		return nil, domain.NewBusinessError(domain.CodeLossReasonRequired, "a loss reason is required when closing as lost")
	}

	now := s.now()
	actor := auth.ActorFromContext(ctx)

	var (
		opp       *domain.Opportunity
		fromStage uuid.UUID
	)
	err := s.uow.Do(ctx, func(tx *repository.Tx) error {
		var err error
		opp, err = tx.Opportunities.GetForUpdate(ctx, id)
		if err != nil {
			return notFoundOr(err, domain.CodeOpportunityNotFound, "opportunity", id)
		}
		if opp.Status != domain.OpportunityStatusOpen {
			return domain.NewBusinessError(domain.CodeOpportunityAlreadyClosed,
				"opportunity is already %s", opp.Status)
		}

		fromStage = opp.StageID
		terminal, err := tx.Pipelines.GetTerminalStage(ctx, opp.PipelineID, req.Status == domain.OpportunityStatusWon)
		switch {
		case err == nil:
			applyStage(opp, terminal, now)
		case !isNotFound(err):
			return fmt.Errorf("failed to load closing stage: %w", err)
		}

		opp.Status = req.Status
		closedAt := now
		if req.ActualCloseDate != nil {
			closedAt = req.ActualCloseDate.UTC()
		}
		opp.ActualCloseDate = &closedAt
		if req.Status == domain.OpportunityStatusLost {
			opp.LossReason = lossReason
		}

		if err := tx.Opportunities.Update(ctx, opp); err != nil {
			return fmt.Errorf("failed to close opportunity: %w", err)
		}

		if err := tx.StageHistory.Create(ctx, &domain.StageHistory{
			OpportunityID: opp.ID,
			FromStageID:   &fromStage,
			ToStageID:     opp.StageID,
			Status:        opp.Status,
			ChangedByID:   actor,
			Note:          lossReason,
			ChangedAt:     now,
		}); err != nil {
			return fmt.Errorf("failed to record stage history: %w", err)
		}

		if req.Status == domain.OpportunityStatusWon {
			if _, err := s.sync.SyncOnWon(ctx, tx, opp.ID); err != nil {
				return err
			}
		}

		return tx.AuditLogs.Log(ctx, domain.OpportunityRef(opp.ID), "Close", map[string]interface{}{
			"status":     req.Status,
			"lossReason": lossReason,
		}, actor, now)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordClose(string(opp.Status))
	s.logger.Info("opportunity closed",
		zap.String("opportunity_id", opp.ID.String()),
		zap.String("status", string(opp.Status)))

	if ev, ok := closeEvent(opp); ok {
		s.notifier.fire(ctx, ev)
	}

	return s.Get(ctx, opp.ID)
}

// Delete soft-deletes an opportunity
func (s *OpportunityService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.uow.Do(ctx, func(tx *repository.Tx) error {
		opp, err := tx.Opportunities.GetForUpdate(ctx, id)
		if err != nil {
			return notFoundOr(err, domain.CodeOpportunityNotFound, "opportunity", id)
		}
		opp.Lifecycle = domain.LifecycleDeleted
		if err := tx.Opportunities.Update(ctx, opp); err != nil {
			return fmt.Errorf("failed to delete opportunity: %w", err)
		}
		return tx.AuditLogs.Log(ctx, domain.OpportunityRef(id), "Delete", nil, auth.ActorFromContext(ctx), s.now())
	})
}

// Board returns one column per active stage of a pipeline. Counts and totals cover every
// open opportunity in the stage; only the cards are limited by takePerStage.
func (s *OpportunityService) Board(ctx context.Context, pipelineID *uuid.UUID, takePerStage int) (*domain.BoardDTO, error) {
	if takePerStage < 0 {
		takePerStage = 0
	}
	if takePerStage > MaxTakePerStage {
		takePerStage = MaxTakePerStage
	}

	repos := s.uow.Repos()

	var pipeline *domain.Pipeline
	var err error
	if pipelineID != nil {
		pipeline, err = repos.Pipelines.GetByID(ctx, *pipelineID)
		if err != nil {
			return nil, notFoundOr(err, domain.CodePipelineNotFound, "pipeline", *pipelineID)
		}
	} else {
		pipeline, err = s.pipelines.GetDefaultPipeline(ctx)
		if err != nil {
			return nil, err
		}
	}

	stats, err := repos.Opportunities.StageStats(ctx, pipeline.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate board: %w", err)
	}

	now := s.now()
	board := &domain.BoardDTO{
		PipelineID:   pipeline.ID,
		PipelineName: pipeline.Name,
		Columns:      make([]domain.BoardColumnDTO, 0, len(pipeline.Stages)),
	}
	for i := range pipeline.Stages {
		stage := &pipeline.Stages[i]
		if stage.Lifecycle != "" && stage.Lifecycle != domain.LifecycleActive {
			continue
		}

		opps, err := repos.Opportunities.ListByStage(ctx, stage.ID, takePerStage)
		if err != nil {
			return nil, fmt.Errorf("failed to load stage %s: %w", stage.ID, err)
		}
		cards := make([]domain.BoardCardDTO, 0, len(opps))
		for j := range opps {
			cards = append(cards, mapper.ToBoardCardDTO(&opps[j], isOpportunityRotting(&opps[j], stage, now)))
		}

		stat := stats[stage.ID]
		board.Columns = append(board.Columns, domain.BoardColumnDTO{
			StageID:       stage.ID,
			Name:          stage.Name,
			DisplayOrder:  stage.DisplayOrder,
			Probability:   stage.ProbabilityPercent,
			IsWon:         stage.IsWonStage,
			IsLost:        stage.IsLostStage,
			Opportunities: cards,
			TotalValue:    stat.TotalValue,
			Count:         stat.Count,
		})
	}
	return board, nil
}

// List returns a filtered page of opportunities
func (s *OpportunityService) List(ctx context.Context, page, pageSize int, filters *domain.OpportunityFilters, sort repository.SortConfig) (*domain.PaginatedResponse, error) {
	repos := s.uow.Repos()
	now := s.now()

	repoFilters := &repository.OpportunityListFilters{}
	if filters != nil {
		repoFilters.PipelineID = filters.PipelineID
		repoFilters.StageID = filters.StageID
		repoFilters.Status = filters.Status
		repoFilters.AccountID = filters.AccountID
		if filters.IsRotting != nil {
			stages, err := repos.Pipelines.ListRottableStages(ctx, filters.PipelineID)
			if err != nil {
				return nil, fmt.Errorf("failed to load stage thresholds: %w", err)
			}
			repoFilters.IsRotting = filters.IsRotting
			repoFilters.RottingStages = stages
			repoFilters.Now = now
		}
	}

	opps, total, err := repos.Opportunities.List(ctx, page, pageSize, repoFilters, sort)
	if err != nil {
		return nil, fmt.Errorf("failed to list opportunities: %w", err)
	}

	dtos := make([]domain.OpportunityDTO, len(opps))
	for i := range opps {
		dtos[i] = s.toDTO(&opps[i], now)
	}

	page, pageSize = repository.NormalizePage(page, pageSize)
	return &domain.PaginatedResponse{
		Data:       dtos,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: int((total + int64(pageSize) - 1) / int64(pageSize)),
	}, nil
}

// AddContact links a contact to an opportunity. A new primary contact replaces the previous one.
func (s *OpportunityService) AddContact(ctx context.Context, opportunityID uuid.UUID, req *domain.AddOpportunityContactRequest) (*domain.OpportunityDTO, error) {
	if _, err := s.uow.Repos().Contacts.GetByID(ctx, req.ContactID); err != nil {
		return nil, notFoundOr(err, domain.CodeContactNotFound, "contact", req.ContactID)
	}

	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = defaultContactRole
	}

	err := s.uow.Do(ctx, func(tx *repository.Tx) error {
		opp, err := tx.Opportunities.GetForUpdate(ctx, opportunityID)
		if err != nil {
			return notFoundOr(err, domain.CodeOpportunityNotFound, "opportunity", opportunityID)
		}

		exists, err := tx.OpportunityContacts.Exists(ctx, opportunityID, req.ContactID)
		if err != nil {
			return fmt.Errorf("failed to check contact link: %w", err)
		}
		if exists {
			return domain.NewBusinessError(domain.CodeOpportunityContactExists, "contact is already linked to this opportunity")
		}

		if req.IsPrimary {
			if err := tx.OpportunityContacts.ClearPrimary(ctx, opportunityID); err != nil {
				return fmt.Errorf("failed to clear primary contact: %w", err)
			}
		}

		link := &domain.OpportunityContact{
			OpportunityID: opportunityID,
			ContactID:     req.ContactID,
			Role:          role,
			IsPrimary:     req.IsPrimary,
		}
		link.TenantID = opp.TenantID
		if err := tx.OpportunityContacts.Create(ctx, link); err != nil {
			return fmt.Errorf("failed to link contact: %w", err)
		}

		return tx.AuditLogs.Log(ctx, domain.OpportunityRef(opportunityID), "AddContact", map[string]interface{}{
			"contactId": req.ContactID,
			"role":      role,
			"isPrimary": req.IsPrimary,
		}, auth.ActorFromContext(ctx), s.now())
	})
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, opportunityID)
}

// RemoveContact unlinks a contact from an opportunity
func (s *OpportunityService) RemoveContact(ctx context.Context, opportunityID, contactID uuid.UUID) error {
	return s.uow.Do(ctx, func(tx *repository.Tx) error {
		if _, err := tx.Opportunities.GetForUpdate(ctx, opportunityID); err != nil {
			return notFoundOr(err, domain.CodeOpportunityNotFound, "opportunity", opportunityID)
		}

		link, err := tx.OpportunityContacts.Get(ctx, opportunityID, contactID)
		if err != nil {
			return notFoundOr(err, domain.CodeOpportunityContactAbsent, "opportunity contact", contactID)
		}
		if err := tx.OpportunityContacts.Delete(ctx, link.ID); err != nil {
			return fmt.Errorf("failed to unlink contact: %w", err)
		}

		return tx.AuditLogs.Log(ctx, domain.OpportunityRef(opportunityID), "RemoveContact", map[string]interface{}{
			"contactId": contactID,
		}, auth.ActorFromContext(ctx), s.now())
	})
}

// RecordActivity notes activity on an opportunity. lastActivityAt only moves forward.
func (s *OpportunityService) RecordActivity(ctx context.Context, id uuid.UUID, req *domain.RecordActivityRequest) (*domain.OpportunityDTO, error) {
	at := s.now()
	if req.OccurredAt != nil {
		at = req.OccurredAt.UTC()
	}

	err := s.uow.Do(ctx, func(tx *repository.Tx) error {
		opp, err := tx.Opportunities.GetForUpdate(ctx, id)
		if err != nil {
			return notFoundOr(err, domain.CodeOpportunityNotFound, "opportunity", id)
		}

		if opp.LastActivityAt == nil || at.After(*opp.LastActivityAt) {
			opp.LastActivityAt = &at
			if err := tx.Opportunities.Update(ctx, opp); err != nil {
				return fmt.Errorf("failed to record activity: %w", err)
			}
		}

		if req.ActivityID != nil {
			if _, err := tx.ActivityLinks.AddLink(ctx, *req.ActivityID, domain.OpportunityRef(id)); err != nil {
				return fmt.Errorf("failed to link activity: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, id)
}

// GetStageHistory returns the stage changes of an opportunity, newest first
func (s *OpportunityService) GetStageHistory(ctx context.Context, id uuid.UUID) ([]domain.StageHistoryDTO, error) {
	repos := s.uow.Repos()
	if _, err := repos.Opportunities.GetByID(ctx, id); err != nil {
		return nil, notFoundOr(err, domain.CodeOpportunityNotFound, "opportunity", id)
	}

	history, err := repos.StageHistory.ListByOpportunity(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load stage history: %w", err)
	}

	dtos := make([]domain.StageHistoryDTO, len(history))
	for i := range history {
		dtos[i] = mapper.ToStageHistoryDTO(&history[i])
	}
	return dtos, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
