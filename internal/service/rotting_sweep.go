package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/pipeline-engine/internal/auth"
	"github.com/straye-as/pipeline-engine/internal/domain"
	"github.com/straye-as/pipeline-engine/internal/metrics"
	"github.com/straye-as/pipeline-engine/internal/repository"
	"go.uber.org/zap"
)

// RottingSweeper finds rotting opportunities across all tenants, publishes the rotting
// gauge and raises a workflow event once per opportunity per stage visit.
type RottingSweeper struct {
	uow      *repository.UnitOfWork
	notifier *notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      Clock
}

func NewRottingSweeper(uow *repository.UnitOfWork, trigger WorkflowTrigger, m *metrics.Metrics, logger *zap.Logger, clock Clock) *RottingSweeper {
	if clock == nil {
		clock = UTCNow
	}
	return &RottingSweeper{
		uow:      uow,
		notifier: &notifier{trigger: trigger, metrics: m, logger: logger},
		metrics:  m,
		logger:   logger,
		now:      clock,
	}
}

// Sweep evaluates the rotting predicate and returns the number of rotting opportunities
// and how many of them were newly notified
func (s *RottingSweeper) Sweep(ctx context.Context) (rotting int, notified int, err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveRottingSweep(time.Since(start).Seconds())
	}()

	now := s.now()
	repos := s.uow.Repos()

	stages, err := repos.Pipelines.ListRottableStages(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load stage thresholds: %w", err)
	}

	opps, err := repos.Opportunities.FindRottingCandidates(ctx, stages, now, false)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to find rotting opportunities: %w", err)
	}

	perPipeline := make(map[uuid.UUID]int)
	for i := range stages {
		perPipeline[stages[i].PipelineID] = 0
	}
	fresh := make([]uuid.UUID, 0)
	for i := range opps {
		opp := &opps[i]
		perPipeline[opp.PipelineID]++
		if opp.RottingNotifiedAt != nil {
			continue
		}

		eventCtx := auth.WithUserContext(ctx, auth.SystemUser(opp.TenantID))
		s.notifier.fire(eventCtx, pendingEvent{
			ref:  domain.OpportunityRef(opp.ID),
			name: EventOpportunityRotting,
			payload: map[string]interface{}{
				"pipelineId":     opp.PipelineID,
				"stageId":        opp.StageID,
				"stageEnteredAt": opp.StageEnteredAt,
				"lastActivityAt": opp.LastActivityAt,
				"daysInStage":    DaysInStage(opp.StageEnteredAt, now),
			},
		})
		fresh = append(fresh, opp.ID)
	}

	for pipelineID, count := range perPipeline {
		s.metrics.SetRotting(pipelineID.String(), count)
	}

	if err := repos.Opportunities.MarkRottingNotified(ctx, fresh, now); err != nil {
		return len(opps), 0, fmt.Errorf("failed to mark rotting opportunities: %w", err)
	}

	s.logger.Info("rotting sweep finished",
		zap.Int("rotting", len(opps)),
		zap.Int("notified", len(fresh)),
		zap.Duration("duration", time.Since(start)))
	return len(opps), len(fresh), nil
}
