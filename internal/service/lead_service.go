package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/straye-as/pipeline-engine/internal/auth"
	"github.com/straye-as/pipeline-engine/internal/domain"
	"github.com/straye-as/pipeline-engine/internal/mapper"
	"github.com/straye-as/pipeline-engine/internal/metrics"
	"github.com/straye-as/pipeline-engine/internal/repository"
	"go.uber.org/zap"
)

// Lead status transition rules. Converted is terminal and only reachable through conversion.
var validLeadTransitions = map[domain.LeadStatus][]domain.LeadStatus{
	domain.LeadStatusNew:          {domain.LeadStatusContacted, domain.LeadStatusQualified, domain.LeadStatusDisqualified},
	domain.LeadStatusContacted:    {domain.LeadStatusQualified, domain.LeadStatusDisqualified, domain.LeadStatusNew},
	domain.LeadStatusQualified:    {domain.LeadStatusContacted, domain.LeadStatusDisqualified},
	domain.LeadStatusDisqualified: {domain.LeadStatusNew},
	domain.LeadStatusConverted:    {},
}

// CanTransitionLead reports whether a lead may move from one status to another by a status change
func CanTransitionLead(from, to domain.LeadStatus) bool {
	for _, allowed := range validLeadTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// LeadService runs the lead status state machine
type LeadService struct {
	uow      *repository.UnitOfWork
	notifier *notifier
	logger   *zap.Logger
	now      Clock
}

func NewLeadService(uow *repository.UnitOfWork, trigger WorkflowTrigger, m *metrics.Metrics, logger *zap.Logger, clock Clock) *LeadService {
	if clock == nil {
		clock = UTCNow
	}
	return &LeadService{
		uow:      uow,
		notifier: &notifier{trigger: trigger, metrics: m, logger: logger},
		logger:   logger,
		now:      clock,
	}
}

// Get returns a lead with its conversion cross references
func (s *LeadService) Get(ctx context.Context, id uuid.UUID) (*domain.LeadDTO, error) {
	lead, err := s.uow.Repos().Leads.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, domain.CodeLeadNotFound, "lead", id)
	}
	dto := mapper.ToLeadDTO(lead)
	return &dto, nil
}

// ChangeStatus moves a lead along the allowed status transitions.
// Setting the current status again is a no-op, except on converted leads.
func (s *LeadService) ChangeStatus(ctx context.Context, id uuid.UUID, req *domain.ChangeLeadStatusRequest) (*domain.LeadDTO, error) {
	now := s.now()
	var (
		lead    *domain.Lead
		from    domain.LeadStatus
		changed bool
	)
	err := s.uow.Do(ctx, func(tx *repository.Tx) error {
		var err error
		lead, err = tx.Leads.GetForUpdate(ctx, id)
		if err != nil {
			return notFoundOr(err, domain.CodeLeadNotFound, "lead", id)
		}

		from = lead.Status
		// Converted is terminal, even for a repeat of the same status
		if lead.IsConverted() {
			return domain.NewBusinessError(domain.CodeInvalidStatusTransition, "converted leads cannot change status")
		}
		if from == req.Status {
			return nil
		}
		if req.Status == domain.LeadStatusConverted {
			return domain.NewBusinessError(domain.CodeInvalidStatusTransition, "leads are converted through lead conversion only")
		}
		if !CanTransitionLead(from, req.Status) {
			return domain.NewBusinessError(domain.CodeInvalidStatusTransition,
				"invalid status transition from %s to %s", from, req.Status)
		}

		lead.Status = req.Status
		if err := tx.Leads.Update(ctx, lead); err != nil {
			return fmt.Errorf("failed to update lead: %w", err)
		}
		changed = true

		return tx.AuditLogs.Log(ctx, domain.LeadRef(id), "ChangeStatus", map[string]interface{}{
			"from":   from,
			"to":     req.Status,
			"reason": req.Reason,
		}, auth.ActorFromContext(ctx), now)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.logger.Info("lead status changed",
			zap.String("lead_id", id.String()),
			zap.String("from", string(from)),
			zap.String("to", string(lead.Status)))

		s.notifier.fire(ctx, pendingEvent{
			ref:  domain.LeadRef(id),
			name: EventLeadStatusChanged,
			payload: map[string]interface{}{
				"from":   from,
				"to":     lead.Status,
				"reason": req.Reason,
			},
		})
	}

	dto := mapper.ToLeadDTO(lead)
	return &dto, nil
}
