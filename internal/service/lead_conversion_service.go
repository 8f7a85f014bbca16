package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/straye-as/pipeline-engine/internal/auth"
	"github.com/straye-as/pipeline-engine/internal/domain"
	"github.com/straye-as/pipeline-engine/internal/mapper"
	"github.com/straye-as/pipeline-engine/internal/metrics"
	"github.com/straye-as/pipeline-engine/internal/phone"
	"github.com/straye-as/pipeline-engine/internal/repository"
	"go.uber.org/zap"
)

const primaryContactRole = "Primary"

// LeadConversionService turns a qualified lead into a contact and optionally an account
// and an opportunity, in one transaction.
type LeadConversionService struct {
	uow             *repository.UnitOfWork
	phones          *phone.Normalizer
	convertible     map[domain.LeadStatus]bool
	defaultCurrency string
	notifier        *notifier
	metrics         *metrics.Metrics
	logger          *zap.Logger
	now             Clock
}

// NewLeadConversionService creates the conversion orchestrator.
// An empty convertible list means only qualified leads can be converted.
func NewLeadConversionService(
	uow *repository.UnitOfWork,
	phones *phone.Normalizer,
	convertibleStatuses []string,
	defaultCurrency string,
	trigger WorkflowTrigger,
	m *metrics.Metrics,
	logger *zap.Logger,
	clock Clock,
) *LeadConversionService {
	if clock == nil {
		clock = UTCNow
	}
	if phones == nil {
		phones = phone.NewNormalizer("")
	}
	if defaultCurrency == "" {
		defaultCurrency = fallbackCurrency
	}

	convertible := make(map[domain.LeadStatus]bool)
	for _, st := range convertibleStatuses {
		status := domain.LeadStatus(strings.ToLower(strings.TrimSpace(st)))
		if status.IsValid() && status != domain.LeadStatusConverted {
			convertible[status] = true
		}
	}
	if len(convertible) == 0 {
		convertible[domain.LeadStatusQualified] = true
	}

	return &LeadConversionService{
		uow:             uow,
		phones:          phones,
		convertible:     convertible,
		defaultCurrency: strings.ToUpper(defaultCurrency),
		notifier:        &notifier{trigger: trigger, metrics: m, logger: logger},
		metrics:         m,
		logger:          logger,
		now:             clock,
	}
}

// ConvertLead converts a lead. Either nothing or everything is persisted.
func (s *LeadConversionService) ConvertLead(ctx context.Context, leadID uuid.UUID, req *domain.ConvertLeadRequest) (*domain.ConvertLeadResult, error) {
	result, err := s.convert(ctx, leadID, req)
	if err != nil {
		s.metrics.RecordConversion(conversionOutcome(err))
		return nil, err
	}
	s.metrics.RecordConversion("converted")

	s.logger.Info("lead converted",
		zap.String("lead_id", leadID.String()),
		zap.String("contact_id", result.ContactID.String()),
		zap.Bool("account", result.AccountID != nil),
		zap.Bool("opportunity", result.OpportunityID != nil))

	s.notifier.fire(ctx, pendingEvent{
		ref:  domain.LeadRef(leadID),
		name: EventLeadConverted,
		payload: map[string]interface{}{
			"contactId":     result.ContactID,
			"accountId":     result.AccountID,
			"opportunityId": result.OpportunityID,
		},
	})
	return result, nil
}

// Preview reports what ConvertLead would do for the lead right now, without writing anything.
// The pipeline fields are empty when the tenant has no usable pipeline.
func (s *LeadConversionService) Preview(ctx context.Context, leadID uuid.UUID) (*domain.ConversionPreviewDTO, error) {
	repos := s.uow.Repos()
	lead, err := repos.Leads.GetByID(ctx, leadID)
	if err != nil {
		return nil, notFoundOr(err, domain.CodeLeadNotFound, "lead", leadID)
	}

	preview := &domain.ConversionPreviewDTO{
		Lead:                    mapper.ToLeadDTO(lead),
		Convertible:             true,
		ProposedAccountName:     accountNameFor(lead),
		ProposedOpportunityName: opportunityNameFor(lead),
	}
	switch {
	case lead.IsConverted():
		preview.Convertible = false
		preview.BlockingCode = domain.CodeLeadAlreadyConverted
	case !s.convertible[lead.Status]:
		preview.Convertible = false
		preview.BlockingCode = domain.CodeLeadNotQualified
	}

	pipeline, stage, err := s.resolveConversionPipeline(ctx, repos, nil)
	switch {
	case err == nil:
		preview.PipelineID = &pipeline.ID
		preview.PipelineName = pipeline.Name
		preview.FirstStageID = &stage.ID
		preview.FirstStageName = stage.Name
	case domain.IsCode(err, domain.CodePipelineNotFound), domain.IsCode(err, domain.CodeStageNotFound):
		// nothing to propose
	default:
		return nil, err
	}
	return preview, nil
}

func conversionOutcome(err error) string {
	var nf *domain.NotFoundError
	var be *domain.BusinessError
	if errors.As(err, &nf) || errors.As(err, &be) {
		return "rejected"
	}
	return "failed"
}

func (s *LeadConversionService) convert(ctx context.Context, leadID uuid.UUID, req *domain.ConvertLeadRequest) (*domain.ConvertLeadResult, error) {
	now := s.now()
	actor := auth.ActorFromContext(ctx)
	result := &domain.ConvertLeadResult{LeadID: leadID}

	err := s.uow.Do(ctx, func(tx *repository.Tx) error {
		lead, err := tx.Leads.GetForUpdate(ctx, leadID)
		if err != nil {
			return notFoundOr(err, domain.CodeLeadNotFound, "lead", leadID)
		}
		// A converted lead reports LEAD_ALREADY_CONVERTED, never LEAD_NOT_QUALIFIED
		if lead.IsConverted() {
			return domain.NewBusinessError(domain.CodeLeadAlreadyConverted, "lead is already converted")
		}
		if !s.convertible[lead.Status] {
			return domain.NewBusinessError(domain.CodeLeadNotQualified, "only qualified leads can be converted; lead is %s", lead.Status)
		}
		if !req.CreateAccount && req.ExistingAccountID == nil {
			return domain.NewBusinessError(domain.CodeAccountRequired, "an existing account is required when account creation is disabled")
		}

		// Everything that can reject the request is resolved before the first write
		var existingAccount *domain.Account
		if !req.CreateAccount {
			existingAccount, err = tx.Accounts.GetByID(ctx, *req.ExistingAccountID)
			if err != nil {
				return notFoundOr(err, domain.CodeAccountNotFound, "account", *req.ExistingAccountID)
			}
		}

		var pipeline *domain.Pipeline
		var firstStage *domain.PipelineStage
		if req.CreateOpportunity {
			pipeline, firstStage, err = s.resolveConversionPipeline(ctx, tx, req.PipelineID)
			if err != nil {
				return err
			}
		}

		normalizedPhone := s.phones.NormalizeE164(lead.Phone)

		var accountID *uuid.UUID
		if req.CreateAccount {
			account := &domain.Account{
				Name:        accountNameFor(lead),
				Phone:       normalizedPhone,
				Email:       lead.Email,
				Address:     lead.Address,
				City:        lead.City,
				State:       lead.State,
				Country:     lead.Country,
				PostalCode:  lead.PostalCode,
				Description: lead.Notes,
				AssignedTo:  lead.AssignedTo,
				Lifecycle:   domain.LifecycleActive,
			}
			account.TenantID = lead.TenantID
			if err := tx.Accounts.Create(ctx, account); err != nil {
				return fmt.Errorf("failed to create account: %w", err)
			}
			accountID = &account.ID
		} else {
			accountID = &existingAccount.ID
		}
		result.AccountID = accountID

		// New contacts start at opportunity; the lifecycle synchronizer only acts on later moves
		contact := &domain.Contact{
			AccountID:      accountID,
			FirstName:      lead.FirstName,
			LastName:       lead.LastName,
			Email:          lead.Email,
			Phone:          normalizedPhone,
			Mobile:         normalizedPhone,
			JobTitle:       lead.JobTitle,
			Address:        lead.Address,
			City:           lead.City,
			State:          lead.State,
			Country:        lead.Country,
			PostalCode:     lead.PostalCode,
			Notes:          lead.Notes,
			LifecycleStage: domain.LifecycleStageOpportunity,
			AssignedTo:     lead.AssignedTo,
			Lifecycle:      domain.LifecycleActive,
		}
		contact.TenantID = lead.TenantID
		if err := tx.Contacts.Create(ctx, contact); err != nil {
			return fmt.Errorf("failed to create contact: %w", err)
		}
		result.ContactID = contact.ID

		if req.CreateOpportunity {
			opp, err := s.createOpportunity(ctx, tx, lead, req, pipeline.ID, firstStage, accountID, contact.ID, actor)
			if err != nil {
				return err
			}
			result.OpportunityID = &opp.ID
		}

		if err := repointActivityLinks(ctx, tx, lead.ID, contact.ID, accountID, result.OpportunityID); err != nil {
			return err
		}

		lead.Status = domain.LeadStatusConverted
		lead.ConvertedAccountID = accountID
		lead.ConvertedContactID = &contact.ID
		lead.ConvertedOpportunityID = result.OpportunityID
		lead.ConvertedAt = &now
		if err := tx.Leads.Update(ctx, lead); err != nil {
			return fmt.Errorf("failed to mark lead converted: %w", err)
		}

		return tx.AuditLogs.Log(ctx, domain.LeadRef(lead.ID), "Convert", map[string]interface{}{
			"contactId":     contact.ID,
			"accountId":     accountID,
			"opportunityId": result.OpportunityID,
		}, actor, now)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// resolveConversionPipeline picks the explicit pipeline when it is active, otherwise the tenant
// default or the newest active pipeline, and returns it with its first stage.
func (s *LeadConversionService) resolveConversionPipeline(ctx context.Context, tx *repository.Tx, explicit *uuid.UUID) (*domain.Pipeline, *domain.PipelineStage, error) {
	var pipeline *domain.Pipeline
	if explicit != nil {
		found, err := tx.Pipelines.GetByID(ctx, *explicit)
		switch {
		case err == nil:
			pipeline = found
		case isNotFound(err):
			s.logger.Warn("requested conversion pipeline unavailable, using fallback",
				zap.String("pipeline_id", explicit.String()))
		default:
			return nil, nil, fmt.Errorf("failed to load pipeline: %w", err)
		}
	}
	if pipeline == nil {
		fallback, err := tx.Pipelines.GetFallback(ctx)
		if err != nil {
			if isNotFound(err) {
				return nil, nil, domain.NewNotFoundError(domain.CodePipelineNotFound, "active pipeline", nil)
			}
			return nil, nil, fmt.Errorf("failed to load pipeline: %w", err)
		}
		pipeline = fallback
	}

	stage, err := tx.Pipelines.GetFirstStage(ctx, pipeline.ID)
	if err != nil {
		return nil, nil, notFoundOr(err, domain.CodeStageNotFound, "first stage of pipeline", pipeline.ID)
	}
	return pipeline, stage, nil
}

func (s *LeadConversionService) createOpportunity(
	ctx context.Context,
	tx *repository.Tx,
	lead *domain.Lead,
	req *domain.ConvertLeadRequest,
	pipelineID uuid.UUID,
	stage *domain.PipelineStage,
	accountID *uuid.UUID,
	contactID uuid.UUID,
	actor *uuid.UUID,
) (*domain.Opportunity, error) {
	now := s.now()

	name := opportunityNameFor(lead)
	if req.OpportunityName != nil && strings.TrimSpace(*req.OpportunityName) != "" {
		name = strings.TrimSpace(*req.OpportunityName)
	}
	var amount float64
	if req.Amount != nil {
		amount = *req.Amount
	}

	opp := &domain.Opportunity{
		Name:           name,
		Description:    lead.Notes,
		PipelineID:     pipelineID,
		StageID:        stage.ID,
		Status:         domain.StatusForStage(stage),
		Amount:         amount,
		Currency:       s.defaultCurrency,
		Probability:    stage.ProbabilityPercent,
		StageEnteredAt: now,
		AccountID:      accountID,
		AssignedTo:     lead.AssignedTo,
		Lifecycle:      domain.LifecycleActive,
	}
	opp.TenantID = lead.TenantID
	if err := tx.Opportunities.Create(ctx, opp); err != nil {
		return nil, fmt.Errorf("failed to create opportunity: %w", err)
	}

	link := &domain.OpportunityContact{
		OpportunityID: opp.ID,
		ContactID:     contactID,
		Role:          primaryContactRole,
		IsPrimary:     true,
	}
	link.TenantID = lead.TenantID
	if err := tx.OpportunityContacts.Create(ctx, link); err != nil {
		return nil, fmt.Errorf("failed to link contact to opportunity: %w", err)
	}

	if err := tx.StageHistory.Create(ctx, &domain.StageHistory{
		OpportunityID: opp.ID,
		ToStageID:     stage.ID,
		Status:        opp.Status,
		ChangedByID:   actor,
		Note:          "Created from lead conversion",
		ChangedAt:     now,
	}); err != nil {
		return nil, fmt.Errorf("failed to record stage history: %w", err)
	}
	return opp, nil
}

// repointActivityLinks copies every activity linked to the lead onto the new records.
// The lead's own links are left in place.
func repointActivityLinks(ctx context.Context, tx *repository.Tx, leadID, contactID uuid.UUID, accountID, opportunityID *uuid.UUID) error {
	existing, err := tx.ActivityLinks.GetLinksFor(ctx, domain.LeadRef(leadID))
	if err != nil {
		return fmt.Errorf("failed to load lead activities: %w", err)
	}
	if len(existing) == 0 {
		return nil
	}

	targets := []domain.EntityRef{domain.ContactRef(contactID)}
	if accountID != nil {
		targets = append(targets, domain.AccountRef(*accountID))
	}
	if opportunityID != nil {
		targets = append(targets, domain.OpportunityRef(*opportunityID))
	}

	links := make([]*domain.ActivityLink, 0, len(existing)*len(targets))
	for _, link := range existing {
		for _, target := range targets {
			copied := &domain.ActivityLink{
				ActivityID: link.ActivityID,
				EntityType: target.Type,
				EntityID:   target.ID,
			}
			copied.TenantID = link.TenantID
			links = append(links, copied)
		}
	}
	if err := tx.ActivityLinks.AddLinks(ctx, links); err != nil {
		return fmt.Errorf("failed to copy activity links: %w", err)
	}
	return nil
}

func accountNameFor(lead *domain.Lead) string {
	if company := strings.TrimSpace(lead.CompanyName); company != "" {
		return company
	}
	return lead.FullName()
}

func opportunityNameFor(lead *domain.Lead) string {
	if company := strings.TrimSpace(lead.CompanyName); company != "" {
		return company + " - New Opportunity"
	}
	return lead.FullName() + " - Opportunity"
}
