package mapper

import (
	"time"

	"github.com/straye-as/pipeline-engine/internal/domain"
)

const timeLayout = "2006-01-02T15:04:05Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// ToPipelineStageDTO converts PipelineStage to PipelineStageDTO
func ToPipelineStageDTO(stage *domain.PipelineStage) domain.PipelineStageDTO {
	return domain.PipelineStageDTO{
		ID:                 stage.ID,
		Name:               stage.Name,
		DisplayOrder:       stage.DisplayOrder,
		ProbabilityPercent: stage.ProbabilityPercent,
		DefaultDaysToRot:   stage.DefaultDaysToRot,
		IsWonStage:         stage.IsWonStage,
		IsLostStage:        stage.IsLostStage,
	}
}

// ToPipelineDTO converts Pipeline to PipelineDTO. Only active stages are included.
func ToPipelineDTO(pipeline *domain.Pipeline, opportunityCount int64) domain.PipelineDTO {
	stages := make([]domain.PipelineStageDTO, 0, len(pipeline.Stages))
	for i := range pipeline.Stages {
		if pipeline.Stages[i].Lifecycle != domain.LifecycleActive {
			continue
		}
		stages = append(stages, ToPipelineStageDTO(&pipeline.Stages[i]))
	}

	return domain.PipelineDTO{
		ID:               pipeline.ID,
		Name:             pipeline.Name,
		Description:      pipeline.Description,
		IsDefault:        pipeline.IsDefault,
		Stages:           stages,
		StageCount:       len(stages),
		OpportunityCount: opportunityCount,
		CreatedAt:        formatTime(pipeline.CreatedAt),
		UpdatedAt:        formatTime(pipeline.UpdatedAt),
	}
}

// ToOpportunityDTO converts Opportunity to OpportunityDTO.
// Rotting state and days in stage depend on the evaluation time and are supplied by the caller.
func ToOpportunityDTO(opp *domain.Opportunity, isRotting bool, daysInStage int) domain.OpportunityDTO {
	dto := domain.OpportunityDTO{
		ID:                opp.ID,
		Name:              opp.Name,
		Description:       opp.Description,
		PipelineID:        opp.PipelineID,
		StageID:           opp.StageID,
		Status:            opp.Status,
		Amount:            opp.Amount,
		Currency:          opp.Currency,
		Probability:       opp.Probability,
		WeightedAmount:    opp.Amount * float64(opp.Probability) / 100,
		StageEnteredAt:    formatTime(opp.StageEnteredAt),
		LastActivityAt:    formatTimePtr(opp.LastActivityAt),
		ExpectedCloseDate: formatTimePtr(opp.ExpectedCloseDate),
		ActualCloseDate:   formatTimePtr(opp.ActualCloseDate),
		LossReason:        opp.LossReason,
		AccountID:         opp.AccountID,
		AssignedTo:        opp.AssignedTo,
		IsRotting:         isRotting,
		DaysInStage:       daysInStage,
		CreatedAt:         formatTime(opp.CreatedAt),
		UpdatedAt:         formatTime(opp.UpdatedAt),
	}

	if opp.Stage != nil {
		dto.StageName = opp.Stage.Name
	}

	if len(opp.Contacts) > 0 {
		dto.Contacts = make([]domain.OpportunityContactDTO, 0, len(opp.Contacts))
		for i := range opp.Contacts {
			dto.Contacts = append(dto.Contacts, ToOpportunityContactDTO(&opp.Contacts[i]))
		}
	}

	return dto
}

// ToOpportunityContactDTO converts an OpportunityContact link to its DTO
func ToOpportunityContactDTO(link *domain.OpportunityContact) domain.OpportunityContactDTO {
	dto := domain.OpportunityContactDTO{
		ContactID: link.ContactID,
		Role:      link.Role,
		IsPrimary: link.IsPrimary,
	}
	if link.Contact != nil {
		dto.FullName = link.Contact.FullName()
		dto.Email = link.Contact.Email
		dto.LifecycleStage = link.Contact.LifecycleStage
	}
	return dto
}

// ToBoardCardDTO converts Opportunity to a board card
func ToBoardCardDTO(opp *domain.Opportunity, isRotting bool) domain.BoardCardDTO {
	return domain.BoardCardDTO{
		ID:             opp.ID,
		Name:           opp.Name,
		Amount:         opp.Amount,
		Currency:       opp.Currency,
		Probability:    opp.Probability,
		AccountID:      opp.AccountID,
		AssignedTo:     opp.AssignedTo,
		StageEnteredAt: formatTime(opp.StageEnteredAt),
		IsRotting:      isRotting,
	}
}

// ToStageHistoryDTO converts StageHistory to StageHistoryDTO
func ToStageHistoryDTO(h *domain.StageHistory) domain.StageHistoryDTO {
	return domain.StageHistoryDTO{
		ID:          h.ID,
		FromStageID: h.FromStageID,
		ToStageID:   h.ToStageID,
		Status:      h.Status,
		ChangedByID: h.ChangedByID,
		Note:        h.Note,
		ChangedAt:   formatTime(h.ChangedAt),
	}
}

// ToLeadDTO converts Lead to LeadDTO
func ToLeadDTO(lead *domain.Lead) domain.LeadDTO {
	return domain.LeadDTO{
		ID:                     lead.ID,
		FirstName:              lead.FirstName,
		LastName:               lead.LastName,
		FullName:               lead.FullName(),
		Email:                  lead.Email,
		Phone:                  lead.Phone,
		CompanyName:            lead.CompanyName,
		JobTitle:               lead.JobTitle,
		Source:                 lead.Source,
		Status:                 lead.Status,
		Score:                  lead.Score,
		AssignedTo:             lead.AssignedTo,
		ConvertedAccountID:     lead.ConvertedAccountID,
		ConvertedContactID:     lead.ConvertedContactID,
		ConvertedOpportunityID: lead.ConvertedOpportunityID,
		ConvertedAt:            formatTimePtr(lead.ConvertedAt),
		CreatedAt:              formatTime(lead.CreatedAt),
		UpdatedAt:              formatTime(lead.UpdatedAt),
	}
}
