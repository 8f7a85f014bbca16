package mapper_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/straye-as/pipeline-engine/internal/domain"
	"github.com/straye-as/pipeline-engine/internal/mapper"
)

func TestToPipelineDTO(t *testing.T) {
	pipeline := &domain.Pipeline{
		BaseModel: domain.BaseModel{ID: uuid.New(), CreatedAt: time.Now(), UpdatedAt: time.Now()},
		Name:      "Sales",
		IsDefault: true,
		Stages: []domain.PipelineStage{
			{Name: "Qualification", DisplayOrder: 1, ProbabilityPercent: 10, Lifecycle: domain.LifecycleActive},
			{Name: "Retired", DisplayOrder: 2, Lifecycle: domain.LifecycleInactive},
			{Name: "Won", DisplayOrder: 3, ProbabilityPercent: 100, IsWonStage: true, Lifecycle: domain.LifecycleActive},
		},
	}

	dto := mapper.ToPipelineDTO(pipeline, 7)

	assert.Equal(t, pipeline.ID, dto.ID)
	assert.True(t, dto.IsDefault)
	assert.Equal(t, 2, dto.StageCount)
	require.Len(t, dto.Stages, 2)
	assert.Equal(t, "Won", dto.Stages[1].Name)
	assert.True(t, dto.Stages[1].IsWonStage)
	assert.Equal(t, int64(7), dto.OpportunityCount)
	assert.NotEmpty(t, dto.CreatedAt)
}

func TestToOpportunityDTO(t *testing.T) {
	entered := time.Date(2026, 2, 1, 9, 30, 0, 0, time.FixedZone("CET", 3600))
	accountID := uuid.New()
	opp := &domain.Opportunity{
		BaseModel:      domain.BaseModel{ID: uuid.New()},
		Name:           "Expansion",
		Status:         domain.OpportunityStatusOpen,
		Amount:         2000,
		Currency:       "NOK",
		Probability:    25,
		StageEnteredAt: entered,
		AccountID:      &accountID,
		Stage:          &domain.PipelineStage{Name: "Proposal"},
		Contacts: []domain.OpportunityContact{{
			ContactID: uuid.New(),
			Role:      "Champion",
			IsPrimary: true,
			Contact: &domain.Contact{
				FirstName:      "Ola",
				LastName:       "Nordmann",
				Email:          "ola@example.com",
				LifecycleStage: domain.LifecycleStageSQL,
			},
		}},
	}

	dto := mapper.ToOpportunityDTO(opp, true, 12)

	assert.Equal(t, "Proposal", dto.StageName)
	assert.InDelta(t, 500.0, dto.WeightedAmount, 0.001)
	assert.Equal(t, "2026-02-01T08:30:00Z", dto.StageEnteredAt)
	assert.Nil(t, dto.ActualCloseDate)
	assert.True(t, dto.IsRotting)
	assert.Equal(t, 12, dto.DaysInStage)
	assert.Equal(t, &accountID, dto.AccountID)
	require.Len(t, dto.Contacts, 1)
	assert.Equal(t, "Ola Nordmann", dto.Contacts[0].FullName)
	assert.Equal(t, domain.LifecycleStageSQL, dto.Contacts[0].LifecycleStage)
}

func TestToLeadDTO(t *testing.T) {
	convertedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	contactID := uuid.New()
	lead := &domain.Lead{
		BaseModel:          domain.BaseModel{ID: uuid.New()},
		FirstName:          "Grace",
		LastName:           "Hopper",
		Status:             domain.LeadStatusConverted,
		ConvertedContactID: &contactID,
		ConvertedAt:        &convertedAt,
	}

	dto := mapper.ToLeadDTO(lead)

	assert.Equal(t, "Grace Hopper", dto.FullName)
	assert.Equal(t, domain.LeadStatusConverted, dto.Status)
	require.NotNil(t, dto.ConvertedAt)
	assert.Equal(t, "2026-03-01T12:00:00Z", *dto.ConvertedAt)
	assert.Equal(t, &contactID, dto.ConvertedContactID)
	assert.Nil(t, dto.ConvertedOpportunityID)
}
