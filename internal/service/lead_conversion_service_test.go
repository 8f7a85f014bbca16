package service_test

import (
	"testing"

	"github.com/google/uuid"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/straye-as/pipeline-engine/internal/domain"
	"github.com/straye-as/pipeline-engine/internal/service"
	"github.com/straye-as/pipeline-engine/internal/testutil"
)

func fullConversion() *domain.ConvertLeadRequest {
	return &domain.ConvertLeadRequest{CreateAccount: true, CreateOpportunity: true}
}

type rowCounts struct {
	accounts, contacts, opportunities, links int64
}

func (e *engine) rows(t *testing.T) rowCounts {
	t.Helper()
	return rowCounts{
		accounts:      e.count(t, &domain.Account{}),
		contacts:      e.count(t, &domain.Contact{}),
		opportunities: e.count(t, &domain.Opportunity{}),
		links:         e.count(t, &domain.OpportunityContact{}),
	}
}

func TestLeadConversionService_ConvertLead(t *testing.T) {
	t.Run("qualified lead becomes account, contact and opportunity", func(t *testing.T) {
		e := newEngine(t)
		p := e.pipeline(t, "Sales", true)
		lead := testutil.CreateLead(t, e.db, e.tenantID, domain.LeadStatusQualified)

		result, err := e.conversion.ConvertLead(e.ctx, lead.ID, fullConversion())
		require.NoError(t, err)
		require.NotNil(t, result.AccountID)
		require.NotNil(t, result.OpportunityID)

		var account domain.Account
		require.NoError(t, e.db.First(&account, "id = ?", *result.AccountID).Error)
		assert.Equal(t, "Compilers Inc", account.Name)
		assert.Equal(t, "+16502530000", account.Phone)

		contact := e.contact(t, result.ContactID)
		assert.Equal(t, "Grace", contact.FirstName)
		assert.Equal(t, domain.LifecycleStageOpportunity, contact.LifecycleStage)
		assert.Equal(t, "+16502530000", contact.Mobile)
		assert.Equal(t, "Arlington", contact.City)
		assert.Equal(t, "US", contact.Country)
		assert.Equal(t, "1 Navy Way", contact.Address)
		assert.Equal(t, "VA", contact.State)
		assert.Equal(t, "22201", contact.PostalCode)
		assert.Equal(t, "Met at conference", contact.Notes)
		require.NotNil(t, contact.AccountID)
		assert.Equal(t, *result.AccountID, *contact.AccountID)

		opp, err := e.opportunities.Get(e.ctx, *result.OpportunityID)
		require.NoError(t, err)
		assert.Equal(t, "Compilers Inc - New Opportunity", opp.Name)
		assert.Equal(t, p.Stages[0].ID, opp.StageID)
		assert.Equal(t, 10, opp.Probability)
		assert.Equal(t, domain.OpportunityStatusOpen, opp.Status)
		require.Len(t, opp.Contacts, 1)
		assert.Equal(t, "Primary", opp.Contacts[0].Role)
		assert.True(t, opp.Contacts[0].IsPrimary)

		converted, err := e.leads.Get(e.ctx, lead.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.LeadStatusConverted, converted.Status)
		assert.Equal(t, result.ContactID, *converted.ConvertedContactID)
		assert.Equal(t, *result.OpportunityID, *converted.ConvertedOpportunityID)
		assert.NotNil(t, converted.ConvertedAt)

		assert.Equal(t, []string{service.EventLeadConverted}, e.trigger.names())
		assert.Equal(t, 1.0, promtest.ToFloat64(e.metrics.LeadConversions.WithLabelValues("converted")))
	})

	t.Run("second conversion is rejected without writes", func(t *testing.T) {
		e := newEngine(t)
		e.pipeline(t, "Sales", true)
		lead := testutil.CreateLead(t, e.db, e.tenantID, domain.LeadStatusQualified)

		_, err := e.conversion.ConvertLead(e.ctx, lead.ID, fullConversion())
		require.NoError(t, err)
		before := e.rows(t)

		_, err = e.conversion.ConvertLead(e.ctx, lead.ID, fullConversion())
		require.Error(t, err)
		assert.True(t, domain.IsCode(err, domain.CodeLeadAlreadyConverted))
		assert.Equal(t, before, e.rows(t))
		assert.Equal(t, 1.0, promtest.ToFloat64(e.metrics.LeadConversions.WithLabelValues("rejected")))
	})

	t.Run("lead must be qualified", func(t *testing.T) {
		e := newEngine(t)
		e.pipeline(t, "Sales", true)
		lead := testutil.CreateLead(t, e.db, e.tenantID, domain.LeadStatusContacted)

		_, err := e.conversion.ConvertLead(e.ctx, lead.ID, fullConversion())
		require.Error(t, err)
		assert.True(t, domain.IsCode(err, domain.CodeLeadNotQualified))
		assert.Equal(t, rowCounts{}, e.rows(t))
	})

	t.Run("account is required when not created", func(t *testing.T) {
		e := newEngine(t)
		lead := testutil.CreateLead(t, e.db, e.tenantID, domain.LeadStatusQualified)

		_, err := e.conversion.ConvertLead(e.ctx, lead.ID, &domain.ConvertLeadRequest{})
		require.Error(t, err)
		assert.True(t, domain.IsCode(err, domain.CodeAccountRequired))
	})

	t.Run("existing account and no opportunity", func(t *testing.T) {
		e := newEngine(t)
		account := testutil.CreateAccount(t, e.db, e.tenantID, "Existing Co")
		lead := testutil.CreateLead(t, e.db, e.tenantID, domain.LeadStatusQualified)

		result, err := e.conversion.ConvertLead(e.ctx, lead.ID, &domain.ConvertLeadRequest{ExistingAccountID: &account.ID})
		require.NoError(t, err)
		require.NotNil(t, result.AccountID)
		assert.Equal(t, account.ID, *result.AccountID)
		assert.Nil(t, result.OpportunityID)
		assert.Equal(t, int64(1), e.count(t, &domain.Account{}))
		assert.Equal(t, int64(0), e.count(t, &domain.Opportunity{}))
	})

	t.Run("unknown existing account", func(t *testing.T) {
		e := newEngine(t)
		lead := testutil.CreateLead(t, e.db, e.tenantID, domain.LeadStatusQualified)
		missing := uuid.New()

		_, err := e.conversion.ConvertLead(e.ctx, lead.ID, &domain.ConvertLeadRequest{ExistingAccountID: &missing})
		require.Error(t, err)
		assert.True(t, domain.IsCode(err, domain.CodeAccountNotFound))
	})

	t.Run("missing pipeline rolls back everything", func(t *testing.T) {
		e := newEngine(t)
		lead := testutil.CreateLead(t, e.db, e.tenantID, domain.LeadStatusQualified)

		_, err := e.conversion.ConvertLead(e.ctx, lead.ID, fullConversion())
		require.Error(t, err)
		assert.True(t, domain.IsCode(err, domain.CodePipelineNotFound))
		assert.Equal(t, rowCounts{}, e.rows(t))

		stored, err := e.leads.Get(e.ctx, lead.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.LeadStatusQualified, stored.Status)
		assert.Empty(t, e.trigger.names())
	})

	t.Run("explicit pipeline and name override", func(t *testing.T) {
		e := newEngine(t)
		e.pipeline(t, "Sales", true)
		renewals := testutil.CreatePipeline(t, e.db, e.tenantID, "Renewals", false, []testutil.StageSpec{
			{Name: "Due", Probability: 60, DaysToRot: 10},
			{Name: "Renewed", Probability: 100, Won: true},
		})
		lead := testutil.CreateLead(t, e.db, e.tenantID, domain.LeadStatusQualified)
		amount := 2500.0

		result, err := e.conversion.ConvertLead(e.ctx, lead.ID, &domain.ConvertLeadRequest{
			CreateAccount:     true,
			CreateOpportunity: true,
			PipelineID:        &renewals.ID,
			OpportunityName:   strPtr("Annual renewal"),
			Amount:            &amount,
		})
		require.NoError(t, err)

		opp, err := e.opportunities.Get(e.ctx, *result.OpportunityID)
		require.NoError(t, err)
		assert.Equal(t, "Annual renewal", opp.Name)
		assert.Equal(t, renewals.Stages[0].ID, opp.StageID)
		assert.Equal(t, 60, opp.Probability)
		assert.InDelta(t, 2500.0, opp.Amount, 0.001)
	})

	t.Run("unavailable explicit pipeline falls back to the default", func(t *testing.T) {
		e := newEngine(t)
		sales := e.pipeline(t, "Sales", true)
		archived := testutil.CreatePipeline(t, e.db, e.tenantID, "Archived", false, testutil.DefaultStages)
		require.NoError(t, e.db.Model(archived).Update("lifecycle", domain.LifecycleInactive).Error)

		for name, id := range map[string]uuid.UUID{"unknown": uuid.New(), "inactive": archived.ID} {
			t.Run(name, func(t *testing.T) {
				lead := testutil.CreateLead(t, e.db, e.tenantID, domain.LeadStatusQualified)
				pipelineID := id
				result, err := e.conversion.ConvertLead(e.ctx, lead.ID, &domain.ConvertLeadRequest{
					CreateAccount:     true,
					CreateOpportunity: true,
					PipelineID:        &pipelineID,
				})
				require.NoError(t, err)

				opp, err := e.opportunities.Get(e.ctx, *result.OpportunityID)
				require.NoError(t, err)
				assert.Equal(t, sales.ID, opp.PipelineID)
				assert.Equal(t, sales.Stages[0].ID, opp.StageID)
			})
		}
	})

	t.Run("unavailable explicit pipeline without any fallback", func(t *testing.T) {
		e := newEngine(t)
		lead := testutil.CreateLead(t, e.db, e.tenantID, domain.LeadStatusQualified)
		missing := uuid.New()

		_, err := e.conversion.ConvertLead(e.ctx, lead.ID, &domain.ConvertLeadRequest{
			CreateAccount:     true,
			CreateOpportunity: true,
			PipelineID:        &missing,
		})
		require.Error(t, err)
		assert.True(t, domain.IsCode(err, domain.CodePipelineNotFound))
		assert.Equal(t, rowCounts{}, e.rows(t))
	})

	t.Run("lead activities are copied to the new records", func(t *testing.T) {
		e := newEngine(t)
		e.pipeline(t, "Sales", true)
		lead := testutil.CreateLead(t, e.db, e.tenantID, domain.LeadStatusQualified)
		for i := 0; i < 2; i++ {
			link := &domain.ActivityLink{ActivityID: uuid.New(), EntityType: domain.EntityTypeLead, EntityID: lead.ID}
			link.TenantID = e.tenantID
			require.NoError(t, e.db.Create(link).Error)
		}

		result, err := e.conversion.ConvertLead(e.ctx, lead.ID, fullConversion())
		require.NoError(t, err)

		countFor := func(entityType domain.EntityType, id uuid.UUID) int64 {
			var n int64
			require.NoError(t, e.db.Model(&domain.ActivityLink{}).
				Where("entity_type = ? AND entity_id = ?", entityType, id).Count(&n).Error)
			return n
		}
		assert.Equal(t, int64(2), countFor(domain.EntityTypeLead, lead.ID))
		assert.Equal(t, int64(2), countFor(domain.EntityTypeContact, result.ContactID))
		assert.Equal(t, int64(2), countFor(domain.EntityTypeAccount, *result.AccountID))
		assert.Equal(t, int64(2), countFor(domain.EntityTypeOpportunity, *result.OpportunityID))
	})

	t.Run("lead without company names the account after the person", func(t *testing.T) {
		e := newEngine(t)
		e.pipeline(t, "Sales", true)
		lead := testutil.CreateLead(t, e.db, e.tenantID, domain.LeadStatusQualified)
		require.NoError(t, e.db.Model(lead).Update("company_name", "").Error)

		result, err := e.conversion.ConvertLead(e.ctx, lead.ID, fullConversion())
		require.NoError(t, err)

		var account domain.Account
		require.NoError(t, e.db.First(&account, "id = ?", *result.AccountID).Error)
		assert.Equal(t, "Grace Hopper", account.Name)

		opp, err := e.opportunities.Get(e.ctx, *result.OpportunityID)
		require.NoError(t, err)
		assert.Equal(t, "Grace Hopper - Opportunity", opp.Name)
	})
}

func TestLeadConversionService_Preview(t *testing.T) {
	t.Run("qualified lead with a default pipeline", func(t *testing.T) {
		e := newEngine(t)
		p := e.pipeline(t, "Sales", true)
		lead := testutil.CreateLead(t, e.db, e.tenantID, domain.LeadStatusQualified)

		preview, err := e.conversion.Preview(e.ctx, lead.ID)
		require.NoError(t, err)
		assert.True(t, preview.Convertible)
		assert.Empty(t, preview.BlockingCode)
		assert.Equal(t, "Compilers Inc", preview.ProposedAccountName)
		assert.Equal(t, "Compilers Inc - New Opportunity", preview.ProposedOpportunityName)
		require.NotNil(t, preview.PipelineID)
		assert.Equal(t, p.ID, *preview.PipelineID)
		require.NotNil(t, preview.FirstStageID)
		assert.Equal(t, p.Stages[0].ID, *preview.FirstStageID)
		assert.Equal(t, rowCounts{}, e.rows(t), "a preview writes nothing")
	})

	t.Run("blocking reasons", func(t *testing.T) {
		e := newEngine(t)
		contacted := testutil.CreateLead(t, e.db, e.tenantID, domain.LeadStatusContacted)
		converted := testutil.CreateLead(t, e.db, e.tenantID, domain.LeadStatusConverted)

		preview, err := e.conversion.Preview(e.ctx, contacted.ID)
		require.NoError(t, err)
		assert.False(t, preview.Convertible)
		assert.Equal(t, domain.CodeLeadNotQualified, preview.BlockingCode)
		assert.Nil(t, preview.PipelineID, "no active pipeline to propose")

		preview, err = e.conversion.Preview(e.ctx, converted.ID)
		require.NoError(t, err)
		assert.False(t, preview.Convertible)
		assert.Equal(t, domain.CodeLeadAlreadyConverted, preview.BlockingCode)
	})

	t.Run("unknown lead", func(t *testing.T) {
		e := newEngine(t)
		_, err := e.conversion.Preview(e.ctx, uuid.New())
		require.Error(t, err)
		assert.True(t, domain.IsCode(err, domain.CodeLeadNotFound))
	})
}
