package service_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/straye-as/pipeline-engine/internal/domain"
	"github.com/straye-as/pipeline-engine/internal/repository"
	"github.com/straye-as/pipeline-engine/internal/service"
	"github.com/straye-as/pipeline-engine/internal/testutil"
)

func loadOpportunity(t *testing.T, e *engine, id uuid.UUID) *domain.Opportunity {
	t.Helper()
	var opp domain.Opportunity
	require.NoError(t, e.db.First(&opp, "id = ?", id).Error)
	return &opp
}

func TestOpportunityService_Create(t *testing.T) {
	t.Run("defaults to the first stage of the default pipeline", func(t *testing.T) {
		e := newEngine(t)
		p := e.pipeline(t, "Sales", true)
		contact := testutil.CreateContact(t, e.db, e.tenantID, "Ada", "Lovelace", domain.LifecycleStageLead)

		dto, err := e.opportunities.Create(e.ctx, &domain.CreateOpportunityRequest{
			Name:             "Analytical Engine",
			Amount:           1000,
			Currency:         "eur",
			PrimaryContactID: &contact.ID,
		})
		require.NoError(t, err)

		assert.Equal(t, p.ID, dto.PipelineID)
		assert.Equal(t, p.Stages[0].ID, dto.StageID)
		assert.Equal(t, domain.OpportunityStatusOpen, dto.Status)
		assert.Equal(t, 10, dto.Probability)
		assert.Equal(t, "EUR", dto.Currency)
		assert.InDelta(t, 100.0, dto.WeightedAmount, 0.001)
		assert.Equal(t, 0, dto.DaysInStage)
		assert.False(t, dto.IsRotting)
		require.Len(t, dto.Contacts, 1)
		assert.True(t, dto.Contacts[0].IsPrimary)
		assert.NotNil(t, dto.AssignedTo, "assignee defaults to the caller")

		history, err := e.opportunities.GetStageHistory(e.ctx, dto.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Nil(t, history[0].FromStageID)

		assert.Equal(t, []string{service.EventOpportunityCreated}, e.trigger.names())
	})

	t.Run("rejects a closed stage", func(t *testing.T) {
		e := newEngine(t)
		p := e.pipeline(t, "Sales", true)
		won := testutil.StageNamed(t, p, "Closed Won")

		_, err := e.opportunities.Create(e.ctx, &domain.CreateOpportunityRequest{Name: "X", StageID: &won.ID})
		require.Error(t, err)
		assert.True(t, domain.IsCode(err, domain.CodeInvalidStageTransition))
	})

	t.Run("unknown references", func(t *testing.T) {
		e := newEngine(t)
		e.pipeline(t, "Sales", true)
		missing := uuid.New()

		_, err := e.opportunities.Create(e.ctx, &domain.CreateOpportunityRequest{Name: "X", AccountID: &missing})
		assert.True(t, domain.IsCode(err, domain.CodeAccountNotFound))

		_, err = e.opportunities.Create(e.ctx, &domain.CreateOpportunityRequest{Name: "X", PipelineID: &missing})
		assert.True(t, domain.IsCode(err, domain.CodePipelineNotFound))

		_, err = e.opportunities.Create(e.ctx, &domain.CreateOpportunityRequest{Name: "X", PrimaryContactID: &missing})
		assert.True(t, domain.IsCode(err, domain.CodeContactNotFound))

		assert.Equal(t, int64(0), e.count(t, &domain.Opportunity{}))
	})

	t.Run("no default pipeline", func(t *testing.T) {
		e := newEngine(t)
		_, err := e.opportunities.Create(e.ctx, &domain.CreateOpportunityRequest{Name: "X"})
		require.Error(t, err)
		assert.True(t, domain.IsCode(err, domain.CodePipelineNotFound))
	})
}

func TestOpportunityService_MoveStage(t *testing.T) {
	t.Run("forward move updates stage, probability and contacts", func(t *testing.T) {
		e := newEngine(t)
		p := e.pipeline(t, "Sales", true)
		opp := testutil.CreateOpportunity(t, e.db, p.Stages[0], "Deal", 200, daysAgo(10))
		lead := testutil.CreateContact(t, e.db, e.tenantID, "Lea", "Lead", domain.LifecycleStageLead)
		customer := testutil.CreateContact(t, e.db, e.tenantID, "Cus", "Tomer", domain.LifecycleStageCustomer)
		testutil.LinkContact(t, e.db, opp, lead, true)
		testutil.LinkContact(t, e.db, opp, customer, false)

		proposal := testutil.StageNamed(t, p, "Proposal")
		dto, err := e.opportunities.MoveStage(e.ctx, opp.ID, &domain.MoveStageRequest{StageID: proposal.ID})
		require.NoError(t, err)

		assert.Equal(t, proposal.ID, dto.StageID)
		assert.Equal(t, 50, dto.Probability)
		assert.Equal(t, domain.OpportunityStatusOpen, dto.Status)
		assert.Equal(t, 0, dto.DaysInStage)
		assert.Nil(t, dto.ActualCloseDate)

		assert.Equal(t, domain.LifecycleStageSQL, e.contact(t, lead.ID).LifecycleStage)
		assert.Equal(t, domain.LifecycleStageCustomer, e.contact(t, customer.ID).LifecycleStage, "contacts never move backwards")

		history, err := e.opportunities.GetStageHistory(e.ctx, opp.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		require.NotNil(t, history[0].FromStageID)
		assert.Equal(t, p.Stages[0].ID, *history[0].FromStageID)

		assert.Equal(t, []string{service.EventOpportunityStageChanged}, e.trigger.names())
		assert.Equal(t, 1.0, promtest.ToFloat64(e.metrics.StageMoves.WithLabelValues("open")))
	})

	t.Run("moving into the won stage closes the opportunity", func(t *testing.T) {
		e := newEngine(t)
		p := e.pipeline(t, "Sales", true)
		opp := testutil.CreateOpportunity(t, e.db, p.Stages[1], "Deal", 200, daysAgo(3))
		contact := testutil.CreateContact(t, e.db, e.tenantID, "Ann", "Buyer", domain.LifecycleStageSQL)
		testutil.LinkContact(t, e.db, opp, contact, true)

		won := testutil.StageNamed(t, p, "Closed Won")
		dto, err := e.opportunities.MoveStage(e.ctx, opp.ID, &domain.MoveStageRequest{StageID: won.ID})
		require.NoError(t, err)

		assert.Equal(t, domain.OpportunityStatusWon, dto.Status)
		assert.Equal(t, 100, dto.Probability)
		require.NotNil(t, dto.ActualCloseDate)
		assert.Equal(t, domain.LifecycleStageCustomer, e.contact(t, contact.ID).LifecycleStage)
		assert.Equal(t, []string{service.EventOpportunityStageChanged, service.EventOpportunityWon}, e.trigger.names())

		trail, err := repository.NewAuditLogRepository(e.db).ListFor(e.ctx, domain.OpportunityRef(opp.ID))
		require.NoError(t, err)
		require.Len(t, trail, 1)
		assert.Equal(t, "CloseWon", trail[0].Action)

		_, err = e.opportunities.MoveStage(e.ctx, opp.ID, &domain.MoveStageRequest{StageID: p.Stages[0].ID})
		require.Error(t, err)
		assert.True(t, domain.IsCode(err, domain.CodeOpportunityAlreadyClosed))
	})

	t.Run("moving into the lost stage records a default reason", func(t *testing.T) {
		e := newEngine(t)
		p := e.pipeline(t, "Sales", true)
		opp := testutil.CreateOpportunity(t, e.db, p.Stages[0], "Deal", 200, daysAgo(3))

		lost := testutil.StageNamed(t, p, "Closed Lost")
		dto, err := e.opportunities.MoveStage(e.ctx, opp.ID, &domain.MoveStageRequest{StageID: lost.ID})
		require.NoError(t, err)
		assert.Equal(t, domain.OpportunityStatusLost, dto.Status)
		assert.Equal(t, "Moved to lost stage", dto.LossReason)
		assert.NotNil(t, dto.ActualCloseDate)
	})

	t.Run("stage from another pipeline", func(t *testing.T) {
		e := newEngine(t)
		p := e.pipeline(t, "Sales", true)
		other := e.pipeline(t, "Other", false)
		opp := testutil.CreateOpportunity(t, e.db, p.Stages[0], "Deal", 200, daysAgo(3))

		_, err := e.opportunities.MoveStage(e.ctx, opp.ID, &domain.MoveStageRequest{StageID: other.Stages[1].ID})
		require.Error(t, err)
		assert.True(t, domain.IsCode(err, domain.CodeInvalidStageTransition))

		stored := loadOpportunity(t, e, opp.ID)
		assert.Equal(t, p.Stages[0].ID, stored.StageID)
		assert.Empty(t, e.trigger.names())
	})

	t.Run("unknown opportunity", func(t *testing.T) {
		e := newEngine(t)
		_, err := e.opportunities.MoveStage(e.ctx, uuid.New(), &domain.MoveStageRequest{StageID: uuid.New()})
		require.Error(t, err)
		assert.True(t, domain.IsCode(err, domain.CodeOpportunityNotFound))
	})

	t.Run("a failing lifecycle sync rolls the whole move back", func(t *testing.T) {
		for _, stageName := range []string{"Proposal", "Closed Won"} {
			t.Run(stageName, func(t *testing.T) {
				e := newEngine(t)
				p := e.pipeline(t, "Sales", true)
				entered := daysAgo(4)
				opp := testutil.CreateOpportunity(t, e.db, p.Stages[0], "Deal", 200, entered)
				contact := testutil.CreateContact(t, e.db, e.tenantID, "Lea", "Lead", domain.LifecycleStageLead)
				testutil.LinkContact(t, e.db, opp, contact, true)

				historyBefore := e.count(t, &domain.StageHistory{})
				auditBefore := e.count(t, &domain.AuditLog{})
				require.NoError(t, e.db.Migrator().DropTable(&domain.Contact{}))

				target := testutil.StageNamed(t, p, stageName)
				_, err := e.opportunities.MoveStage(e.ctx, opp.ID, &domain.MoveStageRequest{StageID: target.ID})
				require.Error(t, err)

				stored := loadOpportunity(t, e, opp.ID)
				assert.Equal(t, p.Stages[0].ID, stored.StageID)
				assert.Equal(t, domain.OpportunityStatusOpen, stored.Status)
				assert.Equal(t, 10, stored.Probability)
				assert.True(t, entered.Equal(stored.StageEnteredAt), "stage entry time is untouched")
				assert.Nil(t, stored.ActualCloseDate)
				assert.Equal(t, historyBefore, e.count(t, &domain.StageHistory{}))
				assert.Equal(t, auditBefore, e.count(t, &domain.AuditLog{}))
				assert.Empty(t, e.trigger.names())
			})
		}
	})

	t.Run("a failing workflow trigger does not fail the move", func(t *testing.T) {
		e := newEngine(t)
		e.trigger.err = errors.New("workflow engine unavailable")
		p := e.pipeline(t, "Sales", true)
		opp := testutil.CreateOpportunity(t, e.db, p.Stages[0], "Deal", 200, daysAgo(3))

		_, err := e.opportunities.MoveStage(e.ctx, opp.ID, &domain.MoveStageRequest{StageID: p.Stages[1].ID})
		require.NoError(t, err)
		assert.Equal(t, p.Stages[1].ID, loadOpportunity(t, e, opp.ID).StageID)
		assert.Equal(t, 1.0, promtest.ToFloat64(
			e.metrics.WorkflowTriggers.WithLabelValues(service.EventOpportunityStageChanged, "failed")))
	})
}

func TestOpportunityService_Close(t *testing.T) {
	t.Run("lost requires a reason", func(t *testing.T) {
		e := newEngine(t)
		p := e.pipeline(t, "Sales", true)
		opp := testutil.CreateOpportunity(t, e.db, p.Stages[0], "Deal", 200, daysAgo(3))

		_, err := e.opportunities.Close(e.ctx, opp.ID, &domain.CloseOpportunityRequest{Status: domain.OpportunityStatusLost})
		require.Error(t, err)
		assert.True(t, domain.IsCode(err, domain.CodeLossReasonRequired))

		_, err = e.opportunities.Close(e.ctx, opp.ID, &domain.CloseOpportunityRequest{Status: domain.OpportunityStatusOpen})
		require.Error(t, err)
		assert.True(t, domain.IsCode(err, domain.CodeInvalidCloseStatus))
	})

	t.Run("closing as lost moves to the lost stage", func(t *testing.T) {
		e := newEngine(t)
		p := e.pipeline(t, "Sales", true)
		opp := testutil.CreateOpportunity(t, e.db, p.Stages[1], "Deal", 200, daysAgo(3))

		dto, err := e.opportunities.Close(e.ctx, opp.ID, &domain.CloseOpportunityRequest{
			Status:     domain.OpportunityStatusLost,
			LossReason: strPtr("Budget cut"),
		})
		require.NoError(t, err)
		assert.Equal(t, domain.OpportunityStatusLost, dto.Status)
		assert.Equal(t, testutil.StageNamed(t, p, "Closed Lost").ID, dto.StageID)
		assert.Equal(t, "Budget cut", dto.LossReason)
		assert.Equal(t, []string{service.EventOpportunityLost}, e.trigger.names())

		_, err = e.opportunities.Close(e.ctx, opp.ID, &domain.CloseOpportunityRequest{Status: domain.OpportunityStatusWon})
		assert.True(t, domain.IsCode(err, domain.CodeOpportunityAlreadyClosed))
	})

	t.Run("pipeline without a won stage keeps the current stage", func(t *testing.T) {
		e := newEngine(t)
		p := testutil.CreatePipeline(t, e.db, e.tenantID, "Simple", true, []testutil.StageSpec{
			{Name: "Open", Probability: 30, DaysToRot: 10},
		})
		opp := testutil.CreateOpportunity(t, e.db, p.Stages[0], "Deal", 200, daysAgo(3))
		closedAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

		dto, err := e.opportunities.Close(e.ctx, opp.ID, &domain.CloseOpportunityRequest{
			Status:          domain.OpportunityStatusWon,
			ActualCloseDate: &closedAt,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.OpportunityStatusWon, dto.Status)
		assert.Equal(t, p.Stages[0].ID, dto.StageID)
		require.NotNil(t, dto.ActualCloseDate)
		assert.Equal(t, "2026-03-01T00:00:00Z", *dto.ActualCloseDate)
	})
}

func TestOpportunityService_Board(t *testing.T) {
	e := newEngine(t)
	p := e.pipeline(t, "Sales", true)
	for i := 0; i < 3; i++ {
		testutil.CreateOpportunity(t, e.db, p.Stages[0], "Small", 100, daysAgo(i))
	}
	testutil.CreateOpportunity(t, e.db, p.Stages[0], "Stale", 50, daysAgo(45))
	testutil.CreateOpportunity(t, e.db, p.Stages[1], "Big", 1000, daysAgo(1))
	testutil.CreateOpportunity(t, e.db, testutil.StageNamed(t, p, "Closed Won"), "Done", 5000, daysAgo(1))

	board, err := e.opportunities.Board(e.ctx, nil, 2)
	require.NoError(t, err)
	require.Len(t, board.Columns, 5)

	first := board.Columns[0]
	assert.Equal(t, int64(4), first.Count, "counts cover every open opportunity")
	assert.InDelta(t, 350.0, first.TotalValue, 0.001)
	assert.Len(t, first.Opportunities, 2, "cards are limited per stage")

	assert.Equal(t, int64(1), board.Columns[1].Count)
	assert.Equal(t, int64(0), board.Columns[3].Count, "closed opportunities are not on the board")

	t.Run("take is clamped", func(t *testing.T) {
		board, err := e.opportunities.Board(e.ctx, &p.ID, 100000)
		require.NoError(t, err)
		assert.Len(t, board.Columns[0].Opportunities, 4)
		rotting := 0
		for _, card := range board.Columns[0].Opportunities {
			if card.IsRotting {
				rotting++
			}
		}
		assert.Equal(t, 1, rotting)

		board, err = e.opportunities.Board(e.ctx, &p.ID, -5)
		require.NoError(t, err)
		assert.Empty(t, board.Columns[0].Opportunities)
		assert.Equal(t, int64(4), board.Columns[0].Count)
	})
}

func TestOpportunityService_List(t *testing.T) {
	e := newEngine(t)
	p := e.pipeline(t, "Sales", true)
	testutil.CreateOpportunity(t, e.db, p.Stages[0], "Fresh", 100, daysAgo(1))
	stale := testutil.CreateOpportunity(t, e.db, p.Stages[0], "Stale", 100, daysAgo(31))

	rotting := true
	page, err := e.opportunities.List(e.ctx, 1, 20, &domain.OpportunityFilters{IsRotting: &rotting}, repository.SortConfig{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
	dtos := page.Data.([]domain.OpportunityDTO)
	require.Len(t, dtos, 1)
	assert.Equal(t, stale.ID, dtos[0].ID)
	assert.True(t, dtos[0].IsRotting)
	assert.Equal(t, 31, dtos[0].DaysInStage)

	all, err := e.opportunities.List(e.ctx, 1, 20, nil, repository.SortConfig{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), all.Total)
}

func TestOpportunityService_Contacts(t *testing.T) {
	e := newEngine(t)
	p := e.pipeline(t, "Sales", true)
	opp := testutil.CreateOpportunity(t, e.db, p.Stages[0], "Deal", 100, daysAgo(1))
	first := testutil.CreateContact(t, e.db, e.tenantID, "First", "Contact", domain.LifecycleStageLead)
	second := testutil.CreateContact(t, e.db, e.tenantID, "Second", "Contact", domain.LifecycleStageLead)

	dto, err := e.opportunities.AddContact(e.ctx, opp.ID, &domain.AddOpportunityContactRequest{ContactID: first.ID, IsPrimary: true})
	require.NoError(t, err)
	require.Len(t, dto.Contacts, 1)
	assert.Equal(t, "Stakeholder", dto.Contacts[0].Role)

	_, err = e.opportunities.AddContact(e.ctx, opp.ID, &domain.AddOpportunityContactRequest{ContactID: first.ID})
	assert.True(t, domain.IsCode(err, domain.CodeOpportunityContactExists))

	dto, err = e.opportunities.AddContact(e.ctx, opp.ID, &domain.AddOpportunityContactRequest{
		ContactID: second.ID, Role: "Champion", IsPrimary: true,
	})
	require.NoError(t, err)
	primaries := 0
	for _, c := range dto.Contacts {
		if c.IsPrimary {
			primaries++
			assert.Equal(t, second.ID, c.ContactID)
		}
	}
	assert.Equal(t, 1, primaries)

	require.NoError(t, e.opportunities.RemoveContact(e.ctx, opp.ID, first.ID))
	err = e.opportunities.RemoveContact(e.ctx, opp.ID, first.ID)
	assert.True(t, domain.IsCode(err, domain.CodeOpportunityContactAbsent))
}

func TestOpportunityService_RecordActivity(t *testing.T) {
	e := newEngine(t)
	p := e.pipeline(t, "Sales", true)
	opp := testutil.CreateOpportunity(t, e.db, p.Stages[0], "Deal", 100, daysAgo(5))

	recent := daysAgo(1)
	dto, err := e.opportunities.RecordActivity(e.ctx, opp.ID, &domain.RecordActivityRequest{OccurredAt: &recent})
	require.NoError(t, err)
	require.NotNil(t, dto.LastActivityAt)

	older := daysAgo(4)
	activityID := uuid.New()
	dto, err = e.opportunities.RecordActivity(e.ctx, opp.ID, &domain.RecordActivityRequest{
		OccurredAt: &older,
		ActivityID: &activityID,
	})
	require.NoError(t, err)
	require.NotNil(t, dto.LastActivityAt)
	assert.Equal(t, recent.Format("2006-01-02T15:04:05Z"), *dto.LastActivityAt, "last activity never moves backwards")

	assert.Equal(t, int64(1), e.count(t, &domain.ActivityLink{}))
}

func TestOpportunityService_Delete(t *testing.T) {
	e := newEngine(t)
	p := e.pipeline(t, "Sales", true)
	opp := testutil.CreateOpportunity(t, e.db, p.Stages[0], "Deal", 100, daysAgo(5))

	require.NoError(t, e.opportunities.Delete(e.ctx, opp.ID))

	_, err := e.opportunities.Get(e.ctx, opp.ID)
	assert.True(t, domain.IsCode(err, domain.CodeOpportunityNotFound))
	assert.NoError(t, e.pipelines.Delete(e.ctx, p.ID), "deleted opportunities no longer hold the pipeline")
}

func TestOpportunityService_Update(t *testing.T) {
	t.Run("edits fields without touching the stage", func(t *testing.T) {
		e := newEngine(t)
		p := e.pipeline(t, "Sales", true)
		account := testutil.CreateAccount(t, e.db, e.tenantID, "Acme")
		entered := daysAgo(6)
		opp := testutil.CreateOpportunity(t, e.db, p.Stages[0], "Deal", 100, entered)
		owner := uuid.New()
		amount := 900.0

		dto, err := e.opportunities.Update(e.ctx, opp.ID, &domain.UpdateOpportunityRequest{
			Name:       strPtr("  Bigger deal "),
			AccountID:  &account.ID,
			Amount:     &amount,
			Currency:   strPtr("eur"),
			AssignedTo: &owner,
			StageID:    &p.Stages[0].ID,
		})
		require.NoError(t, err)
		assert.Equal(t, "Bigger deal", dto.Name)
		assert.Equal(t, "EUR", dto.Currency)
		assert.InDelta(t, 900.0, dto.Amount, 0.001)
		require.NotNil(t, dto.AccountID)
		assert.Equal(t, account.ID, *dto.AccountID)
		require.NotNil(t, dto.AssignedTo)
		assert.Equal(t, owner, *dto.AssignedTo)
		assert.Equal(t, 6, dto.DaysInStage, "same stage keeps its entry time")
		assert.Equal(t, int64(0), e.count(t, &domain.StageHistory{}))

		trail, err := repository.NewAuditLogRepository(e.db).ListFor(e.ctx, domain.OpportunityRef(opp.ID))
		require.NoError(t, err)
		require.Len(t, trail, 1)
		assert.Equal(t, "Update", trail[0].Action)
		assert.Contains(t, trail[0].Payload, `"currency":"EUR"`)
		assert.NotContains(t, trail[0].Payload, "newStageId")
		assert.Equal(t, []string{service.EventOpportunityUpdated}, e.trigger.names())
	})

	t.Run("a new stage goes through the stage move path", func(t *testing.T) {
		e := newEngine(t)
		p := e.pipeline(t, "Sales", true)
		opp := testutil.CreateOpportunity(t, e.db, p.Stages[0], "Deal", 100, daysAgo(6))
		contact := testutil.CreateContact(t, e.db, e.tenantID, "Lea", "Lead", domain.LifecycleStageLead)
		testutil.LinkContact(t, e.db, opp, contact, true)

		negotiation := testutil.StageNamed(t, p, "Negotiation")
		dto, err := e.opportunities.Update(e.ctx, opp.ID, &domain.UpdateOpportunityRequest{StageID: &negotiation.ID})
		require.NoError(t, err)
		assert.Equal(t, negotiation.ID, dto.StageID)
		assert.Equal(t, 75, dto.Probability)
		assert.Equal(t, 0, dto.DaysInStage)
		assert.Equal(t, domain.OpportunityStatusOpen, dto.Status)
		assert.Equal(t, domain.LifecycleStageOpportunity, e.contact(t, contact.ID).LifecycleStage)

		history, err := e.opportunities.GetStageHistory(e.ctx, opp.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, negotiation.ID, history[0].ToStageID)

		trail, err := repository.NewAuditLogRepository(e.db).ListFor(e.ctx, domain.OpportunityRef(opp.ID))
		require.NoError(t, err)
		require.Len(t, trail, 1)
		assert.Equal(t, "Update", trail[0].Action)
		assert.Contains(t, trail[0].Payload, negotiation.ID.String())

		assert.Equal(t, []string{service.EventOpportunityUpdated, service.EventOpportunityStageChanged}, e.trigger.names())
		assert.Equal(t, 1.0, promtest.ToFloat64(e.metrics.StageMoves.WithLabelValues("open")))
	})

	t.Run("moving into the won stage closes it", func(t *testing.T) {
		e := newEngine(t)
		p := e.pipeline(t, "Sales", true)
		opp := testutil.CreateOpportunity(t, e.db, p.Stages[1], "Deal", 100, daysAgo(2))

		won := testutil.StageNamed(t, p, "Closed Won")
		dto, err := e.opportunities.Update(e.ctx, opp.ID, &domain.UpdateOpportunityRequest{StageID: &won.ID})
		require.NoError(t, err)
		assert.Equal(t, domain.OpportunityStatusWon, dto.Status)
		assert.NotNil(t, dto.ActualCloseDate)

		_, err = e.opportunities.Update(e.ctx, opp.ID, &domain.UpdateOpportunityRequest{Name: strPtr("Later")})
		require.Error(t, err)
		assert.True(t, domain.IsCode(err, domain.CodeOpportunityAlreadyClosed))
	})

	t.Run("a failing lifecycle sync rolls the edit back", func(t *testing.T) {
		e := newEngine(t)
		p := e.pipeline(t, "Sales", true)
		opp := testutil.CreateOpportunity(t, e.db, p.Stages[0], "Deal", 100, daysAgo(6))
		contact := testutil.CreateContact(t, e.db, e.tenantID, "Lea", "Lead", domain.LifecycleStageLead)
		testutil.LinkContact(t, e.db, opp, contact, true)
		require.NoError(t, e.db.Migrator().DropTable(&domain.Contact{}))

		proposal := testutil.StageNamed(t, p, "Proposal")
		_, err := e.opportunities.Update(e.ctx, opp.ID, &domain.UpdateOpportunityRequest{
			Name:    strPtr("Renamed"),
			StageID: &proposal.ID,
		})
		require.Error(t, err)

		stored := loadOpportunity(t, e, opp.ID)
		assert.Equal(t, "Deal", stored.Name)
		assert.Equal(t, p.Stages[0].ID, stored.StageID)
		assert.Equal(t, int64(0), e.count(t, &domain.StageHistory{}))
		assert.Equal(t, int64(0), e.count(t, &domain.AuditLog{}))
	})

	t.Run("invalid references", func(t *testing.T) {
		e := newEngine(t)
		p := e.pipeline(t, "Sales", true)
		other := e.pipeline(t, "Other", false)
		opp := testutil.CreateOpportunity(t, e.db, p.Stages[0], "Deal", 100, daysAgo(1))
		missing := uuid.New()

		_, err := e.opportunities.Update(e.ctx, opp.ID, &domain.UpdateOpportunityRequest{StageID: &other.Stages[1].ID})
		assert.True(t, domain.IsCode(err, domain.CodeInvalidStageTransition))

		_, err = e.opportunities.Update(e.ctx, opp.ID, &domain.UpdateOpportunityRequest{AccountID: &missing})
		assert.True(t, domain.IsCode(err, domain.CodeAccountNotFound))

		_, err = e.opportunities.Update(e.ctx, opp.ID, &domain.UpdateOpportunityRequest{Name: strPtr("  ")})
		assert.True(t, domain.IsCode(err, domain.CodeInvalidOpportunity))

		_, err = e.opportunities.Update(e.ctx, missing, &domain.UpdateOpportunityRequest{Name: strPtr("x")})
		assert.True(t, domain.IsCode(err, domain.CodeOpportunityNotFound))
	})

	t.Run("no changes writes nothing", func(t *testing.T) {
		e := newEngine(t)
		p := e.pipeline(t, "Sales", true)
		opp := testutil.CreateOpportunity(t, e.db, p.Stages[0], "Deal", 100, daysAgo(1))

		_, err := e.opportunities.Update(e.ctx, opp.ID, &domain.UpdateOpportunityRequest{Name: strPtr("Deal")})
		require.NoError(t, err)
		assert.Equal(t, int64(0), e.count(t, &domain.AuditLog{}))
		assert.Empty(t, e.trigger.names())
	})
}

func TestOpportunityService_BulkLifecycle(t *testing.T) {
	e := newEngine(t)
	p := e.pipeline(t, "Sales", true)
	first := testutil.CreateOpportunity(t, e.db, p.Stages[0], "First", 100, daysAgo(1))
	second := testutil.CreateOpportunity(t, e.db, p.Stages[1], "Second", 200, daysAgo(1))
	deleted := testutil.CreateOpportunity(t, e.db, p.Stages[1], "Deleted", 300, daysAgo(1))
	require.NoError(t, e.opportunities.Delete(e.ctx, deleted.ID))

	affected, err := e.opportunities.BulkArchive(e.ctx, []uuid.UUID{first.ID, second.ID, first.ID, deleted.ID, uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)
	assert.Equal(t, domain.LifecycleInactive, loadOpportunity(t, e, first.ID).Lifecycle)
	assert.Equal(t, domain.LifecycleDeleted, loadOpportunity(t, e, deleted.ID).Lifecycle)

	board, err := e.opportunities.Board(e.ctx, nil, service.DefaultTakePerStage)
	require.NoError(t, err)
	for _, column := range board.Columns {
		assert.Zero(t, column.Count, column.Name)
	}

	affected, err = e.opportunities.BulkRestore(e.ctx, []uuid.UUID{first.ID, deleted.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)
	assert.Equal(t, domain.LifecycleActive, loadOpportunity(t, e, first.ID).Lifecycle)
	assert.Equal(t, domain.LifecycleDeleted, loadOpportunity(t, e, deleted.ID).Lifecycle)

	audit := repository.NewAuditLogRepository(e.db)
	trail, err := audit.ListFor(e.ctx, domain.OpportunityRef(first.ID))
	require.NoError(t, err)
	actions := make([]string, 0, len(trail))
	for _, entry := range trail {
		actions = append(actions, entry.Action)
	}
	assert.ElementsMatch(t, []string{"Archive", "Restore"}, actions)

	t.Run("other tenants are untouched", func(t *testing.T) {
		otherTenant := uuid.New()
		foreign := testutil.CreateOpportunity(t, e.db,
			testutil.CreatePipeline(t, e.db, otherTenant, "Theirs", true, testutil.DefaultStages).Stages[0],
			"Theirs", 100, daysAgo(1))

		affected, err := e.opportunities.BulkArchive(e.ctx, []uuid.UUID{foreign.ID})
		require.NoError(t, err)
		assert.Zero(t, affected)
		assert.Equal(t, domain.LifecycleActive, loadOpportunity(t, e, foreign.ID).Lifecycle)
	})

	t.Run("empty and oversized batches", func(t *testing.T) {
		affected, err := e.opportunities.BulkArchive(e.ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, affected)

		ids := make([]uuid.UUID, service.MaxBulkIDs+1)
		for i := range ids {
			ids[i] = uuid.New()
		}
		_, err = e.opportunities.BulkArchive(e.ctx, ids)
		assert.True(t, domain.IsCode(err, domain.CodeInvalidOpportunity))
	})
}
