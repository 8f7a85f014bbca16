package service_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/straye-as/pipeline-engine/internal/domain"
	"github.com/straye-as/pipeline-engine/internal/repository"
	"github.com/straye-as/pipeline-engine/internal/service"
	"github.com/straye-as/pipeline-engine/internal/testutil"
)

func TestIsRotting(t *testing.T) {
	open30 := &domain.PipelineStage{ProbabilityPercent: 10, DefaultDaysToRot: 30}
	never := &domain.PipelineStage{ProbabilityPercent: 10, DefaultDaysToRot: 0}
	won := &domain.PipelineStage{ProbabilityPercent: 100, DefaultDaysToRot: 30, IsWonStage: true}
	lost := &domain.PipelineStage{DefaultDaysToRot: 30, IsLostStage: true}

	recent := daysAgo(2)
	stale := daysAgo(40)

	tests := []struct {
		name         string
		stage        *domain.PipelineStage
		enteredAt    time.Time
		lastActivity *time.Time
		want         bool
	}{
		{"31 days in stage without activity", open30, daysAgo(31), nil, true},
		{"29 days in stage without activity", open30, daysAgo(29), nil, false},
		{"exactly the threshold is not rotting", open30, daysAgo(30), nil, false},
		{"long in stage despite recent activity", open30, daysAgo(31), &recent, true},
		{"recent entry but stale activity", open30, daysAgo(3), &stale, true},
		{"recent entry and recent activity", open30, daysAgo(3), &recent, false},
		{"threshold zero never rots", never, daysAgo(1000), &stale, false},
		{"won stage never rots", won, daysAgo(1000), nil, false},
		{"lost stage never rots", lost, daysAgo(1000), &stale, false},
		{"nil stage never rots", nil, daysAgo(1000), nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, service.IsRotting(tt.stage, tt.enteredAt, tt.lastActivity, now))
		})
	}
}

func TestIsRotting_PartialDaysTruncate(t *testing.T) {
	stage := &domain.PipelineStage{DefaultDaysToRot: 30}
	almost := now.Add(-(31*24*time.Hour - time.Minute))
	assert.False(t, service.IsRotting(stage, almost, nil, now), "30 days and 23h59m is 30 whole days")
	assert.True(t, service.IsRotting(stage, now.Add(-31*24*time.Hour), nil, now))
}

func TestDaysInStage(t *testing.T) {
	assert.Equal(t, 0, service.DaysInStage(now, now))
	assert.Equal(t, 0, service.DaysInStage(now.Add(time.Hour), now), "future entry clamps to zero")
	assert.Equal(t, 6, service.DaysInStage(daysAgo(6).Add(-time.Hour), now))
}

// The SQL predicate used by lists, the board and the sweep must agree with the in-process check
func TestRottingPredicateAgreesWithIsRotting(t *testing.T) {
	db := testutil.SetupTestDB(t)
	tenantID := uuid.New()
	ctx := testutil.TenantContext(tenantID)
	pipeline := testutil.CreatePipeline(t, db, tenantID, "Sales", true, []testutil.StageSpec{
		{Name: "Lead In", Probability: 10, DaysToRot: 30},
		{Name: "Demo", Probability: 40, DaysToRot: 7},
		{Name: "Parked", Probability: 20, DaysToRot: 0},
		{Name: "Won", Probability: 100, DaysToRot: 5, Won: true},
	})

	var opps []*domain.Opportunity
	for _, stage := range pipeline.Stages {
		for _, age := range []int{0, 5, 6, 7, 8, 29, 30, 31, 90} {
			opp := testutil.CreateOpportunity(t, db, stage, stage.Name, 10, daysAgo(age))
			opps = append(opps, opp)
		}
		for _, activityAge := range []int{1, 8, 31} {
			opp := testutil.CreateOpportunity(t, db, stage, stage.Name+" active", 10, daysAgo(1))
			at := daysAgo(activityAge)
			require.NoError(t, db.Model(opp).Update("last_activity_at", at).Error)
			opp.LastActivityAt = &at
			opps = append(opps, opp)
		}
	}

	stages, err := repository.NewPipelineRepository(db).ListRottableStages(ctx, &pipeline.ID)
	require.NoError(t, err)
	found, err := repository.NewOpportunityRepository(db).FindRottingCandidates(ctx, stages, now, false)
	require.NoError(t, err)

	inSQL := make(map[uuid.UUID]bool, len(found))
	for _, o := range found {
		inSQL[o.ID] = true
	}

	stageByID := make(map[uuid.UUID]*domain.PipelineStage)
	for i := range pipeline.Stages {
		stageByID[pipeline.Stages[i].ID] = &pipeline.Stages[i]
	}
	for _, opp := range opps {
		want := opp.Status == domain.OpportunityStatusOpen &&
			service.IsRotting(stageByID[opp.StageID], opp.StageEnteredAt, opp.LastActivityAt, now)
		assert.Equal(t, want, inSQL[opp.ID], "opportunity %s entered %s", opp.Name, opp.StageEnteredAt)
	}
}
