package service_test

import (
	"context"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/straye-as/pipeline-engine/internal/domain"
	"github.com/straye-as/pipeline-engine/internal/service"
	"github.com/straye-as/pipeline-engine/internal/testutil"
)

func TestRottingSweeper_Sweep(t *testing.T) {
	e := newEngine(t)
	p := e.pipeline(t, "Sales", true)
	stale := testutil.CreateOpportunity(t, e.db, p.Stages[0], "Stale", 100, daysAgo(31))
	testutil.CreateOpportunity(t, e.db, p.Stages[0], "Fresh", 100, daysAgo(2))
	testutil.CreateOpportunity(t, e.db, p.Stages[2], "Stuck", 100, daysAgo(8))
	testutil.CreateOpportunity(t, e.db, testutil.StageNamed(t, p, "Closed Won"), "Won", 100, daysAgo(400))

	// The sweep runs without a request context and covers every tenant
	ctx := context.Background()

	rotting, notified, err := e.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rotting)
	assert.Equal(t, 2, notified)
	assert.Equal(t, []string{service.EventOpportunityRotting, service.EventOpportunityRotting}, e.trigger.names())
	assert.Equal(t, 2.0, promtest.ToFloat64(e.metrics.RottingOpportunities.WithLabelValues(p.ID.String())))

	t.Run("already notified opportunities are not notified again", func(t *testing.T) {
		rotting, notified, err := e.sweeper.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, rotting)
		assert.Equal(t, 0, notified)
		assert.Len(t, e.trigger.names(), 2)
	})

	t.Run("a stage change re-arms the notice", func(t *testing.T) {
		_, err := e.opportunities.MoveStage(e.ctx, stale.ID, &domain.MoveStageRequest{StageID: p.Stages[1].ID})
		require.NoError(t, err)

		rotting, notified, err := e.sweeper.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, rotting)
		assert.Equal(t, 0, notified)
		assert.Equal(t, 1.0, promtest.ToFloat64(e.metrics.RottingOpportunities.WithLabelValues(p.ID.String())))

		var reloaded domain.Opportunity
		require.NoError(t, e.db.First(&reloaded, "id = ?", stale.ID).Error)
		assert.Nil(t, reloaded.RottingNotifiedAt)
	})
}
