package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/straye-as/pipeline-engine/internal/metrics"
)

func TestMetrics_RecordsAndExposes(t *testing.T) {
	m := metrics.New("pipeline_engine")

	m.RecordStageMove("won")
	m.RecordStageMove("won")
	m.RecordConversion("success")
	m.SetRotting("p1", 4)

	assert.Equal(t, 2.0, promtest.ToFloat64(m.StageMoves.WithLabelValues("won")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.LeadConversions.WithLabelValues("success")))
	assert.Equal(t, 4.0, promtest.ToFloat64(m.RottingOpportunities.WithLabelValues("p1")))

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "pipeline_engine_opportunity_stage_moves_total")
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.RecordStageMove("open")
		m.RecordClose("lost")
		m.RecordConversion("failed")
		m.RecordWorkflowTrigger("lead.converted", "ok")
		m.SetRotting("p", 1)
		m.ObserveRottingSweep(0.1)
		m.RecordHTTPRequest("GET", "/", "200", 0.01)
	})
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		metrics.New("a")
		metrics.New("a")
	})
}
