package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/straye-as/pipeline-engine/internal/domain"
	"github.com/straye-as/pipeline-engine/internal/metrics"
	"github.com/straye-as/pipeline-engine/internal/phone"
	"github.com/straye-as/pipeline-engine/internal/repository"
	"github.com/straye-as/pipeline-engine/internal/service"
	"github.com/straye-as/pipeline-engine/internal/testutil"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return now }

func daysAgo(n int) time.Time {
	return now.Add(-time.Duration(n) * 24 * time.Hour)
}

type firedEvent struct {
	Ref  domain.EntityRef
	Name string
}

// recordingTrigger captures workflow events and can be told to fail
type recordingTrigger struct {
	mu     sync.Mutex
	events []firedEvent
	err    error
}

func (r *recordingTrigger) Trigger(_ context.Context, ref domain.EntityRef, eventName string, _ interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, firedEvent{Ref: ref, Name: eventName})
	return r.err
}

func (r *recordingTrigger) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.events))
	for i, e := range r.events {
		names[i] = e.Name
	}
	return names
}

type engine struct {
	db            *gorm.DB
	tenantID      uuid.UUID
	ctx           context.Context
	trigger       *recordingTrigger
	metrics       *metrics.Metrics
	pipelines     *service.PipelineService
	opportunities *service.OpportunityService
	leads         *service.LeadService
	conversion    *service.LeadConversionService
	sweeper       *service.RottingSweeper
}

func newEngine(t *testing.T) *engine {
	t.Helper()

	db := testutil.SetupTestDB(t)
	tenantID := uuid.New()
	logger := zap.NewNop()
	trigger := &recordingTrigger{}
	m := metrics.New("pipeline_engine_test")
	uow := repository.NewUnitOfWork(db)

	pipelines := service.NewPipelineService(uow, nil, logger, fixedClock)
	return &engine{
		db:            db,
		tenantID:      tenantID,
		ctx:           testutil.TenantContext(tenantID),
		trigger:       trigger,
		metrics:       m,
		pipelines:     pipelines,
		opportunities: service.NewOpportunityService(uow, pipelines, trigger, m, logger, fixedClock, "USD"),
		leads:         service.NewLeadService(uow, trigger, m, logger, fixedClock),
		conversion: service.NewLeadConversionService(uow, phone.NewNormalizer("US"), []string{"qualified"},
			"USD", trigger, m, logger, fixedClock),
		sweeper: service.NewRottingSweeper(uow, trigger, m, logger, fixedClock),
	}
}

func (e *engine) pipeline(t *testing.T, name string, isDefault bool) *domain.Pipeline {
	t.Helper()
	return testutil.CreatePipeline(t, e.db, e.tenantID, name, isDefault, testutil.DefaultStages)
}

func (e *engine) count(t *testing.T, model interface{}) int64 {
	t.Helper()
	var n int64
	if err := e.db.Model(model).Where("tenant_id = ?", e.tenantID).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func (e *engine) contact(t *testing.T, id uuid.UUID) *domain.Contact {
	t.Helper()
	var c domain.Contact
	if err := e.db.First(&c, "id = ?", id).Error; err != nil {
		t.Fatalf("load contact: %v", err)
	}
	return &c
}

func strPtr(s string) *string { return &s }
