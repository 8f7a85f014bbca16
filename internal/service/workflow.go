package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/pipeline-engine/internal/domain"
	"github.com/straye-as/pipeline-engine/internal/metrics"
	"go.uber.org/zap"
)

// Workflow event names
const (
	EventOpportunityCreated      = "opportunity.created"
	EventOpportunityUpdated      = "opportunity.updated"
	EventOpportunityStageChanged = "opportunity.stage_changed"
	EventOpportunityWon          = "opportunity.won"
	EventOpportunityLost         = "opportunity.lost"
	EventOpportunityRotting      = "opportunity.rotting"
	EventLeadStatusChanged       = "lead.status_changed"
	EventLeadConverted           = "lead.converted"
)

// WorkflowTrigger hands an event to the workflow engine. Implementations may be slow or fail;
// callers treat failures as advisory.
type WorkflowTrigger interface {
	Trigger(ctx context.Context, ref domain.EntityRef, eventName string, payload interface{}) error
}

// PipelineCache caches the default pipeline of a tenant
type PipelineCache interface {
	GetDefault(ctx context.Context, tenantID uuid.UUID) (*domain.Pipeline, bool, error)
	SetDefault(ctx context.Context, tenantID uuid.UUID, pipeline *domain.Pipeline) error
	Invalidate(ctx context.Context, tenantID uuid.UUID) error
}

// Clock returns the current time
type Clock func() time.Time

// UTCNow is the production clock
func UTCNow() time.Time {
	return time.Now().UTC()
}

type pendingEvent struct {
	ref     domain.EntityRef
	name    string
	payload interface{}
}

// notifier fires workflow events after a transaction has committed
type notifier struct {
	trigger WorkflowTrigger
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func (n *notifier) fire(ctx context.Context, events ...pendingEvent) {
	if n.trigger == nil {
		return
	}
	for _, ev := range events {
		err := n.trigger.Trigger(ctx, ev.ref, ev.name, ev.payload)
		if err != nil {
			n.logger.Warn("workflow trigger failed",
				zap.String("event", ev.name),
				zap.String("entity_type", string(ev.ref.Type)),
				zap.String("entity_id", ev.ref.ID.String()),
				zap.Error(err))
			n.metrics.RecordWorkflowTrigger(ev.name, "failed")
			continue
		}
		n.metrics.RecordWorkflowTrigger(ev.name, "ok")
	}
}
