package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/straye-as/pipeline-engine/internal/domain"
	"github.com/straye-as/pipeline-engine/internal/repository"
)

// LifecycleStageForStage maps a pipeline stage to the contact lifecycle stage it implies
func LifecycleStageForStage(stage *domain.PipelineStage) domain.LifecycleStage {
	p := stage.ProbabilityPercent
	switch {
	case stage.IsWonStage || p > 80:
		return domain.LifecycleStageCustomer
	case p <= 20:
		return domain.LifecycleStageLead
	case p <= 40:
		return domain.LifecycleStageMQL
	case p <= 60:
		return domain.LifecycleStageSQL
	default:
		return domain.LifecycleStageOpportunity
	}
}

// LifecycleSynchronizer advances the lifecycle stage of contacts linked to an opportunity.
// Contacts only ever move forward in the funnel.
type LifecycleSynchronizer struct{}

// SyncOnStageChange advances linked contacts to the stage implied by target.
// It runs inside the caller's transaction and returns the number of contacts changed.
func (LifecycleSynchronizer) SyncOnStageChange(ctx context.Context, tx *repository.Tx, opportunityID uuid.UUID, target *domain.PipelineStage) (int, error) {
	return advanceContacts(ctx, tx, opportunityID, LifecycleStageForStage(target))
}

// SyncOnWon moves linked contacts straight to customer
func (LifecycleSynchronizer) SyncOnWon(ctx context.Context, tx *repository.Tx, opportunityID uuid.UUID) (int, error) {
	return advanceContacts(ctx, tx, opportunityID, domain.LifecycleStageCustomer)
}

func advanceContacts(ctx context.Context, tx *repository.Tx, opportunityID uuid.UUID, target domain.LifecycleStage) (int, error) {
	ids, err := tx.OpportunityContacts.ContactIDs(ctx, opportunityID)
	if err != nil {
		return 0, fmt.Errorf("failed to load linked contacts: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	contacts, err := tx.Contacts.ListByIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to load contacts: %w", err)
	}

	behind := make([]uuid.UUID, 0, len(contacts))
	for i := range contacts {
		if contacts[i].LifecycleStage.Precedes(target) {
			behind = append(behind, contacts[i].ID)
		}
	}
	if len(behind) == 0 {
		return 0, nil
	}

	if err := tx.Contacts.SetLifecycleStage(ctx, behind, target); err != nil {
		return 0, fmt.Errorf("failed to update contact lifecycle: %w", err)
	}
	return len(behind), nil
}
