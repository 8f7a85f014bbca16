package domain

import (
	"strings"

	"github.com/google/uuid"
)

// EntityType identifies the kind of record an activity link or audit entry points at
type EntityType string

const (
	EntityTypeLead        EntityType = "lead"
	EntityTypeContact     EntityType = "contact"
	EntityTypeAccount     EntityType = "account"
	EntityTypeOpportunity EntityType = "opportunity"
	EntityTypePipeline    EntityType = "pipeline"
)

// IsValid reports whether the type can be the target of an activity link
func (t EntityType) IsValid() bool {
	switch t {
	case EntityTypeLead, EntityTypeContact, EntityTypeAccount, EntityTypeOpportunity:
		return true
	}
	return false
}

// EntityRef addresses one record by (type, id)
type EntityRef struct {
	Type EntityType
	ID   uuid.UUID
}

func LeadRef(id uuid.UUID) EntityRef        { return EntityRef{Type: EntityTypeLead, ID: id} }
func ContactRef(id uuid.UUID) EntityRef     { return EntityRef{Type: EntityTypeContact, ID: id} }
func AccountRef(id uuid.UUID) EntityRef     { return EntityRef{Type: EntityTypeAccount, ID: id} }
func OpportunityRef(id uuid.UUID) EntityRef { return EntityRef{Type: EntityTypeOpportunity, ID: id} }

// LifecycleStage is the ordered funnel classification of a contact
type LifecycleStage string

const (
	LifecycleStageSubscriber  LifecycleStage = "subscriber"
	LifecycleStageLead        LifecycleStage = "lead"
	LifecycleStageMQL         LifecycleStage = "mql"
	LifecycleStageSQL         LifecycleStage = "sql"
	LifecycleStageOpportunity LifecycleStage = "opportunity"
	LifecycleStageCustomer    LifecycleStage = "customer"
)

var lifecycleOrder = []LifecycleStage{
	LifecycleStageSubscriber,
	LifecycleStageLead,
	LifecycleStageMQL,
	LifecycleStageSQL,
	LifecycleStageOpportunity,
	LifecycleStageCustomer,
}

// Index returns the position of the stage in the funnel, or -1 when unknown
func (s LifecycleStage) Index() int {
	for i, stage := range lifecycleOrder {
		if stage == s {
			return i
		}
	}
	return -1
}

func (s LifecycleStage) IsValid() bool {
	return s.Index() >= 0
}

// Precedes reports whether s comes strictly before other in the funnel
func (s LifecycleStage) Precedes(other LifecycleStage) bool {
	return s.Index() < other.Index()
}

func joinName(first, last string) string {
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}

// UserRoleType is a role carried in the authenticated user context
type UserRoleType string

const (
	RoleAdmin      UserRoleType = "admin"
	RoleSalesRep   UserRoleType = "sales_rep"
	RoleAPIService UserRoleType = "api_service"
)
