package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BaseModel contains common fields for all tenant-owned records
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	TenantID  uuid.UUID `gorm:"type:uuid;not null;index;column:tenant_id"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate assigns an ID when the caller has not set one
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// Lifecycle replaces independent active/deleted flags with one state
type Lifecycle string

const (
	LifecycleActive   Lifecycle = "active"
	LifecycleInactive Lifecycle = "inactive"
	LifecycleDeleted  Lifecycle = "deleted"
)

func (l Lifecycle) IsValid() bool {
	switch l {
	case LifecycleActive, LifecycleInactive, LifecycleDeleted:
		return true
	}
	return false
}

// Pipeline is a named, ordered collection of stages
type Pipeline struct {
	BaseModel
	Name        string          `gorm:"type:varchar(200);not null"`
	Description string          `gorm:"type:text"`
	IsDefault   bool            `gorm:"not null;default:false;column:is_default"`
	Lifecycle   Lifecycle       `gorm:"type:varchar(20);not null;default:'active';index"`
	Stages      []PipelineStage `gorm:"foreignKey:PipelineID"`
}

// PipelineStage is one step of a pipeline
type PipelineStage struct {
	BaseModel
	PipelineID         uuid.UUID `gorm:"type:uuid;not null;index;column:pipeline_id"`
	Name               string    `gorm:"type:varchar(200);not null"`
	DisplayOrder       int       `gorm:"type:int;not null;column:display_order"`
	ProbabilityPercent int       `gorm:"type:int;not null;default:0;column:probability_percent"`
	// DefaultDaysToRot of 0 disables rotting for the stage
	DefaultDaysToRot int       `gorm:"type:int;not null;default:0;column:default_days_to_rot"`
	IsWonStage       bool      `gorm:"not null;default:false;column:is_won_stage"`
	IsLostStage      bool      `gorm:"not null;default:false;column:is_lost_stage"`
	Lifecycle        Lifecycle `gorm:"type:varchar(20);not null;default:'active'"`
}

// IsTerminal reports whether the stage closes the opportunity
func (s *PipelineStage) IsTerminal() bool {
	return s.IsWonStage || s.IsLostStage
}

// OpportunityStatus represents the open/closed state of an opportunity
type OpportunityStatus string

const (
	OpportunityStatusOpen OpportunityStatus = "open"
	OpportunityStatusWon  OpportunityStatus = "won"
	OpportunityStatusLost OpportunityStatus = "lost"
)

func (s OpportunityStatus) IsValid() bool {
	switch s {
	case OpportunityStatusOpen, OpportunityStatusWon, OpportunityStatusLost:
		return true
	}
	return false
}

// StatusForStage derives the opportunity status implied by a stage
func StatusForStage(stage *PipelineStage) OpportunityStatus {
	switch {
	case stage.IsWonStage:
		return OpportunityStatusWon
	case stage.IsLostStage:
		return OpportunityStatusLost
	default:
		return OpportunityStatusOpen
	}
}

// Opportunity is a potential sale progressing through a pipeline
type Opportunity struct {
	BaseModel
	Name              string            `gorm:"type:varchar(200);not null"`
	Description       string            `gorm:"type:text"`
	PipelineID        uuid.UUID         `gorm:"type:uuid;not null;index;column:pipeline_id"`
	StageID           uuid.UUID         `gorm:"type:uuid;not null;index;column:stage_id"`
	Stage             *PipelineStage    `gorm:"foreignKey:StageID"`
	Status            OpportunityStatus `gorm:"type:varchar(20);not null;default:'open';index"`
	Amount            float64           `gorm:"type:decimal(15,2);not null;default:0"`
	Currency          string            `gorm:"type:varchar(3);not null"`
	Probability       int               `gorm:"type:int;not null;default:0"`
	StageEnteredAt    time.Time         `gorm:"not null;column:stage_entered_at"`
	LastActivityAt    *time.Time        `gorm:"column:last_activity_at"`
	ExpectedCloseDate *time.Time        `gorm:"column:expected_close_date"`
	ActualCloseDate   *time.Time        `gorm:"column:actual_close_date"`
	LossReason        string            `gorm:"type:varchar(500);column:loss_reason"`
	AccountID         *uuid.UUID        `gorm:"type:uuid;index;column:account_id"`
	AssignedTo        *uuid.UUID        `gorm:"type:uuid;column:assigned_to"`
	// RottingNotifiedAt is set by the rotting sweep and cleared on every stage change
	RottingNotifiedAt *time.Time           `gorm:"column:rotting_notified_at"`
	Lifecycle         Lifecycle            `gorm:"type:varchar(20);not null;default:'active';index"`
	Contacts          []OpportunityContact `gorm:"foreignKey:OpportunityID"`
}

// OpportunityContact links a contact to an opportunity with a role
type OpportunityContact struct {
	BaseModel
	OpportunityID uuid.UUID `gorm:"type:uuid;not null;index;column:opportunity_id"`
	ContactID     uuid.UUID `gorm:"type:uuid;not null;index;column:contact_id"`
	Contact       *Contact  `gorm:"foreignKey:ContactID"`
	Role          string    `gorm:"type:varchar(100)"`
	IsPrimary     bool      `gorm:"not null;default:false;column:is_primary"`
}

// Account is a company or organization
type Account struct {
	BaseModel
	Name        string     `gorm:"type:varchar(200);not null"`
	Phone       string     `gorm:"type:varchar(50)"`
	Email       string     `gorm:"type:varchar(255)"`
	Address     string     `gorm:"type:varchar(500)"`
	City        string     `gorm:"type:varchar(100)"`
	State       string     `gorm:"type:varchar(100)"`
	Country     string     `gorm:"type:varchar(100)"`
	PostalCode  string     `gorm:"type:varchar(20);column:postal_code"`
	Description string     `gorm:"type:text"`
	AssignedTo  *uuid.UUID `gorm:"type:uuid;column:assigned_to"`
	Lifecycle   Lifecycle  `gorm:"type:varchar(20);not null;default:'active'"`
}

// Contact is a person, optionally belonging to an account
type Contact struct {
	BaseModel
	AccountID      *uuid.UUID     `gorm:"type:uuid;index;column:account_id"`
	FirstName      string         `gorm:"type:varchar(100);column:first_name"`
	LastName       string         `gorm:"type:varchar(100);column:last_name"`
	Email          string         `gorm:"type:varchar(255)"`
	Phone          string         `gorm:"type:varchar(50)"`
	Mobile         string         `gorm:"type:varchar(50)"`
	JobTitle       string         `gorm:"type:varchar(200);column:job_title"`
	Address        string         `gorm:"type:varchar(500)"`
	City           string         `gorm:"type:varchar(100)"`
	State          string         `gorm:"type:varchar(100)"`
	Country        string         `gorm:"type:varchar(100)"`
	PostalCode     string         `gorm:"type:varchar(20);column:postal_code"`
	Notes          string         `gorm:"type:text"`
	LifecycleStage LifecycleStage `gorm:"type:varchar(20);not null;default:'subscriber';column:lifecycle_stage"`
	AssignedTo     *uuid.UUID     `gorm:"type:uuid;column:assigned_to"`
	Lifecycle      Lifecycle      `gorm:"type:varchar(20);not null;default:'active'"`
}

// FullName returns "first last" trimmed
func (c *Contact) FullName() string {
	return joinName(c.FirstName, c.LastName)
}

// LeadStatus represents where a lead is in qualification
type LeadStatus string

const (
	LeadStatusNew          LeadStatus = "new"
	LeadStatusContacted    LeadStatus = "contacted"
	LeadStatusQualified    LeadStatus = "qualified"
	LeadStatusConverted    LeadStatus = "converted"
	LeadStatusDisqualified LeadStatus = "disqualified"
)

func (s LeadStatus) IsValid() bool {
	switch s {
	case LeadStatusNew, LeadStatusContacted, LeadStatusQualified, LeadStatusConverted, LeadStatusDisqualified:
		return true
	}
	return false
}

// Lead is an unqualified prospect captured from forms, imports or manual entry
type Lead struct {
	BaseModel
	FirstName              string     `gorm:"type:varchar(100);column:first_name"`
	LastName               string     `gorm:"type:varchar(100);column:last_name"`
	Email                  string     `gorm:"type:varchar(255)"`
	Phone                  string     `gorm:"type:varchar(50)"`
	CompanyName            string     `gorm:"type:varchar(200);column:company_name"`
	JobTitle               string     `gorm:"type:varchar(200);column:job_title"`
	Address                string     `gorm:"type:varchar(500)"`
	City                   string     `gorm:"type:varchar(100)"`
	State                  string     `gorm:"type:varchar(100)"`
	Country                string     `gorm:"type:varchar(100)"`
	PostalCode             string     `gorm:"type:varchar(20);column:postal_code"`
	Notes                  string     `gorm:"type:text"`
	Source                 string     `gorm:"type:varchar(100)"`
	Status                 LeadStatus `gorm:"type:varchar(20);not null;default:'new';index"`
	Score                  int        `gorm:"type:int;not null;default:0"`
	AssignedTo             *uuid.UUID `gorm:"type:uuid;column:assigned_to"`
	ConvertedAccountID     *uuid.UUID `gorm:"type:uuid;column:converted_account_id"`
	ConvertedContactID     *uuid.UUID `gorm:"type:uuid;column:converted_contact_id"`
	ConvertedOpportunityID *uuid.UUID `gorm:"type:uuid;column:converted_opportunity_id"`
	ConvertedAt            *time.Time `gorm:"column:converted_at"`
	Lifecycle              Lifecycle  `gorm:"type:varchar(20);not null;default:'active'"`
}

// FullName returns "first last" trimmed
func (l *Lead) FullName() string {
	return joinName(l.FirstName, l.LastName)
}

// IsConverted reports whether the lead has already been converted
func (l *Lead) IsConverted() bool {
	return l.ConvertedAt != nil || l.Status == LeadStatusConverted
}

// ActivityLink associates an activity with an entity addressed by (type, id)
type ActivityLink struct {
	BaseModel
	ActivityID uuid.UUID  `gorm:"type:uuid;not null;index;column:activity_id"`
	EntityType EntityType `gorm:"type:varchar(20);not null;index:idx_activity_links_entity;column:entity_type"`
	EntityID   uuid.UUID  `gorm:"type:uuid;not null;index:idx_activity_links_entity;column:entity_id"`
}

// Target returns the entity the link points at
func (a *ActivityLink) Target() EntityRef {
	return EntityRef{Type: a.EntityType, ID: a.EntityID}
}

// StageHistory records every stage change of an opportunity
type StageHistory struct {
	BaseModel
	OpportunityID uuid.UUID         `gorm:"type:uuid;not null;index;column:opportunity_id"`
	FromStageID   *uuid.UUID        `gorm:"type:uuid;column:from_stage_id"`
	ToStageID     uuid.UUID         `gorm:"type:uuid;not null;column:to_stage_id"`
	Status        OpportunityStatus `gorm:"type:varchar(20);not null"`
	ChangedByID   *uuid.UUID        `gorm:"type:uuid;column:changed_by_id"`
	Note          string            `gorm:"type:text"`
	ChangedAt     time.Time         `gorm:"not null;column:changed_at"`
}

// TableName overrides the default table name to match the migration
func (StageHistory) TableName() string {
	return "opportunity_stage_history"
}

// AuditLog is an append-only record of an engine action
type AuditLog struct {
	BaseModel
	EntityType  EntityType `gorm:"type:varchar(20);not null;index:idx_audit_logs_entity;column:entity_type"`
	EntityID    uuid.UUID  `gorm:"type:uuid;not null;index:idx_audit_logs_entity;column:entity_id"`
	Action      string     `gorm:"type:varchar(50);not null"`
	Payload     string     `gorm:"type:text"`
	ActorID     *uuid.UUID `gorm:"type:uuid;column:actor_id"`
	PerformedAt time.Time  `gorm:"not null;column:performed_at"`
}
