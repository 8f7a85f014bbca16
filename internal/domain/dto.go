package domain

import (
	"time"

	"github.com/google/uuid"
)

// Pagination response wrapper
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	PageSize   int         `json:"pageSize"`
	TotalPages int         `json:"totalPages"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// Pipeline DTOs

type PipelineStageDTO struct {
	ID                 uuid.UUID `json:"id"`
	Name               string    `json:"name"`
	DisplayOrder       int       `json:"displayOrder"`
	ProbabilityPercent int       `json:"probabilityPercent"`
	DefaultDaysToRot   int       `json:"defaultDaysToRot"`
	IsWonStage         bool      `json:"isWonStage"`
	IsLostStage        bool      `json:"isLostStage"`
}

type PipelineDTO struct {
	ID               uuid.UUID          `json:"id"`
	Name             string             `json:"name"`
	Description      string             `json:"description,omitempty"`
	IsDefault        bool               `json:"isDefault"`
	Stages           []PipelineStageDTO `json:"stages,omitempty"`
	StageCount       int                `json:"stageCount"`
	OpportunityCount int64              `json:"opportunityCount"`
	CreatedAt        string             `json:"createdAt"` // ISO 8601
	UpdatedAt        string             `json:"updatedAt"` // ISO 8601
}

// PipelineStageInput describes one stage in a create or update request
type PipelineStageInput struct {
	Name               string `json:"name" validate:"required,max=200"`
	DisplayOrder       int    `json:"displayOrder" validate:"gte=1"`
	ProbabilityPercent int    `json:"probabilityPercent" validate:"gte=0,lte=100"`
	DefaultDaysToRot   int    `json:"defaultDaysToRot" validate:"gte=0"`
	IsWonStage         bool   `json:"isWonStage"`
	IsLostStage        bool   `json:"isLostStage"`
}

type CreatePipelineRequest struct {
	Name        string               `json:"name" validate:"required,max=200"`
	Description string               `json:"description,omitempty" validate:"max=2000"`
	IsDefault   bool                 `json:"isDefault"`
	Stages      []PipelineStageInput `json:"stages" validate:"required,min=1,dive"`
}

type UpdatePipelineRequest struct {
	Name        string               `json:"name" validate:"required,max=200"`
	Description string               `json:"description,omitempty" validate:"max=2000"`
	IsDefault   bool                 `json:"isDefault"`
	Stages      []PipelineStageInput `json:"stages" validate:"required,min=1,dive"`
}

// Opportunity DTOs

type OpportunityContactDTO struct {
	ContactID      uuid.UUID      `json:"contactId"`
	FullName       string         `json:"fullName"`
	Email          string         `json:"email,omitempty"`
	Role           string         `json:"role"`
	IsPrimary      bool           `json:"isPrimary"`
	LifecycleStage LifecycleStage `json:"lifecycleStage"`
}

type OpportunityDTO struct {
	ID                uuid.UUID               `json:"id"`
	Name              string                  `json:"name"`
	Description       string                  `json:"description,omitempty"`
	PipelineID        uuid.UUID               `json:"pipelineId"`
	StageID           uuid.UUID               `json:"stageId"`
	StageName         string                  `json:"stageName,omitempty"`
	Status            OpportunityStatus       `json:"status"`
	Amount            float64                 `json:"amount"`
	Currency          string                  `json:"currency"`
	Probability       int                     `json:"probability"`
	WeightedAmount    float64                 `json:"weightedAmount"`
	StageEnteredAt    string                  `json:"stageEnteredAt"`
	LastActivityAt    *string                 `json:"lastActivityAt,omitempty"`
	ExpectedCloseDate *string                 `json:"expectedCloseDate,omitempty"`
	ActualCloseDate   *string                 `json:"actualCloseDate,omitempty"`
	LossReason        string                  `json:"lossReason,omitempty"`
	AccountID         *uuid.UUID              `json:"accountId,omitempty"`
	AssignedTo        *uuid.UUID              `json:"assignedTo,omitempty"`
	IsRotting         bool                    `json:"isRotting"`
	DaysInStage       int                     `json:"daysInStage"`
	Contacts          []OpportunityContactDTO `json:"contacts,omitempty"`
	CreatedAt         string                  `json:"createdAt"`
	UpdatedAt         string                  `json:"updatedAt"`
}

type CreateOpportunityRequest struct {
	Name              string     `json:"name" validate:"required,max=200"`
	Description       string     `json:"description,omitempty" validate:"max=4000"`
	PipelineID        *uuid.UUID `json:"pipelineId,omitempty"`
	StageID           *uuid.UUID `json:"stageId,omitempty"`
	Amount            float64    `json:"amount" validate:"gte=0"`
	Currency          string     `json:"currency,omitempty" validate:"omitempty,len=3"`
	ExpectedCloseDate *time.Time `json:"expectedCloseDate,omitempty"`
	AccountID         *uuid.UUID `json:"accountId,omitempty"`
	PrimaryContactID  *uuid.UUID `json:"primaryContactId,omitempty"`
	AssignedTo        *uuid.UUID `json:"assignedTo,omitempty"`
}

// UpdateOpportunityRequest edits an open opportunity. Nil fields keep their current value.
type UpdateOpportunityRequest struct {
	Name              *string    `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Description       *string    `json:"description,omitempty" validate:"omitempty,max=4000"`
	AccountID         *uuid.UUID `json:"accountId,omitempty"`
	Amount            *float64   `json:"amount,omitempty" validate:"omitempty,gte=0"`
	Currency          *string    `json:"currency,omitempty" validate:"omitempty,len=3"`
	ExpectedCloseDate *time.Time `json:"expectedCloseDate,omitempty"`
	StageID           *uuid.UUID `json:"stageId,omitempty"`
	AssignedTo        *uuid.UUID `json:"assignedTo,omitempty"`
}

type BulkOpportunityRequest struct {
	IDs []uuid.UUID `json:"ids" validate:"required,min=1,max=200"`
}

type BulkResultDTO struct {
	Affected int64 `json:"affected"`
}

type MoveStageRequest struct {
	StageID    uuid.UUID `json:"stageId" validate:"required"`
	LossReason *string   `json:"lossReason,omitempty" validate:"omitempty,max=500"`
}

type CloseOpportunityRequest struct {
	Status          OpportunityStatus `json:"status" validate:"required,oneof=won lost"`
	LossReason      *string           `json:"lossReason,omitempty" validate:"omitempty,max=500"`
	ActualCloseDate *time.Time        `json:"actualCloseDate,omitempty"`
}

type AddOpportunityContactRequest struct {
	ContactID uuid.UUID `json:"contactId" validate:"required"`
	Role      string    `json:"role,omitempty" validate:"max=100"`
	IsPrimary bool      `json:"isPrimary"`
}

type RecordActivityRequest struct {
	ActivityID *uuid.UUID `json:"activityId,omitempty"`
	OccurredAt *time.Time `json:"occurredAt,omitempty"`
}

// OpportunityFilters holds list filters for opportunities
type OpportunityFilters struct {
	PipelineID *uuid.UUID
	StageID    *uuid.UUID
	Status     *OpportunityStatus
	IsRotting  *bool
	AccountID  *uuid.UUID
}

type StageHistoryDTO struct {
	ID          uuid.UUID         `json:"id"`
	FromStageID *uuid.UUID        `json:"fromStageId,omitempty"`
	ToStageID   uuid.UUID         `json:"toStageId"`
	Status      OpportunityStatus `json:"status"`
	ChangedByID *uuid.UUID        `json:"changedById,omitempty"`
	Note        string            `json:"note,omitempty"`
	ChangedAt   string            `json:"changedAt"`
}

// Board DTOs

type BoardCardDTO struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	Amount         float64    `json:"amount"`
	Currency       string     `json:"currency"`
	Probability    int        `json:"probability"`
	AccountID      *uuid.UUID `json:"accountId,omitempty"`
	AssignedTo     *uuid.UUID `json:"assignedTo,omitempty"`
	StageEnteredAt string     `json:"stageEnteredAt"`
	IsRotting      bool       `json:"isRotting"`
}

type BoardColumnDTO struct {
	StageID       uuid.UUID      `json:"stageId"`
	Name          string         `json:"name"`
	DisplayOrder  int            `json:"displayOrder"`
	Probability   int            `json:"probability"`
	IsWon         bool           `json:"isWon"`
	IsLost        bool           `json:"isLost"`
	Opportunities []BoardCardDTO `json:"opportunities"`
	TotalValue    float64        `json:"totalValue"`
	Count         int64          `json:"count"`
}

type BoardDTO struct {
	PipelineID   uuid.UUID        `json:"pipelineId"`
	PipelineName string           `json:"pipelineName"`
	Columns      []BoardColumnDTO `json:"columns"`
}

// Lead DTOs

type LeadDTO struct {
	ID                     uuid.UUID  `json:"id"`
	FirstName              string     `json:"firstName"`
	LastName               string     `json:"lastName"`
	FullName               string     `json:"fullName"`
	Email                  string     `json:"email,omitempty"`
	Phone                  string     `json:"phone,omitempty"`
	CompanyName            string     `json:"companyName,omitempty"`
	JobTitle               string     `json:"jobTitle,omitempty"`
	Source                 string     `json:"source,omitempty"`
	Status                 LeadStatus `json:"status"`
	Score                  int        `json:"score"`
	AssignedTo             *uuid.UUID `json:"assignedTo,omitempty"`
	ConvertedAccountID     *uuid.UUID `json:"convertedAccountId,omitempty"`
	ConvertedContactID     *uuid.UUID `json:"convertedContactId,omitempty"`
	ConvertedOpportunityID *uuid.UUID `json:"convertedOpportunityId,omitempty"`
	ConvertedAt            *string    `json:"convertedAt,omitempty"`
	CreatedAt              string     `json:"createdAt"`
	UpdatedAt              string     `json:"updatedAt"`
}

type ChangeLeadStatusRequest struct {
	Status LeadStatus `json:"status" validate:"required,oneof=new contacted qualified disqualified converted"`
	Reason string     `json:"reason,omitempty" validate:"max=500"`
}

type ConvertLeadRequest struct {
	CreateAccount     bool       `json:"createAccount"`
	ExistingAccountID *uuid.UUID `json:"existingAccountId,omitempty"`
	CreateOpportunity bool       `json:"createOpportunity"`
	OpportunityName   *string    `json:"opportunityName,omitempty" validate:"omitempty,max=200"`
	Amount            *float64   `json:"amount,omitempty" validate:"omitempty,gte=0"`
	PipelineID        *uuid.UUID `json:"pipelineId,omitempty"`
}

type ConvertLeadResult struct {
	LeadID        uuid.UUID  `json:"leadId"`
	ContactID     uuid.UUID  `json:"contactId"`
	AccountID     *uuid.UUID `json:"accountId,omitempty"`
	OpportunityID *uuid.UUID `json:"opportunityId,omitempty"`
}

// ConversionPreviewDTO describes what converting a lead would do, without doing it
type ConversionPreviewDTO struct {
	Lead                    LeadDTO    `json:"lead"`
	Convertible             bool       `json:"convertible"`
	BlockingCode            ErrorCode  `json:"blockingCode,omitempty"`
	ProposedAccountName     string     `json:"proposedAccountName"`
	ProposedOpportunityName string     `json:"proposedOpportunityName"`
	PipelineID              *uuid.UUID `json:"pipelineId,omitempty"`
	PipelineName            string     `json:"pipelineName,omitempty"`
	FirstStageID            *uuid.UUID `json:"firstStageId,omitempty"`
	FirstStageName          string     `json:"firstStageName,omitempty"`
}
