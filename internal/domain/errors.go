package domain

import (
	"errors"
	"fmt"
)

// APIError represents a standardized API error with HTTP status code
type APIError struct {
	Type   string            `json:"type"`
	Title  string            `json:"title"`
	Status int               `json:"status"`
	Code   string            `json:"code,omitempty"`
	Detail string            `json:"detail,omitempty"`
	Errors map[string]string `json:"errors,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Title
}

// ErrorCode is a stable machine-readable failure code returned to callers
type ErrorCode string

const (
	CodeLeadNotFound             ErrorCode = "LEAD_NOT_FOUND"
	CodeLeadNotQualified         ErrorCode = "LEAD_NOT_QUALIFIED"
	CodeLeadAlreadyConverted     ErrorCode = "LEAD_ALREADY_CONVERTED"
	CodeAccountRequired          ErrorCode = "ACCOUNT_REQUIRED"
	CodeAccountNotFound          ErrorCode = "ACCOUNT_NOT_FOUND"
	CodeContactNotFound          ErrorCode = "CONTACT_NOT_FOUND"
	CodeOpportunityNotFound      ErrorCode = "OPPORTUNITY_NOT_FOUND"
	CodePipelineNotFound         ErrorCode = "PIPELINE_NOT_FOUND"
	CodeStageNotFound            ErrorCode = "STAGE_NOT_FOUND"
	CodeOpportunityAlreadyClosed ErrorCode = "OPPORTUNITY_ALREADY_CLOSED"
	CodeInvalidStageTransition   ErrorCode = "INVALID_STAGE_TRANSITION"
	CodeLossReasonRequired       ErrorCode = "LOSS_REASON_REQUIRED"
	CodeInvalidCloseStatus       ErrorCode = "INVALID_CLOSE_STATUS"
	CodeInvalidStatusTransition  ErrorCode = "INVALID_STATUS_TRANSITION"
	CodePipelineHasOpportunities ErrorCode = "PIPELINE_HAS_OPPORTUNITIES"
	CodeMustHaveDefault          ErrorCode = "MUST_HAVE_DEFAULT"
	CodeInvalidPipeline          ErrorCode = "INVALID_PIPELINE"
	CodeInvalidOpportunity       ErrorCode = "INVALID_OPPORTUNITY"
	CodeOpportunityContactExists ErrorCode = "OPP_CONTACT_DUPLICATE"
	CodeOpportunityContactAbsent ErrorCode = "OPP_CONTACT_NOT_FOUND"
)

// NotFoundError is returned when a referenced record does not exist in the caller's tenant
type NotFoundError struct {
	Code   ErrorCode
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// NewNotFoundError builds a NotFoundError for the given entity and id
func NewNotFoundError(code ErrorCode, entity string, id fmt.Stringer) *NotFoundError {
	e := &NotFoundError{Code: code, Entity: entity}
	if id != nil {
		e.ID = id.String()
	}
	return e
}

// BusinessError is returned when an operation violates a business rule
type BusinessError struct {
	Code    ErrorCode
	Message string
}

func (e *BusinessError) Error() string {
	return e.Message
}

func NewBusinessError(code ErrorCode, format string, args ...interface{}) *BusinessError {
	return &BusinessError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ErrorCodeOf extracts the error code carried by err, if any
func ErrorCodeOf(err error) ErrorCode {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return nf.Code
	}
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

// IsCode reports whether err carries the given code
func IsCode(err error, code ErrorCode) bool {
	return err != nil && ErrorCodeOf(err) == code
}

// ValidationFieldError maps a field name to its validation error message
type ValidationFieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationMessages maps validator tags to user-friendly messages
var ValidationMessages = map[string]string{
	"required": "This field is required",
	"email":    "Must be a valid email address",
	"max":      "Exceeds maximum length",
	"min":      "Below minimum length",
	"gte":      "Must be greater than or equal to minimum value",
	"gt":       "Must be greater than minimum value",
	"lte":      "Must be less than or equal to maximum value",
	"lt":       "Must be less than maximum value",
	"uuid":     "Must be a valid UUID",
	"oneof":    "Must be one of the allowed values",
	"len":      "Must be exactly the specified length",
	"dive":     "Contains an invalid element",
	"iso4217":  "Must be a valid ISO 4217 currency code",
}

// GetValidationMessage returns a human-readable message for a validation tag
func GetValidationMessage(tag string) string {
	if msg, ok := ValidationMessages[tag]; ok {
		return msg
	}
	return "Validation failed: " + tag
}

// Common error types for RFC 7807 Problem Details
const (
	ErrorTypeValidation   = "validation_error"
	ErrorTypeNotFound     = "not_found"
	ErrorTypeBadRequest   = "bad_request"
	ErrorTypeConflict     = "conflict"
	ErrorTypeBusinessRule = "business_rule_violation"
	ErrorTypeUnauthorized = "unauthorized"
	ErrorTypeForbidden    = "forbidden"
	ErrorTypeInternal     = "internal_error"
)
