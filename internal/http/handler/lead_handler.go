package handler

import (
	"net/http"

	"github.com/straye-as/pipeline-engine/internal/domain"
	"github.com/straye-as/pipeline-engine/internal/service"
	"go.uber.org/zap"
)

type LeadHandler struct {
	leadService       *service.LeadService
	conversionService *service.LeadConversionService
	logger            *zap.Logger
}

func NewLeadHandler(leadService *service.LeadService, conversionService *service.LeadConversionService, logger *zap.Logger) *LeadHandler {
	return &LeadHandler{
		leadService:       leadService,
		conversionService: conversionService,
		logger:            logger,
	}
}

// @Summary Get lead
// @Tags Leads
// @Produce json
// @Param id path string true "Lead ID"
// @Success 200 {object} domain.LeadDTO
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /leads/{id} [get]
func (h *LeadHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "lead ID")
	if !ok {
		return
	}

	lead, err := h.leadService.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err, "get lead", zap.String("lead_id", id.String()))
		return
	}
	respondJSON(w, http.StatusOK, lead)
}

// @Summary Preview lead conversion
// @Description Show what converting the lead would create, and whether it can be converted now
// @Tags Leads
// @Produce json
// @Param id path string true "Lead ID"
// @Success 200 {object} domain.ConversionPreviewDTO
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /leads/{id}/conversion-preview [get]
func (h *LeadHandler) ConversionPreview(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "lead ID")
	if !ok {
		return
	}

	preview, err := h.conversionService.Preview(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err, "preview lead conversion", zap.String("lead_id", id.String()))
		return
	}
	respondJSON(w, http.StatusOK, preview)
}

// @Summary Change lead status
// @Description Move a lead along the allowed status transitions
// @Tags Leads
// @Accept json
// @Produce json
// @Param id path string true "Lead ID"
// @Param request body domain.ChangeLeadStatusRequest true "New status"
// @Success 200 {object} domain.LeadDTO
// @Failure 422 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /leads/{id}/status [post]
func (h *LeadHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "lead ID")
	if !ok {
		return
	}

	var req domain.ChangeLeadStatusRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	lead, err := h.leadService.ChangeStatus(r.Context(), id, &req)
	if err != nil {
		respondServiceError(w, h.logger, err, "change lead status", zap.String("lead_id", id.String()))
		return
	}
	respondJSON(w, http.StatusOK, lead)
}

// @Summary Convert lead
// @Description Convert a qualified lead into a contact and optionally an account and an opportunity
// @Tags Leads
// @Accept json
// @Produce json
// @Param id path string true "Lead ID"
// @Param request body domain.ConvertLeadRequest true "Conversion options"
// @Success 201 {object} domain.ConvertLeadResult
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Failure 422 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /leads/{id}/convert [post]
func (h *LeadHandler) Convert(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "lead ID")
	if !ok {
		return
	}

	var req domain.ConvertLeadRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.conversionService.ConvertLead(r.Context(), id, &req)
	if err != nil {
		respondServiceError(w, h.logger, err, "convert lead", zap.String("lead_id", id.String()))
		return
	}
	respondJSON(w, http.StatusCreated, result)
}
