package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/straye-as/pipeline-engine/internal/domain"
	"github.com/straye-as/pipeline-engine/internal/repository"
	"github.com/straye-as/pipeline-engine/internal/service"
	"go.uber.org/zap"
)

type OpportunityHandler struct {
	opportunityService *service.OpportunityService
	logger             *zap.Logger
}

func NewOpportunityHandler(opportunityService *service.OpportunityService, logger *zap.Logger) *OpportunityHandler {
	return &OpportunityHandler{
		opportunityService: opportunityService,
		logger:             logger,
	}
}

// @Summary List opportunities
// @Description List opportunities with optional filters
// @Tags Opportunities
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param pageSize query int false "Page size (max 200)" default(20)
// @Param pipelineId query string false "Filter by pipeline ID"
// @Param stageId query string false "Filter by stage ID"
// @Param accountId query string false "Filter by account ID"
// @Param status query string false "Filter by status (open, won, lost)"
// @Param isRotting query bool false "Filter by rotting state"
// @Param sortBy query string false "Sort field (createdAt, updatedAt, amount, probability, stageEnteredAt, expectedCloseDate, name)"
// @Param sortOrder query string false "Sort order (asc, desc)"
// @Success 200 {object} domain.PaginatedResponse
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /opportunities [get]
func (h *OpportunityHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := &domain.OpportunityFilters{}

	var err error
	if filters.PipelineID, err = optionalUUIDQuery(r, "pipelineId"); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filters.StageID, err = optionalUUIDQuery(r, "stageId"); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filters.AccountID, err = optionalUUIDQuery(r, "accountId"); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s := q.Get("status"); s != "" {
		status := domain.OpportunityStatus(s)
		if !status.IsValid() {
			respondWithError(w, http.StatusBadRequest, "Invalid status: must be one of open, won, lost")
			return
		}
		filters.Status = &status
	}

	if s := q.Get("isRotting"); s != "" {
		rotting, err := strconv.ParseBool(s)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid isRotting: must be true or false")
			return
		}
		filters.IsRotting = &rotting
	}

	sort := repository.SortConfig{
		Field: q.Get("sortBy"),
		Order: repository.ParseSortOrder(q.Get("sortOrder")),
	}

	result, err := h.opportunityService.List(r.Context(), intQuery(r, "page", 1), intQuery(r, "pageSize", 20), filters, sort)
	if err != nil {
		respondServiceError(w, h.logger, err, "list opportunities")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// @Summary Create opportunity
// @Description Open an opportunity in the first (or given) stage of a pipeline
// @Tags Opportunities
// @Accept json
// @Produce json
// @Param request body domain.CreateOpportunityRequest true "Opportunity data"
// @Success 201 {object} domain.OpportunityDTO
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /opportunities [post]
func (h *OpportunityHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateOpportunityRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	opp, err := h.opportunityService.Create(r.Context(), &req)
	if err != nil {
		respondServiceError(w, h.logger, err, "create opportunity")
		return
	}

	w.Header().Set("Location", "/api/v1/opportunities/"+opp.ID.String())
	respondJSON(w, http.StatusCreated, opp)
}

// @Summary Pipeline board
// @Description One column per active stage with counts, totals and up to takePerStage cards
// @Tags Opportunities
// @Produce json
// @Param pipelineId query string false "Pipeline ID (defaults to the tenant default)"
// @Param takePerStage query int false "Cards per stage (0-500)" default(50)
// @Success 200 {object} domain.BoardDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /opportunities/board [get]
func (h *OpportunityHandler) Board(w http.ResponseWriter, r *http.Request) {
	pipelineID, err := optionalUUIDQuery(r, "pipelineId")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	board, err := h.opportunityService.Board(r.Context(), pipelineID, intQuery(r, "takePerStage", service.DefaultTakePerStage))
	if err != nil {
		respondServiceError(w, h.logger, err, "load board")
		return
	}
	respondJSON(w, http.StatusOK, board)
}

// @Summary Get opportunity
// @Tags Opportunities
// @Produce json
// @Param id path string true "Opportunity ID"
// @Success 200 {object} domain.OpportunityDTO
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /opportunities/{id} [get]
func (h *OpportunityHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "opportunity ID")
	if !ok {
		return
	}

	opp, err := h.opportunityService.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err, "get opportunity", zap.String("opportunity_id", id.String()))
		return
	}
	respondJSON(w, http.StatusOK, opp)
}

// @Summary Update opportunity
// @Description Edit an open opportunity. A changed stageId is applied like a stage move.
// @Tags Opportunities
// @Accept json
// @Produce json
// @Param id path string true "Opportunity ID"
// @Param request body domain.UpdateOpportunityRequest true "Fields to change"
// @Success 200 {object} domain.OpportunityDTO
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Failure 422 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /opportunities/{id} [put]
func (h *OpportunityHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "opportunity ID")
	if !ok {
		return
	}

	var req domain.UpdateOpportunityRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	opp, err := h.opportunityService.Update(r.Context(), id, &req)
	if err != nil {
		respondServiceError(w, h.logger, err, "update opportunity", zap.String("opportunity_id", id.String()))
		return
	}
	respondJSON(w, http.StatusOK, opp)
}

// @Summary Archive opportunities
// @Description Move active opportunities to inactive. Ids that are not active are skipped.
// @Tags Opportunities
// @Accept json
// @Produce json
// @Param request body domain.BulkOpportunityRequest true "Opportunity ids"
// @Success 200 {object} domain.BulkResultDTO
// @Failure 400 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /opportunities/bulk-archive [post]
func (h *OpportunityHandler) BulkArchive(w http.ResponseWriter, r *http.Request) {
	h.bulkLifecycle(w, r, "archive opportunities", h.opportunityService.BulkArchive)
}

// @Summary Restore opportunities
// @Description Move inactive opportunities back to active
// @Tags Opportunities
// @Accept json
// @Produce json
// @Param request body domain.BulkOpportunityRequest true "Opportunity ids"
// @Success 200 {object} domain.BulkResultDTO
// @Failure 400 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /opportunities/bulk-restore [post]
func (h *OpportunityHandler) BulkRestore(w http.ResponseWriter, r *http.Request) {
	h.bulkLifecycle(w, r, "restore opportunities", h.opportunityService.BulkRestore)
}

func (h *OpportunityHandler) bulkLifecycle(w http.ResponseWriter, r *http.Request, op string, apply func(context.Context, []uuid.UUID) (int64, error)) {
	var req domain.BulkOpportunityRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	affected, err := apply(r.Context(), req.IDs)
	if err != nil {
		respondServiceError(w, h.logger, err, op, zap.Int("ids", len(req.IDs)))
		return
	}
	respondJSON(w, http.StatusOK, domain.BulkResultDTO{Affected: affected})
}

// @Summary Delete opportunity
// @Tags Opportunities
// @Param id path string true "Opportunity ID"
// @Success 204 "No Content"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /opportunities/{id} [delete]
func (h *OpportunityHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "opportunity ID")
	if !ok {
		return
	}

	if err := h.opportunityService.Delete(r.Context(), id); err != nil {
		respondServiceError(w, h.logger, err, "delete opportunity", zap.String("opportunity_id", id.String()))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// @Summary Move opportunity stage
// @Description Move an open opportunity to another stage of its pipeline. Won and lost stages close it.
// @Tags Opportunities
// @Accept json
// @Produce json
// @Param id path string true "Opportunity ID"
// @Param request body domain.MoveStageRequest true "Target stage"
// @Success 200 {object} domain.OpportunityDTO
// @Failure 422 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /opportunities/{id}/move-stage [post]
func (h *OpportunityHandler) MoveStage(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "opportunity ID")
	if !ok {
		return
	}

	var req domain.MoveStageRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	opp, err := h.opportunityService.MoveStage(r.Context(), id, &req)
	if err != nil {
		respondServiceError(w, h.logger, err, "move opportunity stage", zap.String("opportunity_id", id.String()))
		return
	}
	respondJSON(w, http.StatusOK, opp)
}

// @Summary Close opportunity
// @Description Close an open opportunity as won or lost. Lost requires a reason.
// @Tags Opportunities
// @Accept json
// @Produce json
// @Param id path string true "Opportunity ID"
// @Param request body domain.CloseOpportunityRequest true "Close data"
// @Success 200 {object} domain.OpportunityDTO
// @Failure 400 {object} domain.APIError
// @Failure 422 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /opportunities/{id}/close [post]
func (h *OpportunityHandler) Close(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "opportunity ID")
	if !ok {
		return
	}

	var req domain.CloseOpportunityRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	opp, err := h.opportunityService.Close(r.Context(), id, &req)
	if err != nil {
		respondServiceError(w, h.logger, err, "close opportunity", zap.String("opportunity_id", id.String()))
		return
	}
	respondJSON(w, http.StatusOK, opp)
}

// @Summary Opportunity stage history
// @Tags Opportunities
// @Produce json
// @Param id path string true "Opportunity ID"
// @Success 200 {array} domain.StageHistoryDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /opportunities/{id}/history [get]
func (h *OpportunityHandler) GetStageHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "opportunity ID")
	if !ok {
		return
	}

	history, err := h.opportunityService.GetStageHistory(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err, "get stage history", zap.String("opportunity_id", id.String()))
		return
	}
	respondJSON(w, http.StatusOK, history)
}

// @Summary Add opportunity contact
// @Tags Opportunities
// @Accept json
// @Produce json
// @Param id path string true "Opportunity ID"
// @Param request body domain.AddOpportunityContactRequest true "Contact link"
// @Success 201 {object} domain.OpportunityDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /opportunities/{id}/contacts [post]
func (h *OpportunityHandler) AddContact(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "opportunity ID")
	if !ok {
		return
	}

	var req domain.AddOpportunityContactRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	opp, err := h.opportunityService.AddContact(r.Context(), id, &req)
	if err != nil {
		respondServiceError(w, h.logger, err, "add opportunity contact", zap.String("opportunity_id", id.String()))
		return
	}
	respondJSON(w, http.StatusCreated, opp)
}

// @Summary Remove opportunity contact
// @Tags Opportunities
// @Param id path string true "Opportunity ID"
// @Param contactId path string true "Contact ID"
// @Success 204 "No Content"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /opportunities/{id}/contacts/{contactId} [delete]
func (h *OpportunityHandler) RemoveContact(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "opportunity ID")
	if !ok {
		return
	}
	contactID, ok := uuidParam(w, r, "contactId", "contact ID")
	if !ok {
		return
	}

	if err := h.opportunityService.RemoveContact(r.Context(), id, contactID); err != nil {
		respondServiceError(w, h.logger, err, "remove opportunity contact",
			zap.String("opportunity_id", id.String()),
			zap.String("contact_id", contactID.String()))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// @Summary Record opportunity activity
// @Description Note activity on an opportunity. lastActivityAt only moves forward.
// @Tags Opportunities
// @Accept json
// @Produce json
// @Param id path string true "Opportunity ID"
// @Param request body domain.RecordActivityRequest true "Activity"
// @Success 200 {object} domain.OpportunityDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /opportunities/{id}/activity [post]
func (h *OpportunityHandler) RecordActivity(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "opportunity ID")
	if !ok {
		return
	}

	var req domain.RecordActivityRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	opp, err := h.opportunityService.RecordActivity(r.Context(), id, &req)
	if err != nil {
		respondServiceError(w, h.logger, err, "record activity", zap.String("opportunity_id", id.String()))
		return
	}
	respondJSON(w, http.StatusOK, opp)
}
