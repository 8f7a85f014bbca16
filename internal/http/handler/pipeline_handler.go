package handler

import (
	"net/http"

	"github.com/straye-as/pipeline-engine/internal/domain"
	"github.com/straye-as/pipeline-engine/internal/service"
	"go.uber.org/zap"
)

type PipelineHandler struct {
	pipelineService *service.PipelineService
	logger          *zap.Logger
}

func NewPipelineHandler(pipelineService *service.PipelineService, logger *zap.Logger) *PipelineHandler {
	return &PipelineHandler{
		pipelineService: pipelineService,
		logger:          logger,
	}
}

// @Summary List pipelines
// @Description List active pipelines, default first, with stage and opportunity counts
// @Tags Pipelines
// @Produce json
// @Success 200 {array} domain.PipelineDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /pipelines [get]
func (h *PipelineHandler) List(w http.ResponseWriter, r *http.Request) {
	pipelines, err := h.pipelineService.List(r.Context())
	if err != nil {
		respondServiceError(w, h.logger, err, "list pipelines")
		return
	}
	respondJSON(w, http.StatusOK, pipelines)
}

// @Summary Create pipeline
// @Description Create a pipeline with its stages. The first pipeline of a tenant becomes the default.
// @Tags Pipelines
// @Accept json
// @Produce json
// @Param request body domain.CreatePipelineRequest true "Pipeline data"
// @Success 201 {object} domain.PipelineDTO
// @Failure 400 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /pipelines [post]
func (h *PipelineHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreatePipelineRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	pipeline, err := h.pipelineService.Create(r.Context(), &req)
	if err != nil {
		respondServiceError(w, h.logger, err, "create pipeline")
		return
	}

	w.Header().Set("Location", "/api/v1/pipelines/"+pipeline.ID.String())
	respondJSON(w, http.StatusCreated, pipeline)
}

// @Summary Get pipeline
// @Tags Pipelines
// @Produce json
// @Param id path string true "Pipeline ID"
// @Success 200 {object} domain.PipelineDTO
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /pipelines/{id} [get]
func (h *PipelineHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "pipeline ID")
	if !ok {
		return
	}

	pipeline, err := h.pipelineService.GetPipeline(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err, "get pipeline", zap.String("pipeline_id", id.String()))
		return
	}
	respondJSON(w, http.StatusOK, pipeline)
}

// @Summary Update pipeline
// @Description Replace pipeline settings. Stages are matched by name; missing stages are deactivated.
// @Tags Pipelines
// @Accept json
// @Produce json
// @Param id path string true "Pipeline ID"
// @Param request body domain.UpdatePipelineRequest true "Pipeline data"
// @Success 200 {object} domain.PipelineDTO
// @Failure 422 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /pipelines/{id} [put]
func (h *PipelineHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "pipeline ID")
	if !ok {
		return
	}

	var req domain.UpdatePipelineRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	pipeline, err := h.pipelineService.Update(r.Context(), id, &req)
	if err != nil {
		respondServiceError(w, h.logger, err, "update pipeline", zap.String("pipeline_id", id.String()))
		return
	}
	respondJSON(w, http.StatusOK, pipeline)
}

// @Summary Delete pipeline
// @Description Soft-delete a pipeline that no opportunity references
// @Tags Pipelines
// @Param id path string true "Pipeline ID"
// @Success 204 "No Content"
// @Failure 422 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /pipelines/{id} [delete]
func (h *PipelineHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "pipeline ID")
	if !ok {
		return
	}

	if err := h.pipelineService.Delete(r.Context(), id); err != nil {
		respondServiceError(w, h.logger, err, "delete pipeline", zap.String("pipeline_id", id.String()))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// @Summary Set default pipeline
// @Tags Pipelines
// @Produce json
// @Param id path string true "Pipeline ID"
// @Success 200 {object} domain.PipelineDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /pipelines/{id}/default [post]
func (h *PipelineHandler) SetDefault(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "pipeline ID")
	if !ok {
		return
	}

	pipeline, err := h.pipelineService.SetDefault(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err, "set default pipeline", zap.String("pipeline_id", id.String()))
		return
	}
	respondJSON(w, http.StatusOK, pipeline)
}
