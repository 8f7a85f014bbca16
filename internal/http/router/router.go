package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/straye-as/pipeline-engine/internal/auth"
	"github.com/straye-as/pipeline-engine/internal/config"
	"github.com/straye-as/pipeline-engine/internal/http/handler"
	"github.com/straye-as/pipeline-engine/internal/http/middleware"
	"github.com/straye-as/pipeline-engine/internal/metrics"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"

	_ "github.com/straye-as/pipeline-engine/docs" // Import generated swagger docs
)

// Handlers groups the HTTP handlers mounted by the router
type Handlers struct {
	Health      *handler.HealthHandler
	Pipeline    *handler.PipelineHandler
	Opportunity *handler.OpportunityHandler
	Lead        *handler.LeadHandler
}

type Router struct {
	cfg            *config.Config
	logger         *zap.Logger
	metrics        *metrics.Metrics
	authMiddleware *auth.Middleware
	rateLimiter    *middleware.RateLimiter
	handlers       Handlers
}

func NewRouter(
	cfg *config.Config,
	logger *zap.Logger,
	m *metrics.Metrics,
	authMiddleware *auth.Middleware,
	rateLimiter *middleware.RateLimiter,
	handlers Handlers,
) *Router {
	return &Router{
		cfg:            cfg,
		logger:         logger,
		metrics:        m,
		authMiddleware: authMiddleware,
		rateLimiter:    rateLimiter,
		handlers:       handlers,
	}
}

func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(rt.logger))
	r.Use(middleware.Logging(rt.logger))
	r.Use(middleware.Metrics(rt.metrics))
	r.Use(middleware.SecurityHeaders(&rt.cfg.Security))
	r.Use(middleware.CORS(&rt.cfg.CORS, rt.cfg.App.Environment, rt.logger))
	r.Use(rt.rateLimiter.LimitByIP)

	r.Get("/health", rt.handlers.Health.Live)
	r.Get("/health/db", rt.handlers.Health.Database)
	r.Get("/health/ready", rt.handlers.Health.Ready)

	if rt.cfg.Metrics.Enabled && rt.metrics != nil {
		r.Handle(rt.cfg.Metrics.Path, rt.metrics.Handler())
	}

	if rt.cfg.Server.EnableSwagger {
		r.Get("/swagger/*", httpSwagger.Handler(
			httpSwagger.URL("/swagger/doc.json"),
		))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rt.authMiddleware.Authenticate)
		r.Use(rt.rateLimiter.Limit)

		r.Route("/pipelines", func(r chi.Router) {
			r.Get("/", rt.handlers.Pipeline.List)
			r.Post("/", rt.handlers.Pipeline.Create)
			r.Get("/{id}", rt.handlers.Pipeline.GetByID)
			r.Put("/{id}", rt.handlers.Pipeline.Update)
			r.Delete("/{id}", rt.handlers.Pipeline.Delete)
			r.Post("/{id}/default", rt.handlers.Pipeline.SetDefault)
		})

		r.Route("/opportunities", func(r chi.Router) {
			r.Get("/", rt.handlers.Opportunity.List)
			r.Post("/", rt.handlers.Opportunity.Create)
			r.Get("/board", rt.handlers.Opportunity.Board)
			r.Post("/bulk-archive", rt.handlers.Opportunity.BulkArchive)
			r.Post("/bulk-restore", rt.handlers.Opportunity.BulkRestore)
			r.Get("/{id}", rt.handlers.Opportunity.GetByID)
			r.Put("/{id}", rt.handlers.Opportunity.Update)
			r.Delete("/{id}", rt.handlers.Opportunity.Delete)
			r.Post("/{id}/move-stage", rt.handlers.Opportunity.MoveStage)
			r.Post("/{id}/close", rt.handlers.Opportunity.Close)
			r.Get("/{id}/history", rt.handlers.Opportunity.GetStageHistory)
			r.Post("/{id}/contacts", rt.handlers.Opportunity.AddContact)
			r.Delete("/{id}/contacts/{contactId}", rt.handlers.Opportunity.RemoveContact)
			r.Post("/{id}/activity", rt.handlers.Opportunity.RecordActivity)
		})

		r.Route("/leads", func(r chi.Router) {
			r.Get("/{id}", rt.handlers.Lead.GetByID)
			r.Post("/{id}/status", rt.handlers.Lead.ChangeStatus)
			r.Get("/{id}/conversion-preview", rt.handlers.Lead.ConversionPreview)
			r.Post("/{id}/convert", rt.handlers.Lead.Convert)
		})
	})

	return r
}
