package router

import (
	"log/slog"
	"net/http"

	"github.com/codeMaster/reqtrace/internal/handler"
	"github.com/codeMaster/reqtrace/internal/hub"
	"github.com/codeMaster/reqtrace/internal/middleware"
	"github.com/codeMaster/reqtrace/internal/service"
	"github.com/codeMaster/reqtrace/internal/ws"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Deps struct {
	Store   *service.Store
	Hub     *hub.Hub
	WS      *ws.Server
	Logger  *slog.Logger
	Version string
	// MCP is mounted at /mcp when set.
	MCP http.Handler
}

func Setup(r *gin.Engine, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.CORSMiddleware())

	projectHandler := handler.NewProjectHandler(deps.Store)
	requirementHandler := handler.NewRequirementHandler(deps.Store)
	traceHandler := handler.NewTraceHandler(deps.Store)
	analysisHandler := handler.NewAnalysisHandler(deps.Store)
	validationHandler := handler.NewValidationHandler(deps.Store)
	exchangeHandler := handler.NewExchangeHandler(deps.Store)
	healthHandler := handler.NewHealthHandler(deps.Store, deps.Hub, deps.Version)

	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if deps.WS != nil {
		r.GET("/ws", deps.WS.Handle)
	}
	if deps.MCP != nil {
		r.Any("/mcp", gin.WrapH(deps.MCP))
	}

	api := r.Group("/api/v1")
	api.POST("/validate", validationHandler.Text)
	api.POST("/import", exchangeHandler.Import)

	// Projects
	projects := api.Group("/projects")
	{
		projects.POST("", projectHandler.Create)
		projects.GET("", projectHandler.List)
		projects.GET("/:id", projectHandler.Get)
		projects.PUT("/:id", projectHandler.Update)
		projects.DELETE("/:id", projectHandler.Delete)
		projects.GET("/:id/hierarchy", projectHandler.Hierarchy)
		projects.POST("/:id/validate", validationHandler.Project)
		projects.GET("/:id/export", exchangeHandler.Export)

		// Requirements under projects
		projects.POST("/:id/requirements", requirementHandler.Create)
		projects.GET("/:id/requirements", requirementHandler.List)
		projects.GET("/:id/requirements/:rid", requirementHandler.Get)
		projects.PUT("/:id/requirements/:rid", requirementHandler.Update)
		projects.DELETE("/:id/requirements/:rid", requirementHandler.Delete)
		projects.POST("/:id/requirements/:rid/validate", validationHandler.Requirement)
		projects.POST("/:id/requirements/:rid/refine", requirementHandler.Refine)

		// Graph queries
		projects.GET("/:id/requirements/:rid/ancestors", analysisHandler.Ancestors)
		projects.GET("/:id/requirements/:rid/descendants", analysisHandler.Descendants)
		projects.GET("/:id/requirements/:rid/children", analysisHandler.Children)
		projects.GET("/:id/requirements/:rid/impact", analysisHandler.Impact)
		projects.GET("/:id/requirements/:rid/dependents", analysisHandler.Dependents)
		projects.GET("/:id/requirements/:rid/traces", traceHandler.ListForRequirement)

		// Traces under projects
		projects.POST("/:id/traces", traceHandler.Create)
		projects.GET("/:id/traces", traceHandler.List)
		projects.GET("/:id/traces/:tid", traceHandler.Get)
		projects.PUT("/:id/traces/:tid", traceHandler.Update)
		projects.DELETE("/:id/traces/:tid", traceHandler.Delete)
	}
}
