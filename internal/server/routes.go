package server

import (
	"net/http"

	"github.com/OFFIS-RIT/chronicle/internal/server/middleware"
	"github.com/OFFIS-RIT/chronicle/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Graph routes
	apiRoutes.POST("/graphs", routes.BuildGraphHandler, middleware.RequirePermission(middleware.PermGraphBuild))
	apiRoutes.POST("/graphs/validate", routes.ValidateGraphHandler, middleware.RequireAnyPermission(middleware.PermGraphValidate, middleware.PermGraphBuild))

	// Analysis routes
	apiRoutes.POST("/analysis/contradictions", routes.ContradictionsHandler, middleware.RequirePermission(middleware.PermAnalysisRun))
	apiRoutes.POST("/analysis/narrative", routes.NarrativeHandler, middleware.RequirePermission(middleware.PermAnalysisRun))
	apiRoutes.POST("/analysis/comparative", routes.ComparativeHandler, middleware.RequirePermission(middleware.PermAnalysisRun))

	// Schema routes
	apiRoutes.GET("/schema/:artifact", routes.GetSchemaHandler)

	// Run routes
	apiRoutes.POST("/runs", routes.CreateRunHandler, middleware.RequirePermission(middleware.PermRunCreate))
	apiRoutes.GET("/runs/:id", routes.GetRunHandler, middleware.RequirePermission(middleware.PermRunView))
	apiRoutes.GET("/runs/:id/artifacts/:artifact", routes.GetRunArtifactHandler, middleware.RequirePermission(middleware.PermRunView))
}
