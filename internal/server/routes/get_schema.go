package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/chronicle/pkg/schema"

	"github.com/labstack/echo/v4"
)

// GetSchemaHandler serves the JSON Schema for one engine artifact.
func GetSchemaHandler(c echo.Context) error {
	doc, err := schema.For(c.Param("artifact"))
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]any{
			"message":   "Unknown artifact",
			"artifacts": schema.Artifacts(),
		})
	}
	return c.JSONBlob(http.StatusOK, doc)
}
