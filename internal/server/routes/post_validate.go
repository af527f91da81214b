package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/chronicle/pkg/common"
	"github.com/OFFIS-RIT/chronicle/pkg/graph"

	"github.com/labstack/echo/v4"
)

type validateGraphResponse struct {
	Valid      bool              `json:"valid"`
	Violations []graph.Violation `json:"violations"`
}

// ValidateGraphHandler runs the integrity validator over a serialized graph
// without rebuilding it. A graph from an unsupported schema version is
// reported as invalid rather than refused.
func ValidateGraphHandler(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return bodyError(c, err)
	}

	g, err := graph.Parse(body)
	if errors.Is(err, graph.ErrUnsupportedSchema) {
		g = new(common.EvidenceGraph)
		err = json.Unmarshal(body, g)
	}
	if err != nil {
		return badRequest(c, "Invalid graph document")
	}

	violations := graph.Validate(g)
	if violations == nil {
		violations = []graph.Violation{}
	}
	return c.JSON(http.StatusOK, validateGraphResponse{
		Valid:      len(violations) == 0,
		Violations: violations,
	})
}
