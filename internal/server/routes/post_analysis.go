package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/chronicle/pkg/analysis"

	"github.com/labstack/echo/v4"
)

// ContradictionsHandler runs the contradiction matrix over claim rows.
func ContradictionsHandler(c echo.Context) error {
	type contradictionsBody struct {
		Rows       []analysis.ClaimRow `json:"rows" validate:"dive"`
		WindowDays *int                `json:"window_days" validate:"omitempty,min=0"`
	}

	data := new(contradictionsBody)
	if err := bindEvidence(c, data); err != nil {
		return bodyError(c, err)
	}

	cfg := appOf(c).Config
	window := cfg.WindowDays
	if data.WindowDays != nil {
		window = *data.WindowDays
	}
	analysis.SortRows(data.Rows)
	conflicts, err := analysis.NewContradictionMatrix(cfg).Build(data.Rows, window)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"window_days":    window,
		"contradictions": conflicts,
	})
}

// NarrativeHandler builds both narratives from claim rows and conflicts.
func NarrativeHandler(c echo.Context) error {
	type narrativeBody struct {
		Rows      []analysis.ClaimRow `json:"rows" validate:"dive"`
		Conflicts []analysis.Conflict `json:"conflicts"`
	}

	data := new(narrativeBody)
	if err := bindEvidence(c, data); err != nil {
		return bodyError(c, err)
	}

	analysis.SortRows(data.Rows)
	return c.JSON(http.StatusOK, analysis.BuildNarrative(data.Rows, data.Conflicts, appOf(c).Config))
}

// ComparativeHandler snapshots claim rows against a baseline population.
func ComparativeHandler(c echo.Context) error {
	type comparativeBody struct {
		Rows      []analysis.ClaimRow     `json:"rows" validate:"dive"`
		Baselines []analysis.CaseFeatures `json:"baselines" validate:"dive"`
	}

	data := new(comparativeBody)
	if err := bindEvidence(c, data); err != nil {
		return bodyError(c, err)
	}

	return c.JSON(http.StatusOK, analysis.ComparePattern(data.Rows, data.Baselines, appOf(c).Config))
}
