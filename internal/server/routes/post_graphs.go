package routes

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/OFFIS-RIT/chronicle/internal/storage"
	"github.com/OFFIS-RIT/chronicle/pkg/analysis"
	"github.com/OFFIS-RIT/chronicle/pkg/common"
	"github.com/OFFIS-RIT/chronicle/pkg/graph"
	"github.com/OFFIS-RIT/chronicle/pkg/logger"
	"github.com/OFFIS-RIT/chronicle/pkg/store"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

type buildGraphBody struct {
	RunID         string                  `json:"run_id" validate:"omitempty,max=128"`
	MatterID      string                  `json:"matter_id"`
	Pages         []common.Page           `json:"pages" validate:"required"`
	Atoms         []graph.Atom            `json:"atoms"`
	WindowDays    *int                    `json:"window_days" validate:"omitempty,min=0"`
	BaselineCases []analysis.CaseFeatures `json:"baseline_cases"`
}

type buildGraphResponse struct {
	RunID          string                       `json:"run_id"`
	Graph          *common.EvidenceGraph        `json:"graph"`
	Contradictions []analysis.Conflict          `json:"contradictions"`
	Narrative      analysis.NarrativeDuality    `json:"narrative"`
	Comparative    analysis.ComparativeSnapshot `json:"comparative"`
}

// BuildGraphHandler builds, validates and analyses a chronology in the
// request. When a matter id is given and persistence is configured the run
// is recorded like a worker run.
func BuildGraphHandler(c echo.Context) error {
	data := new(buildGraphBody)
	if err := bindEvidence(c, data); err != nil {
		return bodyError(c, err)
	}

	if data.RunID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return internalError(c, "generate run id", err)
		}
		data.RunID = id
	}

	app := appOf(c)
	ctx := c.Request().Context()
	persist := app.Runs != nil && data.MatterID != ""
	if persist {
		if err := app.Runs.CreateRun(ctx, data.RunID, data.MatterID); err != nil {
			return internalError(c, "create run", err)
		}
		if err := app.Runs.MarkProcessing(ctx, data.RunID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return c.JSON(http.StatusConflict, errorResponse{Message: "Run already finished"})
			}
			return internalError(c, "mark run processing", err)
		}
	}

	g, err := graph.Build(&graph.BuildInput{Pages: data.Pages, Atoms: data.Atoms})
	if err != nil {
		if persist {
			recordFailure(ctx, app.Runs, data.RunID, err)
		}
		return engineError(c, err)
	}

	report, err := analysis.Analyze(g, app.Config, data.WindowDays, data.BaselineCases)
	if err != nil {
		if persist {
			recordFailure(ctx, app.Runs, data.RunID, err)
		}
		return engineError(c, err)
	}
	window := app.Config.WindowDays
	if data.WindowDays != nil {
		window = *data.WindowDays
	}
	if err := analysis.AttachSummary(g, report.Summarize(app.Config, window)); err != nil {
		return internalError(c, "attach summary", err)
	}

	if persist {
		if err := app.Runs.CompleteRun(ctx, data.RunID, g, storage.RunPrefix(data.RunID)); err != nil {
			if graph.ViolationsOf(err) != nil {
				recordFailure(ctx, app.Runs, data.RunID, err)
			}
			return engineError(c, err)
		}
	}

	logger.Debug("[Server] Built graph", "run_id", data.RunID, "events", len(g.Events), "contradictions", len(report.Contradictions))
	return c.JSON(http.StatusOK, buildGraphResponse{
		RunID:          data.RunID,
		Graph:          g,
		Contradictions: report.Contradictions,
		Narrative:      report.Narrative,
		Comparative:    report.Comparative,
	})
}

func recordFailure(ctx context.Context, runs store.RunStorage, runID string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	var err error
	if violations := graph.ViolationsOf(cause); violations != nil {
		err = runs.RejectRun(ctx, runID, violations)
	} else {
		err = runs.FailRun(ctx, runID, cause.Error())
	}
	if err != nil {
		logger.Warn("[Server] Failed to record run outcome", "run_id", runID, "err", err)
	}
}
