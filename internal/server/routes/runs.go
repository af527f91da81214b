package routes

import (
	"errors"
	"net/http"
	"path"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/chronicle/internal/queue"
	"github.com/OFFIS-RIT/chronicle/internal/storage"
	"github.com/OFFIS-RIT/chronicle/pkg/store"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

func unavailable(c echo.Context) error {
	return c.JSON(http.StatusServiceUnavailable, errorResponse{Message: "Run persistence is not configured"})
}

// CreateRunHandler records a pending run and hands it to the worker queue.
// The input document must already be uploaded to the bucket.
func CreateRunHandler(c echo.Context) error {
	type createRunBody struct {
		RunID       string `json:"run_id" validate:"omitempty,max=128"`
		MatterID    string `json:"matter_id" validate:"required"`
		InputKey    string `json:"input_key" validate:"required"`
		WindowDays  *int   `json:"window_days" validate:"omitempty,min=0"`
		BaselineKey string `json:"baseline_key"`
	}
	type createRunResponse struct {
		RunID  string          `json:"run_id"`
		Status store.RunStatus `json:"status"`
		Queue  string          `json:"queue"`
	}

	app := appOf(c)
	if app.Runs == nil || app.Queue == nil {
		return unavailable(c)
	}

	data := new(createRunBody)
	if err := bindFlexible(c, data); err != nil {
		return bodyError(c, err)
	}
	if data.RunID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return internalError(c, "generate run id", err)
		}
		data.RunID = id
	}

	msg, err := queue.EncodeRunMessage(queue.RunMessage{
		RunID:       data.RunID,
		MatterID:    data.MatterID,
		InputKey:    data.InputKey,
		WindowDays:  data.WindowDays,
		BaselineKey: data.BaselineKey,
	})
	if err != nil {
		return badRequest(c, err.Error())
	}

	ctx := c.Request().Context()
	if err := app.Runs.CreateRun(ctx, data.RunID, data.MatterID); err != nil {
		return internalError(c, "create run", err)
	}
	if err := queue.PublishFIFO(app.Queue, queue.ChronologyQueue, msg); err != nil {
		if ferr := app.Runs.FailRun(ctx, data.RunID, "enqueue failed"); ferr != nil {
			err = errors.Join(err, ferr)
		}
		return internalError(c, "enqueue run", err)
	}

	return c.JSON(http.StatusAccepted, createRunResponse{
		RunID:  data.RunID,
		Status: store.RunPending,
		Queue:  queue.ChronologyQueue,
	})
}

// GetRunHandler returns a stored run and, when a bucket is configured, the
// names of the artifacts uploaded for it.
func GetRunHandler(c echo.Context) error {
	type runResponse struct {
		*store.Run
		Artifacts []string `json:"artifacts,omitempty"`
	}

	app := appOf(c)
	if app.Runs == nil {
		return unavailable(c)
	}

	runID := c.Param("id")
	ctx := c.Request().Context()
	run, err := app.Runs.GetRun(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorResponse{Message: "Run not found"})
	}
	if err != nil {
		return internalError(c, "get run", err)
	}

	res := runResponse{Run: run}
	if app.Bucket != nil && run.Status == store.RunCompleted {
		keys, err := app.Bucket.ListFilesWithPrefix(ctx, storage.RunPrefix(runID))
		if err != nil {
			return internalError(c, "list artifacts", err)
		}
		for _, key := range keys {
			res.Artifacts = append(res.Artifacts, strings.TrimSuffix(path.Base(key), ".json"))
		}
	}

	return c.JSON(http.StatusOK, res)
}

// GetRunArtifactHandler serves one uploaded artifact of a run. With a
// presigner configured the client is redirected to the object store instead.
func GetRunArtifactHandler(c echo.Context) error {
	app := appOf(c)
	if app.Bucket == nil {
		return unavailable(c)
	}

	artifact := c.Param("artifact")
	if !slices.Contains(queue.ArtifactNames(), artifact) {
		return c.JSON(http.StatusNotFound, errorResponse{Message: "Unknown artifact"})
	}

	ctx := c.Request().Context()
	key := storage.ArtifactKey(c.Param("id"), artifact)
	if app.Presign != nil {
		link, err := app.Presign(ctx, key)
		if err != nil {
			return internalError(c, "presign artifact", err)
		}
		return c.Redirect(http.StatusTemporaryRedirect, link)
	}

	data, err := app.Bucket.GetFile(ctx, key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return c.JSON(http.StatusNotFound, errorResponse{Message: "Artifact not found"})
	}
	if err != nil {
		return internalError(c, "get artifact", err)
	}
	return c.JSONBlob(http.StatusOK, data)
}
