package routes

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/OFFIS-RIT/chronicle/internal/server/middleware"
	"github.com/OFFIS-RIT/chronicle/pkg/analysis"
	"github.com/OFFIS-RIT/chronicle/pkg/graph"
	"github.com/OFFIS-RIT/chronicle/pkg/logger"
	"github.com/OFFIS-RIT/chronicle/pkg/schema"

	"github.com/labstack/echo/v4"
)

// maxBodyBytes caps every request body the routes read themselves.
var maxBodyBytes int64 = 64 << 20

var errBodyTooLarge = errors.New("request body too large")

type errorResponse struct {
	Message    string            `json:"message"`
	Violations []graph.Violation `json:"violations,omitempty"`
}

func appOf(c echo.Context) *middleware.App {
	return c.(*middleware.AppContext).App
}

// readBody reads at most maxBodyBytes. A longer body is an error, never a
// shortened document.
func readBody(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes+1))
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge {
			return nil, errBodyTooLarge
		}
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > maxBodyBytes {
		return nil, errBodyTooLarge
	}
	return body, nil
}

// bindEvidence decodes a body carrying pages, atoms, claim rows or baselines.
// Only well formed JSON is accepted.
func bindEvidence(c echo.Context, out any) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}
	if err := schema.UnmarshalStrict(string(body), out); err != nil {
		return err
	}
	return c.Validate(out)
}

// bindFlexible decodes a control request with the same tolerance the worker
// applies to queue messages and then runs the echo validator.
func bindFlexible(c echo.Context, out any) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}
	if err := schema.UnmarshalFlexible(string(body), out); err != nil {
		return err
	}
	return c.Validate(out)
}

// bodyError answers a failed bind: 413 for an oversized body, 400 otherwise.
func bodyError(c echo.Context, err error) error {
	if errors.Is(err, errBodyTooLarge) {
		return c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Message: "Request body too large"})
	}
	return badRequest(c, "Invalid request body")
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Message: msg})
}

func internalError(c echo.Context, op string, err error) error {
	logger.Error("[Server] "+op, "path", c.Path(), "err", err)
	return c.JSON(http.StatusInternalServerError, errorResponse{Message: "Internal server error"})
}

// engineError maps engine errors onto HTTP answers: integrity failures are
// 422 with their violation list, bad input and configuration are 400.
func engineError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, graph.ErrIntegrityViolation):
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{
			Message:    "Graph failed integrity validation",
			Violations: graph.ViolationsOf(err),
		})
	case errors.Is(err, graph.ErrInvalidInput),
		errors.Is(err, graph.ErrUnsupportedSchema),
		errors.Is(err, analysis.ErrInvalidConfig):
		return badRequest(c, err.Error())
	default:
		return internalError(c, "engine failure", err)
	}
}
