package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/OFFIS-RIT/chronicle/pkg/common"
	"github.com/OFFIS-RIT/chronicle/pkg/graph"
)

var ErrNotFound = errors.New("run not found")

// RunStatus is the lifecycle state of a chronology run.
type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunProcessing RunStatus = "processing"
	RunCompleted  RunStatus = "completed"
	RunRejected   RunStatus = "rejected"
	RunFailed     RunStatus = "failed"
)

// Terminal reports whether a run in this status will not be processed again.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunRejected
}

// Run is one stored chronology build.
type Run struct {
	RunID          string            `json:"run_id"`
	MatterID       string            `json:"matter_id"`
	Status         RunStatus         `json:"status"`
	SchemaVersion  string            `json:"schema_version,omitempty"`
	Graph          json.RawMessage   `json:"graph,omitempty"`
	Violations     []graph.Violation `json:"violations"`
	ArtifactPrefix string            `json:"artifact_prefix,omitempty"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// RunStorage persists chronology runs. CompleteRun only accepts graphs with
// an empty violation list.
type RunStorage interface {
	CreateRun(ctx context.Context, runID, matterID string) error
	MarkProcessing(ctx context.Context, runID string) error
	CompleteRun(ctx context.Context, runID string, g *common.EvidenceGraph, artifactPrefix string) error
	RejectRun(ctx context.Context, runID string, violations []graph.Violation) error
	FailRun(ctx context.Context, runID string, reason string) error
	GetRun(ctx context.Context, runID string) (*Run, error)
}
