package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/chronicle/internal/util"
	"github.com/OFFIS-RIT/chronicle/pkg/common"
	"github.com/OFFIS-RIT/chronicle/pkg/graph"
	"github.com/OFFIS-RIT/chronicle/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
}

// RunDBStorage implements store.RunStorage on the chronology_runs table.
type RunDBStorage struct {
	conn pgxIConn
}

var _ store.RunStorage = (*RunDBStorage)(nil)

func NewRunDBStorage(conn pgxIConn) *RunDBStorage {
	return &RunDBStorage{conn: conn}
}

func (s *RunDBStorage) CreateRun(ctx context.Context, runID, matterID string) error {
	_, err := s.conn.Exec(ctx, createRunSQL, runID, util.SanitizePostgresText(matterID))
	if err != nil {
		return fmt.Errorf("create run %s: %w", runID, err)
	}
	return nil
}

func (s *RunDBStorage) MarkProcessing(ctx context.Context, runID string) error {
	return s.execOne(ctx, "mark run processing", markProcessingSQL, runID)
}

// CompleteRun validates g once more before writing; a graph with violations
// is never stored as completed. The graph column holds the canonical bytes of
// graph.Marshal unchanged, so GetRun returns exactly the uploaded artifact.
func (s *RunDBStorage) CompleteRun(ctx context.Context, runID string, g *common.EvidenceGraph, artifactPrefix string) error {
	if violations := graph.Validate(g); len(violations) > 0 {
		return &graph.IntegrityError{Violations: violations}
	}
	data, err := graph.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode graph: %w", err)
	}
	return s.execOne(ctx, "complete run", completeRunSQL, runID, g.SchemaVersion, string(data), artifactPrefix)
}

func (s *RunDBStorage) RejectRun(ctx context.Context, runID string, violations []graph.Violation) error {
	if violations == nil {
		violations = []graph.Violation{}
	}
	data, err := json.Marshal(violations)
	if err != nil {
		return fmt.Errorf("encode violations: %w", err)
	}
	return s.execOne(ctx, "reject run", rejectRunSQL, runID, data)
}

func (s *RunDBStorage) FailRun(ctx context.Context, runID string, reason string) error {
	return s.execOne(ctx, "fail run", failRunSQL, runID, util.SanitizePostgresText(util.Truncate(reason, 2000)))
}

func (s *RunDBStorage) GetRun(ctx context.Context, runID string) (*store.Run, error) {
	var (
		run        store.Run
		status     string
		schema     *string
		graphText  *string
		violations []byte
		prefix     *string
		errMsg     *string
	)
	err := s.conn.QueryRow(ctx, getRunSQL, runID).Scan(
		&run.RunID,
		&run.MatterID,
		&status,
		&schema,
		&graphText,
		&violations,
		&prefix,
		&errMsg,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, runID)
		}
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}

	run.Status = store.RunStatus(status)
	run.SchemaVersion = deref(schema)
	run.ArtifactPrefix = deref(prefix)
	run.ErrorMessage = deref(errMsg)
	if graphText != nil && *graphText != "" {
		run.Graph = json.RawMessage(*graphText)
	}
	run.Violations = []graph.Violation{}
	if len(violations) > 0 {
		if err := json.Unmarshal(violations, &run.Violations); err != nil {
			return nil, fmt.Errorf("decode violations of run %s: %w", runID, err)
		}
	}
	return &run, nil
}

func (s *RunDBStorage) execOne(ctx context.Context, op, sql string, args ...any) error {
	tag, err := s.conn.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s %v: %w", op, args[0], err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w: %v", op, store.ErrNotFound, args[0])
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

const createRunSQL = `
INSERT INTO chronology_runs (run_id, matter_id, status)
VALUES ($1, $2, 'pending')
ON CONFLICT (run_id) DO NOTHING;
`

const markProcessingSQL = `
UPDATE chronology_runs
SET status = 'processing', error_message = NULL, updated_at = now()
WHERE run_id = $1 AND status NOT IN ('completed', 'rejected');
`

const completeRunSQL = `
UPDATE chronology_runs
SET status = 'completed',
    schema_version = $2,
    graph = $3,
    violations = '[]'::jsonb,
    artifact_prefix = $4,
    error_message = NULL,
    updated_at = now()
WHERE run_id = $1;
`

const rejectRunSQL = `
UPDATE chronology_runs
SET status = 'rejected',
    graph = NULL,
    violations = $2::jsonb,
    updated_at = now()
WHERE run_id = $1;
`

const failRunSQL = `
UPDATE chronology_runs
SET status = 'failed', error_message = $2, updated_at = now()
WHERE run_id = $1 AND status NOT IN ('completed', 'rejected');
`

const getRunSQL = `
SELECT run_id, matter_id, status, schema_version, graph, violations,
       artifact_prefix, error_message, created_at, updated_at
FROM chronology_runs
WHERE run_id = $1;
`
