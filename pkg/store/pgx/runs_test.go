package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/OFFIS-RIT/chronicle/pkg/common"
	"github.com/OFFIS-RIT/chronicle/pkg/graph"
	"github.com/OFFIS-RIT/chronicle/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type execCall struct {
	sql  string
	args []any
}

type fakeConn struct {
	calls    []execCall
	affected int64
	row      pgxv5.Row
}

func (f *fakeConn) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	if f.affected == 0 {
		return pgconn.NewCommandTag("UPDATE 0"), nil
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (f *fakeConn) QueryRow(_ context.Context, _ string, _ ...any) pgxv5.Row {
	return f.row
}

type scanRow struct {
	values []any
	err    error
}

func (r scanRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, v := range r.values {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case **string:
			if v != nil {
				s := v.(string)
				*d = &s
			}
		case *[]byte:
			if v != nil {
				*d = v.([]byte)
			}
		case *time.Time:
			*d = v.(time.Time)
		}
	}
	return nil
}

func validGraph(t *testing.T) *common.EvidenceGraph {
	t.Helper()
	g, err := graph.Build(&graph.BuildInput{
		Pages: []common.Page{{PageID: "p1", SourceDocumentID: "doc", PageNumber: 1}},
		Atoms: []graph.Atom{{
			AtomID:         "a1",
			PageID:         "p1",
			EventKey:       "visit",
			RawText:        "Left knee pain.",
			CandidateDates: []graph.CandidateDate{{Value: "2025-01-01", Source: "TIER1"}},
		}},
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return g
}

func TestCompleteRun(t *testing.T) {
	conn := &fakeConn{affected: 1}
	s := NewRunDBStorage(conn)
	g := validGraph(t)

	if err := s.CompleteRun(context.Background(), "r1", g, "runs/r1/"); err != nil {
		t.Fatalf("CompleteRun() error = %v", err)
	}
	if len(conn.calls) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(conn.calls))
	}
	call := conn.calls[0]
	if call.args[0] != "r1" || call.args[1] != common.SchemaVersion || call.args[3] != "runs/r1/" {
		t.Fatalf("unexpected args %v", call.args)
	}
	want, _ := graph.Marshal(g)
	if call.args[2].(string) != string(want) {
		t.Fatal("stored graph is not the canonical encoding")
	}
	if strings.Contains(completeRunSQL, "$3::jsonb") {
		t.Fatal("graph must be stored without a jsonb cast")
	}
}

func TestGetRun_ReturnsCanonicalGraph(t *testing.T) {
	conn := &fakeConn{affected: 1}
	s := NewRunDBStorage(conn)
	g := validGraph(t)
	if err := s.CompleteRun(context.Background(), "r1", g, "runs/r1/"); err != nil {
		t.Fatalf("CompleteRun() error = %v", err)
	}
	stored := conn.calls[0].args[2].(string)

	created := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	conn.row = scanRow{values: []any{
		"r1", "matter-7", "completed", common.SchemaVersion, stored,
		[]byte(`[]`), "runs/r1/", nil, created, created,
	}}
	run, err := s.GetRun(context.Background(), "r1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}

	want, err := graph.Marshal(g)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(run.Graph) != string(want) {
		t.Fatalf("GetRun() graph = %s, want %s", run.Graph, want)
	}
	parsed, err := graph.Parse(run.Graph)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	again, _ := graph.Marshal(parsed)
	if string(again) != string(want) {
		t.Fatal("stored graph does not round-trip byte for byte")
	}
}

func TestCompleteRun_RejectsInvalidGraph(t *testing.T) {
	conn := &fakeConn{affected: 1}
	s := NewRunDBStorage(conn)
	g := validGraph(t)
	g.Citations[0].PageNumber = 42

	err := s.CompleteRun(context.Background(), "r1", g, "runs/r1/")
	if !errors.Is(err, graph.ErrIntegrityViolation) {
		t.Fatalf("CompleteRun() error = %v, want ErrIntegrityViolation", err)
	}
	if len(conn.calls) != 0 {
		t.Fatal("invalid graph reached the database")
	}
}

func TestRejectRun(t *testing.T) {
	conn := &fakeConn{affected: 1}
	s := NewRunDBStorage(conn)
	violations := []graph.Violation{{Invariant: graph.InvariantCitationPage, EntityIDs: []string{"cit_1"}, Message: "page 9 missing"}}

	if err := s.RejectRun(context.Background(), "r1", violations); err != nil {
		t.Fatalf("RejectRun() error = %v", err)
	}
	var stored []graph.Violation
	if err := json.Unmarshal(conn.calls[0].args[1].([]byte), &stored); err != nil {
		t.Fatalf("violations are not json: %v", err)
	}
	if len(stored) != 1 || stored[0].Invariant != graph.InvariantCitationPage {
		t.Fatalf("stored violations = %v", stored)
	}
}

func TestExecOne_NotFound(t *testing.T) {
	s := NewRunDBStorage(&fakeConn{affected: 0})
	if err := s.MarkProcessing(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("MarkProcessing() error = %v, want ErrNotFound", err)
	}
}

func TestFailRun_SanitizesReason(t *testing.T) {
	conn := &fakeConn{affected: 1}
	s := NewRunDBStorage(conn)
	if err := s.FailRun(context.Background(), "r1", "s3 \x00timeout "+strings.Repeat("x", 3000)); err != nil {
		t.Fatalf("FailRun() error = %v", err)
	}
	reason := conn.calls[0].args[1].(string)
	if strings.ContainsRune(reason, 0) {
		t.Fatal("NUL byte not stripped")
	}
	if len([]rune(reason)) > 2000 {
		t.Fatalf("reason not truncated: %d runes", len([]rune(reason)))
	}
}

func TestGetRun(t *testing.T) {
	created := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	conn := &fakeConn{row: scanRow{values: []any{
		"r1", "matter-7", "rejected", nil, nil,
		[]byte(`[{"invariant":"unique_id","entity_ids":["evt_1"],"message":"duplicate"}]`),
		nil, nil, created, created,
	}}}

	run, err := NewRunDBStorage(conn).GetRun(context.Background(), "r1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != store.RunRejected || run.MatterID != "matter-7" {
		t.Fatalf("unexpected run %+v", run)
	}
	if run.Graph != nil {
		t.Fatal("rejected run must not carry a graph")
	}
	if len(run.Violations) != 1 || run.Violations[0].Invariant != graph.InvariantUniqueID {
		t.Fatalf("violations = %v", run.Violations)
	}
	if !run.Status.Terminal() {
		t.Fatal("rejected should be terminal")
	}
}

func TestGetRun_NotFound(t *testing.T) {
	conn := &fakeConn{row: scanRow{err: pgxv5.ErrNoRows}}
	_, err := NewRunDBStorage(conn).GetRun(context.Background(), "nope")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetRun() error = %v, want ErrNotFound", err)
	}
}
