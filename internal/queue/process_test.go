package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/OFFIS-RIT/chronicle/internal/storage"
	"github.com/OFFIS-RIT/chronicle/internal/util"
	"github.com/OFFIS-RIT/chronicle/pkg/analysis"
	"github.com/OFFIS-RIT/chronicle/pkg/common"
	"github.com/OFFIS-RIT/chronicle/pkg/graph"
	"github.com/OFFIS-RIT/chronicle/pkg/runlock"
	"github.com/OFFIS-RIT/chronicle/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemObjects() *memObjects {
	return &memObjects{objects: make(map[string][]byte)}
}

func (m *memObjects) GetFile(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, key)
	}
	return data, nil
}

func (m *memObjects) PutJSON(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.objects[key] = data
	return nil
}

func (m *memObjects) DeleteFolder(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			delete(m.objects, k)
		}
	}
	return nil
}

type memRuns struct {
	runs map[string]*store.Run
}

func newMemRuns() *memRuns {
	return &memRuns{runs: make(map[string]*store.Run)}
}

func (m *memRuns) CreateRun(_ context.Context, runID, matterID string) error {
	if _, ok := m.runs[runID]; !ok {
		m.runs[runID] = &store.Run{RunID: runID, MatterID: matterID, Status: store.RunPending, Violations: []graph.Violation{}}
	}
	return nil
}

func (m *memRuns) MarkProcessing(_ context.Context, runID string) error {
	m.runs[runID].Status = store.RunProcessing
	return nil
}

func (m *memRuns) CompleteRun(_ context.Context, runID string, g *common.EvidenceGraph, prefix string) error {
	if vs := graph.Validate(g); len(vs) > 0 {
		return &graph.IntegrityError{Violations: vs}
	}
	data, err := graph.Marshal(g)
	if err != nil {
		return err
	}
	r := m.runs[runID]
	r.Status, r.Graph, r.ArtifactPrefix = store.RunCompleted, data, prefix
	return nil
}

func (m *memRuns) RejectRun(_ context.Context, runID string, violations []graph.Violation) error {
	r := m.runs[runID]
	r.Status, r.Violations = store.RunRejected, violations
	return nil
}

func (m *memRuns) FailRun(_ context.Context, runID string, reason string) error {
	r := m.runs[runID]
	r.Status, r.ErrorMessage = store.RunFailed, reason
	return nil
}

func (m *memRuns) GetRun(_ context.Context, runID string) (*store.Run, error) {
	r, ok := m.runs[runID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

type passLocker struct {
	runIDs []string
	err    error
}

func (l *passLocker) Hold(ctx context.Context, runID string, fn func(ctx context.Context) error) error {
	l.runIDs = append(l.runIDs, runID)
	if l.err != nil {
		return l.err
	}
	return fn(ctx)
}

type countingRecorder struct {
	finished   []string
	violations []string
	inFlight   int
}

func (c *countingRecorder) StartRun() { c.inFlight++ }
func (c *countingRecorder) FinishRun(status string, _ time.Duration) {
	c.inFlight--
	c.finished = append(c.finished, status)
}
func (c *countingRecorder) ObserveGraph(int)                    {}
func (c *countingRecorder) RecordContradictions(map[string]int) {}
func (c *countingRecorder) RecordViolation(inv string)          { c.violations = append(c.violations, inv) }

const inputJSON = `{
  "pages": [
    {"page_id": "p1", "source_document_id": "doc", "page_number": 1},
    {"page_id": "p2", "source_document_id": "doc", "page_number": 2}
  ],
  "atoms": [
    {"atom_id": "a1", "page_id": "p1", "event_key": "visit",
     "raw_text": "Left leg numbness, pain 8/10.",
     "extracted_fields": {"event_type": "office_visit", "fact_kind": "symptom", "confidence": 80},
     "candidate_dates": [{"value": "2025-01-01", "source": "TIER1"}]},
    {"atom_id": "a2", "page_id": "p2", "event_key": "followup",
     "raw_text": "Right leg numbness, pain 3/10.",
     "extracted_fields": {"event_type": "office_visit", "fact_kind": "symptom", "confidence": 80},
     "candidate_dates": [{"value": "2025-01-10", "source": "TIER1"}]}
  ]
}`

type harness struct {
	objects  *memObjects
	runs     *memRuns
	locks    *passLocker
	recorder *countingRecorder
	p        *Processor
}

func newHarness() *harness {
	h := &harness{
		objects:  newMemObjects(),
		runs:     newMemRuns(),
		locks:    &passLocker{},
		recorder: &countingRecorder{},
	}
	h.objects.objects["inputs/m1.json"] = []byte(inputJSON)
	h.p = &Processor{
		Objects: h.objects,
		Runs:    h.runs,
		Locks:   h.locks,
		Metrics: h.recorder,
		Config:  analysis.DefaultConfig(),
	}
	return h
}

func message(t *testing.T, msg RunMessage) []byte {
	t.Helper()
	data, err := EncodeRunMessage(msg)
	require.NoError(t, err)
	return data
}

func TestProcessRunMessage_Completed(t *testing.T) {
	h := newHarness()
	body := message(t, RunMessage{RunID: "r1", MatterID: "m1", InputKey: "inputs/m1.json"})

	require.NoError(t, h.p.ProcessRunMessage(context.Background(), body))

	run := h.runs.runs["r1"]
	assert.Equal(t, store.RunCompleted, run.Status)
	assert.Equal(t, "runs/r1/", run.ArtifactPrefix)
	assert.Equal(t, []string{"r1"}, h.locks.runIDs)
	assert.Equal(t, []string{"completed"}, h.recorder.finished)
	assert.Zero(t, h.recorder.inFlight)

	for _, name := range []string{"graph", "contradictions", "narrative", "comparative"} {
		assert.Contains(t, h.objects.objects, "runs/r1/"+name+".json")
	}

	g, err := graph.Parse(h.objects.objects["runs/r1/graph.json"])
	require.NoError(t, err)
	assert.Empty(t, graph.Validate(g))
	var summary analysis.Summary
	ok, err := g.Extensions.Get(analysis.ExtAnalysisSummary, &summary)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 30, summary.WindowDays)

	var conflicts []analysis.Conflict
	require.NoError(t, json.Unmarshal(h.objects.objects["runs/r1/contradictions.json"], &conflicts))
	assert.Equal(t, map[string]int{analysis.CategoryLaterality: 1, analysis.CategoryPainSeverity: 1}, analysis.CountByCategory(conflicts))
}

func TestProcessRunMessage_WindowOverride(t *testing.T) {
	h := newHarness()
	window := 5
	body := message(t, RunMessage{RunID: "r1", MatterID: "m1", InputKey: "inputs/m1.json", WindowDays: &window})

	require.NoError(t, h.p.ProcessRunMessage(context.Background(), body))

	var conflicts []analysis.Conflict
	require.NoError(t, json.Unmarshal(h.objects.objects["runs/r1/contradictions.json"], &conflicts))
	assert.Empty(t, conflicts, "rows nine days apart fall outside a five day window")
}

func TestProcessRunMessage_Rejected(t *testing.T) {
	h := newHarness()
	h.objects.objects["runs/r1/graph.json"] = []byte("{}")
	violations := []graph.Violation{{Invariant: graph.InvariantCitationPage, EntityIDs: []string{"cit"}, Message: "page 9 does not exist"}}
	h.p.Build = func(*graph.BuildInput) (*common.EvidenceGraph, error) {
		return nil, &graph.IntegrityError{Violations: violations}
	}

	body := message(t, RunMessage{RunID: "r1", MatterID: "m1", InputKey: "inputs/m1.json"})
	require.NoError(t, h.p.ProcessRunMessage(context.Background(), body), "rejections are acked")

	run := h.runs.runs["r1"]
	assert.Equal(t, store.RunRejected, run.Status)
	assert.Equal(t, violations, run.Violations)
	assert.Nil(t, run.Graph)
	assert.NotContains(t, h.objects.objects, "runs/r1/graph.json", "stale artifacts are removed")
	assert.Equal(t, []string{graph.InvariantCitationPage}, h.recorder.violations)
	assert.Equal(t, []string{"rejected"}, h.recorder.finished)
}

func TestProcessRunMessage_TerminalRunSkipped(t *testing.T) {
	h := newHarness()
	h.runs.runs["r1"] = &store.Run{RunID: "r1", MatterID: "m1", Status: store.RunCompleted}

	body := message(t, RunMessage{RunID: "r1", MatterID: "m1", InputKey: "inputs/m1.json"})
	require.NoError(t, h.p.ProcessRunMessage(context.Background(), body))
	assert.Empty(t, h.locks.runIDs)
	assert.Empty(t, h.recorder.finished)
}

func TestProcessRunMessage_PermanentFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		body  string
	}{
		{name: "malformed message", body: `not even close`},
		{name: "missing run id", body: `{"matter_id": "m1", "input_key": "inputs/m1.json"}`},
		{name: "negative window", body: `{"run_id": "r1", "matter_id": "m1", "input_key": "inputs/m1.json", "window_days": -3}`},
		{name: "missing input", body: `{"run_id": "r1", "matter_id": "m1", "input_key": "inputs/none.json"}`},
		{
			name:  "invalid input",
			setup: func(h *harness) { h.objects.objects["inputs/m1.json"] = []byte(`{"pages": [{"page_id": "p1", "source_document_id": "doc", "page_number": 1}], "atoms": [{"page_id": "p1", "event_key": "e"}]}`) },
			body:  `{"run_id": "r1", "matter_id": "m1", "input_key": "inputs/m1.json"}`,
		},
		{
			name:  "truncated input",
			setup: func(h *harness) { h.objects.objects["inputs/m1.json"] = []byte(inputJSON[:strings.Index(inputJSON, `{"atom_id": "a2"`)]) },
			body:  `{"run_id": "r1", "matter_id": "m1", "input_key": "inputs/m1.json"}`,
		},
		{
			name:  "truncated baselines",
			setup: func(h *harness) { h.objects.objects["baselines/b.json"] = []byte(`[{"claim_row_count": 4, "claim_type_distribution": {"symptom": 4`) },
			body:  `{"run_id": "r1", "matter_id": "m1", "input_key": "inputs/m1.json", "baseline_key": "baselines/b.json"}`,
		},
		{name: "missing baselines", body: `{"run_id": "r1", "matter_id": "m1", "input_key": "inputs/m1.json", "baseline_key": "baselines/none.json"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			if tt.setup != nil {
				tt.setup(h)
			}
			err := h.p.ProcessRunMessage(context.Background(), []byte(tt.body))
			require.Error(t, err)
			assert.True(t, util.IsPermanent(err), "error %v should be permanent", err)
			if run, ok := h.runs.runs["r1"]; ok && run.Status != store.RunPending {
				assert.Equal(t, store.RunFailed, run.Status)
			}
		})
	}
}

func TestProcessRunMessage_TransientUploadFailure(t *testing.T) {
	h := newHarness()
	h.objects.putErr = errors.New("s3 unavailable")

	body := message(t, RunMessage{RunID: "r1", MatterID: "m1", InputKey: "inputs/m1.json"})
	err := h.p.ProcessRunMessage(context.Background(), body)
	require.Error(t, err)
	assert.False(t, util.IsPermanent(err))
	assert.Equal(t, store.RunProcessing, h.runs.runs["r1"].Status, "retried runs stay processing")
}

func TestProcessRunMessage_ClaimHeld(t *testing.T) {
	h := newHarness()
	h.locks.err = runlock.ErrHeld

	body := message(t, RunMessage{RunID: "r1", MatterID: "m1", InputKey: "inputs/m1.json"})
	err := h.p.ProcessRunMessage(context.Background(), body)
	assert.ErrorIs(t, err, runlock.ErrHeld)
	assert.False(t, util.IsPermanent(err))
}

func TestProcessRunMessage_Baselines(t *testing.T) {
	h := newHarness()
	baselines := make([]analysis.CaseFeatures, 500)
	for i := range baselines {
		baselines[i] = analysis.CaseFeatures{ClaimRowCount: 2 + i%3, ClaimTypeDistribution: map[string]int{}, AvgSupportScore: 0.7 + float64(i%5)/100}
	}
	data, err := json.Marshal(baselines)
	require.NoError(t, err)
	h.objects.objects["baselines/all.json"] = data

	body := message(t, RunMessage{RunID: "r1", MatterID: "m1", InputKey: "inputs/m1.json", BaselineKey: "baselines/all.json"})
	require.NoError(t, h.p.ProcessRunMessage(context.Background(), body))

	var snap analysis.ComparativeSnapshot
	require.NoError(t, json.Unmarshal(h.objects.objects["runs/r1/comparative.json"], &snap))
	assert.Equal(t, analysis.StatusDeviationComputed, snap.Status)
	assert.Equal(t, 500, snap.BaselineCases)
}
