package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/chronicle/internal/storage"
	"github.com/OFFIS-RIT/chronicle/internal/util"
	"github.com/OFFIS-RIT/chronicle/pkg/analysis"
	"github.com/OFFIS-RIT/chronicle/pkg/common"
	"github.com/OFFIS-RIT/chronicle/pkg/graph"
	"github.com/OFFIS-RIT/chronicle/pkg/runlock"
	"github.com/OFFIS-RIT/chronicle/pkg/logger"
	"github.com/OFFIS-RIT/chronicle/pkg/schema"
	"github.com/OFFIS-RIT/chronicle/pkg/store"

	"golang.org/x/sync/errgroup"
)

// ObjectStore reads run inputs and writes run artifacts.
type ObjectStore interface {
	GetFile(ctx context.Context, key string) ([]byte, error)
	PutJSON(ctx context.Context, key string, data []byte) error
	DeleteFolder(ctx context.Context, prefix string) error
}

// Locker serializes work on one run across workers.
type Locker interface {
	Hold(ctx context.Context, runID string, fn func(ctx context.Context) error) error
}

// Recorder receives run metrics.
type Recorder interface {
	StartRun()
	FinishRun(status string, duration time.Duration)
	ObserveGraph(events int)
	RecordContradictions(byCategory map[string]int)
	RecordViolation(invariant string)
}

// Artifact names uploaded for each completed run.
const (
	ArtifactGraph          = schema.ArtifactGraph
	ArtifactContradictions = schema.ArtifactContradictions
	ArtifactNarrative      = schema.ArtifactNarrative
	ArtifactComparative    = schema.ArtifactComparative
)

// ArtifactNames lists the artifacts EncodeArtifacts produces.
func ArtifactNames() []string {
	return []string{ArtifactGraph, ArtifactContradictions, ArtifactNarrative, ArtifactComparative}
}

type Processor struct {
	Objects ObjectStore
	Runs    store.RunStorage
	Locks   Locker
	Metrics Recorder
	Config  analysis.Config

	// Build defaults to graph.Build.
	Build func(in *graph.BuildInput) (*common.EvidenceGraph, error)
}

// ProcessRunMessage handles one delivery of chronology_queue. A nil return
// means the message can be acked, which includes runs that were rejected by
// the validator: rejection is recorded and is not retried.
func (p *Processor) ProcessRunMessage(ctx context.Context, body []byte) error {
	msg, err := DecodeRunMessage(body)
	if err != nil {
		return err
	}
	log := logger.With("run_id", msg.RunID, "matter_id", msg.MatterID)

	if err := p.Runs.CreateRun(ctx, msg.RunID, msg.MatterID); err != nil {
		return err
	}
	run, err := p.Runs.GetRun(ctx, msg.RunID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		log.Info("[Worker] Run already finished, skipping", "status", run.Status)
		return nil
	}

	err = p.Locks.Hold(ctx, msg.RunID, func(ctx context.Context) error {
		return p.processRun(ctx, msg, log)
	})
	if errors.Is(err, runlock.ErrHeld) {
		log.Info("[Worker] Run is claimed by another worker")
	}
	return err
}

func (p *Processor) processRun(ctx context.Context, msg RunMessage, log logger.Scope) (err error) {
	start := time.Now()
	status := string(store.RunFailed)
	p.metrics().StartRun()
	defer func() {
		p.metrics().FinishRun(status, time.Since(start))
	}()

	if err := p.Runs.MarkProcessing(ctx, msg.RunID); err != nil {
		return err
	}

	defer func() {
		if err == nil || !util.IsPermanent(err) {
			return
		}
		failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if failErr := p.Runs.FailRun(failCtx, msg.RunID, err.Error()); failErr != nil {
			log.Warn("[Worker] Failed to mark run as failed", "err", failErr)
		}
	}()

	in, baselines, err := p.loadInputs(ctx, msg)
	if err != nil {
		return err
	}

	build := p.Build
	if build == nil {
		build = graph.Build
	}
	g, err := build(in)
	if err != nil {
		if errors.Is(err, graph.ErrIntegrityViolation) {
			if err := p.reject(ctx, msg, graph.ViolationsOf(err), log); err != nil {
				return err
			}
			status = string(store.RunRejected)
			return nil
		}
		return util.Permanent(err)
	}
	p.metrics().ObserveGraph(len(g.Events))

	report, err := analysis.Analyze(g, p.Config, msg.WindowDays, baselines)
	if err != nil {
		return util.Permanent(err)
	}
	window := p.Config.WindowDays
	if msg.WindowDays != nil {
		window = *msg.WindowDays
	}
	if err := analysis.AttachSummary(g, report.Summarize(p.Config, window)); err != nil {
		return util.Permanent(err)
	}

	artifacts, err := EncodeArtifacts(g, report)
	if err != nil {
		return util.Permanent(err)
	}
	if err := p.upload(ctx, msg.RunID, artifacts); err != nil {
		return err
	}

	if err := p.Runs.CompleteRun(ctx, msg.RunID, g, storage.RunPrefix(msg.RunID)); err != nil {
		return err
	}

	status = string(store.RunCompleted)
	counts := analysis.CountByCategory(report.Contradictions)
	p.metrics().RecordContradictions(counts)
	log.Info("[Worker] Run completed",
		"events", len(g.Events),
		"claim_rows", len(report.Rows),
		"contradictions", len(report.Contradictions),
		"comparative", report.Comparative.Status,
	)
	return nil
}

func (p *Processor) loadInputs(ctx context.Context, msg RunMessage) (*graph.BuildInput, []analysis.CaseFeatures, error) {
	data, err := p.Objects.GetFile(ctx, msg.InputKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, nil, util.Permanent(err)
		}
		return nil, nil, err
	}
	in := new(graph.BuildInput)
	if err := schema.UnmarshalStrict(string(data), in); err != nil {
		return nil, nil, util.Permanent(fmt.Errorf("decode build input %s: %w", msg.InputKey, err))
	}

	if msg.BaselineKey == "" {
		return in, nil, nil
	}
	data, err = p.Objects.GetFile(ctx, msg.BaselineKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, nil, util.Permanent(err)
		}
		return nil, nil, err
	}
	var baselines []analysis.CaseFeatures
	if err := schema.UnmarshalStrict(string(data), &baselines); err != nil {
		return nil, nil, util.Permanent(fmt.Errorf("decode baselines %s: %w", msg.BaselineKey, err))
	}
	return in, baselines, nil
}

func (p *Processor) reject(ctx context.Context, msg RunMessage, violations []graph.Violation, log logger.Scope) error {
	for _, v := range violations {
		p.metrics().RecordViolation(v.Invariant)
	}
	if err := p.Objects.DeleteFolder(ctx, storage.RunPrefix(msg.RunID)); err != nil {
		return err
	}
	if err := p.Runs.RejectRun(ctx, msg.RunID, violations); err != nil {
		return err
	}
	log.Warn("[Worker] Run rejected by validator", "violations", len(violations))
	return nil
}

func (p *Processor) upload(ctx context.Context, runID string, artifacts map[string][]byte) error {
	eg, ectx := errgroup.WithContext(ctx)
	for name, data := range artifacts {
		key := storage.ArtifactKey(runID, name)
		eg.Go(func() error {
			return util.RetryErrWithContext(ectx, 3, 200*time.Millisecond, func(ctx context.Context) error {
				return p.Objects.PutJSON(ctx, key, data)
			})
		})
	}
	return eg.Wait()
}

func (p *Processor) metrics() Recorder {
	if p.Metrics == nil {
		return noopRecorder{}
	}
	return p.Metrics
}

// EncodeArtifacts serializes the uploadable artifacts of a run.
func EncodeArtifacts(g *common.EvidenceGraph, report *analysis.Report) (map[string][]byte, error) {
	graphData, err := graph.Marshal(g)
	if err != nil {
		return nil, err
	}
	out := map[string][]byte{ArtifactGraph: graphData}

	parts := map[string]any{
		ArtifactContradictions: report.Contradictions,
		ArtifactNarrative:      report.Narrative,
		ArtifactComparative:    report.Comparative,
	}
	for name, v := range parts {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		out[name] = data
	}
	return out, nil
}

type noopRecorder struct{}

func (noopRecorder) StartRun()                           {}
func (noopRecorder) FinishRun(string, time.Duration)     {}
func (noopRecorder) ObserveGraph(int)                    {}
func (noopRecorder) RecordContradictions(map[string]int) {}
func (noopRecorder) RecordViolation(string)              {}
