package analysis

import (
	"github.com/OFFIS-RIT/chronicle/pkg/common"
)

// ExtAnalysisSummary is the graph extension key written by AttachSummary.
const ExtAnalysisSummary = "analysis_summary"

// Report bundles all artifacts derived from one validated graph.
type Report struct {
	Rows           []ClaimRow          `json:"rows"`
	Contradictions []Conflict          `json:"contradictions"`
	Narrative      NarrativeDuality    `json:"narrative"`
	Comparative    ComparativeSnapshot `json:"comparative"`
}

// Summary is the compact view of a Report stored in graph extensions.
type Summary struct {
	ClaimRows          int            `json:"claim_rows"`
	Contradictions     map[string]int `json:"contradictions"`
	PlaintiffPoints    int            `json:"plaintiff_points"`
	DefensePoints      int            `json:"defense_points"`
	ComparativeStatus  string         `json:"comparative_status"`
	WindowDays         int            `json:"window_days"`
	GapThresholdDays   int            `json:"gap_threshold_days"`
	ComparativeVersion string         `json:"comparative_version"`
}

// Analyze runs every engine over a graph. windowDays overrides cfg.WindowDays
// when it is not nil. Configuration errors are returned before any rows are
// computed.
func Analyze(g *common.EvidenceGraph, cfg Config, windowDays *int, baselines []CaseFeatures) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	window := cfg.WindowDays
	if windowDays != nil {
		window = *windowDays
	}
	if err := ValidateWindow(window); err != nil {
		return nil, err
	}

	rows := FlattenClaims(g, cfg)
	conflicts, err := NewContradictionMatrix(cfg).Build(rows, window)
	if err != nil {
		return nil, err
	}

	return &Report{
		Rows:           rows,
		Contradictions: conflicts,
		Narrative:      BuildNarrative(rows, conflicts, cfg),
		Comparative:    ComparePattern(rows, baselines, cfg),
	}, nil
}

// Summarize condenses a report.
func (r *Report) Summarize(cfg Config, windowDays int) Summary {
	return Summary{
		ClaimRows:          len(r.Rows),
		Contradictions:     CountByCategory(r.Contradictions),
		PlaintiffPoints:    len(r.Narrative.Plaintiff.Points),
		DefensePoints:      len(r.Narrative.Defense.Points),
		ComparativeStatus:  r.Comparative.Status,
		WindowDays:         windowDays,
		GapThresholdDays:   cfg.GapThresholdDays,
		ComparativeVersion: r.Comparative.Version,
	}
}

// AttachSummary records the report summary in the graph extensions. This is
// an additive change and never touches the validated graph fields.
func AttachSummary(g *common.EvidenceGraph, s Summary) error {
	if g.Extensions == nil {
		g.Extensions = common.Extensions{}
	}
	return g.Extensions.Set(ExtAnalysisSummary, s)
}
