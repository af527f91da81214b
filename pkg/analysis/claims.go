package analysis

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"time"

	"github.com/OFFIS-RIT/chronicle/pkg/common"
	"github.com/OFFIS-RIT/chronicle/pkg/graph"
)

// ClaimType is the legal-analysis category of a claim row.
type ClaimType string

const (
	ClaimSymptom            ClaimType = "SYMPTOM"
	ClaimImagingFinding     ClaimType = "IMAGING_FINDING"
	ClaimDiagnosis          ClaimType = "DIAGNOSIS"
	ClaimTreatment          ClaimType = "TREATMENT"
	ClaimProcedure          ClaimType = "PROCEDURE"
	ClaimPreExistingMention ClaimType = "PRE_EXISTING_MENTION"
	ClaimDisposition        ClaimType = "DISPOSITION"
	ClaimGapInCare          ClaimType = "GAP_IN_CARE"
	ClaimOther              ClaimType = "OTHER"
)

var ValidClaimTypes = []ClaimType{
	ClaimSymptom,
	ClaimImagingFinding,
	ClaimDiagnosis,
	ClaimTreatment,
	ClaimProcedure,
	ClaimPreExistingMention,
	ClaimDisposition,
	ClaimGapInCare,
	ClaimOther,
}

// FlagPriorHistoryOverlap marks rows whose assertion refers to a condition
// that predates the events under review.
const FlagPriorHistoryOverlap = "PRIOR_HISTORY_OVERLAP"

// ClaimRow is one flattened, dated assertion. Rows are the common input of
// every analysis engine.
type ClaimRow struct {
	ID           string    `json:"id" validate:"required"`
	EventID      string    `json:"event_id"`
	Date         string    `json:"date"`
	ClaimType    ClaimType `json:"claim_type" validate:"required"`
	Assertion    string    `json:"assertion"`
	SupportScore float64   `json:"support_score" validate:"min=0,max=1"`
	Citations    []string  `json:"citations"`
	Flags        []string  `json:"flags"`
}

// Citation returns the first citation of the row, or nil.
func (r *ClaimRow) Citation() *string {
	if len(r.Citations) == 0 {
		return nil
	}
	c := r.Citations[0]
	return &c
}

func (r *ClaimRow) HasFlag(flag string) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

var priorHistoryPattern = regexp.MustCompile(`(?i)\b(history of|hx of|prior|previous(ly)?|pre-?existing|chronic|long-?standing)\b`)

var preExistingPattern = regexp.MustCompile(`(?i)\bpre-?existing\b`)

// FlattenClaims turns every fact of every event into a claim row and adds a
// GAP_IN_CARE row wherever two consecutive dated events lie further apart than
// the configured gap threshold. The result is sorted by date, undated rows
// last, then by id.
func FlattenClaims(g *common.EvidenceGraph, cfg Config) []ClaimRow {
	if g == nil {
		return []ClaimRow{}
	}

	rows := make([]ClaimRow, 0, len(g.Events))
	for i := range g.Events {
		ev := &g.Events[i]
		date := ""
		if !ev.Date.IsPlaceholder() {
			date = ev.Date.Value
		}
		for fi, f := range ev.Facts {
			row := ClaimRow{
				ID:           fmt.Sprintf("%s#%02d", ev.EventID, fi+1),
				EventID:      ev.EventID,
				Date:         date,
				ClaimType:    classifyFact(f, ev.EventType),
				Assertion:    f.Text,
				SupportScore: supportScore(ev, f),
				Citations:    []string{},
				Flags:        []string{},
			}
			if f.CitationID != nil {
				row.Citations = append(row.Citations, *f.CitationID)
			}
			if f.Kind == common.FactKindPastMedicalHistory || priorHistoryPattern.MatchString(f.Text) {
				row.Flags = append(row.Flags, FlagPriorHistoryOverlap)
			}
			rows = append(rows, row)
		}
	}

	rows = append(rows, gapRows(g.Events, cfg.GapThresholdDays)...)
	SortRows(rows)
	return rows
}

func classifyFact(f common.Fact, eventType common.EventType) ClaimType {
	if preExistingPattern.MatchString(f.Text) {
		return ClaimPreExistingMention
	}
	switch f.Kind {
	case common.FactKindPastMedicalHistory:
		return ClaimPreExistingMention
	case common.FactKindImagingImpression:
		return ClaimImagingFinding
	case common.FactKindFinding:
		if eventType == common.EventTypeImaging {
			return ClaimImagingFinding
		}
		return ClaimSymptom
	case common.FactKindSymptom, common.FactKindChiefComplaint:
		return ClaimSymptom
	case common.FactKindDiagnosis:
		return ClaimDiagnosis
	case common.FactKindMedication, common.FactKindPlan:
		return ClaimTreatment
	case common.FactKindProcedureDetail:
		return ClaimProcedure
	case common.FactKindDisposition:
		return ClaimDisposition
	}
	switch eventType {
	case common.EventTypeImaging:
		return ClaimImagingFinding
	case common.EventTypeProcedure:
		return ClaimProcedure
	case common.EventTypeTherapy, common.EventTypePharmacy:
		return ClaimTreatment
	}
	return ClaimOther
}

// supportScore derives a 0-1 score from the event confidence, lowered for
// uncited facts and undated events and raised slightly for verbatim quotes.
func supportScore(ev *common.Event, f common.Fact) float64 {
	score := float64(ev.Confidence) / 100
	if f.CitationID == nil {
		score *= 0.5
	}
	if f.Verbatim {
		score += 0.05
	}
	if ev.Date.IsPlaceholder() {
		score -= 0.1
	}
	return round2(math.Max(0, math.Min(1, score)))
}

func gapRows(events []common.Event, thresholdDays int) []ClaimRow {
	type dated struct {
		ev    *common.Event
		start time.Time
		end   time.Time
	}
	var timeline []dated
	for i := range events {
		ev := &events[i]
		if ev.Date.IsPlaceholder() {
			continue
		}
		start, ok := parseISO(ev.Date.Value)
		if !ok {
			continue
		}
		end := start
		if e, ok := parseISO(ev.Date.End); ok && e.After(start) {
			end = e
		}
		timeline = append(timeline, dated{ev: ev, start: start, end: end})
	}
	sort.SliceStable(timeline, func(i, j int) bool {
		if !timeline[i].start.Equal(timeline[j].start) {
			return timeline[i].start.Before(timeline[j].start)
		}
		return timeline[i].ev.EventID < timeline[j].ev.EventID
	})

	var rows []ClaimRow
	var last *dated
	for i := range timeline {
		cur := &timeline[i]
		if last != nil {
			days := daysBetween(last.end, cur.start)
			if days > thresholdDays {
				rows = append(rows, ClaimRow{
					ID:        cur.ev.EventID + "#gap",
					EventID:   cur.ev.EventID,
					Date:      cur.ev.Date.Value,
					ClaimType: ClaimGapInCare,
					Assertion: fmt.Sprintf("No documented care for %d days between %s and %s",
						days, last.end.Format(isoDate), cur.start.Format(isoDate)),
					SupportScore: round2(float64(min(last.ev.Confidence, cur.ev.Confidence)) / 100),
					Citations:    gapCitations(last.ev, cur.ev),
					Flags:        []string{},
				})
			}
		}
		if last == nil || cur.end.After(last.end) {
			last = cur
		}
	}
	return rows
}

// gapCitations cites the last evidence before and the first evidence after
// the gap.
func gapCitations(before, after *common.Event) []string {
	out := []string{}
	if n := len(before.CitationIDs); n > 0 {
		out = append(out, before.CitationIDs[n-1])
	}
	if len(after.CitationIDs) > 0 && (len(out) == 0 || out[0] != after.CitationIDs[0]) {
		out = append(out, after.CitationIDs[0])
	}
	return out
}

// SortRows orders rows by date with undated rows last, then by id.
func SortRows(rows []ClaimRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if (a.Date == "") != (b.Date == "") {
			return b.Date == ""
		}
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		return a.ID < b.ID
	})
}

const isoDate = "2006-01-02"

// parseISO accepts ISO dates and, for rows coming from outside the graph,
// anything the clinical date parser understands.
func parseISO(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(isoDate, s); err == nil {
		return t, true
	}
	norm, ok := graph.ParseClinicalDate(s)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(isoDate, norm)
	return t, err == nil
}

func daysBetween(a, b time.Time) int {
	d := b.Sub(a).Hours() / 24
	return int(math.Round(math.Abs(d)))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
