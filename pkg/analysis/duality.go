package analysis

import (
	"fmt"
	"sort"
	"strings"
)

// NarrativePoint is one citation-traceable argument built from a claim row.
type NarrativePoint struct {
	RowID        string  `json:"row_id"`
	Citation     *string `json:"citation"`
	SupportScore float64 `json:"support_score"`
	Rationale    string  `json:"rationale"`
}

type Narrative struct {
	Points []NarrativePoint `json:"points"`
}

// NarrativeDuality holds the two opposing framings of the same rows.
type NarrativeDuality struct {
	Plaintiff Narrative `json:"plaintiff_narrative"`
	Defense   Narrative `json:"defense_narrative"`
}

// BuildNarrative classifies every row independently for each side. A row can
// land in neither, one or both narratives; it appears at most once per side
// with all reasons joined in its rationale. Conflicts are used as a cross
// reference for the defense.
func BuildNarrative(rows []ClaimRow, conflicts []Conflict, cfg Config) NarrativeDuality {
	ordered := make([]ClaimRow, len(rows))
	copy(ordered, rows)
	SortRows(ordered)

	conflictRefs := make(map[string][]string)
	for _, c := range conflicts {
		a, b := c.PairIDs[0], c.PairIDs[1]
		conflictRefs[a] = append(conflictRefs[a], fmt.Sprintf("%s contradiction with %s", c.Category, b))
		conflictRefs[b] = append(conflictRefs[b], fmt.Sprintf("%s contradiction with %s", c.Category, a))
	}

	escalations := escalatingSymptoms(ordered)

	out := NarrativeDuality{
		Plaintiff: Narrative{Points: []NarrativePoint{}},
		Defense:   Narrative{Points: []NarrativePoint{}},
	}
	for i := range ordered {
		r := &ordered[i]

		var pro []string
		if r.ClaimType == ClaimImagingFinding && r.SupportScore >= cfg.StrongSupport {
			pro = append(pro, fmt.Sprintf("imaging finding with strong support (%.2f)", r.SupportScore))
		}
		if r.ClaimType == ClaimGapInCare {
			pro = append(pro, "documented gap in care")
		}
		if reason, ok := escalations[r.ID]; ok {
			pro = append(pro, reason)
		}

		var con []string
		if r.ClaimType == ClaimPreExistingMention {
			con = append(con, "pre-existing condition mentioned")
		}
		if r.SupportScore < cfg.LowSupport {
			con = append(con, fmt.Sprintf("low support score (%.2f)", r.SupportScore))
		}
		if r.HasFlag(FlagPriorHistoryOverlap) {
			con = append(con, "overlaps with prior history")
		}
		if refs := conflictRefs[r.ID]; len(refs) > 0 {
			sort.Strings(refs)
			con = append(con, refs...)
		}

		if len(pro) > 0 {
			out.Plaintiff.Points = append(out.Plaintiff.Points, point(r, pro))
		}
		if len(con) > 0 {
			out.Defense.Points = append(out.Defense.Points, point(r, con))
		}
	}
	return out
}

func point(r *ClaimRow, reasons []string) NarrativePoint {
	return NarrativePoint{
		RowID:        r.ID,
		Citation:     r.Citation(),
		SupportScore: r.SupportScore,
		Rationale:    strings.Join(reasons, "; "),
	}
}

// escalatingSymptoms finds dated symptom rows whose pain rating is higher
// than the previous rated symptom row. rows must be sorted.
func escalatingSymptoms(rows []ClaimRow) map[string]string {
	out := make(map[string]string)
	havePrev := false
	prev := 0.0
	for i := range rows {
		r := &rows[i]
		if r.ClaimType != ClaimSymptom || r.Date == "" {
			continue
		}
		v, ok := PainRating(r.Assertion)
		if !ok {
			continue
		}
		if havePrev && v > prev {
			out[r.ID] = fmt.Sprintf("pain severity escalated from %s to %s", formatRating(prev), formatRating(v))
		}
		prev, havePrev = v, true
	}
	return out
}
