package analysis

import (
	"sort"
	"time"
)

// Conflict categories emitted by the built-in detectors.
const (
	CategoryLaterality      = "laterality"
	CategoryPainSeverity    = "pain_severity"
	CategorySymptomNegation = "symptom_negation"
)

// Conflict is one materialized contradiction between two claim rows. The
// earlier row comes first in PairIDs and Dates.
type Conflict struct {
	PairIDs    [2]string `json:"pair_ids"`
	Category   string    `json:"category"`
	Dates      [2]string `json:"dates"`
	WindowDays int       `json:"window_days"`
	Evidence   Evidence  `json:"evidence"`
}

// Evidence describes what a detector extracted from both rows.
type Evidence struct {
	Feature   string       `json:"feature"`
	Left      EvidenceSide `json:"left"`
	Right     EvidenceSide `json:"right"`
	DaysApart int          `json:"days_apart"`
	Delta     *float64     `json:"delta,omitempty"`
}

// EvidenceSide is the extracted value of one row together with its support.
type EvidenceSide struct {
	RowID     string   `json:"row_id"`
	Value     string   `json:"value"`
	Assertion string   `json:"assertion"`
	Citations []string `json:"citations"`
}

// Detector extracts a comparable feature from two rows and reports a conflict
// when the features disagree. Detectors never fail: text they cannot read is
// skipped.
type Detector interface {
	Category() string
	Detect(a, b *ClaimRow) (Finding, bool)
}

// Finding is what a detector reports for a conflicting pair.
type Finding struct {
	Feature    string
	LeftValue  string
	RightValue string
	Delta      *float64
}

// ContradictionMatrix compares claim rows pairwise within a time window and
// materializes only the pairs that conflict.
type ContradictionMatrix struct {
	detectors []Detector
}

// NewContradictionMatrix returns a matrix with the laterality, pain severity
// and symptom negation detectors. Extra detectors run after them.
func NewContradictionMatrix(cfg Config, extra ...Detector) *ContradictionMatrix {
	detectors := []Detector{
		LateralityDetector{},
		PainSeverityDetector{Threshold: cfg.PainDeltaThreshold},
		SymptomNegationDetector{},
	}
	return &ContradictionMatrix{detectors: append(detectors, extra...)}
}

// Build evaluates every unordered pair of comparable rows from different
// events whose dates lie within windowDays of each other. A negative window
// is rejected with ErrInvalidConfig before any comparison. The output is
// sorted by first date, pair ids and category.
func (m *ContradictionMatrix) Build(rows []ClaimRow, windowDays int) ([]Conflict, error) {
	if err := ValidateWindow(windowDays); err != nil {
		return nil, err
	}

	type datedRow struct {
		row  *ClaimRow
		date time.Time
	}
	dated := make([]datedRow, 0, len(rows))
	for i := range rows {
		t, ok := parseISO(rows[i].Date)
		if !ok || family(rows[i].ClaimType) == "" {
			continue
		}
		dated = append(dated, datedRow{row: &rows[i], date: t})
	}
	sort.SliceStable(dated, func(i, j int) bool {
		if !dated[i].date.Equal(dated[j].date) {
			return dated[i].date.Before(dated[j].date)
		}
		return dated[i].row.ID < dated[j].row.ID
	})

	conflicts := []Conflict{}
	for i := 0; i < len(dated); i++ {
		for j := i + 1; j < len(dated); j++ {
			days := daysBetween(dated[i].date, dated[j].date)
			if days > windowDays {
				// dated is sorted, later rows are only further away
				break
			}
			a, b := dated[i].row, dated[j].row
			if a.ID == b.ID || (a.EventID != "" && a.EventID == b.EventID) {
				continue
			}
			if family(a.ClaimType) != family(b.ClaimType) {
				continue
			}
			for _, d := range m.detectors {
				f, ok := d.Detect(a, b)
				if !ok {
					continue
				}
				conflicts = append(conflicts, Conflict{
					PairIDs:    [2]string{a.ID, b.ID},
					Category:   d.Category(),
					Dates:      [2]string{dated[i].date.Format(isoDate), dated[j].date.Format(isoDate)},
					WindowDays: windowDays,
					Evidence: Evidence{
						Feature:   f.Feature,
						Left:      side(a, f.LeftValue),
						Right:     side(b, f.RightValue),
						DaysApart: days,
						Delta:     f.Delta,
					},
				})
			}
		}
	}

	sortConflicts(conflicts)
	return conflicts, nil
}

func side(r *ClaimRow, value string) EvidenceSide {
	citations := r.Citations
	if citations == nil {
		citations = []string{}
	}
	return EvidenceSide{RowID: r.ID, Value: value, Assertion: r.Assertion, Citations: citations}
}

// family groups claim types that can meaningfully be compared. Gap rows have
// no family and are never compared.
func family(t ClaimType) string {
	switch t {
	case ClaimSymptom, ClaimImagingFinding, ClaimDiagnosis, ClaimPreExistingMention:
		return "clinical"
	case ClaimTreatment, ClaimProcedure:
		return "care"
	case ClaimDisposition:
		return "disposition"
	case ClaimOther:
		return "other"
	}
	return ""
}

func sortConflicts(conflicts []Conflict) {
	sort.SliceStable(conflicts, func(i, j int) bool {
		a, b := conflicts[i], conflicts[j]
		if a.Dates[0] != b.Dates[0] {
			return a.Dates[0] < b.Dates[0]
		}
		if a.PairIDs[0] != b.PairIDs[0] {
			return a.PairIDs[0] < b.PairIDs[0]
		}
		if a.PairIDs[1] != b.PairIDs[1] {
			return a.PairIDs[1] < b.PairIDs[1]
		}
		return a.Category < b.Category
	})
}

// CountByCategory tallies conflicts per category.
func CountByCategory(conflicts []Conflict) map[string]int {
	out := make(map[string]int)
	for _, c := range conflicts {
		out[c.Category]++
	}
	return out
}
