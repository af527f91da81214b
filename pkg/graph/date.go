package graph

import (
	"sort"
	"strings"
	"time"

	"github.com/OFFIS-RIT/chronicle/pkg/common"

	"github.com/araddon/dateparse"
)

const isoDate = "2006-01-02"

// Dates outside this range are treated as OCR noise rather than evidence.
const (
	minPlausibleYear = 1900
	maxPlausibleYear = 2100
)

// PlaceholderDate is assigned to events without a usable candidate date.
var PlaceholderDate = common.EventDate{
	Kind:   common.DateKindUnknown,
	Value:  "",
	Source: common.DateSourceNone,
}

type rankedDate struct {
	date       common.EventDate
	rank       int
	confidence int
}

// ResolveDate picks exactly one date out of an event's candidates. The
// highest source tier wins, then the highest attesting confidence, then the
// earliest date. It reports false, together with PlaceholderDate, when no
// candidate parses to a plausible calendar date.
func ResolveDate(candidates []CandidateDate) (common.EventDate, bool) {
	ranked := make([]rankedDate, 0, len(candidates))
	for _, c := range candidates {
		d, ok := normalizeCandidate(c)
		if !ok {
			continue
		}
		ranked = append(ranked, rankedDate{
			date:       d,
			rank:       d.Source.Rank(),
			confidence: c.Confidence,
		})
	}
	if len(ranked) == 0 {
		return PlaceholderDate, false
	}

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.rank != b.rank {
			return a.rank > b.rank
		}
		if a.confidence != b.confidence {
			return a.confidence > b.confidence
		}
		if a.date.Value != b.date.Value {
			return a.date.Value < b.date.Value
		}
		if a.date.End != b.date.End {
			return a.date.End < b.date.End
		}
		return a.date.Kind < b.date.Kind
	})

	return ranked[0].date, true
}

func normalizeCandidate(c CandidateDate) (common.EventDate, bool) {
	start, ok := ParseClinicalDate(c.Value)
	if !ok {
		return common.EventDate{}, false
	}

	source := common.ParseDateSource(c.Source)
	if source == common.DateSourceNone {
		return common.EventDate{}, false
	}

	d := common.EventDate{
		Kind:   common.DateKindSingle,
		Value:  start,
		Source: source,
	}

	kind := common.ParseDateKind(c.Kind)
	if end, ok := ParseClinicalDate(c.End); ok && end != start {
		if end < start {
			start, end = end, start
			d.Value = start
		}
		d.Kind = common.DateKindRange
		d.End = end
	} else if kind == common.DateKindOpenRange {
		d.Kind = common.DateKindOpenRange
	}
	return d, true
}

// ParseClinicalDate parses a raw date string as found in medical records and
// returns it as an ISO calendar date. Month-first is assumed for ambiguous
// numeric dates.
func ParseClinicalDate(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	t, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil {
		return "", false
	}
	if t.Year() < minPlausibleYear || t.Year() > maxPlausibleYear {
		return "", false
	}
	return t.Format(isoDate), true
}
