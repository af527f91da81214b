package graph

import (
	"math"
	"sort"
	"strings"

	"github.com/OFFIS-RIT/chronicle/pkg/common"
)

// Event flags set during assembly. Data-quality gaps are recorded here and
// never returned as errors.
const (
	FlagMissingDate        = "MISSING_DATE"
	FlagMissingCitation    = "MISSING_CITATION"
	FlagNoCitations        = "NO_CITATIONS"
	FlagUnknownPage        = "UNKNOWN_PAGE"
	FlagUnresolvedProvider = "UNRESOLVED_PROVIDER"
)

// EvidenceFlags are the flags that allow an event to have no citations.
var EvidenceFlags = []string{FlagMissingCitation, FlagMissingDate, FlagNoCitations}

// Extension keys written by the builder.
const (
	ExtEventClass    = "event_class"
	ExtAtomFields    = "atom_fields"
	ExtSourceAtomIDs = "source_atom_ids"
	ExtBuildSummary  = "build_summary"
)

const defaultAtomConfidence = 50

// BuildSummary is stored in the graph extensions under ExtBuildSummary.
type BuildSummary struct {
	AtomCount          int `json:"atom_count"`
	EventCount         int `json:"event_count"`
	FlaggedEventCount  int `json:"flagged_event_count"`
	UnknownPageAtoms   int `json:"unknown_page_atoms"`
	PlaceholderDates   int `json:"placeholder_dates"`
	ProviderCount      int `json:"provider_count"`
	CitationCount      int `json:"citation_count"`
	UncitedFactsCount  int `json:"uncited_facts_count"`
	UpstreamFlagsCount int `json:"upstream_flags_count"`
}

// Build validates the input, assembles the graph and runs the validator over
// it. The graph is returned only if it has no violations; otherwise the
// error is an *IntegrityError listing all of them.
func Build(in *BuildInput) (*common.EvidenceGraph, error) {
	if err := ValidateInput(in); err != nil {
		return nil, err
	}

	g := Assemble(in)
	if violations := Validate(g); len(violations) > 0 {
		return nil, &IntegrityError{Violations: violations}
	}
	return g, nil
}

// Assemble turns a validated input into a graph. It sets the missing-date
// and missing-citation flags proactively so that validation never finds an
// organic gap. Assemble does not validate; use Build for the gated path.
func Assemble(in *BuildInput) *common.EvidenceGraph {
	pages := make([]common.Page, len(in.Pages))
	for i, p := range in.Pages {
		pages[i] = closedPage(p)
	}
	sortPages(pages)

	pageByID := make(map[string]*common.Page, len(pages))
	for i := range pages {
		pageByID[pages[i].PageID] = &pages[i]
	}

	var mentions []ProviderMention
	mentionOwner := make([]int, 0)
	for i := range in.Atoms {
		for _, m := range in.Atoms[i].CandidateProviderMentions {
			mentions = append(mentions, m)
			mentionOwner = append(mentionOwner, i)
		}
	}
	resolution := ResolveProviders(mentions)
	atomProviders := make([][]string, len(in.Atoms))
	for mi, owner := range mentionOwner {
		atomProviders[owner] = append(atomProviders[owner], resolution.MentionProviderIDs[mi])
	}
	normalizedByID := make(map[string]string, len(resolution.Providers))
	for _, p := range resolution.Providers {
		normalizedByID[p.ProviderID] = p.NormalizedName
	}

	groups := make(map[string][]int)
	for i := range in.Atoms {
		key := in.Atoms[i].EventKey
		groups[key] = append(groups[key], i)
	}

	table := newCitationTable()
	summary := BuildSummary{AtomCount: len(in.Atoms)}

	events := make([]common.Event, 0, len(groups))
	for key, idxs := range groups {
		asm := eventAssembler{
			in:             in,
			pageByID:       pageByID,
			atomProviders:  atomProviders,
			normalizedByID: normalizedByID,
			table:          table,
			summary:        &summary,
		}
		events = append(events, asm.assemble(key, idxs))
	}
	sortEvents(events)

	citations := table.citations()

	summary.EventCount = len(events)
	summary.ProviderCount = len(resolution.Providers)
	summary.CitationCount = len(citations)
	for i := range events {
		if hasAnyFlag(&events[i], EvidenceFlags...) || events[i].HasFlag(FlagUnknownPage) {
			summary.FlaggedEventCount++
		}
	}

	g := &common.EvidenceGraph{
		SchemaVersion: common.SchemaVersion,
		Pages:         pages,
		Providers:     resolution.Providers,
		Events:        events,
		Citations:     citations,
		Extensions:    common.Extensions{},
	}
	// BuildSummary only holds ints, Set cannot fail
	_ = g.Extensions.Set(ExtBuildSummary, summary)

	return g
}

type eventAssembler struct {
	in             *BuildInput
	pageByID       map[string]*common.Page
	atomProviders  [][]string
	normalizedByID map[string]string
	table          *citationTable
	summary        *BuildSummary
}

func (a *eventAssembler) assemble(key string, idxs []int) common.Event {
	sort.Slice(idxs, func(i, j int) bool {
		pi, pj := a.pageNumber(idxs[i]), a.pageNumber(idxs[j])
		if pi != pj {
			return pi < pj
		}
		return a.in.Atoms[idxs[i]].AtomID < a.in.Atoms[idxs[j]].AtomID
	})

	ev := common.Event{
		EventID:    EventID(key),
		Facts:      make([]common.Fact, 0, len(idxs)),
		Extensions: common.Extensions{},
	}

	flags := make(map[string]struct{})
	eventTypes := make(map[string]int)
	eventClasses := make(map[string]int)
	providerCounts := make(map[string]int)
	pageNumbers := make(map[int]struct{})
	atomIDs := make([]string, 0, len(idxs))
	atomFields := make(map[string]map[string]any)
	var dates []CandidateDate
	confSum, confN := 0, 0

	for _, i := range idxs {
		atom := &a.in.Atoms[i]
		fields := atom.ExtractedFields
		atomIDs = append(atomIDs, atom.AtomID)

		page := a.pageByID[atom.PageID]
		if page == nil {
			flags[FlagUnknownPage] = struct{}{}
			a.summary.UnknownPageAtoms++
		} else {
			pageNumbers[page.PageNumber] = struct{}{}
		}

		if t := strings.TrimSpace(fields.EventType); t != "" {
			eventTypes[string(common.ParseEventType(t))]++
		}
		if c := strings.TrimSpace(fields.EventClass); c != "" {
			eventClasses[c]++
		}
		for _, pid := range a.atomProviders[i] {
			providerCounts[pid]++
		}
		for _, f := range fields.Flags {
			if f = strings.ToUpper(strings.TrimSpace(f)); f != "" {
				flags[f] = struct{}{}
				a.summary.UpstreamFlagsCount++
			}
		}
		if fields.Confidence != nil {
			confSum += *fields.Confidence
			confN++
		}
		if len(fields.Additional) > 0 {
			extra := make(map[string]any, len(fields.Additional))
			for k, v := range fields.Additional {
				extra[k] = v
			}
			atomFields[atom.AtomID] = extra
		}
		dates = append(dates, atom.CandidateDates...)

		text := strings.TrimSpace(atom.RawText)
		if text == "" {
			text = strings.TrimSpace(fields.Snippet)
		}
		if text == "" {
			continue
		}

		citationID := a.table.link(atom, page)
		if citationID == nil {
			flags[FlagMissingCitation] = struct{}{}
			a.summary.UncitedFactsCount++
		}
		ev.Facts = append(ev.Facts, common.Fact{
			Text:       text,
			Kind:       common.ParseFactKind(fields.FactKind),
			Verbatim:   fields.Verbatim,
			CitationID: citationID,
		})
	}

	ev.EventType = common.EventTypeOther
	if t := mostFrequent(eventTypes); t != "" {
		ev.EventType = common.EventType(t)
	}

	if pid := a.pickProvider(providerCounts); pid != "" {
		ev.ProviderID = &pid
	} else {
		flags[FlagUnresolvedProvider] = struct{}{}
	}

	date, ok := ResolveDate(dates)
	if !ok {
		flags[FlagMissingDate] = struct{}{}
		a.summary.PlaceholderDates++
	}
	ev.Date = date

	ev.Confidence = defaultAtomConfidence
	if confN > 0 {
		ev.Confidence = int(math.Round(float64(confSum) / float64(confN)))
	}

	ev.CitationIDs = rollUpCitations(ev.Facts)
	if len(ev.CitationIDs) == 0 {
		flags[FlagNoCitations] = struct{}{}
	}

	ev.SourcePageNumbers = make([]int, 0, len(pageNumbers))
	for n := range pageNumbers {
		ev.SourcePageNumbers = append(ev.SourcePageNumbers, n)
	}
	sort.Ints(ev.SourcePageNumbers)

	ev.Flags = make([]string, 0, len(flags))
	for f := range flags {
		ev.Flags = append(ev.Flags, f)
	}
	sort.Strings(ev.Flags)

	if c := mostFrequent(eventClasses); c != "" {
		_ = ev.Extensions.Set(ExtEventClass, c)
	}
	_ = ev.Extensions.Set(ExtSourceAtomIDs, atomIDs)
	if len(atomFields) > 0 {
		_ = ev.Extensions.Set(ExtAtomFields, atomFields)
	}

	return ev
}

func (a *eventAssembler) pageNumber(atomIdx int) int {
	if p := a.pageByID[a.in.Atoms[atomIdx].PageID]; p != nil {
		return p.PageNumber
	}
	return math.MaxInt
}

// pickProvider chooses the most mentioned provider of an event, preferring a
// named provider over the unknown placeholder. Ties go to the smaller
// normalized name.
func (a *eventAssembler) pickProvider(counts map[string]int) string {
	unknownID := ProviderID(UnknownProviderName)
	best, bestName, bestCount := "", "", -1
	for id, c := range counts {
		if id == unknownID {
			continue
		}
		name := a.normalizedByID[id]
		if c > bestCount || (c == bestCount && name < bestName) {
			best, bestName, bestCount = id, name, c
		}
	}
	if best == "" && counts[unknownID] > 0 {
		return unknownID
	}
	return best
}

func hasAnyFlag(ev *common.Event, flags ...string) bool {
	for _, f := range flags {
		if ev.HasFlag(f) {
			return true
		}
	}
	return false
}
