package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/OFFIS-RIT/chronicle/pkg/common"
)

// Validate checks every graph invariant and returns all violations found. An
// empty result is the only state allowed into persistence. Validate never
// modifies the graph and can be run standalone on any parsed graph.
func Validate(g *common.EvidenceGraph) []Violation {
	if g == nil {
		return []Violation{{
			Invariant: InvariantSchemaVersion,
			EntityIDs: []string{},
			Message:   "graph is nil",
		}}
	}

	var out []Violation
	add := func(invariant, msg string, ids ...string) {
		out = append(out, Violation{Invariant: invariant, EntityIDs: ids, Message: msg})
	}

	if !supportedSchema(g.SchemaVersion) {
		add(InvariantSchemaVersion, fmt.Sprintf("schema version %q is not supported, want %s", g.SchemaVersion, common.SchemaVersion))
	}

	pageNumbers := make(map[string]map[int]struct{})
	allPageNumbers := make(map[int]struct{})
	seenPages := make(map[string]struct{}, len(g.Pages))
	for _, p := range g.Pages {
		if _, dup := seenPages[p.PageID]; dup {
			add(InvariantUniqueID, "duplicate page id", p.PageID)
		}
		seenPages[p.PageID] = struct{}{}
		if pageNumbers[p.SourceDocumentID] == nil {
			pageNumbers[p.SourceDocumentID] = make(map[int]struct{})
		}
		pageNumbers[p.SourceDocumentID][p.PageNumber] = struct{}{}
		allPageNumbers[p.PageNumber] = struct{}{}
	}

	citations := make(map[string]struct{}, len(g.Citations))
	for _, c := range g.Citations {
		if _, dup := citations[c.CitationID]; dup {
			add(InvariantUniqueID, "duplicate citation id", c.CitationID)
		}
		citations[c.CitationID] = struct{}{}

		if _, ok := allPageNumbers[c.PageNumber]; !ok {
			add(InvariantCitationPage, fmt.Sprintf("page %d does not exist", c.PageNumber), c.CitationID)
			continue
		}
		docPages, ok := pageNumbers[c.SourceDocumentID]
		if !ok {
			add(InvariantCitationPage, fmt.Sprintf("document %q has no pages", c.SourceDocumentID), c.CitationID)
			continue
		}
		if _, ok := docPages[c.PageNumber]; !ok {
			add(InvariantCitationPage, fmt.Sprintf("page %d does not exist in document %q", c.PageNumber, c.SourceDocumentID), c.CitationID)
		}
	}

	providers := make(map[string]struct{}, len(g.Providers))
	byName := make(map[string]string, len(g.Providers))
	for _, p := range g.Providers {
		if _, dup := providers[p.ProviderID]; dup {
			add(InvariantUniqueID, "duplicate provider id", p.ProviderID)
		}
		providers[p.ProviderID] = struct{}{}

		if want := ProviderID(p.NormalizedName); p.ProviderID != want {
			add(InvariantProviderIdentity, fmt.Sprintf("provider id does not derive from normalized name %q", p.NormalizedName), p.ProviderID)
		}
		if other, dup := byName[p.NormalizedName]; dup && other != p.ProviderID {
			add(InvariantProviderIdentity, fmt.Sprintf("normalized name %q maps to more than one provider", p.NormalizedName), other, p.ProviderID)
		}
		byName[p.NormalizedName] = p.ProviderID
	}

	events := make(map[string]struct{}, len(g.Events))
	for i := range g.Events {
		ev := &g.Events[i]
		if _, dup := events[ev.EventID]; dup {
			add(InvariantUniqueID, "duplicate event id", ev.EventID)
		}
		events[ev.EventID] = struct{}{}

		if len(ev.CitationIDs) == 0 && !hasAnyFlag(ev, EvidenceFlags...) {
			add(InvariantEventEvidence, fmt.Sprintf("event has no citations and none of %s", strings.Join(EvidenceFlags, ", ")), ev.EventID)
		}

		if ev.ProviderID != nil {
			if _, ok := providers[*ev.ProviderID]; !ok {
				add(InvariantEventProvider, "event references unknown provider", ev.EventID, *ev.ProviderID)
			}
		}

		for _, cid := range ev.CitationIDs {
			if _, ok := citations[cid]; !ok {
				add(InvariantFactCitation, "event references unknown citation", ev.EventID, cid)
			}
		}

		for fi, f := range ev.Facts {
			if f.CitationID == nil {
				if !ev.HasFlag(FlagMissingCitation) {
					add(InvariantFactCitation, fmt.Sprintf("fact %d has no citation and event lacks %s", fi, FlagMissingCitation), ev.EventID)
				}
				continue
			}
			if _, ok := citations[*f.CitationID]; !ok {
				add(InvariantFactCitation, fmt.Sprintf("fact %d references unknown citation", fi), ev.EventID, *f.CitationID)
			}
		}
	}

	sortViolations(out)
	return out
}

// supportedSchema accepts any version sharing the major component of
// SchemaVersion. Minor bumps only ever add fields.
func supportedSchema(v string) bool {
	return majorOf(v) != "" && majorOf(v) == majorOf(common.SchemaVersion)
}

func majorOf(v string) string {
	major, _, _ := strings.Cut(strings.TrimSpace(v), ".")
	return major
}

func sortViolations(vs []Violation) {
	for i := range vs {
		if vs[i].EntityIDs == nil {
			vs[i].EntityIDs = []string{}
		}
	}
	sort.SliceStable(vs, func(i, j int) bool {
		if vs[i].Invariant != vs[j].Invariant {
			return vs[i].Invariant < vs[j].Invariant
		}
		a, b := strings.Join(vs[i].EntityIDs, ","), strings.Join(vs[j].EntityIDs, ",")
		if a != b {
			return a < b
		}
		return vs[i].Message < vs[j].Message
	})
}
