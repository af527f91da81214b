package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/OFFIS-RIT/chronicle/pkg/common"
)

// Marshal serializes a graph in its canonical form. Field order is fixed by
// the struct definitions, extension keys are emitted sorted and nil
// collections are written as empty ones, so Marshal(Parse(Marshal(g))) is
// byte-identical to Marshal(g).
func Marshal(g *common.EvidenceGraph) ([]byte, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: graph is nil", ErrInvalidInput)
	}
	c := normalized(g)
	return json.Marshal(&c)
}

// MarshalIndent is Marshal with indentation, used for artifacts meant to be
// read by people. It is just as stable as Marshal.
func MarshalIndent(g *common.EvidenceGraph) ([]byte, error) {
	data, err := Marshal(g)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Parse decodes a serialized graph. Graphs whose major schema version differs
// from SchemaVersion are rejected with ErrUnsupportedSchema. Unknown enum
// values decode to their other/unknown case and unknown top-level fields are
// ignored.
func Parse(data []byte) (*common.EvidenceGraph, error) {
	var g common.EvidenceGraph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !supportedSchema(g.SchemaVersion) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSchema, g.SchemaVersion)
	}
	n := normalized(&g)
	return &n, nil
}

// Canonicalize sorts the collections of a graph that was assembled outside
// of Build into canonical order. Facts keep their order since it carries
// meaning.
func Canonicalize(g *common.EvidenceGraph) {
	sortPages(g.Pages)
	sortProviders(g.Providers)
	sortCitations(g.Citations)
	sortEvents(g.Events)
	for i := range g.Events {
		sort.Strings(g.Events[i].Flags)
		sort.Ints(g.Events[i].SourcePageNumbers)
	}
}

func normalized(g *common.EvidenceGraph) common.EvidenceGraph {
	c := *g
	c.Pages = make([]common.Page, len(g.Pages))
	for i, p := range g.Pages {
		c.Pages[i] = closedPage(p)
	}
	c.Providers = make([]common.Provider, len(g.Providers))
	for i, p := range g.Providers {
		p.ProviderType = common.ParseProviderType(string(p.ProviderType))
		c.Providers[i] = p
	}
	if c.Citations == nil {
		c.Citations = []common.Citation{}
	}
	if c.Extensions == nil {
		c.Extensions = common.Extensions{}
	}
	c.Events = make([]common.Event, len(g.Events))
	for i, ev := range g.Events {
		ev.EventType = common.ParseEventType(string(ev.EventType))
		ev.Date.Kind = common.ParseDateKind(string(ev.Date.Kind))
		ev.Date.Source = common.ParseDateSource(string(ev.Date.Source))
		facts := make([]common.Fact, len(ev.Facts))
		for j, f := range ev.Facts {
			f.Kind = common.ParseFactKind(string(f.Kind))
			facts[j] = f
		}
		ev.Facts = facts
		if ev.CitationIDs == nil {
			ev.CitationIDs = []string{}
		}
		if ev.SourcePageNumbers == nil {
			ev.SourcePageNumbers = []int{}
		}
		if ev.Flags == nil {
			ev.Flags = []string{}
		}
		if ev.Extensions == nil {
			ev.Extensions = common.Extensions{}
		}
		c.Events[i] = ev
	}
	return c
}

// closedPage maps the enum fields of a page onto their closed values, so an
// omitted page_type is written as "other" and parses back unchanged.
func closedPage(p common.Page) common.Page {
	p.TextOrigin = common.ParseTextOrigin(string(p.TextOrigin))
	p.PageType = common.ParsePageType(string(p.PageType))
	return p
}

func sortPages(pages []common.Page) {
	sort.Slice(pages, func(i, j int) bool {
		a, b := pages[i], pages[j]
		if a.SourceDocumentID != b.SourceDocumentID {
			return a.SourceDocumentID < b.SourceDocumentID
		}
		if a.PageNumber != b.PageNumber {
			return a.PageNumber < b.PageNumber
		}
		return a.PageID < b.PageID
	})
}

func sortProviders(providers []common.Provider) {
	sort.Slice(providers, func(i, j int) bool {
		if providers[i].NormalizedName != providers[j].NormalizedName {
			return providers[i].NormalizedName < providers[j].NormalizedName
		}
		return providers[i].ProviderID < providers[j].ProviderID
	})
}

func sortCitations(citations []common.Citation) {
	sort.Slice(citations, func(i, j int) bool {
		a, b := citations[i], citations[j]
		if a.SourceDocumentID != b.SourceDocumentID {
			return a.SourceDocumentID < b.SourceDocumentID
		}
		if a.PageNumber != b.PageNumber {
			return a.PageNumber < b.PageNumber
		}
		return a.CitationID < b.CitationID
	})
}

// sortEvents orders events chronologically with undated events last.
func sortEvents(events []common.Event) {
	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		ap, bp := a.Date.IsPlaceholder(), b.Date.IsPlaceholder()
		if ap != bp {
			return bp
		}
		if a.Date.Value != b.Date.Value {
			return a.Date.Value < b.Date.Value
		}
		return a.EventID < b.EventID
	})
}
