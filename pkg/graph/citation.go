package graph

import (
	"strings"

	"github.com/OFFIS-RIT/chronicle/pkg/common"
)

// citationTable indexes the citations created during one assembly so that
// facts quoting the same evidence share a single citation.
type citationTable struct {
	byID map[string]common.Citation
}

func newCitationTable() *citationTable {
	return &citationTable{byID: make(map[string]common.Citation)}
}

// link returns the citation id for an atom's evidence on page, creating the
// citation on first use. It returns nil when the atom carries no attributable
// text or its page is unknown; the caller flags the event in that case.
func (t *citationTable) link(atom *Atom, page *common.Page) *string {
	if page == nil {
		return nil
	}
	snippet := strings.TrimSpace(atom.ExtractedFields.Snippet)
	if snippet == "" {
		snippet = strings.TrimSpace(atom.RawText)
	}
	if snippet == "" {
		return nil
	}

	var bbox *common.BBox
	if atom.ExtractedFields.BBox != nil {
		b := *atom.ExtractedFields.BBox
		bbox = &b
	}

	id := CitationID(page.SourceDocumentID, page.PageNumber, snippet, bbox)
	if _, ok := t.byID[id]; !ok {
		t.byID[id] = common.Citation{
			CitationID:       id,
			SourceDocumentID: page.SourceDocumentID,
			PageNumber:       page.PageNumber,
			Snippet:          snippet,
			BBox:             bbox,
		}
	}
	return &id
}

func (t *citationTable) citations() []common.Citation {
	out := make([]common.Citation, 0, len(t.byID))
	for _, c := range t.byID {
		out = append(out, c)
	}
	sortCitations(out)
	return out
}

// rollUpCitations collects the distinct citation ids of facts in order of
// first appearance.
func rollUpCitations(facts []common.Fact) []string {
	seen := make(map[string]struct{}, len(facts))
	ids := make([]string, 0, len(facts))
	for _, f := range facts {
		if f.CitationID == nil {
			continue
		}
		if _, ok := seen[*f.CitationID]; ok {
			continue
		}
		seen[*f.CitationID] = struct{}{}
		ids = append(ids, *f.CitationID)
	}
	return ids
}
