package common

import (
	"encoding/json"
	"sort"
)

// SchemaVersion is the version written into every serialized EvidenceGraph.
// Removing or renaming a top-level field requires bumping it; adding a new
// Extensions key never does.
const SchemaVersion = "1.0"

// EvidenceGraph is the aggregate root produced for a single run. It captures
// the pages a chronology was built from, the providers and clinical events
// found on them, and the citations tying every fact back to its page.
//
// A graph contains:
//   - Pages: the source pages, referenced but never mutated
//   - Providers: deduplicated clinical actors
//   - Events: clinical encounters with their ordered facts
//   - Citations: pointers from facts to page evidence
//   - Extensions: additive payloads written by analyzers
type EvidenceGraph struct {
	SchemaVersion string     `json:"schema_version"`
	Pages         []Page     `json:"pages"`
	Providers     []Provider `json:"providers"`
	Events        []Event    `json:"events"`
	Citations     []Citation `json:"citations"`
	Extensions    Extensions `json:"extensions"`
}

// Page is one source page of a document. Pages are created during ingestion
// and are read-only for the graph engine.
type Page struct {
	PageID           string     `json:"page_id" validate:"required"`
	SourceDocumentID string     `json:"source_document_id" validate:"required"`
	PageNumber       int        `json:"page_number" validate:"min=1"`
	Text             string     `json:"text"`
	TextOrigin       TextOrigin `json:"text_origin"`
	PageType         PageType   `json:"page_type"`
}

// BBox is the highlight rectangle of a citation snippet on its page.
type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Citation points from a claim to the page evidence supporting it. Many facts
// may share one citation.
type Citation struct {
	CitationID       string `json:"citation_id"`
	SourceDocumentID string `json:"source_document_id"`
	PageNumber       int    `json:"page_number"`
	Snippet          string `json:"snippet"`
	BBox             *BBox  `json:"bbox"`
}

// Provider is a clinical actor such as a physician or a facility. Its ID is a
// pure function of NormalizedName.
type Provider struct {
	ProviderID      string       `json:"provider_id"`
	DetectedNameRaw string       `json:"detected_name_raw"`
	NormalizedName  string       `json:"normalized_name"`
	ProviderType    ProviderType `json:"provider_type"`
	Confidence      int          `json:"confidence"`
}

// Fact is an atomic clinical assertion. CitationID is nil only when the owning
// event carries a missing-citation flag.
type Fact struct {
	Text       string   `json:"text"`
	Kind       FactKind `json:"kind"`
	Verbatim   bool     `json:"verbatim"`
	CitationID *string  `json:"citation_id"`
}

// EventDate is the single date chosen for an event out of its candidates.
type EventDate struct {
	Kind   DateKind   `json:"kind"`
	Value  string     `json:"value"`
	End    string     `json:"end,omitempty"`
	Source DateSource `json:"source"`
}

// IsPlaceholder reports whether the date stands in for a missing one.
func (d EventDate) IsPlaceholder() bool {
	return d.Value == "" || d.Source == DateSourceNone
}

// Event is a clinical encounter assembled from the atoms sharing one
// upstream event key.
type Event struct {
	EventID           string     `json:"event_id"`
	ProviderID        *string    `json:"provider_id"`
	EventType         EventType  `json:"event_type"`
	Date              EventDate  `json:"date"`
	Facts             []Fact     `json:"facts"`
	Confidence        int        `json:"confidence"`
	CitationIDs       []string   `json:"citation_ids"`
	SourcePageNumbers []int      `json:"source_page_numbers"`
	Flags             []string   `json:"flags"`
	Extensions        Extensions `json:"extensions"`
}

// HasFlag reports whether the event carries the given flag.
func (e *Event) HasFlag(flag string) bool {
	for _, f := range e.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Extensions is the additive metadata namespace of graphs and events. Values
// are opaque JSON so new analyzers can write here without a schema migration.
// encoding/json emits map keys sorted, which keeps serialization stable.
type Extensions map[string]json.RawMessage

// Set marshals value and stores it under key.
func (x Extensions) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	x[key] = raw
	return nil
}

// Get unmarshals the value stored under key into out. It reports false when
// the key is absent.
func (x Extensions) Get(key string, out any) (bool, error) {
	raw, ok := x[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}

// Keys returns the extension keys in sorted order.
func (x Extensions) Keys() []string {
	keys := make([]string, 0, len(x))
	for k := range x {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
