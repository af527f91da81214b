package graph

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/chronicle/pkg/common"

	"github.com/go-playground/validator"
)

// BuildInput is everything a single graph construction consumes. All of it is
// materialized in memory by the caller and treated as read-only.
type BuildInput struct {
	Pages []common.Page `json:"pages" validate:"required,dive"`
	Atoms []Atom        `json:"atoms" validate:"dive"`
}

// Atom is a page-anchored fragment produced by the upstream extractor. Atoms
// sharing an EventKey belong to the same clinical encounter.
type Atom struct {
	AtomID                    string            `json:"atom_id" validate:"required"`
	PageID                    string            `json:"page_id" validate:"required"`
	EventKey                  string            `json:"event_key" validate:"required"`
	RawText                   string            `json:"raw_text"`
	ExtractedFields           ExtractedFields   `json:"extracted_fields"`
	CandidateDates            []CandidateDate   `json:"candidate_dates" validate:"dive"`
	CandidateProviderMentions []ProviderMention `json:"candidate_provider_mentions" validate:"dive"`
}

// ExtractedFields are the structured fields the extractor attached to an atom.
// Additional holds extractor-specific payloads that are carried into the
// owning event's extensions untouched.
type ExtractedFields struct {
	EventType  string                     `json:"event_type,omitempty"`
	EventClass string                     `json:"event_class,omitempty"`
	FactKind   string                     `json:"fact_kind,omitempty"`
	Verbatim   bool                       `json:"verbatim,omitempty"`
	Snippet    string                     `json:"snippet,omitempty"`
	BBox       *common.BBox               `json:"bbox,omitempty"`
	Confidence *int                       `json:"confidence,omitempty" validate:"omitempty,min=0,max=100"`
	Flags      []string                   `json:"flags,omitempty"`
	Additional map[string]json.RawMessage `json:"additional,omitempty"`
}

// CandidateDate is one date harvested from an atom. End is only set for
// ranges.
type CandidateDate struct {
	Value      string `json:"value"`
	End        string `json:"end,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Source     string `json:"source,omitempty"`
	Confidence int    `json:"confidence,omitempty" validate:"min=0,max=100"`
}

// ProviderMention is a raw provider name as seen in the text.
type ProviderMention struct {
	Name         string `json:"name"`
	Context      string `json:"context,omitempty"`
	ProviderType string `json:"provider_type,omitempty"`
}

var inputValidator = validator.New()

// ValidateInput checks the structural contract of a build input. It rejects
// inputs that cannot be assembled at all; data-quality gaps such as missing
// dates or unknown pages are not errors and are flagged during assembly.
func ValidateInput(in *BuildInput) error {
	if in == nil {
		return fmt.Errorf("%w: input is nil", ErrInvalidInput)
	}
	if err := inputValidator.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed on %q", ErrInvalidInput, verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	pageIDs := make(map[string]struct{}, len(in.Pages))
	for _, p := range in.Pages {
		if _, dup := pageIDs[p.PageID]; dup {
			return fmt.Errorf("%w: duplicate page_id %q", ErrInvalidInput, p.PageID)
		}
		pageIDs[p.PageID] = struct{}{}
	}
	atomIDs := make(map[string]struct{}, len(in.Atoms))
	for _, a := range in.Atoms {
		if _, dup := atomIDs[a.AtomID]; dup {
			return fmt.Errorf("%w: duplicate atom_id %q", ErrInvalidInput, a.AtomID)
		}
		atomIDs[a.AtomID] = struct{}{}
	}
	return nil
}
