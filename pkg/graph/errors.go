package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrIntegrityViolation = errors.New("graph integrity violation")
	ErrInvalidInput       = errors.New("invalid build input")
	ErrUnsupportedSchema  = errors.New("unsupported schema version")
)

// Invariant names reported in violations.
const (
	InvariantCitationPage     = "citation_page_exists"
	InvariantEventEvidence    = "event_citation_or_flag"
	InvariantProviderIdentity = "provider_identity"
	InvariantFactCitation     = "fact_citation_resolves"
	InvariantEventProvider    = "event_provider_resolves"
	InvariantUniqueID         = "unique_id"
	InvariantSchemaVersion    = "schema_version"
)

// Violation is a single broken graph invariant together with the ids of the
// entities involved.
type Violation struct {
	Invariant string   `json:"invariant"`
	EntityIDs []string `json:"entity_ids"`
	Message   string   `json:"message"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s [%s]: %s", v.Invariant, strings.Join(v.EntityIDs, ","), v.Message)
}

// IntegrityError is returned when an assembled graph fails validation. The
// graph is never handed out alongside it.
type IntegrityError struct {
	Violations []Violation
}

func (e *IntegrityError) Error() string {
	if len(e.Violations) == 1 {
		return fmt.Sprintf("graph integrity violation: %s", e.Violations[0])
	}
	return fmt.Sprintf("graph integrity violation: %d violations, first: %s", len(e.Violations), e.Violations[0])
}

func (e *IntegrityError) Unwrap() error {
	return ErrIntegrityViolation
}

// ViolationsOf extracts the violation list from err, if it carries one.
func ViolationsOf(err error) []Violation {
	var ie *IntegrityError
	if errors.As(err, &ie) {
		return ie.Violations
	}
	return nil
}
