package graph

import (
	"strconv"
	"strings"

	"github.com/OFFIS-RIT/chronicle/pkg/common"

	"github.com/google/uuid"
)

// Namespaces for name-based (v5) ids. Changing any of them changes every id
// ever produced and therefore every regression baseline.
var (
	providerNamespace = uuid.MustParse("6f1c2a52-3b8e-5d7a-9c41-0e2b7f6d1a01")
	eventNamespace    = uuid.MustParse("6f1c2a52-3b8e-5d7a-9c41-0e2b7f6d1a02")
	citationNamespace = uuid.MustParse("6f1c2a52-3b8e-5d7a-9c41-0e2b7f6d1a03")
)

const idSep = "\x1f"

// ProviderID derives the provider id from a normalized name.
func ProviderID(normalizedName string) string {
	return "prov_" + uuid.NewSHA1(providerNamespace, []byte(normalizedName)).String()
}

// EventID derives the event id from the upstream clustering key.
func EventID(eventKey string) string {
	return "evt_" + uuid.NewSHA1(eventNamespace, []byte(eventKey)).String()
}

// CitationID derives a citation id from everything that makes a citation
// distinct: document, page, quoted snippet and highlight box.
func CitationID(documentID string, pageNumber int, snippet string, bbox *common.BBox) string {
	parts := []string{documentID, strconv.Itoa(pageNumber), snippet}
	if bbox != nil {
		parts = append(parts,
			strconv.FormatFloat(bbox.X, 'g', -1, 64),
			strconv.FormatFloat(bbox.Y, 'g', -1, 64),
			strconv.FormatFloat(bbox.W, 'g', -1, 64),
			strconv.FormatFloat(bbox.H, 'g', -1, 64),
		)
	}
	return "cit_" + uuid.NewSHA1(citationNamespace, []byte(strings.Join(parts, idSep))).String()
}
